package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func multipartRequest(t *testing.T, fields map[string]string, fileName, contentType string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(content)
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func TestHandler_UploadAndDownload(t *testing.T) {
	svc, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()

	req := multipartRequest(t, map[string]string{
		"patient_id": uuid.NewString(),
		"category":   CategoryImaging,
	}, "xray.png", "image/png", []byte("\x89PNG fake"))
	rec := httptest.NewRecorder()
	if err := h.Upload(e.NewContext(req, rec)); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var d Document
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatal(err)
	}

	rec = httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())
	if err := h.Download(c); err != nil {
		t.Fatal(err)
	}
	if rec.Body.String() != "\x89PNG fake" || rec.Header().Get(echo.HeaderContentType) != "image/png" {
		t.Errorf("unexpected download: %q %q", rec.Body.String(), rec.Header().Get(echo.HeaderContentType))
	}
}

func TestHandler_UploadRejectsType(t *testing.T) {
	svc, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()

	req := multipartRequest(t, map[string]string{"patient_id": uuid.NewString()}, "run.sh", "application/x-sh", []byte("#!/bin/sh"))
	err := h.Upload(e.NewContext(req, httptest.NewRecorder()))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %v", err)
	}
}
