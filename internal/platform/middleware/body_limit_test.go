package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	tests := map[string]int64{
		"1M":      1 << 20,
		"10MB":    10 << 20,
		"512k":    512 << 10,
		"1G":      1 << 30,
		"1024":    1024,
		"":        1 << 20,
		"invalid": 1 << 20,
		"-5K":     1 << 20,
	}
	for in, want := range tests {
		if got := parseLimit(in); got != want {
			t.Errorf("parseLimit(%q) = %d, want %d", in, got, want)
		}
	}
}

func codeOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func runBodyLimit(method, path string, size int, unknownLength bool, mw echo.MiddlewareFunc) (bool, error) {
	req := httptest.NewRequest(method, path, bytes.NewReader(bytes.Repeat([]byte("x"), size)))
	if unknownLength {
		req.ContentLength = -1
	}
	c := echo.New().NewContext(req, httptest.NewRecorder())
	called := false
	err := mw(func(c echo.Context) error {
		called = true
		_, err := io.ReadAll(c.Request().Body)
		return err
	})(c)
	return called, err
}

func TestBodyLimit(t *testing.T) {
	mw := BodyLimit("1K", "8K")

	if called, err := runBodyLimit(http.MethodPost, "/api/v1/patients", 512, false, mw); err != nil || !called {
		t.Errorf("small JSON body: called=%v err=%v", called, err)
	}

	called, err := runBodyLimit(http.MethodPost, "/api/v1/patients", 2048, false, mw)
	if called || codeOf(t, err) != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized JSON body should be rejected before the handler, called=%v", called)
	}

	if called, err := runBodyLimit(http.MethodPost, UploadPath, 4096, false, mw); err != nil || !called {
		t.Errorf("upload under its own limit: called=%v err=%v", called, err)
	}
	if _, err := runBodyLimit(http.MethodPost, UploadPath+"/", 10000, false, mw); codeOf(t, err) != http.StatusRequestEntityTooLarge {
		t.Error("expected oversized upload to be rejected")
	}
	if _, err := runBodyLimit(http.MethodPut, UploadPath, 4096, false, mw); codeOf(t, err) != http.StatusRequestEntityTooLarge {
		t.Error("only POST uploads get the larger limit")
	}
}

func TestBodyLimit_EnforcedWhileReading(t *testing.T) {
	called, err := runBodyLimit(http.MethodPost, "/api/v1/patients", 2048, true, BodyLimit("1K", "8K"))
	if !called {
		t.Fatal("without Content-Length the handler runs and hits the limit while reading")
	}
	if codeOf(t, err) != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 while reading")
	}
}

func TestBodyLimit_SkipsEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	c := echo.New().NewContext(req, httptest.NewRecorder())
	called := false
	h := BodyLimit("1", "1")(func(echo.Context) error {
		called = true
		return nil
	})
	if err := h(c); err != nil || !called {
		t.Errorf("expected pass-through, called=%v err=%v", called, err)
	}
}
