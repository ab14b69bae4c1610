package emr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/auth"
)

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func newRequest(method, body, user string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, user))
	}
	return req
}

func TestHandler_CreateAndSignNote(t *testing.T) {
	h, e := NewHandler(newTestService()), echo.New()
	patient := uuid.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, `{"note_type":"consultation","assessment":"viral URTI"}`, "dr-hana"), rec)
	c.SetParamNames("id")
	c.SetParamValues(patient.String())
	if err := h.CreateNote(c); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	var n ClinicalNote
	_ = json.Unmarshal(rec.Body.Bytes(), &n)
	if n.AuthorID != "dr-hana" || n.PatientID != patient || n.Status != NoteDraft {
		t.Fatalf("unexpected note: %+v", n)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodPost, "", "dr-hana"), rec)
	c.SetParamNames("id")
	c.SetParamValues(n.ID.String())
	if err := h.SignNote(c); err != nil {
		t.Fatalf("SignNote: %v", err)
	}

	c = e.NewContext(newRequest(http.MethodPut, `{"plan":"rest"}`, "dr-hana"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(n.ID.String())
	if code := statusOf(t, h.UpdateNote(c)); code != http.StatusConflict {
		t.Errorf("expected 409 editing a signed note, got %d", code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodPost, `{"assessment":"bacterial sinusitis","reason":"culture result"}`, "dr-hana"), rec)
	c.SetParamNames("id")
	c.SetParamValues(n.ID.String())
	if err := h.AmendNote(c); err != nil {
		t.Fatalf("AmendNote: %v", err)
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &n)
	if n.Status != NoteAmended || n.Assessment == nil || *n.Assessment != "bacterial sinusitis" {
		t.Errorf("unexpected amended note: %+v", n)
	}
}

func TestHandler_RecordVitals_Implausible(t *testing.T) {
	h, e := NewHandler(newTestService()), echo.New()
	c := e.NewContext(newRequest(http.MethodPost, `{"pulse":400}`, "nurse-1"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	if code := statusOf(t, h.RecordVitals(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_RecordAllergy_Conflict(t *testing.T) {
	h, e := NewHandler(newTestService()), echo.New()
	patient := uuid.NewString()
	body := `{"substance":"Peanut","severity":"severe"}`

	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		rec := httptest.NewRecorder()
		c := e.NewContext(newRequest(http.MethodPost, body, "nurse-1"), rec)
		c.SetParamNames("id")
		c.SetParamValues(patient)
		err := h.RecordAllergy(c)
		if i == 0 {
			if err != nil || rec.Code != want {
				t.Fatalf("first record: code %d err %v", rec.Code, err)
			}
			continue
		}
		if code := statusOf(t, err); code != want {
			t.Errorf("expected %d, got %d", want, code)
		}
	}
}

func TestHandler_Chart(t *testing.T) {
	h, e := NewHandler(newTestService()), echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	if err := h.Chart(c); err != nil {
		t.Fatalf("Chart: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"active_medications":[]`) {
		t.Errorf("expected empty medication list in %s", rec.Body.String())
	}
}
