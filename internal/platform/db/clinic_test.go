package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestExtractClinicID_FromHeader(t *testing.T) {
	c := newContext("/")
	c.Request().Header.Set("X-Clinic-ID", "northside")

	if id := extractClinicID(c, "default"); id != "northside" {
		t.Errorf("expected northside, got %s", id)
	}
}

func TestExtractClinicID_FromQuery(t *testing.T) {
	c := newContext("/?clinic_id=eastgate")

	if id := extractClinicID(c, "default"); id != "eastgate" {
		t.Errorf("expected eastgate, got %s", id)
	}
}

func TestExtractClinicID_Priority(t *testing.T) {
	c := newContext("/?clinic_id=query")
	c.Request().Header.Set("X-Clinic-ID", "header")
	c.Set("jwt_clinic_id", "jwt")

	if id := extractClinicID(c, "default"); id != "jwt" {
		t.Errorf("expected jwt (highest priority), got %s", id)
	}

	c.Set("jwt_clinic_id", "")
	if id := extractClinicID(c, "default"); id != "header" {
		t.Errorf("expected header when JWT claim is empty, got %s", id)
	}
}

func TestExtractClinicID_Default(t *testing.T) {
	if id := extractClinicID(newContext("/"), "default"); id != "default" {
		t.Errorf("expected default, got %s", id)
	}
}

func TestValidClinicID(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"abc", true},
		{"clinic_1", true},
		{"A1B2C3", true},
		{"a-b", false},
		{"a.b", false},
		{"a b", false},
		{"", false},
		{"'; DROP TABLE", false},
	}
	for _, tt := range tests {
		if got := ValidClinicID(tt.input); got != tt.valid {
			t.Errorf("ValidClinicID(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}

func TestSchemaName(t *testing.T) {
	if got := SchemaName("northside"); got != "clinic_northside" {
		t.Errorf("expected clinic_northside, got %s", got)
	}
	if got := searchPathSQL("clinic_northside"); got != `SET search_path TO "clinic_northside", public` {
		t.Errorf("unexpected search_path statement: %s", got)
	}
}

func TestClinicMiddleware_RejectsInvalidID(t *testing.T) {
	c := newContext("/")
	c.Request().Header.Set("X-Clinic-ID", "bad-id")

	handler := ClinicMiddleware(nil, "default")(func(c echo.Context) error { return nil })
	err := handler(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn from empty context")
	}
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx from empty context")
	}
	if ClinicFromContext(ctx) != "" {
		t.Error("expected empty clinic from empty context")
	}

	ctx = WithClinic(ctx, "northside")
	if got := ClinicFromContext(ctx); got != "northside" {
		t.Errorf("expected northside, got %s", got)
	}

	wrong := context.WithValue(context.Background(), DBConnKey, "not-a-conn")
	if ConnFromContext(wrong) != nil {
		t.Error("expected nil when context value is wrong type")
	}
	wrong = context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if TxFromContext(wrong) != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if err == nil || err.Error() != "no database connection in context" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunInTx_WithoutConnectionRunsDirectly(t *testing.T) {
	called := false
	err := RunInTx(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected fn to run without transaction, err=%v called=%v", err, called)
	}
}

func TestCreateClinicSchema_InvalidID(t *testing.T) {
	for _, id := range []string{"with-dash", "with.dot", "sp ace", "drop;table"} {
		if err := CreateClinicSchema(context.Background(), nil, id, ""); err == nil {
			t.Errorf("expected error for invalid clinic ID %q", id)
		}
	}
}
