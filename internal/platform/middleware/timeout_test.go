package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestRequestTimeout(t *testing.T) {
	newCtx := func(path string) echo.Context {
		return echo.New().NewContext(httptest.NewRequest(http.MethodGet, path, nil), httptest.NewRecorder())
	}

	t.Run("deadline is set", func(t *testing.T) {
		err := RequestTimeout(time.Minute)(func(c echo.Context) error {
			if _, ok := c.Request().Context().Deadline(); !ok {
				t.Error("expected a deadline")
			}
			return nil
		})(newCtx("/api/v1/patients"))
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("slow handler gets 504", func(t *testing.T) {
		err := RequestTimeout(20 * time.Millisecond)(func(c echo.Context) error {
			<-c.Request().Context().Done()
			return c.Request().Context().Err()
		})(newCtx("/api/v1/patients"))
		if code := codeOf(t, err); code != http.StatusGatewayTimeout {
			t.Errorf("expected 504, got %d", code)
		}
	})

	t.Run("handler errors pass through", func(t *testing.T) {
		err := RequestTimeout(time.Minute)(func(echo.Context) error {
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		})(newCtx("/api/v1/patients/1"))
		if code := codeOf(t, err); code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", code)
		}
	})

	for _, path := range []string{"/api/v1/ws", "/api/v1/telehealth/signal"} {
		t.Run("no deadline on "+path, func(t *testing.T) {
			err := RequestTimeout(time.Millisecond)(func(c echo.Context) error {
				if _, ok := c.Request().Context().Deadline(); ok {
					t.Error("websocket routes must not get a deadline")
				}
				return nil
			})(newCtx(path))
			if err != nil {
				t.Fatal(err)
			}
		})
	}
}
