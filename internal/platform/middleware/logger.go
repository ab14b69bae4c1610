package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/auth"
)

// Logger emits one access line per request. Probes log at debug so health
// checks do not drown the clinic traffic.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Write the error response now so the logged status is final.
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			evt := accessEvent(logger, req.URL.Path, res.Status)
			if res.Status >= 500 {
				evt = evt.Err(err)
			}

			rid, _ := c.Get("request_id").(string)
			clinic, _ := c.Get("clinic_id").(string)
			evt.Str("request_id", rid).
				Str("clinic_id", clinic).
				Str("user_id", auth.UserIDFromContext(req.Context())).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", res.Status).
				Int64("bytes_out", res.Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")
			return nil
		}
	}
}

func accessEvent(logger zerolog.Logger, path string, status int) *zerolog.Event {
	switch {
	case status >= 500:
		return logger.Error()
	case status >= 400:
		return logger.Warn()
	case auth.IsPublicPath(path) && path != "/api/v1/telehealth/signal":
		return logger.Debug()
	default:
		return logger.Info()
	}
}
