package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/auth"
)

// AuditEntry records who touched which clinical resource.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	ClinicID   string
	Resource   string
	PatientID  string
	Action     string
	IPAddress  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// Audit logs an access record for every /api/v1 request after the handler
// ran, so the status code is known.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			entry := buildAuditEntry(c)
			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("clinic_id", entry.ClinicID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("path", entry.Path).
				Int("status", entry.StatusCode).
				Msg("access")

			return err
		}
	}
}

func buildAuditEntry(c echo.Context) AuditEntry {
	req := c.Request()
	ctx := req.Context()
	entry := AuditEntry{
		Timestamp:  time.Now().UTC(),
		Path:       req.URL.Path,
		Method:     req.Method,
		IPAddress:  c.RealIP(),
		StatusCode: c.Response().Status,
		UserID:     auth.UserIDFromContext(ctx),
		UserRoles:  auth.RolesFromContext(ctx),
		Action:     httpMethodToAction(req.Method),
		Resource:   extractResource(req.URL.Path),
		PatientID:  extractPatientID(c),
	}
	entry.RequestID, _ = c.Get("request_id").(string)
	entry.ClinicID, _ = c.Get("clinic_id").(string)
	return entry
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResource returns the first path segment under /api/v1/.
func extractResource(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/")
	if seg, _, _ := strings.Cut(rest, "/"); seg != "" {
		return seg
	}
	return "unknown"
}

// extractPatientID looks for /api/v1/patients/<uuid> and ?patient_id=<uuid>.
func extractPatientID(c echo.Context) string {
	path := c.Request().URL.Path
	if rest, ok := strings.CutPrefix(path, "/api/v1/patients/"); ok {
		seg, _, _ := strings.Cut(rest, "/")
		if _, err := uuid.Parse(seg); err == nil {
			return seg
		}
	}
	if pid := c.QueryParam("patient_id"); pid != "" {
		if _, err := uuid.Parse(pid); err == nil {
			return pid
		}
	}
	return ""
}
