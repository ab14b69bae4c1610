package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const maxHeaderValueSize = 8 << 10

var (
	sqlPattern    = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1)`)
	scriptPattern = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)
)

// Sanitize rejects requests carrying path traversal, null bytes, header
// injection or script in query parameters. SQL-looking query values are only
// logged; every repository query is parameterised.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			for _, p := range []string{req.URL.Path, req.URL.RawPath} {
				if hasTraversal(p) {
					return reject("path traversal")
				}
				if hasNullByte(p) {
					return reject("null byte in path")
				}
			}

			for name, values := range req.Header {
				for _, v := range values {
					if len(v) > maxHeaderValueSize {
						return reject("header too large: " + name)
					}
					if strings.ContainsAny(v, "\r\n") {
						return reject("header injection: " + name)
					}
				}
			}

			for key, values := range req.URL.Query() {
				for _, v := range values {
					if hasNullByte(key) || hasNullByte(v) {
						return reject("null byte in query")
					}
					if scriptPattern.MatchString(key) || scriptPattern.MatchString(v) {
						return reject("script in query")
					}
					if sqlPattern.MatchString(v) {
						logger.Warn().Str("param", key).Str("path", req.URL.Path).
							Str("remote_ip", c.RealIP()).Msg("sql-like query parameter")
					}
				}
			}
			return next(c)
		}
	}
}

func reject(reason string) error {
	return echo.NewHTTPError(http.StatusBadRequest, "rejected request: "+reason)
}

func hasTraversal(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(s, "..") || strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

func hasNullByte(s string) bool {
	return strings.ContainsRune(s, 0) || strings.Contains(s, "%00")
}
