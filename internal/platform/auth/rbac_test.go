package auth

import (
	"context"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
)

func withRoles(c echo.Context, roles ...string) {
	ctx := context.WithValue(c.Request().Context(), UserRolesKey, roles)
	c.SetRequest(c.Request().WithContext(ctx))
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name    string
		has     []string
		require []string
		allowed bool
	}{
		{"matching role", []string{RoleNurse}, []string{RolePhysician, RoleNurse}, true},
		{"admin bypass", []string{RoleAdmin}, []string{RoleBilling}, true},
		{"missing role", []string{RolePatient}, []string{RolePhysician}, false},
		{"no roles", nil, []string{RolePhysician}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newContext("")
			withRoles(c, tt.has...)

			err := RequireRole(tt.require...)(okHandler)(c)
			if tt.allowed && err != nil {
				t.Fatalf("expected access, got %v", err)
			}
			if !tt.allowed {
				expectStatus(t, err, http.StatusForbidden)
			}
		})
	}
}

func TestIsPublicPath(t *testing.T) {
	for path, want := range map[string]bool{
		"/health":                   true,
		"/health/db":                true,
		"/api/v1/telehealth/signal": true,
		"/api/v1/patients":          false,
		"/api/v1/ws":                false,
	} {
		if got := IsPublicPath(path); got != want {
			t.Errorf("IsPublicPath(%q) = %v, want %v", path, got, want)
		}
	}
}
