package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	ClinicIDKey contextKey = "clinic_id"
	DBConnKey   contextKey = "db_conn"
)

var clinicIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidClinicID reports whether id is safe to embed in a schema name.
func ValidClinicID(id string) bool {
	return clinicIDPattern.MatchString(id)
}

// SchemaName maps a clinic identifier to its Postgres schema.
func SchemaName(clinicID string) string {
	return "clinic_" + clinicID
}

func searchPathSQL(schema string) string {
	return fmt.Sprintf("SET search_path TO %s, public", pgx.Identifier{schema}.Sanitize())
}

// ClinicMiddleware resolves the clinic for the request, pins one pooled
// connection with its search_path set to the clinic schema, and stores both
// in the request context for the repositories.
func ClinicMiddleware(pool *pgxpool.Pool, defaultClinic string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			clinicID := extractClinicID(c, defaultClinic)

			if !ValidClinicID(clinicID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if _, err := conn.Exec(ctx, searchPathSQL(SchemaName(clinicID))); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "clinic resolution failed")
			}
			// Released connections go back to the pool; do not leak the clinic
			// search_path into the next borrower.
			defer conn.Exec(context.Background(), "RESET search_path") //nolint:errcheck

			ctx = WithClinic(ctx, clinicID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("clinic_id", clinicID)

			return next(c)
		}
	}
}

func extractClinicID(c echo.Context, defaultClinic string) string {
	// JWT claim set by the auth middleware wins.
	if id, ok := c.Get("jwt_clinic_id").(string); ok && id != "" {
		return id
	}
	if id := c.Request().Header.Get("X-Clinic-ID"); id != "" {
		return id
	}
	if id := c.QueryParam("clinic_id"); id != "" {
		return id
	}
	return defaultClinic
}

// WithClinic stores the clinic identifier in ctx.
func WithClinic(ctx context.Context, clinicID string) context.Context {
	return context.WithValue(ctx, ClinicIDKey, clinicID)
}

// ConnFromContext retrieves the clinic-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// ClinicFromContext retrieves the clinic ID from context.
func ClinicFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ClinicIDKey).(string)
	return id
}

// ScopedConn acquires a connection pinned to the clinic schema for work that
// runs outside an HTTP request, such as scheduled jobs. The returned release
// func must be called.
func ScopedConn(ctx context.Context, pool *pgxpool.Pool, clinicID string) (context.Context, func(), error) {
	if !ValidClinicID(clinicID) {
		return ctx, nil, fmt.Errorf("invalid clinic identifier: %s", clinicID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, searchPathSQL(SchemaName(clinicID))); err != nil {
		conn.Release()
		return ctx, nil, fmt.Errorf("set search_path: %w", err)
	}
	release := func() {
		conn.Exec(context.Background(), "RESET search_path") //nolint:errcheck
		conn.Release()
	}
	ctx = WithClinic(ctx, clinicID)
	return context.WithValue(ctx, DBConnKey, conn), release, nil
}

// CreateClinicSchema creates the schema for a clinic and migrates it. If
// migrationsDir is empty, migrations are skipped.
func CreateClinicSchema(ctx context.Context, pool *pgxpool.Pool, clinicID string, migrationsDir string) error {
	if !ValidClinicID(clinicID) {
		return fmt.Errorf("invalid clinic identifier: %s", clinicID)
	}

	schema := SchemaName(clinicID)

	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrationsDir != "" {
		migrator := NewMigrator(pool, migrationsDir)
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}

// ListClinics returns the identifiers of every clinic schema in the database.
func ListClinics(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT substring(schema_name FROM 8) FROM information_schema.schemata
		WHERE schema_name LIKE 'clinic\_%' ORDER BY schema_name`)
	if err != nil {
		return nil, fmt.Errorf("list clinic schemas: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
