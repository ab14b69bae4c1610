package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "patient_mrn_key"})

	if !IsUniqueViolation(err) {
		t.Error("expected unique violation")
	}
	if !IsUniqueViolation(err, "patient_mrn_key") {
		t.Error("expected match on constraint name")
	}
	if IsUniqueViolation(err, "other_key") {
		t.Error("expected no match on other constraint")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(errors.New("plain")) {
		t.Error("plain error is not a unique violation")
	}
}

func TestNotFound(t *testing.T) {
	sentinel := errors.New("thing not found")

	if got := NotFound(fmt.Errorf("scan: %w", pgx.ErrNoRows), sentinel); got != sentinel {
		t.Errorf("expected sentinel, got %v", got)
	}
	other := errors.New("connection reset")
	if got := NotFound(other, sentinel); got != other {
		t.Errorf("expected original error, got %v", got)
	}
	if got := NotFound(nil, sentinel); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
