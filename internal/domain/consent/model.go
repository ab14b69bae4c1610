package consent

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("consent form not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConsentRequired is returned by callers gating work on a signed form.
	ErrConsentRequired = errors.New("signed consent required")
)

const (
	CategoryTreatment   = "treatment"
	CategoryTelehealth  = "telehealth"
	CategoryDataSharing = "data-sharing"
	CategoryProcedure   = "procedure"
)

var validCategories = map[string]bool{
	CategoryTreatment: true, CategoryTelehealth: true, CategoryDataSharing: true, CategoryProcedure: true,
}

const (
	StatusPending = "pending"
	StatusSigned  = "signed"
	StatusRevoked = "revoked"
)

type Form struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	PatientID           uuid.UUID  `db:"patient_id" json:"patient_id"`
	Category            string     `db:"category" json:"category"`
	Title               string     `db:"title" json:"title"`
	Body                string     `db:"body" json:"body"`
	Status              string     `db:"status" json:"status"`
	SignerName          *string    `db:"signer_name" json:"signer_name,omitempty"`
	SignedAt            *time.Time `db:"signed_at" json:"signed_at,omitempty"`
	SignatureDocumentID *uuid.UUID `db:"signature_document_id" json:"signature_document_id,omitempty"`
	RevokedAt           *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevocationReason    *string    `db:"revocation_reason" json:"revocation_reason,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// Signature is what the signer submits.
type Signature struct {
	SignerName          string     `json:"signer_name"`
	SignatureDocumentID *uuid.UUID `json:"signature_document_id,omitempty"`
}
