package document

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("document not found")
	ErrInvalidContentType = errors.New("content type not allowed")
)

const (
	CategoryLabResult    = "lab-result"
	CategoryImaging      = "imaging"
	CategoryReferral     = "referral"
	CategoryPrescription = "prescription"
	CategoryConsent      = "consent"
	CategoryIdentity     = "identity"
	CategoryOther        = "other"
)

var validCategories = map[string]bool{
	CategoryLabResult: true, CategoryImaging: true, CategoryReferral: true, CategoryPrescription: true,
	CategoryConsent: true, CategoryIdentity: true, CategoryOther: true,
}

var allowedContentTypes = []string{
	"application/pdf",
	"application/dicom",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/tiff",
	"text/plain",
}

type Document struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	Category    string    `db:"category" json:"category"`
	FileName    string    `db:"file_name" json:"file_name"`
	ContentType string    `db:"content_type" json:"content_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	SHA256      string    `db:"sha256" json:"sha256"`
	StorageKey  string    `db:"storage_key" json:"-"`
	Description *string   `db:"description" json:"description,omitempty"`
	UploadedBy  *string   `db:"uploaded_by" json:"uploaded_by,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
