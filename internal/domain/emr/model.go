package emr

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrNoteLocked        = errors.New("signed notes can only be amended")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateAllergy  = errors.New("an active allergy for this substance already exists")
)

const (
	NoteProgress     = "progress"
	NoteConsultation = "consultation"
	NoteDischarge    = "discharge"
	NoteTriage       = "triage"
)

const (
	NoteDraft   = "draft"
	NoteSigned  = "signed"
	NoteAmended = "amended"
)

var validNoteTypes = map[string]bool{
	NoteProgress: true, NoteConsultation: true, NoteDischarge: true, NoteTriage: true,
}

// ClinicalNote is a SOAP-structured encounter note.
type ClinicalNote struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	AppointmentID   *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	AuthorID        string     `db:"author_id" json:"author_id"`
	NoteType        string     `db:"note_type" json:"note_type"`
	Subjective      *string    `db:"subjective" json:"subjective,omitempty"`
	Objective       *string    `db:"objective" json:"objective,omitempty"`
	Assessment      *string    `db:"assessment" json:"assessment,omitempty"`
	Plan            *string    `db:"plan" json:"plan,omitempty"`
	Status          string     `db:"status" json:"status"`
	SignedBy        *string    `db:"signed_by" json:"signed_by,omitempty"`
	SignedAt        *time.Time `db:"signed_at" json:"signed_at,omitempty"`
	AmendmentReason *string    `db:"amendment_reason" json:"amendment_reason,omitempty"`
	AmendedAt       *time.Time `db:"amended_at" json:"amended_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

func (n *ClinicalNote) empty() bool {
	for _, s := range []*string{n.Subjective, n.Objective, n.Assessment, n.Plan} {
		if s != nil && *s != "" {
			return false
		}
	}
	return true
}

// VitalSigns is one set of bedside measurements. BMI is derived.
type VitalSigns struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	AppointmentID   *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	RecordedBy      *string    `db:"recorded_by" json:"recorded_by,omitempty"`
	RecordedAt      time.Time  `db:"recorded_at" json:"recorded_at"`
	TemperatureC    *float64   `db:"temperature_c" json:"temperature_c,omitempty"`
	Pulse           *int       `db:"pulse" json:"pulse,omitempty"`
	Systolic        *int       `db:"systolic" json:"systolic,omitempty"`
	Diastolic       *int       `db:"diastolic" json:"diastolic,omitempty"`
	RespiratoryRate *int       `db:"respiratory_rate" json:"respiratory_rate,omitempty"`
	SpO2            *int       `db:"spo2" json:"spo2,omitempty"`
	WeightKg        *float64   `db:"weight_kg" json:"weight_kg,omitempty"`
	HeightCm        *float64   `db:"height_cm" json:"height_cm,omitempty"`
	BMI             *float64   `db:"bmi" json:"bmi,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// ComputeBMI returns weight / height^2 rounded to one decimal.
func ComputeBMI(weightKg, heightCm float64) float64 {
	m := heightCm / 100
	return math.Round(weightKg/(m*m)*10) / 10
}

const (
	MedicationActive    = "active"
	MedicationCompleted = "completed"
	MedicationStopped   = "stopped"
)

var validMedicationStatuses = map[string]bool{
	MedicationActive: true, MedicationCompleted: true, MedicationStopped: true,
}

type Medication struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	PatientID    uuid.UUID  `db:"patient_id" json:"patient_id"`
	Name         string     `db:"name" json:"name"`
	Dosage       *string    `db:"dosage" json:"dosage,omitempty"`
	Route        *string    `db:"route" json:"route,omitempty"`
	Frequency    *string    `db:"frequency" json:"frequency,omitempty"`
	StartDate    *time.Time `db:"start_date" json:"start_date,omitempty"`
	EndDate      *time.Time `db:"end_date" json:"end_date,omitempty"`
	Status       string     `db:"status" json:"status"`
	PrescriberID *string    `db:"prescriber_id" json:"prescriber_id,omitempty"`
	Notes        *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

const (
	SeverityMild     = "mild"
	SeverityModerate = "moderate"
	SeveritySevere   = "severe"
)

const (
	AllergyActive   = "active"
	AllergyInactive = "inactive"
	AllergyResolved = "resolved"
)

var validSeverities = map[string]bool{
	SeverityMild: true, SeverityModerate: true, SeveritySevere: true,
}

var validAllergyStatuses = map[string]bool{
	AllergyActive: true, AllergyInactive: true, AllergyResolved: true,
}

type Allergy struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Substance string    `db:"substance" json:"substance"`
	Reaction  *string   `db:"reaction" json:"reaction,omitempty"`
	Severity  string    `db:"severity" json:"severity"`
	Status    string    `db:"status" json:"status"`
	NotedBy   *string   `db:"noted_by" json:"noted_by,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Chart is the summary view a clinician opens before seeing a patient.
type Chart struct {
	PatientID         uuid.UUID       `json:"patient_id"`
	LatestVitals      *VitalSigns     `json:"latest_vitals,omitempty"`
	ActiveMedications []*Medication   `json:"active_medications"`
	ActiveAllergies   []*Allergy      `json:"active_allergies"`
	RecentNotes       []*ClinicalNote `json:"recent_notes"`
}
