package emr

import (
	"context"

	"github.com/google/uuid"
)

type NoteRepository interface {
	Create(ctx context.Context, n *ClinicalNote) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClinicalNote, error)
	Update(ctx context.Context, n *ClinicalNote) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ClinicalNote, int, error)
}

type VitalsRepository interface {
	Create(ctx context.Context, v *VitalSigns) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*VitalSigns, int, error)
}

type MedicationRepository interface {
	Create(ctx context.Context, m *Medication) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medication, error)
	Update(ctx context.Context, m *Medication) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, status string) ([]*Medication, error)
}

type AllergyRepository interface {
	Create(ctx context.Context, a *Allergy) error
	GetByID(ctx context.Context, id uuid.UUID) (*Allergy, error)
	Update(ctx context.Context, a *Allergy) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, status string) ([]*Allergy, error)
}
