package consent

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, f *Form) error
	GetByID(ctx context.Context, id uuid.UUID) (*Form, error)
	Update(ctx context.Context, f *Form) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, category string) ([]*Form, error)
	HasSigned(ctx context.Context, patientID uuid.UUID, category string) (bool, error)
}
