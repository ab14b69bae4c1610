package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByMRN(ctx context.Context, mrn string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error)
}
