package telehealth

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Session, error)
	GetByRoom(ctx context.Context, roomID string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	AddQualityReport(ctx context.Context, r *QualityReport) error
	ListQualityReports(ctx context.Context, sessionID uuid.UUID, limit int) ([]*QualityReport, error)
}
