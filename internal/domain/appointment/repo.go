package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error)
	// LockPractitioner serialises bookings for one practitioner until the
	// surrounding transaction ends.
	LockPractitioner(ctx context.Context, practitionerID string) error
	HasOverlap(ctx context.Context, practitionerID string, start, end time.Time, exclude uuid.UUID) (bool, error)
	DueReminders(ctx context.Context, from, to time.Time) ([]*Reminder, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID) error
}
