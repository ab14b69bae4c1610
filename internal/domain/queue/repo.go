package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// NextNumber allocates the next ticket number for department on day.
	NextNumber(ctx context.Context, department string, day time.Time) (int, error)
	Create(ctx context.Context, t *Ticket) error
	GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error)
	Update(ctx context.Context, t *Ticket) error
	// NextWaiting locks and returns the waiting ticket to call next, or
	// ErrQueueEmpty.
	NextWaiting(ctx context.Context, department string, day time.Time) (*Ticket, error)
	ListByDay(ctx context.Context, department string, day time.Time, statuses []string) ([]*Ticket, error)
	// CancelStale cancels waiting and called tickets dated before day.
	CancelStale(ctx context.Context, day time.Time) (int64, error)
}
