package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const cols = `id, patient_id, department, ticket_date, number, priority, status, called_by,
	called_at, started_at, completed_at, created_at, updated_at`

const priorityOrder = `CASE priority WHEN 'emergency' THEN 0 WHEN 'urgent' THEN 1 ELSE 2 END`

func (r *repoPG) NextNumber(ctx context.Context, department string, day time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_counter (department, ticket_date, last_number) VALUES ($1, $2, 1)
		ON CONFLICT (department, ticket_date)
		DO UPDATE SET last_number = queue_counter.last_number + 1
		RETURNING last_number`, department, day).Scan(&n)
	return n, err
}

func (r *repoPG) Create(ctx context.Context, t *Ticket) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_ticket (id, patient_id, department, ticket_date, number, priority, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		t.ID, t.PatientID, t.Department, t.TicketDate, t.Number, t.Priority, t.Status,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM queue_ticket WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	t, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Ticket])
	if err != nil {
		return nil, db.NotFound(err, ErrNotFound)
	}
	return t, nil
}

func (r *repoPG) Update(ctx context.Context, t *Ticket) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_ticket SET priority=$2, status=$3, called_by=$4, called_at=$5,
			started_at=$6, completed_at=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.Priority, t.Status, t.CalledBy, t.CalledAt, t.StartedAt, t.CompletedAt,
	).Scan(&t.UpdatedAt)
	return db.NotFound(err, ErrNotFound)
}

// NextWaiting skips rows another desk has already locked so two concurrent
// calls never hand out the same ticket.
func (r *repoPG) NextWaiting(ctx context.Context, department string, day time.Time) (*Ticket, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+cols+` FROM queue_ticket
		WHERE department = $1 AND ticket_date = $2 AND status = 'waiting'
		ORDER BY `+priorityOrder+`, number
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, department, day)
	if err != nil {
		return nil, err
	}
	t, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Ticket])
	if err != nil {
		return nil, db.NotFound(err, ErrQueueEmpty)
	}
	return t, nil
}

func (r *repoPG) ListByDay(ctx context.Context, department string, day time.Time, statuses []string) ([]*Ticket, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+cols+` FROM queue_ticket
		WHERE department = $1 AND ticket_date = $2 AND status = ANY($3)
		ORDER BY `+priorityOrder+`, number`, department, day, statuses)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Ticket])
}

func (r *repoPG) CancelStale(ctx context.Context, day time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE queue_ticket SET status = 'cancelled', updated_at = NOW()
		WHERE ticket_date < $1 AND status IN ('waiting', 'called')`, day)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
