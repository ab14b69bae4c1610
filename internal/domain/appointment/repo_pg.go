package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/query"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, patient_id, practitioner_id, start_time, end_time, appointment_type,
	status, reason, notes, cancellation_reason, reminder_sent, created_at, updated_at`

var searchFields = map[string]query.Field{
	"patient":      query.Col(query.Exact, "patient_id"),
	"practitioner": query.Col(query.Exact, "practitioner_id"),
	"status":       query.Col(query.Exact, "status"),
	"type":         query.Col(query.Exact, "appointment_type"),
	"date":         query.Col(query.Date, "start_time"),
	"start":        query.Col(query.Date, "start_time"),
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.PractitionerID, &a.Start, &a.End, &a.Type,
		&a.Status, &a.Reason, &a.Notes, &a.CancellationReason, &a.ReminderSent,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err, ErrNotFound)
	}
	return &a, nil
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, practitioner_id, start_time, end_time,
			appointment_type, status, reason, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.PractitionerID, a.Start, a.End,
		a.Type, a.Status, a.Reason, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET start_time=$2, end_time=$3, status=$4, reason=$5, notes=$6,
			cancellation_reason=$7, reminder_sent=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Start, a.End, a.Status, a.Reason, a.Notes,
		a.CancellationReason, a.ReminderSent,
	).Scan(&a.UpdatedAt)
	return db.NotFound(err, ErrNotFound)
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	q := query.New("appointment", apptCols)
	if err := q.Apply(params, searchFields); err != nil {
		return nil, 0, err
	}
	q.Sort(params["_sort"], "start_time", searchFields)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *repoPG) LockPractitioner(ctx context.Context, practitionerID string) error {
	_, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('appointment:' || $1))`, practitionerID)
	return err
}

func (r *repoPG) HasOverlap(ctx context.Context, practitionerID string, start, end time.Time, exclude uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointment
			WHERE practitioner_id = $1 AND status <> 'cancelled' AND id <> $4
			  AND start_time < $3 AND end_time > $2
		)`, practitionerID, start, end, exclude).Scan(&exists)
	return exists, err
}

func (r *repoPG) DueReminders(ctx context.Context, from, to time.Time) ([]*Reminder, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT a.id, a.patient_id, a.practitioner_id, a.start_time, a.end_time, a.appointment_type,
			a.status, a.reason, a.notes, a.cancellation_reason, a.reminder_sent, a.created_at, a.updated_at,
			p.first_name || ' ' || p.last_name, p.phone, p.email
		FROM appointment a JOIN patient p ON p.id = a.patient_id
		WHERE a.status = 'booked' AND a.reminder_sent = FALSE
		  AND a.start_time >= $1 AND a.start_time < $2
		ORDER BY a.start_time`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Reminder
	for rows.Next() {
		var a Appointment
		rem := &Reminder{Appointment: &a}
		if err := rows.Scan(&a.ID, &a.PatientID, &a.PractitionerID, &a.Start, &a.End, &a.Type,
			&a.Status, &a.Reason, &a.Notes, &a.CancellationReason, &a.ReminderSent,
			&a.CreatedAt, &a.UpdatedAt, &rem.PatientName, &rem.Phone, &rem.Email); err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	return out, rows.Err()
}

func (r *repoPG) MarkReminderSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE appointment SET reminder_sent = TRUE, updated_at = NOW() WHERE id = $1`, id)
	return err
}
