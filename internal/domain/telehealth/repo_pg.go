package telehealth

import (
	"context"

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

const cols = `id, appointment_id, patient_id, practitioner_id, room_id, status, last_quality,
	started_at, ended_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, s *Session) error {
	s.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO telehealth_session (id, appointment_id, patient_id, practitioner_id, room_id, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		s.ID, s.AppointmentID, s.PatientID, s.PractitionerID, s.RoomID, s.Status,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *repoPG) getOne(ctx context.Context, where string, arg any) (*Session, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM telehealth_session WHERE `+where, arg)
	if err != nil {
		return nil, err
	}
	s, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Session])
	if err != nil {
		return nil, db.NotFound(err, ErrNotFound)
	}
	return s, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *repoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Session, error) {
	return r.getOne(ctx, "appointment_id = $1", appointmentID)
}

func (r *repoPG) GetByRoom(ctx context.Context, roomID string) (*Session, error) {
	return r.getOne(ctx, "room_id = $1", roomID)
}

func (r *repoPG) Update(ctx context.Context, s *Session) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE telehealth_session SET status=$2, last_quality=$3, started_at=$4, ended_at=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.Status, s.LastQuality, s.StartedAt, s.EndedAt,
	).Scan(&s.UpdatedAt)
	return db.NotFound(err, ErrNotFound)
}

// AddQualityReport stores the report and makes it the session's last known
// quality in one statement.
func (r *repoPG) AddQualityReport(ctx context.Context, q *QualityReport) error {
	q.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO telehealth_quality_report (id, session_id, peer_id, bucket, rtt_ms, loss_pct, jitter_ms, recorded_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING session_id, bucket
		)
		UPDATE telehealth_session s SET last_quality = ins.bucket, updated_at = NOW()
		FROM ins WHERE s.id = ins.session_id
		RETURNING s.id`,
		q.ID, q.SessionID, q.PeerID, q.Bucket, q.RTTMs, q.LossPct, q.JitterMs, q.RecordedAt,
	).Scan(new(uuid.UUID))
	return db.NotFound(err, ErrNotFound)
}

func (r *repoPG) ListQualityReports(ctx context.Context, sessionID uuid.UUID, limit int) ([]*QualityReport, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, session_id, peer_id, bucket, rtt_ms, loss_pct, jitter_ms, recorded_at
		FROM telehealth_quality_report WHERE session_id = $1
		ORDER BY recorded_at DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[QualityReport])
}
