package consent

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

const cols = `id, patient_id, category, title, body, status, signer_name, signed_at,
	signature_document_id, revoked_at, revocation_reason, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, f *Form) error {
	f.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consent_form (id, patient_id, category, title, body, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		f.ID, f.PatientID, f.Category, f.Title, f.Body, f.Status,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Form, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM consent_form WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	f, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Form])
	if err != nil {
		return nil, db.NotFound(err, ErrNotFound)
	}
	return f, nil
}

func (r *repoPG) Update(ctx context.Context, f *Form) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE consent_form SET status=$2, signer_name=$3, signed_at=$4, signature_document_id=$5,
			revoked_at=$6, revocation_reason=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		f.ID, f.Status, f.SignerName, f.SignedAt, f.SignatureDocumentID, f.RevokedAt, f.RevocationReason,
	).Scan(&f.UpdatedAt)
	return db.NotFound(err, ErrNotFound)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, category string) ([]*Form, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+cols+` FROM consent_form
		WHERE patient_id = $1 AND ($2 = '' OR category = $2)
		ORDER BY created_at DESC`, patientID, category)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Form])
}

func (r *repoPG) HasSigned(ctx context.Context, patientID uuid.UUID, category string) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM consent_form
			WHERE patient_id = $1 AND category = $2 AND status = 'signed')`,
		patientID, category).Scan(&ok)
	return ok, err
}
