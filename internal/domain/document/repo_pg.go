package document

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

const cols = `id, patient_id, category, file_name, content_type, size_bytes, sha256, storage_key,
	description, uploaded_by, created_at`

func (r *repoPG) Create(ctx context.Context, d *Document) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO document (id, patient_id, category, file_name, content_type, size_bytes,
			sha256, storage_key, description, uploaded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		d.ID, d.PatientID, d.Category, d.FileName, d.ContentType, d.SizeBytes,
		d.SHA256, d.StorageKey, d.Description, d.UploadedBy,
	).Scan(&d.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM document WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	d, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Document])
	if err != nil {
		return nil, db.NotFound(err, ErrNotFound)
	}
	return d, nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM document WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, category string, limit, offset int) ([]*Document, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM document WHERE patient_id = $1 AND ($2 = '' OR category = $2)`,
		patientID, category).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+cols+` FROM document
		WHERE patient_id = $1 AND ($2 = '' OR category = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, patientID, category, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Document])
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
