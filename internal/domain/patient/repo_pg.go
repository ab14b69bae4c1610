package patient

import (
	"context"

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

const patientCols = `id, mrn, first_name, last_name, birth_date, gender, phone, email,
	address, blood_group, emergency_contact_name, emergency_contact_phone,
	active, created_at, updated_at`

var searchFields = map[string]query.Field{
	"name":      query.Col(query.Prefix, "first_name", "last_name"),
	"family":    query.Col(query.Prefix, "last_name"),
	"given":     query.Col(query.Prefix, "first_name"),
	"mrn":       query.Col(query.Exact, "mrn"),
	"phone":     query.Col(query.Exact, "phone"),
	"email":     query.Col(query.Exact, "email"),
	"gender":    query.Col(query.Exact, "gender"),
	"birthdate": query.Col(query.Date, "birth_date"),
	"active":    query.Col(query.Bool, "active"),
	"created":   query.Col(query.Date, "created_at"),
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.BirthDate, &p.Gender,
		&p.Phone, &p.Email, &p.Address, &p.BloodGroup, &p.EmergencyContactName,
		&p.EmergencyContactPhone, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err, ErrNotFound)
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, mrn, first_name, last_name, birth_date, gender, phone, email,
			address, blood_group, emergency_contact_name, emergency_contact_phone, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.BirthDate, p.Gender, p.Phone, p.Email,
		p.Address, p.BloodGroup, p.EmergencyContactName, p.EmergencyContactPhone, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateMRN
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *repoPG) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE mrn = $1`, mrn))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET first_name=$2, last_name=$3, birth_date=$4, gender=$5, phone=$6,
			email=$7, address=$8, blood_group=$9, emergency_contact_name=$10,
			emergency_contact_phone=$11, updated_at=NOW()
		WHERE id = $1
		RETURNING mrn, active, created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.BirthDate, p.Gender, p.Phone,
		p.Email, p.Address, p.BloodGroup, p.EmergencyContactName, p.EmergencyContactPhone,
	).Scan(&p.MRN, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return db.NotFound(err, ErrNotFound)
}

func (r *repoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE patient SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	q := query.New("patient", patientCols)
	if err := q.Apply(params, searchFields); err != nil {
		return nil, 0, err
	}
	q.Sort(params["_sort"], "last_name, first_name", searchFields)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}
