package emr

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
)

// =========== Clinical Note Repository ===========

type noteRepoPG struct{ pool *pgxpool.Pool }

func NewNoteRepoPG(pool *pgxpool.Pool) NoteRepository {
	return &noteRepoPG{pool: pool}
}

func (r *noteRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const noteCols = `id, patient_id, appointment_id, author_id, note_type, subjective, objective,
	assessment, plan, status, signed_by, signed_at, amendment_reason, amended_at,
	created_at, updated_at`

func scanNote(row pgx.Row) (*ClinicalNote, error) {
	var n ClinicalNote
	err := row.Scan(&n.ID, &n.PatientID, &n.AppointmentID, &n.AuthorID, &n.NoteType,
		&n.Subjective, &n.Objective, &n.Assessment, &n.Plan, &n.Status, &n.SignedBy,
		&n.SignedAt, &n.AmendmentReason, &n.AmendedAt, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err, ErrNotFound)
	}
	return &n, nil
}

func (r *noteRepoPG) Create(ctx context.Context, n *ClinicalNote) error {
	n.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinical_note (id, patient_id, appointment_id, author_id, note_type,
			subjective, objective, assessment, plan, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		n.ID, n.PatientID, n.AppointmentID, n.AuthorID, n.NoteType,
		n.Subjective, n.Objective, n.Assessment, n.Plan, n.Status,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
}

func (r *noteRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ClinicalNote, error) {
	return scanNote(r.conn(ctx).QueryRow(ctx, `SELECT `+noteCols+` FROM clinical_note WHERE id = $1`, id))
}

func (r *noteRepoPG) Update(ctx context.Context, n *ClinicalNote) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE clinical_note SET subjective=$2, objective=$3, assessment=$4, plan=$5,
			status=$6, signed_by=$7, signed_at=$8, amendment_reason=$9, amended_at=$10,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		n.ID, n.Subjective, n.Objective, n.Assessment, n.Plan,
		n.Status, n.SignedBy, n.SignedAt, n.AmendmentReason, n.AmendedAt,
	).Scan(&n.UpdatedAt)
	return db.NotFound(err, ErrNotFound)
}

func (r *noteRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ClinicalNote, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM clinical_note WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+noteCols+` FROM clinical_note WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ClinicalNote
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

// =========== Vital Signs Repository ===========

type vitalsRepoPG struct{ pool *pgxpool.Pool }

func NewVitalsRepoPG(pool *pgxpool.Pool) VitalsRepository {
	return &vitalsRepoPG{pool: pool}
}

func (r *vitalsRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const vitalsCols = `id, patient_id, appointment_id, recorded_by, recorded_at, temperature_c,
	pulse, systolic, diastolic, respiratory_rate, spo2, weight_kg, height_cm, bmi, created_at`

func (r *vitalsRepoPG) Create(ctx context.Context, v *VitalSigns) error {
	v.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO vital_signs (id, patient_id, appointment_id, recorded_by, recorded_at,
			temperature_c, pulse, systolic, diastolic, respiratory_rate, spo2,
			weight_kg, height_cm, bmi)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at`,
		v.ID, v.PatientID, v.AppointmentID, v.RecordedBy, v.RecordedAt,
		v.TemperatureC, v.Pulse, v.Systolic, v.Diastolic, v.RespiratoryRate, v.SpO2,
		v.WeightKg, v.HeightCm, v.BMI,
	).Scan(&v.CreatedAt)
}

func (r *vitalsRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*VitalSigns, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM vital_signs WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+vitalsCols+` FROM vital_signs WHERE patient_id = $1 ORDER BY recorded_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[VitalSigns])
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// =========== Medication Repository ===========

type medicationRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationRepoPG(pool *pgxpool.Pool) MedicationRepository {
	return &medicationRepoPG{pool: pool}
}

func (r *medicationRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const medicationCols = `id, patient_id, name, dosage, route, frequency, start_date, end_date,
	status, prescriber_id, notes, created_at, updated_at`

func (r *medicationRepoPG) Create(ctx context.Context, m *Medication) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medication (id, patient_id, name, dosage, route, frequency,
			start_date, end_date, status, prescriber_id, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		m.ID, m.PatientID, m.Name, m.Dosage, m.Route, m.Frequency,
		m.StartDate, m.EndDate, m.Status, m.PrescriberID, m.Notes,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *medicationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medication, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+medicationCols+` FROM medication WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Medication])
	return m, db.NotFound(err, ErrNotFound)
}

func (r *medicationRepoPG) Update(ctx context.Context, m *Medication) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE medication SET dosage=$2, route=$3, frequency=$4, end_date=$5,
			status=$6, notes=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		m.ID, m.Dosage, m.Route, m.Frequency, m.EndDate, m.Status, m.Notes,
	).Scan(&m.UpdatedAt)
	return db.NotFound(err, ErrNotFound)
}

func (r *medicationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status string) ([]*Medication, error) {
	sql := `SELECT ` + medicationCols + ` FROM medication WHERE patient_id = $1`
	args := []any{patientID}
	if status != "" {
		sql += ` AND status = $2`
		args = append(args, status)
	}
	rows, err := r.conn(ctx).Query(ctx, sql+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Medication])
}

// =========== Allergy Repository ===========

type allergyRepoPG struct{ pool *pgxpool.Pool }

func NewAllergyRepoPG(pool *pgxpool.Pool) AllergyRepository {
	return &allergyRepoPG{pool: pool}
}

func (r *allergyRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const allergyCols = `id, patient_id, substance, reaction, severity, status, noted_by, created_at, updated_at`

func (r *allergyRepoPG) Create(ctx context.Context, a *Allergy) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO allergy (id, patient_id, substance, reaction, severity, status, noted_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.Substance, a.Reaction, a.Severity, a.Status, a.NotedBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err, "uq_allergy_active_substance") {
		return ErrDuplicateAllergy
	}
	return err
}

func (r *allergyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Allergy, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+allergyCols+` FROM allergy WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	a, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Allergy])
	return a, db.NotFound(err, ErrNotFound)
}

func (r *allergyRepoPG) Update(ctx context.Context, a *Allergy) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE allergy SET reaction=$2, severity=$3, status=$4, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Reaction, a.Severity, a.Status,
	).Scan(&a.UpdatedAt)
	if db.IsUniqueViolation(err, "uq_allergy_active_substance") {
		return ErrDuplicateAllergy
	}
	return db.NotFound(err, ErrNotFound)
}

func (r *allergyRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status string) ([]*Allergy, error) {
	sql := `SELECT ` + allergyCols + ` FROM allergy WHERE patient_id = $1`
	args := []any{patientID}
	if status != "" {
		sql += ` AND status = $2`
		args = append(args, status)
	}
	rows, err := r.conn(ctx).Query(ctx, sql+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Allergy])
}
