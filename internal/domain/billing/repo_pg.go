package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/query"
)

// =========== Invoice Repository ===========

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository {
	return &invoiceRepoPG{pool: pool}
}

func (r *invoiceRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const invoiceCols = `id, number, patient_id, appointment_id, status, currency, subtotal, tax_total,
	total, amount_paid, notes, issued_at, due_date, created_at, updated_at`

var searchFields = map[string]query.Field{
	"patient": query.Col(query.Exact, "patient_id"),
	"status":  query.Col(query.Exact, "status"),
	"number":  query.Col(query.Prefix, "number"),
	"issued":  query.Col(query.Date, "issued_at"),
	"created": query.Col(query.Date, "created_at"),
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.PatientID, &inv.AppointmentID, &inv.Status,
		&inv.Currency, &inv.Subtotal, &inv.TaxTotal, &inv.Total, &inv.AmountPaid, &inv.Notes,
		&inv.IssuedAt, &inv.DueDate, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err, ErrNotFound)
	}
	return &inv, nil
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice (id, number, patient_id, appointment_id, status, currency, notes, due_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		inv.ID, inv.Number, inv.PatientID, inv.AppointmentID, inv.Status, inv.Currency,
		inv.Notes, inv.DueDate,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invoiceCols+` FROM invoice WHERE id = $1`, id))
}

func (r *invoiceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invoiceCols+` FROM invoice WHERE id = $1 FOR UPDATE`, id))
}

func (r *invoiceRepoPG) Update(ctx context.Context, inv *Invoice) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE invoice SET status=$2, subtotal=$3, tax_total=$4, total=$5, amount_paid=$6,
			notes=$7, issued_at=$8, due_date=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		inv.ID, inv.Status, inv.Subtotal, inv.TaxTotal, inv.Total, inv.AmountPaid,
		inv.Notes, inv.IssuedAt, inv.DueDate,
	).Scan(&inv.UpdatedAt)
	return db.NotFound(err, ErrNotFound)
}

func (r *invoiceRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Invoice, int, error) {
	q := query.New("invoice", invoiceCols)
	if err := q.Apply(params, searchFields); err != nil {
		return nil, 0, err
	}
	q.Sort(params["_sort"], "created_at DESC", searchFields)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

// NextNumber returns the next sequence value for period (YYYYMM). The upsert
// makes concurrent callers receive distinct values.
func (r *invoiceRepoPG) NextNumber(ctx context.Context, period string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice_sequence (period, last_value) VALUES ($1, 1)
		ON CONFLICT (period) DO UPDATE SET last_value = invoice_sequence.last_value + 1
		RETURNING last_value`, period).Scan(&n)
	return n, err
}

const lineItemCols = `id, invoice_id, description, service_code, quantity, unit_price, tax_rate,
	net, tax, gross, created_at`

func (r *invoiceRepoPG) AddItem(ctx context.Context, li *LineItem) error {
	li.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice_line_item (id, invoice_id, description, service_code, quantity,
			unit_price, tax_rate, net, tax, gross)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		li.ID, li.InvoiceID, li.Description, li.ServiceCode, li.Quantity,
		li.UnitPrice, li.TaxRate, li.Net, li.Tax, li.Gross,
	).Scan(&li.CreatedAt)
}

func (r *invoiceRepoPG) DeleteItem(ctx context.Context, invoiceID, itemID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM invoice_line_item WHERE id = $1 AND invoice_id = $2`, itemID, invoiceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *invoiceRepoPG) ListItems(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+lineItemCols+` FROM invoice_line_item WHERE invoice_id = $1 ORDER BY created_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[LineItem])
}

func (r *invoiceRepoPG) AddPayment(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payment (id, invoice_id, amount, method, reference, received_by)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING paid_at`,
		p.ID, p.InvoiceID, p.Amount, p.Method, p.Reference, p.ReceivedBy,
	).Scan(&p.PaidAt)
}

func (r *invoiceRepoPG) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, amount, method, reference, received_by, paid_at
		FROM payment WHERE invoice_id = $1 ORDER BY paid_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Payment])
}

// =========== Price List Repository ===========

type priceListRepoPG struct{ pool *pgxpool.Pool }

func NewPriceListRepoPG(pool *pgxpool.Pool) PriceListRepository {
	return &priceListRepoPG{pool: pool}
}

func (r *priceListRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *priceListRepoPG) Upsert(ctx context.Context, item *PriceListItem) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO price_list_item (service_code, description, unit_price, tax_rate, active)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (service_code) DO UPDATE SET description = EXCLUDED.description,
			unit_price = EXCLUDED.unit_price, tax_rate = EXCLUDED.tax_rate,
			active = EXCLUDED.active, updated_at = NOW()
		RETURNING updated_at`,
		item.ServiceCode, item.Description, item.UnitPrice, item.TaxRate, item.Active,
	).Scan(&item.UpdatedAt)
}

func (r *priceListRepoPG) Get(ctx context.Context, serviceCode string) (*PriceListItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT service_code, description, unit_price, tax_rate, active, updated_at
		FROM price_list_item WHERE service_code = $1`, serviceCode)
	if err != nil {
		return nil, err
	}
	item, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[PriceListItem])
	return item, db.NotFound(err, ErrPriceNotFound)
}

func (r *priceListRepoPG) List(ctx context.Context, activeOnly bool) ([]*PriceListItem, error) {
	sql := `SELECT service_code, description, unit_price, tax_rate, active, updated_at FROM price_list_item`
	if activeOnly {
		sql += ` WHERE active`
	}
	rows, err := r.conn(ctx).Query(ctx, sql+` ORDER BY service_code`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[PriceListItem])
}
