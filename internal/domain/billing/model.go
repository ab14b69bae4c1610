package billing

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	ErrNotFound          = errors.New("invoice not found")
	ErrPriceNotFound     = errors.New("service code not in price list")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotEditable       = errors.New("line items can only change on draft invoices")
	ErrOverpayment       = errors.New("payment exceeds outstanding balance")
)

const (
	StatusDraft         = "draft"
	StatusIssued        = "issued"
	StatusPartiallyPaid = "partially-paid"
	StatusPaid          = "paid"
	StatusCancelled     = "cancelled"
)

const (
	MethodCash      = "cash"
	MethodCard      = "card"
	MethodInsurance = "insurance"
	MethodTransfer  = "transfer"
)

var validMethods = map[string]bool{
	MethodCash: true, MethodCard: true, MethodInsurance: true, MethodTransfer: true,
}

const DefaultCurrency = "USD"

// Invoice amounts are in minor currency units.
type Invoice struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	Number        string      `db:"number" json:"number"`
	PatientID     uuid.UUID   `db:"patient_id" json:"patient_id"`
	AppointmentID *uuid.UUID  `db:"appointment_id" json:"appointment_id,omitempty"`
	Status        string      `db:"status" json:"status"`
	Currency      string      `db:"currency" json:"currency"`
	Subtotal      int64       `db:"subtotal" json:"subtotal"`
	TaxTotal      int64       `db:"tax_total" json:"tax_total"`
	Total         int64       `db:"total" json:"total"`
	AmountPaid    int64       `db:"amount_paid" json:"amount_paid"`
	Notes         *string     `db:"notes" json:"notes,omitempty"`
	IssuedAt      *time.Time  `db:"issued_at" json:"issued_at,omitempty"`
	DueDate       *time.Time  `db:"due_date" json:"due_date,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
	Items         []*LineItem `db:"-" json:"items,omitempty"`
	Payments      []*Payment  `db:"-" json:"payments,omitempty"`
}

func (inv *Invoice) Balance() int64 {
	return inv.Total - inv.AmountPaid
}

// Recalculate sets the invoice totals from its line items.
func (inv *Invoice) Recalculate() {
	inv.Subtotal = lo.SumBy(inv.Items, func(li *LineItem) int64 { return li.Net })
	inv.TaxTotal = lo.SumBy(inv.Items, func(li *LineItem) int64 { return li.Tax })
	inv.Total = lo.SumBy(inv.Items, func(li *LineItem) int64 { return li.Gross })
}

type LineItem struct {
	ID          uuid.UUID `db:"id" json:"id"`
	InvoiceID   uuid.UUID `db:"invoice_id" json:"invoice_id"`
	Description string    `db:"description" json:"description"`
	ServiceCode *string   `db:"service_code" json:"service_code,omitempty"`
	Quantity    int       `db:"quantity" json:"quantity"`
	UnitPrice   int64     `db:"unit_price" json:"unit_price"`
	TaxRate     float64   `db:"tax_rate" json:"tax_rate"`
	Net         int64     `db:"net" json:"net"`
	Tax         int64     `db:"tax" json:"tax"`
	Gross       int64     `db:"gross" json:"gross"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Compute derives net, tax and gross. Tax is rounded half away from zero.
func (li *LineItem) Compute() {
	li.Net = int64(li.Quantity) * li.UnitPrice
	li.Tax = int64(math.Round(float64(li.Net) * li.TaxRate))
	li.Gross = li.Net + li.Tax
}

// LineItemInput is a requested line item. A nil UnitPrice takes the price
// list entry for ServiceCode.
type LineItemInput struct {
	Description string   `json:"description"`
	ServiceCode *string  `json:"service_code,omitempty"`
	Quantity    int      `json:"quantity"`
	UnitPrice   *int64   `json:"unit_price,omitempty"`
	TaxRate     *float64 `json:"tax_rate,omitempty"`
}

type Payment struct {
	ID         uuid.UUID `db:"id" json:"id"`
	InvoiceID  uuid.UUID `db:"invoice_id" json:"invoice_id"`
	Amount     int64     `db:"amount" json:"amount"`
	Method     string    `db:"method" json:"method"`
	Reference  *string   `db:"reference" json:"reference,omitempty"`
	ReceivedBy *string   `db:"received_by" json:"received_by,omitempty"`
	PaidAt     time.Time `db:"paid_at" json:"paid_at"`
}

type PriceListItem struct {
	ServiceCode string    `db:"service_code" json:"service_code"`
	Description string    `db:"description" json:"description"`
	UnitPrice   int64     `db:"unit_price" json:"unit_price"`
	TaxRate     float64   `db:"tax_rate" json:"tax_rate"`
	Active      bool      `db:"active" json:"active"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
