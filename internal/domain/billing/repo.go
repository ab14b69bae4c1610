package billing

import (
	"context"

	"github.com/google/uuid"
)

type InvoiceRepository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetForUpdate locks the invoice row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Invoice, int, error)
	NextNumber(ctx context.Context, period string) (int, error)

	AddItem(ctx context.Context, li *LineItem) error
	DeleteItem(ctx context.Context, invoiceID, itemID uuid.UUID) error
	ListItems(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error)

	AddPayment(ctx context.Context, p *Payment) error
	ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
}

type PriceListRepository interface {
	Upsert(ctx context.Context, item *PriceListItem) error
	Get(ctx context.Context, serviceCode string) (*PriceListItem, error)
	List(ctx context.Context, activeOnly bool) ([]*PriceListItem, error)
}
