package billing

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/domain/patient"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/notification"
)

// PatientDirectory resolves who an issued invoice is sent to.
type PatientDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type Notifier interface {
	Notify(ctx context.Context, templateID, recipient string, data map[string]string) (*notification.Notification, error)
}

type Service struct {
	invoices InvoiceRepository
	prices   PriceListRepository
	patients PatientDirectory
	notifier Notifier
	clock    clock.Clock
	logger   zerolog.Logger
}

func NewService(invoices InvoiceRepository, prices PriceListRepository, clk clock.Clock, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{invoices: invoices, prices: prices, clock: clk, logger: logger}
}

// WithIssueNotifications sends the invoice-issued template to the patient
// whenever an invoice is issued.
func (s *Service) WithIssueNotifications(patients PatientDirectory, notifier Notifier) *Service {
	s.patients = patients
	s.notifier = notifier
	return s
}

// FormatNumber renders INV-YYYYMM-NNNN.
func FormatNumber(period string, seq int) string {
	return fmt.Sprintf("INV-%s-%04d", period, seq)
}

// -- Invoices --

func (s *Service) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	inv.Currency = strings.ToUpper(strings.TrimSpace(inv.Currency))
	if inv.Currency == "" {
		inv.Currency = DefaultCurrency
	}
	if len(inv.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter code")
	}
	inv.Status = StatusDraft
	inv.Subtotal, inv.TaxTotal, inv.Total, inv.AmountPaid = 0, 0, 0, 0
	inv.IssuedAt = nil

	return db.RunInTx(ctx, func(ctx context.Context) error {
		period := s.clock.Now().Format("200601")
		seq, err := s.invoices.NextNumber(ctx, period)
		if err != nil {
			return fmt.Errorf("allocate invoice number: %w", err)
		}
		inv.Number = FormatNumber(period, seq)
		return s.invoices.Create(ctx, inv)
	})
}

// GetInvoice returns the invoice with its line items and payments.
func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Items, err = s.invoices.ListItems(ctx, id); err != nil {
		return nil, err
	}
	if inv.Payments, err = s.invoices.ListPayments(ctx, id); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) SearchInvoices(ctx context.Context, params map[string]string, limit, offset int) ([]*Invoice, int, error) {
	return s.invoices.Search(ctx, params, limit, offset)
}

// AddLineItem prices the item (from the price list when no unit price is
// given), stores it and recomputes the invoice totals.
func (s *Service) AddLineItem(ctx context.Context, invoiceID uuid.UUID, in LineItemInput) (*Invoice, error) {
	if in.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be greater than zero")
	}
	li := &LineItem{
		InvoiceID:   invoiceID,
		Description: strings.TrimSpace(in.Description),
		ServiceCode: in.ServiceCode,
		Quantity:    in.Quantity,
	}

	if in.ServiceCode != nil && *in.ServiceCode != "" && (in.UnitPrice == nil || in.TaxRate == nil) {
		price, err := s.prices.Get(ctx, *in.ServiceCode)
		if err != nil {
			return nil, err
		}
		if !price.Active {
			return nil, fmt.Errorf("service code %s is inactive", price.ServiceCode)
		}
		li.UnitPrice, li.TaxRate = price.UnitPrice, price.TaxRate
		if li.Description == "" {
			li.Description = price.Description
		}
	}
	if in.UnitPrice != nil {
		li.UnitPrice = *in.UnitPrice
	} else if in.ServiceCode == nil || *in.ServiceCode == "" {
		return nil, fmt.Errorf("unit_price is required without a service_code")
	}
	if in.TaxRate != nil {
		li.TaxRate = *in.TaxRate
	}
	if li.Description == "" {
		return nil, fmt.Errorf("description is required")
	}
	if li.UnitPrice < 0 {
		return nil, fmt.Errorf("unit_price must not be negative")
	}
	if li.TaxRate < 0 || li.TaxRate > 1 {
		return nil, fmt.Errorf("tax_rate must be between 0 and 1")
	}
	li.Compute()

	return s.editItems(ctx, invoiceID, func(ctx context.Context) error {
		return s.invoices.AddItem(ctx, li)
	})
}

func (s *Service) RemoveLineItem(ctx context.Context, invoiceID, itemID uuid.UUID) (*Invoice, error) {
	return s.editItems(ctx, invoiceID, func(ctx context.Context) error {
		return s.invoices.DeleteItem(ctx, invoiceID, itemID)
	})
}

func (s *Service) editItems(ctx context.Context, invoiceID uuid.UUID, change func(context.Context) error) (*Invoice, error) {
	var inv *Invoice
	err := db.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if inv, err = s.invoices.GetForUpdate(ctx, invoiceID); err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return ErrNotEditable
		}
		if err := change(ctx); err != nil {
			return err
		}
		if inv.Items, err = s.invoices.ListItems(ctx, invoiceID); err != nil {
			return err
		}
		inv.Recalculate()
		return s.invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// Issue finalises a draft with at least one line item.
func (s *Service) Issue(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	var inv *Invoice
	err := db.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if inv, err = s.invoices.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return fmt.Errorf("%w: cannot issue a %s invoice", ErrInvalidTransition, inv.Status)
		}
		if inv.Items, err = s.invoices.ListItems(ctx, id); err != nil {
			return err
		}
		if len(inv.Items) == 0 {
			return fmt.Errorf("cannot issue an invoice without line items")
		}
		inv.Recalculate()
		now := s.clock.Now()
		inv.Status = StatusIssued
		inv.IssuedAt = &now
		if inv.Total == 0 {
			inv.Status = StatusPaid
		}
		return s.invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	s.notifyIssued(ctx, inv)
	return inv, nil
}

func (s *Service) notifyIssued(ctx context.Context, inv *Invoice) {
	if s.notifier == nil || s.patients == nil {
		return
	}
	log := s.logger.With().Str("invoice", inv.Number).Logger()
	p, err := s.patients.Get(ctx, inv.PatientID)
	if err != nil {
		log.Warn().Err(err).Msg("look up patient for invoice notice")
		return
	}
	if p.Email == nil || *p.Email == "" {
		return
	}
	data := map[string]string{
		"patient_name":   p.FullName(),
		"invoice_number": inv.Number,
		"amount":         FormatAmount(inv.Total),
		"currency":       inv.Currency,
	}
	if _, err := s.notifier.Notify(ctx, notification.TemplateInvoiceIssued, *p.Email, data); err != nil {
		log.Warn().Err(err).Msg("send invoice notice")
	}
}

// FormatAmount renders minor units with two decimals.
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return sign + strconv.FormatInt(minor/100, 10) + "." + fmt.Sprintf("%02d", minor%100)
}

// Cancel voids a draft, or an issued invoice with no payments.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	var inv *Invoice
	err := db.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if inv, err = s.invoices.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if inv.Status != StatusDraft && inv.Status != StatusIssued {
			return fmt.Errorf("%w: cannot cancel a %s invoice", ErrInvalidTransition, inv.Status)
		}
		if inv.AmountPaid > 0 {
			return fmt.Errorf("%w: invoice has payments", ErrInvalidTransition)
		}
		inv.Status = StatusCancelled
		return s.invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// RecordPayment applies a payment to an issued or partially paid invoice.
func (s *Service) RecordPayment(ctx context.Context, invoiceID uuid.UUID, p *Payment) (*Invoice, error) {
	if p.Amount <= 0 {
		return nil, fmt.Errorf("amount must be greater than zero")
	}
	if !validMethods[p.Method] {
		return nil, fmt.Errorf("invalid payment method: %q", p.Method)
	}
	p.InvoiceID = invoiceID

	var inv *Invoice
	err := db.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if inv, err = s.invoices.GetForUpdate(ctx, invoiceID); err != nil {
			return err
		}
		if inv.Status != StatusIssued && inv.Status != StatusPartiallyPaid {
			return fmt.Errorf("%w: %s invoices do not accept payments", ErrInvalidTransition, inv.Status)
		}
		if p.Amount > inv.Balance() {
			return fmt.Errorf("%w: balance is %s", ErrOverpayment, FormatAmount(inv.Balance()))
		}
		if err := s.invoices.AddPayment(ctx, p); err != nil {
			return err
		}
		inv.AmountPaid += p.Amount
		if inv.Balance() == 0 {
			inv.Status = StatusPaid
		} else {
			inv.Status = StatusPartiallyPaid
		}
		return s.invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// -- Price list --

func (s *Service) SetPrice(ctx context.Context, item *PriceListItem) error {
	item.ServiceCode = strings.TrimSpace(item.ServiceCode)
	if item.ServiceCode == "" {
		return fmt.Errorf("service_code is required")
	}
	if item.Description == "" {
		return fmt.Errorf("description is required")
	}
	if item.UnitPrice < 0 {
		return fmt.Errorf("unit_price must not be negative")
	}
	if item.TaxRate < 0 || item.TaxRate > 1 {
		return fmt.Errorf("tax_rate must be between 0 and 1")
	}
	return s.prices.Upsert(ctx, item)
}

func (s *Service) GetPrice(ctx context.Context, serviceCode string) (*PriceListItem, error) {
	return s.prices.Get(ctx, serviceCode)
}

func (s *Service) ListPrices(ctx context.Context, activeOnly bool) ([]*PriceListItem, error) {
	return s.prices.List(ctx, activeOnly)
}
