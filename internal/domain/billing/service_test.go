package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/domain/patient"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/notification"
)

// -- Mock repositories --

type mockInvoiceRepo struct {
	invoices map[uuid.UUID]*Invoice
	items    map[uuid.UUID][]*LineItem
	payments map[uuid.UUID][]*Payment
	seq      map[string]int
}

func newMockInvoiceRepo() *mockInvoiceRepo {
	return &mockInvoiceRepo{
		invoices: make(map[uuid.UUID]*Invoice),
		items:    make(map[uuid.UUID][]*LineItem),
		payments: make(map[uuid.UUID][]*Payment),
		seq:      make(map[string]int),
	}
}

func (m *mockInvoiceRepo) Create(_ context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *mockInvoiceRepo) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *mockInvoiceRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return m.GetByID(ctx, id)
}

func (m *mockInvoiceRepo) Update(_ context.Context, inv *Invoice) error {
	if _, ok := m.invoices[inv.ID]; !ok {
		return ErrNotFound
	}
	cp := *inv
	cp.Items, cp.Payments = nil, nil
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *mockInvoiceRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Invoice, int, error) {
	var out []*Invoice
	for _, inv := range m.invoices {
		if s, ok := params["status"]; ok && inv.Status != s {
			continue
		}
		out = append(out, inv)
	}
	return out, len(out), nil
}

func (m *mockInvoiceRepo) NextNumber(_ context.Context, period string) (int, error) {
	m.seq[period]++
	return m.seq[period], nil
}

func (m *mockInvoiceRepo) AddItem(_ context.Context, li *LineItem) error {
	li.ID = uuid.New()
	m.items[li.InvoiceID] = append(m.items[li.InvoiceID], li)
	return nil
}

func (m *mockInvoiceRepo) DeleteItem(_ context.Context, invoiceID, itemID uuid.UUID) error {
	items := m.items[invoiceID]
	for i, li := range items {
		if li.ID == itemID {
			m.items[invoiceID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockInvoiceRepo) ListItems(_ context.Context, invoiceID uuid.UUID) ([]*LineItem, error) {
	return append([]*LineItem(nil), m.items[invoiceID]...), nil
}

func (m *mockInvoiceRepo) AddPayment(_ context.Context, p *Payment) error {
	p.ID = uuid.New()
	m.payments[p.InvoiceID] = append(m.payments[p.InvoiceID], p)
	return nil
}

func (m *mockInvoiceRepo) ListPayments(_ context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	return m.payments[invoiceID], nil
}

type mockPriceRepo struct{ items map[string]*PriceListItem }

func (m *mockPriceRepo) Upsert(_ context.Context, item *PriceListItem) error {
	cp := *item
	m.items[item.ServiceCode] = &cp
	return nil
}

func (m *mockPriceRepo) Get(_ context.Context, code string) (*PriceListItem, error) {
	item, ok := m.items[code]
	if !ok {
		return nil, ErrPriceNotFound
	}
	return item, nil
}

func (m *mockPriceRepo) List(_ context.Context, activeOnly bool) ([]*PriceListItem, error) {
	var out []*PriceListItem
	for _, item := range m.items {
		if activeOnly && !item.Active {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

type stubPatients map[uuid.UUID]*patient.Patient

func (s stubPatients) Get(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := s[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

type recordingNotifier struct {
	sent []map[string]string
	to   []string
}

func (r *recordingNotifier) Notify(_ context.Context, templateID, recipient string, data map[string]string) (*notification.Notification, error) {
	r.to = append(r.to, recipient)
	r.sent = append(r.sent, data)
	return &notification.Notification{TemplateID: templateID}, nil
}

var testNow = time.Date(2024, 7, 15, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newTestService() (*Service, *mockInvoiceRepo) {
	clk := clock.NewMock()
	clk.Set(testNow)
	invoices := newMockInvoiceRepo()
	prices := &mockPriceRepo{items: map[string]*PriceListItem{
		"CONSULT": {ServiceCode: "CONSULT", Description: "General consultation", UnitPrice: 5000, TaxRate: 0.15, Active: true},
		"OLD":     {ServiceCode: "OLD", Description: "Retired service", UnitPrice: 100, Active: false},
	}}
	return NewService(invoices, prices, clk, zerolog.Nop()), invoices
}

func draft(t *testing.T, svc *Service) *Invoice {
	t.Helper()
	inv := &Invoice{PatientID: uuid.New()}
	if err := svc.CreateInvoice(context.Background(), inv); err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return inv
}

// -- Tests --

func TestCreateInvoice_Numbering(t *testing.T) {
	svc, _ := newTestService()

	a, b := draft(t, svc), draft(t, svc)
	if a.Number != "INV-202407-0001" || b.Number != "INV-202407-0002" {
		t.Errorf("unexpected numbers %s, %s", a.Number, b.Number)
	}
	if a.Status != StatusDraft || a.Currency != DefaultCurrency {
		t.Errorf("unexpected defaults: %+v", a)
	}

	if err := svc.CreateInvoice(context.Background(), &Invoice{}); err == nil {
		t.Error("expected error without patient")
	}
	if err := svc.CreateInvoice(context.Background(), &Invoice{PatientID: uuid.New(), Currency: "dollars"}); err == nil {
		t.Error("expected error for bad currency")
	}
}

func TestLineItem_Compute(t *testing.T) {
	li := &LineItem{Quantity: 3, UnitPrice: 1999, TaxRate: 0.075}
	li.Compute()
	if li.Net != 5997 || li.Tax != 450 || li.Gross != 6447 {
		t.Errorf("unexpected amounts: net=%d tax=%d gross=%d", li.Net, li.Tax, li.Gross)
	}
}

func TestAddLineItem_PriceList(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	inv := draft(t, svc)

	got, err := svc.AddLineItem(ctx, inv.ID, LineItemInput{ServiceCode: ptr("CONSULT"), Quantity: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Subtotal != 10000 || got.TaxTotal != 1500 || got.Total != 11500 {
		t.Errorf("unexpected totals: %+v", got)
	}
	if got.Items[0].Description != "General consultation" {
		t.Errorf("expected price list description, got %q", got.Items[0].Description)
	}

	got, err = svc.AddLineItem(ctx, inv.ID, LineItemInput{Description: "Bandage", Quantity: 1, UnitPrice: ptr(int64(250))})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Total != 11750 || len(got.Items) != 2 {
		t.Errorf("unexpected totals after second item: %+v", got)
	}

	got, err = svc.RemoveLineItem(ctx, inv.ID, got.Items[0].ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got.Total != 250 {
		t.Errorf("expected total 250 after removal, got %d", got.Total)
	}
}

func TestAddLineItem_Rejects(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	inv := draft(t, svc)

	tests := map[string]LineItemInput{
		"zero quantity":  {Description: "x", Quantity: 0, UnitPrice: ptr(int64(1))},
		"negative price": {Description: "x", Quantity: 1, UnitPrice: ptr(int64(-1))},
		"tax over one":   {Description: "x", Quantity: 1, UnitPrice: ptr(int64(1)), TaxRate: ptr(1.5)},
		"no price":       {Description: "x", Quantity: 1},
		"no description": {Quantity: 1, UnitPrice: ptr(int64(1))},
		"inactive code":  {ServiceCode: ptr("OLD"), Quantity: 1},
	}
	for name, in := range tests {
		if _, err := svc.AddLineItem(ctx, inv.ID, in); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	if _, err := svc.AddLineItem(ctx, inv.ID, LineItemInput{ServiceCode: ptr("NOPE"), Quantity: 1}); !errors.Is(err, ErrPriceNotFound) {
		t.Errorf("expected ErrPriceNotFound, got %v", err)
	}
}

func TestIssue(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	inv := draft(t, svc)

	if _, err := svc.Issue(ctx, inv.ID); err == nil {
		t.Fatal("expected error issuing an empty invoice")
	}
	if _, err := svc.AddLineItem(ctx, inv.ID, LineItemInput{ServiceCode: ptr("CONSULT"), Quantity: 1}); err != nil {
		t.Fatal(err)
	}
	issued, err := svc.Issue(ctx, inv.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.Status != StatusIssued || issued.IssuedAt == nil || !issued.IssuedAt.Equal(testNow) {
		t.Errorf("unexpected issued invoice: %+v", issued)
	}

	if _, err := svc.AddLineItem(ctx, inv.ID, LineItemInput{ServiceCode: ptr("CONSULT"), Quantity: 1}); !errors.Is(err, ErrNotEditable) {
		t.Errorf("expected ErrNotEditable after issue, got %v", err)
	}
	if _, err := svc.Issue(ctx, inv.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition issuing twice, got %v", err)
	}
}

func TestIssue_Notifies(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	pid := uuid.New()
	n := &recordingNotifier{}
	svc.WithIssueNotifications(stubPatients{
		pid: {ID: pid, FirstName: "Abebe", LastName: "Kebede", Email: ptr("abebe@example.com")},
	}, n)

	inv := &Invoice{PatientID: pid}
	if err := svc.CreateInvoice(ctx, inv); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddLineItem(ctx, inv.ID, LineItemInput{Description: "Lab", Quantity: 1, UnitPrice: ptr(int64(12345))}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Issue(ctx, inv.ID); err != nil {
		t.Fatal(err)
	}
	if len(n.sent) != 1 || n.to[0] != "abebe@example.com" {
		t.Fatalf("expected one notice to the patient, got %v", n.to)
	}
	if n.sent[0]["amount"] != "123.45" || n.sent[0]["invoice_number"] != inv.Number {
		t.Errorf("unexpected template data: %v", n.sent[0])
	}
}

func TestRecordPayment(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	inv := draft(t, svc)

	if _, err := svc.RecordPayment(ctx, inv.ID, &Payment{Amount: 100, Method: MethodCash}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition paying a draft, got %v", err)
	}

	if _, err := svc.AddLineItem(ctx, inv.ID, LineItemInput{Description: "Visit", Quantity: 1, UnitPrice: ptr(int64(1000))}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Issue(ctx, inv.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.RecordPayment(ctx, inv.ID, &Payment{Amount: 100, Method: "bitcoin"}); err == nil {
		t.Error("expected error for unknown method")
	}
	if _, err := svc.RecordPayment(ctx, inv.ID, &Payment{Amount: 0, Method: MethodCash}); err == nil {
		t.Error("expected error for zero amount")
	}
	if _, err := svc.RecordPayment(ctx, inv.ID, &Payment{Amount: 1001, Method: MethodCash}); !errors.Is(err, ErrOverpayment) {
		t.Errorf("expected ErrOverpayment, got %v", err)
	}

	got, err := svc.RecordPayment(ctx, inv.ID, &Payment{Amount: 400, Method: MethodCard})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusPartiallyPaid || got.Balance() != 600 {
		t.Errorf("unexpected after partial payment: %+v", got)
	}
	if _, err := svc.Cancel(ctx, inv.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected cancel to fail once paid, got %v", err)
	}

	got, err = svc.RecordPayment(ctx, inv.ID, &Payment{Amount: 600, Method: MethodCash})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusPaid || got.Balance() != 0 {
		t.Errorf("unexpected after full payment: %+v", got)
	}

	full, err := svc.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(full.Payments) != 2 || len(full.Items) != 1 {
		t.Errorf("expected 2 payments and 1 item, got %d and %d", len(full.Payments), len(full.Items))
	}
}

func TestCancel(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	inv := draft(t, svc)

	got, err := svc.Cancel(ctx, inv.ID)
	if err != nil || got.Status != StatusCancelled {
		t.Fatalf("expected cancelled draft, got %+v, %v", got, err)
	}
	if _, err := svc.Cancel(ctx, inv.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.Cancel(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFormatAmount(t *testing.T) {
	tests := map[int64]string{0: "0.00", 5: "0.05", 12345: "123.45", -250: "-2.50"}
	for in, want := range tests {
		if got := FormatAmount(in); got != want {
			t.Errorf("FormatAmount(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestSetPrice(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if err := svc.SetPrice(ctx, &PriceListItem{ServiceCode: "XRAY", Description: "Chest x-ray", UnitPrice: 8000, TaxRate: 2}); err == nil {
		t.Error("expected error for tax rate above 1")
	}
	if err := svc.SetPrice(ctx, &PriceListItem{ServiceCode: "XRAY", Description: "Chest x-ray", UnitPrice: 8000, Active: true}); err != nil {
		t.Fatal(err)
	}
	items, err := svc.ListPrices(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 active prices, got %d", len(items))
	}
}
