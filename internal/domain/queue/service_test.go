package queue

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/auth"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/websocket"
)

type counterKey struct {
	department string
	day        time.Time
}

type mockRepo struct {
	tickets  map[uuid.UUID]*Ticket
	counters map[counterKey]int
}

func newMockRepo() *mockRepo {
	return &mockRepo{tickets: make(map[uuid.UUID]*Ticket), counters: make(map[counterKey]int)}
}

func (m *mockRepo) NextNumber(_ context.Context, department string, day time.Time) (int, error) {
	k := counterKey{department, day}
	m.counters[k]++
	return m.counters[k], nil
}

func (m *mockRepo) Create(_ context.Context, t *Ticket) error {
	t.ID = uuid.New()
	cp := *t
	m.tickets[t.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Ticket, error) {
	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, t *Ticket) error {
	if _, ok := m.tickets[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	m.tickets[t.ID] = &cp
	return nil
}

func (m *mockRepo) ListByDay(_ context.Context, department string, day time.Time, statuses []string) ([]*Ticket, error) {
	want := make(map[string]bool)
	for _, s := range statuses {
		want[s] = true
	}
	var out []*Ticket
	for _, t := range m.tickets {
		if t.Department == department && t.TicketDate.Equal(day) && want[t.Status] {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if Rank(out[i].Priority) != Rank(out[j].Priority) {
			return Rank(out[i].Priority) < Rank(out[j].Priority)
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

func (m *mockRepo) NextWaiting(ctx context.Context, department string, day time.Time) (*Ticket, error) {
	waiting, _ := m.ListByDay(ctx, department, day, []string{StatusWaiting})
	if len(waiting) == 0 {
		return nil, ErrQueueEmpty
	}
	return waiting[0], nil
}

func (m *mockRepo) CancelStale(_ context.Context, day time.Time) (int64, error) {
	var n int64
	for _, t := range m.tickets {
		if t.TicketDate.Before(day) && (t.Status == StatusWaiting || t.Status == StatusCalled) {
			t.Status = StatusCancelled
			n++
		}
	}
	return n, nil
}

type recordingPublisher struct{ events []websocket.Event }

func (p *recordingPublisher) Publish(_ context.Context, ev websocket.Event) error {
	p.events = append(p.events, ev)
	return nil
}

var testNow = time.Date(2024, 3, 4, 8, 30, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	repo  *mockRepo
	clock *clock.Mock
	pub   *recordingPublisher
}

func newFixture() *fixture {
	clk := clock.NewMock()
	clk.Set(testNow)
	repo, pub := newMockRepo(), &recordingPublisher{}
	return &fixture{
		svc:   NewService(repo, WithClock(clk), WithPublisher(pub)),
		repo:  repo,
		clock: clk,
		pub:   pub,
	}
}

func (f *fixture) take(t *testing.T, department, priority string) *Ticket {
	t.Helper()
	tk, err := f.svc.TakeTicket(context.Background(), uuid.New(), department, priority)
	if err != nil {
		t.Fatalf("take ticket: %v", err)
	}
	return tk
}

func TestTakeTicket_NumbersPerDepartmentPerDay(t *testing.T) {
	f := newFixture()

	a, b := f.take(t, "general", ""), f.take(t, "General", "")
	c := f.take(t, "dental", "")
	if a.Number != 1 || b.Number != 2 || c.Number != 1 {
		t.Errorf("unexpected numbers: %d %d %d", a.Number, b.Number, c.Number)
	}
	if b.Department != "general" || a.Priority != PriorityNormal {
		t.Errorf("unexpected normalisation: %+v", b)
	}

	f.clock.Add(24 * time.Hour)
	if d := f.take(t, "general", ""); d.Number != 1 {
		t.Errorf("expected numbering to restart the next day, got %d", d.Number)
	}

	if _, err := f.svc.TakeTicket(context.Background(), uuid.New(), "bad dept!", ""); err == nil {
		t.Error("expected error for invalid department")
	}
	if _, err := f.svc.TakeTicket(context.Background(), uuid.New(), "general", "whenever"); err == nil {
		t.Error("expected error for invalid priority")
	}
}

func TestCallNext_PriorityOrder(t *testing.T) {
	f := newFixture()
	ctx := context.WithValue(context.Background(), auth.UserIDKey, "nurse-1")

	first := f.take(t, "general", "")
	second := f.take(t, "general", "")
	urgent := f.take(t, "general", PriorityUrgent)
	if _, err := f.svc.Triage(ctx, second.ID, PriorityEmergency); err != nil {
		t.Fatal(err)
	}

	var order []uuid.UUID
	for range 3 {
		tk, err := f.svc.CallNext(ctx, "general")
		if err != nil {
			t.Fatal(err)
		}
		if tk.CalledBy == nil || *tk.CalledBy != "nurse-1" || tk.CalledAt == nil {
			t.Errorf("expected caller stamped, got %+v", tk)
		}
		order = append(order, tk.ID)
	}
	want := []uuid.UUID{second.ID, urgent.ID, first.ID}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("call order %d: got %s want %s", i, order[i], want[i])
		}
	}

	if _, err := f.svc.CallNext(ctx, "general"); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestTicketLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tk := f.take(t, "general", "")

	if _, err := f.svc.StartConsult(ctx, tk.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition starting a waiting ticket, got %v", err)
	}
	if _, err := f.svc.CallNext(ctx, "general"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Triage(ctx, tk.ID, PriorityUrgent); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected triage of a called ticket to fail, got %v", err)
	}

	skipped, err := f.svc.Skip(ctx, tk.ID)
	if err != nil || skipped.Status != StatusSkipped {
		t.Fatalf("skip: %+v, %v", skipped, err)
	}
	back, err := f.svc.Requeue(ctx, tk.ID)
	if err != nil || back.Status != StatusWaiting || back.CalledAt != nil || back.Number != tk.Number {
		t.Fatalf("requeue: %+v, %v", back, err)
	}

	if _, err := f.svc.CallNext(ctx, "general"); err != nil {
		t.Fatal(err)
	}
	started, err := f.svc.StartConsult(ctx, tk.ID)
	if err != nil || started.StartedAt == nil {
		t.Fatalf("start: %+v, %v", started, err)
	}
	done, err := f.svc.Complete(ctx, tk.ID)
	if err != nil || done.Status != StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("complete: %+v, %v", done, err)
	}
	if _, err := f.svc.Cancel(ctx, tk.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected completed ticket to be final, got %v", err)
	}
}

func TestPublishesToDepartmentTopic(t *testing.T) {
	f := newFixture()
	tk := f.take(t, "lab", "")
	if _, err := f.svc.Cancel(context.Background(), tk.ID); err != nil {
		t.Fatal(err)
	}
	if len(f.pub.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(f.pub.events))
	}
	for _, ev := range f.pub.events {
		if ev.Topic != "queue:lab" || ev.ResourceID != tk.ID.String() {
			t.Errorf("unexpected event: %+v", ev)
		}
	}
	if f.pub.events[1].Type != "queue.ticket-cancelled" {
		t.Errorf("unexpected event type %q", f.pub.events[1].Type)
	}
}

func TestBoard(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.take(t, "general", "")
	f.take(t, "general", PriorityEmergency)
	if _, err := f.svc.CallNext(ctx, "general"); err != nil {
		t.Fatal(err)
	}

	b, err := f.svc.Board(ctx, "general")
	if err != nil {
		t.Fatal(err)
	}
	if b.Date != "2024-03-04" || len(b.Waiting) != 1 || len(b.Called) != 1 || len(b.InConsult) != 0 {
		t.Errorf("unexpected board: %+v", b)
	}
	if b.Called[0].Priority != PriorityEmergency {
		t.Errorf("expected the emergency ticket to be called first")
	}
}

func TestResetStale(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	old := f.take(t, "general", "")
	f.clock.Add(24 * time.Hour)
	fresh := f.take(t, "general", "")

	n, err := f.svc.ResetStale(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 cancelled ticket, got %d", n)
	}
	if got, _ := f.svc.Get(ctx, old.ID); got.Status != StatusCancelled {
		t.Errorf("expected yesterday's ticket cancelled, got %s", got.Status)
	}
	if got, _ := f.svc.Get(ctx, fresh.ID); got.Status != StatusWaiting {
		t.Errorf("expected today's ticket untouched, got %s", got.Status)
	}
}

func TestToday_UsesLocation(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 4, 23, 30, 0, 0, time.UTC))
	svc := NewService(newMockRepo(), WithClock(clk), WithLocation(time.FixedZone("EAT", 3*3600)))
	if got := svc.today(); !got.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected the local calendar day, got %s", got)
	}
}
