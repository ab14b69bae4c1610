package queue

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/auth"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/websocket"
)

var departmentPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,49}$`)

// Topic is the realtime topic a department's waiting-room board listens on.
func Topic(department string) string {
	return "queue:" + department
}

type Service struct {
	repo      Repository
	publisher websocket.Publisher
	clock     clock.Clock
	loc       *time.Location
	logger    zerolog.Logger
}

type Option func(*Service)

func WithPublisher(p websocket.Publisher) Option { return func(s *Service) { s.publisher = p } }
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithLocation sets the time zone whose calendar day numbers tickets.
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, clock: clock.New(), loc: time.UTC, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// today is the current calendar day as midnight UTC, matching a DATE column.
func (s *Service) today() time.Time {
	y, m, d := s.clock.Now().In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func normalizeDepartment(department string) (string, error) {
	department = strings.ToLower(strings.TrimSpace(department))
	if !departmentPattern.MatchString(department) {
		return "", fmt.Errorf("invalid department: %q", department)
	}
	return department, nil
}

// TakeTicket issues the next number of the day for department.
func (s *Service) TakeTicket(ctx context.Context, patientID uuid.UUID, department, priority string) (*Ticket, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	department, err := normalizeDepartment(department)
	if err != nil {
		return nil, err
	}
	if priority == "" {
		priority = PriorityNormal
	}
	if !validPriorities[priority] {
		return nil, fmt.Errorf("invalid priority: %q", priority)
	}

	t := &Ticket{
		PatientID:  patientID,
		Department: department,
		TicketDate: s.today(),
		Priority:   priority,
		Status:     StatusWaiting,
	}
	err = db.RunInTx(ctx, func(ctx context.Context) error {
		n, err := s.repo.NextNumber(ctx, department, t.TicketDate)
		if err != nil {
			return fmt.Errorf("allocate ticket number: %w", err)
		}
		t.Number = n
		return s.repo.Create(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "queue.ticket-issued", t)
	return t, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return s.repo.GetByID(ctx, id)
}

// Triage changes a waiting ticket's priority.
func (s *Service) Triage(ctx context.Context, id uuid.UUID, priority string) (*Ticket, error) {
	if !validPriorities[priority] {
		return nil, fmt.Errorf("invalid priority: %q", priority)
	}
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusWaiting {
		return nil, fmt.Errorf("%w: only waiting tickets can be triaged", ErrInvalidTransition)
	}
	t.Priority = priority
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	s.publish(ctx, "queue.ticket-triaged", t)
	return t, nil
}

// CallNext calls the highest priority, lowest numbered waiting ticket.
func (s *Service) CallNext(ctx context.Context, department string) (*Ticket, error) {
	department, err := normalizeDepartment(department)
	if err != nil {
		return nil, err
	}
	var t *Ticket
	err = db.RunInTx(ctx, func(ctx context.Context) error {
		next, err := s.repo.NextWaiting(ctx, department, s.today())
		if err != nil {
			return err
		}
		t = next
		now := s.clock.Now()
		t.Status = StatusCalled
		t.CalledAt = &now
		if uid := auth.UserIDFromContext(ctx); uid != "" {
			t.CalledBy = &uid
		}
		return s.repo.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "queue.ticket-called", t)
	return t, nil
}

func (s *Service) StartConsult(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return s.transition(ctx, id, StatusInConsult)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return s.transition(ctx, id, StatusCompleted)
}

func (s *Service) Skip(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return s.transition(ctx, id, StatusSkipped)
}

// Requeue puts a skipped patient back in line with their original number.
func (s *Service) Requeue(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return s.transition(ctx, id, StatusWaiting)
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return s.transition(ctx, id, StatusCancelled)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to string) (*Ticket, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	now := s.clock.Now()
	switch to {
	case StatusInConsult:
		t.StartedAt = &now
	case StatusCompleted:
		t.CompletedAt = &now
	case StatusWaiting:
		t.CalledAt, t.CalledBy = nil, nil
	}
	t.Status = to
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	s.publish(ctx, "queue.ticket-"+to, t)
	return t, nil
}

// Board returns today's open tickets of department grouped by status.
func (s *Service) Board(ctx context.Context, department string) (*Board, error) {
	department, err := normalizeDepartment(department)
	if err != nil {
		return nil, err
	}
	day := s.today()
	tickets, err := s.repo.ListByDay(ctx, department, day, []string{StatusWaiting, StatusCalled, StatusInConsult})
	if err != nil {
		return nil, err
	}
	b := &Board{
		Department: department,
		Date:       day.Format("2006-01-02"),
		Waiting:    []*Ticket{},
		Called:     []*Ticket{},
		InConsult:  []*Ticket{},
	}
	for _, t := range tickets {
		switch t.Status {
		case StatusWaiting:
			b.Waiting = append(b.Waiting, t)
		case StatusCalled:
			b.Called = append(b.Called, t)
		case StatusInConsult:
			b.InConsult = append(b.InConsult, t)
		}
	}
	return b, nil
}

// ResetStale cancels tickets left waiting or called on earlier days.
func (s *Service) ResetStale(ctx context.Context) (int64, error) {
	n, err := s.repo.CancelStale(ctx, s.today())
	if err != nil {
		return 0, fmt.Errorf("cancel stale tickets: %w", err)
	}
	if n > 0 {
		s.logger.Info().Int64("tickets", n).Msg("cancelled stale queue tickets")
	}
	return n, nil
}

func (s *Service) publish(ctx context.Context, eventType string, t *Ticket) {
	if s.publisher == nil {
		return
	}
	ev := websocket.NewEvent(eventType, Topic(t.Department), t.ID.String(), t)
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish queue event")
	}
}
