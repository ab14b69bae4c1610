package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/notification"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/websocket"
)

// TopicAppointments carries booking and status events for front-desk boards.
const TopicAppointments = "appointments"

// SessionScheduler creates and cancels the video room that belongs to a
// telehealth appointment.
type SessionScheduler interface {
	ScheduleSession(ctx context.Context, a *Appointment) error
	CancelSession(ctx context.Context, appointmentID uuid.UUID) error
}

type Notifier interface {
	Notify(ctx context.Context, templateID, recipient string, data map[string]string) (*notification.Notification, error)
}

type Service struct {
	repo      Repository
	sessions  SessionScheduler
	notifier  Notifier
	publisher websocket.Publisher
	clock     clock.Clock
	logger    zerolog.Logger
}

type Option func(*Service)

func WithSessions(s SessionScheduler) Option { return func(svc *Service) { svc.sessions = s } }
func WithNotifier(n Notifier) Option { return func(svc *Service) { svc.notifier = n } }
func WithPublisher(p websocket.Publisher) Option { return func(svc *Service) { svc.publisher = p } }
func WithClock(c clock.Clock) Option { return func(svc *Service) { svc.clock = c } }
func WithLogger(l zerolog.Logger) Option { return func(svc *Service) { svc.logger = l } }

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, clock: clock.New(), logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Book validates and stores a new appointment. Overlap checking and insert
// run under a per-practitioner lock so concurrent bookings cannot both win.
func (s *Service) Book(ctx context.Context, a *Appointment) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	a.PractitionerID = strings.TrimSpace(a.PractitionerID)
	if a.PractitionerID == "" {
		return fmt.Errorf("practitioner_id is required")
	}
	if a.Start.IsZero() {
		return fmt.Errorf("start is required")
	}
	if a.End.IsZero() {
		a.End = a.Start.Add(DefaultDuration)
	}
	if !a.End.After(a.Start) {
		return fmt.Errorf("end must be after start")
	}
	if a.Type == "" {
		a.Type = TypeInPerson
	}
	if a.Type != TypeInPerson && a.Type != TypeTelehealth {
		return fmt.Errorf("invalid type: %s", a.Type)
	}
	a.Status = StatusBooked
	a.ReminderSent = false
	a.CancellationReason = nil

	err := db.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.checkSlot(ctx, a, uuid.Nil); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, a); err != nil {
			return err
		}
		if a.Type == TypeTelehealth && s.sessions != nil {
			if err := s.sessions.ScheduleSession(ctx, a); err != nil {
				return fmt.Errorf("schedule telehealth session: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, "appointment.booked", a)
	return nil
}

func (s *Service) checkSlot(ctx context.Context, a *Appointment, exclude uuid.UUID) error {
	if err := s.repo.LockPractitioner(ctx, a.PractitionerID); err != nil {
		return err
	}
	taken, err := s.repo.HasOverlap(ctx, a.PractitionerID, a.Start, a.End, exclude)
	if err != nil {
		return err
	}
	if taken {
		return ErrSlotTaken
	}
	return nil
}

// Reschedule moves a booked appointment. Duration is kept when end is zero.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, start, end time.Time) (*Appointment, error) {
	if start.IsZero() {
		return nil, fmt.Errorf("start is required")
	}
	var a *Appointment
	err := db.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if a, err = s.repo.GetByID(ctx, id); err != nil {
			return err
		}
		if a.Status != StatusBooked {
			return fmt.Errorf("%w: only booked appointments can be rescheduled", ErrInvalidTransition)
		}
		if end.IsZero() {
			end = start.Add(a.End.Sub(a.Start))
		}
		if !end.After(start) {
			return fmt.Errorf("end must be after start")
		}
		a.Start, a.End = start, end
		a.ReminderSent = false
		if err := s.checkSlot(ctx, a, a.ID); err != nil {
			return err
		}
		return s.repo.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "appointment.rescheduled", a)
	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCheckedIn, nil)
}

func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusInProgress, nil)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, nil)
}

func (s *Service) NoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusNoShow, nil)
}

// Cancel requires a reason and also cancels any telehealth session.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("cancellation reason is required")
	}
	return s.transition(ctx, id, StatusCancelled, &reason)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to string, reason *string) (*Appointment, error) {
	var a *Appointment
	err := db.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if a, err = s.repo.GetByID(ctx, id); err != nil {
			return err
		}
		if !CanTransition(a.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
		}
		a.Status = to
		if to == StatusCancelled {
			a.CancellationReason = reason
		}
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		if to == StatusCancelled && a.Type == TypeTelehealth && s.sessions != nil {
			return s.sessions.CancelSession(ctx, a.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "appointment."+to, a)
	return a, nil
}

func (s *Service) publish(ctx context.Context, eventType string, a *Appointment) {
	if s.publisher == nil {
		return
	}
	ev := websocket.NewEvent(eventType, TopicAppointments, a.ID.String(), a)
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish appointment event")
	}
}

// SendReminders notifies patients whose booked appointment starts within
// lead of now and marks each one sent. Failures for one appointment are
// logged and do not stop the rest. It returns the number sent.
func (s *Service) SendReminders(ctx context.Context, lead time.Duration) (int, error) {
	if s.notifier == nil {
		return 0, fmt.Errorf("no notifier configured")
	}
	now := s.clock.Now()
	due, err := s.repo.DueReminders(ctx, now, now.Add(lead))
	if err != nil {
		return 0, fmt.Errorf("load due reminders: %w", err)
	}

	sent := 0
	for _, rem := range due {
		log := s.logger.With().Str("appointment_id", rem.Appointment.ID.String()).Logger()

		recipient := reminderRecipient(rem)
		if recipient == "" {
			log.Warn().Msg("patient has no phone or email, skipping reminder")
		} else if _, err := s.notifier.Notify(ctx, notification.TemplateAppointmentReminder, recipient, reminderData(rem)); err != nil {
			log.Error().Err(err).Msg("send appointment reminder")
			continue
		} else {
			sent++
		}

		if err := s.repo.MarkReminderSent(ctx, rem.Appointment.ID); err != nil {
			log.Error().Err(err).Msg("mark reminder sent")
		}
	}
	return sent, nil
}

func reminderRecipient(rem *Reminder) string {
	if rem.Phone != nil && *rem.Phone != "" {
		return *rem.Phone
	}
	if rem.Email != nil && *rem.Email != "" {
		return *rem.Email
	}
	return ""
}

func reminderData(rem *Reminder) map[string]string {
	a := rem.Appointment
	return map[string]string{
		"patient_name": rem.PatientName,
		"type":         a.Type,
		"date":         a.Start.Format("Mon 2 Jan 2006"),
		"time":         a.Start.Format("15:04"),
		"practitioner": a.PractitionerID,
	}
}
