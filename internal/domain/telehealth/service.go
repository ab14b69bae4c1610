package telehealth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/domain/appointment"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/domain/consent"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/domain/patient"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/auth"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/notification"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/websocket"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/telehealth/quality"
)

// SignalPath is where clients open the signaling socket, relative to the
// server root.
const SignalPath = "/api/v1/telehealth/signal"

// DefaultTicketTTL bounds how long a join ticket can be used to connect.
const DefaultTicketTTL = 5 * time.Minute

type ConsentChecker interface {
	Require(ctx context.Context, patientID uuid.UUID, category string) error
}

type PatientDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type Notifier interface {
	Notify(ctx context.Context, templateID, recipient string, data map[string]string) (*notification.Notification, error)
}

type Service struct {
	repo       Repository
	consent    ConsentChecker
	patients   PatientDirectory
	notifier   Notifier
	publisher  websocket.Publisher
	jwt        auth.JWTConfig
	ticketTTL  time.Duration
	iceServers []ICEServer
	clock      clock.Clock
	logger     zerolog.Logger
}

type Option func(*Service)

func WithConsent(c ConsentChecker) Option { return func(s *Service) { s.consent = c } }
func WithPublisher(p websocket.Publisher) Option { return func(s *Service) { s.publisher = p } }
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithLinkNotifications emails the patient their room when a session is
// scheduled.
func WithLinkNotifications(patients PatientDirectory, n Notifier) Option {
	return func(s *Service) { s.patients, s.notifier = patients, n }
}

// WithTickets sets the key that signs join tickets and their lifetime.
func WithTickets(cfg auth.JWTConfig, ttl time.Duration) Option {
	return func(s *Service) {
		s.jwt = cfg
		if ttl > 0 {
			s.ticketTTL = ttl
		}
	}
}

// WithICEServers hands the STUN/TURN configuration to clients.
func WithICEServers(servers []webrtc.ICEServer) Option {
	return func(s *Service) {
		s.iceServers = make([]ICEServer, 0, len(servers))
		for _, srv := range servers {
			out := ICEServer{URLs: srv.URLs, Username: srv.Username}
			if cred, ok := srv.Credential.(string); ok {
				out.Credential = cred
			}
			s.iceServers = append(s.iceServers, out)
		}
	}
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, ticketTTL: DefaultTicketTTL, iceServers: []ICEServer{}, clock: clock.New(), logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "telehealth").Logger()
	return s
}

func newRoomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ScheduleSession creates the room for a telehealth appointment.
func (s *Service) ScheduleSession(ctx context.Context, a *appointment.Appointment) error {
	sess := &Session{
		AppointmentID:  a.ID,
		PatientID:      a.PatientID,
		PractitionerID: a.PractitionerID,
		RoomID:         newRoomID(),
		Status:         StatusScheduled,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return err
	}
	s.notifyLink(ctx, sess, a.Start)
	return nil
}

func (s *Service) notifyLink(ctx context.Context, sess *Session, start time.Time) {
	if s.notifier == nil || s.patients == nil {
		return
	}
	log := s.logger.With().Str("session", sess.ID.String()).Logger()
	p, err := s.patients.Get(ctx, sess.PatientID)
	if err != nil {
		log.Warn().Err(err).Msg("look up patient for video link")
		return
	}
	if p.Email == nil || *p.Email == "" {
		return
	}
	data := map[string]string{
		"patient_name": p.FullName(),
		"date":         start.Format("2006-01-02"),
		"time":         start.Format("15:04"),
		"room_id":      sess.RoomID,
	}
	if _, err := s.notifier.Notify(ctx, notification.TemplateTelehealthLink, *p.Email, data); err != nil {
		log.Warn().Err(err).Msg("send video link")
	}
}

// CancelSession cancels the room of a cancelled appointment. Appointments
// without a room are ignored.
func (s *Service) CancelSession(ctx context.Context, appointmentID uuid.UUID) error {
	sess, err := s.repo.GetByAppointment(ctx, appointmentID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sess.Status == StatusCancelled {
		return nil
	}
	return s.moveTo(ctx, sess, StatusCancelled)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Session, error) {
	return s.repo.GetByAppointment(ctx, appointmentID)
}

func (s *Service) GetByRoom(ctx context.Context, roomID string) (*Session, error) {
	return s.repo.GetByRoom(ctx, roomID)
}

// IssueTicket lets the calling user into the session's room as peerID. The
// patient must have signed telehealth consent.
func (s *Service) IssueTicket(ctx context.Context, id uuid.UUID, peerID string) (*JoinTicket, error) {
	if len(s.jwt.SigningKey) == 0 {
		return nil, errors.New("join tickets are not configured")
	}
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !Open(sess.Status) {
		return nil, ErrSessionClosed
	}
	if s.consent != nil {
		if err := s.consent.Require(ctx, sess.PatientID, consent.CategoryTelehealth); err != nil {
			return nil, err
		}
	}

	userID := auth.UserIDFromContext(ctx)
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		peerID = userID
	}
	if peerID == "" {
		return nil, fmt.Errorf("peer_id is required")
	}
	ticket, expires, err := auth.IssueTicket(s.jwt, userID, db.ClinicFromContext(ctx), sess.RoomID, peerID, s.ticketTTL)
	if err != nil {
		return nil, err
	}
	return &JoinTicket{
		Ticket:     ticket,
		ExpiresAt:  expires.UTC(),
		RoomID:     sess.RoomID,
		PeerID:     peerID,
		SignalPath: SignalPath,
		ICEServers: s.iceServers,
	}, nil
}

func (s *Service) ICEServers() []ICEServer {
	return s.iceServers
}

// End closes a session by hand, for example when a participant's browser
// never disconnected cleanly.
func (s *Service) End(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.moveTo(ctx, sess, StatusCompleted); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) moveTo(ctx context.Context, sess *Session, to string) error {
	if !CanTransition(sess.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Status, to)
	}
	now := s.clock.Now().UTC()
	switch to {
	case StatusInProgress:
		if sess.StartedAt == nil {
			sess.StartedAt = &now
		}
	case StatusCompleted, StatusCancelled:
		sess.EndedAt = &now
	}
	sess.Status = to
	if err := s.repo.Update(ctx, sess); err != nil {
		return err
	}
	s.publish(ctx, sess)
	return nil
}

func (s *Service) publish(ctx context.Context, sess *Session) {
	if s.publisher == nil {
		return
	}
	ev := websocket.NewEvent("telehealth.session-"+sess.Status, "telehealth:"+sess.PractitionerID, sess.ID.String(), sess)
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Msg("publish session event")
	}
}

// RoomChanged follows room occupancy reported by the signaling relay. The
// first participant puts the session in the waiting room, the second starts
// it, and an empty room ends a started call.
func (s *Service) RoomChanged(ctx context.Context, roomID string, peers int) error {
	sess, err := s.repo.GetByRoom(ctx, roomID)
	if err != nil {
		return err
	}
	var to string
	switch {
	case peers >= 2 && (sess.Status == StatusScheduled || sess.Status == StatusWaiting):
		to = StatusInProgress
	case peers == 1 && sess.Status == StatusScheduled:
		to = StatusWaiting
	case peers == 0 && sess.Status == StatusInProgress:
		to = StatusCompleted
	case peers == 0 && sess.Status == StatusWaiting:
		to = StatusScheduled
	default:
		return nil
	}
	return s.moveTo(ctx, sess, to)
}

// RecordQuality stores a participant's quality reading.
func (s *Service) RecordQuality(ctx context.Context, id uuid.UUID, q *QualityReport) error {
	q.PeerID = strings.TrimSpace(q.PeerID)
	if q.PeerID == "" {
		q.PeerID = auth.UserIDFromContext(ctx)
	}
	if q.PeerID == "" {
		return fmt.Errorf("peer_id is required")
	}
	if !quality.Bucket(q.Bucket).Valid() {
		return fmt.Errorf("invalid bucket: %s", q.Bucket)
	}
	for name, v := range map[string]*float64{"rtt_ms": q.RTTMs, "loss_pct": q.LossPct, "jitter_ms": q.JitterMs} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if q.LossPct != nil && *q.LossPct > 100 {
		return fmt.Errorf("loss_pct must be at most 100")
	}

	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status == StatusCancelled {
		return ErrSessionClosed
	}
	q.SessionID = sess.ID
	if q.RecordedAt.IsZero() {
		q.RecordedAt = s.clock.Now().UTC()
	}
	return s.repo.AddQualityReport(ctx, q)
}

// QualityFromReport converts a monitor reading into a stored report.
func QualityFromReport(peerID string, r quality.Report) *QualityReport {
	q := &QualityReport{PeerID: peerID, Bucket: string(r.Bucket), RecordedAt: r.At}
	if r.Sample.HasPair {
		rtt := float64(r.Sample.RTT) / float64(time.Millisecond)
		loss := r.Sample.LossRatio() * 100
		jitter := r.Sample.Jitter * 1000
		q.RTTMs, q.LossPct, q.JitterMs = &rtt, &loss, &jitter
	}
	return q
}

func (s *Service) ListQuality(ctx context.Context, id uuid.UUID, limit int) ([]*QualityReport, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	reports, err := s.repo.ListQualityReports(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	if reports == nil {
		reports = []*QualityReport{}
	}
	return reports, nil
}
