// Package notification renders patient-facing messages from templates and
// dispatches them through pluggable senders.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/auth"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Built-in template identifiers.
const (
	TemplateAppointmentReminder = "appointment-reminder"
	TemplateTelehealthLink      = "telehealth-link"
	TemplateInvoiceIssued       = "invoice-issued"
)

var ErrNotFound = errors.New("notification not found")

type Notification struct {
	ID           string            `json:"id"`
	ClinicID     string            `json:"clinic_id"`
	Channel      Channel           `json:"channel"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	Attempts     int               `json:"attempts"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Sender delivers one rendered notification over its channel.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// LogSender writes notifications to the log instead of a gateway. It is the
// default when no email or SMS provider is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) Send(_ context.Context, n *Notification) error {
	s.Logger.Info().
		Str("notification_id", n.ID).
		Str("channel", string(n.Channel)).
		Str("recipient", n.Recipient).
		Str("subject", n.Subject).
		Msg("notification dispatched")
	return nil
}

type Template struct {
	ID      string  `json:"id"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
	Channel Channel `json:"channel"`
}

// TemplateEngine renders {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:      TemplateAppointmentReminder,
			Subject: "Appointment reminder for {{patient_name}}",
			Body:    "Dear {{patient_name}}, this is a reminder of your {{type}} appointment on {{date}} at {{time}} with {{practitioner}}.",
			Channel: ChannelSMS,
		},
		{
			ID:      TemplateTelehealthLink,
			Subject: "Your video visit",
			Body:    "Dear {{patient_name}}, join your video visit on {{date}} at {{time}} using room {{room_id}}.",
			Channel: ChannelEmail,
		},
		{
			ID:      TemplateInvoiceIssued,
			Subject: "Invoice {{invoice_number}}",
			Body:    "Dear {{patient_name}}, invoice {{invoice_number}} for {{amount}} {{currency}} has been issued.",
			Channel: ChannelEmail,
		},
	} {
		e.templates[t.ID] = t
	}
	return e
}

func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render substitutes data into the template. Placeholders without a value are
// left in place so a missing field is visible in the output.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (Template, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return Template{}, fmt.Errorf("template %q not found", templateID)
	}
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	t.Subject = r.Replace(t.Subject)
	t.Body = r.Replace(t.Body)
	return t, nil
}

// Manager renders, sends and remembers recent notifications per process.
type Manager struct {
	senders   map[Channel]Sender
	templates *TemplateEngine
	logger    zerolog.Logger
	keep      int

	mu            sync.RWMutex
	notifications map[string]*Notification
	order         []string
}

func NewManager(templates *TemplateEngine, senders map[Channel]Sender, logger zerolog.Logger) *Manager {
	return &Manager{
		senders:       senders,
		templates:     templates,
		logger:        logger.With().Str("component", "notification").Logger(),
		keep:          1000,
		notifications: make(map[string]*Notification),
	}
}

// Notify renders templateID for recipient and sends it over the template's
// channel. The returned notification records the outcome either way.
func (m *Manager) Notify(ctx context.Context, templateID, recipient string, data map[string]string) (*Notification, error) {
	if strings.TrimSpace(recipient) == "" {
		return nil, fmt.Errorf("recipient is required")
	}
	t, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, err
	}
	n := &Notification{
		ID:           uuid.NewString(),
		ClinicID:     db.ClinicFromContext(ctx),
		Channel:      t.Channel,
		Recipient:    recipient,
		Subject:      t.Subject,
		Body:         t.Body,
		TemplateID:   templateID,
		TemplateData: data,
		CreatedAt:    time.Now().UTC(),
	}
	err = m.dispatch(ctx, n)
	m.store(n)
	return n, err
}

func (m *Manager) dispatch(ctx context.Context, n *Notification) error {
	n.Attempts++
	sender, ok := m.senders[n.Channel]
	var err error
	if !ok {
		err = fmt.Errorf("no sender for channel %q", n.Channel)
	} else {
		err = sender.Send(ctx, n)
	}
	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
		m.logger.Warn().Err(err).Str("notification_id", n.ID).Msg("notification failed")
		return err
	}
	now := time.Now().UTC()
	n.Status = StatusSent
	n.SentAt = &now
	n.Error = ""
	return nil
}

func (m *Manager) store(n *Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = n
	m.order = append(m.order, n.ID)
	for len(m.order) > m.keep {
		delete(m.notifications, m.order[0])
		m.order = m.order[1:]
	}
}

func (m *Manager) Get(ctx context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok || n.ClinicID != db.ClinicFromContext(ctx) {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

// List returns the clinic's notifications, newest first, optionally filtered
// by recipient.
func (m *Manager) List(ctx context.Context, recipient string, limit int) []*Notification {
	clinic := db.ClinicFromContext(ctx)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Notification
	for _, n := range m.notifications {
		if n.ClinicID != clinic || (recipient != "" && n.Recipient != recipient) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Retry re-sends a failed notification.
func (m *Manager) Retry(ctx context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	stored, ok := m.notifications[id]
	var n Notification
	if ok {
		n = *stored
	}
	m.mu.RUnlock()
	if !ok || n.ClinicID != db.ClinicFromContext(ctx) {
		return nil, ErrNotFound
	}
	if n.Status != StatusFailed {
		return nil, fmt.Errorf("notification %s is %s, only failed notifications can be retried", id, n.Status)
	}

	err := m.dispatch(ctx, &n)

	m.mu.Lock()
	if cur, ok := m.notifications[id]; ok {
		*cur = n
	}
	m.mu.Unlock()
	return &n, err
}

type Handler struct {
	manager *Manager
}

func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/notifications", auth.RequireRole(auth.RoleReceptionist))
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/retry", h.Retry)
}

func (h *Handler) List(c echo.Context) error {
	items := h.manager.List(c.Request().Context(), c.QueryParam("recipient"), 100)
	if items == nil {
		items = []*Notification{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Get(c echo.Context) error {
	n, err := h.manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) Retry(c echo.Context) error {
	n, err := h.manager.Retry(c.Request().Context(), c.Param("id"))
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case n == nil && err != nil:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}
