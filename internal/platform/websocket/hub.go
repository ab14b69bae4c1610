// Package websocket pushes live clinic events (queue boards, appointment
// changes) to browser clients. Clients subscribe to topics inside their
// clinic; events published in one clinic never reach another.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Event is one notification delivered to subscribers of Topic.
type Event struct {
	Type       string          `json:"type"`
	Topic      string          `json:"topic"`
	ClinicID   string          `json:"clinic_id"`
	ResourceID string          `json:"resource_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is what a browser sends to change its subscriptions.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Publisher is implemented by Hub; domain services depend on this instead.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NewEvent builds an event with data marshalled from v. Marshal failures
// leave Data empty.
func NewEvent(eventType, topic, resourceID string, v any) Event {
	ev := Event{Type: eventType, Topic: topic, ResourceID: resourceID, Timestamp: time.Now().UTC()}
	if v != nil {
		if data, err := json.Marshal(v); err == nil {
			ev.Data = data
		}
	}
	return ev
}

type Client struct {
	ID       string
	ClinicID string
	Send     chan []byte
	topics   map[string]struct{}
}

func NewClient(clinicID string) *Client {
	return &Client{
		ID:       uuid.NewString(),
		ClinicID: clinicID,
		Send:     make(chan []byte, sendBuffer),
		topics:   make(map[string]struct{}),
	}
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // clinic/topic -> subscribers
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "realtime").Logger(),
	}
}

func topicKey(clinicID, topic string) string {
	return clinicID + "/" + topic
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[client] = struct{}{}
}

// Unregister drops every subscription and closes Send. Safe to call twice.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for topic := range client.topics {
		h.removeLocked(client, topic)
	}
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) removeLocked(client *Client, topic string) {
	key := topicKey(client.ClinicID, topic)
	if subs, ok := h.clients[key]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.clients, key)
		}
	}
	delete(client.topics, topic)
}

func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		key := topicKey(client.ClinicID, topic)
		if h.clients[key] == nil {
			h.clients[key] = make(map[*Client]struct{})
		}
		h.clients[key][client] = struct{}{}
		client.topics[topic] = struct{}{}
	}
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		h.removeLocked(client, topic)
	}
}

func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast delivers event to the subscribers of its clinic and topic.
// Clients whose buffer is full miss the event rather than stall the hub.
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", event.Topic).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topicKey(event.ClinicID, event.Topic)] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client", client.ID).Str("topic", event.Topic).Msg("client buffer full, event dropped")
		}
	}
}

// Publish stamps the clinic from ctx when the event has none and broadcasts.
func (h *Hub) Publish(ctx context.Context, event Event) error {
	if event.ClinicID == "" {
		event.ClinicID = db.ClinicFromContext(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	h.Broadcast(event)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(clinicID, topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topicKey(clinicID, topic)])
}

// Handler upgrades /ws requests and runs the client pumps.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts upgrades from the given origins; an empty list allows
// any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

func (wsh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

// HandleConnect subscribes the new client to every ?topic= parameter and
// starts the pumps.
func (wsh *Handler) HandleConnect(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(db.ClinicFromContext(c.Request().Context()))
	wsh.hub.Register(client)
	if topics := c.QueryParams()["topic"]; len(topics) > 0 {
		wsh.hub.Subscribe(client, topics)
	}

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)
	return nil
}

func (wsh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		wsh.hub.ProcessMessage(client, msg)
	}
}

func (wsh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
