package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Limits bound what one connection may send.
type Limits struct {
	MaxMessageBytes   int64
	MessagesPerSecond float64
}

func (l Limits) withDefaults() Limits {
	if l.MaxMessageBytes <= 0 {
		l.MaxMessageBytes = 64 * 1024
	}
	if l.MessagesPerSecond <= 0 {
		l.MessagesPerSecond = 50
	}
	return l
}

// Handler serves the signaling websocket. Connections authenticate with a
// join ticket that fixes their clinic, room and peer id.
type Handler struct {
	relay    *Relay
	jwt      auth.JWTConfig
	limits   Limits
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

func NewHandler(relay *Relay, jwtCfg auth.JWTConfig, limits Limits, allowedOrigins []string, logger zerolog.Logger) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		relay:  relay,
		jwt:    jwtCfg,
		limits: limits.withDefaults(),
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
		logger: logger.With().Str("component", "signaling").Logger(),
	}
}

// RegisterRoutes mounts the endpoint. It must sit outside the bearer-token
// middleware since browsers cannot set headers on websocket upgrades.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/telehealth/signal", h.Connect)
}

func (h *Handler) Connect(c echo.Context) error {
	claims, err := auth.ParseTicket(h.jwt, c.QueryParam("ticket"))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired ticket")
	}
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	m := NewMember(claims.ClinicID, claims.PeerID, sendBuffer)
	go h.writePump(m, ws)
	h.readPump(m, ws, claims.RoomID)
	return nil
}

var errMessageTooLarge = errors.New("message too large")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errMessageTooLarge
	}
	return b, nil
}

// readPump owns the member's relay presence. The write pump owns the socket
// and closes it once the member is kicked.
func (h *Handler) readPump(m *Member, ws *gorillawebsocket.Conn, ticketRoom string) {
	log := h.logger.With().Str("clinic", m.ClinicID).Str("peer", m.ID).Logger()
	defer func() {
		h.relay.Leave(m)
		m.Kick(gorillawebsocket.CloseNormalClosure, "")
	}()

	limiter := rate.NewLimiter(rate.Limit(h.limits.MessagesPerSecond), max(1, int(h.limits.MessagesPerSecond)))
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	reply := func(err error) {
		select {
		case m.send <- errorMessage(err):
		default:
		}
	}

	for {
		msgType, r, err := ws.NextReader()
		if err != nil {
			return
		}
		if !limiter.Allow() {
			log.Warn().Msg("signaling rate limit exceeded")
			m.Kick(gorillawebsocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != gorillawebsocket.TextMessage {
			m.Kick(gorillawebsocket.ClosePolicyViolation, "expected text message")
			return
		}
		data, err := readLimited(r, h.limits.MaxMessageBytes)
		if err != nil {
			log.Warn().Err(err).Msg("signaling message rejected")
			m.Kick(gorillawebsocket.ClosePolicyViolation, "message too large")
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			reply(errors.New("invalid message"))
			continue
		}
		if err := msg.Validate(); err != nil {
			reply(err)
			continue
		}

		switch msg.Type {
		case TypeJoin:
			if msg.RoomID != ticketRoom {
				reply(errors.New("ticket is not valid for this room"))
				continue
			}
			if err := h.relay.Join(m, msg.RoomID); err != nil {
				reply(err)
			}
		case TypeLeave:
			return
		default:
			if err := h.relay.Route(m, msg); err != nil {
				reply(err)
			}
		}
	}
}

func (h *Handler) writePump(m *Member, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg := <-m.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(msg); err != nil {
				m.Kick(gorillawebsocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				m.Kick(gorillawebsocket.CloseAbnormalClosure, "ping failed")
				return
			}
		case <-m.Kicked():
			h.flush(m, ws)
			code, reason := m.CloseReason()
			_ = ws.WriteControl(gorillawebsocket.CloseMessage,
				gorillawebsocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever is already queued, such as a final error reply.
func (h *Handler) flush(m *Member, ws *gorillawebsocket.Conn) {
	for {
		select {
		case msg := <-m.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
