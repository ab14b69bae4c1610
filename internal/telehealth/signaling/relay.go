package signaling

import (
	"errors"
	"sort"
	"sync"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

var (
	ErrRoomFull      = errors.New("room is full")
	ErrDuplicatePeer = errors.New("peer id already in room")
	ErrNotJoined     = errors.New("not joined to a room")
	ErrAlreadyJoined = errors.New("already joined to a room")
	ErrUnknownPeer   = errors.New("target peer is not in the room")
)

// DefaultRoomCapacity fits one clinician and one patient.
const DefaultRoomCapacity = 2

// Observer hears about room membership changes. Calls happen outside the
// relay lock on the connection's goroutine.
type Observer interface {
	PeerJoined(clinicID, roomID, peerID string, peers int)
	PeerLeft(clinicID, roomID, peerID string, peers int)
}

// Member is one connection's presence in the relay.
type Member struct {
	ID       string
	ClinicID string

	roomID string
	send   chan Message

	kickOnce sync.Once
	kicked   chan struct{}
	code     int
	reason   string
}

func NewMember(clinicID, peerID string, buffer int) *Member {
	return &Member{
		ID:       peerID,
		ClinicID: clinicID,
		send:     make(chan Message, buffer),
		kicked:   make(chan struct{}),
	}
}

func (m *Member) Messages() <-chan Message { return m.send }
func (m *Member) Kicked() <-chan struct{} { return m.kicked }

// Kick asks the connection to close with code. Only the first call counts.
func (m *Member) Kick(code int, reason string) {
	m.kickOnce.Do(func() {
		m.code, m.reason = code, reason
		close(m.kicked)
	})
}

// CloseReason is valid once Kicked is closed.
func (m *Member) CloseReason() (int, string) {
	return m.code, m.reason
}

type room struct {
	members map[string]*Member
}

func (r *room) ids(except string) []string {
	ids := lo.Without(lo.Keys(r.members), except)
	sort.Strings(ids)
	return ids
}

type Relay struct {
	mu       sync.RWMutex
	rooms    map[string]*room // clinic/room -> members
	capacity int
	observer Observer
	logger   zerolog.Logger
}

func NewRelay(capacity int, logger zerolog.Logger) *Relay {
	if capacity < 2 {
		capacity = DefaultRoomCapacity
	}
	return &Relay{
		rooms:    make(map[string]*room),
		capacity: capacity,
		logger:   logger.With().Str("component", "signaling").Logger(),
	}
}

// SetObserver must be called before the relay serves connections.
func (r *Relay) SetObserver(o Observer) {
	r.observer = o
}

func roomKey(clinicID, roomID string) string {
	return clinicID + "/" + roomID
}

// deliver never blocks; a member that cannot keep up is disconnected.
func (r *Relay) deliver(m *Member, msg Message) {
	select {
	case m.send <- msg:
	default:
		r.logger.Warn().Str("peer", m.ID).Str("room", m.roomID).Msg("send buffer full, disconnecting peer")
		m.Kick(gorillawebsocket.ClosePolicyViolation, "send buffer full")
	}
}

// Join adds m to roomID, sends it the current room state and tells the
// others it arrived.
func (r *Relay) Join(m *Member, roomID string) error {
	if roomID == "" {
		return errors.New("room id is required")
	}
	r.mu.Lock()
	if m.roomID != "" {
		r.mu.Unlock()
		return ErrAlreadyJoined
	}
	key := roomKey(m.ClinicID, roomID)
	rm, ok := r.rooms[key]
	if !ok {
		rm = &room{members: make(map[string]*Member)}
	}
	if _, dup := rm.members[m.ID]; dup {
		r.mu.Unlock()
		return ErrDuplicatePeer
	}
	if len(rm.members) >= r.capacity {
		r.mu.Unlock()
		return ErrRoomFull
	}
	r.rooms[key] = rm
	others := rm.ids("")
	rm.members[m.ID] = m
	m.roomID = roomID
	count := len(rm.members)

	r.deliver(m, Message{Type: TypeRoomState, RoomID: roomID, Peers: others})
	for _, id := range others {
		r.deliver(rm.members[id], Message{Type: TypePeerJoined, RoomID: roomID, From: m.ID})
	}
	r.mu.Unlock()

	r.logger.Debug().Str("clinic", m.ClinicID).Str("room", roomID).Str("peer", m.ID).Int("peers", count).Msg("peer joined")
	if r.observer != nil {
		r.observer.PeerJoined(m.ClinicID, roomID, m.ID, count)
	}
	return nil
}

// Leave removes m from its room and tells the remaining peers. It is a no-op
// for a member that never joined or already left.
func (r *Relay) Leave(m *Member) {
	r.mu.Lock()
	roomID := m.roomID
	if roomID == "" {
		r.mu.Unlock()
		return
	}
	m.roomID = ""
	key := roomKey(m.ClinicID, roomID)
	rm, ok := r.rooms[key]
	if !ok || rm.members[m.ID] != m {
		r.mu.Unlock()
		return
	}
	delete(rm.members, m.ID)
	count := len(rm.members)
	if count == 0 {
		delete(r.rooms, key)
	}
	for _, other := range rm.members {
		r.deliver(other, Message{Type: TypePeerLeft, RoomID: roomID, From: m.ID})
	}
	r.mu.Unlock()

	r.logger.Debug().Str("clinic", m.ClinicID).Str("room", roomID).Str("peer", m.ID).Int("peers", count).Msg("peer left")
	if r.observer != nil {
		r.observer.PeerLeft(m.ClinicID, roomID, m.ID, count)
	}
}

// Route forwards an offer, answer or candidate from m. From is always the
// sender's registered id. An empty To reaches every other peer.
func (r *Relay) Route(m *Member, msg Message) error {
	if !msg.Type.Relayed() {
		return errUnsupportedType
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m.roomID == "" {
		return ErrNotJoined
	}
	rm, ok := r.rooms[roomKey(m.ClinicID, m.roomID)]
	if !ok {
		return ErrNotJoined
	}
	msg.From = m.ID
	msg.RoomID = m.roomID

	if msg.To != "" {
		target, ok := rm.members[msg.To]
		if !ok || msg.To == m.ID {
			return ErrUnknownPeer
		}
		r.deliver(target, msg)
		return nil
	}
	for id, other := range rm.members {
		if id != m.ID {
			r.deliver(other, msg)
		}
	}
	return nil
}

// Peers lists the peer ids in a room, sorted.
func (r *Relay) Peers(clinicID, roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomKey(clinicID, roomID)]
	if !ok {
		return []string{}
	}
	return rm.ids("")
}

func (r *Relay) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
