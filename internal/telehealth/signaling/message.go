// Package signaling relays WebRTC session descriptions and ICE candidates
// between the peers of a telehealth room over websockets.
package signaling

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeJoin         Type = "join"
	TypeLeave        Type = "leave"
	TypeRoomState    Type = "room-state"
	TypePeerJoined   Type = "peer-joined"
	TypePeerLeft     Type = "peer-left"
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
	TypeError        Type = "error"
)

// Message is the single wire envelope. Which fields are set depends on Type.
type Message struct {
	Type      Type                       `json:"type"`
	RoomID    string                     `json:"room_id,omitempty"`
	From      string                     `json:"from,omitempty"`
	To        string                     `json:"to,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Peers     []string                   `json:"peers,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

var errUnsupportedType = errors.New("unsupported message type")

// Relayed reports whether the relay forwards t between peers.
func (t Type) Relayed() bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeICECandidate
}

// Validate checks a message sent by a client.
func (m Message) Validate() error {
	switch m.Type {
	case TypeJoin:
		if m.RoomID == "" {
			return fmt.Errorf("join requires room_id")
		}
	case TypeLeave:
	case TypeOffer, TypeAnswer:
		if m.SDP == nil || m.SDP.SDP == "" {
			return fmt.Errorf("%s requires sdp", m.Type)
		}
		want := webrtc.SDPTypeOffer
		if m.Type == TypeAnswer {
			want = webrtc.SDPTypeAnswer
		}
		if m.SDP.Type != want {
			return fmt.Errorf("%s carries sdp of type %s", m.Type, m.SDP.Type)
		}
	case TypeICECandidate:
		if m.Candidate == nil {
			return fmt.Errorf("ice-candidate requires candidate")
		}
	default:
		return fmt.Errorf("%w: %q", errUnsupportedType, m.Type)
	}
	return nil
}

// Description wraps a local description for sending. The message type follows
// the description type.
func Description(to string, sd webrtc.SessionDescription) Message {
	t := TypeOffer
	if sd.Type == webrtc.SDPTypeAnswer {
		t = TypeAnswer
	}
	return Message{Type: t, To: to, SDP: &sd}
}

func Candidate(to string, c webrtc.ICECandidateInit) Message {
	return Message{Type: TypeICECandidate, To: to, Candidate: &c}
}

func errorMessage(err error) Message {
	return Message{Type: TypeError, Error: err.Error()}
}
