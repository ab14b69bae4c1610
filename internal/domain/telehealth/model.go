package telehealth

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("telehealth session not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrSessionClosed     = errors.New("telehealth session has ended")
)

const (
	StatusScheduled  = "scheduled"
	StatusWaiting    = "waiting"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

var transitions = map[string][]string{
	StatusScheduled:  {StatusWaiting, StatusInProgress, StatusCompleted, StatusCancelled},
	StatusWaiting:    {StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Open reports whether participants may still join.
func Open(status string) bool {
	return status == StatusScheduled || status == StatusWaiting || status == StatusInProgress
}

// Session is the video room attached to a telehealth appointment.
type Session struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	AppointmentID  uuid.UUID  `db:"appointment_id" json:"appointment_id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	PractitionerID string     `db:"practitioner_id" json:"practitioner_id"`
	RoomID         string     `db:"room_id" json:"room_id"`
	Status         string     `db:"status" json:"status"`
	LastQuality    *string    `db:"last_quality" json:"last_quality,omitempty"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	EndedAt        *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// QualityReport is one participant's view of the connection.
type QualityReport struct {
	ID         uuid.UUID `db:"id" json:"id"`
	SessionID  uuid.UUID `db:"session_id" json:"session_id"`
	PeerID     string    `db:"peer_id" json:"peer_id"`
	Bucket     string    `db:"bucket" json:"bucket"`
	RTTMs      *float64  `db:"rtt_ms" json:"rtt_ms,omitempty"`
	LossPct    *float64  `db:"loss_pct" json:"loss_pct,omitempty"`
	JitterMs   *float64  `db:"jitter_ms" json:"jitter_ms,omitempty"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// JoinTicket is what a participant needs to open the signaling socket.
type JoinTicket struct {
	Ticket     string      `json:"ticket"`
	ExpiresAt  time.Time   `json:"expires_at"`
	RoomID     string      `json:"room_id"`
	PeerID     string      `json:"peer_id"`
	SignalPath string      `json:"signal_path"`
	ICEServers []ICEServer `json:"ice_servers"`
}

// ICEServer mirrors the browser RTCIceServer shape.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}
