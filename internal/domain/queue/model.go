package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("queue ticket not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrQueueEmpty        = errors.New("no waiting tickets")
)

const (
	PriorityEmergency = "emergency"
	PriorityUrgent    = "urgent"
	PriorityNormal    = "normal"
)

var validPriorities = map[string]bool{
	PriorityEmergency: true, PriorityUrgent: true, PriorityNormal: true,
}

const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusInConsult = "in-consult"
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusCancelled = "cancelled"
)

// A skipped ticket may rejoin the queue keeping its original number.
var transitions = map[string][]string{
	StatusWaiting:   {StatusCalled, StatusCancelled},
	StatusCalled:    {StatusInConsult, StatusSkipped, StatusCancelled},
	StatusInConsult: {StatusCompleted},
	StatusSkipped:   {StatusWaiting, StatusCancelled},
}

func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Ticket struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	Department  string     `db:"department" json:"department"`
	TicketDate  time.Time  `db:"ticket_date" json:"ticket_date"`
	Number      int        `db:"number" json:"number"`
	Priority    string     `db:"priority" json:"priority"`
	Status      string     `db:"status" json:"status"`
	CalledBy    *string    `db:"called_by" json:"called_by,omitempty"`
	CalledAt    *time.Time `db:"called_at" json:"called_at,omitempty"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Rank orders priorities for calling: lower is called first.
func Rank(priority string) int {
	switch priority {
	case PriorityEmergency:
		return 0
	case PriorityUrgent:
		return 1
	default:
		return 2
	}
}

// Board is the waiting-room view of one department for one day.
type Board struct {
	Department string    `json:"department"`
	Date       string    `json:"date"`
	Waiting    []*Ticket `json:"waiting"`
	Called     []*Ticket `json:"called"`
	InConsult  []*Ticket `json:"in_consult"`
}
