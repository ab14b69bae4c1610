package appointment

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrSlotTaken         = errors.New("practitioner already booked for this time")
)

const (
	TypeInPerson   = "in-person"
	TypeTelehealth = "telehealth"
)

const (
	StatusBooked     = "booked"
	StatusCheckedIn  = "checked-in"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusNoShow     = "no-show"
)

// DefaultDuration applies when a booking has no end time.
const DefaultDuration = 30 * time.Minute

var transitions = map[string][]string{
	StatusBooked:     {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether an appointment in status from may move to to.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	PatientID          uuid.UUID `db:"patient_id" json:"patient_id"`
	PractitionerID     string    `db:"practitioner_id" json:"practitioner_id"`
	Start              time.Time `db:"start_time" json:"start"`
	End                time.Time `db:"end_time" json:"end"`
	Type               string    `db:"appointment_type" json:"type"`
	Status             string    `db:"status" json:"status"`
	Reason             *string   `db:"reason" json:"reason,omitempty"`
	Notes              *string   `db:"notes" json:"notes,omitempty"`
	CancellationReason *string   `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	ReminderSent       bool      `db:"reminder_sent" json:"reminder_sent"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Reminder is a booked appointment joined with the contact details needed
// to notify the patient.
type Reminder struct {
	Appointment *Appointment
	PatientName string
	Phone       *string
	Email       *string
}
