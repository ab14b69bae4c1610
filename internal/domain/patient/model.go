package patient

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("patient not found")
	ErrDuplicateMRN = errors.New("mrn already registered")
)

// Patient is a registered person receiving care at the clinic.
type Patient struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	MRN                   string     `db:"mrn" json:"mrn"`
	FirstName             string     `db:"first_name" json:"first_name"`
	LastName              string     `db:"last_name" json:"last_name"`
	BirthDate             *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Gender                *string    `db:"gender" json:"gender,omitempty"`
	Phone                 *string    `db:"phone" json:"phone,omitempty"`
	Email                 *string    `db:"email" json:"email,omitempty"`
	Address               *string    `db:"address" json:"address,omitempty"`
	BloodGroup            *string    `db:"blood_group" json:"blood_group,omitempty"`
	EmergencyContactName  *string    `db:"emergency_contact_name" json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone *string    `db:"emergency_contact_phone" json:"emergency_contact_phone,omitempty"`
	Active                bool       `db:"active" json:"active"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

var validGenders = map[string]bool{
	"male": true, "female": true, "other": true, "unknown": true,
}

var validBloodGroups = map[string]bool{
	"A+": true, "A-": true, "B+": true, "B-": true,
	"AB+": true, "AB-": true, "O+": true, "O-": true,
}
