package invitation

import (
	"time"

	"github.com/google/uuid"

	"github.com/careline/portal/internal/domain/patient"
)

// DefaultTTL is how long an invitation link stays usable.
const DefaultTTL = 7 * 24 * time.Hour

const (
	MinPasswordLength = 8
	// MaxPasswordBytes is the bcrypt input limit; longer passwords would be
	// silently truncated by the identity backends.
	MaxPasswordBytes = 72
)

// Invitation maps to the patient_invitations table.
type Invitation struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	Token     string     `db:"token" json:"token"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// IsValid reports whether the invitation can still be activated at now.
// Expired and used invitations are indistinguishable to callers.
func (i *Invitation) IsValid(now time.Time) bool {
	return i.UsedAt == nil && now.Before(i.ExpiresAt)
}

type CreateRequest struct {
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	Phone       string  `json:"phone"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`
	ExternalID  *string `json:"external_id,omitempty"`
}

func (r CreateRequest) toPatient() *patient.Patient {
	return &patient.Patient{
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Phone:       r.Phone,
		DateOfBirth: r.DateOfBirth,
		ExternalID:  r.ExternalID,
	}
}

// Issued is the invitation metadata returned to staff.
type Issued struct {
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expires_at"`
	ActivationURL string    `json:"activation_url"`
}

type CreateResult struct {
	Success    bool             `json:"success"`
	Patient    *patient.Patient `json:"patient"`
	Invitation Issued           `json:"invitation"`
}

// ValidateResult is always rendered with 200; Valid carries the outcome.
type ValidateResult struct {
	Valid   bool             `json:"valid"`
	Patient *patient.Patient `json:"patient,omitempty"`
	Error   string           `json:"error,omitempty"`
}

type ActivateRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type ActivateResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SMSPayload is posted to the SMS dispatch webhook.
type SMSPayload struct {
	Phone         string `json:"phone"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	ActivationURL string `json:"activation_url"`
}
