package scheduling

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusScheduled = "scheduled"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusMissed    = "missed"
)

const DefaultDurationMinutes = 15

// Appointment maps to the appointments table.
type Appointment struct {
	ID              uuid.UUID `db:"id" json:"id"`
	PatientID       uuid.UUID `db:"patient_id" json:"patient_id"`
	ScheduledAt     time.Time `db:"scheduled_at" json:"scheduled_at"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	Reason          *string   `db:"reason" json:"reason,omitempty"`
	Status          string    `db:"status" json:"status"`
	Notes           *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// transitions lists the statuses reachable from each status. Completed and
// cancelled are final; a missed appointment can be rebooked.
var transitions = map[string][]string{
	StatusScheduled: {StatusConfirmed, StatusCompleted, StatusCancelled, StatusMissed},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusMissed},
	StatusMissed:    {StatusScheduled},
	StatusCompleted: {},
	StatusCancelled: {},
}

func ValidStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	PatientID *uuid.UUID
	Status    string
	// From limits results to appointments scheduled at or after it.
	From *time.Time
}
