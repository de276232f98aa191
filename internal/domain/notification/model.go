package notification

import (
	"time"

	"github.com/google/uuid"
)

// Notification types. Each detector emits exactly one type.
const (
	TypeUrgentTask        = "urgent_task"
	TypeMissedAppointment = "missed_appointment"
	TypePatientMessage    = "patient_message"
)

// Notification maps to the notifications table. One row per event, type
// and staff recipient.
type Notification struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	UserID    uuid.UUID  `db:"user_id" json:"user_id"`
	Title     string     `db:"title" json:"title"`
	Message   string     `db:"message" json:"message"`
	Type      string     `db:"type" json:"type"`
	RelatedID *uuid.UUID `db:"related_id" json:"related_id,omitempty"`
	Read      bool       `db:"read" json:"read"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// Event is a candidate row found by a detector.
type Event struct {
	ID          uuid.UUID
	PatientName string
	// Subject is the task title for urgent tasks and the message body for
	// inbound messages.
	Subject    string
	OccurredAt time.Time
	// ScheduledAt is set for missed appointments.
	ScheduledAt time.Time
}
