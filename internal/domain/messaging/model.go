package messaging

import (
	"time"

	"github.com/google/uuid"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

const (
	StatusQueued   = "queued"
	StatusReceived = "received"
)

// MaxBodyLength caps a message body; longer texts are split by the SMS
// provider anyway.
const MaxBodyLength = 1600

// Message maps to the messages table. Inbound messages are what the
// notification scan alerts staff about.
type Message struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Direction string    `db:"direction" json:"direction"`
	Body      string    `db:"body" json:"body"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// OutboundRequest is a staff-composed SMS to a patient.
type OutboundRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	Body      string    `json:"body"`
}

// InboundRequest is the SMS provider callback. The sender is matched by
// patient_id when given, otherwise by phone.
type InboundRequest struct {
	PatientID *uuid.UUID `json:"patient_id,omitempty"`
	From      string     `json:"from"`
	Body      string     `json:"body"`
}

// SMSPayload is the webhook body asking the SMS integration to send a message.
type SMSPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	Phone     string    `json:"phone"`
	Body      string    `json:"body"`
}
