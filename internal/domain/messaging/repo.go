package messaging

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrUnknownPatient = errors.New("patient does not exist")

type Repository interface {
	Create(ctx context.Context, m *Message) error
	// ListByPatient returns a patient's conversation, newest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Message, int, error)
}
