package scheduling

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("appointment not found")
	ErrUnknownPatient = errors.New("patient does not exist")
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	// UpdateStatus bumps updated_at, which the missed-appointment detector
	// keys on.
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error)
}
