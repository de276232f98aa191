package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("patient not found")
	ErrDuplicatePhone = errors.New("patient phone already registered")
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByPhone(ctx context.Context, phone string) (*Patient, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	// SetUserID links the patient to an account identity, overwriting any
	// previous link.
	SetUserID(ctx context.Context, id, userID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	// List matches q against first name, last name and phone. An empty q
	// lists everything.
	List(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error)
}
