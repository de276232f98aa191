// Package identity creates authenticated user identities for activated
// patients and manages their application roles.
package identity

import (
	"context"
	"errors"
	"time"
)

var ErrUserExists = errors.New("identity already exists for this phone")

// NewUser describes an identity to create. The phone is marked confirmed.
type NewUser struct {
	Phone    string
	Password string
	Metadata map[string]any
}

type User struct {
	ID               string         `json:"id"`
	Phone            string         `json:"phone"`
	PhoneConfirmedAt *time.Time     `json:"phone_confirmed_at,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

func (u *User) PhoneConfirmed() bool {
	return u.PhoneConfirmedAt != nil
}

// Provider creates identities in the configured identity backend.
type Provider interface {
	CreateUser(ctx context.Context, u NewUser) (*User, error)
}
