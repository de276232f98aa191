package invitation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("invitation not found")

type Repository interface {
	Create(ctx context.Context, inv *Invitation) error
	// GetValidByToken returns the invitation for token only if it is unused
	// and expires after now. Anything else is ErrNotFound.
	GetValidByToken(ctx context.Context, token string, now time.Time) (*Invitation, error)
	// MarkUsed sets used_at unless it is already set. An already-used
	// invitation yields ErrNotFound.
	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error
}
