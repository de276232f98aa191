package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("notification not found")

// Repository stores notifications for the scan and the recipient inbox.
type Repository interface {
	// ExistsFor reports whether any notification of type references
	// relatedID, for any recipient.
	ExistsFor(ctx context.Context, relatedID uuid.UUID, notificationType string) (bool, error)
	// InsertBatch writes rows in one statement. Rows whose (related_id,
	// type, user_id) already exist are skipped; only inserted rows are
	// returned.
	InsertBatch(ctx context.Context, rows []*Notification) ([]*Notification, error)

	ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	// MarkRead flips the read flag only on the recipient's own row.
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

// EventSource finds candidate events created or updated since a cutoff.
type EventSource interface {
	UrgentTasks(ctx context.Context, since time.Time) ([]Event, error)
	MissedAppointments(ctx context.Context, since time.Time) ([]Event, error)
	InboundMessages(ctx context.Context, since time.Time) ([]Event, error)
}

// RecipientSource lists identities holding a role. identity.RoleStore
// satisfies it.
type RecipientSource interface {
	UsersWithRole(ctx context.Context, role string) ([]string, error)
}
