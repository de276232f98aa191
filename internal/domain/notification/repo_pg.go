package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careline/portal/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const notificationCols = `id, user_id, title, message, type, related_id, read, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.RelatedID, &n.Read, &n.CreatedAt)
	return &n, err
}

func (r *repoPG) ExistsFor(ctx context.Context, relatedID uuid.UUID, notificationType string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM notifications WHERE related_id = $1 AND type = $2)`,
		relatedID, notificationType,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check existing notification: %w", err)
	}
	return exists, nil
}

func (r *repoPG) InsertBatch(ctx context.Context, rows []*Notification) ([]*Notification, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	userIDs := make([]uuid.UUID, len(rows))
	titles := make([]string, len(rows))
	messages := make([]string, len(rows))
	types := make([]string, len(rows))
	related := make([]*uuid.UUID, len(rows))
	for i, n := range rows {
		userIDs[i] = n.UserID
		titles[i] = n.Title
		messages[i] = n.Message
		types[i] = n.Type
		related[i] = n.RelatedID
	}

	result, err := r.conn(ctx).Query(ctx, `
		INSERT INTO notifications (user_id, title, message, type, related_id)
		SELECT * FROM unnest($1::uuid[], $2::text[], $3::text[], $4::text[], $5::uuid[])
		ON CONFLICT (related_id, type, user_id) DO NOTHING
		RETURNING `+notificationCols,
		userIDs, titles, messages, types, related,
	)
	if err != nil {
		return nil, fmt.Errorf("insert notifications: %w", err)
	}
	defer result.Close()

	var inserted []*Notification
	for result.Next() {
		n, err := scanNotification(result)
		if err != nil {
			return nil, fmt.Errorf("scan inserted notification: %w", err)
		}
		inserted = append(inserted, n)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("insert notifications: %w", err)
	}
	return inserted, nil
}

func (r *repoPG) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	where := ` WHERE user_id = $1`
	if unreadOnly {
		where += ` AND NOT read`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM notifications`+where, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+notificationCols+` FROM notifications`+where+
		` ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *repoPG) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE user_id = $1 AND NOT read`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// eventSourcePG reads candidate events from the clinic tables.
type eventSourcePG struct {
	pool *pgxpool.Pool
}

func NewEventSourcePG(pool *pgxpool.Pool) EventSource {
	return &eventSourcePG{pool: pool}
}

const patientNameExpr = `COALESCE(NULLIF(TRIM(CONCAT_WS(' ', p.first_name, p.last_name)), ''), 'Unknown patient')`

func (s *eventSourcePG) UrgentTasks(ctx context.Context, since time.Time) ([]Event, error) {
	return s.collect(ctx, `
		SELECT t.id, `+patientNameExpr+`, t.title, t.created_at, t.created_at
		FROM follow_up_tasks t
		LEFT JOIN patients p ON p.id = t.patient_id
		WHERE t.priority = 'high' AND t.status = 'open' AND t.created_at >= $1
		ORDER BY t.created_at`, since)
}

func (s *eventSourcePG) MissedAppointments(ctx context.Context, since time.Time) ([]Event, error) {
	return s.collect(ctx, `
		SELECT a.id, `+patientNameExpr+`, '', a.updated_at, a.scheduled_at
		FROM appointments a
		LEFT JOIN patients p ON p.id = a.patient_id
		WHERE a.status = 'missed' AND a.updated_at >= $1
		ORDER BY a.updated_at`, since)
}

func (s *eventSourcePG) InboundMessages(ctx context.Context, since time.Time) ([]Event, error) {
	return s.collect(ctx, `
		SELECT m.id, `+patientNameExpr+`, m.body, m.created_at, m.created_at
		FROM messages m
		LEFT JOIN patients p ON p.id = m.patient_id
		WHERE m.direction = 'inbound' AND m.created_at >= $1
		ORDER BY m.created_at`, since)
}

func (s *eventSourcePG) collect(ctx context.Context, query string, since time.Time) ([]Event, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.PatientName, &ev.Subject, &ev.OccurredAt, &ev.ScheduledAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
