package notification

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/careline/portal/internal/platform/apperror"
)

// Service is the recipient inbox.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// recipient parses the caller's identity. A caller whose ID is not a UUID
// owns no notifications, reported as ok=false.
func recipient(userID string) (uuid.UUID, bool, error) {
	if userID == "" {
		return uuid.Nil, false, apperror.Unauthorized("authentication required")
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false, nil
	}
	return uid, true, nil
}

func (s *Service) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	uid, ok, err := recipient(userID)
	if err != nil || !ok {
		return nil, 0, err
	}
	items, total, err := s.repo.ListForUser(ctx, uid, unreadOnly, limit, offset)
	if err != nil {
		return nil, 0, apperror.Persistence("", err)
	}
	return items, total, nil
}

// MarkRead marks one of the caller's notifications read. Another user's
// notification is reported as not found.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID, userID string) error {
	uid, ok, err := recipient(userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NotFound("notification")
	}
	if err := s.repo.MarkRead(ctx, id, uid); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperror.NotFound("notification")
		}
		return apperror.Persistence("", err)
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	uid, ok, err := recipient(userID)
	if err != nil || !ok {
		return 0, err
	}
	n, err := s.repo.MarkAllRead(ctx, uid)
	if err != nil {
		return 0, apperror.Persistence("", err)
	}
	return n, nil
}
