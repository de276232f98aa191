package task

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/careline/portal/internal/platform/apperror"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return apperror.NotFound("task")
	case errors.Is(err, ErrUnknownPatient):
		return apperror.Validation("patient_id does not reference an existing patient")
	default:
		return apperror.Persistence("", err)
	}
}

func (s *Service) CreateTask(ctx context.Context, t *Task) error {
	t.Normalize()
	if err := t.Validate(); err != nil {
		return err
	}
	return translate(s.repo.Create(ctx, t))
}

func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return t, nil
}

func (s *Service) UpdateTask(ctx context.Context, t *Task) error {
	t.Normalize()
	if err := t.Validate(); err != nil {
		return err
	}
	return translate(s.repo.Update(ctx, t))
}

func (s *Service) DeleteTask(ctx context.Context, id uuid.UUID) error {
	return translate(s.repo.Delete(ctx, id))
}

func (s *Service) ListTasks(ctx context.Context, f Filter, limit, offset int) ([]*Task, int, error) {
	if f.Status != "" && !ValidStatus(f.Status) {
		return nil, 0, apperror.Validationf("invalid status: %s", f.Status)
	}
	if f.Priority != "" && !ValidPriority(f.Priority) {
		return nil, 0, apperror.Validationf("invalid priority: %s", f.Priority)
	}
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, translate(err)
	}
	return items, total, nil
}
