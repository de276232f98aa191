package scheduling

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/portal/internal/platform/apperror"
)

const maxDurationMinutes = 8 * 60

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return apperror.NotFound("appointment")
	case errors.Is(err, ErrUnknownPatient):
		return apperror.Validation("patient_id does not reference an existing patient")
	default:
		return apperror.Persistence("", err)
	}
}

func validate(a *Appointment) error {
	if a.ScheduledAt.IsZero() {
		return apperror.Validation("scheduled_at is required")
	}
	if a.DurationMinutes == 0 {
		a.DurationMinutes = DefaultDurationMinutes
	}
	if a.DurationMinutes < 0 || a.DurationMinutes > maxDurationMinutes {
		return apperror.Validationf("duration_minutes must be between 1 and %d", maxDurationMinutes)
	}
	return nil
}

func (s *Service) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.PatientID == uuid.Nil {
		return apperror.Validation("patient_id is required")
	}
	if err := validate(a); err != nil {
		return err
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	if a.Status != StatusScheduled && a.Status != StatusConfirmed {
		return apperror.Validation("new appointments must be scheduled or confirmed")
	}
	return translate(s.repo.Create(ctx, a))
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return a, nil
}

// UpdateAppointment changes time, duration, reason and notes. Status moves
// only through UpdateStatus.
func (s *Service) UpdateAppointment(ctx context.Context, a *Appointment) error {
	if err := validate(a); err != nil {
		return err
	}
	return translate(s.repo.Update(ctx, a))
}

// UpdateStatus moves an appointment along its lifecycle. Marking it missed
// is what surfaces it to the notification scan.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Appointment, error) {
	if !ValidStatus(status) {
		return nil, apperror.Validationf("invalid status: %s", status)
	}
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if current.Status == status {
		return current, nil
	}
	if !CanTransition(current.Status, status) {
		return nil, apperror.Conflict("cannot change appointment from "+current.Status+" to "+status, nil)
	}
	updated, err := s.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, translate(err)
	}
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("from", current.Status).
		Str("to", status).
		Msg("appointment status changed")
	return updated, nil
}

func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	return translate(s.repo.Delete(ctx, id))
}

func (s *Service) ListAppointments(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !ValidStatus(f.Status) {
		return nil, 0, apperror.Validationf("invalid status: %s", f.Status)
	}
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, translate(err)
	}
	return items, total, nil
}
