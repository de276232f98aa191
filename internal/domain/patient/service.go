package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/careline/portal/internal/platform/apperror"
)

const duplicatePhoneMessage = "A patient with this phone number already exists"

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CheckPhoneAvailable returns a Conflict error when phone is already
// registered. It is a pre-check only; the unique index on phone is the
// final word.
func CheckPhoneAvailable(ctx context.Context, repo Repository, phone string) error {
	_, err := repo.GetByPhone(ctx, phone)
	switch {
	case err == nil:
		return apperror.Conflict(duplicatePhoneMessage, ErrDuplicatePhone)
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return apperror.Persistence("", err)
	}
}

// TranslateError maps repository errors onto the apperror taxonomy.
func TranslateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return apperror.NotFound("patient")
	case errors.Is(err, ErrDuplicatePhone):
		return apperror.Conflict(duplicatePhoneMessage, err)
	default:
		return apperror.Persistence("", err)
	}
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	if err := CheckPhoneAvailable(ctx, s.repo, p.Phone); err != nil {
		return err
	}
	return TranslateError(s.repo.Create(ctx, p))
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, TranslateError(err)
	}
	return p, nil
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	existing, err := s.repo.GetByPhone(ctx, p.Phone)
	switch {
	case err == nil && existing.ID != p.ID:
		return apperror.Conflict(duplicatePhoneMessage, ErrDuplicatePhone)
	case err != nil && !errors.Is(err, ErrNotFound):
		return apperror.Persistence("", err)
	}
	return TranslateError(s.repo.Update(ctx, p))
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	return TranslateError(s.repo.Delete(ctx, id))
}

func (s *Service) ListPatients(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error) {
	items, total, err := s.repo.List(ctx, q, limit, offset)
	if err != nil {
		return nil, 0, TranslateError(err)
	}
	return items, total, nil
}

// GetPatientByUserID resolves the patient linked to an account identity.
func (s *Service) GetPatientByUserID(ctx context.Context, userID string) (*Patient, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, apperror.NotFound("patient")
	}
	p, err := s.repo.GetByUserID(ctx, uid)
	if err != nil {
		return nil, TranslateError(err)
	}
	return p, nil
}
