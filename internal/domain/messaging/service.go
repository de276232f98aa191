package messaging

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/portal/internal/domain/patient"
	"github.com/careline/portal/internal/platform/apperror"
	"github.com/careline/portal/internal/platform/webhook"
)

// EventOutboundSMS is the webhook event that asks the SMS integration to
// deliver a staff message.
const EventOutboundSMS = "message.outbound"

// Notifier queues an outbound webhook. webhook.Dispatcher satisfies it.
type Notifier interface {
	Enqueue(event string, payload any) error
}

// PatientLookup resolves message senders and recipients.
type PatientLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	GetByPhone(ctx context.Context, phone string) (*patient.Patient, error)
}

type Service struct {
	repo     Repository
	patients PatientLookup
	notifier Notifier
	logger   zerolog.Logger
}

func NewService(repo Repository, patients PatientLookup, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{repo: repo, patients: patients, notifier: notifier, logger: logger}
}

func checkBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", apperror.Validation("body is required")
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return "", apperror.Validationf("body must be at most %d characters", MaxBodyLength)
	}
	return body, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, patient.ErrNotFound), errors.Is(err, ErrUnknownPatient):
		return apperror.NotFound("patient")
	default:
		return apperror.Persistence("", err)
	}
}

// SendOutbound records a staff message and hands it to the SMS integration.
// A failed hand-off is logged; the message stays queued.
func (s *Service) SendOutbound(ctx context.Context, req OutboundRequest) (*Message, error) {
	body, err := checkBody(req.Body)
	if err != nil {
		return nil, err
	}
	if req.PatientID == uuid.Nil {
		return nil, apperror.Validation("patient_id is required")
	}
	p, err := s.patients.GetByID(ctx, req.PatientID)
	if err != nil {
		return nil, translate(err)
	}

	m := &Message{PatientID: p.ID, Direction: DirectionOutbound, Body: body, Status: StatusQueued}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, translate(err)
	}

	err = s.notifier.Enqueue(EventOutboundSMS, SMSPayload{MessageID: m.ID, Phone: p.Phone, Body: m.Body})
	if err != nil && !errors.Is(err, webhook.ErrDisabled) {
		s.logger.Error().Err(err).Str("message_id", m.ID.String()).Msg("failed to queue outbound sms")
	}
	return m, nil
}

// RecordInbound stores a message received from a patient. The next
// notification scan alerts staff to it.
func (s *Service) RecordInbound(ctx context.Context, req InboundRequest) (*Message, error) {
	body, err := checkBody(req.Body)
	if err != nil {
		return nil, err
	}

	var p *patient.Patient
	switch {
	case req.PatientID != nil:
		p, err = s.patients.GetByID(ctx, *req.PatientID)
	case strings.TrimSpace(req.From) != "":
		p, err = s.patients.GetByPhone(ctx, strings.TrimSpace(req.From))
	default:
		return nil, apperror.Validation("patient_id or from is required")
	}
	if err != nil {
		return nil, translate(err)
	}

	m := &Message{PatientID: p.ID, Direction: DirectionInbound, Body: body, Status: StatusReceived}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, translate(err)
	}
	s.logger.Info().Str("message_id", m.ID.String()).Str("patient_id", p.ID.String()).Msg("inbound message recorded")
	return m, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	items, total, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, apperror.Persistence("", err)
	}
	return items, total, nil
}
