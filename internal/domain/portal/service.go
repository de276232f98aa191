// Package portal serves a patient's read-only view of their own records.
// Every call is scoped to the patient row linked to the caller's identity.
package portal

import (
	"context"

	"github.com/google/uuid"

	"github.com/careline/portal/internal/domain/messaging"
	"github.com/careline/portal/internal/domain/patient"
	"github.com/careline/portal/internal/domain/scheduling"
	"github.com/careline/portal/internal/platform/apperror"
)

type PatientResolver interface {
	GetPatientByUserID(ctx context.Context, userID string) (*patient.Patient, error)
}

type AppointmentLister interface {
	ListAppointments(ctx context.Context, f scheduling.Filter, limit, offset int) ([]*scheduling.Appointment, int, error)
}

type MessageLister interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*messaging.Message, int, error)
}

type Service struct {
	patients     PatientResolver
	appointments AppointmentLister
	messages     MessageLister
}

func NewService(patients PatientResolver, appointments AppointmentLister, messages MessageLister) *Service {
	return &Service{patients: patients, appointments: appointments, messages: messages}
}

// Me returns the caller's patient record. Callers whose account is not
// linked to a patient get a not-found error.
func (s *Service) Me(ctx context.Context, userID string) (*patient.Patient, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("authentication required")
	}
	return s.patients.GetPatientByUserID(ctx, userID)
}

func (s *Service) Appointments(ctx context.Context, userID string, limit, offset int) ([]*scheduling.Appointment, int, error) {
	p, err := s.Me(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return s.appointments.ListAppointments(ctx, scheduling.Filter{PatientID: &p.ID}, limit, offset)
}

func (s *Service) Messages(ctx context.Context, userID string, limit, offset int) ([]*messaging.Message, int, error) {
	p, err := s.Me(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return s.messages.ListByPatient(ctx, p.ID, limit, offset)
}
