package portal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/careline/portal/internal/domain/messaging"
	"github.com/careline/portal/internal/domain/patient"
	"github.com/careline/portal/internal/domain/scheduling"
	"github.com/careline/portal/internal/platform/apperror"
)

type mockPatients struct {
	byUser map[string]*patient.Patient
}

func (m *mockPatients) GetPatientByUserID(_ context.Context, userID string) (*patient.Patient, error) {
	p, ok := m.byUser[userID]
	if !ok {
		return nil, apperror.NotFound("patient")
	}
	return p, nil
}

type mockAppointments struct {
	items []*scheduling.Appointment
	calls []scheduling.Filter
}

func (m *mockAppointments) ListAppointments(_ context.Context, f scheduling.Filter, limit, offset int) ([]*scheduling.Appointment, int, error) {
	m.calls = append(m.calls, f)
	var r []*scheduling.Appointment
	for _, a := range m.items {
		if f.PatientID != nil && a.PatientID == *f.PatientID {
			r = append(r, a)
		}
	}
	return r, len(r), nil
}

type mockMessages struct {
	items []*messaging.Message
}

func (m *mockMessages) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*messaging.Message, int, error) {
	var r []*messaging.Message
	for _, msg := range m.items {
		if msg.PatientID == patientID {
			r = append(r, msg)
		}
	}
	return r, len(r), nil
}

type fixture struct {
	svc          *Service
	appointments *mockAppointments
	mine         *patient.Patient
	userID       string
}

func newFixture() *fixture {
	userID := uuid.NewString()
	uid := uuid.MustParse(userID)
	mine := &patient.Patient{ID: uuid.New(), FirstName: "Jane", LastName: "Doe", Phone: "+61412345678", UserID: &uid}
	other := uuid.New()

	appts := &mockAppointments{items: []*scheduling.Appointment{
		{ID: uuid.New(), PatientID: mine.ID, ScheduledAt: time.Now(), Status: scheduling.StatusScheduled},
		{ID: uuid.New(), PatientID: other, ScheduledAt: time.Now(), Status: scheduling.StatusScheduled},
	}}
	msgs := &mockMessages{items: []*messaging.Message{
		{ID: uuid.New(), PatientID: mine.ID, Direction: messaging.DirectionOutbound, Body: "hi"},
		{ID: uuid.New(), PatientID: mine.ID, Direction: messaging.DirectionInbound, Body: "thanks"},
		{ID: uuid.New(), PatientID: other, Direction: messaging.DirectionInbound, Body: "not yours"},
	}}
	patients := &mockPatients{byUser: map[string]*patient.Patient{userID: mine}}
	return &fixture{
		svc:          NewService(patients, appts, msgs),
		appointments: appts,
		mine:         mine,
		userID:       userID,
	}
}

func TestMe(t *testing.T) {
	f := newFixture()
	p, err := f.svc.Me(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != f.mine.ID {
		t.Errorf("expected own record, got %s", p.ID)
	}
}

func TestMe_Unlinked(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Me(context.Background(), uuid.NewString())
	if !apperror.IsKind(err, apperror.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestMe_Anonymous(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Me(context.Background(), "")
	if !apperror.IsKind(err, apperror.KindUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestAppointments_ScopedToCaller(t *testing.T) {
	f := newFixture()
	items, total, err := f.svc.Appointments(context.Background(), f.userID, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || items[0].PatientID != f.mine.ID {
		t.Errorf("expected only own appointment, got %d", total)
	}
	if len(f.appointments.calls) != 1 || f.appointments.calls[0].PatientID == nil {
		t.Error("expected a patient-scoped filter")
	}
}

func TestAppointments_UnlinkedSkipsLookup(t *testing.T) {
	f := newFixture()
	if _, _, err := f.svc.Appointments(context.Background(), uuid.NewString(), 20, 0); err == nil {
		t.Fatal("expected error")
	}
	if len(f.appointments.calls) != 0 {
		t.Error("expected no appointment query for an unlinked caller")
	}
}

func TestMessages_ScopedToCaller(t *testing.T) {
	f := newFixture()
	items, total, err := f.svc.Messages(context.Background(), f.userID, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 own messages, got %d", total)
	}
	for _, m := range items {
		if m.PatientID != f.mine.ID {
			t.Errorf("leaked message for patient %s", m.PatientID)
		}
	}
}
