package scheduling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careline/portal/internal/platform/apperror"
)

func newTestHandler() (*Handler, *mockRepo, *echo.Echo) {
	svc, repo := newTestService()
	return NewHandler(svc), repo, echo.New()
}

func errStatus(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	code, _ := apperror.Resolve(err)
	return code
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_CreateAppointment(t *testing.T) {
	h, repo, e := newTestHandler()
	pid := uuid.New()
	repo.patients[pid] = true
	body := `{"patient_id":"` + pid.String() + `","scheduled_at":"2026-11-02T09:30:00+11:00","reason":"Script renewal"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, body), rec)
	if err := h.CreateAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Appointment
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusScheduled || got.DurationMinutes != DefaultDurationMinutes {
		t.Errorf("unexpected appointment: %+v", got)
	}
}

func TestHandler_CreateAppointment_MissingTime(t *testing.T) {
	h, _, e := newTestHandler()
	body := `{"patient_id":"` + uuid.NewString() + `"}`
	c := e.NewContext(jsonRequest(http.MethodPost, body), httptest.NewRecorder())
	if code := errStatus(t, h.CreateAppointment(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_GetAppointment_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if code := errStatus(t, h.GetAppointment(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_UpdateStatus(t *testing.T) {
	h, repo, e := newTestHandler()
	a := booking(repo)
	h.svc.CreateAppointment(context.Background(), a)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"status":"missed"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.UpdateStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Appointment
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusMissed {
		t.Errorf("expected missed, got %s", got.Status)
	}

	c = e.NewContext(jsonRequest(http.MethodPost, `{"status":"completed"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if code := errStatus(t, h.UpdateStatus(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestHandler_ListAppointments(t *testing.T) {
	h, repo, e := newTestHandler()
	a := booking(repo)
	h.svc.CreateAppointment(context.Background(), a)
	h.svc.CreateAppointment(context.Background(), booking(repo))

	req := httptest.NewRequest(http.MethodGet, "/?patient_id="+a.PatientID.String(), nil)
	rec := httptest.NewRecorder()
	if err := h.ListAppointments(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Total != 1 {
		t.Errorf("expected total 1, got %d", got.Total)
	}
}

func TestHandler_ListAppointments_BadPatientID(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?patient_id=abc", nil)
	if code := errStatus(t, h.ListAppointments(e.NewContext(req, httptest.NewRecorder()))); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_DeleteAppointment(t *testing.T) {
	h, repo, e := newTestHandler()
	a := booking(repo)
	h.svc.CreateAppointment(context.Background(), a)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.DeleteAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}
