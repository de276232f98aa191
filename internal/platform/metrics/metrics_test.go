package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRecordActivationFailure(t *testing.T) {
	before := counterValue(t, activationFailures.WithLabelValues("role"))
	RecordActivationFailure("role")
	after := counterValue(t, activationFailures.WithLabelValues("role"))

	if after-before != 1 {
		t.Errorf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestRecordNotificationsCreated_IgnoresZero(t *testing.T) {
	before := counterValue(t, notificationsCreated.WithLabelValues("urgent_task"))
	RecordNotificationsCreated("urgent_task", 0)
	RecordNotificationsCreated("urgent_task", 3)
	after := counterValue(t, notificationsCreated.WithLabelValues("urgent_task"))

	if after-before != 3 {
		t.Errorf("expected counter to increase by 3, got %v", after-before)
	}
}

func TestMiddleware_UsesRouteTemplate(t *testing.T) {
	e := echo.New()
	e.Use(Middleware())
	e.GET("/api/v1/patients/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	before := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/patients/:id", "200"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/6f1c1f0e-0000-4000-8000-000000000001", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	after := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/patients/:id", "200"))
	if after-before != 1 {
		t.Errorf("expected request counted under route template, delta %v", after-before)
	}
}

func TestHandler_ExposesPortalMetrics(t *testing.T) {
	RecordInvitationCreated()

	e := echo.New()
	e.GET("/metrics", Handler())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "portal_invitations_created_total") {
		t.Error("expected portal_invitations_created_total in exposition")
	}
}
