package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	invitationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_invitations_created_total",
			Help: "Invitations issued to patients",
		},
	)

	invitationsActivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_invitations_activated_total",
			Help: "Invitations converted into patient accounts",
		},
	)

	activationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_activation_failures_total",
			Help: "Best-effort activation steps that failed after the identity was created",
		},
		[]string{"step"},
	)

	notificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_notifications_created_total",
			Help: "Staff notifications inserted by the scan",
		},
		[]string{"type"},
	)

	scanDetectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_scan_detector_errors_total",
			Help: "Scan detectors that failed and contributed no events",
		},
		[]string{"detector"},
	)

	scanRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_scan_runs_total",
			Help: "Notification scan runs by outcome",
		},
		[]string{"outcome"},
	)

	webhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_webhook_deliveries_total",
			Help: "Outbound webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)
)

// Handler serves the default registry for GET /metrics.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

// Middleware records request count and latency labelled by route template,
// not raw path, to keep cardinality bounded.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			httpRequestsTotal.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func RecordInvitationCreated() {
	invitationsCreated.Inc()
}

func RecordInvitationActivated() {
	invitationsActivated.Inc()
}

// RecordActivationFailure counts a failed best-effort step: "role",
// "patient_link" or "mark_used".
func RecordActivationFailure(step string) {
	activationFailures.WithLabelValues(step).Inc()
}

func RecordNotificationsCreated(notificationType string, n int) {
	if n > 0 {
		notificationsCreated.WithLabelValues(notificationType).Add(float64(n))
	}
}

func RecordDetectorError(detector string) {
	scanDetectorErrors.WithLabelValues(detector).Inc()
}

func RecordScanRun(outcome string) {
	scanRuns.WithLabelValues(outcome).Inc()
}

// RecordWebhookDelivery counts "delivered", "failed", "dropped" outcomes.
func RecordWebhookDelivery(outcome string) {
	webhookDeliveries.WithLabelValues(outcome).Inc()
}
