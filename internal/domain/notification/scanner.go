package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/portal/internal/platform/auth"
	"github.com/careline/portal/internal/platform/metrics"
	templates "github.com/careline/portal/internal/platform/notification"
)

// Recency windows per detector. The scan runs every ten minutes, so each
// window overlaps at least one earlier run and relies on dedup.
const (
	UrgentTaskWindow        = time.Hour
	MissedAppointmentWindow = time.Hour
	InboundMessageWindow    = 10 * time.Minute

	// PreviewLength is the number of message characters quoted in an alert.
	PreviewLength = 50
)

const missedDateLayout = "02/01/2006"

type detector struct {
	name   string
	typ    string
	window time.Duration
	find   func(ctx context.Context, since time.Time) ([]Event, error)
	data   func(ev Event) map[string]string
}

// Scanner turns recent clinic events into staff notifications.
type Scanner struct {
	recipients RecipientSource
	repo       Repository
	templates  *templates.TemplateEngine
	detectors  []detector
	loc        *time.Location
	logger     zerolog.Logger
	now        func() time.Time
}

type ScannerOption func(*Scanner)

// WithLocation sets the zone used to format appointment dates.
func WithLocation(loc *time.Location) ScannerOption {
	return func(s *Scanner) { s.loc = loc }
}

func WithScanClock(now func() time.Time) ScannerOption {
	return func(s *Scanner) { s.now = now }
}

func NewScanner(recipients RecipientSource, events EventSource, repo Repository, engine *templates.TemplateEngine, logger zerolog.Logger, opts ...ScannerOption) *Scanner {
	if engine == nil {
		engine = templates.NewTemplateEngine()
	}
	s := &Scanner{
		recipients: recipients,
		repo:       repo,
		templates:  engine,
		loc:        time.Local,
		logger:     logger.With().Str("component", "notification_scan").Logger(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	s.detectors = []detector{
		{
			name:   "urgent_tasks",
			typ:    TypeUrgentTask,
			window: UrgentTaskWindow,
			find:   events.UrgentTasks,
			data: func(ev Event) map[string]string {
				return map[string]string{"task_title": ev.Subject, "patient_name": ev.PatientName}
			},
		},
		{
			name:   "missed_appointments",
			typ:    TypeMissedAppointment,
			window: MissedAppointmentWindow,
			find:   events.MissedAppointments,
			data: func(ev Event) map[string]string {
				return map[string]string{
					"patient_name": ev.PatientName,
					"date":         ev.ScheduledAt.In(s.loc).Format(missedDateLayout),
				}
			},
		},
		{
			name:   "inbound_messages",
			typ:    TypePatientMessage,
			window: InboundMessageWindow,
			find:   events.InboundMessages,
			data: func(ev Event) map[string]string {
				return map[string]string{
					"patient_name": ev.PatientName,
					"preview":      templates.Truncate(ev.Subject, PreviewLength),
				}
			},
		},
	}
	return s
}

// Scan runs every detector once and returns the number of notifications
// inserted. A failing detector is logged and skipped; only recipient
// loading and the final insert fail the scan.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	staff, err := s.loadRecipients(ctx)
	if err != nil {
		metrics.RecordScanRun("error")
		return 0, err
	}
	if len(staff) == 0 {
		s.logger.Info().Msg("no staff recipients, skipping scan")
		metrics.RecordScanRun("no_recipients")
		return 0, nil
	}

	now := s.now()
	var batch []*Notification
	for _, d := range s.detectors {
		batch = append(batch, s.detect(ctx, d, now, staff)...)
	}
	if len(batch) == 0 {
		metrics.RecordScanRun("ok")
		return 0, nil
	}

	inserted, err := s.repo.InsertBatch(ctx, batch)
	if err != nil {
		metrics.RecordScanRun("error")
		return 0, fmt.Errorf("insert notifications: %w", err)
	}

	byType := make(map[string]int)
	for _, n := range inserted {
		byType[n.Type]++
	}
	for typ, n := range byType {
		metrics.RecordNotificationsCreated(typ, n)
	}
	metrics.RecordScanRun("ok")

	s.logger.Info().
		Int("candidates", len(batch)).
		Int("created", len(inserted)).
		Int("recipients", len(staff)).
		Msg("notification scan complete")
	return len(inserted), nil
}

func (s *Scanner) loadRecipients(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := s.recipients.UsersWithRole(ctx, auth.RoleStaff)
	if err != nil {
		return nil, fmt.Errorf("load staff recipients: %w", err)
	}
	staff := make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.logger.Warn().Str("user_id", raw).Msg("skipping staff recipient with non-uuid id")
			continue
		}
		staff = append(staff, id)
	}
	return staff, nil
}

// detect collects fan-out rows for one detector. Events that already have
// a notification of this type, for anyone, are skipped.
func (s *Scanner) detect(ctx context.Context, d detector, now time.Time, staff []uuid.UUID) []*Notification {
	log := s.logger.With().Str("detector", d.name).Logger()

	events, err := d.find(ctx, now.Add(-d.window))
	if err != nil {
		metrics.RecordDetectorError(d.name)
		log.Error().Err(err).Msg("detector query failed")
		return nil
	}

	var out []*Notification
	for _, ev := range events {
		exists, err := s.repo.ExistsFor(ctx, ev.ID, d.typ)
		if err != nil {
			log.Error().Err(err).Str("related_id", ev.ID.String()).Msg("dedup check failed, skipping event")
			continue
		}
		if exists {
			continue
		}

		title, message, err := s.templates.Render(d.typ, d.data(ev))
		if err != nil {
			log.Error().Err(err).Msg("render notification")
			continue
		}
		relatedID := ev.ID
		for _, userID := range staff {
			out = append(out, &Notification{
				UserID:    userID,
				Title:     title,
				Message:   message,
				Type:      d.typ,
				RelatedID: &relatedID,
			})
		}
	}
	return out
}
