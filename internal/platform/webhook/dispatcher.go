// Package webhook delivers outbound webhook calls on background workers so
// request handlers never wait on, or fail because of, a third-party endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/careline/portal/internal/platform/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrDisabled  = errors.New("webhook url not configured")
	ErrQueueFull = errors.New("webhook queue full")
	ErrClosed    = errors.New("webhook dispatcher closed")
)

// Job is one queued delivery.
type Job struct {
	ID       string
	Event    string
	Payload  []byte
	QueuedAt time.Time
}

// Attempt is the result of a single HTTP delivery.
type Attempt struct {
	StatusCode int
	Duration   time.Duration
	Body       string
	Err        error
}

func (a Attempt) retryable() bool {
	if a.Err != nil && a.StatusCode == 0 {
		return true
	}
	return a.StatusCode == http.StatusTooManyRequests || a.StatusCode >= 500
}

// ErrorSink receives deliveries that were dropped or exhausted their retries.
type ErrorSink interface {
	Report(job Job, err error)
}

// LogSink reports failures through zerolog and the delivery counter.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Report(job Job, err error) {
	s.Logger.Error().Err(err).
		Str("delivery_id", job.ID).
		Str("event", job.Event).
		Msg("webhook delivery failed")
}

type Option func(*Dispatcher)

func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithMaxRetries sets retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.maxRetries = n
		}
	}
}

func WithRetryDelays(delays ...time.Duration) Option {
	return func(d *Dispatcher) { d.retryDelays = delays }
}

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithErrorSink(s ErrorSink) Option {
	return func(d *Dispatcher) { d.sink = s }
}

// Dispatcher posts JSON payloads to a single configured URL.
type Dispatcher struct {
	url         string
	secret      string
	client      *http.Client
	maxRetries  int
	retryDelays []time.Duration
	queueSize   int
	workers     int
	sink        ErrorSink
	logger      zerolog.Logger

	queue  chan Job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
}

// NewDispatcher builds a dispatcher for url. An empty url yields a disabled
// dispatcher whose Enqueue only logs a warning.
func NewDispatcher(url, secret string, logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		url:         url,
		secret:      secret,
		client:      &http.Client{Timeout: 10 * time.Second},
		maxRetries:  3,
		retryDelays: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
		queueSize:   256,
		workers:     2,
		logger:      logger.With().Str("component", "webhook").Logger(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.sink == nil {
		d.sink = LogSink{Logger: d.logger}
	}
	d.queue = make(chan Job, d.queueSize)
	return d
}

func (d *Dispatcher) Enabled() bool {
	return d.url != ""
}

// Start launches the worker goroutines. Workers outlive ctx's cancellation
// and stop only through Shutdown, so a signal context cannot strand queued
// jobs.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
}

// Enqueue marshals payload and queues it without blocking.
func (d *Dispatcher) Enqueue(event string, payload any) error {
	if !d.Enabled() {
		d.logger.Warn().Str("event", event).Msg("webhook url not configured, skipping delivery")
		return ErrDisabled
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	job := Job{ID: uuid.NewString(), Event: event, Payload: body, QueuedAt: time.Now()}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(job, ErrClosed)
		return ErrClosed
	}

	select {
	case d.queue <- job:
		return nil
	default:
		d.drop(job, ErrQueueFull)
		return ErrQueueFull
	}
}

func (d *Dispatcher) drop(job Job, err error) {
	metrics.RecordWebhookDelivery("dropped")
	d.sink.Report(job, err)
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-d.queue:
			if !ok {
				return
			}
			d.process(ctx, job)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, job Job) {
	var last Attempt
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, d.delay(attempt-1)) {
				last.Err = ctx.Err()
				break
			}
		}

		last = d.Deliver(ctx, job)
		if last.Err == nil {
			metrics.RecordWebhookDelivery("delivered")
			d.logger.Debug().
				Str("delivery_id", job.ID).
				Str("event", job.Event).
				Int("status", last.StatusCode).
				Int("attempt", attempt+1).
				Dur("duration", last.Duration).
				Msg("webhook delivered")
			return
		}
		if !last.retryable() {
			break
		}
		d.logger.Warn().Err(last.Err).
			Str("delivery_id", job.ID).
			Int("attempt", attempt+1).
			Msg("webhook attempt failed")
	}

	metrics.RecordWebhookDelivery("failed")
	d.sink.Report(job, last.Err)
}

func (d *Dispatcher) delay(i int) time.Duration {
	if len(d.retryDelays) == 0 {
		return 0
	}
	if i >= len(d.retryDelays) {
		return d.retryDelays[len(d.retryDelays)-1]
	}
	return d.retryDelays[i]
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Deliver performs one signed POST of job. Non-2xx responses are errors.
func (d *Dispatcher) Deliver(ctx context.Context, job Job) Attempt {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(job.Payload))
	if err != nil {
		return Attempt{Err: fmt.Errorf("build request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-ID", job.ID)
	req.Header.Set("X-Webhook-Event", job.Event)
	ts := time.Now().UTC().Format(time.RFC3339)
	req.Header.Set(TimestampHeader, ts)
	if d.secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+SignTimestamped(ts, job.Payload, d.secret))
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	a := Attempt{Duration: time.Since(start)}
	if err != nil {
		a.Err = err
		return a
	}
	defer resp.Body.Close()

	a.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	a.Body = string(body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.Err = fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return a
}

// Shutdown stops accepting jobs and waits for queued ones to finish. If ctx
// expires first, in-flight deliveries are cancelled. Every job is either
// delivered or reported to the sink; jobs never picked up are reported with
// ErrClosed.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if d.cancel != nil {
		d.cancel()
	}
	<-done

	var stranded int
	for job := range d.queue {
		d.drop(job, ErrClosed)
		stranded++
	}
	if stranded > 0 {
		d.logger.Warn().Int("jobs", stranded).Msg("webhook jobs not delivered before shutdown")
	}
	return err
}
