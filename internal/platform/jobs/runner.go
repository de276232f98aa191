// Package jobs runs a function on a fixed interval inside the server
// process.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Func is one job run. The returned count is logged.
type Func func(ctx context.Context) (int, error)

// Runner calls a Func every interval. A tick that fires while the previous
// run is still executing is skipped, so runs never overlap within a process.
type Runner struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	fn       Func
	logger   zerolog.Logger

	running atomic.Bool
	skipped atomic.Int64
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

type Option func(*Runner)

// WithTimeout bounds each run. Zero means no per-run deadline.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

func NewRunner(name string, interval time.Duration, fn Func, logger zerolog.Logger, opts ...Option) *Runner {
	r := &Runner{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.With().Str("job", name).Logger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start begins ticking in a background goroutine. An interval <= 0 disables
// the runner.
func (r *Runner) Start(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Info().Msg("job runner disabled")
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.logger.Info().Dur("interval", r.interval).Msg("job runner started")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.trigger(ctx)
			}
		}
	}()
}

func (r *Runner) trigger(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		r.skipped.Add(1)
		r.logger.Warn().Msg("previous run still executing, skipping tick")
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)
		r.execute(ctx)
	}()
}

// RunOnce runs the job synchronously unless a run is already in progress,
// in which case it returns false.
func (r *Runner) RunOnce(ctx context.Context) (int, bool, error) {
	if !r.running.CompareAndSwap(false, true) {
		return 0, false, nil
	}
	defer r.running.Store(false)
	n, err := r.execute(ctx)
	return n, true, err
}

func (r *Runner) execute(ctx context.Context) (n int, err error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Interface("panic", p).Msg("job panicked")
			n, err = 0, fmt.Errorf("job %s panicked: %v", r.name, p)
		}
	}()

	n, err = r.fn(ctx)
	if err != nil {
		r.logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("job run failed")
		return n, err
	}
	r.logger.Info().Int("count", n).Dur("duration", time.Since(start)).Msg("job run complete")
	return n, nil
}

// Skipped reports how many ticks were dropped because a run was in progress.
func (r *Runner) Skipped() int64 {
	return r.skipped.Load()
}

// Stop cancels the ticker and any in-flight run, then waits for them.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}
