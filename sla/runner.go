package sla

import (
	"context"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/goliatone/go-pipeline"
)

// DefaultSchedule runs the sweep once a minute.
const DefaultSchedule = "* * * * *"

// Runner drives periodic sweeps for a set of tenant monitors on a cron
// schedule.
type Runner struct {
	mu       sync.Mutex
	cron     *rcron.Cron
	schedule string
	location *time.Location
	clock    pipeline.Clock
	logger   pipeline.Logger
	monitors []*Monitor
	started  bool
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithSchedule overrides the cron expression.
func WithSchedule(expr string) RunnerOption {
	return func(r *Runner) {
		if expr != "" {
			r.schedule = expr
		}
	}
}

// WithLocation sets the scheduler time zone.
func WithLocation(loc *time.Location) RunnerOption {
	return func(r *Runner) {
		if loc != nil {
			r.location = loc
		}
	}
}

// WithRunnerClock sets the clock sweeps are stamped with.
func WithRunnerClock(c pipeline.Clock) RunnerOption {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(l pipeline.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = pipeline.NormalizeLogger(l)
	}
}

// NewRunner constructs a Runner over the given monitors.
func NewRunner(monitors []*Monitor, opts ...RunnerOption) *Runner {
	r := &Runner{
		schedule: DefaultSchedule,
		location: time.UTC,
		clock:    pipeline.SystemClock(),
		logger:   pipeline.NormalizeLogger(nil),
		monitors: monitors,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = pipeline.NormalizeLogger(r.logger)
	r.cron = rcron.New(rcron.WithLocation(r.location))
	return r
}

// Start begins scheduled sweeps. Calling Start twice is a no-op.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if _, err := r.cron.AddFunc(r.schedule, func() {
		r.SweepAll(ctx)
	}); err != nil {
		return pipeline.CloneError(pipeline.ErrBadDefinition, "invalid sweep schedule", err, map[string]any{
			"schedule": r.schedule,
		})
	}
	r.cron.Start()
	r.started = true
	r.logger.Info("sla runner started schedule=%q monitors=%d", r.schedule, len(r.monitors))
	return nil
}

// Stop halts scheduling and waits for the running sweep, if any.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	<-r.cron.Stop().Done()
	r.started = false
	r.logger.Info("sla runner stopped")
}

// SweepAll runs one sweep per monitor at the current time. It is also
// the cron tick body, exposed so callers can force a pass.
func (r *Runner) SweepAll(ctx context.Context) {
	now := r.clock.Now()
	for _, m := range r.monitors {
		if m == nil {
			continue
		}
		if _, err := m.Sweep(ctx, now); err != nil {
			r.logger.Error("sla sweep failed tenant=%s: %v", m.tenant, err)
		}
	}
}
