// Package sla detects breached SLA clocks and hands them to the
// escalation manager. Detection is a sweep over due clocks rather than
// one timer per clock, so the monitor stays cheap at any clock count
// and a missed tick only delays detection, never drops it.
package sla

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/assign"
	"github.com/goliatone/go-pipeline/escalation"
)

// DefaultSweepLimit bounds the number of clocks handled per sweep.
const DefaultSweepLimit = 500

// StrategySource yields the escalation strategy configured for a stage.
// An engine definition set satisfies this.
type StrategySource interface {
	EscalationStrategy(pipelineID, stageID string) (assign.Strategy, bool)
}

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	Checked   int
	Breached  int
	Escalated int
	Errors    int
}

// Monitor sweeps a tenant's active clocks for breaches.
type Monitor struct {
	tenant     string
	slas       pipeline.SlaStore
	entities   pipeline.EntityStore
	strategies StrategySource
	escalator  *escalation.Manager
	publisher  pipeline.Publisher
	clock      pipeline.Clock
	logger     pipeline.Logger
	limit      int
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithPublisher wires the event publisher.
func WithPublisher(p pipeline.Publisher) Option {
	return func(m *Monitor) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithClock sets the monitor clock.
func WithClock(c pipeline.Clock) Option {
	return func(m *Monitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets the monitor logger.
func WithLogger(l pipeline.Logger) Option {
	return func(m *Monitor) {
		m.logger = pipeline.NormalizeLogger(l)
	}
}

// WithSweepLimit bounds clocks handled per sweep.
func WithSweepLimit(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.limit = n
		}
	}
}

// NewMonitor constructs a monitor bound to one tenant.
func NewMonitor(
	tenant string,
	slas pipeline.SlaStore,
	entities pipeline.EntityStore,
	strategies StrategySource,
	escalator *escalation.Manager,
	opts ...Option,
) *Monitor {
	m := &Monitor{
		tenant:     tenant,
		slas:       slas,
		entities:   entities,
		strategies: strategies,
		escalator:  escalator,
		publisher:  pipeline.NopPublisher{},
		clock:      pipeline.SystemClock(),
		logger:     pipeline.NormalizeLogger(nil),
		limit:      DefaultSweepLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.logger = pipeline.NormalizeLogger(m.logger)
	return m
}

// Sweep marks every clock due at now as breached, in breach-time order,
// and escalates each one. Marking is a compare-and-swap on the active
// status, so a clock resolved or already breached by a concurrent actor
// is skipped; running the same sweep twice is a no-op the second time.
func (m *Monitor) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport

	clocks, err := m.slas.ListBreachable(ctx, m.tenant, now, m.limit)
	if err != nil {
		return report, err
	}

	for _, clock := range clocks {
		report.Checked++
		if err := ctx.Err(); err != nil {
			return report, err
		}

		breached, err := m.slas.MarkBreached(ctx, m.tenant, clock.ID)
		if err != nil {
			report.Errors++
			m.logger.Error("mark breached failed for clock %s: %v", clock.ID, err)
			continue
		}
		if !breached {
			// resolved or breached since listing
			continue
		}
		report.Breached++

		escalated, err := m.handleBreach(ctx, clock, now)
		if err != nil {
			report.Errors++
			m.logger.Error("breach handling failed for clock %s: %v", clock.ID, err)
			continue
		}
		if escalated {
			report.Escalated++
		}
	}

	if report.Breached > 0 || report.Errors > 0 {
		m.logger.Info("sla sweep checked=%d breached=%d escalated=%d errors=%d", report.Checked, report.Breached, report.Escalated, report.Errors)
	}
	return report, nil
}

func (m *Monitor) handleBreach(ctx context.Context, clock *pipeline.SlaClock, now time.Time) (bool, error) {
	entity, err := m.entities.Load(ctx, m.tenant, clock.EntityID)
	if err != nil && !errors.Is(err, pipeline.ErrNotFound) {
		return false, err
	}

	evt := pipeline.NewEvent(pipeline.EventSlaBreached, m.tenant, clock.EntityID, clock.PipelineID, now, map[string]any{
		"clock_id":  clock.ID,
		"stage_id":  clock.StageID,
		"breach_at": clock.BreachAt,
	})
	if err := m.publisher.Publish(ctx, evt); err != nil {
		m.logger.Warn("sla breach event publish failed: %v", err)
	}

	if entity == nil || !entity.IsActive() {
		// breach recorded, nothing left to escalate
		return false, nil
	}

	var strategy *assign.Strategy
	if m.strategies != nil {
		if st, ok := m.strategies.EscalationStrategy(entity.PipelineID, clock.StageID); ok {
			strategy = &st
		}
	}
	_, err = m.escalator.Escalate(ctx, escalation.Request{
		Tenant:   m.tenant,
		Entity:   entity,
		StageID:  clock.StageID,
		Strategy: strategy,
		Reason:   "sla_breach",
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
