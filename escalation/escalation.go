// Package escalation records and routes SLA breach escalations. Each
// breach of the same entity escalates one level higher than the last,
// and a target that cannot be resolved is still recorded so the chain
// never silently stalls.
package escalation

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/assign"
)

// UnresolvedTargetSuffix marks escalation records whose assignment
// strategy produced no target.
const UnresolvedTargetSuffix = "unresolved_target"

// Request asks the manager to escalate one entity after a breach.
type Request struct {
	Tenant   string
	Entity   *pipeline.Entity
	StageID  string
	Strategy *assign.Strategy
	Reason   string
}

// Manager resolves escalation targets and appends escalation records.
type Manager struct {
	store     pipeline.EscalationStore
	resolver  *assign.Resolver
	publisher pipeline.Publisher
	clock     pipeline.Clock
	logger    pipeline.Logger
	newID     func() string
}

// Option customizes a Manager.
type Option func(*Manager)

// WithPublisher wires the event publisher.
func WithPublisher(p pipeline.Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithClock sets the manager clock.
func WithClock(c pipeline.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(l pipeline.Logger) Option {
	return func(m *Manager) {
		m.logger = pipeline.NormalizeLogger(l)
	}
}

// WithIDGenerator overrides record ids, useful in tests.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewManager constructs a Manager.
func NewManager(store pipeline.EscalationStore, resolver *assign.Resolver, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		resolver:  resolver,
		publisher: pipeline.NopPublisher{},
		clock:     pipeline.SystemClock(),
		logger:    pipeline.NormalizeLogger(nil),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.logger = pipeline.NormalizeLogger(m.logger)
	return m
}

// Escalate records one escalation for the entity at the next level. The
// store assigns the level atomically, so concurrent breaches of
// different clocks still produce a gapless, strictly increasing chain.
// A strategy that yields no target records an empty target with the
// reason suffixed ":unresolved_target" instead of failing.
func (m *Manager) Escalate(ctx context.Context, req Request) (*pipeline.Escalation, error) {
	if req.Entity == nil {
		return nil, pipeline.CloneError(pipeline.ErrBadDefinition, "escalation request requires an entity", nil, nil)
	}
	strategy := req.Strategy
	if strategy == nil {
		strategy = &assign.Strategy{Name: assign.StrategyManagerOf}
	}
	if err := strategy.Validate(); err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "sla_breach"
	}

	target, err := m.resolver.Resolve(ctx, *strategy, assign.Request{
		Tenant:         req.Tenant,
		PipelineID:     req.Entity.PipelineID,
		StageID:        req.StageID,
		CurrentOwnerID: req.Entity.OwnerID,
		Candidates:     strategy.Candidates,
	})
	if err != nil {
		if !assign.IsNoTarget(err) {
			return nil, err
		}
		target = ""
		reason = reason + ":" + UnresolvedTargetSuffix
		m.logger.Warn("escalation target unresolved for entity %s: %v", req.Entity.ID, err)
	}

	record := &pipeline.Escalation{
		ID:          m.newID(),
		EntityID:    req.Entity.ID,
		FromOwnerID: req.Entity.OwnerID,
		ToOwnerID:   target,
		Reason:      reason,
		EscalatedAt: m.clock.Now(),
	}
	record, err = m.store.Append(ctx, req.Tenant, record)
	if err != nil {
		return nil, err
	}

	evt := pipeline.NewEvent(pipeline.EventEntityEscalated, req.Tenant, req.Entity.ID, req.Entity.PipelineID, record.EscalatedAt, map[string]any{
		"level":         record.Level,
		"from_owner_id": record.FromOwnerID,
		"to_owner_id":   record.ToOwnerID,
		"reason":        record.Reason,
		"stage_id":      req.StageID,
	})
	if err := m.publisher.Publish(ctx, evt); err != nil {
		m.logger.Warn("escalation event publish failed: %v", err)
	}

	m.logger.Info("entity %s escalated to level %d target=%q", record.EntityID, record.Level, record.ToOwnerID)
	return record, nil
}

// History returns the entity's escalation chain in level order.
func (m *Manager) History(ctx context.Context, tenant, entityID string) ([]*pipeline.Escalation, error) {
	return m.store.ListByEntity(ctx, tenant, entityID)
}
