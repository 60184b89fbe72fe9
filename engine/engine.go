package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/action"
	"github.com/goliatone/go-pipeline/condition"
)

// TransitionRequest asks the engine to move one entity to a target stage.
type TransitionRequest struct {
	EntityID      string
	TargetStageID string
	Context       pipeline.Context
}

// TransitionResult reports a committed transition.
type TransitionResult struct {
	Entity      *pipeline.Entity
	FromStageID string
	ToStageID   string
	ResolvedSla *pipeline.SlaClock
	StartedSla  *pipeline.SlaClock
	Event       pipeline.Event
}

// Engine orchestrates stage transitions: rule lookup, condition gating,
// entry/exit actions, SLA clock lifecycle, and event emission. It owns
// Entity.CurrentStageID and SLA clock transitions exclusively; callers
// must not mutate those fields directly.
type Engine struct {
	definitions *DefinitionSet
	entities    pipeline.EntityStore
	slas        pipeline.SlaStore
	executor    *action.Executor
	conditions  *condition.Evaluator
	publisher   pipeline.Publisher
	clock       pipeline.Clock
	logger      pipeline.Logger
	newID       func() string

	// transitions for the same entity serialize on a per-entity mutex;
	// different entities proceed in parallel
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// Option customizes engine construction.
type Option func(*Engine)

// WithPublisher wires the event publisher.
func WithPublisher(p pipeline.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithClock sets the engine clock.
func WithClock(c pipeline.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l pipeline.Logger) Option {
	return func(e *Engine) {
		e.logger = pipeline.NormalizeLogger(l)
	}
}

// WithIDGenerator overrides clock ids, useful in tests.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// New constructs an engine.
func New(
	definitions *DefinitionSet,
	entities pipeline.EntityStore,
	slas pipeline.SlaStore,
	executor *action.Executor,
	conditions *condition.Evaluator,
	opts ...Option,
) (*Engine, error) {
	if definitions == nil {
		return nil, pipeline.CloneError(pipeline.ErrBadDefinition, "definition set required", nil, nil)
	}
	if entities == nil {
		return nil, pipeline.CloneError(pipeline.ErrBadDefinition, "entity store required", nil, nil)
	}
	if slas == nil {
		return nil, pipeline.CloneError(pipeline.ErrBadDefinition, "sla store required", nil, nil)
	}
	if conditions == nil {
		conditions = condition.NewEvaluator()
	}
	e := &Engine{
		definitions: definitions,
		entities:    entities,
		slas:        slas,
		executor:    executor,
		conditions:  conditions,
		publisher:   pipeline.NopPublisher{},
		clock:       pipeline.SystemClock(),
		logger:      pipeline.NormalizeLogger(nil),
		newID:       uuid.NewString,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = pipeline.NormalizeLogger(e.logger)
	return e, nil
}

// Transition moves an entity to the target stage. The operation is
// all-or-nothing: either conditions pass, actions apply, stage and SLA
// state persist, and the event is emitted, or nothing the entity owns
// changes. Externally visible side effects run only after local commit.
func (e *Engine) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	entityID := strings.TrimSpace(req.EntityID)
	if entityID == "" {
		return nil, pipeline.CloneError(pipeline.ErrBadDefinition, "entity id is required", nil, nil)
	}
	target := pipeline.NormalizeID(req.TargetStageID)
	if target == "" {
		return nil, pipeline.CloneError(pipeline.ErrBadDefinition, "target stage id is required", nil, nil)
	}

	unlock := e.lockEntity(req.Context.Tenant, entityID)
	defer unlock()

	entity, err := e.entities.Load(ctx, req.Context.Tenant, entityID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, fmt.Errorf("entity %s: %w", entityID, pipeline.ErrNotFound)
	}

	fields := map[string]any{
		"entity_id":   entityID,
		"pipeline_id": entity.PipelineID,
		"from_stage":  entity.CurrentStageID,
		"to_stage":    target,
		"tenant":      req.Context.Tenant,
	}
	logger := pipeline.WithLoggerFields(e.logger.WithContext(ctx), fields)

	if !entity.IsActive() {
		return nil, pipeline.CloneError(
			pipeline.ErrEntityNotActive,
			fmt.Sprintf("entity %s is %s", entityID, entity.Status),
			nil, fields,
		)
	}

	def, ok := e.definitions.DefinitionFor(entity)
	if !ok {
		return nil, pipeline.CloneError(pipeline.ErrBadDefinition, fmt.Sprintf("no definition for pipeline %s", entity.PipelineID), nil, fields)
	}
	current, ok := def.StageByID(entity.CurrentStageID)
	if !ok {
		return nil, pipeline.CloneError(pipeline.ErrStageNotFound, fmt.Sprintf("current stage %s not in definition %s", entity.CurrentStageID, def.ID), nil, fields)
	}
	targetStage, ok := def.StageByID(target)
	if !ok {
		return nil, pipeline.CloneError(pipeline.ErrStageNotFound, fmt.Sprintf("target stage %s not in definition %s", target, def.ID), nil, fields)
	}
	if pipeline.NormalizeID(current.ID) == pipeline.NormalizeID(targetStage.ID) {
		return nil, pipeline.CloneError(pipeline.ErrTransitionNotAllowed, "target stage equals current stage", nil, fields)
	}

	rule, ok := current.RuleFor(target)
	if !ok || !targetStage.IsActive {
		return nil, pipeline.CloneError(
			pipeline.ErrTransitionNotAllowed,
			fmt.Sprintf("no transition from %s to %s", current.ID, target),
			nil, fields,
		)
	}

	env := condition.Env{Entity: entity, Context: req.Context}
	if failedID, pass := e.conditions.EvaluateAll(rule.Conditions, env); !pass {
		return nil, pipeline.CloneError(
			pipeline.ErrConditionNotMet,
			fmt.Sprintf("condition %s not met", failedID),
			nil,
			pipeline.MergeFields(fields, map[string]any{"condition_id": failedID}),
		)
	}

	// All mutations below stage against a working copy; nothing persists
	// until entry actions succeed, so a fail-fast action leaves the
	// entity byte-for-byte unchanged.
	now := e.clock.Now()
	working := entity.Clone()

	deferred, err := e.runActions(ctx, current.ExitActions, working, req.Context)
	if err != nil {
		logger.Warn("exit action aborted transition: %v", err)
		return nil, err
	}

	working.CurrentStageID = targetStage.ID
	working.StageEnteredAt = now

	entryDeferred, err := e.runActions(ctx, targetStage.EntryActions, working, req.Context)
	if err != nil {
		logger.Warn("entry action aborted transition: %v", err)
		return nil, err
	}
	deferred = append(deferred, entryDeferred...)

	newVersion, err := e.entities.Save(ctx, req.Context.Tenant, working, entity.Version)
	if err != nil {
		return nil, err
	}
	working.Version = newVersion

	result := &TransitionResult{
		Entity:      working,
		FromStageID: current.ID,
		ToStageID:   targetStage.ID,
	}

	// active→resolved loses gracefully to a concurrent breach sweep. A
	// store error means the old clock may still be active, and an entity
	// never carries two active clocks, so no replacement is started.
	startClock := targetStage.SlaMinutes > 0
	if clock, err := e.slas.ActiveClock(ctx, req.Context.Tenant, entityID); err == nil && clock != nil {
		if resolved, rerr := e.slas.Resolve(ctx, req.Context.Tenant, clock.ID); rerr != nil {
			logger.Error("sla clock resolve failed: %v", rerr)
			startClock = false
		} else if resolved {
			clock.Status = pipeline.SlaStatusResolved
			result.ResolvedSla = clock
		}
	} else if err != nil && !errors.Is(err, pipeline.ErrNotFound) {
		logger.Error("sla clock load failed: %v", err)
		startClock = false
	}

	if startClock {
		clock := pipeline.NewSlaClock(e.newID(), entityID, working.PipelineID, targetStage.ID, targetStage.SlaMinutes, now)
		if err := e.slas.Create(ctx, req.Context.Tenant, clock); err != nil {
			logger.Error("sla clock create failed: %v", err)
		} else {
			result.StartedSla = clock
		}
	}

	e.runDeferred(ctx, deferred, logger)

	evt := pipeline.NewEvent(pipeline.EventStageTransitioned, req.Context.Tenant, entityID, working.PipelineID, now, map[string]any{
		"from_stage": current.ID,
		"to_stage":   targetStage.ID,
		"actor_id":   req.Context.ActorID,
		"context":    req.Context.Values,
	})
	if err := e.publisher.Publish(ctx, evt); err != nil {
		logger.Warn("stage transition event publish failed: %v", err)
	}
	result.Event = evt

	logger.Info("transition committed version=%d", newVersion)
	return result, nil
}

func (e *Engine) runActions(ctx context.Context, specs []action.Spec, working *pipeline.Entity, tctx pipeline.Context) ([]action.SideEffect, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	if e.executor == nil {
		return nil, pipeline.CloneError(pipeline.ErrBadDefinition, "action executor not configured", nil, nil)
	}
	var deferred []action.SideEffect
	for i := range specs {
		out, err := e.executor.Execute(ctx, &specs[i], working, tctx)
		if err != nil {
			return nil, err
		}
		deferred = append(deferred, out.Deferred...)
	}
	return deferred, nil
}

func (e *Engine) runDeferred(ctx context.Context, effects []action.SideEffect, logger pipeline.Logger) {
	for _, effect := range effects {
		if effect.Run == nil {
			continue
		}
		if err := effect.Run(ctx); err != nil {
			logger.Warn("deferred side effect %s failed: %v", effect.Description, err)
		}
	}
}

func (e *Engine) lockEntity(tenant, entityID string) func() {
	key := tenant + "::" + entityID
	e.lockMu.Lock()
	mu, ok := e.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[key] = mu
	}
	e.lockMu.Unlock()
	mu.Lock()
	return mu.Unlock
}
