package action

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/assign"
	"github.com/goliatone/go-pipeline/condition"
)

// SideEffect is an externally visible effect staged during action
// execution and run only after the engine commits the transition.
type SideEffect struct {
	ActionID    string
	Description string
	Run         func(ctx context.Context) error
}

// Outcome summarizes one executed action: whether its gate skipped it,
// and any side effects deferred past the commit point.
type Outcome struct {
	ActionID string
	Kind     Kind
	Skipped  bool
	Deferred []SideEffect
}

// Executor executes configured actions against a working copy of an
// entity. Local mutations (field updates, assignment) apply immediately
// to the copy; externally visible effects (notifications, timers,
// best-effort integrations) are deferred so the engine can withhold them
// until local state commits. Fail-fast integrations run inline and their
// failure aborts the transition before anything persists.
type Executor struct {
	conditions   *condition.Evaluator
	resolver     *assign.Resolver
	notifier     Notifier
	timers       TimerScheduler
	integrations *IntegrationRegistry
	clock        pipeline.Clock
	logger       pipeline.Logger
}

// Option customizes executor construction.
type Option func(*Executor)

// WithNotifier wires the notification collaborator.
func WithNotifier(n Notifier) Option {
	return func(x *Executor) { x.notifier = n }
}

// WithTimerScheduler wires the delayed re-check scheduler.
func WithTimerScheduler(t TimerScheduler) Option {
	return func(x *Executor) { x.timers = t }
}

// WithIntegrations wires the named integration registry.
func WithIntegrations(r *IntegrationRegistry) Option {
	return func(x *Executor) { x.integrations = r }
}

// WithClock sets the executor clock.
func WithClock(c pipeline.Clock) Option {
	return func(x *Executor) {
		if c != nil {
			x.clock = c
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(l pipeline.Logger) Option {
	return func(x *Executor) { x.logger = pipeline.NormalizeLogger(l) }
}

// NewExecutor constructs an executor. conditions and resolver are
// required; the remaining collaborators are optional and their absence
// only fails the actions that need them.
func NewExecutor(conditions *condition.Evaluator, resolver *assign.Resolver, opts ...Option) *Executor {
	x := &Executor{
		conditions: conditions,
		resolver:   resolver,
		clock:      pipeline.SystemClock(),
		logger:     pipeline.NormalizeLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(x)
		}
	}
	if x.conditions == nil {
		x.conditions = condition.NewEvaluator()
	}
	return x
}

// Execute runs one action spec against the entity working copy. A nil
// error with Outcome.Skipped means the gating condition did not apply.
// Fail-fast failures return an error wrapping ErrActionFailed; best-effort
// failures are logged and swallowed.
func (x *Executor) Execute(ctx context.Context, spec *Spec, entity *pipeline.Entity, tctx pipeline.Context) (*Outcome, error) {
	if spec == nil {
		return nil, pipeline.CloneError(pipeline.ErrBadDefinition, "nil action spec", nil, nil)
	}
	out := &Outcome{ActionID: spec.ID, Kind: spec.Kind}
	env := condition.Env{Entity: entity, Context: tctx}

	if spec.Condition != nil && !x.conditions.Evaluate(spec.Condition, env) {
		out.Skipped = true
		return out, nil
	}

	var err error
	switch spec.Kind {
	case KindUpdateField:
		entity.Data = ensureData(entity.Data)
		entity.Data[spec.Field] = RenderValue(spec.Value, env)
	case KindAssignUsers:
		err = x.assignUsers(ctx, spec, entity, tctx)
	case KindSendNotification:
		out.Deferred = append(out.Deferred, x.deferNotification(spec, entity, tctx, env))
	case KindCreateTimer:
		out.Deferred = append(out.Deferred, x.deferTimer(spec, entity, tctx))
	case KindExecuteIntegration:
		if spec.EffectiveFailMode() == FailModeFailFast {
			err = x.invokeIntegration(ctx, spec, entity, tctx)
		} else {
			out.Deferred = append(out.Deferred, x.deferIntegration(spec, entity, tctx))
		}
	default:
		err = badAction(spec, fmt.Sprintf("unknown action kind %q", spec.Kind))
	}

	if err != nil {
		if pipeline.IsConfigError(err) || pipeline.IsCode(err, pipeline.ErrCodeUnknownStrategy) {
			return nil, err
		}
		if spec.EffectiveFailMode() == FailModeBestEffort {
			x.logger.Warn("best-effort action %s failed: %v", spec.ID, err)
			return out, nil
		}
		return nil, pipeline.CloneError(
			pipeline.ErrActionFailed,
			fmt.Sprintf("action %s failed", spec.ID),
			err,
			map[string]any{"action_id": spec.ID, "kind": string(spec.Kind)},
		)
	}
	return out, nil
}

func (x *Executor) assignUsers(ctx context.Context, spec *Spec, entity *pipeline.Entity, tctx pipeline.Context) error {
	if x.resolver == nil {
		return pipeline.CloneError(pipeline.ErrBadDefinition, "assign_users requires a resolver", nil, nil)
	}
	owner, err := x.resolver.Resolve(ctx, spec.Strategy, assign.Request{
		Tenant:         tctx.Tenant,
		PipelineID:     entity.PipelineID,
		StageID:        entity.CurrentStageID,
		CurrentOwnerID: entity.OwnerID,
	})
	if err != nil {
		return err
	}
	if spec.Multi {
		entity.Data = ensureData(entity.Data)
		assignees, _ := entity.Data["assignees"].([]any)
		entity.Data["assignees"] = append(assignees, owner)
	}
	entity.OwnerID = owner
	return nil
}

func (x *Executor) deferNotification(spec *Spec, entity *pipeline.Entity, tctx pipeline.Context, env condition.Env) SideEffect {
	n := Notification{
		Tenant:     tctx.Tenant,
		EntityID:   entity.ID,
		Template:   RenderTemplate(spec.Template, env),
		Recipients: append([]string(nil), spec.Recipients...),
		Data:       pipeline.MergeFields(nil, entity.Data),
	}
	notifier := x.notifier
	logger := x.logger
	return SideEffect{
		ActionID:    spec.ID,
		Description: "send_notification " + spec.Template,
		Run: func(ctx context.Context) error {
			if notifier == nil {
				logger.Warn("notifier not configured, dropping notification for action %s", spec.ID)
				return nil
			}
			return notifier.Notify(ctx, n)
		},
	}
}

func (x *Executor) deferTimer(spec *Spec, entity *pipeline.Entity, tctx pipeline.Context) SideEffect {
	delay := time.Duration(spec.DelayMinutes) * time.Minute
	t := Timer{
		Tenant:   tctx.Tenant,
		EntityID: entity.ID,
		Name:     spec.Timer,
		FireAt:   x.clock.Now().Add(delay),
	}
	timers := x.timers
	return SideEffect{
		ActionID:    spec.ID,
		Description: "create_timer " + spec.Timer,
		Run: func(ctx context.Context) error {
			if timers == nil {
				return fmt.Errorf("timer scheduler not configured")
			}
			return timers.ScheduleAfter(ctx, delay, t)
		},
	}
}

func (x *Executor) deferIntegration(spec *Spec, entity *pipeline.Entity, tctx pipeline.Context) SideEffect {
	snapshot := entity.Clone()
	return SideEffect{
		ActionID:    spec.ID,
		Description: "execute_integration " + spec.Integration,
		Run: func(ctx context.Context) error {
			return x.invokeIntegration(ctx, spec, snapshot, tctx)
		},
	}
}

func (x *Executor) invokeIntegration(ctx context.Context, spec *Spec, entity *pipeline.Entity, tctx pipeline.Context) error {
	if x.integrations == nil {
		return pipeline.CloneError(pipeline.ErrBadDefinition, "integration registry not configured", nil, map[string]any{"action_id": spec.ID})
	}
	fn, ok := x.integrations.Lookup(spec.Integration)
	if !ok {
		return pipeline.CloneError(
			pipeline.ErrBadDefinition,
			fmt.Sprintf("unknown integration %q", spec.Integration),
			nil,
			map[string]any{"action_id": spec.ID},
		)
	}
	return fn(ctx, Invocation{
		Tenant:   tctx.Tenant,
		EntityID: entity.ID,
		Entity:   entity,
		Params:   spec.Params,
	})
}

func ensureData(data map[string]any) map[string]any {
	if data == nil {
		return make(map[string]any)
	}
	return data
}
