package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/assign"
	"github.com/goliatone/go-pipeline/condition"
)

func testEntity() *pipeline.Entity {
	return &pipeline.Entity{
		ID:             "ent-1",
		PipelineID:     "sales",
		CurrentStageID: "new",
		OwnerID:        "u-1",
		Status:         pipeline.EntityStatusActive,
		Data:           map[string]any{"amount": 1500, "customer": "acme"},
	}
}

func testContext() pipeline.Context {
	return pipeline.Context{ActorID: "actor-1", Tenant: "t1"}
}

func runEffects(t *testing.T, effects []SideEffect) {
	t.Helper()
	for _, effect := range effects {
		if err := effect.Run(context.Background()); err != nil {
			t.Fatalf("side effect %s: %v", effect.ActionID, err)
		}
	}
}

func TestExecuteUpdateField(t *testing.T) {
	x := NewExecutor(condition.NewEvaluator(), assign.NewResolver())
	entity := testEntity()

	spec := &Spec{ID: "a1", Kind: KindUpdateField, Field: "priority", Value: "high"}
	out, err := x.Execute(context.Background(), spec, entity, testContext())
	if err != nil {
		t.Fatal(err)
	}
	if out.Skipped {
		t.Fatal("unconditional action should not skip")
	}
	if entity.Data["priority"] != "high" {
		t.Fatalf("priority = %v, want high", entity.Data["priority"])
	}
}

func TestExecuteUpdateFieldTemplate(t *testing.T) {
	x := NewExecutor(condition.NewEvaluator(), assign.NewResolver())
	entity := testEntity()

	spec := &Spec{ID: "a1", Kind: KindUpdateField, Field: "summary", Value: "deal for {{data.customer}}"}
	if _, err := x.Execute(context.Background(), spec, entity, testContext()); err != nil {
		t.Fatal(err)
	}
	if entity.Data["summary"] != "deal for acme" {
		t.Fatalf("summary = %v", entity.Data["summary"])
	}

	// a single whole-string reference keeps the source type
	typed := &Spec{ID: "a2", Kind: KindUpdateField, Field: "copied", Value: "{{data.amount}}"}
	if _, err := x.Execute(context.Background(), typed, entity, testContext()); err != nil {
		t.Fatal(err)
	}
	if entity.Data["copied"] != 1500 {
		t.Fatalf("copied = %v (%T), want int 1500", entity.Data["copied"], entity.Data["copied"])
	}
}

func TestExecuteConditionGateSkips(t *testing.T) {
	x := NewExecutor(condition.NewEvaluator(), assign.NewResolver())
	entity := testEntity()

	gate := condition.Field("g1", "data.amount", condition.OpGt, 99999)
	spec := &Spec{ID: "a1", Kind: KindUpdateField, Field: "priority", Value: "high", Condition: &gate}

	out, err := x.Execute(context.Background(), spec, entity, testContext())
	if err != nil {
		t.Fatal(err)
	}
	if !out.Skipped {
		t.Fatal("failing gate should skip, not error")
	}
	if _, ok := entity.Data["priority"]; ok {
		t.Fatal("skipped action must not mutate the entity")
	}
}

func TestExecuteAssignUsers(t *testing.T) {
	x := NewExecutor(condition.NewEvaluator(), assign.NewResolver())
	entity := testEntity()

	spec := &Spec{ID: "a1", Kind: KindAssignUsers, Strategy: assign.Strategy{
		Name: assign.StrategyRoundRobin, Candidates: []string{"u-5", "u-6"},
	}}
	if _, err := x.Execute(context.Background(), spec, entity, testContext()); err != nil {
		t.Fatal(err)
	}
	if entity.OwnerID != "u-5" {
		t.Fatalf("owner = %q, want u-5", entity.OwnerID)
	}
}

func TestExecuteAssignUsersUnknownStrategyPassesThrough(t *testing.T) {
	x := NewExecutor(condition.NewEvaluator(), assign.NewResolver())
	entity := testEntity()

	spec := &Spec{ID: "a1", Kind: KindAssignUsers, Strategy: assign.Strategy{Name: "mystery"}}
	_, err := x.Execute(context.Background(), spec, entity, testContext())
	if !pipeline.IsCode(err, pipeline.ErrCodeUnknownStrategy) {
		t.Fatalf("expected unknown strategy config error, got %v", err)
	}
	if entity.OwnerID != "u-1" {
		t.Fatal("failed assignment must not change the owner")
	}
}

func TestExecuteNotificationIsDeferred(t *testing.T) {
	var sent []Notification
	notifier := NotifierFunc(func(ctx context.Context, n Notification) error {
		sent = append(sent, n)
		return nil
	})
	x := NewExecutor(condition.NewEvaluator(), assign.NewResolver(), WithNotifier(notifier))
	entity := testEntity()

	spec := &Spec{
		ID: "a1", Kind: KindSendNotification,
		Template:   "deal {{data.customer}} moved",
		Recipients: []string{"u-9"},
	}
	out, err := x.Execute(context.Background(), spec, entity, testContext())
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 0 {
		t.Fatal("notification must not fire before the deferred effect runs")
	}
	if len(out.Deferred) != 1 {
		t.Fatalf("deferred effects = %d, want 1", len(out.Deferred))
	}

	runEffects(t, out.Deferred)
	if len(sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sent))
	}
	if sent[0].Template != "deal acme moved" {
		t.Fatalf("template = %q", sent[0].Template)
	}
}

func TestExecuteTimerIsDeferred(t *testing.T) {
	var scheduled []Timer
	timers := TimerSchedulerFunc(func(ctx context.Context, delay time.Duration, tm Timer) error {
		scheduled = append(scheduled, tm)
		return nil
	})
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	x := NewExecutor(condition.NewEvaluator(), assign.NewResolver(),
		WithTimerScheduler(timers), WithClock(pipeline.FixedClock(now)))
	entity := testEntity()

	spec := &Spec{ID: "a1", Kind: KindCreateTimer, Timer: "follow-up", DelayMinutes: 30}
	out, err := x.Execute(context.Background(), spec, entity, testContext())
	if err != nil {
		t.Fatal(err)
	}
	runEffects(t, out.Deferred)

	if len(scheduled) != 1 {
		t.Fatalf("scheduled = %d, want 1", len(scheduled))
	}
	if want := now.Add(30 * time.Minute); !scheduled[0].FireAt.Equal(want) {
		t.Fatalf("fire at %v, want %v", scheduled[0].FireAt, want)
	}
}

func TestExecuteIntegrationFailFast(t *testing.T) {
	reg := NewIntegrationRegistry()
	boom := errors.New("upstream down")
	if err := reg.Register("crm-sync", func(ctx context.Context, inv Invocation) error {
		return boom
	}); err != nil {
		t.Fatal(err)
	}
	x := NewExecutor(condition.NewEvaluator(), assign.NewResolver(), WithIntegrations(reg))
	entity := testEntity()

	spec := &Spec{ID: "a1", Kind: KindExecuteIntegration, Integration: "crm-sync", FailMode: FailModeFailFast}
	_, err := x.Execute(context.Background(), spec, entity, testContext())
	if !pipeline.IsCode(err, pipeline.ErrCodeActionFailed) {
		t.Fatalf("expected action-failed error, got %v", err)
	}
}

func TestExecuteIntegrationBestEffortDefersAndSwallows(t *testing.T) {
	reg := NewIntegrationRegistry()
	calls := 0
	if err := reg.Register("crm-sync", func(ctx context.Context, inv Invocation) error {
		calls++
		return errors.New("upstream down")
	}); err != nil {
		t.Fatal(err)
	}
	x := NewExecutor(condition.NewEvaluator(), assign.NewResolver(), WithIntegrations(reg))
	entity := testEntity()

	spec := &Spec{ID: "a1", Kind: KindExecuteIntegration, Integration: "crm-sync"}
	out, err := x.Execute(context.Background(), spec, entity, testContext())
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Deferred) != 1 {
		t.Fatalf("deferred = %d, want 1", len(out.Deferred))
	}
	// the deferred run fails but the error stays with the effect runner
	if err := out.Deferred[0].Run(context.Background()); err == nil {
		t.Fatal("deferred integration should surface its own failure")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestExecuteUnknownIntegrationIsConfigError(t *testing.T) {
	x := NewExecutor(condition.NewEvaluator(), assign.NewResolver(), WithIntegrations(NewIntegrationRegistry()))
	entity := testEntity()

	spec := &Spec{ID: "a1", Kind: KindExecuteIntegration, Integration: "ghost", FailMode: FailModeFailFast}
	_, err := x.Execute(context.Background(), spec, entity, testContext())
	if !pipeline.IsCode(err, pipeline.ErrCodeBadDefinition) {
		t.Fatalf("expected bad-definition error, got %v", err)
	}
}

func TestSpecValidate(t *testing.T) {
	cases := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"valid update", Spec{ID: "a", Kind: KindUpdateField, Field: "x"}, false},
		{"update without field", Spec{ID: "a", Kind: KindUpdateField}, true},
		{"unknown kind", Spec{ID: "a", Kind: Kind("explode")}, true},
		{"timer without delay", Spec{ID: "a", Kind: KindCreateTimer, Timer: "t"}, true},
		{"fail mode on non-integration", Spec{ID: "a", Kind: KindUpdateField, Field: "x", FailMode: FailModeBestEffort}, true},
		{"fail mode on integration", Spec{ID: "a", Kind: KindExecuteIntegration, Integration: "i", FailMode: FailModeFailFast}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
