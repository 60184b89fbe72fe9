package assign

import (
	"context"
	"testing"

	"github.com/goliatone/go-pipeline"
)

type countingStore struct {
	pipeline.EntityStore
	loads map[string]int
}

func (s *countingStore) CountActiveOwned(ctx context.Context, tenant, ownerID string) (int, error) {
	return s.loads[ownerID], nil
}

func TestRoundRobinCyclesDeterministically(t *testing.T) {
	r := NewResolver()
	strategy := Strategy{Name: StrategyRoundRobin, Candidates: []string{"a", "b", "c"}}
	req := Request{Tenant: "t1", PipelineID: "sales", StageID: "new"}

	want := []string{"a", "b", "c", "a", "b", "c"}
	for i, expected := range want {
		got, err := r.Resolve(context.Background(), strategy, req)
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if got != expected {
			t.Fatalf("resolve %d = %q, want %q", i, got, expected)
		}
	}
}

func TestRoundRobinCursorIsPerPipelineStage(t *testing.T) {
	r := NewResolver()
	strategy := Strategy{Name: StrategyRoundRobin, Candidates: []string{"a", "b"}}

	first, err := r.Resolve(context.Background(), strategy, Request{PipelineID: "p1", StageID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	other, err := r.Resolve(context.Background(), strategy, Request{PipelineID: "p1", StageID: "s2"})
	if err != nil {
		t.Fatal(err)
	}
	if first != "a" || other != "a" {
		t.Fatalf("independent cursors should both start at a, got %q and %q", first, other)
	}
}

func TestRoundRobinNoCandidates(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve(context.Background(), Strategy{Name: StrategyRoundRobin}, Request{})
	if !IsNoTarget(err) {
		t.Fatalf("expected no-target error, got %v", err)
	}
}

func TestLeastLoadedPicksLowestWithIDTieBreak(t *testing.T) {
	store := &countingStore{loads: map[string]int{"zed": 1, "amy": 1, "bob": 4}}
	r := NewResolver(WithEntityStore(store))
	strategy := Strategy{Name: StrategyLeastLoaded, Candidates: []string{"zed", "bob", "amy"}}

	got, err := r.Resolve(context.Background(), strategy, Request{Tenant: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	// amy and zed tie at 1; id ascending wins
	if got != "amy" {
		t.Fatalf("least loaded = %q, want amy", got)
	}
}

func TestFixedStrategy(t *testing.T) {
	r := NewResolver()
	got, err := r.Resolve(context.Background(), Strategy{Name: StrategyFixed, Owner: "queue-1"}, Request{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "queue-1" {
		t.Fatalf("fixed = %q, want queue-1", got)
	}

	if err := (Strategy{Name: StrategyFixed}).Validate(); err == nil {
		t.Fatal("fixed without owner should be a config error")
	}
}

func TestManagerOf(t *testing.T) {
	org := pipeline.OrgLookupFunc(func(ctx context.Context, tenant, ownerID string) (string, error) {
		if ownerID == "u-1" {
			return "mgr-1", nil
		}
		return "", nil
	})
	r := NewResolver(WithOrgLookup(org))
	strategy := Strategy{Name: StrategyManagerOf}

	got, err := r.Resolve(context.Background(), strategy, Request{Tenant: "t1", CurrentOwnerID: "u-1"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "mgr-1" {
		t.Fatalf("manager = %q, want mgr-1", got)
	}

	_, err = r.Resolve(context.Background(), strategy, Request{Tenant: "t1", CurrentOwnerID: "u-2"})
	if !IsNoTarget(err) {
		t.Fatalf("ownerless manager should be no-target, got %v", err)
	}

	_, err = r.Resolve(context.Background(), strategy, Request{Tenant: "t1"})
	if !IsNoTarget(err) {
		t.Fatalf("missing current owner should be no-target, got %v", err)
	}
}

func TestUnknownStrategyIsConfigError(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve(context.Background(), Strategy{Name: "random"}, Request{})
	if err == nil {
		t.Fatal("unknown strategy should error")
	}
	if !pipeline.IsCode(err, pipeline.ErrCodeUnknownStrategy) {
		t.Fatalf("error code = %q, want %q", pipeline.ErrorCode(err), pipeline.ErrCodeUnknownStrategy)
	}
	if IsNoTarget(err) {
		t.Fatal("unknown strategy must not be conflated with no-target")
	}
}
