package sla

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/assign"
)

func TestRunnerSweepAll(t *testing.T) {
	f := newFixture(t, assign.Strategy{Name: assign.StrategyFixed, Owner: "mgr-1"}, nil)
	f.seedEntity(t, "ent-1", "u-1")
	f.seedClock(t, "clock-1", "ent-1", 60)

	r := NewRunner([]*Monitor{f.monitor, nil},
		WithRunnerClock(pipeline.FixedClock(t0.Add(2*time.Hour))))
	r.SweepAll(context.Background())

	chain, err := f.escalations.ListByEntity(context.Background(), "t1", "ent-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 1 {
		t.Fatalf("chain = %d, want 1", len(chain))
	}
}

func TestRunnerRejectsBadSchedule(t *testing.T) {
	r := NewRunner(nil, WithSchedule("not a cron expression"))
	err := r.Start(context.Background())
	if !pipeline.IsCode(err, pipeline.ErrCodeBadDefinition) {
		t.Fatalf("expected bad-definition, got %v", err)
	}
}

func TestRunnerStartStop(t *testing.T) {
	r := NewRunner(nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	// second start is a no-op
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.Stop()
	r.Stop()
}
