package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-pipeline"
)

func event(eventType string) pipeline.Event {
	return pipeline.NewEvent(eventType, "t1", "ent-1", "sales",
		time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), nil)
}

func TestPublishRoutesByType(t *testing.T) {
	b := New()
	var breaches, transitions int

	b.Subscribe(pipeline.EventSlaBreached, func(ctx context.Context, evt pipeline.Event) error {
		breaches++
		return nil
	})
	b.Subscribe(pipeline.EventStageTransitioned, func(ctx context.Context, evt pipeline.Event) error {
		transitions++
		return nil
	})

	if err := b.Publish(context.Background(), event(pipeline.EventSlaBreached)); err != nil {
		t.Fatal(err)
	}
	if breaches != 1 || transitions != 0 {
		t.Fatalf("breaches=%d transitions=%d", breaches, transitions)
	}
}

func TestWildcardSubscription(t *testing.T) {
	b := New()
	var all []string
	b.Subscribe("", func(ctx context.Context, evt pipeline.Event) error {
		all = append(all, evt.Type)
		return nil
	})

	b.Publish(context.Background(), event(pipeline.EventSlaBreached))
	b.Publish(context.Background(), event(pipeline.EventStageTransitioned))

	if len(all) != 2 {
		t.Fatalf("wildcard saw %d events, want 2", len(all))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	sub := b.Subscribe(pipeline.EventSlaBreached, func(ctx context.Context, evt pipeline.Event) error {
		calls++
		return nil
	})

	b.Publish(context.Background(), event(pipeline.EventSlaBreached))
	sub.Unsubscribe()
	sub.Unsubscribe() // second call is a no-op
	b.Publish(context.Background(), event(pipeline.EventSlaBreached))

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestFailingHandlerDoesNotStopOthers(t *testing.T) {
	b := New()
	reached := false
	b.Subscribe(pipeline.EventSlaBreached, func(ctx context.Context, evt pipeline.Event) error {
		return errors.New("handler broke")
	})
	b.Subscribe(pipeline.EventSlaBreached, func(ctx context.Context, evt pipeline.Event) error {
		reached = true
		return nil
	})

	if err := b.Publish(context.Background(), event(pipeline.EventSlaBreached)); err != nil {
		t.Fatal(err)
	}
	if !reached {
		t.Fatal("later handlers must still run after a failure")
	}
}

func TestSubscribePublisher(t *testing.T) {
	b := New()
	var forwarded []pipeline.Event
	b.SubscribePublisher(pipeline.EventSlaBreached, pipeline.PublisherFunc(func(ctx context.Context, evt pipeline.Event) error {
		forwarded = append(forwarded, evt)
		return nil
	}))

	b.Publish(context.Background(), event(pipeline.EventSlaBreached))
	if len(forwarded) != 1 {
		t.Fatalf("forwarded = %d, want 1", len(forwarded))
	}
}
