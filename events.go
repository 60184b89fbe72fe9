package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types raised by the engine and its background components.
const (
	EventStageTransitioned = "pipeline.stage.transitioned"
	EventSlaBreached       = "pipeline.sla.breached"
	EventEntityEscalated   = "pipeline.entity.escalated"
	EventWebhookDelivered  = "pipeline.webhook.delivered"
	EventWebhookFailed     = "pipeline.webhook.failed"
)

// Event is the typed envelope published for every observable pipeline
// occurrence. Payload keys are event-type specific.
type Event struct {
	ID         string
	Type       string
	Tenant     string
	EntityID   string
	PipelineID string
	OccurredAt time.Time
	Payload    map[string]any
}

// NewEvent builds an event with a fresh identifier.
func NewEvent(eventType, tenant, entityID, pipelineID string, occurredAt time.Time, payload map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Tenant:     tenant,
		EntityID:   entityID,
		PipelineID: pipelineID,
		OccurredAt: occurredAt.UTC(),
		Payload:    cloneData(payload),
	}
}

// Publisher receives events for external observation. Publish failures
// never feed back into transition correctness.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, evt Event) error

func (f PublisherFunc) Publish(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
