package webhook

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-pipeline"
)

// DefaultMaxAttempts bounds retries per endpoint per event.
const DefaultMaxAttempts = 5

// Validity reports whether an event is still worth delivering.
// Superseded events (the entity closed, a newer transition replaced
// the one being announced) cancel their remaining retries.
type Validity interface {
	Valid(ctx context.Context, evt pipeline.Event) bool
}

// ValidityFunc adapts a function to Validity.
type ValidityFunc func(ctx context.Context, evt pipeline.Event) bool

func (f ValidityFunc) Valid(ctx context.Context, evt pipeline.Event) bool {
	return f(ctx, evt)
}

// Dispatcher fans events out to matching endpoints. Each endpoint gets
// its own goroutine with sequential, backed-off attempts; endpoints
// never block one another and every attempt lands in the delivery log.
type Dispatcher struct {
	registry    *Registry
	sender      Sender
	log         pipeline.DeliveryLog
	publisher   pipeline.Publisher
	clock       pipeline.Clock
	logger      pipeline.Logger
	backoff     BackoffStrategy
	validity    Validity
	maxAttempts int
	newID       func() string

	wg sync.WaitGroup
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSender overrides the delivery transport.
func WithSender(s Sender) DispatcherOption {
	return func(d *Dispatcher) {
		if s != nil {
			d.sender = s
		}
	}
}

// WithBackoff overrides the retry strategy.
func WithBackoff(b BackoffStrategy) DispatcherOption {
	return func(d *Dispatcher) {
		if b != nil {
			d.backoff = b
		}
	}
}

// WithValidity wires an event validity check consulted before every
// retry. Without one, events stay valid for their whole retry series.
func WithValidity(v Validity) DispatcherOption {
	return func(d *Dispatcher) {
		d.validity = v
	}
}

// WithMaxAttempts bounds attempts per endpoint per event.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithPublisher wires the event publisher for delivery outcomes.
func WithPublisher(p pipeline.Publisher) DispatcherOption {
	return func(d *Dispatcher) {
		if p != nil {
			d.publisher = p
		}
	}
}

// WithClock sets the dispatcher clock.
func WithClock(c pipeline.Clock) DispatcherOption {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l pipeline.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = pipeline.NormalizeLogger(l)
	}
}

// WithIDGenerator overrides attempt ids, useful in tests.
func WithIDGenerator(fn func() string) DispatcherOption {
	return func(d *Dispatcher) {
		if fn != nil {
			d.newID = fn
		}
	}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(registry *Registry, log pipeline.DeliveryLog, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		sender:    NewHTTPSender(),
		log:       log,
		publisher: pipeline.NopPublisher{},
		clock:     pipeline.SystemClock(),
		logger:    pipeline.NormalizeLogger(nil),
		backoff: ExponentialBackoffStrategy{
			Base:   time.Second,
			Factor: 2,
			Max:    time.Minute,
			Jitter: 0.2,
		},
		maxAttempts: DefaultMaxAttempts,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.logger = pipeline.NormalizeLogger(d.logger)
	return d
}

// Dispatch fans the event out to every matching endpoint and returns
// immediately. Use Wait to drain in-flight deliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, evt pipeline.Event) {
	// delivery outlives the caller: a transition returns before its
	// webhooks settle, so retries must not die with the request context
	ctx = context.WithoutCancel(ctx)
	endpoints := d.registry.Matching(evt.Tenant, evt.Type)
	for _, ep := range endpoints {
		d.wg.Add(1)
		go func(ep *Endpoint) {
			defer d.wg.Done()
			d.deliver(ctx, ep, evt)
		}(ep)
	}
}

// Publish lets the dispatcher sit directly on the event bus.
func (d *Dispatcher) Publish(ctx context.Context, evt pipeline.Event) error {
	d.Dispatch(ctx, evt)
	return nil
}

// Wait blocks until all in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// deliver runs the bounded retry loop for one endpoint. The endpoint's
// registration is re-checked before every retry so an unsubscribe
// mid-sequence stops further attempts.
func (d *Dispatcher) deliver(ctx context.Context, ep *Endpoint, evt pipeline.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		d.logger.Error("webhook payload encode failed event=%s: %v", evt.ID, err)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				// every event ends delivered or failed, even when the
				// series itself is cut short
				d.logger.Warn("webhook retries interrupted endpoint=%s event=%s: %v", ep.ID, evt.ID, ctx.Err())
				d.emit(ctx, pipeline.EventWebhookFailed, ep, evt, attempt-1, lastErr)
				return
			case <-time.After(d.backoff.SleepDuration(attempt-2, lastErr)):
			}
			if _, ok := d.registry.Lookup(ep.Tenant, ep.ID); !ok {
				d.logger.Info("webhook endpoint %s unsubscribed, abandoning event %s", ep.ID, evt.ID)
				return
			}
			if d.validity != nil && !d.validity.Valid(ctx, evt) {
				d.logger.Info("webhook event %s superseded, abandoning endpoint %s", evt.ID, ep.ID)
				return
			}
		}

		sendErr := d.sender.Send(ctx, ep, evt)
		d.record(ctx, ep, evt, payload, attempt, sendErr)

		if sendErr == nil {
			d.emit(ctx, pipeline.EventWebhookDelivered, ep, evt, attempt, nil)
			return
		}
		lastErr = sendErr
		d.logger.Warn("webhook attempt %d/%d failed endpoint=%s event=%s: %v", attempt, d.maxAttempts, ep.ID, evt.ID, sendErr)
	}

	d.emit(ctx, pipeline.EventWebhookFailed, ep, evt, d.maxAttempts, lastErr)
}

func (d *Dispatcher) record(ctx context.Context, ep *Endpoint, evt pipeline.Event, payload []byte, attempt int, sendErr error) {
	if d.log == nil {
		return
	}
	row := &pipeline.DeliveryAttempt{
		ID:            d.newID(),
		EventID:       evt.ID,
		EndpointID:    ep.ID,
		URL:           ep.URL,
		Payload:       payload,
		AttemptNumber: attempt,
		Outcome:       pipeline.DeliveryOutcomeDelivered,
		AttemptedAt:   d.clock.Now(),
	}
	if sendErr != nil {
		row.Outcome = pipeline.DeliveryOutcomeFailed
		row.Error = sendErr.Error()
	}
	if err := d.log.Append(ctx, row); err != nil {
		d.logger.Error("delivery log append failed event=%s endpoint=%s: %v", evt.ID, ep.ID, err)
	}
}

func (d *Dispatcher) emit(ctx context.Context, eventType string, ep *Endpoint, evt pipeline.Event, attempts int, lastErr error) {
	payload := map[string]any{
		"event_id":    evt.ID,
		"event_type":  evt.Type,
		"endpoint_id": ep.ID,
		"attempts":    attempts,
	}
	if lastErr != nil {
		payload["error"] = lastErr.Error()
	}
	out := pipeline.NewEvent(eventType, evt.Tenant, evt.EntityID, evt.PipelineID, d.clock.Now(), payload)
	if err := d.publisher.Publish(ctx, out); err != nil {
		d.logger.Warn("webhook outcome publish failed: %v", err)
	}
}
