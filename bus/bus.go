// Package bus is a small in-process event bus connecting the engine
// and its background components to listeners such as the webhook
// dispatcher.
package bus

import (
	"context"
	"sync"

	"github.com/goliatone/go-pipeline"
)

// Handler consumes one published event.
type Handler func(ctx context.Context, evt pipeline.Event) error

// Bus routes events to handlers by event type. The empty type
// subscribes to everything.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]*registration
	logger   pipeline.Logger
	nextID   int64
}

type registration struct {
	id      int64
	handler Handler
}

// Option defines the functional option signature.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(l pipeline.Logger) Option {
	return func(b *Bus) {
		b.logger = pipeline.NormalizeLogger(l)
	}
}

// New applies the given options to a new bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[string][]*registration),
		logger:   pipeline.NormalizeLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.logger = pipeline.NormalizeLogger(b.logger)
	return b
}

// Subscription detaches a handler from the bus.
type Subscription interface {
	Unsubscribe()
}

type subs struct {
	bus       *Bus
	eventType string
	id        int64
	once      sync.Once
}

func (s *subs) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s.eventType, s.id)
	})
}

// Subscribe registers a handler for an event type. An empty eventType
// receives every event.
func (b *Bus) Subscribe(eventType string, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	reg := &registration{id: b.nextID, handler: h}
	b.handlers[eventType] = append(b.handlers[eventType], reg)
	return &subs{bus: b, eventType: eventType, id: reg.id}
}

// SubscribePublisher attaches a pipeline.Publisher as a handler.
func (b *Bus) SubscribePublisher(eventType string, p pipeline.Publisher) Subscription {
	return b.Subscribe(eventType, func(ctx context.Context, evt pipeline.Event) error {
		return p.Publish(ctx, evt)
	})
}

// Publish delivers the event to every handler registered for its type
// plus wildcard handlers, synchronously and in subscription order. A
// failing handler is logged and does not stop the rest.
func (b *Bus) Publish(ctx context.Context, evt pipeline.Event) error {
	b.mu.RLock()
	regs := make([]*registration, 0, len(b.handlers[evt.Type])+len(b.handlers[""]))
	regs = append(regs, b.handlers[evt.Type]...)
	regs = append(regs, b.handlers[""]...)
	b.mu.RUnlock()

	for _, reg := range regs {
		if err := reg.handler(ctx, evt); err != nil {
			b.logger.Warn("event handler failed type=%s event=%s: %v", evt.Type, evt.ID, err)
		}
	}
	return nil
}

func (b *Bus) remove(eventType string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.handlers[eventType]
	for i, reg := range regs {
		if reg.id == id {
			b.handlers[eventType] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}
