// Package webhook delivers pipeline events to subscribed HTTP
// endpoints with bounded, backed-off retries and a full per-attempt
// delivery log.
package webhook

import (
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-pipeline"
)

// Endpoint is a webhook subscription. An endpoint receives the event
// types it names, or every event when EventTypes is empty.
type Endpoint struct {
	ID         string
	Tenant     string
	URL        string
	EventTypes []string
	Disabled   bool
}

// Wants reports whether the endpoint subscribes to the event type.
func (e *Endpoint) Wants(eventType string) bool {
	if len(e.EventTypes) == 0 {
		return true
	}
	for _, t := range e.EventTypes {
		if strings.EqualFold(strings.TrimSpace(t), eventType) {
			return true
		}
	}
	return false
}

// Registry holds endpoint subscriptions per tenant.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]map[string]*Endpoint
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]map[string]*Endpoint)}
}

// Subscribe registers or replaces an endpoint.
func (r *Registry) Subscribe(ep *Endpoint) error {
	if ep == nil || strings.TrimSpace(ep.ID) == "" {
		return pipeline.CloneError(pipeline.ErrBadDefinition, "endpoint requires an id", nil, nil)
	}
	if strings.TrimSpace(ep.URL) == "" {
		return pipeline.CloneError(pipeline.ErrBadDefinition, "endpoint requires a url", nil, map[string]any{
			"endpoint_id": ep.ID,
		})
	}
	tenant := pipeline.NormalizeID(ep.Tenant)
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.endpoints[tenant]
	if !ok {
		byID = make(map[string]*Endpoint)
		r.endpoints[tenant] = byID
	}
	cp := *ep
	byID[pipeline.NormalizeID(ep.ID)] = &cp
	return nil
}

// Unsubscribe removes an endpoint. Removing an unknown endpoint is a
// no-op; in-flight deliveries notice on their next validity check.
func (r *Registry) Unsubscribe(tenant, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if byID, ok := r.endpoints[pipeline.NormalizeID(tenant)]; ok {
		delete(byID, pipeline.NormalizeID(id))
	}
}

// Lookup returns the endpoint if it is still registered and enabled.
func (r *Registry) Lookup(tenant, id string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byID, ok := r.endpoints[pipeline.NormalizeID(tenant)]
	if !ok {
		return nil, false
	}
	ep, ok := byID[pipeline.NormalizeID(id)]
	if !ok || ep.Disabled {
		return nil, false
	}
	cp := *ep
	return &cp, true
}

// Matching returns enabled endpoints subscribed to the event type,
// ordered by id.
func (r *Registry) Matching(tenant, eventType string) []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byID, ok := r.endpoints[pipeline.NormalizeID(tenant)]
	if !ok {
		return nil
	}
	var out []*Endpoint
	for _, ep := range byID {
		if ep.Disabled || !ep.Wants(eventType) {
			continue
		}
		cp := *ep
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BackoffStrategy decides how long to wait before the next attempt.
// The attempt index starts at 0, incrementing after each failure.
type BackoffStrategy interface {
	SleepDuration(attempt int, err error) time.Duration
}

// NoDelayStrategy retries immediately, useful in tests.
type NoDelayStrategy struct{}

func (NoDelayStrategy) SleepDuration(int, error) time.Duration { return 0 }

// ExponentialBackoffStrategy grows the delay by Factor each attempt,
// caps it at Max, then subtracts up to Jitter fraction so simultaneous
// failures spread out instead of retrying in lockstep.
type ExponentialBackoffStrategy struct {
	// Base is the starting delay (e.g. 1s)
	Base time.Duration
	// Factor is multiplied each iteration (e.g. 2 => 1s, 2s, 4s, ...)
	Factor float64
	// Max caps the exponential growth
	Max time.Duration
	// Jitter in [0,1) randomly shaves that fraction off each delay
	Jitter float64

	rnd func() float64
}

// SleepDuration implements BackoffStrategy.
func (e ExponentialBackoffStrategy) SleepDuration(attempt int, _ error) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(e.Base) * math.Pow(e.Factor, float64(attempt))
	if e.Max > 0 && delay > float64(e.Max) {
		delay = float64(e.Max)
	}
	if e.Jitter > 0 {
		rnd := e.rnd
		if rnd == nil {
			rnd = rand.Float64
		}
		delay -= delay * e.Jitter * rnd()
	}
	return time.Duration(delay)
}
