package action

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// IntegrationFunc is an external integration handle invoked by name.
type IntegrationFunc func(ctx context.Context, inv Invocation) error

// IntegrationRegistry stores named integration handlers referenced by
// execute_integration actions.
type IntegrationRegistry struct {
	mu       sync.RWMutex
	handlers map[string]IntegrationFunc
}

// NewIntegrationRegistry creates an empty registry.
func NewIntegrationRegistry() *IntegrationRegistry {
	return &IntegrationRegistry{
		handlers: make(map[string]IntegrationFunc),
	}
}

// Register adds a handler by name.
func (r *IntegrationRegistry) Register(name string, fn IntegrationFunc) error {
	if name == "" || fn == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string]IntegrationFunc)
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("integration %s already registered", name)
	}
	r.handlers[name] = fn
	return nil
}

// Lookup retrieves a handler by name.
func (r *IntegrationRegistry) Lookup(name string) (IntegrationFunc, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

// IDs returns sorted handler names for deterministic introspection.
func (r *IntegrationRegistry) IDs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.handlers) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
