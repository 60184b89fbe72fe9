// Package storage provides the persistence adapters behind the engine's
// store interfaces: an in-memory implementation used by tests and
// single-process deployments, and a Redis-backed one for shared state.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-pipeline"
)

// MemoryEntityStore is a mutex-guarded EntityStore. Entities are cloned
// on the way in and out so callers never share memory with the store.
type MemoryEntityStore struct {
	mu       sync.RWMutex
	entities map[string]map[string]*pipeline.Entity
	clock    pipeline.Clock
}

// NewMemoryEntityStore constructs an empty store.
func NewMemoryEntityStore() *MemoryEntityStore {
	return &MemoryEntityStore{
		entities: make(map[string]map[string]*pipeline.Entity),
		clock:    pipeline.SystemClock(),
	}
}

// SetClock overrides update timestamps, useful in tests.
func (s *MemoryEntityStore) SetClock(c pipeline.Clock) {
	if c != nil {
		s.clock = c
	}
}

// Put seeds an entity bypassing version checks; intended for setup.
func (s *MemoryEntityStore) Put(tenant string, e *pipeline.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.entities[pipeline.NormalizeID(tenant)]
	if !ok {
		byID = make(map[string]*pipeline.Entity)
		s.entities[pipeline.NormalizeID(tenant)] = byID
	}
	byID[e.ID] = e.Clone()
}

// Load implements pipeline.EntityStore.
func (s *MemoryEntityStore) Load(ctx context.Context, tenant, id string) (*pipeline.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID, ok := s.entities[pipeline.NormalizeID(tenant)]
	if !ok {
		return nil, pipeline.ErrNotFound
	}
	e, ok := byID[id]
	if !ok {
		return nil, pipeline.ErrNotFound
	}
	return e.Clone(), nil
}

// Save implements pipeline.EntityStore with compare-and-set semantics.
func (s *MemoryEntityStore) Save(ctx context.Context, tenant string, e *pipeline.Entity, expectedVersion int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pipeline.NormalizeID(tenant)
	byID, ok := s.entities[key]
	if !ok {
		byID = make(map[string]*pipeline.Entity)
		s.entities[key] = byID
	}
	if current, ok := byID[e.ID]; ok && current.Version != expectedVersion {
		return 0, pipeline.CloneError(pipeline.ErrVersionConflict, "entity version conflict", nil, map[string]any{
			"entity_id": e.ID,
			"expected":  expectedVersion,
			"actual":    current.Version,
		})
	}
	cp := e.Clone()
	cp.Version = expectedVersion + 1
	cp.UpdatedAt = s.clock.Now()
	byID[e.ID] = cp
	return cp.Version, nil
}

// CountActiveOwned implements pipeline.EntityStore.
func (s *MemoryEntityStore) CountActiveOwned(ctx context.Context, tenant, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner := pipeline.NormalizeID(ownerID)
	count := 0
	for _, e := range s.entities[pipeline.NormalizeID(tenant)] {
		if e.IsActive() && pipeline.NormalizeID(e.OwnerID) == owner {
			count++
		}
	}
	return count, nil
}

// MemorySlaStore is a mutex-guarded SlaStore.
type MemorySlaStore struct {
	mu     sync.Mutex
	clocks map[string]map[string]*pipeline.SlaClock
}

// NewMemorySlaStore constructs an empty store.
func NewMemorySlaStore() *MemorySlaStore {
	return &MemorySlaStore{clocks: make(map[string]map[string]*pipeline.SlaClock)}
}

// Create implements pipeline.SlaStore.
func (s *MemorySlaStore) Create(ctx context.Context, tenant string, clock *pipeline.SlaClock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pipeline.NormalizeID(tenant)
	byID, ok := s.clocks[key]
	if !ok {
		byID = make(map[string]*pipeline.SlaClock)
		s.clocks[key] = byID
	}
	cp := *clock
	byID[clock.ID] = &cp
	return nil
}

// ActiveClock implements pipeline.SlaStore.
func (s *MemorySlaStore) ActiveClock(ctx context.Context, tenant, entityID string) (*pipeline.SlaClock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clocks[pipeline.NormalizeID(tenant)] {
		if c.EntityID == entityID && c.Status == pipeline.SlaStatusActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, pipeline.ErrNotFound
}

// Resolve implements pipeline.SlaStore.
func (s *MemorySlaStore) Resolve(ctx context.Context, tenant, clockID string) (bool, error) {
	return s.swapStatus(tenant, clockID, pipeline.SlaStatusResolved)
}

// MarkBreached implements pipeline.SlaStore.
func (s *MemorySlaStore) MarkBreached(ctx context.Context, tenant, clockID string) (bool, error) {
	return s.swapStatus(tenant, clockID, pipeline.SlaStatusBreached)
}

func (s *MemorySlaStore) swapStatus(tenant, clockID string, to pipeline.SlaStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clocks[pipeline.NormalizeID(tenant)][clockID]
	if !ok {
		return false, pipeline.ErrNotFound
	}
	if c.Status != pipeline.SlaStatusActive {
		return false, nil
	}
	c.Status = to
	return true, nil
}

// ListBreachable implements pipeline.SlaStore.
func (s *MemorySlaStore) ListBreachable(ctx context.Context, tenant string, now time.Time, limit int) ([]*pipeline.SlaClock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*pipeline.SlaClock
	for _, c := range s.clocks[pipeline.NormalizeID(tenant)] {
		if c.Status == pipeline.SlaStatusActive && !c.BreachAt.After(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BreachAt.Equal(out[j].BreachAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].BreachAt.Before(out[j].BreachAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryEscalationStore is a mutex-guarded EscalationStore. Level
// assignment happens under the store lock so chains stay gapless.
type MemoryEscalationStore struct {
	mu     sync.Mutex
	chains map[string]map[string][]*pipeline.Escalation
}

// NewMemoryEscalationStore constructs an empty store.
func NewMemoryEscalationStore() *MemoryEscalationStore {
	return &MemoryEscalationStore{chains: make(map[string]map[string][]*pipeline.Escalation)}
}

// Append implements pipeline.EscalationStore.
func (s *MemoryEscalationStore) Append(ctx context.Context, tenant string, esc *pipeline.Escalation) (*pipeline.Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pipeline.NormalizeID(tenant)
	byEntity, ok := s.chains[key]
	if !ok {
		byEntity = make(map[string][]*pipeline.Escalation)
		s.chains[key] = byEntity
	}
	chain := byEntity[esc.EntityID]
	cp := *esc
	cp.Level = len(chain) + 1
	byEntity[esc.EntityID] = append(chain, &cp)
	out := cp
	return &out, nil
}

// MaxLevel implements pipeline.EscalationStore.
func (s *MemoryEscalationStore) MaxLevel(ctx context.Context, tenant, entityID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chains[pipeline.NormalizeID(tenant)][entityID]), nil
}

// ListByEntity implements pipeline.EscalationStore.
func (s *MemoryEscalationStore) ListByEntity(ctx context.Context, tenant, entityID string) ([]*pipeline.Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[pipeline.NormalizeID(tenant)][entityID]
	out := make([]*pipeline.Escalation, 0, len(chain))
	for _, esc := range chain {
		cp := *esc
		out = append(out, &cp)
	}
	return out, nil
}

// MemoryDeliveryLog is a mutex-guarded append-only DeliveryLog.
type MemoryDeliveryLog struct {
	mu       sync.Mutex
	attempts []*pipeline.DeliveryAttempt
}

// NewMemoryDeliveryLog constructs an empty log.
func NewMemoryDeliveryLog() *MemoryDeliveryLog {
	return &MemoryDeliveryLog{}
}

// Append implements pipeline.DeliveryLog.
func (l *MemoryDeliveryLog) Append(ctx context.Context, attempt *pipeline.DeliveryAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *attempt
	l.attempts = append(l.attempts, &cp)
	return nil
}

// ListByEvent implements pipeline.DeliveryLog, returning attempts in
// append order.
func (l *MemoryDeliveryLog) ListByEvent(ctx context.Context, eventID, endpointID string) ([]*pipeline.DeliveryAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*pipeline.DeliveryAttempt
	for _, a := range l.attempts {
		if a.EventID == eventID && a.EndpointID == endpointID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// StaticOrgLookup resolves managers from a fixed owner→manager table.
type StaticOrgLookup struct {
	mu       sync.RWMutex
	managers map[string]map[string]string
}

// NewStaticOrgLookup constructs an empty lookup.
func NewStaticOrgLookup() *StaticOrgLookup {
	return &StaticOrgLookup{managers: make(map[string]map[string]string)}
}

// SetManager records that ownerID reports to managerID.
func (o *StaticOrgLookup) SetManager(tenant, ownerID, managerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := pipeline.NormalizeID(tenant)
	byOwner, ok := o.managers[key]
	if !ok {
		byOwner = make(map[string]string)
		o.managers[key] = byOwner
	}
	byOwner[pipeline.NormalizeID(ownerID)] = managerID
}

// ManagerOf implements pipeline.OrgLookup.
func (o *StaticOrgLookup) ManagerOf(ctx context.Context, tenant, ownerID string) (string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.managers[pipeline.NormalizeID(tenant)][pipeline.NormalizeID(ownerID)], nil
}
