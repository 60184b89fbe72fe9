package pipeline

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// EntityStore persists entities with optimistic locking. Implementations
// are expected to scope every call to the supplied tenant; the engine
// itself stays tenant-agnostic and trusts that scoping.
type EntityStore interface {
	Load(ctx context.Context, tenant, id string) (*Entity, error)
	// Save performs compare-and-set persistence keyed on expectedVersion
	// and returns the new version. A mismatch returns ErrVersionConflict.
	Save(ctx context.Context, tenant string, e *Entity, expectedVersion int) (int, error)
	// CountActiveOwned returns how many active entities the owner holds,
	// used by the least_loaded assignment strategy.
	CountActiveOwned(ctx context.Context, tenant, ownerID string) (int, error)
}

// SlaStore persists SLA clocks. Status moves are compare-and-swap on the
// active status so that a concurrent resolve (engine) and breach (monitor)
// race resolves to whichever lands first, with the loser a no-op.
type SlaStore interface {
	Create(ctx context.Context, tenant string, clock *SlaClock) error
	// ActiveClock returns the entity's single active clock, or ErrNotFound.
	ActiveClock(ctx context.Context, tenant, entityID string) (*SlaClock, error)
	// Resolve moves active→resolved. Returns false when the clock was no
	// longer active.
	Resolve(ctx context.Context, tenant, clockID string) (bool, error)
	// MarkBreached moves active→breached. Returns false when the clock was
	// no longer active.
	MarkBreached(ctx context.Context, tenant, clockID string) (bool, error)
	// ListBreachable returns active clocks with BreachAt <= now in
	// increasing BreachAt order, oldest breaches first.
	ListBreachable(ctx context.Context, tenant string, now time.Time, limit int) ([]*SlaClock, error)
}

// EscalationStore appends to per-entity escalation chains. Append assigns
// Level = previous max + 1 atomically so concurrent breach detection never
// produces duplicate or gapped levels.
type EscalationStore interface {
	Append(ctx context.Context, tenant string, esc *Escalation) (*Escalation, error)
	MaxLevel(ctx context.Context, tenant, entityID string) (int, error)
	ListByEntity(ctx context.Context, tenant, entityID string) ([]*Escalation, error)
}

// DeliveryLog is the append-only record of webhook delivery attempts.
type DeliveryLog interface {
	Append(ctx context.Context, attempt *DeliveryAttempt) error
	ListByEvent(ctx context.Context, eventID, endpointID string) ([]*DeliveryAttempt, error)
}

// OrgLookup resolves organizational relationships for the manager_of
// assignment strategy. An empty owner id with a nil error means no manager.
type OrgLookup interface {
	ManagerOf(ctx context.Context, tenant, ownerID string) (string, error)
}

// OrgLookupFunc adapts a function to the OrgLookup interface.
type OrgLookupFunc func(ctx context.Context, tenant, ownerID string) (string, error)

func (f OrgLookupFunc) ManagerOf(ctx context.Context, tenant, ownerID string) (string, error) {
	return f(ctx, tenant, ownerID)
}
