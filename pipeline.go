package pipeline

import (
	"strings"
	"time"
)

// EntityStatus is the lifecycle status of a tracked entity.
type EntityStatus string

const (
	EntityStatusActive    EntityStatus = "active"
	EntityStatusClosed    EntityStatus = "closed"
	EntityStatusCancelled EntityStatus = "cancelled"
)

// Entity is a business object tracked through a pipeline's stages.
// CurrentStageID always references a stage belonging to PipelineID;
// mutations must go through the engine so SLA clocks and stage actions
// stay consistent with the stage the entity occupies.
type Entity struct {
	ID             string
	PipelineID     string
	DefinitionID   string
	CurrentStageID string
	OwnerID        string
	Data           map[string]any
	Status         EntityStatus
	StageEnteredAt time.Time
	Version        int
	UpdatedAt      time.Time
}

// Clone returns a deep-enough copy for staging transition side effects.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Data = cloneData(e.Data)
	return &cp
}

// IsActive reports whether the entity can still transition.
func (e *Entity) IsActive() bool {
	return e != nil && e.Status == EntityStatusActive
}

// SlaStatus is the lifecycle status of an SLA clock. Resolved and
// breached are terminal.
type SlaStatus string

const (
	SlaStatusActive   SlaStatus = "active"
	SlaStatusResolved SlaStatus = "resolved"
	SlaStatusBreached SlaStatus = "breached"
)

// SlaClock is a deadline tracker started when an entity enters a stage
// configured with an SLA. At most one active clock exists per entity.
type SlaClock struct {
	ID              string
	EntityID        string
	PipelineID      string
	StageID         string
	DurationMinutes int
	StartedAt       time.Time
	BreachAt        time.Time
	Status          SlaStatus
}

// NewSlaClock builds an active clock with BreachAt derived from the duration.
func NewSlaClock(id, entityID, pipelineID, stageID string, durationMinutes int, startedAt time.Time) *SlaClock {
	return &SlaClock{
		ID:              id,
		EntityID:        entityID,
		PipelineID:      pipelineID,
		StageID:         stageID,
		DurationMinutes: durationMinutes,
		StartedAt:       startedAt,
		BreachAt:        startedAt.Add(time.Duration(durationMinutes) * time.Minute),
		Status:          SlaStatusActive,
	}
}

// Escalation is one link in an entity's append-only escalation chain.
// Levels are strictly increasing per entity starting at 1. An empty
// ToOwnerID records a breach whose target could not be resolved.
type Escalation struct {
	ID          string
	EntityID    string
	Level       int
	FromOwnerID string
	ToOwnerID   string
	Reason      string
	EscalatedAt time.Time
}

// DeliveryOutcome classifies one webhook delivery attempt.
type DeliveryOutcome string

const (
	DeliveryOutcomePending   DeliveryOutcome = "pending"
	DeliveryOutcomeDelivered DeliveryOutcome = "delivered"
	DeliveryOutcomeFailed    DeliveryOutcome = "failed"
)

// DeliveryAttempt is one row in the append-only webhook delivery log.
type DeliveryAttempt struct {
	ID            string
	EventID       string
	EndpointID    string
	URL           string
	Payload       []byte
	AttemptNumber int
	Outcome       DeliveryOutcome
	Error         string
	AttemptedAt   time.Time
}

// Context carries caller identity, tenancy, and free-form values that
// conditions and action templates can reference during a transition.
type Context struct {
	ActorID string
	Tenant  string
	Values  map[string]any
}

// NormalizeID lowercases and trims identifiers used as map keys so that
// stage and pipeline references compare consistently.
func NormalizeID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func cloneData(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
