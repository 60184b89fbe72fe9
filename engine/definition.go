package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/action"
	"github.com/goliatone/go-pipeline/assign"
	"github.com/goliatone/go-pipeline/condition"
)

// TransitionRule allows movement to one target stage, gated by its
// conditions with AND semantics.
type TransitionRule struct {
	To         string           `yaml:"to" json:"to"`
	Conditions []condition.Spec `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// Stage is one named position in a pipeline's ordered sequence.
type Stage struct {
	ID           string           `yaml:"id" json:"id"`
	Name         string           `yaml:"name" json:"name"`
	Order        int              `yaml:"order" json:"order"`
	IsActive     bool             `yaml:"is_active" json:"is_active"`
	EntryActions []action.Spec    `yaml:"entry_actions,omitempty" json:"entry_actions,omitempty"`
	ExitActions  []action.Spec    `yaml:"exit_actions,omitempty" json:"exit_actions,omitempty"`
	Transitions  []TransitionRule `yaml:"transitions,omitempty" json:"transitions,omitempty"`

	// SlaMinutes > 0 starts an SLA clock on stage entry.
	SlaMinutes int `yaml:"sla_minutes,omitempty" json:"sla_minutes,omitempty"`
	// EscalationStrategy picks who is notified when that clock breaches.
	EscalationStrategy *assign.Strategy `yaml:"escalation_strategy,omitempty" json:"escalation_strategy,omitempty"`
}

// RuleFor returns the transition rule toward the target stage, if any.
func (s *Stage) RuleFor(targetID string) (*TransitionRule, bool) {
	targetID = pipeline.NormalizeID(targetID)
	for i := range s.Transitions {
		if pipeline.NormalizeID(s.Transitions[i].To) == targetID {
			return &s.Transitions[i], true
		}
	}
	return nil, false
}

// Definition is an ordered set of stages with their transition rules.
type Definition struct {
	ID     string  `yaml:"id" json:"id"`
	Name   string  `yaml:"name" json:"name"`
	Stages []Stage `yaml:"stages" json:"stages"`
}

// StageByID returns the stage with the given id.
func (d *Definition) StageByID(id string) (*Stage, bool) {
	id = pipeline.NormalizeID(id)
	for i := range d.Stages {
		if pipeline.NormalizeID(d.Stages[i].ID) == id {
			return &d.Stages[i], true
		}
	}
	return nil, false
}

// Validate enforces the definition invariants: at least one stage, unique
// stage ids, strictly increasing order, no self-transitions, every rule
// target resolvable, and well-formed actions, conditions, and strategies.
func (d *Definition) Validate() error {
	if d == nil || strings.TrimSpace(d.ID) == "" {
		return badDefinition("", "definition requires an id")
	}
	if len(d.Stages) == 0 {
		return badDefinition(d.ID, "definition requires at least one stage")
	}

	seen := make(map[string]bool, len(d.Stages))
	prevOrder := 0
	for i := range d.Stages {
		st := &d.Stages[i]
		id := pipeline.NormalizeID(st.ID)
		if id == "" {
			return badDefinition(d.ID, fmt.Sprintf("stage %d requires an id", i))
		}
		if seen[id] {
			return badDefinition(d.ID, fmt.Sprintf("duplicate stage id %q", st.ID))
		}
		seen[id] = true

		if i > 0 && st.Order <= prevOrder {
			return badDefinition(d.ID, fmt.Sprintf("stage %q order %d is not strictly increasing", st.ID, st.Order))
		}
		prevOrder = st.Order

		if st.SlaMinutes < 0 {
			return badDefinition(d.ID, fmt.Sprintf("stage %q has a negative SLA duration", st.ID))
		}
		if st.EscalationStrategy != nil {
			if err := st.EscalationStrategy.Validate(); err != nil {
				return err
			}
		}
		for j := range st.EntryActions {
			if err := st.EntryActions[j].Validate(); err != nil {
				return err
			}
		}
		for j := range st.ExitActions {
			if err := st.ExitActions[j].Validate(); err != nil {
				return err
			}
		}
		for j := range st.Transitions {
			rule := &st.Transitions[j]
			if pipeline.NormalizeID(rule.To) == id {
				return badDefinition(d.ID, fmt.Sprintf("stage %q cannot transition to itself", st.ID))
			}
			for k := range rule.Conditions {
				if err := rule.Conditions[k].Validate(); err != nil {
					return err
				}
			}
		}
	}

	// rule targets must exist; a second pass so forward references work
	for i := range d.Stages {
		for j := range d.Stages[i].Transitions {
			to := pipeline.NormalizeID(d.Stages[i].Transitions[j].To)
			if !seen[to] {
				return badDefinition(d.ID, fmt.Sprintf("stage %q transitions to unknown stage %q", d.Stages[i].ID, d.Stages[i].Transitions[j].To))
			}
		}
	}
	return nil
}

func badDefinition(defID, msg string) error {
	meta := map[string]any{}
	if defID != "" {
		meta["definition_id"] = defID
	}
	return pipeline.CloneError(pipeline.ErrBadDefinition, msg, nil, meta)
}

// DefinitionSet is a concurrency-safe registry of validated definitions,
// with pipeline instances bound to the definition that governs them.
type DefinitionSet struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
	byPipeline  map[string]string
}

// NewDefinitionSet creates an empty set.
func NewDefinitionSet() *DefinitionSet {
	return &DefinitionSet{
		definitions: make(map[string]*Definition),
		byPipeline:  make(map[string]string),
	}
}

// Add validates and registers a definition.
func (s *DefinitionSet) Add(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := pipeline.NormalizeID(def.ID)
	if _, exists := s.definitions[id]; exists {
		return badDefinition(def.ID, fmt.Sprintf("definition %q already registered", def.ID))
	}
	s.definitions[id] = def
	return nil
}

// Bind associates a pipeline instance with a registered definition.
func (s *DefinitionSet) Bind(pipelineID, definitionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defID := pipeline.NormalizeID(definitionID)
	if _, ok := s.definitions[defID]; !ok {
		return badDefinition(definitionID, fmt.Sprintf("cannot bind pipeline to unknown definition %q", definitionID))
	}
	s.byPipeline[pipeline.NormalizeID(pipelineID)] = defID
	return nil
}

// Get returns a definition by id.
func (s *DefinitionSet) Get(id string) (*Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[pipeline.NormalizeID(id)]
	return def, ok
}

// DefinitionFor resolves the definition governing an entity, preferring
// its explicit DefinitionID, then its pipeline binding, then a definition
// sharing the pipeline id.
func (s *DefinitionSet) DefinitionFor(e *pipeline.Entity) (*Definition, bool) {
	if e == nil {
		return nil, false
	}
	if def, ok := s.Get(e.DefinitionID); ok {
		return def, true
	}
	s.mu.RLock()
	defID, bound := s.byPipeline[pipeline.NormalizeID(e.PipelineID)]
	s.mu.RUnlock()
	if bound {
		return s.Get(defID)
	}
	return s.Get(e.PipelineID)
}

// StageFor resolves a stage from a pipeline instance and stage id. Used
// by the SLA monitor to find escalation strategies for breached clocks.
func (s *DefinitionSet) StageFor(pipelineID, stageID string) (*Stage, bool) {
	def, ok := s.DefinitionFor(&pipeline.Entity{PipelineID: pipelineID})
	if !ok {
		return nil, false
	}
	return def.StageByID(stageID)
}

// EscalationStrategy implements the SLA monitor's strategy source: the
// configured strategy for the stage, defaulting to manager_of.
func (s *DefinitionSet) EscalationStrategy(pipelineID, stageID string) (assign.Strategy, bool) {
	st, ok := s.StageFor(pipelineID, stageID)
	if !ok {
		return assign.Strategy{}, false
	}
	if st.EscalationStrategy != nil {
		return *st.EscalationStrategy, true
	}
	return assign.Strategy{Name: assign.StrategyManagerOf}, true
}
