package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/action"
	"github.com/goliatone/go-pipeline/assign"
	"github.com/goliatone/go-pipeline/condition"
)

// DefinitionConfig is the YAML shape of a pipeline definition file.
type DefinitionConfig struct {
	Definitions []DefinitionSpec  `yaml:"definitions" json:"definitions"`
	Bindings    map[string]string `yaml:"bindings,omitempty" json:"bindings,omitempty"`
}

// DefinitionSpec mirrors Definition for config parsing.
type DefinitionSpec struct {
	ID     string      `yaml:"id" json:"id"`
	Name   string      `yaml:"name,omitempty" json:"name,omitempty"`
	Stages []StageSpec `yaml:"stages" json:"stages"`
}

// StageSpec mirrors Stage for config parsing.
type StageSpec struct {
	ID                 string               `yaml:"id" json:"id"`
	Name               string               `yaml:"name,omitempty" json:"name,omitempty"`
	Order              int                  `yaml:"order" json:"order"`
	Inactive           bool                 `yaml:"inactive,omitempty" json:"inactive,omitempty"`
	SlaMinutes         int                  `yaml:"sla_minutes,omitempty" json:"sla_minutes,omitempty"`
	EntryActions       []action.Spec        `yaml:"entry_actions,omitempty" json:"entry_actions,omitempty"`
	ExitActions        []action.Spec        `yaml:"exit_actions,omitempty" json:"exit_actions,omitempty"`
	Transitions        []TransitionSpec     `yaml:"transitions,omitempty" json:"transitions,omitempty"`
	EscalationStrategy *assign.Strategy     `yaml:"escalation,omitempty" json:"escalation,omitempty"`
}

// TransitionSpec mirrors TransitionRule for config parsing.
type TransitionSpec struct {
	To         string           `yaml:"to" json:"to"`
	Conditions []condition.Spec `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// ParseDefinitions parses YAML (or JSON, which yaml handles) into validated
// definitions. Config errors surface at parse time, never during a transition.
func ParseDefinitions(data []byte) ([]*Definition, map[string]string, error) {
	var cfg DefinitionConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, pipeline.CloneError(pipeline.ErrBadDefinition, "definition config is not valid YAML", err, nil)
	}
	if len(cfg.Definitions) == 0 {
		return nil, nil, pipeline.CloneError(pipeline.ErrBadDefinition, "definition config has no definitions", nil, nil)
	}
	defs := make([]*Definition, 0, len(cfg.Definitions))
	for _, spec := range cfg.Definitions {
		def, err := spec.build()
		if err != nil {
			return nil, nil, err
		}
		defs = append(defs, def)
	}
	return defs, cfg.Bindings, nil
}

// LoadDefinitionSet reads a config file and returns a populated set.
func LoadDefinitionSet(path string) (*DefinitionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pipeline.CloneError(pipeline.ErrBadDefinition, fmt.Sprintf("read definition config %s", path), err, nil)
	}
	defs, bindings, err := ParseDefinitions(data)
	if err != nil {
		return nil, err
	}
	set := NewDefinitionSet()
	for _, def := range defs {
		if err := set.Add(def); err != nil {
			return nil, err
		}
	}
	for pipelineID, defID := range bindings {
		if err := set.Bind(pipelineID, defID); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func (s DefinitionSpec) build() (*Definition, error) {
	def := &Definition{
		ID:     s.ID,
		Name:   s.Name,
		Stages: make([]Stage, 0, len(s.Stages)),
	}
	for _, stage := range s.Stages {
		rules := make([]TransitionRule, 0, len(stage.Transitions))
		for _, t := range stage.Transitions {
			rules = append(rules, TransitionRule{To: t.To, Conditions: t.Conditions})
		}
		def.Stages = append(def.Stages, Stage{
			ID:                 stage.ID,
			Name:               stage.Name,
			Order:              stage.Order,
			IsActive:           !stage.Inactive,
			SlaMinutes:         stage.SlaMinutes,
			EntryActions:       stage.EntryActions,
			ExitActions:        stage.ExitActions,
			Transitions:        rules,
			EscalationStrategy: stage.EscalationStrategy,
		})
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}
