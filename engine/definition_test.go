package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/assign"
)

func TestDefinitionValidate(t *testing.T) {
	cases := []struct {
		name string
		def  *Definition
		ok   bool
	}{
		{
			"valid two stage",
			&Definition{ID: "d1", Stages: []Stage{
				{ID: "a", Order: 1, IsActive: true, Transitions: []TransitionRule{{To: "b"}}},
				{ID: "b", Order: 2, IsActive: true},
			}},
			true,
		},
		{"no id", &Definition{Stages: []Stage{{ID: "a", Order: 1}}}, false},
		{"no stages", &Definition{ID: "d1"}, false},
		{
			"duplicate stage ids",
			&Definition{ID: "d1", Stages: []Stage{
				{ID: "a", Order: 1}, {ID: "A", Order: 2},
			}},
			false,
		},
		{
			"order not increasing",
			&Definition{ID: "d1", Stages: []Stage{
				{ID: "a", Order: 2}, {ID: "b", Order: 2},
			}},
			false,
		},
		{
			"self transition",
			&Definition{ID: "d1", Stages: []Stage{
				{ID: "a", Order: 1, Transitions: []TransitionRule{{To: "a"}}},
			}},
			false,
		},
		{
			"unknown transition target",
			&Definition{ID: "d1", Stages: []Stage{
				{ID: "a", Order: 1, Transitions: []TransitionRule{{To: "ghost"}}},
			}},
			false,
		},
		{
			"negative sla",
			&Definition{ID: "d1", Stages: []Stage{
				{ID: "a", Order: 1, SlaMinutes: -5},
			}},
			false,
		},
		{
			"bad escalation strategy",
			&Definition{ID: "d1", Stages: []Stage{
				{ID: "a", Order: 1, EscalationStrategy: &assign.Strategy{Name: "mystery"}},
			}},
			false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.def.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.True(t, pipeline.IsConfigError(err), "expected a config error, got %v", err)
			}
		})
	}
}

func TestDefinitionSetResolution(t *testing.T) {
	set := NewDefinitionSet()
	def := &Definition{ID: "sales-v2", Stages: []Stage{{ID: "a", Order: 1, IsActive: true}}}
	require.NoError(t, set.Add(def))
	require.NoError(t, set.Bind("sales", "sales-v2"))

	// explicit DefinitionID wins
	got, ok := set.DefinitionFor(&pipeline.Entity{PipelineID: "other", DefinitionID: "sales-v2"})
	require.True(t, ok)
	assert.Equal(t, "sales-v2", got.ID)

	// pipeline binding next
	got, ok = set.DefinitionFor(&pipeline.Entity{PipelineID: "sales"})
	require.True(t, ok)
	assert.Equal(t, "sales-v2", got.ID)

	// pipeline id doubling as definition id last
	got, ok = set.DefinitionFor(&pipeline.Entity{PipelineID: "sales-v2"})
	require.True(t, ok)
	assert.Equal(t, "sales-v2", got.ID)

	_, ok = set.DefinitionFor(&pipeline.Entity{PipelineID: "unknown"})
	assert.False(t, ok)

	assert.Error(t, set.Bind("x", "missing"), "binding to an unknown definition must fail")
	assert.Error(t, set.Add(def), "duplicate definition ids must fail")
}

func TestParseDefinitions(t *testing.T) {
	yamlDoc := []byte(`
definitions:
  - id: sales
    name: Sales pipeline
    stages:
      - id: new
        order: 1
        transitions:
          - to: qualified
            conditions:
              - id: min-amount
                kind: field
                path: data.amount
                op: gte
                value: 1000
      - id: qualified
        order: 2
        sla_minutes: 60
        escalation:
          name: manager_of
        entry_actions:
          - id: set-priority
            kind: update_field
            field: priority
            value: high
bindings:
  sales-na: sales
`)
	defs, bindings, err := ParseDefinitions(yamlDoc)
	require.NoError(t, err)
	require.Len(t, defs, 1)

	def := defs[0]
	assert.Equal(t, "sales", def.ID)
	require.Len(t, def.Stages, 2)

	newStage := def.Stages[0]
	assert.True(t, newStage.IsActive, "stages default to active")
	require.Len(t, newStage.Transitions, 1)
	assert.Equal(t, "qualified", newStage.Transitions[0].To)
	require.Len(t, newStage.Transitions[0].Conditions, 1)
	assert.Equal(t, "min-amount", newStage.Transitions[0].Conditions[0].ID)

	qualified := def.Stages[1]
	assert.Equal(t, 60, qualified.SlaMinutes)
	require.NotNil(t, qualified.EscalationStrategy)
	assert.Equal(t, assign.StrategyManagerOf, qualified.EscalationStrategy.Name)
	require.Len(t, qualified.EntryActions, 1)

	assert.Equal(t, map[string]string{"sales-na": "sales"}, bindings)
}

func TestParseDefinitionsRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"not yaml", `{{{`},
		{"empty", `definitions: []`},
		{
			"unknown condition op",
			`
definitions:
  - id: d1
    stages:
      - id: a
        order: 1
        transitions:
          - to: b
            conditions:
              - id: c1
                kind: field
                path: data.x
                op: like
                value: 1
      - id: b
        order: 2
`,
		},
		{
			"unknown action kind",
			`
definitions:
  - id: d1
    stages:
      - id: a
        order: 1
        entry_actions:
          - id: a1
            kind: explode
`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ParseDefinitions([]byte(tc.doc))
			require.Error(t, err)
			assert.Equal(t, pipeline.ErrCodeBadDefinition, pipeline.ErrorCode(err))
		})
	}
}
