package condition

import (
	"testing"

	"github.com/goliatone/go-pipeline"
)

func testEnv(data map[string]any) Env {
	return Env{
		Entity: &pipeline.Entity{
			ID:             "ent-1",
			PipelineID:     "sales",
			CurrentStageID: "qualified",
			OwnerID:        "u-7",
			Status:         pipeline.EntityStatusActive,
			Data:           data,
		},
		Context: pipeline.Context{
			ActorID: "actor-1",
			Tenant:  "acme",
			Values:  map[string]any{"channel": "web"},
		},
	}
}

func TestEvaluateFieldOps(t *testing.T) {
	env := testEnv(map[string]any{
		"amount": 1500,
		"region": "EMEA",
		"tags":   []any{"hot", "enterprise"},
	})
	ev := NewEvaluator()

	cases := []struct {
		name string
		spec Spec
		want bool
	}{
		{"eq match", Field("c1", "data.amount", OpEq, 1500), true},
		{"eq mismatch", Field("c2", "data.amount", OpEq, 99), false},
		{"neq", Field("c3", "data.region", OpNeq, "APAC"), true},
		{"gt", Field("c4", "data.amount", OpGt, 1000), true},
		{"gte boundary", Field("c5", "data.amount", OpGte, 1500), true},
		{"lt false", Field("c6", "data.amount", OpLt, 1500), false},
		{"lte boundary", Field("c7", "data.amount", OpLte, 1500), true},
		{"in", Field("c8", "data.region", OpIn, []any{"EMEA", "AMER"}), true},
		{"in miss", Field("c9", "data.region", OpIn, []any{"APAC"}), false},
		{"contains slice", Field("c10", "data.tags", OpContains, "hot"), true},
		{"contains substring", Field("c11", "data.region", OpContains, "EM"), true},
		{"numeric coercion across types", Field("c12", "data.amount", OpEq, 1500.0), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ev.Evaluate(&tc.spec, env); got != tc.want {
				t.Fatalf("Evaluate(%s) = %v, want %v", tc.spec.ID, got, tc.want)
			}
		})
	}
}

func TestEvaluateUnknownPathIsFalseNotError(t *testing.T) {
	ev := NewEvaluator()
	env := testEnv(nil)

	spec := Field("missing", "data.nonexistent", OpEq, "x")
	if ev.Evaluate(&spec, env) {
		t.Fatal("unknown path should evaluate to false")
	}

	neq := Field("missing-neq", "data.nonexistent", OpNeq, "x")
	if ev.Evaluate(&neq, env) {
		t.Fatal("unknown path should be false even for neq")
	}
}

func TestEvaluateCaseInsensitive(t *testing.T) {
	ev := NewEvaluator()
	env := testEnv(map[string]any{"region": "emea"})

	spec := Field("ci", "data.region", OpEq, "EMEA")
	spec.CaseInsensitive = true
	if !ev.Evaluate(&spec, env) {
		t.Fatal("case-insensitive eq should match")
	}
	spec.CaseInsensitive = false
	if ev.Evaluate(&spec, env) {
		t.Fatal("case-sensitive eq should not match")
	}
}

func TestEvaluateEntityAndContextPaths(t *testing.T) {
	ev := NewEvaluator()
	env := testEnv(nil)

	cases := []Spec{
		Field("p1", "entity.owner_id", OpEq, "u-7"),
		Field("p2", "entity.stage_id", OpEq, "qualified"),
		Field("p3", "entity.status", OpEq, "active"),
		Field("p4", "context.channel", OpEq, "web"),
	}
	for _, spec := range cases {
		spec := spec
		if !ev.Evaluate(&spec, env) {
			t.Fatalf("path condition %s should pass", spec.ID)
		}
	}
}

func TestEvaluateTrees(t *testing.T) {
	ev := NewEvaluator()
	env := testEnv(map[string]any{"amount": 500, "region": "EMEA"})

	all := All("root",
		Field("a", "data.amount", OpGt, 100),
		Field("b", "data.region", OpEq, "EMEA"),
	)
	if !ev.Evaluate(&all, env) {
		t.Fatal("all children pass, tree should pass")
	}

	allFail := All("root2",
		Field("a", "data.amount", OpGt, 100),
		Field("b", "data.region", OpEq, "APAC"),
	)
	if ev.Evaluate(&allFail, env) {
		t.Fatal("one failing child should fail an all tree")
	}

	anyPass := Any("root3",
		Field("a", "data.amount", OpGt, 9999),
		Field("b", "data.region", OpEq, "EMEA"),
	)
	if !ev.Evaluate(&anyPass, env) {
		t.Fatal("one passing child should pass an any tree")
	}

	nested := All("root4",
		Field("a", "data.amount", OpGte, 500),
		Any("or",
			Field("b", "data.region", OpEq, "APAC"),
			Field("c", "data.region", OpEq, "EMEA"),
		),
	)
	if !ev.Evaluate(&nested, env) {
		t.Fatal("nested tree should pass")
	}
}

func TestEvaluateAllReportsFirstFailure(t *testing.T) {
	ev := NewEvaluator()
	env := testEnv(map[string]any{"amount": 10})

	specs := []Spec{
		Field("first", "data.amount", OpGt, 5),
		Field("second", "data.amount", OpGt, 100),
		Field("third", "data.amount", OpGt, 1000),
	}
	failedID, ok := ev.EvaluateAll(specs, env)
	if ok {
		t.Fatal("expected failure")
	}
	if failedID != "second" {
		t.Fatalf("failed id = %q, want %q", failedID, "second")
	}

	if id, ok := ev.EvaluateAll(specs[:1], env); !ok || id != "" {
		t.Fatalf("passing set returned (%q, %v)", id, ok)
	}
}

func TestEvaluateExpr(t *testing.T) {
	ev := NewEvaluator()
	env := testEnv(map[string]any{"amount": 1500})

	spec := Expr("e1", `data.amount > 1000 && entity.status == "active"`)
	if !ev.Evaluate(&spec, env) {
		t.Fatal("expr should pass")
	}

	// compiled programs are cached; a second evaluation takes the cached path
	if !ev.Evaluate(&spec, env) {
		t.Fatal("cached expr should pass")
	}

	bad := Expr("e2", `data.amount +`)
	if ev.Evaluate(&bad, env) {
		t.Fatal("unparsable expr should evaluate to false")
	}

	nonBool := Expr("e3", `data.amount`)
	if ev.Evaluate(&nonBool, env) {
		t.Fatal("non-boolean expr should evaluate to false")
	}
}

func TestSpecValidate(t *testing.T) {
	valid := Field("ok", "data.x", OpEq, 1)
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}

	unknownOp := Spec{ID: "bad", Kind: KindField, Path: "data.x", Op: Op("like")}
	if err := unknownOp.Validate(); err == nil {
		t.Fatal("unknown op should be rejected")
	}

	unknownKind := Spec{ID: "bad2", Kind: Kind("fuzzy")}
	if err := unknownKind.Validate(); err == nil {
		t.Fatal("unknown kind should be rejected")
	}

	emptyTree := Spec{ID: "bad3", Kind: KindAll}
	if err := emptyTree.Validate(); err == nil {
		t.Fatal("empty composite should be rejected")
	}
}
