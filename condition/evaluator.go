package condition

import (
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/goliatone/go-pipeline"
)

// Env is the read-only snapshot a condition evaluates against.
type Env struct {
	Entity  *pipeline.Entity
	Context pipeline.Context
}

// Evaluator evaluates condition trees. Evaluation is total: unknown field
// paths, type mismatches, and expression runtime failures evaluate false
// instead of erroring, keeping rule evaluation side-effect free.
type Evaluator struct {
	mu     sync.RWMutex
	cache  map[string]*vm.Program
	logger pipeline.Logger
}

// Option customizes evaluator construction.
type Option func(*Evaluator)

// WithLogger sets the evaluator logger.
func WithLogger(logger pipeline.Logger) Option {
	return func(e *Evaluator) {
		e.logger = pipeline.NormalizeLogger(logger)
	}
}

// NewEvaluator constructs an evaluator with an empty program cache.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		cache:  make(map[string]*vm.Program),
		logger: pipeline.NormalizeLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Evaluate walks the condition tree with short-circuiting left-to-right
// semantics and returns the boolean outcome.
func (e *Evaluator) Evaluate(spec *Spec, env Env) bool {
	if spec == nil {
		return true
	}
	switch spec.Kind {
	case KindField:
		return evaluateField(spec, env)
	case KindAll:
		for i := range spec.Children {
			if !e.Evaluate(&spec.Children[i], env) {
				return false
			}
		}
		return true
	case KindAny:
		for i := range spec.Children {
			if e.Evaluate(&spec.Children[i], env) {
				return true
			}
		}
		return false
	case KindExpr:
		return e.evaluateExpr(spec, env)
	default:
		return false
	}
}

// EvaluateAll applies AND semantics across specs, returning the id of the
// first failing condition.
func (e *Evaluator) EvaluateAll(specs []Spec, env Env) (failedID string, ok bool) {
	for i := range specs {
		if !e.Evaluate(&specs[i], env) {
			return specs[i].ID, false
		}
	}
	return "", true
}

func (e *Evaluator) evaluateExpr(spec *Spec, env Env) bool {
	program, err := e.compile(spec.Expr, env)
	if err != nil {
		e.logger.Warn("condition expr compile failed: %v", err)
		return false
	}
	result, err := expr.Run(program, exprEnv(env))
	if err != nil {
		e.logger.Debug("condition expr run failed: %v", err)
		return false
	}
	pass, ok := result.(bool)
	if !ok {
		e.logger.Warn("condition expr %q did not evaluate to a boolean, got %T", spec.Expr, result)
		return false
	}
	return pass
}

func (e *Evaluator) compile(expression string, env Env) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok = e.cache[expression]; ok {
		return program, nil
	}
	program, err := expr.Compile(expression, expr.Env(exprEnv(env)), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	e.cache[expression] = program
	return program, nil
}

func exprEnv(env Env) map[string]any {
	out := map[string]any{
		"data": map[string]any{},
		"ctx":  map[string]any{},
	}
	if env.Entity != nil {
		if env.Entity.Data != nil {
			out["data"] = env.Entity.Data
		}
		out["entity"] = map[string]any{
			"id":       env.Entity.ID,
			"owner_id": env.Entity.OwnerID,
			"stage_id": env.Entity.CurrentStageID,
			"status":   string(env.Entity.Status),
		}
	}
	if env.Context.Values != nil {
		out["ctx"] = env.Context.Values
	}
	out["actor_id"] = env.Context.ActorID
	return out
}

// Lookup resolves a field path against the snapshot. Recognized prefixes:
// "context." reads transition context values, "entity." reads the small
// set of addressable entity fields, "data." (or no prefix) reads the
// entity data map. Action templates share these conventions.
func Lookup(path string, env Env) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	if rest, ok := strings.CutPrefix(path, "context."); ok {
		v, found := env.Context.Values[rest]
		return v, found
	}
	if rest, ok := strings.CutPrefix(path, "entity."); ok {
		if env.Entity == nil {
			return nil, false
		}
		switch rest {
		case "id":
			return env.Entity.ID, true
		case "owner_id":
			return env.Entity.OwnerID, true
		case "stage_id":
			return env.Entity.CurrentStageID, true
		case "status":
			return string(env.Entity.Status), true
		default:
			if key, ok := strings.CutPrefix(rest, "data."); ok {
				v, found := env.Entity.Data[key]
				return v, found
			}
			return nil, false
		}
	}
	if env.Entity == nil {
		return nil, false
	}
	key := strings.TrimPrefix(path, "data.")
	v, found := env.Entity.Data[key]
	return v, found
}
