package condition

import (
	"fmt"
	"strings"

	apperrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-pipeline"
)

// Kind discriminates the closed set of condition node types.
type Kind string

const (
	KindField Kind = "field"
	KindAll   Kind = "all"
	KindAny   Kind = "any"
	KindExpr  Kind = "expr"
)

// Op is a field comparison operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNeq      Op = "neq"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpIn       Op = "in"
	OpContains Op = "contains"
)

// Spec is one node of a condition tree. Exactly one shape applies per
// kind: field nodes compare a path against a value, all/any nodes group
// children with short-circuit semantics, expr nodes evaluate a compiled
// expression.
type Spec struct {
	ID string `yaml:"id" json:"id"`

	Kind Kind `yaml:"kind" json:"kind"`

	// field
	Path            string `yaml:"path,omitempty" json:"path,omitempty"`
	Op              Op     `yaml:"op,omitempty" json:"op,omitempty"`
	Value           any    `yaml:"value,omitempty" json:"value,omitempty"`
	CaseInsensitive bool   `yaml:"case_insensitive,omitempty" json:"case_insensitive,omitempty"`

	// all / any
	Children []Spec `yaml:"children,omitempty" json:"children,omitempty"`

	// expr
	Expr string `yaml:"expr,omitempty" json:"expr,omitempty"`
}

// Validate rejects unknown kinds and operators so malformed rules fail at
// load time, not during transition evaluation.
func (s *Spec) Validate() error {
	if s == nil {
		return pipeline.CloneError(pipeline.ErrBadDefinition, "nil condition spec", nil, nil)
	}
	switch s.Kind {
	case KindField:
		if strings.TrimSpace(s.Path) == "" {
			return badCondition(s, "field condition requires a path")
		}
		switch s.Op {
		case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains:
		default:
			return badCondition(s, fmt.Sprintf("unknown operator %q", s.Op))
		}
	case KindAll, KindAny:
		if len(s.Children) == 0 {
			return badCondition(s, fmt.Sprintf("%s condition requires children", s.Kind))
		}
		for i := range s.Children {
			if err := s.Children[i].Validate(); err != nil {
				return err
			}
		}
	case KindExpr:
		if strings.TrimSpace(s.Expr) == "" {
			return badCondition(s, "expr condition requires an expression")
		}
	default:
		return badCondition(s, fmt.Sprintf("unknown condition kind %q", s.Kind))
	}
	return nil
}

func badCondition(s *Spec, msg string) *apperrors.Error {
	meta := map[string]any{}
	if s != nil && strings.TrimSpace(s.ID) != "" {
		meta["condition_id"] = s.ID
	}
	return pipeline.CloneError(pipeline.ErrBadDefinition, msg, nil, meta)
}

// Field is a convenience constructor for field conditions.
func Field(id, path string, op Op, value any) Spec {
	return Spec{ID: id, Kind: KindField, Path: path, Op: op, Value: value}
}

// All groups children with AND semantics.
func All(id string, children ...Spec) Spec {
	return Spec{ID: id, Kind: KindAll, Children: children}
}

// Any groups children with OR semantics.
func Any(id string, children ...Spec) Spec {
	return Spec{ID: id, Kind: KindAny, Children: children}
}

// Expr builds an expression condition.
func Expr(id, expression string) Spec {
	return Spec{ID: id, Kind: KindExpr, Expr: expression}
}
