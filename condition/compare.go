package condition

import (
	"fmt"
	"strconv"
	"strings"
)

func evaluateField(spec *Spec, env Env) bool {
	actual, found := Lookup(spec.Path, env)
	if !found {
		// unknown paths evaluate false to keep rule evaluation total
		return false
	}

	switch spec.Op {
	case OpEq:
		return equal(actual, spec.Value, spec.CaseInsensitive)
	case OpNeq:
		return !equal(actual, spec.Value, spec.CaseInsensitive)
	case OpGt, OpGte, OpLt, OpLte:
		return compareOrdered(spec.Op, actual, spec.Value, spec.CaseInsensitive)
	case OpIn:
		return containedIn(actual, spec.Value, spec.CaseInsensitive)
	case OpContains:
		return contains(actual, spec.Value, spec.CaseInsensitive)
	default:
		return false
	}
}

func equal(a, b any, foldCase bool) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return stringify(a, foldCase) == stringify(b, foldCase)
}

func compareOrdered(op Op, a, b any, foldCase bool) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch op {
		case OpGt:
			return af > bf
		case OpGte:
			return af >= bf
		case OpLt:
			return af < bf
		case OpLte:
			return af <= bf
		}
		return false
	}

	as := stringify(a, foldCase)
	bs := stringify(b, foldCase)
	switch op {
	case OpGt:
		return as > bs
	case OpGte:
		return as >= bs
	case OpLt:
		return as < bs
	case OpLte:
		return as <= bs
	}
	return false
}

func containedIn(actual, set any, foldCase bool) bool {
	for _, member := range toSlice(set) {
		if equal(actual, member, foldCase) {
			return true
		}
	}
	return false
}

func contains(actual, needle any, foldCase bool) bool {
	if members := toSlice(actual); members != nil {
		for _, member := range members {
			if equal(member, needle, foldCase) {
				return true
			}
		}
		return false
	}
	return strings.Contains(stringify(actual, foldCase), stringify(needle, foldCase))
}

func toSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	case []int:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	default:
		return nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func stringify(v any, foldCase bool) string {
	s := fmt.Sprintf("%v", v)
	if foldCase {
		s = strings.ToLower(s)
	}
	return s
}
