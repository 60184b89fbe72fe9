package action

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/goliatone/go-pipeline/condition"
)

var templateRef = regexp.MustCompile(`\{\{\s*([^}\s]+)\s*\}\}`)

// RenderValue resolves template references in string values. A value that
// is exactly one reference keeps the referenced value's type; any other
// value passes through untouched.
func RenderValue(value any, env condition.Env) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	trimmed := strings.TrimSpace(s)
	if m := templateRef.FindStringSubmatch(trimmed); m != nil && m[0] == trimmed {
		if resolved, found := condition.Lookup(m[1], env); found {
			return resolved
		}
		return nil
	}
	return RenderTemplate(s, env)
}

// RenderTemplate interpolates every {{path}} reference in s. Unknown
// paths render empty, matching the evaluator's total-function contract.
func RenderTemplate(s string, env condition.Env) string {
	return templateRef.ReplaceAllStringFunc(s, func(match string) string {
		path := templateRef.FindStringSubmatch(match)[1]
		v, found := condition.Lookup(path, env)
		if !found || v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	})
}
