package engine

import (
	"fmt"
	"regexp"
)

// paramPattern matches :name placeholders. The :: alternative swallows
// PostgreSQL cast syntax so that expressions like cp::VARCHAR are never
// mistaken for parameters.
var paramPattern = regexp.MustCompile(`::|:([a-zA-Z_][a-zA-Z0-9_]*)`)

// renderParams replaces each :name placeholder in the macro-expanded SQL.
// Parameters declared AsLiteral are stringified and spliced into the text;
// all others become $N positional markers with their values appended to the
// returned bind list. A name reused in the template binds once and reuses the
// same marker. Referencing an undeclared :name is a hard error: it signals a
// mismatch between the template and its declared parameters.
func renderParams(sql string, values map[string]any, specs map[string]*ParamSpec) (string, []any, error) {
	var (
		bound     []any
		positions = make(map[string]int)
		renderErr error
	)

	rendered := paramPattern.ReplaceAllStringFunc(sql, func(match string) string {
		if match == "::" {
			return match
		}
		if renderErr != nil {
			return match
		}
		name := match[1:]
		spec, ok := specs[name]
		if !ok {
			renderErr = validationErrorf(name, "unknown SQL parameter :%s", name)
			return match
		}
		value := values[name]
		if spec.AsLiteral {
			if value == nil {
				renderErr = validationErrorf(name, "literal parameter :%s has no value", name)
				return match
			}
			return toString(value)
		}
		if pos, seen := positions[name]; seen {
			return fmt.Sprintf("$%d", pos)
		}
		bound = append(bound, value)
		positions[name] = len(bound)
		return fmt.Sprintf("$%d", len(bound))
	})

	if renderErr != nil {
		return "", nil, renderErr
	}
	return rendered, bound, nil
}
