package engine

import (
	"context"
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farescope/dsmcp/pkg/logging"
)

// Prepare synthesizes a SQL template from validated parameter values. The map
// is read-write: a hook may backfill inferred fields (e.g. a provider code
// derived from free text) before rendering binds them.
type Prepare func(values map[string]any) (string, error)

// ToolSpec is the declarative definition of one callable query.
type ToolSpec struct {
	Name   string
	Doc    string
	SQL    string
	Params []ParamSpec

	// SkipLimit bypasses the limit governor (schema and aggregate lookups
	// that are bounded by construction).
	SkipLimit bool
	// MaxRows is a fixed row cap; MaxRowsParam names a parameter whose
	// validated value supplies the cap instead.
	MaxRows      int
	MaxRowsParam string

	// Prepare, when set, is invoked with the validated values and returns
	// the SQL template to render. Mandatory when SQL is empty.
	Prepare Prepare
}

// Tool is a ToolSpec bound to a table's macros, limits, and executor. Tools
// are immutable after construction and safe for concurrent invocation.
type Tool struct {
	Name string
	Doc  string
	Spec ToolSpec

	macros       *MacroRegistry
	executor     *Executor
	defaultLimit int
	maxLimit     int
	sqlParams    map[string]*ParamSpec
	logger       *zap.Logger

	// rawTemplate marks the built-in free-SQL tool: caller SQL is macro
	// expanded and validated but never scanned for :name placeholders.
	rawTemplate bool
}

func newTool(spec ToolSpec, macros *MacroRegistry, executor *Executor, defaultLimit, maxLimit int, logger *zap.Logger) (*Tool, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("tool spec requires a name")
	}
	if spec.SQL == "" && spec.Prepare == nil {
		return nil, fmt.Errorf("tool %q: empty SQL requires a prepare hook", spec.Name)
	}

	sqlParams := make(map[string]*ParamSpec)
	declared := make(map[string]bool)
	for i := range spec.Params {
		p := &spec.Params[i]
		if declared[p.Name] {
			return nil, fmt.Errorf("tool %q: duplicate parameter %q", spec.Name, p.Name)
		}
		declared[p.Name] = true
		if !p.OmitFromSQL {
			sqlParams[p.Name] = p
		}
	}
	if spec.MaxRowsParam != "" && !declared[spec.MaxRowsParam] {
		return nil, fmt.Errorf("tool %q: max rows parameter %q is not declared", spec.Name, spec.MaxRowsParam)
	}

	return &Tool{
		Name:         spec.Name,
		Doc:          spec.Doc,
		Spec:         spec,
		macros:       macros,
		executor:     executor,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		sqlParams:    sqlParams,
		logger:       logger,
	}, nil
}

// Invoke validates args against the declared parameters, renders and guards
// the SQL, and executes it. All failure modes return an error; converting
// errors into the uniform result envelope is the hosting boundary's job.
func (t *Tool) Invoke(ctx context.Context, args map[string]any) (*ResultEnvelope, error) {
	values, err := t.bindValues(args)
	if err != nil {
		return nil, err
	}
	if err := t.checkInjection(values); err != nil {
		return nil, err
	}

	template := t.Spec.SQL
	if t.Spec.Prepare != nil {
		if template, err = t.Spec.Prepare(values); err != nil {
			return nil, err
		}
	}

	expanded := t.macros.Expand(template)

	sqlText := expanded
	var bound []any
	if !t.rawTemplate {
		if sqlText, bound, err = renderParams(expanded, values, t.sqlParams); err != nil {
			return nil, err
		}
	}

	if err := ValidateReadOnly(sqlText); err != nil {
		return nil, err
	}

	cap := t.Spec.MaxRows
	if t.Spec.MaxRowsParam != "" {
		if v, ok := values[t.Spec.MaxRowsParam]; ok && v != nil {
			if n, err := toInt(v); err == nil {
				cap = n.(int)
			}
		}
	}
	if !t.Spec.SkipLimit {
		sqlText, cap = ApplyLimit(sqlText, cap, t.defaultLimit, t.maxLimit)
	}

	t.logger.Info("executing tool query",
		zap.String("tool", t.Name),
		zap.String("invocation_id", uuid.NewString()),
		zap.String("sql", logging.SanitizeQuery(sqlText)),
		zap.Int("bound_params", len(bound)),
		zap.Int("cap", cap))

	return t.executor.Execute(ctx, sqlText, bound, cap)
}

// bindValues resolves the ordered parameter list against the request map.
// Unknown argument names are rejected against the dispatch table built at
// construction time.
func (t *Tool) bindValues(args map[string]any) (map[string]any, error) {
	declared := make(map[string]bool, len(t.Spec.Params))
	values := make(map[string]any, len(t.Spec.Params))

	for i := range t.Spec.Params {
		p := &t.Spec.Params[i]
		declared[p.Name] = true

		raw, supplied := args[p.Name]
		if !supplied {
			if p.Required {
				return nil, validationErrorf(p.Name, "missing required value")
			}
			raw = p.Default
		}
		normalized, err := p.Apply(raw)
		if err != nil {
			return nil, err
		}
		values[p.Name] = normalized
	}

	for name := range args {
		if !declared[name] {
			return nil, validationErrorf(name, "unexpected argument")
		}
	}
	return values, nil
}

// checkInjection scans bound string values with libinjection before they
// reach the warehouse. Literal and omitted parameters are excluded: literals
// are restricted to validated structural values by their specs.
func (t *Tool) checkInjection(values map[string]any) error {
	for name, spec := range t.sqlParams {
		if spec.AsLiteral {
			continue
		}
		for _, candidate := range stringCandidates(values[name]) {
			if isSQLi, fingerprint := libinjection.IsSQLi(candidate); isSQLi {
				t.logger.Warn("potential SQL injection rejected",
					zap.String("tool", t.Name),
					zap.String("param", name),
					zap.String("fingerprint", string(fingerprint)))
				return validationErrorf(name, "potential SQL injection detected")
			}
		}
	}
	return nil
}

func stringCandidates(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []any:
		var out []string
		for _, el := range v {
			if s, ok := el.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
