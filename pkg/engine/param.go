package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind describes the shape of a parameter value.
type Kind int

const (
	// Scalar parameters hold a single value.
	Scalar Kind = iota
	// List parameters accept either a comma-delimited string or a native
	// sequence; each element is coerced and validated independently.
	List
)

// ValueType drives default coercion and the JSON schema type exposed to the
// tool-hosting layer.
type ValueType int

const (
	TypeString ValueType = iota
	TypeInt
	TypeFloat
	TypeBool
)

// ParamSpec is the declarative description of one named tool input.
//
// Coercion order is fixed: shape normalization (string-to-list splitting,
// trimming empty fragments), element-wise coercion, optional transform, then
// bounds/choice validation. Bounds must see coerced types, and list
// validation applies per element.
type ParamSpec struct {
	Name        string
	Description string
	Type        ValueType
	Kind        Kind

	// Required marks a parameter with no default: omission is a hard error.
	// When false, Default (possibly nil) is applied on omission.
	Required bool
	Default  any

	// Coerce overrides the Type-derived coercion when set.
	Coerce func(any) (any, error)
	// Transform runs after coercion, before bounds/choice validation.
	Transform func(any) (any, error)

	Min, Max *float64
	Choices  []string

	// OmitFromSQL excludes the parameter from :name substitution (used for
	// values that only steer preparation or row caps).
	OmitFromSQL bool
	// AsLiteral splices the value directly into the SQL text instead of
	// binding it. Use only for structural elements such as LIMIT values or
	// validated column names.
	AsLiteral bool
}

// Apply normalizes and validates a single supplied (or defaulted) value.
func (p *ParamSpec) Apply(value any) (any, error) {
	if p.Kind == List {
		return p.applyList(value)
	}
	return p.applyScalar(value)
}

func (p *ParamSpec) applyScalar(value any) (any, error) {
	coerced, err := p.coerce(value)
	if err != nil {
		return nil, validationErrorf(p.Name, "%v", err)
	}
	if p.Transform != nil {
		if coerced, err = p.Transform(coerced); err != nil {
			return nil, validationErrorf(p.Name, "%v", err)
		}
	}
	if err := p.validateScalar(coerced); err != nil {
		return nil, err
	}
	return coerced, nil
}

func (p *ParamSpec) applyList(value any) (any, error) {
	elements, err := splitList(value)
	if err != nil {
		return nil, validationErrorf(p.Name, "%v", err)
	}
	out := make([]any, 0, len(elements))
	for _, el := range elements {
		coerced, err := p.coerce(el)
		if err != nil {
			return nil, validationErrorf(p.Name, "%v", err)
		}
		out = append(out, coerced)
	}
	var normalized any = out
	if p.Transform != nil {
		if normalized, err = p.Transform(normalized); err != nil {
			return nil, validationErrorf(p.Name, "%v", err)
		}
	}
	list, ok := normalized.([]any)
	if !ok {
		return nil, validationErrorf(p.Name, "transform must return a list")
	}
	for _, el := range list {
		if err := p.validateScalar(el); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// splitList turns a delimited string or native sequence into elements.
// Empty fragments from the string form are dropped.
func splitList(value any) ([]any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		var out []any
		for _, part := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out, nil
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expects a list or delimited string, got %T", value)
	}
}

func (p *ParamSpec) coerce(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if p.Coerce != nil {
		return p.Coerce(value)
	}
	switch p.Type {
	case TypeInt:
		return toInt(value)
	case TypeFloat:
		return toFloat(value)
	case TypeBool:
		return toBool(value)
	default:
		return toString(value), nil
	}
}

func (p *ParamSpec) validateScalar(value any) error {
	if f, ok := numericValue(value); ok {
		if p.Min != nil && f < *p.Min {
			return validationErrorf(p.Name, "must be >= %v", *p.Min)
		}
		if p.Max != nil && f > *p.Max {
			return validationErrorf(p.Name, "must be <= %v", *p.Max)
		}
	}
	if len(p.Choices) > 0 && value != nil {
		repr := fmt.Sprintf("%v", value)
		for _, choice := range p.Choices {
			if repr == choice {
				return nil
			}
		}
		return validationErrorf(p.Name, "must be one of %s", strings.Join(p.Choices, ", "))
	}
	return nil
}

func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func toInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case float32:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", v)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("expected an integer, got %T", value)
	}
}

func toFloat(value any) (any, error) {
	if f, ok := numericValue(value); ok {
		return f, nil
	}
	if s, ok := value.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", s)
		}
		return f, nil
	}
	return nil, fmt.Errorf("expected a number, got %T", value)
}

func toBool(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("expected a boolean, got %q", v)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("expected a boolean, got %T", value)
	}
}

func toString(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	// MCP arguments arrive as JSON numbers (float64); render integral values
	// without the decimal point.
	if f, ok := value.(float64); ok && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprintf("%v", value)
}

// DateInt coerces a YYYYMMDD integer, the warehouse's sales_date encoding.
func DateInt(value any) (any, error) {
	coerced, err := toInt(value)
	if err != nil {
		return nil, err
	}
	n := coerced.(int)
	if len(strconv.Itoa(n)) != 8 {
		return nil, fmt.Errorf("must be a YYYYMMDD integer, got %d", n)
	}
	return n, nil
}

// LowerString coerces to a trimmed, lower-cased string. Used for
// case-insensitive choice parameters.
func LowerString(value any) (any, error) {
	return strings.ToLower(strings.TrimSpace(toString(value))), nil
}
