// Package engine implements the declarative query-template engine behind the
// warehouse tools: macro expansion, parameter binding and validation,
// read-only safety enforcement, LIMIT governance, rendering to positional
// parameters, and bounded execution with a single aborted-transaction retry.
package engine

import (
	"regexp"
	"strings"
)

// macroPattern matches {{NAME}} or {{NAME:alias}} placeholders. Macro names
// are upper-case with digits and underscores; aliases follow SQL identifier
// rules.
var macroPattern = regexp.MustCompile(`\{\{([A-Z0-9_]+)(?::([A-Za-z_][A-Za-z0-9_]*))?\}\}`)

// MacroValue is a tagged variant: either a literal SQL fragment or a function
// computing a fragment from an optional alias.
type MacroValue struct {
	literal string
	compute func(alias string) string
}

// Literal returns a macro that expands to a fixed SQL fragment. If the
// fragment contains the marker {alias} and the template supplies an alias,
// the marker is replaced; otherwise the fragment is used unchanged.
func Literal(text string) MacroValue {
	return MacroValue{literal: text}
}

// Computed returns a macro whose expansion is derived from the alias supplied
// in the template (empty string when none was given).
func Computed(fn func(alias string) string) MacroValue {
	return MacroValue{compute: fn}
}

func (v MacroValue) expand(alias string) string {
	if v.compute != nil {
		return v.compute(alias)
	}
	if alias != "" && strings.Contains(v.literal, "{alias}") {
		return strings.ReplaceAll(v.literal, "{alias}", alias)
	}
	return v.literal
}

// MacroRegistry maps macro names to their expansions for one table. It is
// built once at table-definition time and never mutated afterwards.
type MacroRegistry struct {
	macros map[string]MacroValue
}

// NewMacroRegistry copies the given mapping into a registry.
func NewMacroRegistry(macros map[string]MacroValue) *MacroRegistry {
	m := make(map[string]MacroValue, len(macros))
	for name, value := range macros {
		m[name] = value
	}
	return &MacroRegistry{macros: m}
}

// Names returns the registered macro names in no particular order.
func (r *MacroRegistry) Names() []string {
	names := make([]string, 0, len(r.macros))
	for name := range r.macros {
		names = append(names, name)
	}
	return names
}

// Expand replaces {{NAME}} and {{NAME:alias}} placeholders in template.
// Unknown macros are left untouched so partially authored templates survive
// expansion. The pass is single and non-recursive: an expansion containing
// macro syntax is not expanded again.
func (r *MacroRegistry) Expand(template string) string {
	return macroPattern.ReplaceAllStringFunc(template, func(match string) string {
		groups := macroPattern.FindStringSubmatch(match)
		value, ok := r.macros[groups[1]]
		if !ok {
			return match
		}
		return value.expand(groups[2])
	})
}
