// Package registry tracks the warehouse tables exposed by the server and the
// tools built from their definitions.
package registry

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/farescope/dsmcp/pkg/engine"
)

// Table pairs a definition with its built tools.
type Table struct {
	Def   *engine.TableDef
	Tools []*engine.Tool
}

// Registry holds all registered tables, keyed by full table name.
// Registration happens during startup; afterwards the registry is read-only.
type Registry struct {
	tables map[string]*Table
	order  []string
	logger *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tables: make(map[string]*Table),
		logger: logger,
	}
}

// Register builds the definition's tools against the given provider and adds
// the table. Registering the same full table name twice overwrites the
// earlier entry with a warning.
func (r *Registry) Register(def *engine.TableDef, provider engine.ConnectionProvider) error {
	tools, err := def.BuildTools(provider, r.logger)
	if err != nil {
		return fmt.Errorf("build tools for table %q: %w", def.Slug, err)
	}

	name := def.FullTableName()
	if _, exists := r.tables[name]; exists {
		r.logger.Warn("table already registered, overwriting", zap.String("table", name))
	} else {
		r.order = append(r.order, name)
	}
	r.tables[name] = &Table{Def: def, Tools: tools}

	r.logger.Info("registered table",
		zap.String("table", name),
		zap.Int("tools", len(tools)))
	return nil
}

// Get returns a table by full name.
func (r *Registry) Get(name string) (*Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// Tables returns all registered tables in registration order.
func (r *Registry) Tables() []*Table {
	out := make([]*Table, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tables[name])
	}
	return out
}

// AllTools returns every tool from every registered table.
func (r *Registry) AllTools() []*engine.Tool {
	var tools []*engine.Tool
	for _, t := range r.Tables() {
		tools = append(tools, t.Tools...)
	}
	return tools
}

// Names lists registered full table names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tables.
func (r *Registry) Len() int {
	return len(r.tables)
}
