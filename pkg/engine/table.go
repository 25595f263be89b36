package engine

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const (
	defaultQueryToolName  = "query_table"
	defaultSchemaToolName = "get_table_schema"

	defaultRowLimit = 200
	defaultRowCeil  = 1000
)

// TableDef is the declarative description of one warehouse table exposed as a
// set of tools. Definitions are constructed once at startup and immutable
// thereafter.
type TableDef struct {
	Slug         string
	SchemaName   string
	TableName    string
	DatabaseName string
	DisplayName  string
	Description  string

	// QueryToolName and SchemaToolName override the built-in tool names.
	QueryToolName  string
	SchemaToolName string

	DefaultLimit int
	MaxLimit     int

	Macros   map[string]MacroValue
	Metadata map[string]any
	Tools    []ToolSpec
}

// FullTableName returns schema.table, or database.schema.table when the
// table lives in another catalog.
func (d *TableDef) FullTableName() string {
	if d.DatabaseName != "" {
		return fmt.Sprintf("%s.%s.%s", d.DatabaseName, d.SchemaName, d.TableName)
	}
	return fmt.Sprintf("%s.%s", d.SchemaName, d.TableName)
}

// builtinMacros are registered for every table; table-specific macros
// override them on name collision.
func (d *TableDef) builtinMacros() map[string]MacroValue {
	full := d.FullTableName()
	macros := map[string]MacroValue{
		"TABLE":      Literal(full),
		"FULL_TABLE": Literal(full),
		"SCHEMA":     Literal(d.SchemaName),
		"TABLE_ONLY": Literal(d.TableName),
		"TODAY":      Literal("CAST(TO_CHAR(CURRENT_DATE, 'YYYYMMDD') AS INT)"),
	}
	for name, value := range d.Macros {
		macros[name] = value
	}
	return macros
}

// BuildTools turns the definition into its callable tools: the free-SQL query
// tool, the schema tool, and one tool per declarative spec.
func (d *TableDef) BuildTools(provider ConnectionProvider, logger *zap.Logger) ([]*Tool, error) {
	if d.Slug == "" || d.SchemaName == "" || d.TableName == "" {
		return nil, fmt.Errorf("table definition requires slug, schema, and table names")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("tables." + d.Slug)

	defaultLimit := d.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = defaultRowLimit
	}
	maxLimit := d.MaxLimit
	if maxLimit <= 0 {
		maxLimit = defaultRowCeil
	}

	macros := NewMacroRegistry(d.builtinMacros())
	executor := NewExecutor(provider, logger)

	tools := make([]*Tool, 0, len(d.Tools)+2)
	seen := make(map[string]bool)

	queryTool, err := d.makeQueryTool(macros, executor, defaultLimit, maxLimit, logger)
	if err != nil {
		return nil, err
	}
	tools = append(tools, queryTool)
	seen[queryTool.Name] = true

	schemaTool, err := d.makeSchemaTool(macros, executor, defaultLimit, maxLimit, logger)
	if err != nil {
		return nil, err
	}
	tools = append(tools, schemaTool)
	seen[schemaTool.Name] = true

	for _, spec := range d.Tools {
		tool, err := newTool(spec, macros, executor, defaultLimit, maxLimit, logger)
		if err != nil {
			return nil, err
		}
		if seen[tool.Name] {
			return nil, fmt.Errorf("table %q: duplicate tool name %q", d.Slug, tool.Name)
		}
		seen[tool.Name] = true
		tools = append(tools, tool)
	}
	return tools, nil
}

// makeQueryTool builds the free-SQL tool: caller-provided SELECT/WITH text,
// macro expanded, safety validated, and limit governed. The caller's SQL is
// never scanned for :name placeholders.
func (d *TableDef) makeQueryTool(macros *MacroRegistry, executor *Executor, defaultLimit, maxLimit int, logger *zap.Logger) (*Tool, error) {
	name := d.QueryToolName
	if name == "" {
		name = defaultQueryToolName
	}

	macroNames := macros.Names()
	sort.Strings(macroNames)
	doc := fmt.Sprintf(
		"Execute a read-only SQL query against %s. "+
			"The query must start with SELECT or WITH; mutating statements are rejected. "+
			"A LIMIT clause is applied when missing to keep responses bounded.\n\n"+
			"Macros available: %s. Default limit: %d rows (cap %d).",
		d.FullTableName(), strings.Join(macroNames, ", "), defaultLimit, maxLimit)

	spec := ToolSpec{
		Name: name,
		Doc:  doc,
		Params: []ParamSpec{
			{
				Name:        "sql_query",
				Description: "SQL SELECT or WITH query to execute. Table macros such as {{TABLE}} are expanded before execution.",
				Type:        TypeString,
				Required:    true,
				OmitFromSQL: true,
			},
			{
				Name:        "max_rows",
				Description: fmt.Sprintf("Maximum rows to return (default %d, cap %d).", defaultLimit, maxLimit),
				Type:        TypeInt,
				Min:         floatPtr(1),
				OmitFromSQL: true,
			},
		},
		MaxRowsParam: "max_rows",
		Prepare: func(values map[string]any) (string, error) {
			sql, _ := values["sql_query"].(string)
			if strings.TrimSpace(sql) == "" {
				return "", validationErrorf("sql_query", "SQL query cannot be empty")
			}
			return sql, nil
		},
	}

	tool, err := newTool(spec, macros, executor, defaultLimit, maxLimit, logger)
	if err != nil {
		return nil, err
	}
	tool.rawTemplate = true
	return tool, nil
}

// makeSchemaTool builds the column-metadata tool over svv_columns. Schema and
// table names are trusted construction-time constants, so they are
// interpolated rather than bound.
func (d *TableDef) makeSchemaTool(macros *MacroRegistry, executor *Executor, defaultLimit, maxLimit int, logger *zap.Logger) (*Tool, error) {
	name := d.SchemaToolName
	if name == "" {
		name = defaultSchemaToolName
	}

	clauses := []string{
		"SELECT column_name, data_type, character_maximum_length, is_nullable",
		"FROM svv_columns",
		fmt.Sprintf("WHERE table_schema = '%s'", d.SchemaName),
		fmt.Sprintf("  AND table_name = '%s'", d.TableName),
	}
	if d.DatabaseName != "" {
		clauses = append(clauses, fmt.Sprintf("  AND table_catalog = '%s'", d.DatabaseName))
	}
	clauses = append(clauses, "ORDER BY ordinal_position")

	spec := ToolSpec{
		Name:      name,
		Doc:       fmt.Sprintf("Return column metadata (name, type, length, nullability) for %s.", d.FullTableName()),
		SQL:       strings.Join(clauses, "\n"),
		SkipLimit: true,
	}
	return newTool(spec, macros, executor, defaultLimit, maxLimit, logger)
}

func floatPtr(f float64) *float64 {
	return &f
}
