package engine

import (
	"context"
	"strings"
	"testing"
)

func testTableDef() *TableDef {
	return &TableDef{
		Slug:       "audit",
		SchemaName: "monitoring_prod",
		TableName:  "provider_combined_audit",
		Macros: map[string]MacroValue{
			"PCA": Literal("monitoring_prod.provider_combined_audit"),
		},
		Tools: []ToolSpec{
			{
				Name: "get_date_range",
				SQL:  "SELECT MIN(sales_date), MAX(sales_date) FROM {{PCA}}",
			},
		},
	}
}

func toolNames(tools []*Tool) map[string]*Tool {
	out := make(map[string]*Tool, len(tools))
	for _, tool := range tools {
		out[tool.Name] = tool
	}
	return out
}

func TestBuildTools(t *testing.T) {
	tools, err := testTableDef().BuildTools(&fakeProvider{conn: emptyConn()}, nil)
	if err != nil {
		t.Fatalf("BuildTools: %v", err)
	}
	byName := toolNames(tools)
	for _, name := range []string{"query_table", "get_table_schema", "get_date_range"} {
		if byName[name] == nil {
			t.Errorf("missing tool %q", name)
		}
	}
	if len(tools) != 3 {
		t.Errorf("expected 3 tools, got %d", len(tools))
	}
}

func TestBuildToolsValidation(t *testing.T) {
	def := testTableDef()
	def.SchemaName = ""
	if _, err := def.BuildTools(&fakeProvider{conn: emptyConn()}, nil); err == nil {
		t.Error("expected error for missing schema name")
	}

	def = testTableDef()
	def.Tools = append(def.Tools, ToolSpec{Name: "get_date_range", SQL: "SELECT 1"})
	if _, err := def.BuildTools(&fakeProvider{conn: emptyConn()}, nil); err == nil {
		t.Error("expected error for duplicate tool name")
	}

	def = testTableDef()
	def.QueryToolName = "query_audit"
	def.Tools = []ToolSpec{{Name: "query_audit", SQL: "SELECT 1"}}
	if _, err := def.BuildTools(&fakeProvider{conn: emptyConn()}, nil); err == nil {
		t.Error("expected error for spec colliding with query tool")
	}
}

func TestFullTableName(t *testing.T) {
	def := testTableDef()
	if got := def.FullTableName(); got != "monitoring_prod.provider_combined_audit" {
		t.Errorf("FullTableName() = %q", got)
	}
	def.DatabaseName = "warehouse"
	if got := def.FullTableName(); got != "warehouse.monitoring_prod.provider_combined_audit" {
		t.Errorf("FullTableName() = %q", got)
	}
}

func TestQueryToolExpandsMacros(t *testing.T) {
	conn := emptyConn()
	tools, err := testTableDef().BuildTools(&fakeProvider{conn: conn}, nil)
	if err != nil {
		t.Fatalf("BuildTools: %v", err)
	}
	query := toolNames(tools)["query_table"]

	_, err = query.Invoke(context.Background(), map[string]any{
		"sql_query": "SELECT * FROM {{TABLE}} WHERE sales_date = {{TODAY}}",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := conn.queries[0]
	if !strings.Contains(got, "FROM monitoring_prod.provider_combined_audit") {
		t.Errorf("TABLE macro not expanded: %q", got)
	}
	if !strings.Contains(got, "CAST(TO_CHAR(CURRENT_DATE, 'YYYYMMDD') AS INT)") {
		t.Errorf("TODAY macro not expanded: %q", got)
	}
	if !strings.Contains(got, "LIMIT 200") {
		t.Errorf("default limit not applied: %q", got)
	}
}

func TestQueryToolUserColonsSurvive(t *testing.T) {
	conn := emptyConn()
	tools, err := testTableDef().BuildTools(&fakeProvider{conn: conn}, nil)
	if err != nil {
		t.Fatalf("BuildTools: %v", err)
	}
	query := toolNames(tools)["query_table"]

	// Free-form SQL may contain casts and literal colons; it is never
	// scanned for :name placeholders.
	_, err = query.Invoke(context.Background(), map[string]any{
		"sql_query": "SELECT cp::VARCHAR, 'a:b' FROM {{TABLE}}",
		"max_rows":  float64(10),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(conn.queries[0], "cp::VARCHAR, 'a:b'") {
		t.Errorf("user text mangled: %q", conn.queries[0])
	}
}

func TestQueryToolRejectsEmptySQL(t *testing.T) {
	tools, err := testTableDef().BuildTools(&fakeProvider{conn: emptyConn()}, nil)
	if err != nil {
		t.Fatalf("BuildTools: %v", err)
	}
	query := toolNames(tools)["query_table"]

	if _, err := query.Invoke(context.Background(), map[string]any{"sql_query": "   "}); err == nil {
		t.Error("expected rejection of blank SQL")
	}
}

func TestSchemaToolStatement(t *testing.T) {
	conn := emptyConn()
	tools, err := testTableDef().BuildTools(&fakeProvider{conn: conn}, nil)
	if err != nil {
		t.Fatalf("BuildTools: %v", err)
	}
	schema := toolNames(tools)["get_table_schema"]

	if _, err := schema.Invoke(context.Background(), map[string]any{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := conn.queries[0]
	if !strings.Contains(got, "FROM svv_columns") {
		t.Errorf("schema source missing: %q", got)
	}
	if !strings.Contains(got, "table_schema = 'monitoring_prod'") ||
		!strings.Contains(got, "table_name = 'provider_combined_audit'") {
		t.Errorf("table filters missing: %q", got)
	}
	if strings.Contains(got, "LIMIT") {
		t.Errorf("schema tool should not be limit governed: %q", got)
	}
}
