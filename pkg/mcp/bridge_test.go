package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/farescope/dsmcp/pkg/engine"
	"github.com/farescope/dsmcp/pkg/registry"
)

type fakeRows struct {
	rows [][]any
	idx  int
}

func (r *fakeRows) Columns() []string { return []string{"n"} }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Values() ([]any, error) { return r.rows[r.idx-1], nil }
func (r *fakeRows) Err() error             { return nil }
func (r *fakeRows) Close()                 {}

type fakeConn struct {
	rows [][]any
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (engine.Rows, error) {
	return &fakeRows{rows: c.rows}, nil
}

func (c *fakeConn) Rollback(ctx context.Context) error { return nil }
func (c *fakeConn) Release()                           {}

type fakeProvider struct {
	conn *fakeConn
}

func (p *fakeProvider) Acquire(ctx context.Context) (engine.Conn, error) {
	return p.conn, nil
}

func testRegistry(t *testing.T, conn *fakeConn) *registry.Registry {
	t.Helper()
	reg := registry.New(zap.NewNop())
	def := &engine.TableDef{
		Slug:       "audit",
		SchemaName: "monitoring_prod",
		TableName:  "audit",
		Tools: []engine.ToolSpec{
			{
				Name: "rows_by_date",
				Doc:  "Rows for a sales_date.",
				SQL:  "SELECT * FROM {{TABLE}} WHERE sales_date = :sales_date",
				Params: []engine.ParamSpec{
					{
						Name:        "sales_date",
						Description: "YYYYMMDD integer.",
						Type:        engine.TypeInt,
						Required:    true,
						Coerce:      engine.DateInt,
					},
					{
						Name:        "dims",
						Description: "Grouping dimensions.",
						Type:        engine.TypeString,
						Kind:        engine.List,
						OmitFromSQL: true,
					},
				},
			},
		},
	}
	if err := reg.Register(def, &fakeProvider{conn: conn}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg
}

func findTool(reg *registry.Registry, name string) *engine.Tool {
	for _, tool := range reg.AllTools() {
		if tool.Name == name {
			return tool
		}
	}
	return nil
}

func TestToolDefinition(t *testing.T) {
	reg := testRegistry(t, &fakeConn{})
	def := toolDefinition(findTool(reg, "rows_by_date"))

	if def.Name != "rows_by_date" {
		t.Errorf("name = %q", def.Name)
	}
	if def.Description != "Rows for a sales_date." {
		t.Errorf("description = %q", def.Description)
	}
	if _, ok := def.InputSchema.Properties["sales_date"]; !ok {
		t.Error("sales_date missing from schema")
	}
	if _, ok := def.InputSchema.Properties["dims"]; !ok {
		t.Error("dims missing from schema")
	}
	if len(def.InputSchema.Required) != 1 || def.InputSchema.Required[0] != "sales_date" {
		t.Errorf("required = %v", def.InputSchema.Required)
	}
}

func TestRegisterTables(t *testing.T) {
	reg := testRegistry(t, &fakeConn{})
	srv := NewServer("test", "0.0.1", zap.NewNop())
	RegisterTables(srv, reg)
	// query tool + schema tool + declarative tool all registered without panic;
	// detailed handler behavior is covered below.
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = "rows_by_date"
	req.Params.Arguments = args
	return req
}

func TestHandlerSuccess(t *testing.T) {
	reg := testRegistry(t, &fakeConn{rows: [][]any{{1}, {2}}})
	handler := makeHandler(findTool(reg, "rows_by_date"), zap.NewNop())

	result, err := handler(context.Background(), callRequest(map[string]any{
		"sales_date": float64(20251014),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}

	text := result.Content[0].(mcp.TextContent).Text
	var env engine.ResultEnvelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		t.Fatalf("result is not an envelope: %v\n%s", err, text)
	}
	if env.RowCount != 2 || len(env.Rows) != 2 {
		t.Errorf("envelope = %+v", env)
	}
	if !strings.Contains(env.SQL, "sales_date = $1") {
		t.Errorf("envelope sql = %q", env.SQL)
	}
}

func TestHandlerValidationFailure(t *testing.T) {
	reg := testRegistry(t, &fakeConn{})
	handler := makeHandler(findTool(reg, "rows_by_date"), zap.NewNop())

	result, err := handler(context.Background(), callRequest(map[string]any{
		"sales_date": float64(99),
	}))
	if err != nil {
		t.Fatalf("validation failures must be results, not protocol errors: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected IsError result")
	}

	text := result.Content[0].(mcp.TextContent).Text
	var payload map[string]string
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("error payload is not JSON: %v", err)
	}
	if payload["error"] == "" {
		t.Errorf("payload = %v", payload)
	}
	if !strings.Contains(payload["error"], "sales_date") {
		t.Errorf("error should name the parameter: %q", payload["error"])
	}
}

func TestHandlerMissingArguments(t *testing.T) {
	reg := testRegistry(t, &fakeConn{})
	handler := makeHandler(findTool(reg, "rows_by_date"), zap.NewNop())

	result, err := handler(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected IsError result for missing required argument")
	}
}
