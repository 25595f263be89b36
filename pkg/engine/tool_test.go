package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newTestTool(t *testing.T, spec ToolSpec, conn *fakeConn) *Tool {
	t.Helper()
	macros := NewMacroRegistry(map[string]MacroValue{
		"TBL":   Literal("monitoring_prod.audit"),
		"TODAY": Literal("CAST(TO_CHAR(CURRENT_DATE, 'YYYYMMDD') AS INT)"),
	})
	exec := NewExecutor(&fakeProvider{conn: conn}, zap.NewNop())
	tool, err := newTool(spec, macros, exec, 100, 1000, zap.NewNop())
	if err != nil {
		t.Fatalf("newTool: %v", err)
	}
	return tool
}

func emptyConn() *fakeConn {
	return &fakeConn{results: singleResult([]string{"n"}, nil)}
}

func TestToolInvoke(t *testing.T) {
	conn := &fakeConn{results: singleResult([]string{"cnt"}, [][]any{{int64(3)}})}
	tool := newTestTool(t, ToolSpec{
		Name: "rows_by_date",
		SQL:  "SELECT COUNT(*) AS cnt FROM {{TBL}} WHERE sales_date = :sales_date",
		Params: []ParamSpec{
			{Name: "sales_date", Type: TypeInt, Required: true, Coerce: DateInt},
		},
	}, conn)

	env, err := tool.Invoke(context.Background(), map[string]any{"sales_date": float64(20251014)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT COUNT(*) AS cnt FROM monitoring_prod.audit WHERE sales_date = $1 LIMIT 100"
	if conn.queries[0] != want {
		t.Errorf("executed sql = %q, want %q", conn.queries[0], want)
	}
	if conn.args[0][0] != 20251014 {
		t.Errorf("bound args = %v", conn.args[0])
	}
	if env.RowCount != 1 || env.Rows[0]["cnt"] != int64(3) {
		t.Errorf("envelope = %+v", env)
	}
	if env.SQL != want {
		t.Errorf("envelope sql = %q", env.SQL)
	}
}

func TestToolInvokeValidation(t *testing.T) {
	spec := ToolSpec{
		Name: "tool",
		SQL:  "SELECT * FROM {{TBL}} WHERE d = :d",
		Params: []ParamSpec{
			{Name: "d", Type: TypeInt, Required: true},
		},
	}

	tests := []struct {
		name string
		args map[string]any
		msg  string
	}{
		{
			name: "missing required",
			args: map[string]any{},
			msg:  "missing required value",
		},
		{
			name: "unknown argument",
			args: map[string]any{"d": 1, "bogus": "x"},
			msg:  "unexpected argument",
		},
		{
			name: "uncoercible value",
			args: map[string]any{"d": "abc"},
			msg:  "expected an integer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := newTestTool(t, spec, emptyConn())
			_, err := tool.Invoke(context.Background(), tt.args)
			if err == nil {
				t.Fatal("expected error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.msg)
			}
		})
	}
}

func TestToolInvokeDefaults(t *testing.T) {
	conn := emptyConn()
	tool := newTestTool(t, ToolSpec{
		Name: "tool",
		SQL:  "SELECT * FROM {{TBL}}",
		Params: []ParamSpec{
			{Name: "limit", Type: TypeInt, Default: 25, OmitFromSQL: true},
		},
		MaxRowsParam: "limit",
	}, conn)

	if _, err := tool.Invoke(context.Background(), map[string]any{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := conn.queries[0]; got != "SELECT * FROM monitoring_prod.audit LIMIT 25" {
		t.Errorf("default cap not applied: %q", got)
	}
}

func TestToolInvokeRejectsUnsafeSQL(t *testing.T) {
	tool := newTestTool(t, ToolSpec{
		Name:    "free_query",
		Params:  []ParamSpec{{Name: "sql_query", Type: TypeString, Required: true, OmitFromSQL: true}},
		Prepare: func(values map[string]any) (string, error) { return values["sql_query"].(string), nil },
	}, emptyConn())
	tool.rawTemplate = true

	_, err := tool.Invoke(context.Background(), map[string]any{
		"sql_query": "SELECT * FROM t; DROP TABLE t",
	})
	var rejected *RejectedStatementError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedStatementError, got %v", err)
	}
}

func TestToolInvokeInjectionCheck(t *testing.T) {
	tool := newTestTool(t, ToolSpec{
		Name: "tool",
		SQL:  "SELECT * FROM {{TBL}} WHERE providercode ILIKE :provider",
		Params: []ParamSpec{
			{Name: "provider", Type: TypeString, Required: true},
		},
	}, emptyConn())

	_, err := tool.Invoke(context.Background(), map[string]any{
		"provider": "x' OR '1'='1",
	})
	if err == nil {
		t.Fatal("expected injection rejection")
	}
	if !strings.Contains(err.Error(), "injection") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestToolPrepareSynthesis(t *testing.T) {
	conn := emptyConn()
	tool := newTestTool(t, ToolSpec{
		Name: "tool",
		Params: []ParamSpec{
			{Name: "sales_date", Type: TypeInt, Coerce: func(v any) (any, error) {
				if v == nil {
					return nil, nil
				}
				return DateInt(v)
			}},
		},
		Prepare: func(values map[string]any) (string, error) {
			if values["sales_date"] == nil {
				return "SELECT * FROM {{TBL}} WHERE sales_date = {{TODAY}}", nil
			}
			return "SELECT * FROM {{TBL}} WHERE sales_date = :sales_date", nil
		},
	}, conn)

	if _, err := tool.Invoke(context.Background(), map[string]any{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(conn.queries[0], "CURRENT_DATE") {
		t.Errorf("default branch not taken: %q", conn.queries[0])
	}

	if _, err := tool.Invoke(context.Background(), map[string]any{"sales_date": float64(20251014)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(conn.queries[1], "sales_date = $1") {
		t.Errorf("bound branch not taken: %q", conn.queries[1])
	}
}

func TestToolMaxRowsParamCapsStatement(t *testing.T) {
	conn := emptyConn()
	tool := newTestTool(t, ToolSpec{
		Name: "tool",
		SQL:  "SELECT * FROM {{TBL}}",
		Params: []ParamSpec{
			{Name: "max_rows", Type: TypeInt, OmitFromSQL: true},
		},
		MaxRowsParam: "max_rows",
	}, conn)

	if _, err := tool.Invoke(context.Background(), map[string]any{"max_rows": float64(5000)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := conn.queries[0]; got != "SELECT * FROM monitoring_prod.audit LIMIT 1000" {
		t.Errorf("table ceiling not enforced: %q", got)
	}
}

func TestToolSkipLimit(t *testing.T) {
	conn := emptyConn()
	tool := newTestTool(t, ToolSpec{
		Name:      "tool",
		SQL:       "SELECT MIN(d), MAX(d) FROM {{TBL}}",
		SkipLimit: true,
	}, conn)

	if _, err := tool.Invoke(context.Background(), map[string]any{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(conn.queries[0], "LIMIT") {
		t.Errorf("limit applied despite SkipLimit: %q", conn.queries[0])
	}
}

func TestNewToolSpecErrors(t *testing.T) {
	macros := NewMacroRegistry(nil)
	exec := NewExecutor(&fakeProvider{conn: emptyConn()}, zap.NewNop())

	if _, err := newTool(ToolSpec{SQL: "SELECT 1"}, macros, exec, 100, 1000, zap.NewNop()); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := newTool(ToolSpec{Name: "t"}, macros, exec, 100, 1000, zap.NewNop()); err == nil {
		t.Error("expected error for empty SQL without prepare hook")
	}
	if _, err := newTool(ToolSpec{
		Name:   "t",
		SQL:    "SELECT 1",
		Params: []ParamSpec{{Name: "a"}, {Name: "a"}},
	}, macros, exec, 100, 1000, zap.NewNop()); err == nil {
		t.Error("expected error for duplicate parameter")
	}
	if _, err := newTool(ToolSpec{
		Name:         "t",
		SQL:          "SELECT 1",
		MaxRowsParam: "missing",
	}, macros, exec, 100, 1000, zap.NewNop()); err == nil {
		t.Error("expected error for undeclared max rows parameter")
	}
}
