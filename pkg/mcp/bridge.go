package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/farescope/dsmcp/pkg/engine"
	"github.com/farescope/dsmcp/pkg/logging"
	"github.com/farescope/dsmcp/pkg/registry"
)

// errorResult is the uniform error payload returned to the client. Failures
// surface as tool results with IsError set, never as protocol errors, so the
// model always sees something it can act on.
type errorResult struct {
	Error string `json:"error"`
}

// RegisterTables registers every tool from every registered table.
func RegisterTables(s *Server, reg *registry.Registry) {
	for _, tool := range reg.AllTools() {
		s.RegisterTool(toolDefinition(tool), makeHandler(tool, s.logger))
	}
}

// toolDefinition converts an engine tool and its parameter specs into an
// mcp-go tool definition.
func toolDefinition(t *engine.Tool) mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(t.Doc),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	}
	for _, p := range t.Spec.Params {
		opts = append(opts, paramOption(p))
	}
	return mcp.NewTool(t.Name, opts...)
}

func paramOption(p engine.ParamSpec) mcp.ToolOption {
	props := []mcp.PropertyOption{mcp.Description(p.Description)}
	if p.Required {
		props = append(props, mcp.Required())
	}

	if p.Kind == engine.List {
		props = append(props, mcp.Items(map[string]any{"type": jsonType(p.Type)}))
		return mcp.WithArray(p.Name, props...)
	}

	switch p.Type {
	case engine.TypeInt, engine.TypeFloat:
		if p.Min != nil {
			props = append(props, mcp.Min(*p.Min))
		}
		if p.Max != nil {
			props = append(props, mcp.Max(*p.Max))
		}
		return mcp.WithNumber(p.Name, props...)
	case engine.TypeBool:
		return mcp.WithBoolean(p.Name, props...)
	default:
		if len(p.Choices) > 0 {
			props = append(props, mcp.Enum(p.Choices...))
		}
		return mcp.WithString(p.Name, props...)
	}
}

func jsonType(t engine.ValueType) string {
	switch t {
	case engine.TypeInt, engine.TypeFloat:
		return "number"
	case engine.TypeBool:
		return "boolean"
	default:
		return "string"
	}
}

// makeHandler adapts a tool invocation to the MCP call contract. The result
// envelope is returned as indented JSON text; any failure becomes an
// {"error": ...} result.
func makeHandler(t *engine.Tool, logger *zap.Logger) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)

		env, err := t.Invoke(ctx, args)
		if err != nil {
			logger.Debug("tool invocation failed",
				zap.String("tool", t.Name),
				zap.String("error", logging.SanitizeError(err)))
			return newErrorResult(logging.SanitizeError(err)), nil
		}

		payload, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return newErrorResult("failed to encode result: " + err.Error()), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

func newErrorResult(message string) *mcp.CallToolResult {
	payload, _ := json.MarshalIndent(errorResult{Error: message}, "", "  ")
	result := mcp.NewToolResultText(string(payload))
	result.IsError = true
	return result
}
