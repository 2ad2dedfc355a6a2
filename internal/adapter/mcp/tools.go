package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/toolgate/internal/domain/tool"
	"github.com/Strob0t/toolgate/internal/middleware"
	"github.com/Strob0t/toolgate/internal/service"
)

type jsonSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]schemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

type schemaProperty struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// inputSchema renders the caller-supplied part of a tool schema. User and
// literal properties are filled server-side and not offered to clients.
func inputSchema(s tool.Schema) json.RawMessage {
	out := jsonSchema{Type: "object", Properties: map[string]schemaProperty{}}
	for name, p := range s.Properties {
		if p.Source == tool.SourceUser || p.Source == tool.SourceLiteral {
			continue
		}
		out.Properties[name] = schemaProperty{Type: p.Type, Description: p.Description, Default: p.Default}
	}
	for _, r := range s.Required {
		if _, ok := out.Properties[r]; ok {
			out.Required = append(out.Required, r)
		}
	}
	data, _ := json.Marshal(out)
	return data
}

func (s *Server) serverTool(def *tool.Definition) mcpserver.ServerTool {
	desc := def.Description
	if def.RequiresPayment {
		desc = fmt.Sprintf("%s (costs %d credits per call)", desc, def.CostPerExecution)
	}
	return mcpserver.ServerTool{
		Tool:    mcplib.NewToolWithRawSchema(def.Name, desc, inputSchema(def.Schema)),
		Handler: s.executeHandler(def.Name, def.Schema),
	}
}

func (s *Server) executeHandler(name string, schema tool.Schema) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
		if s.deps.Executor == nil {
			return mcplib.NewToolResultError("executor not configured"), nil
		}
		cc := middleware.CallContext(ctx)
		args := schema.CallArgs(req.GetArguments(), cc.UserID)

		t, err := s.deps.Executor.Execute(ctx, name, args, cc)
		if err != nil {
			msg := fmt.Sprintf("%s: %v", service.ErrorKind(err), err)
			if t != nil {
				msg = fmt.Sprintf("%s (task %s)", msg, t.ID)
			}
			return mcplib.NewToolResultError(msg), nil
		}

		data, err := json.Marshal(t)
		if err != nil {
			return mcplib.NewToolResultErrorFromErr("failed to marshal task", err), nil
		}
		return mcplib.NewToolResultText(string(data)), nil
	}
}
