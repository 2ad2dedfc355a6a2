package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const toolsResourceURI = "toolgate://tools"

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			toolsResourceURI,
			"Tool Definitions",
			mcplib.WithResourceDescription("Registered tools with triggers, pricing and execution stats"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleToolsResource,
	)
}

func (s *Server) handleToolsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	text := `[]`
	if s.deps.Tools != nil {
		data, err := json.Marshal(s.deps.Tools.List())
		if err != nil {
			return nil, err
		}
		text = string(data)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     text,
		},
	}, nil
}
