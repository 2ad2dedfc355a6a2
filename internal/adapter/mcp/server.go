// Package mcp exposes the registered toolgate tools to MCP clients over
// streamable HTTP. Every call goes through the ToolExecutor, so rate
// limits, availability and budgets apply exactly as for HTTP callers.
package mcp

import (
	"context"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/toolgate/internal/domain/task"
	"github.com/Strob0t/toolgate/internal/domain/tool"
	"github.com/Strob0t/toolgate/internal/middleware"
)

// EndpointPath is where the streamable HTTP transport is mounted.
const EndpointPath = "/mcp"

// ToolLister returns the current tool definitions.
type ToolLister interface {
	List() []tool.Definition
}

// Executor runs a tool for a caller.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any, cc tool.CallContext) (*task.Task, error)
}

// ServerConfig holds the identity the server reports to clients.
type ServerConfig struct {
	Name    string
	Version string
}

// ServerDeps are the services the MCP server delegates to.
type ServerDeps struct {
	Tools    ToolLister
	Executor Executor
}

// Server wraps an mcp-go server whose tool set mirrors the registry.
type Server struct {
	mcpServer *mcpserver.MCPServer
	http      *mcpserver.StreamableHTTPServer
	deps      ServerDeps
}

// NewServer creates the MCP server and publishes the current tools.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{deps: deps}
	s.mcpServer = mcpserver.NewMCPServer(cfg.Name, cfg.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithRecovery(),
	)
	s.http = mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithEndpointPath(EndpointPath),
		mcpserver.WithHTTPContextFunc(identityFromRequest),
	)
	s.registerResources()
	s.Sync()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the streamable HTTP handler to mount at EndpointPath.
func (s *Server) Handler() http.Handler {
	return s.http
}

// Shutdown closes open client sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Sync replaces the published tool set with the registry's enabled tools.
// Clients receive a list_changed notification.
func (s *Server) Sync() {
	if s.deps.Tools == nil {
		return
	}
	defs := s.deps.Tools.List()
	tools := make([]mcpserver.ServerTool, 0, len(defs))
	for i := range defs {
		if !defs[i].Enabled {
			continue
		}
		tools = append(tools, s.serverTool(&defs[i]))
	}
	s.mcpServer.SetTools(tools...)
	slog.Debug("mcp tools synced", "count", len(tools))
}

// identityFromRequest carries the gateway identity into tool handlers.
func identityFromRequest(ctx context.Context, r *http.Request) context.Context {
	id := r.Header.Get(middleware.HeaderUserID)
	if !middleware.ValidUserID(id) {
		return ctx
	}
	return middleware.WithUser(ctx, id)
}
