// Package mcp exposes the analyzer's tools through a Model Context Protocol server
// and executes them on behalf of the plan analysis loop.
package mcp

import (
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

// ServerConfig holds MCP server identity and access settings.
type ServerConfig struct {
	Name    string
	Version string
	// APIKey protects the HTTP endpoint. Empty disables authentication.
	APIKey string
}

// ServerDeps holds the backends tools delegate to.
type ServerDeps struct {
	Releases ReleaseLookup
}

// Server owns the tool registry.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
}

// NewServer creates a server with all tools registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the streamable HTTP transport guarded by the API key.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer))
}
