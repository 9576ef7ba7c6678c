// Package mcp exposes the fleet control plane as a Model Context Protocol
// server, so MCP-speaking clients (IDEs, other agents) can inspect the
// fleet with tools instead of raw REST calls. The surface is read-only.
package mcp

import (
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/agentfleet/agentfleet/internal/domain/agent"
	"github.com/agentfleet/agentfleet/internal/fleet"
)

// FleetReader is the slice of the registry the MCP server needs.
type FleetReader interface {
	List() []agent.Info
	Get(id string) (agent.Info, error)
}

// ScalerReader reports autoscaler statistics.
type ScalerReader interface {
	Snapshot() fleet.Stats
}

// ServerDeps carries the read-only collaborators for the tool handlers.
// Nil members make the corresponding tools answer with an error result
// instead of panicking.
type ServerDeps struct {
	Fleet  FleetReader
	Scaler ScalerReader
}

// ServerConfig identifies the server to MCP clients.
type ServerConfig struct {
	Name    string
	Version string
}

// Server wraps an MCP server speaking the streamable HTTP transport.
type Server struct {
	mcpServer *mcpserver.MCPServer
	httpSrv   *mcpserver.StreamableHTTPServer
	deps      ServerDeps
}

// NewServer builds the control-plane server with all tools and resources
// registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{deps: deps}
	s.mcpServer = mcpserver.NewMCPServer(cfg.Name, cfg.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
	)
	s.registerTools()
	s.registerResources()
	s.httpSrv = mcpserver.NewStreamableHTTPServer(s.mcpServer)
	return s
}

// Handler returns the HTTP handler for mounting under the API router. Auth
// and rate limiting come from the router's middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpSrv
}

// MCPServer exposes the underlying MCP server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
