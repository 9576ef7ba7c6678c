// Package mcppool provisions and pools MCP tool servers for fleet agents:
// shared servers are reused across agents with connection accounting,
// exclusive servers get one instance per agent.
package mcppool

import (
	"context"
	"fmt"
	"os"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpspec "github.com/mark3labs/mcp-go/mcp"

	"github.com/agentfleet/agentfleet/internal/domain/mcp"
)

// Conn is one live connection to a provisioned MCP server process.
type Conn interface {
	Ping(ctx context.Context) error
	Close() error
}

// Connector launches MCP server processes and returns live connections.
type Connector interface {
	Connect(ctx context.Context, cfg mcp.ServerConfig) (Conn, error)
}

// StdioConnector launches MCP servers as subprocesses speaking stdio.
type StdioConnector struct{}

// NewStdioConnector returns the production connector.
func NewStdioConnector() *StdioConnector { return &StdioConnector{} }

// Connect spawns the server process and completes the MCP handshake.
func (c *StdioConnector) Connect(ctx context.Context, cfg mcp.ServerConfig) (Conn, error) {
	env := make([]string, 0, len(cfg.Env)+len(cfg.RequiredEnv))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	// Required variables are forwarded from the service's own environment;
	// they were validated before provisioning.
	for _, key := range cfg.RequiredEnv {
		if v := os.Getenv(key); v != "" {
			env = append(env, key+"="+v)
		}
	}

	cl, err := mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("spawn %s server: %w", cfg.Kind, err)
	}

	var initReq mcpspec.InitializeRequest
	initReq.Params.ProtocolVersion = mcpspec.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpspec.Implementation{
		Name:    "agentfleet",
		Version: "1.0.0",
	}
	if _, err := cl.Initialize(ctx, initReq); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("initialize %s server: %w", cfg.Kind, err)
	}

	return cl, nil
}
