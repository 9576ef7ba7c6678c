// Package mcp defines domain types for the MCP tool-server pool: the server
// catalog, per-agent-kind requirements, and lifecycle states.
package mcp

import "time"

// ServerKind identifies a provisionable MCP server type.
type ServerKind string

const (
	KindFilesystem  ServerKind = "filesystem"
	KindMemory      ServerKind = "memory"
	KindGit         ServerKind = "git"
	KindGitHub      ServerKind = "github"
	KindPostgres    ServerKind = "postgres"
	KindSQLite      ServerKind = "sqlite"
	KindBraveSearch ServerKind = "brave_search"
	KindPuppeteer   ServerKind = "puppeteer"
	KindSlack       ServerKind = "slack"
)

// ServerStatus represents the lifecycle state of a pooled MCP server.
type ServerStatus string

const (
	ServerStarting ServerStatus = "starting"
	ServerRunning  ServerStatus = "running"
	ServerStopping ServerStatus = "stopping"
	ServerStopped  ServerStatus = "stopped"
	ServerError    ServerStatus = "error"
)

// ServerConfig describes how one MCP server kind is provisioned.
type ServerConfig struct {
	Kind                ServerKind        `json:"kind"`
	Command             string            `json:"command"`
	Args                []string          `json:"args,omitempty"`
	Env                 map[string]string `json:"env,omitempty"`
	RequiredEnv         []string          `json:"required_env,omitempty"`
	Optional            bool              `json:"optional"`
	Shared              bool              `json:"shared"`
	MaxConnections      int               `json:"max_connections"`
	HealthCheckInterval time.Duration     `json:"health_check_interval"`
	IdleTimeout         time.Duration     `json:"idle_timeout"`
}

// ServerInfo is the externally visible snapshot of one pooled server.
type ServerInfo struct {
	ID              string       `json:"id"`
	Kind            ServerKind   `json:"kind"`
	Status          ServerStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	LastHealthCheck time.Time    `json:"last_health_check,omitzero"`
	ConnectedAgents []string     `json:"connected_agents"`
	ConnectionCount int          `json:"connection_count"`
	Endpoint        string       `json:"endpoint,omitempty"`
	ErrorMessage    string       `json:"error_message,omitempty"`
}

// catalog holds the provisioning configuration for every known server kind.
var catalog = map[ServerKind]ServerConfig{
	KindFilesystem: {
		Kind: KindFilesystem, Command: "npx",
		Args:   []string{"-y", "@modelcontextprotocol/server-filesystem"},
		Shared: true, MaxConnections: 50,
		HealthCheckInterval: 30 * time.Second, IdleTimeout: 5 * time.Minute,
	},
	KindMemory: {
		Kind: KindMemory, Command: "npx",
		Args:   []string{"-y", "@modelcontextprotocol/server-memory"},
		Shared: true, MaxConnections: 100,
		HealthCheckInterval: 30 * time.Second, IdleTimeout: 5 * time.Minute,
	},
	KindGit: {
		Kind: KindGit, Command: "npx",
		Args:   []string{"-y", "@modelcontextprotocol/server-git"},
		Shared: true, MaxConnections: 20,
		HealthCheckInterval: 30 * time.Second, IdleTimeout: 5 * time.Minute,
	},
	KindGitHub: {
		Kind: KindGitHub, Command: "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-github"},
		RequiredEnv: []string{"GITHUB_TOKEN"},
		Optional:    true, Shared: true, MaxConnections: 10,
		HealthCheckInterval: 30 * time.Second, IdleTimeout: 5 * time.Minute,
	},
	KindPostgres: {
		Kind: KindPostgres, Command: "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-postgres"},
		RequiredEnv: []string{"POSTGRES_URL"},
		Optional:    true, Shared: true, MaxConnections: 20,
		HealthCheckInterval: 30 * time.Second, IdleTimeout: 5 * time.Minute,
	},
	KindSQLite: {
		Kind: KindSQLite, Command: "npx",
		Args:   []string{"-y", "@modelcontextprotocol/server-sqlite"},
		Shared: true, MaxConnections: 10,
		HealthCheckInterval: 30 * time.Second, IdleTimeout: 5 * time.Minute,
	},
	KindBraveSearch: {
		Kind: KindBraveSearch, Command: "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-brave-search"},
		RequiredEnv: []string{"BRAVE_API_KEY"},
		Optional:    true, Shared: true, MaxConnections: 50,
		HealthCheckInterval: 30 * time.Second, IdleTimeout: 5 * time.Minute,
	},
	KindPuppeteer: {
		// Each agent gets its own browser instance.
		Kind: KindPuppeteer, Command: "npx",
		Args:   []string{"-y", "@modelcontextprotocol/server-puppeteer"},
		Shared: false, MaxConnections: 1,
		HealthCheckInterval: 30 * time.Second, IdleTimeout: 5 * time.Minute,
	},
	KindSlack: {
		Kind: KindSlack, Command: "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-slack"},
		RequiredEnv: []string{"SLACK_BOT_TOKEN"},
		Optional:    true, Shared: true, MaxConnections: 10,
		HealthCheckInterval: 30 * time.Second, IdleTimeout: 5 * time.Minute,
	},
}

// requirements maps agent kinds to the MCP servers they need.
var requirements = map[string][]ServerKind{
	"general":            {KindFilesystem, KindMemory},
	"research":           {KindFilesystem, KindMemory, KindBraveSearch},
	"code":               {KindFilesystem, KindGit, KindGitHub},
	"finance":            {KindFilesystem, KindMemory, KindBraveSearch},
	"customer_support":   {KindMemory, KindSlack},
	"personal_assistant": {KindFilesystem, KindMemory},
	"data_analysis":      {KindFilesystem, KindSQLite},
	"custom":             {KindFilesystem},
}

// ConfigFor returns the catalog entry for kind. The second return is false
// for unknown kinds.
func ConfigFor(kind ServerKind) (ServerConfig, bool) {
	cfg, ok := catalog[kind]
	return cfg, ok
}

// ServersForAgentKind returns the MCP server kinds an agent kind requires.
func ServersForAgentKind(agentKind string) []ServerKind {
	return requirements[agentKind]
}

// ValidateEnv reports whether every required environment variable for the
// server kind is present and non-empty in env.
func ValidateEnv(kind ServerKind, env map[string]string) bool {
	cfg, ok := catalog[kind]
	if !ok {
		return false
	}
	for _, key := range cfg.RequiredEnv {
		if env[key] == "" {
			return false
		}
	}
	return true
}
