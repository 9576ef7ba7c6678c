// Package config provides hierarchical configuration loading for agentfleet.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the agentfleet service.
type Config struct {
	Server    Server    `yaml:"server"`
	Fleet     Fleet     `yaml:"fleet"`
	Autoscale Autoscale `yaml:"autoscale"`
	Runtime   Runtime   `yaml:"runtime"`
	MCP       MCP       `yaml:"mcp"`
	NATS      NATS      `yaml:"nats"`
	Cache     Cache     `yaml:"cache"`
	Auth      Auth      `yaml:"auth"`
	Rate      Rate      `yaml:"rate"`
	Breaker   Breaker   `yaml:"breaker"`
	Logging   Logging   `yaml:"logging"`
	Otel      Otel      `yaml:"otel"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Fleet holds agent lifecycle configuration.
type Fleet struct {
	MaxAgents           int           `yaml:"max_agents"`
	MinAgents           int           `yaml:"min_agents"`
	StartTimeout        time.Duration `yaml:"start_timeout"`
	MessageTimeout      time.Duration `yaml:"message_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	HealthTimeout       time.Duration `yaml:"health_timeout"`
	IdleCheckInterval   time.Duration `yaml:"idle_check_interval"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	MaxRecoveryAttempts int           `yaml:"max_recovery_attempts"`
	RecoveryBackoffBase time.Duration `yaml:"recovery_backoff_base"`
	HistoryLimit        int           `yaml:"history_limit"`
	DefaultWorkingDir   string        `yaml:"default_working_dir"`
	EnableAutoRecovery  bool          `yaml:"enable_auto_recovery"`
	MaxConcurrentStarts int           `yaml:"max_concurrent_starts"`
}

// Autoscale holds fleet autoscaler configuration.
type Autoscale struct {
	Enabled            bool          `yaml:"enabled"`
	ScaleUpThreshold   float64       `yaml:"scale_up_threshold"`
	ScaleDownThreshold float64       `yaml:"scale_down_threshold"`
	Cooldown           time.Duration `yaml:"cooldown"`
	Interval           time.Duration `yaml:"interval"`
	Window             time.Duration `yaml:"window"`
}

// Runtime holds wrapped agent runtime configuration.
type Runtime struct {
	Command string `yaml:"command"` // runtime binary, resolved via PATH
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
}

// MCP holds MCP pool and control-plane server configuration.
type MCP struct {
	Enabled                bool `yaml:"enabled"`
	ControlServerEnabled   bool `yaml:"control_server_enabled"`
	EnableHealthMonitoring bool `yaml:"enable_health_monitoring"`
}

// NATS holds the optional fleet event publisher configuration.
type NATS struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// Cache holds the quick-query response cache configuration.
type Cache struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	TTL       time.Duration `yaml:"ttl"`
}

// Auth holds API key authentication configuration.
type Auth struct {
	Enabled    bool   `yaml:"enabled"`
	APIKeyHash string `yaml:"api_key_hash"` // bcrypt hash, produced by `agentfleet admin hash-key`
}

// Rate holds rate limiter configuration.
type Rate struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Breaker holds circuit breaker configuration for the session adapter.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Otel holds OpenTelemetry exporter configuration.
type Otel struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Fleet: Fleet{
			MaxAgents:           100,
			MinAgents:           1,
			StartTimeout:        30 * time.Second,
			MessageTimeout:      5 * time.Minute,
			HealthCheckInterval: 30 * time.Second,
			HealthTimeout:       time.Hour,
			IdleCheckInterval:   time.Minute,
			IdleTimeout:         2 * time.Hour,
			MaxRecoveryAttempts: 3,
			RecoveryBackoffBase: 2 * time.Second,
			HistoryLimit:        200,
			DefaultWorkingDir:   "/tmp/agentfleet",
			EnableAutoRecovery:  true,
			MaxConcurrentStarts: 8,
		},
		Autoscale: Autoscale{
			Enabled:            true,
			ScaleUpThreshold:   0.8,
			ScaleDownThreshold: 0.3,
			Cooldown:           2 * time.Minute,
			Interval:           30 * time.Second,
			Window:             5 * time.Minute,
		},
		Runtime: Runtime{
			Command: "claude",
			Model:   "claude-sonnet-4-5-20250929",
		},
		MCP: MCP{
			Enabled:                true,
			ControlServerEnabled:   false,
			EnableHealthMonitoring: true,
		},
		NATS: NATS{
			Enabled: false,
			URL:     "nats://localhost:4222",
		},
		Cache: Cache{
			MaxSizeMB: 64,
			TTL:       5 * time.Minute,
		},
		Auth: Auth{
			Enabled: false,
		},
		Rate: Rate{
			RequestsPerSecond: 10,
			Burst:             100,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Logging: Logging{
			Level:   "info",
			Service: "agentfleet",
			Async:   false,
		},
		Otel: Otel{
			Enabled:  false,
			Endpoint: "localhost:4317",
		},
	}
}
