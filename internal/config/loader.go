package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agentfleet.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "AGENTFLEET_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTFLEET_CORS_ORIGIN")

	setInt(&cfg.Fleet.MaxAgents, "AGENTFLEET_MAX_AGENTS")
	setInt(&cfg.Fleet.MinAgents, "AGENTFLEET_MIN_AGENTS")
	setDuration(&cfg.Fleet.StartTimeout, "AGENTFLEET_START_TIMEOUT")
	setDuration(&cfg.Fleet.MessageTimeout, "AGENTFLEET_MESSAGE_TIMEOUT")
	setDuration(&cfg.Fleet.HealthCheckInterval, "AGENTFLEET_HEALTH_CHECK_INTERVAL")
	setDuration(&cfg.Fleet.HealthTimeout, "AGENTFLEET_HEALTH_TIMEOUT")
	setDuration(&cfg.Fleet.IdleCheckInterval, "AGENTFLEET_IDLE_CHECK_INTERVAL")
	setDuration(&cfg.Fleet.IdleTimeout, "AGENTFLEET_IDLE_TIMEOUT")
	setInt(&cfg.Fleet.MaxRecoveryAttempts, "AGENTFLEET_MAX_RECOVERY_ATTEMPTS")
	setDuration(&cfg.Fleet.RecoveryBackoffBase, "AGENTFLEET_RECOVERY_BACKOFF_BASE")
	setInt(&cfg.Fleet.HistoryLimit, "AGENTFLEET_HISTORY_LIMIT")
	setString(&cfg.Fleet.DefaultWorkingDir, "AGENTFLEET_WORKING_DIR")
	setBool(&cfg.Fleet.EnableAutoRecovery, "AGENTFLEET_AUTO_RECOVERY")
	setInt(&cfg.Fleet.MaxConcurrentStarts, "AGENTFLEET_MAX_CONCURRENT_STARTS")

	setBool(&cfg.Autoscale.Enabled, "AGENTFLEET_AUTOSCALE_ENABLED")
	setFloat64(&cfg.Autoscale.ScaleUpThreshold, "AGENTFLEET_SCALE_UP_THRESHOLD")
	setFloat64(&cfg.Autoscale.ScaleDownThreshold, "AGENTFLEET_SCALE_DOWN_THRESHOLD")
	setDuration(&cfg.Autoscale.Cooldown, "AGENTFLEET_AUTOSCALE_COOLDOWN")
	setDuration(&cfg.Autoscale.Interval, "AGENTFLEET_AUTOSCALE_INTERVAL")
	setDuration(&cfg.Autoscale.Window, "AGENTFLEET_AUTOSCALE_WINDOW")

	setString(&cfg.Runtime.Command, "AGENTFLEET_RUNTIME_COMMAND")
	setString(&cfg.Runtime.Model, "AGENTFLEET_RUNTIME_MODEL")
	setString(&cfg.Runtime.APIKey, "ANTHROPIC_API_KEY")

	setBool(&cfg.MCP.Enabled, "AGENTFLEET_MCP_ENABLED")
	setBool(&cfg.MCP.ControlServerEnabled, "AGENTFLEET_MCP_CONTROL_SERVER")
	setBool(&cfg.MCP.EnableHealthMonitoring, "AGENTFLEET_MCP_HEALTH_MONITORING")

	setBool(&cfg.NATS.Enabled, "AGENTFLEET_NATS_ENABLED")
	setString(&cfg.NATS.URL, "NATS_URL")

	setInt64(&cfg.Cache.MaxSizeMB, "AGENTFLEET_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "AGENTFLEET_CACHE_TTL")

	setBool(&cfg.Auth.Enabled, "AGENTFLEET_AUTH_ENABLED")
	setString(&cfg.Auth.APIKeyHash, "AGENTFLEET_API_KEY_HASH")

	setFloat64(&cfg.Rate.RequestsPerSecond, "AGENTFLEET_RATE_RPS")
	setInt(&cfg.Rate.Burst, "AGENTFLEET_RATE_BURST")

	setInt(&cfg.Breaker.MaxFailures, "AGENTFLEET_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTFLEET_BREAKER_TIMEOUT")

	setString(&cfg.Logging.Level, "AGENTFLEET_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTFLEET_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AGENTFLEET_LOG_ASYNC")

	setBool(&cfg.Otel.Enabled, "AGENTFLEET_OTEL_ENABLED")
	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set and coherent.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Fleet.MaxAgents < 1 {
		return errors.New("fleet.max_agents must be >= 1")
	}
	if cfg.Fleet.MinAgents < 0 || cfg.Fleet.MinAgents > cfg.Fleet.MaxAgents {
		return errors.New("fleet.min_agents must be between 0 and fleet.max_agents")
	}
	if cfg.Fleet.MaxRecoveryAttempts < 0 {
		return errors.New("fleet.max_recovery_attempts must be >= 0")
	}
	if cfg.Fleet.HistoryLimit < 1 {
		return errors.New("fleet.history_limit must be >= 1")
	}
	if cfg.Autoscale.ScaleUpThreshold <= cfg.Autoscale.ScaleDownThreshold {
		return errors.New("autoscale.scale_up_threshold must exceed autoscale.scale_down_threshold")
	}
	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return errors.New("nats.url is required when nats.enabled")
	}
	if cfg.Auth.Enabled && cfg.Auth.APIKeyHash == "" {
		return errors.New("auth.api_key_hash is required when auth.enabled")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
