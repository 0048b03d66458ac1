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
const DefaultConfigFile = "agentpod.yaml"

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
	setString(&cfg.Server.Port, "AGENTPOD_PORT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTPOD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AGENTPOD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AGENTPOD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AGENTPOD_PG_MAX_CONN_IDLE_TIME")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Dispatch.Driver, "AGENTPOD_DISPATCH_DRIVER")
	setString(&cfg.Archive.Driver, "AGENTPOD_ARCHIVE_DRIVER")
	setString(&cfg.Logging.Level, "AGENTPOD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTPOD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AGENTPOD_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "AGENTPOD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTPOD_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxCostMB, "AGENTPOD_CACHE_MAX_COST_MB")
	setDuration(&cfg.Coordinator.AckTimeout, "AGENTPOD_COORD_ACK_TIMEOUT")
	setInt(&cfg.Coordinator.MaxRetries, "AGENTPOD_COORD_MAX_RETRIES")
	setDuration(&cfg.Coordinator.RetryDelay, "AGENTPOD_COORD_RETRY_DELAY")
	setString(&cfg.Coordinator.Backoff, "AGENTPOD_COORD_BACKOFF")
	setDuration(&cfg.Monitor.Interval, "AGENTPOD_MONITOR_INTERVAL")
	setDuration(&cfg.Monitor.SlowExecution, "AGENTPOD_MONITOR_SLOW_EXECUTION")
	setInt(&cfg.Monitor.MaxErrorCount, "AGENTPOD_MONITOR_MAX_ERRORS")
	setString(&cfg.Telemetry.Endpoint, "AGENTPOD_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.Service, "AGENTPOD_OTLP_SERVICE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Dispatch.Driver {
	case "inproc":
	case "nats":
		if cfg.NATS.URL == "" {
			return errors.New("nats.url is required")
		}
	default:
		return fmt.Errorf("dispatch.driver %q is not supported", cfg.Dispatch.Driver)
	}
	switch cfg.Archive.Driver {
	case "memory":
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres archive")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	default:
		return fmt.Errorf("archive.driver %q is not supported", cfg.Archive.Driver)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Coordinator.MaxRetries < 1 {
		return errors.New("coordinator.max_retries must be >= 1")
	}
	switch cfg.Coordinator.Backoff {
	case "fixed", "linear", "exponential":
	default:
		return fmt.Errorf("coordinator.backoff %q is not supported", cfg.Coordinator.Backoff)
	}
	if cfg.Monitor.Interval <= 0 {
		return errors.New("monitor.interval must be positive")
	}
	for i, s := range cfg.MCP.Servers {
		if s.Name == "" {
			return fmt.Errorf("mcp.servers[%d].name is required", i)
		}
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

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
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
