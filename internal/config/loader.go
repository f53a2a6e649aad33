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
const DefaultConfigFile = "chainforge.yaml"

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
	setString(&cfg.Server.Port, "CHAINFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "CHAINFORGE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CHAINFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CHAINFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CHAINFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CHAINFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CHAINFORGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.Logging.Level, "CHAINFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CHAINFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CHAINFORGE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "CHAINFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CHAINFORGE_BREAKER_TIMEOUT")

	// Engine
	setInt(&cfg.Engine.MaxIterations, "CHAINFORGE_MAX_ITERATIONS")
	setDuration(&cfg.Engine.SessionTimeout, "CHAINFORGE_SESSION_TIMEOUT")
	setInt(&cfg.Engine.ToolResultMaxChars, "CHAINFORGE_TOOL_RESULT_MAX_CHARS")
	setInt(&cfg.Engine.RepThreshold, "CHAINFORGE_REPETITION_THRESHOLD")
	setInt(&cfg.Engine.DelegationDepthCap, "CHAINFORGE_DELEGATION_DEPTH_CAP")
	setInt(&cfg.Engine.MaxSessionsPerUser, "CHAINFORGE_MAX_SESSIONS_PER_USER")
	setInt(&cfg.Engine.ProviderRetries, "CHAINFORGE_PROVIDER_RETRIES")

	// Sandbox
	setString(&cfg.Sandbox.Image, "CHAINFORGE_SANDBOX_IMAGE")
	setInt(&cfg.Sandbox.MemoryMB, "CHAINFORGE_SANDBOX_MEMORY_MB")
	setInt(&cfg.Sandbox.CPUQuota, "CHAINFORGE_SANDBOX_CPU_QUOTA")
	setInt(&cfg.Sandbox.PidsLimit, "CHAINFORGE_SANDBOX_PIDS_LIMIT")
	setString(&cfg.Sandbox.NetworkMode, "CHAINFORGE_SANDBOX_NETWORK")
	setDuration(&cfg.Sandbox.ExecTimeout, "CHAINFORGE_SANDBOX_EXEC_TIMEOUT")
	setDuration(&cfg.Sandbox.IdleThreshold, "CHAINFORGE_SANDBOX_IDLE_THRESHOLD")
	setDuration(&cfg.Sandbox.ReapInterval, "CHAINFORGE_SANDBOX_REAP_INTERVAL")

	// Artifact / cache
	setString(&cfg.Artifact.Dir, "CHAINFORGE_ARTIFACT_DIR")
	setInt64(&cfg.Cache.MaxSizeMB, "CHAINFORGE_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "CHAINFORGE_CACHE_TTL")

	// Telemetry
	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Engine.MaxIterations < 1 {
		return errors.New("engine.max_iterations must be >= 1")
	}
	if cfg.Engine.DelegationDepthCap < 0 {
		return errors.New("engine.delegation_depth_cap must be >= 0")
	}
	if cfg.Sandbox.MemoryMB < 1 {
		return errors.New("sandbox.memory_mb must be >= 1")
	}
	if cfg.Artifact.Dir == "" {
		return errors.New("artifact.dir is required")
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
