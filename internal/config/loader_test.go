package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("expected max_conns 15, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Engine.MaxIterations != 10 {
		t.Errorf("expected max_iterations 10, got %d", cfg.Engine.MaxIterations)
	}
	if cfg.Engine.DelegationDepthCap != 2 {
		t.Errorf("expected delegation_depth_cap 2, got %d", cfg.Engine.DelegationDepthCap)
	}
	if cfg.Sandbox.IdleThreshold != 30*time.Minute {
		t.Errorf("expected idle_threshold 30m, got %v", cfg.Sandbox.IdleThreshold)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
engine:
  max_iterations: 25
  tool_result_max_chars: 2000
sandbox:
  image: "node:22-slim"
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Engine.MaxIterations != 25 {
		t.Errorf("expected max_iterations 25, got %d", cfg.Engine.MaxIterations)
	}
	if cfg.Engine.ToolResultMaxChars != 2000 {
		t.Errorf("expected tool_result_max_chars 2000, got %d", cfg.Engine.ToolResultMaxChars)
	}
	if cfg.Sandbox.Image != "node:22-slim" {
		t.Errorf("expected node image, got %s", cfg.Sandbox.Image)
	}
	// Unchanged fields keep defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("CHAINFORGE_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("CHAINFORGE_MAX_ITERATIONS", "30")
	t.Setenv("CHAINFORGE_SANDBOX_IDLE_THRESHOLD", "1h")
	t.Setenv("CHAINFORGE_LOG_LEVEL", "warn")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Engine.MaxIterations != 30 {
		t.Errorf("expected max_iterations 30, got %d", cfg.Engine.MaxIterations)
	}
	if cfg.Sandbox.IdleThreshold != time.Hour {
		t.Errorf("expected idle_threshold 1h, got %v", cfg.Sandbox.IdleThreshold)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "empty DSN",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "empty NATS URL",
			modify: func(c *Config) { c.NATS.URL = "" },
			errMsg: "nats.url is required",
		},
		{
			name:   "zero max iterations",
			modify: func(c *Config) { c.Engine.MaxIterations = 0 },
			errMsg: "engine.max_iterations must be >= 1",
		},
		{
			name:   "negative depth cap",
			modify: func(c *Config) { c.Engine.DelegationDepthCap = -1 },
			errMsg: "engine.delegation_depth_cap must be >= 0",
		},
		{
			name:   "empty artifact dir",
			modify: func(c *Config) { c.Artifact.Dir = "" },
			errMsg: "artifact.dir is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"--port", "9090", "--log-level", "debug"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "9090" {
		t.Errorf("expected port 9090, got %v", flags.Port)
	}
	if flags.LogLevel == nil || *flags.LogLevel != "debug" {
		t.Errorf("expected log-level debug, got %v", flags.LogLevel)
	}
	if flags.DSN != nil {
		t.Errorf("expected nil DSN, got %v", *flags.DSN)
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	t.Setenv("CHAINFORGE_PORT", "7070")

	flags, err := ParseFlags([]string{"--port", "3333"})
	if err != nil {
		t.Fatal(err)
	}

	cfg, _, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "3333" {
		t.Errorf("expected CLI port 3333 to override ENV 7070, got %s", cfg.Server.Port)
	}
}
