package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8087" {
		t.Errorf("expected port 8087, got %s", cfg.Server.Port)
	}
	if cfg.Archive.Driver != "memory" {
		t.Errorf("expected memory archive, got %s", cfg.Archive.Driver)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Coordinator.Backoff != "exponential" {
		t.Errorf("expected exponential backoff, got %s", cfg.Coordinator.Backoff)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
archive:
  driver: "postgres"
monitor:
  interval: 5s
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
	if cfg.Archive.Driver != "postgres" {
		t.Errorf("expected postgres archive, got %s", cfg.Archive.Driver)
	}
	if cfg.Monitor.Interval != 5*time.Second {
		t.Errorf("expected monitor interval 5s, got %v", cfg.Monitor.Interval)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("AGENTPOD_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("AGENTPOD_LOG_LEVEL", "warn")
	t.Setenv("AGENTPOD_BREAKER_TIMEOUT", "1m")
	t.Setenv("AGENTPOD_COORD_MAX_RETRIES", "7")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Coordinator.MaxRetries != 7 {
		t.Errorf("expected max retries 7, got %d", cfg.Coordinator.MaxRetries)
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
			name:   "empty NATS URL",
			modify: func(c *Config) { c.NATS.URL = "" },
			errMsg: "nats.url is required",
		},
		{
			name: "postgres archive without DSN",
			modify: func(c *Config) {
				c.Archive.Driver = "postgres"
				c.Postgres.DSN = ""
			},
			errMsg: "postgres.dsn is required for the postgres archive",
		},
		{
			name:   "unknown archive driver",
			modify: func(c *Config) { c.Archive.Driver = "redis" },
			errMsg: `archive.driver "redis" is not supported`,
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "zero coordinator retries",
			modify: func(c *Config) { c.Coordinator.MaxRetries = 0 },
			errMsg: "coordinator.max_retries must be >= 1",
		},
		{
			name:   "bad backoff",
			modify: func(c *Config) { c.Coordinator.Backoff = "quadratic" },
			errMsg: `coordinator.backoff "quadratic" is not supported`,
		},
		{
			name:   "unknown dispatch driver",
			modify: func(c *Config) { c.Dispatch.Driver = "carrier-pigeon" },
			errMsg: `dispatch.driver "carrier-pigeon" is not supported`,
		},
		{
			name:   "mcp server without name",
			modify: func(c *Config) { c.MCP.Servers = []MCPServer{{Transport: "stdio"}} },
			errMsg: "mcp.servers[0].name is required",
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

func TestValidateInprocNeedsNoNATS(t *testing.T) {
	cfg := Defaults()
	cfg.Dispatch.Driver = "inproc"
	cfg.NATS.URL = ""
	if err := validate(&cfg); err != nil {
		t.Errorf("inproc dispatch must not require a NATS URL, got %v", err)
	}
}

func TestLoadYAMLMCPServers(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "mcp.yaml")

	content := `
mcp:
  servers:
    - name: "search"
      transport: "stdio"
      command: "search-server"
      args: ["--fast"]
    - name: "docs"
      transport: "sse"
      url: "https://docs.example.com/mcp"
      headers:
        Authorization: "Bearer token"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if len(cfg.MCP.Servers) != 2 {
		t.Fatalf("parsed %d MCP servers, want 2", len(cfg.MCP.Servers))
	}
	first := cfg.MCP.Servers[0]
	if first.Name != "search" || first.Transport != "stdio" || first.Command != "search-server" {
		t.Errorf("unexpected first server: %+v", first)
	}
	if len(first.Args) != 1 || first.Args[0] != "--fast" {
		t.Errorf("unexpected args: %v", first.Args)
	}
	second := cfg.MCP.Servers[1]
	if second.URL != "https://docs.example.com/mcp" {
		t.Errorf("unexpected second server URL: %s", second.URL)
	}
	if second.Headers["Authorization"] != "Bearer token" {
		t.Errorf("unexpected headers: %v", second.Headers)
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
	// Unset flags remain nil
	if flags.DSN != nil {
		t.Errorf("expected nil DSN, got %v", *flags.DSN)
	}
	if flags.ConfigPath != nil {
		t.Errorf("expected nil ConfigPath, got %v", *flags.ConfigPath)
	}
}

func TestParseFlagsShorthand(t *testing.T) {
	flags, err := ParseFlags([]string{"-p", "7070", "-c", "custom.yaml"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "7070" {
		t.Errorf("expected port 7070, got %v", flags.Port)
	}
	if flags.ConfigPath == nil || *flags.ConfigPath != "custom.yaml" {
		t.Errorf("expected config custom.yaml, got %v", flags.ConfigPath)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	_, err := ParseFlags([]string{"--unknown-flag"})
	if err == nil {
		t.Error("expected error for unknown flag, got nil")
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	// CLI flags must win over ENV.
	t.Setenv("AGENTPOD_PORT", "7070")
	t.Setenv("AGENTPOD_LOG_LEVEL", "warn")

	flags, err := ParseFlags([]string{"--port", "3333", "--log-level", "error"})
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
	if cfg.Logging.Level != "error" {
		t.Errorf("expected CLI log-level error to override ENV warn, got %s", cfg.Logging.Level)
	}
}

func TestLoadWithCLICustomConfig(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "custom.yaml")
	content := `
server:
  port: "5555"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	flags, err := ParseFlags([]string{"--config", yamlPath})
	if err != nil {
		t.Fatal(err)
	}

	cfg, resolvedPath, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}

	if resolvedPath != yamlPath {
		t.Errorf("expected resolved path %s, got %s", yamlPath, resolvedPath)
	}
	if cfg.Server.Port != "5555" {
		t.Errorf("expected port 5555 from custom YAML, got %s", cfg.Server.Port)
	}
}
