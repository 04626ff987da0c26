package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != DefaultHTTPAddr {
		t.Fatalf("unexpected addr: %q", cfg.Server.Addr)
	}
	if cfg.Postgres.Database != DefaultPGDatabase || cfg.Postgres.Port != DefaultPGPort {
		t.Fatalf("unexpected postgres defaults: %+v", cfg.Postgres)
	}
	if len(cfg.Providers.Order) != 3 || cfg.Providers.Order[0] != "openai" {
		t.Fatalf("unexpected provider order: %v", cfg.Providers.Order)
	}
	if cfg.Usage.QueueSize != DefaultUsageQueue {
		t.Fatalf("unexpected queue size: %d", cfg.Usage.QueueSize)
	}
}

func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
addr = ":9090"
public_base_url = "https://bots.example.com"

[providers]
order = ["anthropic"]

[providers.anthropic]
api_key = "sk-ant-1"
model = "claude-sonnet-4-20250514"

[notify]
mailgun_domain = "mg.example.com"
mailgun_api_key = "key-1"
operator_email = "ops@example.com"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.PublicBaseURL != "https://bots.example.com" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if len(cfg.Providers.Order) != 1 || cfg.Providers.Order[0] != "anthropic" {
		t.Fatalf("unexpected provider order: %v", cfg.Providers.Order)
	}
	if !cfg.Providers.Anthropic.Configured() || cfg.Providers.OpenAI.Configured() {
		t.Fatalf("unexpected provider configuration: %+v", cfg.Providers)
	}
	// Untouched sections keep their defaults.
	if cfg.Postgres.Host != DefaultPGHost {
		t.Fatalf("unexpected postgres host: %q", cfg.Postgres.Host)
	}
	if !cfg.Notify.Enabled() {
		t.Fatalf("expected notify enabled: %+v", cfg.Notify)
	}
}

func TestPostgresDSN(t *testing.T) {
	t.Parallel()

	dsn := PostgresConfig{
		Host: "db.internal", Port: 5433, User: "vion", Password: "pw",
		Database: "vion", SSLMode: "require",
	}.DSN()
	want := "postgres://vion:pw@db.internal:5433/vion?sslmode=require"
	if dsn != want {
		t.Fatalf("dsn=%q want=%q", dsn, want)
	}
}
