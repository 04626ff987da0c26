package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultJWTExpiresIn = "24h"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "vion"
	DefaultPGSSLMode    = "disable"
	DefaultContextDepth = 6
	DefaultUsageQueue   = 256
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Providers ProvidersConfig `toml:"providers"`
	Usage     UsageConfig     `toml:"usage"`
	Notify    NotifyConfig    `toml:"notify"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// PublicBaseURL is the externally reachable origin used when
	// registering platform webhooks (e.g. Telegram setWebhook).
	PublicBaseURL string `toml:"public_base_url"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
	// AdminPasswordHash is a bcrypt digest; plaintext passwords never
	// appear in configuration.
	AdminUsername     string `toml:"admin_username"`
	AdminPasswordHash string `toml:"admin_password_hash"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN renders the pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// ProviderConfig holds the credentials for one generation provider.
// A provider with an empty APIKey is treated as not configured and is
// skipped by the router.
type ProviderConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

// Configured reports whether the provider can be invoked.
func (p ProviderConfig) Configured() bool {
	return p.APIKey != ""
}

type ProvidersConfig struct {
	// Order is the failover priority. Unknown names are rejected at startup.
	Order        []string       `toml:"order"`
	ContextDepth int            `toml:"context_depth"`
	SystemPrompt string         `toml:"system_prompt"`
	OpenAI       ProviderConfig `toml:"openai"`
	Anthropic    ProviderConfig `toml:"anthropic"`
	Google       ProviderConfig `toml:"google"`
}

type UsageConfig struct {
	QueueSize int `toml:"queue_size"`
}

type NotifyConfig struct {
	MailgunDomain string `toml:"mailgun_domain"`
	MailgunAPIKey string `toml:"mailgun_api_key"`
	From          string `toml:"from"`
	OperatorEmail string `toml:"operator_email"`
}

// Enabled reports whether operator notifications should be sent.
func (c NotifyConfig) Enabled() bool {
	return c.MailgunDomain != "" && c.MailgunAPIKey != "" && c.OperatorEmail != ""
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn:  DefaultJWTExpiresIn,
			AdminUsername: "admin",
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Providers: ProvidersConfig{
			Order:        []string{"openai", "anthropic", "google"},
			ContextDepth: DefaultContextDepth,
		},
		Usage: UsageConfig{
			QueueSize: DefaultUsageQueue,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
