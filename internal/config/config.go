// Package config loads the engine configuration from a YAML file with
// environment-variable overrides for secrets. A local .env file is honored
// in development via godotenv.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the outreach engine process.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Redis     RedisConfig      `yaml:"redis"`
	Engine    EngineConfig     `yaml:"engine"`
	Providers []ProviderConfig `yaml:"providers"`
	Inbound   InboundConfig    `yaml:"inbound"`
}

// ServerConfig holds the HTTP control server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis settings used for the scanner lease.
// Leave Addr empty to fall back to Postgres advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EngineConfig tunes the follow-up scanner.
type EngineConfig struct {
	TickIntervalSeconds int  `yaml:"tick_interval_seconds"`
	ErrorBackoffSeconds int  `yaml:"error_backoff_seconds"`
	LeaseEnabled        bool `yaml:"lease_enabled"`
	AutoStart           bool `yaml:"auto_start"`
}

// ProviderConfig describes one sending mailbox. Type selects the adapter:
// "smtp" or "ses".
type ProviderConfig struct {
	ID        string `yaml:"id"`
	Type      string `yaml:"type"`
	FromName  string `yaml:"from_name"`
	FromEmail string `yaml:"from_email"`

	// SMTP settings
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`

	// SES settings
	SESRegion    string `yaml:"ses_region"`
	SESAccessKey string `yaml:"ses_access_key"`
	SESSecretKey string `yaml:"ses_secret_key"`
}

// InboundConfig describes the IMAP inbox poller that feeds received replies
// into prospect threads.
type InboundConfig struct {
	Enabled             bool            `yaml:"enabled"`
	PollIntervalSeconds int             `yaml:"poll_interval_seconds"`
	Mailboxes           []MailboxConfig `yaml:"mailboxes"`
}

// MailboxConfig is one IMAP mailbox to watch, tied to a sending provider.
type MailboxConfig struct {
	ProviderID string `yaml:"provider_id"`
	Server     string `yaml:"server"` // host:port, TLS
	Email      string `yaml:"email"`
	Password   string `yaml:"password"`
}

// Load reads and validates the YAML config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv loads the YAML config and applies environment overrides for
// secrets. A .env file in the working directory is loaded first if present.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		prefix := "PROVIDER_" + envKey(p.ID) + "_"
		if v := os.Getenv(prefix + "SMTP_PASSWORD"); v != "" {
			p.SMTPPassword = v
		}
		if v := os.Getenv(prefix + "SES_ACCESS_KEY"); v != "" {
			p.SESAccessKey = v
		}
		if v := os.Getenv(prefix + "SES_SECRET_KEY"); v != "" {
			p.SESSecretKey = v
		}
	}
	for i := range cfg.Inbound.Mailboxes {
		m := &cfg.Inbound.Mailboxes[i]
		if v := os.Getenv("MAILBOX_" + envKey(m.ProviderID) + "_PASSWORD"); v != "" {
			m.Password = v
		}
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Engine.TickIntervalSeconds == 0 {
		c.Engine.TickIntervalSeconds = 60
	}
	if c.Engine.ErrorBackoffSeconds == 0 {
		c.Engine.ErrorBackoffSeconds = 120
	}
	if c.Inbound.PollIntervalSeconds == 0 {
		c.Inbound.PollIntervalSeconds = 120
	}
	for i := range c.Providers {
		if c.Providers[i].SMTPPort == 0 {
			c.Providers[i].SMTPPort = 587
		}
		if c.Providers[i].SESRegion == "" {
			c.Providers[i].SESRegion = "us-east-1"
		}
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		switch p.Type {
		case "smtp", "ses":
		default:
			return fmt.Errorf("provider %s: unknown type %q", p.ID, p.Type)
		}
	}
	for _, m := range c.Inbound.Mailboxes {
		if !seen[m.ProviderID] {
			return fmt.Errorf("inbound mailbox references unknown provider %q", m.ProviderID)
		}
	}
	return nil
}

func envKey(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-'a'+'A')
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
