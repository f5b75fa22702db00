// Package config loads application configuration from a YAML file and
// WARDEN_-prefixed environment variables. Environment overrides file,
// file overrides defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix with a double-underscore section delimiter maps
// WARDEN_SERVER__METRICS_PORT to server.metrics_port.
const envPrefix = "WARDEN_"

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Directory     DirectoryConfig     `koanf:"directory"`
	Incidents     IncidentsConfig     `koanf:"incidents"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Escalation    EscalationConfig    `koanf:"escalation"`
	Orchestrator  OrchestratorConfig  `koanf:"orchestrator"`
	Collab        CollabConfig        `koanf:"collab"`
	CORS          CORSConfig          `koanf:"cors"`
	Log           LogConfig           `koanf:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig contains PostgreSQL settings. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// DirectoryConfig points at the service/team directory file.
type DirectoryConfig struct {
	Path string `koanf:"path"`
}

// IncidentsConfig contains alert admission settings.
type IncidentsConfig struct {
	// FallbackService absorbs alerts for services missing from the
	// directory; empty rejects such alerts.
	FallbackService string `koanf:"fallback_service"`
}

// NotificationsConfig contains delivery channel settings.
type NotificationsConfig struct {
	Enabled bool          `koanf:"enabled"`
	Webhook WebhookConfig `koanf:"webhook"`
	Email   EmailConfig   `koanf:"email"`
	SMS     SMSConfig     `koanf:"sms"`
}

// WebhookConfig contains webhook sender settings.
type WebhookConfig struct {
	Username string        `koanf:"username"`
	IconURL  string        `koanf:"icon_url"`
	Timeout  time.Duration `koanf:"timeout"`
}

// EmailConfig contains SMTP sender settings.
type EmailConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
}

// SMSConfig contains SMS gateway settings.
type SMSConfig struct {
	Enabled    bool          `koanf:"enabled"`
	GatewayURL string        `koanf:"gateway_url"`
	APIKey     string        `koanf:"api_key"`
	From       string        `koanf:"from"`
	Timeout    time.Duration `koanf:"timeout"`
}

// EscalationConfig contains escalation engine settings.
type EscalationConfig struct {
	Enabled            bool          `koanf:"enabled"`
	SweepInterval      time.Duration `koanf:"sweep_interval"`
	HaltOnAcknowledged bool          `koanf:"halt_on_acknowledged"`
	ReminderAfter      time.Duration `koanf:"reminder_after"`
	ReminderEvery      time.Duration `koanf:"reminder_every"`
	IncidentTimeout    time.Duration `koanf:"incident_timeout"`
}

// OrchestratorConfig contains response coordinator settings.
type OrchestratorConfig struct {
	StepTimeout time.Duration `koanf:"step_timeout"`
	RunTimeout  time.Duration `koanf:"run_timeout"`
}

// CollabConfig contains external collaboration tool endpoints. Empty
// base URLs disable the corresponding orchestration step.
type CollabConfig struct {
	Document CollabEndpoint `koanf:"document"`
	Chat     CollabEndpoint `koanf:"chat"`
}

// CollabEndpoint is one external tool's HTTP endpoint.
type CollabEndpoint struct {
	BaseURL  string        `koanf:"base_url"`
	APIToken string        `koanf:"api_token"`
	Timeout  time.Duration `koanf:"timeout"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectAttempts: 5,
			ConnectTimeout:  60 * time.Second,
			MigrationsPath:  "file://migrations",
		},
		Directory: DirectoryConfig{
			Path: "directory.yaml",
		},
		Notifications: NotificationsConfig{
			Enabled: true,
		},
		Escalation: EscalationConfig{
			Enabled:            true,
			SweepInterval:      30 * time.Second,
			HaltOnAcknowledged: true,
			ReminderAfter:      10 * time.Minute,
			ReminderEvery:      15 * time.Minute,
			IncidentTimeout:    30 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			StepTimeout: 15 * time.Second,
			RunTimeout:  2 * time.Minute,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from the optional YAML file at path and the
// environment on top of the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("config: server port is required")
	}
	if c.Directory.Path == "" {
		return fmt.Errorf("config: directory path is required")
	}
	if c.Escalation.SweepInterval <= 0 {
		return fmt.Errorf("config: escalation sweep interval must be positive")
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}
