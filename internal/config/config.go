package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	Identity       IdentityConfig       `yaml:"identity"`
	Notifier       NotifierConfig       `yaml:"notifier"`
	Rules          RulesConfig          `yaml:"rules"`
	Sweep          SweepConfig          `yaml:"sweep"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "postgres" or "memory"
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// IdentityConfig selects how session tokens are resolved to users.
// If Endpoint is set, tokens are resolved by the external identity provider;
// otherwise the static token map is used (tests, local development).
type IdentityConfig struct {
	Endpoint string                 `yaml:"endpoint"`
	Timeout  time.Duration          `yaml:"timeout"`
	Static   map[string]StaticToken `yaml:"static"`
}

// StaticToken maps an opaque token to a principal.
type StaticToken struct {
	UserID string `yaml:"user_id"`
	Admin  bool   `yaml:"admin"`
}

// NotifierConfig holds notification sink settings. All delivery is
// best-effort; an empty webhook URL disables the webhook sender.
type NotifierConfig struct {
	DiscordWebhookURL string   `yaml:"discord_webhook_url"`
	Events            []string `yaml:"events"`
}

// RulesConfig seeds the operator-tunable settlement rules. Values live in the
// settings store after first boot and are re-read on every operation.
type RulesConfig struct {
	MinStep           int64         `yaml:"min_step"`           // minor units
	JoinFee           int64         `yaml:"join_fee"`           // minor units
	ReputationPenalty int64         `yaml:"reputation_penalty"` // score points
	SnipeWindow       time.Duration `yaml:"snipe_window"`
	SnipeExtension    time.Duration `yaml:"snipe_extension"`
	PaymentWindow     time.Duration `yaml:"payment_window"`
}

// SweepConfig controls the optional in-process settlement sweep. The HTTP
// trigger endpoints work regardless; the ticker only runs on the leader.
type SweepConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "postgres",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "settlementd",
			ServiceVersion: "0.1.0",
		},
		Identity: IdentityConfig{
			Timeout: 5 * time.Second,
		},
		Rules: RulesConfig{
			MinStep:           10_000,
			JoinFee:           5_000,
			ReputationPenalty: 10,
			SnipeWindow:       2 * time.Minute,
			SnipeExtension:    2 * time.Minute,
			PaymentWindow:     24 * time.Hour,
		},
		Sweep: SweepConfig{
			Enabled:  false,
			Interval: time.Minute,
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "settlementd-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver)
	}
	if c.Rules.MinStep <= 0 {
		return fmt.Errorf("rules.min_step must be positive, got %d", c.Rules.MinStep)
	}
	if c.Rules.JoinFee < 0 {
		return fmt.Errorf("rules.join_fee must be non-negative, got %d", c.Rules.JoinFee)
	}
	if c.Rules.PaymentWindow <= 0 {
		return fmt.Errorf("rules.payment_window must be positive, got %v", c.Rules.PaymentWindow)
	}
	if c.Sweep.Enabled && c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep.interval must be positive when sweep is enabled, got %v", c.Sweep.Interval)
	}
	return nil
}
