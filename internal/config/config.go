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
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	Guild          GuildConfig          `yaml:"guild"`
	Decay          DecayConfig          `yaml:"decay"`
	Discord        DiscordConfig        `yaml:"discord"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "sqlx" or "ent"
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// GuildConfig holds loot-system defaults used when the settings table has no
// explicit value.
type GuildConfig struct {
	// DefaultStrategy is the loot priority system: "dkp", "epgp" or
	// "lootcouncil".
	DefaultStrategy string `yaml:"default_strategy"`
	// DKPCap is the default upper bound on any member's DKP balance.
	DKPCap int `yaml:"dkp_cap"`
	// StrategyCacheTTL bounds staleness of the cached active strategy.
	StrategyCacheTTL time.Duration `yaml:"strategy_cache_ttl"`
}

// DecayConfig holds the scheduled decay job settings.
type DecayConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a cron expression, e.g. "0 4 * * 0" for Sundays 04:00.
	Schedule string  `yaml:"schedule"`
	Percent  float64 `yaml:"percent"`
}

// DiscordConfig holds settings for the Discord surface: slash commands plus
// the announcement channel.
type DiscordConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Token     string `yaml:"token"`
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`
	// AdminRoleID and OfficerRoleID map Discord roles onto ledger roles.
	// Members without either role act as plain members.
	AdminRoleID   string `yaml:"admin_role_id"`
	OfficerRoleID string `yaml:"officer_role_id"`
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

	cfg := &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "sqlx",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "lootledger",
			ServiceVersion: "0.1.0",
		},
		Guild: GuildConfig{
			DefaultStrategy:  "dkp",
			DKPCap:           250,
			StrategyCacheTTL: 60 * time.Second,
		},
		Decay: DecayConfig{
			Enabled:  false,
			Schedule: "0 4 * * 0",
			Percent:  10,
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "lootledger-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlx", "ent":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"sqlx\" or \"ent\"", c.Database.Driver)
	}
	switch c.Guild.DefaultStrategy {
	case "dkp", "epgp", "lootcouncil":
		// valid
	default:
		return fmt.Errorf("unsupported loot strategy %q: must be \"dkp\", \"epgp\" or \"lootcouncil\"", c.Guild.DefaultStrategy)
	}
	if c.Guild.DKPCap <= 0 {
		return fmt.Errorf("guild.dkp_cap must be positive, got %d", c.Guild.DKPCap)
	}
	if c.Guild.StrategyCacheTTL > 60*time.Second {
		return fmt.Errorf("guild.strategy_cache_ttl must not exceed 60s, got %s", c.Guild.StrategyCacheTTL)
	}
	if c.Decay.Enabled && (c.Decay.Percent <= 0 || c.Decay.Percent > 100) {
		return fmt.Errorf("decay.percent must be in (0, 100], got %g", c.Decay.Percent)
	}
	return nil
}
