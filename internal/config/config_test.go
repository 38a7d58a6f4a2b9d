package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guildtools/lootledger/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "database:\n  dbname: lootledger\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlx" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "sqlx")
	}
	if cfg.Guild.DefaultStrategy != "dkp" {
		t.Errorf("Guild.DefaultStrategy = %q, want %q", cfg.Guild.DefaultStrategy, "dkp")
	}
	if cfg.Guild.DKPCap != 250 {
		t.Errorf("Guild.DKPCap = %d, want 250", cfg.Guild.DKPCap)
	}
	if cfg.Guild.StrategyCacheTTL != 60*time.Second {
		t.Errorf("Guild.StrategyCacheTTL = %s, want 60s", cfg.Guild.StrategyCacheTTL)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
database:
  host: db.internal
  port: 5433
  driver: ent
guild:
  default_strategy: epgp
  dkp_cap: 300
decay:
  enabled: true
  schedule: "0 5 * * 1"
  percent: 25
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Host != "db.internal" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "db.internal")
	}
	if cfg.Guild.DefaultStrategy != "epgp" {
		t.Errorf("Guild.DefaultStrategy = %q, want %q", cfg.Guild.DefaultStrategy, "epgp")
	}
	if cfg.Decay.Percent != 25 {
		t.Errorf("Decay.Percent = %g, want 25", cfg.Decay.Percent)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "unknown driver",
			content: "database:\n  driver: mongo\n",
		},
		{
			name:    "unknown strategy",
			content: "guild:\n  default_strategy: roulette\n",
		},
		{
			name:    "non-positive cap",
			content: "guild:\n  dkp_cap: 0\n",
		},
		{
			name:    "cache ttl too large",
			content: "guild:\n  strategy_cache_ttl: 5m\n",
		},
		{
			name:    "decay percent out of range",
			content: "decay:\n  enabled: true\n  percent: 150\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := config.Load(path); err == nil {
				t.Fatal("Load() expected validation error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDSN(t *testing.T) {
	d := config.DatabaseConfig{
		Host: "localhost", Port: 5432, User: "loot", Password: "secret",
		DBName: "lootledger", SSLMode: "disable",
	}
	want := "host=localhost port=5432 user=loot password=secret dbname=lootledger sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
