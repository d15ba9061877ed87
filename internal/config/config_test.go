package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
app:
  environment: test
trade:
  session_timeout: 10m
  max_items_per_side: 5
database:
  in_memory: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Environment != "test" {
		t.Errorf("environment = %q, want test", cfg.App.Environment)
	}
	if cfg.Trade.SessionTimeout != 10*time.Minute {
		t.Errorf("session_timeout = %s, want 10m", cfg.Trade.SessionTimeout)
	}
	if cfg.Trade.CheckInterval != 15*time.Second {
		t.Errorf("check_interval = %s, want default 15s", cfg.Trade.CheckInterval)
	}
	if cfg.Trade.MaxItemsPerSide != 5 {
		t.Errorf("max_items_per_side = %d, want 5", cfg.Trade.MaxItemsPerSide)
	}
	if cfg.Trade.RequireConfirmation {
		t.Errorf("require_confirmation should default to false")
	}
	if !cfg.Database.InMemory {
		t.Errorf("expected in_memory=true")
	}
	if len(cfg.Logging.OutputPaths) != 1 || cfg.Logging.OutputPaths[0] != "stdout" {
		t.Errorf("unexpected output paths %v", cfg.Logging.OutputPaths)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
app:
  environment: test
`)
	t.Setenv("COUNTRYBALL_TRADE_REQUIRE_CONFIRMATION", "true")
	t.Setenv("COUNTRYBALL_DISCORD_TOKEN", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.Trade.RequireConfirmation {
		t.Errorf("expected env to enable require_confirmation")
	}
	if cfg.Discord.Token != "secret" {
		t.Errorf("discord.token = %q, want secret", cfg.Discord.Token)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Config{
		Trade: TradeConfig{
			SessionTimeout:  time.Minute,
			CheckInterval:   time.Hour,
			MaxItemsPerSide: -1,
			StatsInterval:   time.Minute,
		},
		Database: DatabaseConfig{InMemory: true, MaxOpenConns: 1},
		Logging: LoggingConfig{
			Level:            "info",
			Encoding:         "json",
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		},
		Discord: DiscordConfig{Enabled: true},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	for _, want := range []string{
		"app.environment",
		"trade.check_interval",
		"trade.max_items_per_side",
		"discord.token",
		"discord.application_id",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got %v", want, err)
		}
	}
}

func TestValidate_ZeroMaxItemsMeansUnlimited(t *testing.T) {
	cfg := Config{
		App: AppConfig{Environment: "test"},
		Trade: TradeConfig{
			SessionTimeout: time.Minute,
			CheckInterval:  time.Second,
			StatsInterval:  time.Minute,
		},
		Database: DatabaseConfig{InMemory: true, MaxOpenConns: 1},
		Logging: LoggingConfig{
			Level:            "info",
			Encoding:         "json",
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("max_items_per_side 0 should be accepted, got %v", err)
	}
}
