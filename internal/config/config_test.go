package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "dry_run: true\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}

	if !cfg.DryRun {
		t.Error("dry_run not read")
	}
	if len(cfg.Symbols) != 5 {
		t.Errorf("default symbols = %v", cfg.Symbols)
	}
	if cfg.Risk.MaxConcurrentPositions != 3 {
		t.Errorf("max positions = %d", cfg.Risk.MaxConcurrentPositions)
	}
	if cfg.Risk.Cooldown != 30*time.Minute {
		t.Errorf("cooldown = %s", cfg.Risk.Cooldown)
	}
	if cfg.Micro.VPINBucketSize != 50 || cfg.Micro.VPINNumBuckets != 50 {
		t.Errorf("vpin config = %+v", cfg.Micro)
	}
	if cfg.Ensemble.WeightOBI != 0.30 {
		t.Errorf("obi weight = %f", cfg.Ensemble.WeightOBI)
	}
	if len(cfg.Ensemble.MomentumWindows) != 4 {
		t.Errorf("momentum windows = %v", cfg.Ensemble.MomentumWindows)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
symbols: [BTC, ETH]
risk:
  max_total_capital: 10000000
  max_concurrent_positions: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Symbols) != 2 {
		t.Errorf("symbols = %v", cfg.Symbols)
	}
	if cfg.Risk.MaxTotalCapital != 10_000_000 {
		t.Errorf("capital = %f", cfg.Risk.MaxTotalCapital)
	}
	if cfg.Risk.MaxConcurrentPositions != 2 {
		t.Errorf("positions = %d", cfg.Risk.MaxConcurrentPositions)
	}
	// Untouched sections keep defaults.
	if cfg.Risk.KellyFraction != 0.25 {
		t.Errorf("kelly = %f", cfg.Risk.KellyFraction)
	}
}

func TestLoadEnvSecrets(t *testing.T) {
	t.Setenv("BITHUMB_API_KEY", "env-key")
	t.Setenv("BITHUMB_SECRET_KEY", "env-secret")

	path := writeConfig(t, "dry_run: false\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Exchange.ApiKey != "env-key" || cfg.Exchange.SecretKey != "env-secret" {
		t.Errorf("env secrets not applied: %+v", cfg.Exchange)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		path := writeConfig(t, "dry_run: true\n")
		cfg, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no symbols", func(c *Config) { c.Symbols = nil }},
		{"zero capital", func(c *Config) { c.Risk.MaxTotalCapital = 0 }},
		{"zero positions", func(c *Config) { c.Risk.MaxConcurrentPositions = 0 }},
		{"ratio above one", func(c *Config) { c.Risk.MaxSinglePositionRatio = 1.5 }},
		{"depth above feed", func(c *Config) { c.Micro.OBIDepthLevels = 11 }},
		{"weights off unit sum", func(c *Config) { c.Ensemble.WeightOBI = 0.5 }},
		{"momentum length mismatch", func(c *Config) { c.Ensemble.MomentumWindows = []int{60} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
