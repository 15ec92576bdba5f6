// FILE: config_test.go

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
mode: backtest
strategy: momentum
symbols: [aapl, msft, aapl]
order_notional_usd: 250
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	// env wins over the file
	t.Setenv("STRATEGY", "sma_crossover")
	t.Setenv("MIN_TRADE_QTY", "0.01")

	cfg, err := loadConfig(path, true)
	require.NoError(t, err)

	assert.Equal(t, "backtest", cfg.Mode)
	assert.Equal(t, "sma_crossover", cfg.Strategy, "env overrides the file")
	assert.Equal(t, 250.0, cfg.OrderNotionalUSD, "file overrides defaults")
	assert.Equal(t, 0.01, cfg.MinTradeQty)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Symbols, "symbols upper-cased and de-duplicated")
}

func TestLoadConfigMissingOptionalFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, defaultConfig().Mode, cfg.Mode)
}

func TestLoadConfigMissingExplicitFileFails(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"), true)
	require.Error(t, err)
	var cerr *ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "paper" }},
		{"no symbols", func(c *Config) { c.Symbols = nil }},
		{"unknown strategy", func(c *Config) { c.Strategy = "nope" }},
		{"bad sizing mode", func(c *Config) { c.SizingMode = "shares" }},
		{"zero notional", func(c *Config) { c.OrderNotionalUSD = 0 }},
		{"negative min qty", func(c *Config) { c.MinTradeQty = -1 }},
		{"zero max position", func(c *Config) { c.MaxAbsPositionPerSymbol = 0 }},
		{"zero interval", func(c *Config) { c.IntervalSeconds = 0 }},
		{"zero poll timeout", func(c *Config) { c.PollTimeoutSec = 0 }},
		{"backtest without data dir", func(c *Config) { c.HistoricalDataDir = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			err := cfg.validate()
			require.Error(t, err)
			var cerr *ConfigError
			assert.ErrorAs(t, err, &cerr)
		})
	}
}

func TestValidateLiveRequiresCredentials(t *testing.T) {
	cfg := defaultConfig()
	cfg.Mode = "live"
	require.Error(t, cfg.validate())

	cfg.BrokerAPIKey = "key"
	cfg.BrokerSecretKey = "secret"
	require.NoError(t, cfg.validate())
}

func TestValidateDefaultsPass(t *testing.T) {
	require.NoError(t, defaultConfig().validate())
}
