package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesTemplateAndUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, time.Second, cfg.Market.TickInterval)
	assert.Equal(t, 1000000.0, cfg.Trading.DefaultBalance)
	assert.Equal(t, 0.2, cfg.Trading.MISMargin)
	assert.Equal(t, TriggerModePull, cfg.Trading.TriggerMode)
	assert.Equal(t, filepath.Join(dir, "papermarket.db"), cfg.Storage.Path)
	assert.Equal(t, 5, cfg.Stream.DepthLevels)
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	content := `
[market]
tick_interval = "250ms"
seed = 42

[trading]
default_balance = 500000.0
trigger_mode = "tick"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0600))
	t.Setenv("PAPERMARKET_ADDR", "127.0.0.1:9999")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Market.TickInterval)
	assert.Equal(t, uint64(42), cfg.Market.Seed)
	assert.Equal(t, 500000.0, cfg.Trading.DefaultBalance)
	assert.True(t, cfg.IsTickTriggerMode())
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	// Untouched keys keep their defaults.
	assert.Equal(t, 10000000.0, cfg.Trading.MaxAddMoney)
}

func TestValidate(t *testing.T) {
	base := Default()
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"trigger mode":  func(c *Config) { c.Trading.TriggerMode = "push" },
		"mis margin":    func(c *Config) { c.Trading.MISMargin = 1.5 },
		"balance":       func(c *Config) { c.Trading.DefaultBalance = 0 },
		"tick interval": func(c *Config) { c.Market.TickInterval = 0 },
		"spread":        func(c *Config) { c.Stream.SpreadFraction = 0 },
		"broadcast":     func(c *Config) { c.Stream.BroadcastEvery = 0 },
		"storage":       func(c *Config) { c.Storage.Path = "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
