package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# papermarket configuration

[server]
addr = ":8080"
read_timeout = "10s"
write_timeout = "10s"
idle_timeout = "60s"
shutdown_timeout = "10s"
cors_origin = "*"

[market]
# Engine cadence; one tick is one simulated trading second
tick_interval = "1s"
# Random seed, 0 seeds from the clock
seed = 0
# Multiplies the GBM time step (1.0 = realistic per-second volatility)
time_scale = 1.0
# How long generated chart candles are reused
candle_cache_ttl = "5m"
# Reset day range and previous close at each new IST trading day
session_rollover = true

[stream]
subscriber_buffer = 256
batch_buffer = 64
# Send tick:all every Nth batch
broadcast_every = 2
# Regenerate order books every Nth batch
orderbook_every = 2
depth_levels = 5
spread_fraction = 0.0005
recent_trades = 20
write_timeout = "5s"
ping_interval = "30s"

[trading]
# Starting balance in INR
default_balance = 1000000.0
# Largest single add-money amount
max_add_money = 10000000.0
# Intraday (MIS) margin fraction
mis_margin = 0.2
# User id when no X-User-ID header is sent
default_user = "default"
# "pull": clients call check-triggers, "tick": evaluate on every tick
trigger_mode = "pull"
recent_limit = 50

[logging]
# debug, info, warn, error
level = "info"
console = true
file = false
max_size = 100
max_backups = 7
max_age = 30
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
