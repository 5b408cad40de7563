// Package config provides configuration management for the market simulator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"papermarket/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Market  MarketConfig  `mapstructure:"market"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Trading TradingConfig `mapstructure:"trading"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP/WebSocket server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigin      string        `mapstructure:"cors_origin"`
}

// MarketConfig holds price simulation configuration.
type MarketConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	Seed            uint64        `mapstructure:"seed"`       // 0 = seeded from the clock
	TimeScale       float64       `mapstructure:"time_scale"` // multiplies dt
	CandleCacheTTL  time.Duration `mapstructure:"candle_cache_ttl"`
	SessionRollover bool          `mapstructure:"session_rollover"`
}

// StreamConfig holds distribution hub configuration.
type StreamConfig struct {
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	BatchBuffer      int           `mapstructure:"batch_buffer"`
	BroadcastEvery   int           `mapstructure:"broadcast_every"`
	OrderBookEvery   int           `mapstructure:"orderbook_every"`
	DepthLevels      int           `mapstructure:"depth_levels"`
	SpreadFraction   float64       `mapstructure:"spread_fraction"`
	RecentTrades     int           `mapstructure:"recent_trades"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
}

// TradingConfig holds paper trading configuration.
type TradingConfig struct {
	DefaultBalance float64 `mapstructure:"default_balance"`
	MaxAddMoney    float64 `mapstructure:"max_add_money"`
	MISMargin      float64 `mapstructure:"mis_margin"`
	DefaultUser    string  `mapstructure:"default_user"`
	TriggerMode    string  `mapstructure:"trigger_mode"` // "pull", "tick"
	RecentLimit    int     `mapstructure:"recent_limit"`
}

// StorageConfig holds database configuration.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// Trigger modes.
const (
	TriggerModePull = "pull"
	TriggerModeTick = "tick"
)

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/papermarket"
	}
	return filepath.Join(home, ".config", "papermarket")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		// Config file not found, write the template and run on defaults
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("creating config.toml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origin", "*")

	v.SetDefault("market.tick_interval", time.Second)
	v.SetDefault("market.seed", 0)
	v.SetDefault("market.time_scale", 1.0)
	v.SetDefault("market.candle_cache_ttl", 5*time.Minute)
	v.SetDefault("market.session_rollover", true)

	v.SetDefault("stream.subscriber_buffer", 256)
	v.SetDefault("stream.batch_buffer", 64)
	v.SetDefault("stream.broadcast_every", 2)
	v.SetDefault("stream.orderbook_every", 2)
	v.SetDefault("stream.depth_levels", 5)
	v.SetDefault("stream.spread_fraction", 0.0005)
	v.SetDefault("stream.recent_trades", 20)
	v.SetDefault("stream.write_timeout", 5*time.Second)
	v.SetDefault("stream.ping_interval", 30*time.Second)

	v.SetDefault("trading.default_balance", 1000000.0)
	v.SetDefault("trading.max_add_money", 10000000.0)
	v.SetDefault("trading.mis_margin", 0.2)
	v.SetDefault("trading.default_user", "default")
	v.SetDefault("trading.trigger_mode", TriggerModePull)
	v.SetDefault("trading.recent_limit", 50)

	v.SetDefault("storage.path", filepath.Join(configDir, "papermarket.db"))

	logDefaults := logging.DefaultLogConfig()
	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.console", logDefaults.Console)
	v.SetDefault("logging.file", false)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "papermarket.log"))
	v.SetDefault("logging.max_size", logDefaults.MaxSize)
	v.SetDefault("logging.max_backups", logDefaults.MaxBackups)
	v.SetDefault("logging.max_age", logDefaults.MaxAge)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAPERMARKET_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("PAPERMARKET_DB"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("PAPERMARKET_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PAPERMARKET_TRIGGER_MODE"); v != "" {
		cfg.Trading.TriggerMode = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Market.TickInterval <= 0 {
		return fmt.Errorf("market.tick_interval must be positive")
	}
	if c.Market.TimeScale <= 0 {
		return fmt.Errorf("market.time_scale must be positive")
	}
	if c.Market.CandleCacheTTL < 0 {
		return fmt.Errorf("market.candle_cache_ttl must be non-negative")
	}

	if c.Stream.BroadcastEvery < 1 || c.Stream.OrderBookEvery < 1 {
		return fmt.Errorf("stream.broadcast_every and stream.orderbook_every must be at least 1")
	}
	if c.Stream.DepthLevels < 1 {
		return fmt.Errorf("stream.depth_levels must be at least 1")
	}
	if c.Stream.SpreadFraction <= 0 || c.Stream.SpreadFraction >= 0.1 {
		return fmt.Errorf("stream.spread_fraction must be between 0 and 0.1")
	}
	if c.Stream.SubscriberBuffer < 1 || c.Stream.BatchBuffer < 1 {
		return fmt.Errorf("stream buffers must be at least 1")
	}

	if c.Trading.DefaultBalance <= 0 {
		return fmt.Errorf("trading.default_balance must be positive")
	}
	if c.Trading.MaxAddMoney <= 0 {
		return fmt.Errorf("trading.max_add_money must be positive")
	}
	if c.Trading.MISMargin <= 0 || c.Trading.MISMargin > 1 {
		return fmt.Errorf("trading.mis_margin must be in (0, 1]")
	}
	if c.Trading.TriggerMode != TriggerModePull && c.Trading.TriggerMode != TriggerModeTick {
		return fmt.Errorf("invalid trigger mode: %s (must be 'pull' or 'tick')", c.Trading.TriggerMode)
	}
	if c.Trading.DefaultUser == "" {
		return fmt.Errorf("trading.default_user must not be empty")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}

	return nil
}

// LogConfig converts the logging section for the logging package.
func (c *Config) LogConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Logging.Level,
		Console:    c.Logging.Console,
		File:       c.Logging.File,
		FilePath:   c.Logging.FilePath,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
	}
}

// IsTickTriggerMode returns true if triggers are evaluated on every tick.
func (c *Config) IsTickTriggerMode() bool {
	return c.Trading.TriggerMode == TriggerModeTick
}
