// Package cli provides the command-line interface for the market simulator.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"papermarket/internal/config"
	"papermarket/internal/logging"
	"papermarket/internal/market"
	"papermarket/internal/store"
	"papermarket/internal/trading"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
	User      string

	store *store.SQLiteStore
}

// Store opens the ledger database on first use.
func (a *App) Store() (*store.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	if err := os.MkdirAll(filepath.Dir(a.Config.Storage.Path), 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	st, err := store.NewSQLiteStore(a.Config.Storage.Path)
	if err != nil {
		return nil, err
	}
	a.Logger.Debug().Str("path", a.Config.Storage.Path).Msg("SQLite store initialized")
	a.store = st
	return st, nil
}

// Desk builds a trading desk over the ledger database.
func (a *App) Desk() (*trading.Desk, error) {
	st, err := a.Store()
	if err != nil {
		return nil, err
	}
	desk := trading.NewDesk(st, a.DeskConfig(), a.Logger)
	desk.SetSymbolCatalog(market.NewUniverse(market.DefaultSymbols))
	return desk, nil
}

// DeskConfig maps the trading section onto the desk.
func (a *App) DeskConfig() trading.DeskConfig {
	return trading.DeskConfig{
		DefaultBalance: a.Config.Trading.DefaultBalance,
		MaxAddMoney:    a.Config.Trading.MaxAddMoney,
		MISMargin:      a.Config.Trading.MISMargin,
		RecentLimit:    a.Config.Trading.RecentLimit,
	}
}

// UserID returns the --user flag or the configured default user.
func (a *App) UserID() string {
	if a.User != "" {
		return a.User
	}
	return a.Config.Trading.DefaultUser
}

// Close releases whatever the commands opened.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = multierr.Append(err, a.store.Close())
		a.store = nil
	}
	return err
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{}

	rootCmd := &cobra.Command{
		Use:   "papermarket",
		Short: "Synthetic NSE market and paper trading desk",
		Long: `papermarket runs a simulated Indian equity market with live ticks,
synthetic depth and historical charts, and a paper trading desk with
margin, P&L and stop-loss/target automation.

Use 'papermarket serve' to start the REST and WebSocket server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.Config = cfg
			app.ConfigDir = dir
			app.User, _ = cmd.Flags().GetString("user")

			logCfg := cfg.LogConfig()
			logCfg.Out = os.Stderr
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logCfg.Level = "debug"
			}
			app.Logger = logging.NewLoggerWithConfig(logCfg)
			if debug {
				logging.SetDebugLevel()
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/papermarket)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("user", "", "user id for ledger commands (default: trading.default_user)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newServeCmd(app))
	addLedgerCommands(rootCmd, app)
	addMarketCommands(rootCmd, app)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Skip config loading.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				_ = output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("papermarket v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				_ = output.JSON(map[string]string{"path": app.ConfigDir})
			} else {
				output.Println(app.ConfigDir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Server")
	output.Printf("  Address:          %s\n", cfg.Server.Addr)
	output.Printf("  Shutdown Timeout: %s\n", cfg.Server.ShutdownTimeout)
	output.Println()

	output.Bold("Market")
	output.Printf("  Tick Interval:    %s\n", cfg.Market.TickInterval)
	output.Printf("  Time Scale:       %.2f\n", cfg.Market.TimeScale)
	output.Printf("  Candle Cache TTL: %s\n", cfg.Market.CandleCacheTTL)
	output.Printf("  Session Rollover: %v\n", cfg.Market.SessionRollover)
	output.Println()

	output.Bold("Stream")
	output.Printf("  Subscriber Buffer: %d\n", cfg.Stream.SubscriberBuffer)
	output.Printf("  Broadcast Every:   %d\n", cfg.Stream.BroadcastEvery)
	output.Printf("  Order Book Every:  %d\n", cfg.Stream.OrderBookEvery)
	output.Printf("  Depth Levels:      %d\n", cfg.Stream.DepthLevels)
	output.Println()

	output.Bold("Trading")
	output.Printf("  Default Balance:  %s\n", FormatIndianCurrency(cfg.Trading.DefaultBalance))
	output.Printf("  Max Add Money:    %s\n", FormatIndianCurrency(cfg.Trading.MaxAddMoney))
	output.Printf("  MIS Margin:       %.0f%%\n", cfg.Trading.MISMargin*100)
	output.Printf("  Default User:     %s\n", cfg.Trading.DefaultUser)
	output.Printf("  Trigger Mode:     %s\n", cfg.Trading.TriggerMode)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Database:         %s\n", cfg.Storage.Path)
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:            %s\n", cfg.Logging.Level)
	output.Printf("  File:             %v (%s)\n", cfg.Logging.File, cfg.Logging.FilePath)
}
