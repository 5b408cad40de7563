package cli

import (
	"context"
	"math/rand/v2"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"papermarket/internal/api"
	"papermarket/internal/health"
	"papermarket/internal/market"
	"papermarket/internal/stream"
	"papermarket/internal/trading"
)

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the market engine and the REST + WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				app.Config.Server.Addr = addr
			}
			if mode, _ := cmd.Flags().GetString("trigger-mode"); mode != "" {
				app.Config.Trading.TriggerMode = mode
				if err := app.Config.Validate(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, app)
		},
	}

	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().String("trigger-mode", "", "trigger evaluation mode: pull or tick")

	return cmd
}

// runServer wires the engine, hub, desk and HTTP server and runs them until
// ctx is cancelled or one of them fails.
func runServer(ctx context.Context, app *App) error {
	cfg := app.Config
	logger := app.Logger

	universe := market.NewUniverse(market.DefaultSymbols)
	engine := market.NewEngine(universe, market.EngineConfig{
		TickInterval:    cfg.Market.TickInterval,
		Seed:            cfg.Market.Seed,
		TimeScale:       cfg.Market.TimeScale,
		SessionRollover: cfg.Market.SessionRollover,
	}, logger)

	candleCfg := market.CandleConfig{CacheTTL: cfg.Market.CandleCacheTTL}
	if cfg.Market.Seed != 0 {
		candleCfg.Source = rand.New(rand.NewPCG(cfg.Market.Seed, cfg.Market.Seed^0x9e3779b97f4a7c15))
	}
	charts := market.NewCandleSynthesizer(universe, engine, candleCfg)

	hub := stream.NewHub(stream.HubConfig{
		BatchBuffer:      cfg.Stream.BatchBuffer,
		SubscriberBuffer: cfg.Stream.SubscriberBuffer,
		BroadcastEvery:   cfg.Stream.BroadcastEvery,
		OrderBookEvery:   cfg.Stream.OrderBookEvery,
		DepthLevels:      cfg.Stream.DepthLevels,
		SpreadFraction:   cfg.Stream.SpreadFraction,
		RecentTrades:     cfg.Stream.RecentTrades,
	}, engine, charts, universe, logger)
	engine.AddListener(hub)

	st, err := app.Store()
	if err != nil {
		return err
	}
	desk := trading.NewDesk(st, app.DeskConfig(), logger)
	desk.SetPriceSource(engine)
	desk.SetSymbolCatalog(universe)
	triggers := trading.NewTriggerEvaluator(desk, logger)

	monitor := health.NewMonitor(health.DefaultConfig(), logger)
	monitor.Register("database", health.DatabaseCheck(st.Ping, 100*time.Millisecond))
	monitor.Register("engine", health.FreshnessCheck(engine.LastStep, 10*cfg.Market.TickInterval))
	monitor.Register("stream", func(ctx context.Context) health.ComponentHealth {
		m := hub.Metrics()
		return health.ComponentHealth{
			Status:  health.StatusHealthy,
			Message: "Hub running",
			Details: map[string]any{
				"clients":         m.Clients,
				"active_symbols":  m.ActiveSymbols,
				"events_sent":     m.EventsSent,
				"events_dropped":  m.EventsDropped,
				"batches_dropped": m.BatchesDropped,
			},
		}
	})

	router := api.NewRouter(api.Deps{
		Market:      engine,
		Charts:      charts,
		Search:      universe,
		Hub:         hub,
		Desk:        desk,
		Triggers:    triggers,
		Health:      monitor,
		DefaultUser: cfg.Trading.DefaultUser,
		CORSOrigin:  cfg.Server.CORSOrigin,
		WS: api.WSConfig{
			WriteTimeout: cfg.Stream.WriteTimeout,
			PingInterval: cfg.Stream.PingInterval,
		},
	}, logger)
	server := api.NewServer(api.ServerConfig{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, router, logger)

	var tick *trading.TickTrigger
	if cfg.IsTickTriggerMode() {
		tick = trading.NewTickTrigger(triggers, st, logger)
		engine.AddListener(tick)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return monitor.Run(ctx) })
	if tick != nil {
		g.Go(func() error { return tick.Run(ctx) })
	}
	if ttl := cfg.Market.CandleCacheTTL; ttl > 0 {
		g.Go(func() error { return purgeCandles(ctx, charts, ttl) })
	}

	logger.Info().
		Str("addr", cfg.Server.Addr).
		Int("symbols", universe.Len()).
		Str("trigger_mode", cfg.Trading.TriggerMode).
		Msg("papermarket started")

	err = g.Wait()
	logger.Info().Msg("papermarket stopped")
	return err
}

// purgeCandles drops expired chart series every ttl.
func purgeCandles(ctx context.Context, charts *market.CandleSynthesizer, ttl time.Duration) error {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			charts.Purge()
		}
	}
}
