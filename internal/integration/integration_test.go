// Package integration runs the engine, hub, desk and HTTP server together
// over a real listener.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"papermarket/internal/api"
	"papermarket/internal/health"
	"papermarket/internal/market"
	"papermarket/internal/models"
	"papermarket/internal/store"
	"papermarket/internal/stream"
	"papermarket/internal/trading"
)

type stack struct {
	base   string
	engine *market.Engine
}

// startStack serves the full system until the test ends.
func startStack(t *testing.T) *stack {
	t.Helper()
	logger := zerolog.Nop()

	universe := market.NewUniverse(market.DefaultSymbols)
	ecfg := market.DefaultEngineConfig()
	ecfg.TickInterval = 20 * time.Millisecond
	ecfg.Seed = 11
	ecfg.SessionRollover = false
	engine := market.NewEngine(universe, ecfg, logger)
	charts := market.NewCandleSynthesizer(universe, engine, market.CandleConfig{CacheTTL: time.Minute})

	hcfg := stream.DefaultHubConfig()
	hcfg.BroadcastEvery = 1
	hub := stream.NewHub(hcfg, engine, charts, universe, logger)
	engine.AddListener(hub)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "e2e.db"))
	require.NoError(t, err)

	desk := trading.NewDesk(st, trading.DefaultDeskConfig(), logger)
	desk.SetPriceSource(engine)
	desk.SetSymbolCatalog(universe)
	triggers := trading.NewTriggerEvaluator(desk, logger)
	tick := trading.NewTickTrigger(triggers, st, logger)
	engine.AddListener(tick)

	monitor := health.NewMonitor(health.DefaultConfig(), logger)
	monitor.Register("database", health.DatabaseCheck(st.Ping, time.Second))
	monitor.Register("engine", health.FreshnessCheck(engine.LastStep, time.Second))

	router := api.NewRouter(api.Deps{
		Market:      engine,
		Charts:      charts,
		Search:      universe,
		Hub:         hub,
		Desk:        desk,
		Triggers:    triggers,
		Health:      monitor,
		DefaultUser: "default",
		WS:          api.DefaultWSConfig(),
	}, logger)
	server := api.NewServer(api.ServerConfig{ShutdownTimeout: time.Second}, router, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return tick.Run(ctx) })
	g.Go(func() error { return server.Serve(ctx, ln) })

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, g.Wait())
		st.Close()
	})

	return &stack{base: "http://" + ln.Addr().String(), engine: engine}
}

func (s *stack) post(t *testing.T, path, user string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req, err := http.NewRequest(http.MethodPost, s.base+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.UserHeader, user)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (s *stack) get(t *testing.T, path, user string, v any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.base+path, nil)
	require.NoError(t, err)
	req.Header.Set(api.UserHeader, user)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestLimitOrderFillsOnLiveTicks(t *testing.T) {
	s := startStack(t)

	var quote models.Quote
	require.Equal(t, http.StatusOK, s.get(t, "/api/market/quotes/INFY", "", &quote))

	// A buy limit far above the market fills on the next batch.
	limit := quote.Price * 1.5
	resp := s.post(t, "/api/trading/order", "e2e", trading.OrderRequest{
		Symbol:     "INFY",
		Side:       models.OrderSideBuy,
		Quantity:   5,
		Price:      quote.Price,
		Type:       models.OrderTypeLimit,
		LimitPrice: &limit,
		Product:    models.ProductCNC,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	assert.Eventually(t, func() bool {
		var positions []models.Position
		if s.get(t, "/api/trading/positions", "e2e", &positions) != http.StatusOK {
			return false
		}
		return len(positions) == 1 && positions[0].Status == models.PositionOpen && positions[0].Quantity == 5
	}, 3*time.Second, 20*time.Millisecond)

	var orders []models.Order
	require.Equal(t, http.StatusOK, s.get(t, "/api/trading/orders", "e2e", &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusExecuted, orders[0].Status)
	assert.InDelta(t, limit, orders[0].Price, 1e-9)

	var summary trading.AccountSummary
	require.Equal(t, http.StatusOK, s.get(t, "/api/trading/account", "e2e", &summary))
	assert.InDelta(t, 1_000_000-5*limit, summary.Balance, 1e-6)
	assert.Equal(t, 1, summary.OpenPositions)
}

func TestWebSocketReceivesLiveTicks(t *testing.T) {
	s := startStack(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+s.base[len("http"):]+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(stream.ClientMessage{Action: stream.ActionSubscribe, Symbol: "RELIANCE"}))

	var ev struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	seen := map[string]bool{}
	deadline := time.Now().Add(3 * time.Second)
	for !(seen[stream.EventSnapshot] && seen[stream.EventTick]) {
		_ = conn.SetReadDeadline(deadline)
		require.NoError(t, conn.ReadJSON(&ev))
		seen[ev.Event] = true
	}
}

func TestHealthReportsRunningEngine(t *testing.T) {
	s := startStack(t)

	assert.Eventually(t, func() bool { return !s.engine.LastStep().IsZero() }, time.Second, 10*time.Millisecond)

	var snap health.SystemHealth
	require.Equal(t, http.StatusOK, s.get(t, "/healthz", "", &snap))
	assert.NotEqual(t, health.StatusUnhealthy, snap.Status)
	names := make([]string, 0, len(snap.Components))
	for _, c := range snap.Components {
		names = append(names, c.Name)
	}
	assert.Subset(t, names, []string{"database", "engine", "memory", "goroutines"})
}
