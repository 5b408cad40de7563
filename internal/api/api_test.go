package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papermarket/internal/market"
	"papermarket/internal/models"
	"papermarket/internal/store"
	"papermarket/internal/stream"
	"papermarket/internal/trading"
)

type testEnv struct {
	router http.Handler
	engine *market.Engine
	hub    *stream.Hub
	desk   *trading.Desk
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	universe := market.NewUniverse(market.DefaultSymbols)
	ecfg := market.DefaultEngineConfig()
	ecfg.Seed = 7
	ecfg.SessionRollover = false
	engine := market.NewEngine(universe, ecfg, zerolog.Nop())
	charts := market.NewCandleSynthesizer(universe, engine, market.CandleConfig{CacheTTL: time.Minute})

	hcfg := stream.DefaultHubConfig()
	hub := stream.NewHub(hcfg, engine, charts, universe, zerolog.Nop())

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	desk := trading.NewDesk(st, trading.DefaultDeskConfig(), zerolog.Nop())
	desk.SetPriceSource(engine)
	desk.SetSymbolCatalog(universe)

	router := NewRouter(Deps{
		Market:      engine,
		Charts:      charts,
		Search:      universe,
		Hub:         hub,
		Desk:        desk,
		Triggers:    trading.NewTriggerEvaluator(desk, zerolog.Nop()),
		DefaultUser: "default",
		WS:          DefaultWSConfig(),
	}, zerolog.Nop())

	return &testEnv{router: router, engine: engine, hub: hub, desk: desk}
}

func (env *testEnv) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)

	rr = env.do(t, http.MethodGet, "/livez", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"alive"`)
}

func TestMarketEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/market/quotes", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	quotes := decode[[]models.Quote](t, rr)
	assert.Len(t, quotes, len(market.DefaultSymbols))

	rr = env.do(t, http.MethodGet, "/api/market/quotes/reliance", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "RELIANCE", decode[models.Quote](t, rr).Symbol)

	rr = env.do(t, http.MethodGet, "/api/market/quotes/NOPE", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/market/chart/TCS?range=5d", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	chart := decode[models.ChartData](t, rr)
	assert.Equal(t, "5d", chart.Range)
	assert.NotEmpty(t, chart.Data)

	rr = env.do(t, http.MethodGet, "/api/market/chart/TCS", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, string(market.DefaultRange), decode[models.ChartData](t, rr).Range)

	rr = env.do(t, http.MethodGet, "/api/market/chart/TCS?range=7y", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid_range")

	rr = env.do(t, http.MethodGet, "/api/market/search?q=tcs", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	results := decode[[]models.SymbolInfo](t, rr)
	require.NotEmpty(t, results)
	assert.Equal(t, "TCS", results[0].Symbol)

	rr = env.do(t, http.MethodGet, "/api/market/search?q=a&limit=zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTradingFlow(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/trading/order", "alice", map[string]any{
		"symbol": "RELIANCE", "side": "BUY", "quantity": 10, "price": 100, "type": "MARKET", "product": "MIS",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	placed := decode[struct {
		Success bool         `json:"success"`
		Order   models.Order `json:"order"`
	}](t, rr)
	assert.True(t, placed.Success)
	assert.Equal(t, models.OrderStatusExecuted, placed.Order.Status)

	rr = env.do(t, http.MethodGet, "/api/trading/account", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	acc := decode[trading.AccountSummary](t, rr)
	assert.InDelta(t, 999800.0, acc.Balance, 1e-6)
	assert.InDelta(t, 200.0, acc.UsedMargin, 1e-6)

	rr = env.do(t, http.MethodGet, "/api/trading/positions", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	positions := decode[[]models.Position](t, rr)
	require.Len(t, positions, 1)

	rr = env.do(t, http.MethodPost, "/api/trading/close/"+itoa(positions[0].ID), "alice", map[string]any{"currentPrice": 110})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/trading/account", "alice", nil)
	acc = decode[trading.AccountSummary](t, rr)
	assert.InDelta(t, 1000100.0, acc.Balance, 1e-6)
	assert.InDelta(t, 100.0, acc.RealisedPnL, 1e-6)

	rr = env.do(t, http.MethodPost, "/api/trading/close/"+itoa(positions[0].ID), "alice", map[string]any{"currentPrice": 110})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/trading/orders", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]models.Order](t, rr), 2)

	// The default user is separate from alice.
	rr = env.do(t, http.MethodGet, "/api/trading/account", "", nil)
	acc = decode[trading.AccountSummary](t, rr)
	assert.Equal(t, "default", acc.UserID)
	assert.Equal(t, 1000000.0, acc.Balance)
}

func TestTradingErrors(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/trading/order", "alice", map[string]any{
		"symbol": "RELIANCE", "side": "BUY", "quantity": 0, "price": 100,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), `"success":false`)

	rr = env.do(t, http.MethodPost, "/api/trading/order", "alice", map[string]any{
		"symbol": "RELIANCE", "side": "BUY", "quantity": 100000, "price": 2500,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "insufficient_funds")

	rr = env.do(t, http.MethodPost, "/api/trading/cancel/77", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/trading/cancel/abc", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/trading/add-money", "alice", map[string]any{"amount": -1})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid_amount")

	req := httptest.NewRequest(http.MethodPost, "/api/trading/add-money", strings.NewReader("amount=5"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rr = env.do(t, http.MethodPost, "/api/trading/order", "alice", map[string]any{"symbol": "TCS", "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCheckTriggersAndReset(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/trading/order", "bob", map[string]any{
		"symbol": "INFY", "side": "BUY", "quantity": 5, "price": 100, "stopLoss": 95,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/trading/check-triggers", "bob", map[string]any{
		"livePrices": map[string]float64{"INFY": 94},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[checkTriggersResponse](t, rr).Triggered)

	rr = env.do(t, http.MethodPost, "/api/trading/check-triggers", "bob", map[string]any{
		"livePrices": map[string]float64{"INFY": 94},
	})
	assert.False(t, decode[checkTriggersResponse](t, rr).Triggered)

	rr = env.do(t, http.MethodPost, "/api/trading/add-money", "bob", map[string]any{"amount": 500})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/trading/reset", "bob", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/trading/account", "bob", nil)
	acc := decode[trading.AccountSummary](t, rr)
	assert.Equal(t, 1000000.0, acc.Balance)
	assert.Zero(t, acc.RealisedPnL)
	assert.Zero(t, acc.OpenPositions)
}

func TestWebSocketSubscribe(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.hub.Start(ctx)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(stream.ClientMessage{Action: stream.ActionSubscribe, Symbol: "TCS"}))

	var ev struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, stream.EventSnapshot, ev.Event)

	var snap stream.Snapshot
	require.NoError(t, json.Unmarshal(ev.Data, &snap))
	assert.Equal(t, "TCS", snap.Quote.Symbol)

	env.hub.OnBatch(env.engine.Step())

	seen := map[string]bool{}
	for !seen[stream.EventTick] {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		require.NoError(t, conn.ReadJSON(&ev))
		seen[ev.Event] = true
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Event == stream.EventError {
			break
		}
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
