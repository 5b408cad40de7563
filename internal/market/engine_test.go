package market

import (
	"bytes"
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papermarket/internal/errors"
	"papermarket/internal/models"
)

func testEngine(t *testing.T, now func() time.Time) *Engine {
	t.Helper()
	cfg := DefaultEngineConfig()
	cfg.Seed = 42
	cfg.TickInterval = 5 * time.Millisecond
	cfg.Now = now
	return NewEngine(NewUniverse(DefaultSymbols), cfg, zerolog.Nop())
}

func TestEngineListenerPanicDoesNotStopOthers(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultEngineConfig()
	cfg.Seed = 1
	engine := NewEngine(NewUniverse(DefaultSymbols), cfg, zerolog.New(&buf))

	var calls []string
	engine.AddListener(ListenerFunc(func(models.Batch) { calls = append(calls, "first") }))
	engine.AddListener(ListenerFunc(func(models.Batch) { panic("boom") }))
	engine.AddListener(ListenerFunc(func(models.Batch) { calls = append(calls, "third") }))

	engine.Step()
	engine.Step()

	assert.Equal(t, []string{"first", "third", "first", "third"}, calls)
	assert.Contains(t, buf.String(), "Listener panicked")
	assert.Equal(t, uint64(2), engine.Seq())
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	engine := testEngine(t, nil)

	var mu sync.Mutex
	received := 0
	engine.AddListener(ListenerFunc(func(models.Batch) {
		mu.Lock()
		received++
		mu.Unlock()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received >= 3
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestEngineQuoteLookup(t *testing.T) {
	engine := testEngine(t, nil)
	engine.Step()

	q, err := engine.Quote("reliance")
	require.NoError(t, err)
	assert.Equal(t, "RELIANCE", q.Symbol)
	assert.Equal(t, "Reliance Industries Ltd", q.Name)
	assert.InDelta(t, q.Price-q.PreviousClose, q.Change, 1e-9)

	_, err = engine.Quote("NOPE")
	assert.ErrorIs(t, err, errors.ErrSymbolNotFound)

	prices := engine.Prices()
	assert.Len(t, prices, len(DefaultSymbols))
	price, ok := engine.Price("TCS")
	assert.True(t, ok)
	assert.Equal(t, prices["TCS"], price)

	quotes := engine.Quotes()
	require.Len(t, quotes, len(DefaultSymbols))
	assert.Equal(t, DefaultSymbols[0].Symbol, quotes[0].Symbol)
}

func TestEngineSessionRollover(t *testing.T) {
	ist := time.FixedZone("IST", 19800)
	clock := time.Date(2026, 10, 13, 15, 0, 0, 0, ist)
	engine := testEngine(t, func() time.Time { return clock })

	for i := 0; i < 10; i++ {
		engine.Step()
	}
	before, err := engine.Quote("INFY")
	require.NoError(t, err)
	require.NotZero(t, before.Volume)

	clock = time.Date(2026, 10, 14, 9, 15, 0, 0, ist)
	engine.Step()

	after, err := engine.Quote("INFY")
	require.NoError(t, err)
	assert.Equal(t, before.Price, after.PreviousClose)
	assert.Equal(t, before.Price, after.Open)
	assert.Less(t, after.Volume, before.Volume)
}

func TestNormalIsFinite(t *testing.T) {
	// A source returning 0 exercises the log(1-u) edge.
	z := Normal(constSource(0))
	assert.False(t, math.IsNaN(z) || math.IsInf(z, 0))
	assert.Equal(t, 0.10, VolatilityForBeta(0.1))
	assert.Equal(t, 0.60, VolatilityForBeta(10))
	assert.InDelta(t, 0.18, VolatilityForBeta(1), 1e-12)
}

type constSource float64

func (c constSource) Float64() float64 { return float64(c) }
