package market

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"papermarket/internal/errors"
	"papermarket/internal/models"
	"papermarket/pkg/utils"
)

// Listener receives every batch the engine produces.
type Listener interface {
	OnBatch(batch models.Batch)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(batch models.Batch)

// OnBatch calls f(batch).
func (f ListenerFunc) OnBatch(batch models.Batch) { f(batch) }

// EngineConfig holds engine configuration.
type EngineConfig struct {
	// TickInterval is the wall-clock period between batches.
	TickInterval time.Duration
	// Seed seeds the uniform source; 0 seeds from the clock.
	Seed uint64
	// TimeScale multiplies the per-tick dt.
	TimeScale float64
	// SessionRollover resets session fields at each new IST trading day.
	SessionRollover bool
	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TickInterval:    time.Second,
		TimeScale:       1.0,
		SessionRollover: true,
	}
}

// Engine drives one PriceProcess per symbol on a fixed period and
// publishes a Batch to its listeners after each step.
type Engine struct {
	config   EngineConfig
	universe *Universe
	logger   zerolog.Logger

	mu        sync.RWMutex
	processes map[string]*PriceProcess
	order     []string
	rng       *rand.Rand
	dt        float64
	seq       uint64
	lastAt    time.Time
	day       string

	listenersMu sync.RWMutex
	listeners   []Listener
}

// NewEngine creates an engine over the universe.
func NewEngine(universe *Universe, config EngineConfig, logger zerolog.Logger) *Engine {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	seed := config.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	e := &Engine{
		config:    config,
		universe:  universe,
		logger:    logger.With().Str("component", "engine").Logger(),
		processes: make(map[string]*PriceProcess, universe.Len()),
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		dt:        StepDT(config.TimeScale),
		day:       utils.TradingDay(config.Now()),
	}
	now := config.Now()
	for _, info := range universe.Symbols() {
		p := NewPriceProcess(info)
		p.UpdatedAt = now
		e.processes[info.Symbol] = p
		e.order = append(e.order, info.Symbol)
	}
	return e
}

// Universe returns the symbol catalogue the engine simulates.
func (e *Engine) Universe() *Universe {
	return e.universe
}

// AddListener registers l; listeners are called in registration order.
func (e *Engine) AddListener(l Listener) {
	e.listenersMu.Lock()
	e.listeners = append(e.listeners, l)
	e.listenersMu.Unlock()
}

// Run steps the engine every TickInterval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	e.logger.Info().
		Int("symbols", len(e.order)).
		Dur("interval", e.config.TickInterval).
		Msg("Engine started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Uint64("batches", e.Seq()).Msg("Engine stopped")
			return nil
		case <-ticker.C:
			e.Step()
		}
	}
}

// Step advances every process once and notifies the listeners.
func (e *Engine) Step() models.Batch {
	batch := e.advance()
	e.notify(batch)
	return batch
}

func (e *Engine) advance() models.Batch {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.config.Now()
	if e.config.SessionRollover {
		if day := utils.TradingDay(now); day != e.day {
			for _, p := range e.processes {
				p.Rollover()
			}
			e.logger.Info().Str("day", day).Msg("Session rolled over")
			e.day = day
		}
	}

	e.seq++
	e.lastAt = now
	batch := models.Batch{
		Seq:       e.seq,
		Timestamp: now,
		Ticks:     make(map[string]models.Tick, len(e.order)),
	}
	for _, sym := range e.order {
		p := e.processes[sym]
		p.Step(e.rng, e.dt, now)
		batch.Ticks[sym] = p.Tick()
	}
	return batch
}

func (e *Engine) notify(batch models.Batch) {
	e.listenersMu.RLock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.listenersMu.RUnlock()

	for i, l := range listeners {
		var pc panics.Catcher
		pc.Try(func() { l.OnBatch(batch) })
		if r := pc.Recovered(); r != nil {
			e.logger.Error().
				Err(r.AsError()).
				Int("listener", i).
				Uint64("seq", batch.Seq).
				Msg("Listener panicked")
		}
	}
}

// Seq returns the sequence number of the last batch.
func (e *Engine) Seq() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.seq
}

// LastStep returns when the engine last stepped, zero before the first step.
func (e *Engine) LastStep() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastAt
}

// Quote returns the current quote for symbol.
func (e *Engine) Quote(symbol string) (models.Quote, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.processes[strings.ToUpper(symbol)]
	if !ok {
		return models.Quote{}, errors.NewNotFoundError("symbol", symbol)
	}
	return p.Quote(), nil
}

// Quotes returns every quote in universe order.
func (e *Engine) Quotes() []models.Quote {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.Quote, 0, len(e.order))
	for _, sym := range e.order {
		out = append(out, e.processes[sym].Quote())
	}
	return out
}

// Price returns the current price for symbol.
func (e *Engine) Price(symbol string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.processes[strings.ToUpper(symbol)]
	if !ok {
		return 0, false
	}
	return p.Price, true
}

// Prices returns a snapshot of every current price.
func (e *Engine) Prices() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]float64, len(e.processes))
	for sym, p := range e.processes {
		out[sym] = p.Price
	}
	return out
}
