package market

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"papermarket/internal/models"
)

// Property: For any base price, beta, seed and number of steps, the simulated
// price stays finite, never drops below 1 and always lies inside the day's
// running range.
func TestProperty_PriceStaysWithinDayRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("price >= 1 and dayLow <= price <= dayHigh", prop.ForAll(
		func(basePrice, beta float64, seed uint64, steps int, timeScale float64) bool {
			p := NewPriceProcess(models.SymbolInfo{
				Symbol:    "TEST",
				BasePrice: basePrice,
				Beta:      beta,
				AvgVolume: 100000,
			})
			src := rand.New(rand.NewPCG(seed, seed+1))
			dt := StepDT(timeScale)
			now := time.Now()

			for i := 0; i < steps; i++ {
				p.Step(src, dt, now)
				if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
					return false
				}
				if p.Price < 1 {
					return false
				}
				if p.DayLow > p.Price || p.Price > p.DayHigh {
					return false
				}
				if p.Low52 > p.DayLow || p.High52 < p.DayHigh {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0.5, 50000),
		gen.Float64Range(0, 3),
		gen.UInt64(),
		gen.IntRange(1, 500),
		// Large time scales push the process toward the floor.
		gen.Float64Range(1, 100000),
	))

	properties.TestingRun(t)
}

// Property: Volume is cumulative within a session and grows by at least one
// share per tick.
func TestProperty_VolumeIsMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("volume strictly increases every tick", prop.ForAll(
		func(avgVolume int64, seed uint64) bool {
			p := NewPriceProcess(models.SymbolInfo{Symbol: "TEST", BasePrice: 100, Beta: 1, AvgVolume: avgVolume})
			src := rand.New(rand.NewPCG(seed, 7))
			last := p.Volume
			for i := 0; i < 100; i++ {
				p.Step(src, StepDT(1), time.Now())
				if p.Volume <= last {
					return false
				}
				last = p.Volume
			}
			return true
		},
		gen.Int64Range(0, 50000000),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}

// Property: Every batch carries every symbol with change equal to price minus
// previous close.
func TestProperty_BatchChangeMatchesPreviousClose(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("tick change = price - previousClose", prop.ForAll(
		func(seed uint64, steps int) bool {
			universe := NewUniverse(DefaultSymbols)
			cfg := DefaultEngineConfig()
			cfg.Seed = seed | 1
			cfg.SessionRollover = false
			engine := NewEngine(universe, cfg, zerolog.Nop())

			var batch models.Batch
			for i := 0; i < steps; i++ {
				batch = engine.Step()
			}
			if len(batch.Ticks) != universe.Len() || batch.Seq != uint64(steps) {
				return false
			}
			for sym, tick := range batch.Ticks {
				q, err := engine.Quote(sym)
				if err != nil {
					return false
				}
				if math.Abs(tick.Change-(q.Price-q.PreviousClose)) > 1e-9 {
					return false
				}
				want := tick.Change / q.PreviousClose * 100
				if math.Abs(tick.ChangePercent-want) > 1e-9 {
					return false
				}
			}
			return true
		},
		gen.UInt64(),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
