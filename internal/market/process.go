package market

import (
	"math"
	"time"

	"papermarket/internal/models"
)

// Simulation constants.
const (
	// TradingSecondsPerYear is 252 sessions of 6h15m.
	TradingSecondsPerYear = 252 * 6.25 * 3600
	// TicksPerSession is one tick per trading second.
	TicksPerSession = 6.25 * 3600

	annualDrift   = 0.08
	sigmaPerBeta  = 0.18
	minVolatility = 0.10
	maxVolatility = 0.60
	minPrice      = 1.0
)

// Source is the uniform random source driving the simulation.
// *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	Float64() float64
}

// Normal draws a standard-normal variate with the Box-Muller transform.
func Normal(src Source) float64 {
	// 1-u keeps u1 in (0, 1] so the log is finite
	u1 := 1 - src.Float64()
	u2 := src.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// VolatilityForBeta maps a beta to an annualised volatility.
func VolatilityForBeta(beta float64) float64 {
	return math.Min(maxVolatility, math.Max(minVolatility, sigmaPerBeta*beta))
}

// StepDT returns the GBM time step for one tick at the given time scale.
func StepDT(timeScale float64) float64 {
	if timeScale <= 0 {
		timeScale = 1
	}
	return timeScale / TradingSecondsPerYear
}

// PriceProcess holds the simulated state of one symbol.
type PriceProcess struct {
	Info models.SymbolInfo

	Price         float64
	PreviousClose float64
	Open          float64
	DayHigh       float64
	DayLow        float64
	High52        float64
	Low52         float64
	Volume        int64

	Sigma float64
	Mu    float64

	UpdatedAt time.Time
}

// NewPriceProcess seeds a process at the symbol's base price. The 52-week
// range is seeded around the base price so it is not degenerate.
func NewPriceProcess(info models.SymbolInfo) *PriceProcess {
	base := math.Max(minPrice, info.BasePrice)
	return &PriceProcess{
		Info:          info,
		Price:         base,
		PreviousClose: base,
		Open:          base,
		DayHigh:       base,
		DayLow:        base,
		High52:        base * 1.25,
		Low52:         base * 0.75,
		Sigma:         VolatilityForBeta(info.Beta),
		Mu:            annualDrift,
	}
}

// Step advances the process by one tick of length dt (in years).
func (p *PriceProcess) Step(src Source, dt float64, now time.Time) {
	z := Normal(src)
	next := p.Price + p.Price*(p.Mu*dt+p.Sigma*math.Sqrt(dt)*z)
	if math.IsNaN(next) || math.IsInf(next, 0) || next < minPrice {
		next = math.Max(minPrice, math.Min(next, p.Price))
		if math.IsNaN(next) {
			next = p.Price
		}
	}
	p.Price = next

	if p.Price > p.DayHigh {
		p.DayHigh = p.Price
	}
	if p.Price < p.DayLow {
		p.DayLow = p.Price
	}
	if p.Price > p.High52 {
		p.High52 = p.Price
	}
	if p.Price < p.Low52 {
		p.Low52 = p.Price
	}

	perTick := float64(p.Info.AvgVolume) / TicksPerSession
	inc := int64(perTick * (0.5 + src.Float64()))
	if inc < 1 {
		inc = 1
	}
	p.Volume += inc
	p.UpdatedAt = now
}

// Rollover starts a new session: the last price becomes the previous close
// and the day range and volume reset.
func (p *PriceProcess) Rollover() {
	p.PreviousClose = p.Price
	p.Open = p.Price
	p.DayHigh = p.Price
	p.DayLow = p.Price
	p.Volume = 0
}

// Change returns the absolute and percent change against the previous close.
func (p *PriceProcess) Change() (float64, float64) {
	change := p.Price - p.PreviousClose
	if p.PreviousClose == 0 {
		return change, 0
	}
	return change, change / p.PreviousClose * 100
}

// Tick returns the current delta for the batch.
func (p *PriceProcess) Tick() models.Tick {
	change, pct := p.Change()
	return models.Tick{
		Symbol:        p.Info.Symbol,
		Price:         p.Price,
		Change:        change,
		ChangePercent: pct,
		Volume:        p.Volume,
		DayHigh:       p.DayHigh,
		DayLow:        p.DayLow,
		Timestamp:     p.UpdatedAt,
	}
}

// Quote returns the full view of the process.
func (p *PriceProcess) Quote() models.Quote {
	change, pct := p.Change()
	return models.Quote{
		SymbolInfo:    p.Info,
		Price:         p.Price,
		PreviousClose: p.PreviousClose,
		Open:          p.Open,
		DayHigh:       p.DayHigh,
		DayLow:        p.DayLow,
		High52:        p.High52,
		Low52:         p.Low52,
		Volume:        p.Volume,
		Change:        change,
		ChangePercent: pct,
		Timestamp:     p.UpdatedAt,
	}
}
