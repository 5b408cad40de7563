package market

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"papermarket/internal/errors"
	"papermarket/internal/models"
	"papermarket/pkg/utils"
)

// Range is a chart range.
type Range string

// Chart ranges.
const (
	Range1m  Range = "1m"
	Range5m  Range = "5m"
	Range1d  Range = "1d"
	Range1w  Range = "1w"
	Range1mo Range = "1mo"
	Range3mo Range = "3mo"
	Range1y  Range = "1y"
)

// DefaultRange is used when a request names no range.
const DefaultRange = Range1mo

const (
	day  = 24 * time.Hour
	week = 7 * day
)

type rangeShape struct {
	count      int
	interval   time.Duration
	volatility float64
}

var rangeShapes = map[Range]rangeShape{
	Range1m:  {count: 60, interval: time.Minute, volatility: 0.0015},
	Range5m:  {count: 60, interval: 5 * time.Minute, volatility: 0.003},
	Range1d:  {count: 75, interval: 5 * time.Minute, volatility: 0.003},
	Range1w:  {count: 35, interval: time.Hour, volatility: 0.006},
	Range1mo: {count: 22, interval: day, volatility: 0.015},
	Range3mo: {count: 66, interval: day, volatility: 0.015},
	Range1y:  {count: 52, interval: week, volatility: 0.035},
}

// Ranges lists the supported ranges, shortest first.
func Ranges() []Range {
	return []Range{Range1m, Range5m, Range1d, Range1w, Range1mo, Range3mo, Range1y}
}

// ParseRange validates a range string; empty selects DefaultRange.
func ParseRange(s string) (Range, error) {
	if s == "" {
		return DefaultRange, nil
	}
	r := Range(strings.ToLower(s))
	if _, ok := rangeShapes[r]; !ok {
		return "", &errors.ValidationError{
			Field:   "range",
			Value:   s,
			Message: "must be one of 1m, 5m, 1d, 1w, 1mo, 3mo, 1y",
			Err:     errors.ErrInvalidRange,
		}
	}
	return r, nil
}

// PriceSource supplies the live price a chart is anchored to.
type PriceSource interface {
	Price(symbol string) (float64, bool)
}

// CandleConfig holds candle synthesizer configuration.
type CandleConfig struct {
	// CacheTTL is how long a generated series is reused; 0 disables the cache.
	CacheTTL time.Duration
	// Source overrides the random source.
	Source Source
	// Now overrides the clock.
	Now func() time.Time
}

type candleEntry struct {
	data    []models.Candle
	expires time.Time
}

// CandleSynthesizer generates plausible historical OHLCV series that end
// at the live price.
type CandleSynthesizer struct {
	universe *Universe
	prices   PriceSource
	ttl      time.Duration
	now      func() time.Time

	srcMu sync.Mutex
	src   Source

	mu    sync.RWMutex
	cache map[string]candleEntry
	group singleflight.Group
}

// NewCandleSynthesizer creates a synthesizer over the universe.
func NewCandleSynthesizer(universe *Universe, prices PriceSource, config CandleConfig) *CandleSynthesizer {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Source == nil {
		seed := uint64(time.Now().UnixNano())
		config.Source = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &CandleSynthesizer{
		universe: universe,
		prices:   prices,
		ttl:      config.CacheTTL,
		now:      config.Now,
		src:      config.Source,
		cache:    make(map[string]candleEntry),
	}
}

// Chart returns the series for symbol over r.
func (c *CandleSynthesizer) Chart(symbol string, r Range) (models.ChartData, error) {
	info, ok := c.universe.Lookup(symbol)
	if !ok {
		return models.ChartData{}, errors.NewNotFoundError("symbol", symbol)
	}
	shape, ok := rangeShapes[r]
	if !ok {
		_, err := ParseRange(string(r))
		return models.ChartData{}, err
	}

	key := info.Symbol + "|" + string(r)
	if data, ok := c.cached(key); ok {
		return models.ChartData{Symbol: info.Symbol, Range: string(r), Data: data}, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if data, ok := c.cached(key); ok {
			return data, nil
		}
		data := c.generate(info, r, shape)
		if c.ttl > 0 {
			c.mu.Lock()
			c.cache[key] = candleEntry{data: data, expires: c.now().Add(c.ttl)}
			c.mu.Unlock()
		}
		return data, nil
	})
	if err != nil {
		return models.ChartData{}, fmt.Errorf("generating %s candles for %s: %w", r, info.Symbol, err)
	}

	data := v.([]models.Candle)
	out := make([]models.Candle, len(data))
	copy(out, data)
	return models.ChartData{Symbol: info.Symbol, Range: string(r), Data: out}, nil
}

func (c *CandleSynthesizer) cached(key string) ([]models.Candle, bool) {
	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(entry.expires) {
		return nil, false
	}
	out := make([]models.Candle, len(entry.data))
	copy(out, entry.data)
	return out, true
}

// Purge drops expired cache entries and returns how many were removed.
func (c *CandleSynthesizer) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, entry := range c.cache {
		if !now.Before(entry.expires) {
			delete(c.cache, key)
			n++
		}
	}
	return n
}

func (c *CandleSynthesizer) generate(info models.SymbolInfo, r Range, shape rangeShape) []models.Candle {
	live, ok := c.prices.Price(info.Symbol)
	if !ok || live <= 0 {
		live = math.Max(1, info.BasePrice)
	}

	times := candleTimes(c.now(), r, shape)

	c.srcMu.Lock()
	defer c.srcMu.Unlock()

	volFraction := volumeFraction(shape.interval)

	candles := make([]models.Candle, len(times))
	prevClose := math.Max(1, info.BasePrice)
	for i, ts := range times {
		open := prevClose
		closePx := open * (1 + shape.volatility*Normal(c.src))
		if closePx <= 0 {
			closePx = open
		}
		high := math.Max(open, closePx) * (1 + math.Abs(shape.volatility*Normal(c.src))/2)
		low := math.Min(open, closePx) * (1 - math.Abs(shape.volatility*Normal(c.src))/2)
		if low < 0 {
			low = 0
		}
		volume := int64(float64(info.AvgVolume) * volFraction * (0.5 + c.src.Float64()))
		candles[i] = models.Candle{
			Timestamp: ts,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    volume,
		}
		prevClose = closePx
	}

	if n := len(candles); n > 0 && candles[n-1].Close > 0 {
		scale := live / candles[n-1].Close
		for i := range candles {
			candles[i].Open = utils.Round2(candles[i].Open * scale)
			candles[i].High = utils.Round2(candles[i].High * scale)
			candles[i].Low = utils.Round2(candles[i].Low * scale)
			candles[i].Close = utils.Round2(candles[i].Close * scale)
			// Rounding can nudge the extrema across the body.
			candles[i].High = math.Max(candles[i].High, math.Max(candles[i].Open, candles[i].Close))
			candles[i].Low = math.Min(candles[i].Low, math.Min(candles[i].Open, candles[i].Close))
		}
		candles[n-1].Close = utils.Round2(live)
		candles[n-1].High = math.Max(candles[n-1].High, candles[n-1].Close)
		candles[n-1].Low = math.Min(candles[n-1].Low, candles[n-1].Close)
	}
	return candles
}

// volumeFraction is the share of a session's average volume one candle
// carries: intraday intervals scale down, weekly candles hold five sessions.
func volumeFraction(interval time.Duration) float64 {
	switch {
	case interval >= week:
		return 5
	case interval >= day:
		return 1
	default:
		return math.Min(1, interval.Hours()/6.25)
	}
}

// candleTimes returns the ascending open times of a range ending at now.
func candleTimes(now time.Time, r Range, shape rangeShape) []time.Time {
	now = now.In(utils.IndiaLocation)
	times := make([]time.Time, shape.count)

	if r == Range1d {
		// The current session up to the candle in progress; before the
		// open, the previous session in full.
		start := utils.SessionOpen(now)
		if now.Before(start) {
			start = utils.SessionOpen(start.AddDate(0, 0, -1))
		}
		if elapsed := now.Sub(start); elapsed < time.Duration(shape.count)*shape.interval {
			times = times[:int(elapsed/shape.interval)+1]
		}
		for i := range times {
			times[i] = start.Add(time.Duration(i) * shape.interval)
		}
		return times
	}

	if shape.interval < day {
		end := now.Truncate(shape.interval)
		start := end.Add(-time.Duration(shape.count-1) * shape.interval)
		for i := range times {
			times[i] = start.Add(time.Duration(i) * shape.interval)
		}
		return times
	}

	// Daily and weekly candles open at the session open and land on weekdays.
	t := utils.SessionOpen(now)
	if now.Before(t) {
		t = utils.SessionOpen(t.AddDate(0, 0, -1))
	}
	for i := shape.count - 1; i >= 0; i-- {
		times[i] = t
		t = prevWeekday(t.Add(-shape.interval))
	}
	return times
}

func prevWeekday(t time.Time) time.Time {
	for utils.IsWeekend(t) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}
