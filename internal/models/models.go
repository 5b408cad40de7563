// Package models provides domain models for the market simulator and paper
// trading desk.
package models

import (
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
)

// MarketStatus represents the current market status.
type MarketStatus string

const (
	MarketOpen             MarketStatus = "OPEN"
	MarketPreOpen          MarketStatus = "PRE_OPEN"
	MarketClosed           MarketStatus = "CLOSED"
	MarketMISSquareOffWarn MarketStatus = "MIS_SQUAREOFF_WARNING"
)

// SymbolInfo is the static description of a simulated instrument.
type SymbolInfo struct {
	Symbol        string   `json:"symbol"`
	Name          string   `json:"name"`
	Sector        string   `json:"sector"`
	Exchange      Exchange `json:"exchange"`
	BasePrice     float64  `json:"basePrice"`
	MarketCap     float64  `json:"marketCap"`
	PE            float64  `json:"pe"`
	PB            float64  `json:"pb"`
	EPS           float64  `json:"eps"`
	BookValue     float64  `json:"bookValue"`
	DividendYield float64  `json:"dividendYield"`
	Beta          float64  `json:"beta"`
	AvgVolume     int64    `json:"avgVolume"`
}

// Tick is the per-symbol delta produced by one engine firing.
type Tick struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Volume        int64     `json:"volume"`
	DayHigh       float64   `json:"dayHigh"`
	DayLow        float64   `json:"dayLow"`
	Timestamp     time.Time `json:"timestamp"`
}

// Batch is one engine firing across all symbols.
type Batch struct {
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Ticks     map[string]Tick `json:"ticks"`
}

// Prices returns the symbol to last price snapshot of the batch.
func (b Batch) Prices() map[string]float64 {
	prices := make(map[string]float64, len(b.Ticks))
	for sym, t := range b.Ticks {
		prices[sym] = t.Price
	}
	return prices
}

// Quote is the full point-in-time view of a symbol.
type Quote struct {
	SymbolInfo
	Price         float64   `json:"price"`
	PreviousClose float64   `json:"previousClose"`
	Open          float64   `json:"open"`
	DayHigh       float64   `json:"dayHigh"`
	DayLow        float64   `json:"dayLow"`
	High52        float64   `json:"fiftyTwoWeekHigh"`
	Low52         float64   `json:"fiftyTwoWeekLow"`
	Volume        int64     `json:"volume"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Timestamp     time.Time `json:"timestamp"`
}

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time `json:"date" csv:"date"`
	Open      float64   `json:"open" csv:"open"`
	High      float64   `json:"high" csv:"high"`
	Low       float64   `json:"low" csv:"low"`
	Close     float64   `json:"close" csv:"close"`
	Volume    int64     `json:"volume" csv:"volume"`
}

// ChartData is the candle payload served for a symbol and range.
type ChartData struct {
	Symbol string   `json:"symbol"`
	Range  string   `json:"range"`
	Data   []Candle `json:"data"`
}

// BookLevel is one price level of a synthetic order book.
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	Orders   int     `json:"orders"`
	Total    int64   `json:"total"`
}

// OrderBook is a synthetic depth snapshot.
type OrderBook struct {
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
}

// TradePrint is a synthetic trade shown on the tape.
type TradePrint struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  int64     `json:"quantity"`
	Side      OrderSide `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}
