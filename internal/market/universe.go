// Package market implements the synthetic price simulation: per-symbol GBM
// processes, the tick engine that drives them, and historical candle
// synthesis for charts.
package market

import (
	"sort"
	"strings"

	"github.com/google/btree"

	"papermarket/internal/models"
)

// DefaultSymbols is the seeded NSE universe.
var DefaultSymbols = []models.SymbolInfo{
	{Symbol: "RELIANCE", Name: "Reliance Industries Ltd", Sector: "Energy", Exchange: models.NSE, BasePrice: 2945.50, MarketCap: 19.9e12, PE: 28.4, PB: 2.4, EPS: 103.7, BookValue: 1227.3, DividendYield: 0.34, Beta: 0.95, AvgVolume: 6500000},
	{Symbol: "TCS", Name: "Tata Consultancy Services Ltd", Sector: "IT", Exchange: models.NSE, BasePrice: 3890.25, MarketCap: 14.1e12, PE: 30.1, PB: 14.2, EPS: 129.2, BookValue: 274.0, DividendYield: 1.33, Beta: 0.65, AvgVolume: 2100000},
	{Symbol: "HDFCBANK", Name: "HDFC Bank Ltd", Sector: "Banking", Exchange: models.NSE, BasePrice: 1532.80, MarketCap: 11.6e12, PE: 17.9, PB: 2.6, EPS: 85.6, BookValue: 589.5, DividendYield: 1.27, Beta: 0.85, AvgVolume: 15800000},
	{Symbol: "INFY", Name: "Infosys Ltd", Sector: "IT", Exchange: models.NSE, BasePrice: 1478.60, MarketCap: 6.1e12, PE: 23.2, PB: 7.3, EPS: 63.7, BookValue: 202.5, DividendYield: 2.47, Beta: 0.72, AvgVolume: 6900000},
	{Symbol: "ICICIBANK", Name: "ICICI Bank Ltd", Sector: "Banking", Exchange: models.NSE, BasePrice: 1085.40, MarketCap: 7.6e12, PE: 18.1, PB: 3.2, EPS: 59.9, BookValue: 339.2, DividendYield: 0.74, Beta: 0.98, AvgVolume: 14200000},
	{Symbol: "SBIN", Name: "State Bank of India", Sector: "Banking", Exchange: models.NSE, BasePrice: 762.15, MarketCap: 6.8e12, PE: 10.3, PB: 1.7, EPS: 74.0, BookValue: 448.3, DividendYield: 1.49, Beta: 1.22, AvgVolume: 18500000},
	{Symbol: "BHARTIARTL", Name: "Bharti Airtel Ltd", Sector: "Telecom", Exchange: models.NSE, BasePrice: 1218.70, MarketCap: 7.2e12, PE: 72.5, PB: 8.9, EPS: 16.8, BookValue: 136.9, DividendYield: 0.33, Beta: 0.68, AvgVolume: 7100000},
	{Symbol: "ITC", Name: "ITC Ltd", Sector: "FMCG", Exchange: models.NSE, BasePrice: 436.90, MarketCap: 5.4e12, PE: 26.8, PB: 7.6, EPS: 16.3, BookValue: 57.5, DividendYield: 3.09, Beta: 0.55, AvgVolume: 12600000},
	{Symbol: "KOTAKBANK", Name: "Kotak Mahindra Bank Ltd", Sector: "Banking", Exchange: models.NSE, BasePrice: 1745.35, MarketCap: 3.5e12, PE: 19.6, PB: 2.8, EPS: 89.1, BookValue: 623.3, DividendYield: 0.11, Beta: 0.88, AvgVolume: 4300000},
	{Symbol: "LT", Name: "Larsen & Toubro Ltd", Sector: "Infrastructure", Exchange: models.NSE, BasePrice: 3512.00, MarketCap: 4.8e12, PE: 37.2, PB: 5.4, EPS: 94.4, BookValue: 650.4, DividendYield: 0.80, Beta: 1.05, AvgVolume: 2200000},
	{Symbol: "HINDUNILVR", Name: "Hindustan Unilever Ltd", Sector: "FMCG", Exchange: models.NSE, BasePrice: 2398.45, MarketCap: 5.6e12, PE: 55.1, PB: 11.1, EPS: 43.5, BookValue: 216.1, DividendYield: 1.71, Beta: 0.48, AvgVolume: 1600000},
	{Symbol: "AXISBANK", Name: "Axis Bank Ltd", Sector: "Banking", Exchange: models.NSE, BasePrice: 1102.60, MarketCap: 3.4e12, PE: 13.2, PB: 2.2, EPS: 83.5, BookValue: 501.2, DividendYield: 0.09, Beta: 1.15, AvgVolume: 9800000},
	{Symbol: "BAJFINANCE", Name: "Bajaj Finance Ltd", Sector: "Financial Services", Exchange: models.NSE, BasePrice: 6875.30, MarketCap: 4.2e12, PE: 29.7, PB: 5.9, EPS: 231.5, BookValue: 1165.3, DividendYield: 0.52, Beta: 1.32, AvgVolume: 1300000},
	{Symbol: "MARUTI", Name: "Maruti Suzuki India Ltd", Sector: "Automobile", Exchange: models.NSE, BasePrice: 12450.00, MarketCap: 3.9e12, PE: 28.9, PB: 4.5, EPS: 430.8, BookValue: 2766.7, DividendYield: 1.00, Beta: 0.80, AvgVolume: 450000},
	{Symbol: "ASIANPAINT", Name: "Asian Paints Ltd", Sector: "Consumer Durables", Exchange: models.NSE, BasePrice: 2845.10, MarketCap: 2.7e12, PE: 52.3, PB: 14.8, EPS: 54.4, BookValue: 192.2, DividendYield: 0.90, Beta: 0.62, AvgVolume: 1100000},
	{Symbol: "WIPRO", Name: "Wipro Ltd", Sector: "IT", Exchange: models.NSE, BasePrice: 482.35, MarketCap: 2.5e12, PE: 21.5, PB: 3.4, EPS: 22.4, BookValue: 141.9, DividendYield: 0.21, Beta: 0.78, AvgVolume: 5400000},
	{Symbol: "TATAMOTORS", Name: "Tata Motors Ltd", Sector: "Automobile", Exchange: models.NSE, BasePrice: 978.55, MarketCap: 3.6e12, PE: 10.8, PB: 4.1, EPS: 90.6, BookValue: 238.7, DividendYield: 0.61, Beta: 1.45, AvgVolume: 16700000},
	{Symbol: "SUNPHARMA", Name: "Sun Pharmaceutical Industries Ltd", Sector: "Pharma", Exchange: models.NSE, BasePrice: 1612.40, MarketCap: 3.9e12, PE: 38.4, PB: 5.9, EPS: 42.0, BookValue: 273.3, DividendYield: 0.84, Beta: 0.58, AvgVolume: 2800000},
	{Symbol: "TITAN", Name: "Titan Company Ltd", Sector: "Consumer Durables", Exchange: models.NSE, BasePrice: 3365.80, MarketCap: 3.0e12, PE: 86.2, PB: 27.1, EPS: 39.0, BookValue: 124.2, DividendYield: 0.33, Beta: 0.92, AvgVolume: 950000},
	{Symbol: "ULTRACEMCO", Name: "UltraTech Cement Ltd", Sector: "Cement", Exchange: models.NSE, BasePrice: 10980.75, MarketCap: 3.2e12, PE: 45.6, PB: 5.2, EPS: 240.8, BookValue: 2111.7, DividendYield: 0.64, Beta: 0.86, AvgVolume: 350000},
}

// DefaultSearchLimit caps search results when the caller passes no limit.
const DefaultSearchLimit = 10

type symbolItem struct {
	key  string // upper-cased symbol
	info models.SymbolInfo
}

func lessSymbol(a, b symbolItem) bool { return a.key < b.key }

// Universe is the immutable catalogue of tradable symbols.
type Universe struct {
	symbols []models.SymbolInfo
	bySym   map[string]models.SymbolInfo
	index   *btree.BTreeG[symbolItem]
}

// NewUniverse builds a universe; duplicate symbols keep the first entry.
func NewUniverse(symbols []models.SymbolInfo) *Universe {
	u := &Universe{
		bySym: make(map[string]models.SymbolInfo, len(symbols)),
		index: btree.NewG(8, lessSymbol),
	}
	for _, s := range symbols {
		key := strings.ToUpper(s.Symbol)
		if _, dup := u.bySym[key]; dup {
			continue
		}
		u.symbols = append(u.symbols, s)
		u.bySym[key] = s
		u.index.ReplaceOrInsert(symbolItem{key: key, info: s})
	}
	return u
}

// Symbols returns the catalogue in seed order.
func (u *Universe) Symbols() []models.SymbolInfo {
	out := make([]models.SymbolInfo, len(u.symbols))
	copy(out, u.symbols)
	return out
}

// Lookup returns the symbol info, case-insensitively.
func (u *Universe) Lookup(symbol string) (models.SymbolInfo, bool) {
	s, ok := u.bySym[strings.ToUpper(symbol)]
	return s, ok
}

// Has reports whether symbol is in the universe.
func (u *Universe) Has(symbol string) bool {
	_, ok := u.Lookup(symbol)
	return ok
}

// Len returns the number of symbols.
func (u *Universe) Len() int {
	return len(u.symbols)
}

// Search ranks symbols for query: symbol-prefix matches first in symbol
// order, then name-prefix, then substring matches on symbol or name.
func (u *Universe) Search(query string, limit int) []models.SymbolInfo {
	q := strings.ToUpper(strings.TrimSpace(query))
	if q == "" {
		return []models.SymbolInfo{}
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	results := make([]models.SymbolInfo, 0, limit)
	seen := make(map[string]bool)
	add := func(s models.SymbolInfo) bool {
		key := strings.ToUpper(s.Symbol)
		if !seen[key] {
			seen[key] = true
			results = append(results, s)
		}
		return len(results) < limit
	}

	more := true
	u.index.AscendGreaterOrEqual(symbolItem{key: q}, func(it symbolItem) bool {
		if !strings.HasPrefix(it.key, q) {
			return false
		}
		more = add(it.info)
		return more
	})
	if !more {
		return results
	}

	var namePrefix, contains []models.SymbolInfo
	for _, s := range u.symbols {
		name := strings.ToUpper(s.Name)
		switch {
		case strings.HasPrefix(name, q):
			namePrefix = append(namePrefix, s)
		case strings.Contains(strings.ToUpper(s.Symbol), q) || strings.Contains(name, q):
			contains = append(contains, s)
		}
	}
	sort.SliceStable(namePrefix, func(i, j int) bool { return namePrefix[i].Symbol < namePrefix[j].Symbol })
	sort.SliceStable(contains, func(i, j int) bool { return contains[i].Symbol < contains[j].Symbol })

	for _, group := range [][]models.SymbolInfo{namePrefix, contains} {
		for _, s := range group {
			if !add(s) {
				return results
			}
		}
	}
	return results
}
