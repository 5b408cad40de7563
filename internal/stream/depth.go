package stream

import (
	"math"
	"time"

	"github.com/oklog/ulid/v2"

	"papermarket/internal/market"
	"papermarket/internal/models"
	"papermarket/pkg/utils"
)

// PriceTick is the exchange tick size prices are rounded to.
const PriceTick = 0.05

// BuildOrderBook synthesizes depth around price. Level k sits at
// price*(1-spread*k) on the bid side and price*(1+spread*k) on the ask side.
func BuildOrderBook(symbol string, price float64, levels int, spread float64, src market.Source, now time.Time) models.OrderBook {
	book := models.OrderBook{
		Symbol:    symbol,
		Bids:      make([]models.BookLevel, 0, levels),
		Asks:      make([]models.BookLevel, 0, levels),
		Timestamp: now,
	}

	var bidTotal, askTotal int64
	for k := 1; k <= levels; k++ {
		bid := depthLevel(utils.RoundTick(price*(1-spread*float64(k)), PriceTick), src)
		bidTotal += bid.Quantity
		bid.Total = bidTotal
		book.Bids = append(book.Bids, bid)

		ask := depthLevel(utils.RoundTick(price*(1+spread*float64(k)), PriceTick), src)
		askTotal += ask.Quantity
		ask.Total = askTotal
		book.Asks = append(book.Asks, ask)
	}
	return book
}

func depthLevel(price float64, src market.Source) models.BookLevel {
	return models.BookLevel{
		Price:    math.Max(PriceTick, price),
		Quantity: 50 + int64(src.Float64()*5000),
		Orders:   1 + int(src.Float64()*40),
	}
}

// GenerateTrades returns 1-3 synthetic prints near price.
func GenerateTrades(symbol string, price, spread float64, src market.Source, now time.Time) []models.TradePrint {
	n := 1 + int(src.Float64()*3)
	if n > 3 {
		n = 3
	}

	prints := make([]models.TradePrint, n)
	for i := range prints {
		side := models.OrderSideBuy
		if src.Float64() < 0.5 {
			side = models.OrderSideSell
		}
		jitter := (src.Float64()*2 - 1) * spread
		prints[i] = models.TradePrint{
			ID:        ulid.Make().String(),
			Symbol:    symbol,
			Price:     math.Max(PriceTick, utils.RoundTick(price*(1+jitter), PriceTick)),
			Quantity:  1 + int64(src.Float64()*500),
			Side:      side,
			Timestamp: now,
		}
	}
	return prints
}

// tradeRing keeps the most recent prints for one symbol.
type tradeRing struct {
	buf  []models.TradePrint
	next int
	full bool
}

func newTradeRing(size int) *tradeRing {
	if size < 1 {
		size = 1
	}
	return &tradeRing{buf: make([]models.TradePrint, size)}
}

func (r *tradeRing) push(prints ...models.TradePrint) {
	for _, p := range prints {
		r.buf[r.next] = p
		r.next = (r.next + 1) % len(r.buf)
		if r.next == 0 {
			r.full = true
		}
	}
}

// recent returns the retained prints, newest first.
func (r *tradeRing) recent() []models.TradePrint {
	n := r.next
	if r.full {
		n = len(r.buf)
	}
	out := make([]models.TradePrint, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
