package stream

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"papermarket/internal/market"
	"papermarket/internal/models"
)

func newTestHub(config HubConfig, seed uint64) (*Hub, *market.Engine) {
	universe := market.NewUniverse(market.DefaultSymbols)
	ecfg := market.DefaultEngineConfig()
	ecfg.Seed = seed | 1
	ecfg.SessionRollover = false
	engine := market.NewEngine(universe, ecfg, zerolog.Nop())
	charts := market.NewCandleSynthesizer(universe, engine, market.CandleConfig{CacheTTL: time.Minute})
	config.Source = rand.New(rand.NewPCG(seed, 99))
	return NewHub(config, engine, charts, universe, zerolog.Nop()), engine
}

// drain empties the client's channel without blocking.
func drain(c *Client) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-c.Send():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countEvents(events []Event, name string) int {
	n := 0
	for _, ev := range events {
		if ev.Event == name {
			n++
		}
	}
	return n
}

// Property: For any number of clients subscribed to a symbol and any number of
// batches, every fast client receives one tick and one newTrades event per
// batch, tick:all on every BroadcastEvery-th batch and an order book on every
// OrderBookEvery-th batch.
func TestProperty_AllSubscribersReceiveEveryBatch(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	symbols := []string{"RELIANCE", "TCS", "INFY", "HDFCBANK", "ICICIBANK"}

	properties.Property("fast subscribers receive every event for their symbol", prop.ForAll(
		func(clientCount, batchCount, symbolIdx, broadcastEvery, bookEvery int) bool {
			cfg := DefaultHubConfig()
			cfg.SubscriberBuffer = 1000
			cfg.BroadcastEvery = broadcastEvery
			cfg.OrderBookEvery = bookEvery
			hub, engine := newTestHub(cfg, uint64(batchCount))
			symbol := symbols[symbolIdx]

			clients := make([]*Client, clientCount)
			for i := range clients {
				clients[i] = hub.NewClient()
				if err := hub.Subscribe(clients[i], symbol); err != nil {
					return false
				}
			}
			for i := 0; i < batchCount; i++ {
				hub.dispatch(engine.Step())
			}

			for _, c := range clients {
				events := drain(c)
				if countEvents(events, EventSnapshot) != 1 {
					return false
				}
				if countEvents(events, EventTick) != batchCount {
					return false
				}
				if countEvents(events, EventNewTrades) != batchCount {
					return false
				}
				if countEvents(events, EventTickAll) != batchCount/broadcastEvery {
					return false
				}
				if countEvents(events, EventOrderBook) != batchCount/bookEvery {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 5),
		gen.IntRange(1, 20),
		gen.IntRange(0, len(symbols)-1),
		gen.IntRange(1, 4),
		gen.IntRange(1, 4),
	))

	properties.TestingRun(t)
}

// Property: A client that never reads does not stop a fast client from
// receiving its events; the slow client's overflow is dropped and counted.
func TestProperty_SlowConsumersDoNotBlockOthers(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("slow consumers drop instead of blocking", prop.ForAll(
		func(batchCount int, seed uint64) bool {
			cfg := DefaultHubConfig()
			cfg.SubscriberBuffer = 3
			cfg.BroadcastEvery = 1000
			cfg.OrderBookEvery = 1000
			hub, engine := newTestHub(cfg, seed)

			slow := hub.NewClient()
			fast := hub.NewClient()
			if hub.Subscribe(slow, "TCS") != nil || hub.Subscribe(fast, "TCS") != nil {
				return false
			}

			received := len(drain(fast))
			for i := 0; i < batchCount; i++ {
				hub.dispatch(engine.Step())
				received += len(drain(fast))
			}

			if slow.Dropped() == 0 || fast.Dropped() != 0 {
				return false
			}
			m := hub.Metrics()
			return received >= 2*batchCount && m.EventsDropped == slow.Dropped()
		},
		gen.IntRange(5, 30),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}

// Property: Clients only receive per-symbol events for symbols they
// subscribed to.
func TestProperty_ConsumersReceiveCorrectSymbolTicks(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	symbols := []string{"RELIANCE", "TCS", "INFY", "SBIN", "ITC"}

	properties.Property("tick events carry only the subscribed symbol", prop.ForAll(
		func(subscribedIdx int, batches int) bool {
			cfg := DefaultHubConfig()
			cfg.SubscriberBuffer = 1000
			cfg.BroadcastEvery = 1000
			hub, engine := newTestHub(cfg, uint64(subscribedIdx+batches))
			symbol := symbols[subscribedIdx]

			c := hub.NewClient()
			if hub.Subscribe(c, symbol) != nil {
				return false
			}
			for i := 0; i < batches; i++ {
				hub.dispatch(engine.Step())
			}

			for _, ev := range drain(c) {
				switch data := ev.Data.(type) {
				case models.Tick:
					if data.Symbol != symbol {
						return false
					}
				case models.OrderBook:
					if data.Symbol != symbol {
						return false
					}
				case TradesPayload:
					if data.Symbol != symbol {
						return false
					}
					for _, p := range data.Trades {
						if p.Symbol != symbol {
							return false
						}
					}
				}
			}
			return true
		},
		gen.IntRange(0, len(symbols)-1),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

// Property: Every synthesized book has bids at or below asks, prices on
// the tick grid and cumulative totals.
func TestProperty_OrderBookShape(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("book levels are ordered and cumulative", prop.ForAll(
		func(price float64, levels int, seed uint64) bool {
			src := rand.New(rand.NewPCG(seed, seed))
			book := BuildOrderBook("TEST", price, levels, 0.0005, src, time.Now())
			if len(book.Bids) != levels || len(book.Asks) != levels {
				return false
			}

			var bidTotal, askTotal int64
			for k := 0; k < levels; k++ {
				bid, ask := book.Bids[k], book.Asks[k]
				if bid.Price > ask.Price {
					return false
				}
				if k > 0 && (bid.Price > book.Bids[k-1].Price || ask.Price < book.Asks[k-1].Price) {
					return false
				}
				bidTotal += bid.Quantity
				askTotal += ask.Quantity
				if bid.Total != bidTotal || ask.Total != askTotal {
					return false
				}
				if bid.Quantity <= 0 || ask.Quantity <= 0 || bid.Orders < 1 || ask.Orders < 1 {
					return false
				}
				ticks := ask.Price / PriceTick
				if d := ticks - float64(int64(ticks+0.5)); d > 1e-6 || d < -1e-6 {
					return false
				}
			}
			return true
		},
		gen.Float64Range(1, 50000),
		gen.IntRange(1, 10),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}

func TestHubRunDrainsQueueAndClosesClients(t *testing.T) {
	hub, engine := newTestHub(DefaultHubConfig(), 5)
	c := hub.NewClient()
	if err := hub.Subscribe(c, "INFY"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	hub.OnBatch(engine.Step())

	deadline := time.After(2 * time.Second)
	for gotTick := false; !gotTick; {
		select {
		case ev := <-c.Send():
			gotTick = ev.Event == EventTick
		case <-deadline:
			t.Fatal("no tick delivered")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	for range c.Send() {
	}
	if m := hub.Metrics(); m.Clients != 0 || m.BatchesReceived != 1 {
		t.Fatalf("unexpected metrics after shutdown: %+v", m)
	}
}
