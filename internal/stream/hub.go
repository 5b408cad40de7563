// Package stream provides real-time market data distribution to websocket
// clients: per-symbol groups, synthetic depth and trade prints.
package stream

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"papermarket/internal/errors"
	"papermarket/internal/market"
	"papermarket/internal/models"
)

// Server event names.
const (
	EventSnapshot      = "snapshot"
	EventTick          = "tick"
	EventTickAll       = "tick:all"
	EventOrderBook     = "orderbook"
	EventNewTrades     = "newTrades"
	EventChartData     = "chartData"
	EventSearchResults = "searchResults"
	EventAllQuotes     = "allQuotes"
	EventError         = "error"
)

// Client actions.
const (
	ActionSubscribe    = "subscribe"
	ActionUnsubscribe  = "unsubscribe"
	ActionGetChart     = "getChart"
	ActionSearch       = "search"
	ActionGetAllQuotes = "getAllQuotes"
)

// Event is one server to client message.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// ClientMessage is one client to server message.
type ClientMessage struct {
	Action string `json:"action"`
	Symbol string `json:"symbol,omitempty"`
	Range  string `json:"range,omitempty"`
	Query  string `json:"query,omitempty"`
}

// Snapshot is sent to a client when it subscribes to a symbol.
type Snapshot struct {
	Quote     models.Quote        `json:"quote"`
	OrderBook models.OrderBook    `json:"orderbook"`
	Trades    []models.TradePrint `json:"trades"`
}

// TradesPayload carries the prints of one batch for one symbol.
type TradesPayload struct {
	Symbol string              `json:"symbol"`
	Trades []models.TradePrint `json:"trades"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
}

// MarketData is the read side of the tick engine the hub serves from.
type MarketData interface {
	Quote(symbol string) (models.Quote, error)
	Quotes() []models.Quote
}

// Charts serves candle requests.
type Charts interface {
	Chart(symbol string, r market.Range) (models.ChartData, error)
}

// Searcher serves symbol search requests.
type Searcher interface {
	Search(query string, limit int) []models.SymbolInfo
}

// HubConfig holds configuration for the distribution hub.
type HubConfig struct {
	// BatchBuffer is the size of the internal batch channel.
	BatchBuffer int
	// SubscriberBuffer is the size of each client's send channel.
	SubscriberBuffer int
	// BroadcastEvery sends tick:all on every Nth batch.
	BroadcastEvery int
	// OrderBookEvery regenerates order books on every Nth batch.
	OrderBookEvery int
	// DepthLevels is the number of levels per book side.
	DepthLevels int
	// SpreadFraction is the distance between book levels.
	SpreadFraction float64
	// RecentTrades is the per-symbol print history kept for snapshots.
	RecentTrades int
	// SlowConsumerDropThreshold logs a client every N dropped events.
	SlowConsumerDropThreshold uint64
	// Source overrides the random source for depth and prints.
	Source market.Source
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BatchBuffer:               64,
		SubscriberBuffer:          256,
		BroadcastEvery:            2,
		OrderBookEvery:            2,
		DepthLevels:               5,
		SpreadFraction:            0.0005,
		RecentTrades:              20,
		SlowConsumerDropThreshold: 100,
	}
}

// Client is one connected consumer. Events are read from Send.
type Client struct {
	ID        string
	CreatedAt time.Time

	send    chan Event
	closed  bool
	subs    map[string]bool
	dropped atomic.Uint64
}

// Send returns the channel the client's events arrive on. It is closed
// when the client is removed.
func (c *Client) Send() <-chan Event {
	return c.send
}

// Dropped returns how many events were dropped because the client was slow.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// HubMetrics is a point-in-time view of hub counters.
type HubMetrics struct {
	BatchesReceived uint64 `json:"batchesReceived"`
	BatchesDropped  uint64 `json:"batchesDropped"`
	EventsSent      uint64 `json:"eventsSent"`
	EventsDropped   uint64 `json:"eventsDropped"`
	Clients         int    `json:"clients"`
	ActiveSymbols   int    `json:"activeSymbols"`
}

// Hub fans engine batches out to subscribed clients. It is a
// market.Listener; the fan-out runs on its own goroutine so a slow socket
// never holds the tick loop.
type Hub struct {
	config HubConfig
	market MarketData
	charts Charts
	search Searcher
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[string]map[string]*Client
	books   map[string]models.OrderBook
	trades  map[string]*tradeRing

	srcMu sync.Mutex
	src   market.Source

	batchChan chan models.Batch
	started   atomic.Bool

	batchesReceived atomic.Uint64
	batchesDropped  atomic.Uint64
	eventsSent      atomic.Uint64
	eventsDropped   atomic.Uint64
}

// NewHub creates a hub serving from the given market, charts and search.
func NewHub(config HubConfig, md MarketData, charts Charts, search Searcher, logger zerolog.Logger) *Hub {
	def := DefaultHubConfig()
	if config.BatchBuffer < 1 {
		config.BatchBuffer = def.BatchBuffer
	}
	if config.SubscriberBuffer < 1 {
		config.SubscriberBuffer = def.SubscriberBuffer
	}
	if config.BroadcastEvery < 1 {
		config.BroadcastEvery = def.BroadcastEvery
	}
	if config.OrderBookEvery < 1 {
		config.OrderBookEvery = def.OrderBookEvery
	}
	if config.DepthLevels < 1 {
		config.DepthLevels = def.DepthLevels
	}
	if config.SpreadFraction <= 0 {
		config.SpreadFraction = def.SpreadFraction
	}
	if config.RecentTrades < 1 {
		config.RecentTrades = def.RecentTrades
	}
	if config.SlowConsumerDropThreshold == 0 {
		config.SlowConsumerDropThreshold = def.SlowConsumerDropThreshold
	}
	src := config.Source
	if src == nil {
		seed := uint64(time.Now().UnixNano())
		src = rand.New(rand.NewPCG(seed, seed<<1))
	}

	return &Hub{
		config:    config,
		market:    md,
		charts:    charts,
		search:    search,
		logger:    logger.With().Str("component", "hub").Logger(),
		clients:   make(map[string]*Client),
		groups:    make(map[string]map[string]*Client),
		books:     make(map[string]models.OrderBook),
		trades:    make(map[string]*tradeRing),
		src:       src,
		batchChan: make(chan models.Batch, config.BatchBuffer),
	}
}

// OnBatch enqueues a batch for distribution. It never blocks; when the
// queue is full the batch is dropped and counted.
func (h *Hub) OnBatch(batch models.Batch) {
	select {
	case h.batchChan <- batch:
	default:
		if n := h.batchesDropped.Add(1); n%100 == 1 {
			h.logger.Warn().Uint64("dropped", n).Msg("Batch queue full, dropping batch")
		}
	}
}

// Run distributes queued batches until ctx is cancelled, then removes every
// client.
func (h *Hub) Run(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return nil
	}
	defer h.started.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case batch := <-h.batchChan:
			h.batchesReceived.Add(1)
			h.dispatch(batch)
		}
	}
}

// Start runs the hub on its own goroutine.
func (h *Hub) Start(ctx context.Context) {
	go func() {
		_ = h.Run(ctx)
	}()
}

// NewClient registers a client with a fresh id.
func (h *Hub) NewClient() *Client {
	c := &Client{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		send:      make(chan Event, h.config.SubscriberBuffer),
		subs:      make(map[string]bool),
	}
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	return c
}

// RemoveClient drops all of the client's subscriptions and closes its
// send channel. Removing twice is a no-op.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if c.closed {
		return
	}
	for sym := range c.subs {
		h.leaveLocked(c, sym)
	}
	delete(h.clients, c.ID)
	c.closed = true
	close(c.send)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		h.removeLocked(c)
	}
}

// Subscribe adds the client to symbol's group and sends it a snapshot.
// Subscribing again only resends the snapshot.
func (h *Hub) Subscribe(c *Client, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	quote, err := h.market.Quote(symbol)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return errors.NewStateError("client", c.ID, "closed", "subscribe")
	}
	group, ok := h.groups[symbol]
	if !ok {
		group = make(map[string]*Client)
		h.groups[symbol] = group
	}
	group[c.ID] = c
	c.subs[symbol] = true

	book, ok := h.books[symbol]
	if !ok {
		book = h.buildBook(symbol, quote.Price)
		h.books[symbol] = book
	}
	snap := Snapshot{Quote: quote, OrderBook: book, Trades: []models.TradePrint{}}
	if ring, ok := h.trades[symbol]; ok {
		snap.Trades = ring.recent()
	}
	h.sendLocked(c, Event{Event: EventSnapshot, Data: snap})
	h.mu.Unlock()
	return nil
}

// Unsubscribe removes the client from symbol's group. Unknown
// subscriptions are ignored.
func (h *Hub) Unsubscribe(c *Client, symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	h.mu.Lock()
	h.leaveLocked(c, symbol)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(c *Client, symbol string) {
	delete(c.subs, symbol)
	group, ok := h.groups[symbol]
	if !ok {
		return
	}
	delete(group, c.ID)
	if len(group) == 0 {
		delete(h.groups, symbol)
		delete(h.books, symbol)
		delete(h.trades, symbol)
	}
}

// Subscriptions returns the symbols c is subscribed to.
func (h *Hub) Subscriptions(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for sym := range c.subs {
		out = append(out, sym)
	}
	return out
}

// Handle serves one client message. Failures are reported to the client as
// error events.
func (h *Hub) Handle(c *Client, msg ClientMessage) {
	var err error
	switch msg.Action {
	case ActionSubscribe:
		err = h.Subscribe(c, msg.Symbol)
	case ActionUnsubscribe:
		h.Unsubscribe(c, msg.Symbol)
	case ActionGetChart:
		var r market.Range
		if r, err = market.ParseRange(msg.Range); err == nil {
			var chart models.ChartData
			if chart, err = h.charts.Chart(msg.Symbol, r); err == nil {
				h.Send(c, Event{Event: EventChartData, Data: chart})
			}
		}
	case ActionSearch:
		h.Send(c, Event{Event: EventSearchResults, Data: h.search.Search(msg.Query, market.DefaultSearchLimit)})
	case ActionGetAllQuotes:
		h.Send(c, Event{Event: EventAllQuotes, Data: h.market.Quotes()})
	default:
		err = errors.NewValidationError("action", msg.Action, "unknown action")
	}

	if err != nil {
		h.logger.Debug().Err(err).Str("client", c.ID).Str("action", msg.Action).Msg("Client request failed")
		h.Send(c, Event{Event: EventError, Data: ErrorPayload{Action: msg.Action, Message: err.Error()}})
	}
}

// Send delivers ev to c without blocking.
func (h *Hub) Send(c *Client, ev Event) {
	h.mu.RLock()
	h.sendLocked(c, ev)
	h.mu.RUnlock()
}

// sendLocked requires h.mu held (read or write).
func (h *Hub) sendLocked(c *Client, ev Event) {
	if c.closed {
		return
	}
	select {
	case c.send <- ev:
		h.eventsSent.Add(1)
	default:
		h.eventsDropped.Add(1)
		if n := c.dropped.Add(1); n%h.config.SlowConsumerDropThreshold == 1 {
			h.logger.Warn().Str("client", c.ID).Uint64("dropped", n).Msg("Slow consumer, dropping events")
		}
	}
}

// dispatch fans out one batch.
func (h *Hub) dispatch(batch models.Batch) {
	seq := batch.Seq
	refreshBooks := seq%uint64(h.config.OrderBookEvery) == 0

	h.mu.Lock()
	defer h.mu.Unlock()

	if seq%uint64(h.config.BroadcastEvery) == 0 {
		ev := Event{Event: EventTickAll, Data: batch}
		for _, c := range h.clients {
			h.sendLocked(c, ev)
		}
	}

	for sym, group := range h.groups {
		tick, ok := batch.Ticks[sym]
		if !ok {
			continue
		}

		tickEv := Event{Event: EventTick, Data: tick}
		for _, c := range group {
			h.sendLocked(c, tickEv)
		}

		if refreshBooks {
			book := h.buildBook(sym, tick.Price)
			book.Timestamp = batch.Timestamp
			h.books[sym] = book
			bookEv := Event{Event: EventOrderBook, Data: book}
			for _, c := range group {
				h.sendLocked(c, bookEv)
			}
		}

		prints := h.buildTrades(sym, tick.Price, batch.Timestamp)
		ring, ok := h.trades[sym]
		if !ok {
			ring = newTradeRing(h.config.RecentTrades)
			h.trades[sym] = ring
		}
		ring.push(prints...)
		tradesEv := Event{Event: EventNewTrades, Data: TradesPayload{Symbol: sym, Trades: prints}}
		for _, c := range group {
			h.sendLocked(c, tradesEv)
		}
	}
}

func (h *Hub) buildBook(symbol string, price float64) models.OrderBook {
	h.srcMu.Lock()
	defer h.srcMu.Unlock()
	return BuildOrderBook(symbol, price, h.config.DepthLevels, h.config.SpreadFraction, h.src, time.Now())
}

func (h *Hub) buildTrades(symbol string, price float64, now time.Time) []models.TradePrint {
	h.srcMu.Lock()
	defer h.srcMu.Unlock()
	return GenerateTrades(symbol, price, h.config.SpreadFraction, h.src, now)
}

// Metrics returns the hub counters.
func (h *Hub) Metrics() HubMetrics {
	h.mu.RLock()
	clients, symbols := len(h.clients), len(h.groups)
	h.mu.RUnlock()

	return HubMetrics{
		BatchesReceived: h.batchesReceived.Load(),
		BatchesDropped:  h.batchesDropped.Load(),
		EventsSent:      h.eventsSent.Load(),
		EventsDropped:   h.eventsDropped.Load(),
		Clients:         clients,
		ActiveSymbols:   symbols,
	}
}
