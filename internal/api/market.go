package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"papermarket/internal/market"
	"papermarket/internal/stream"
)

// MarketHandler serves quotes, charts and symbol search.
type MarketHandler struct {
	market stream.MarketData
	charts stream.Charts
	search stream.Searcher
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(md stream.MarketData, charts stream.Charts, search stream.Searcher) *MarketHandler {
	return &MarketHandler{market: md, charts: charts, search: search}
}

// Quotes handles GET /api/market/quotes.
func (h *MarketHandler) Quotes(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.market.Quotes())
}

// Quote handles GET /api/market/quotes/{symbol}.
func (h *MarketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	q, err := h.market.Quote(strings.ToUpper(chi.URLParam(r, "symbol")))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, q)
}

// Chart handles GET /api/market/chart/{symbol}?range=.
func (h *MarketHandler) Chart(w http.ResponseWriter, r *http.Request) {
	rng, err := market.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	chart, err := h.charts.Chart(strings.ToUpper(chi.URLParam(r, "symbol")), rng)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, chart)
}

// Search handles GET /api/market/search?q=&limit=.
func (h *MarketHandler) Search(w http.ResponseWriter, r *http.Request) {
	limit := market.DefaultSearchLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		limit = n
	}
	WriteJSON(w, http.StatusOK, h.search.Search(r.URL.Query().Get("q"), limit))
}
