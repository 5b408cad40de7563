// Package api exposes the market and the trading desk over REST and
// WebSocket.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"papermarket/internal/health"
	"papermarket/internal/logging"
	"papermarket/internal/stream"
	"papermarket/internal/trading"
)

// Deps is everything the router serves from.
type Deps struct {
	Market   stream.MarketData
	Charts   stream.Charts
	Search   stream.Searcher
	Hub      *stream.Hub
	Desk     *trading.Desk
	Triggers *trading.TriggerEvaluator
	// Health backs /healthz when set; otherwise /healthz reports hub
	// metrics only.
	Health *health.Monitor

	// DefaultUser is used when a request carries no X-User-ID header.
	DefaultUser string
	CORSOrigin  string
	// WS configures websocket sessions.
	WS WSConfig
}

// NewRouter creates a chi router with all routes registered.
func NewRouter(deps Deps, logger zerolog.Logger) chi.Router {
	logger = logger.With().Str("component", "api").Logger()
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogging(logger))
	r.Use(middleware.Recoverer)
	if deps.CORSOrigin != "" {
		r.Use(cors(deps.CORSOrigin))
	}

	r.Get("/livez", health.LivenessHandler())
	if deps.Health != nil {
		r.Get("/healthz", deps.Health.Handler())
	} else {
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "hub": deps.Hub.Metrics()})
		})
	}

	marketH := NewMarketHandler(deps.Market, deps.Charts, deps.Search)
	r.Route("/api/market", func(r chi.Router) {
		r.Get("/quotes", marketH.Quotes)
		r.Get("/quotes/{symbol}", marketH.Quote)
		r.Get("/chart/{symbol}", marketH.Chart)
		r.Get("/search", marketH.Search)
	})

	tradingH := NewTradingHandler(deps.Desk, deps.Triggers, deps.DefaultUser)
	r.Route("/api/trading", func(r chi.Router) {
		r.Use(contentTypeJSON)
		r.Get("/account", tradingH.Account)
		r.Get("/positions", tradingH.Positions)
		r.Get("/orders", tradingH.Orders)
		r.Post("/order", tradingH.PlaceOrder)
		r.Post("/close/{id}", tradingH.ClosePosition)
		r.Post("/cancel/{id}", tradingH.CancelOrder)
		r.Post("/check-triggers", tradingH.CheckTriggers)
		r.Post("/reset", tradingH.Reset)
		r.Post("/add-money", tradingH.AddMoney)
	})

	r.Get("/ws", NewWSHandler(deps.Hub, deps.WS, logger).ServeHTTP)

	return r
}

// requestLogging logs each request's method, path, status and duration.
func requestLogging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			if u := r.Header.Get(UserHeader); u != "" {
				reqLogger = logging.WithUser(reqLogger, u)
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(logging.WithLogger(r.Context(), reqLogger)))
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logging.LogRequest(reqLogger, r.Method, r.URL.Path, status, time.Since(start))
		})
	}
}

// contentTypeJSON rejects POST bodies that are not JSON. Bodyless POSTs
// pass.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.ContentLength != 0 {
			ct := r.Header.Get("Content-Type")
			if !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request", "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
