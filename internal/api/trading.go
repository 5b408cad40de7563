package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"papermarket/internal/errors"
	"papermarket/internal/trading"
)

// UserHeader carries the caller's user id.
const UserHeader = "X-User-ID"

// TradingHandler serves the paper trading desk.
type TradingHandler struct {
	desk        *trading.Desk
	triggers    *trading.TriggerEvaluator
	defaultUser string
}

// NewTradingHandler creates a new TradingHandler.
func NewTradingHandler(desk *trading.Desk, triggers *trading.TriggerEvaluator, defaultUser string) *TradingHandler {
	if defaultUser == "" {
		defaultUser = "default"
	}
	return &TradingHandler{desk: desk, triggers: triggers, defaultUser: defaultUser}
}

func (h *TradingHandler) user(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get(UserHeader)); u != "" {
		return u
	}
	return h.defaultUser
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewValidationError("id", raw, "must be a positive integer")
	}
	return id, nil
}

type orderResponse struct {
	Success bool `json:"success"`
	Order   any  `json:"order"`
}

type closeRequest struct {
	CurrentPrice float64 `json:"currentPrice"`
}

type checkTriggersRequest struct {
	LivePrices map[string]float64 `json:"livePrices"`
}

type checkTriggersResponse struct {
	Triggered bool `json:"triggered"`
}

type addMoneyRequest struct {
	Amount float64 `json:"amount"`
}

// Account handles GET /api/trading/account.
func (h *TradingHandler) Account(w http.ResponseWriter, r *http.Request) {
	summary, err := h.desk.Account(r.Context(), h.user(r))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

// Positions handles GET /api/trading/positions.
func (h *TradingHandler) Positions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.desk.Positions(r.Context(), h.user(r))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, positions)
}

// Orders handles GET /api/trading/orders.
func (h *TradingHandler) Orders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.desk.Orders(r.Context(), h.user(r))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, orders)
}

// PlaceOrder handles POST /api/trading/order.
func (h *TradingHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req trading.OrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	order, err := h.desk.PlaceOrder(r.Context(), h.user(r), req)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, orderResponse{Success: true, Order: order})
}

// ClosePosition handles POST /api/trading/close/{id}.
func (h *TradingHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	var req closeRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	pos, err := h.desk.ClosePosition(r.Context(), h.user(r), id, req.CurrentPrice)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "position": pos})
}

// CancelOrder handles POST /api/trading/cancel/{id}.
func (h *TradingHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	order, err := h.desk.CancelOrder(r.Context(), h.user(r), id)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, orderResponse{Success: true, Order: order})
}

// CheckTriggers handles POST /api/trading/check-triggers.
func (h *TradingHandler) CheckTriggers(w http.ResponseWriter, r *http.Request) {
	var req checkTriggersRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	triggered, err := h.triggers.Evaluate(r.Context(), h.user(r), req.LivePrices)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, checkTriggersResponse{Triggered: triggered})
}

// Reset handles POST /api/trading/reset.
func (h *TradingHandler) Reset(w http.ResponseWriter, r *http.Request) {
	acc, err := h.desk.ResetAccount(r.Context(), h.user(r))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "account": acc})
}

// AddMoney handles POST /api/trading/add-money.
func (h *TradingHandler) AddMoney(w http.ResponseWriter, r *http.Request) {
	var req addMoneyRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	acc, err := h.desk.AddMoney(r.Context(), h.user(r), req.Amount)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "account": acc})
}
