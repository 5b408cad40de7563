// Package trading provides the paper trading desk: per-user ledgers, order
// placement and execution, position netting, and stop-loss, target and
// limit triggers.
package trading

import (
	"time"

	"papermarket/internal/models"
)

// PriceSource supplies live prices for valuation.
type PriceSource interface {
	Price(symbol string) (float64, bool)
}

// SymbolCatalog reports whether a symbol can be traded.
type SymbolCatalog interface {
	Has(symbol string) bool
}

// Audit notes written on synthetic and system-modified orders.
const (
	NoteManualClose       = "Manual close"
	NoteStopLoss          = "Stop Loss triggered"
	NoteTarget            = "Target hit"
	NoteCancelled         = "Cancelled by user"
	NoteInsufficientFunds = "Cancelled: insufficient funds at fill"
)

// OrderRequest is a new order from a client. Price is the current price the
// client saw; LimitPrice is required for LIMIT orders and defaults to Price.
type OrderRequest struct {
	Symbol     string             `json:"symbol"`
	Side       models.OrderSide   `json:"side"`
	Quantity   int                `json:"quantity"`
	Price      float64            `json:"price"`
	Type       models.OrderType   `json:"type"`
	LimitPrice *float64           `json:"limitPrice,omitempty"`
	Product    models.ProductType `json:"product"`
	StopLoss   *float64           `json:"stopLoss,omitempty"`
	Target     *float64           `json:"target,omitempty"`
}

// AccountSummary is an account with its live valuation.
type AccountSummary struct {
	models.Account
	UnrealisedPnL float64 `json:"unrealisedPnL"`
	Equity        float64 `json:"equity"`
	OpenPositions int     `json:"openPositions"`
	OpenOrders    int     `json:"openOrders"`
}

// DeskConfig holds trading desk configuration.
type DeskConfig struct {
	DefaultBalance float64
	MaxAddMoney    float64
	MISMargin      float64
	RecentLimit    int
	// Now overrides the clock.
	Now func() time.Time
}

// DefaultDeskConfig returns the default desk configuration.
func DefaultDeskConfig() DeskConfig {
	return DeskConfig{
		DefaultBalance: 1000000,
		MaxAddMoney:    10000000,
		MISMargin:      0.2,
		RecentLimit:    50,
	}
}

// marginFactor returns the share of notional blocked for product.
func (c DeskConfig) marginFactor(product models.ProductType) float64 {
	if product == models.ProductMIS {
		return c.MISMargin
	}
	return 1.0
}
