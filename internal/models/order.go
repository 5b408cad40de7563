package models

import "time"

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Valid reports whether s is BUY or SELL.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Valid reports whether t is a supported order type.
func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit
}

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS ProductType = "MIS" // Intraday
	ProductCNC ProductType = "CNC" // Delivery
)

// Valid reports whether p is CNC or MIS.
func (p ProductType) Valid() bool {
	return p == ProductMIS || p == ProductCNC
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusExecuted  OrderStatus = "EXECUTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Account is the per-user ledger row.
type Account struct {
	UserID      string    `json:"userId"`
	Balance     float64   `json:"balance"`
	UsedMargin  float64   `json:"usedMargin"`
	RealisedPnL float64   `json:"realisedPnL"`
	NextOrderID int64     `json:"nextOrderId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Order represents a paper order.
type Order struct {
	ID         int64       `json:"id" csv:"id"`
	UserID     string      `json:"userId" csv:"user_id"`
	Symbol     string      `json:"symbol" csv:"symbol"`
	Side       OrderSide   `json:"side" csv:"side"`
	Quantity   int         `json:"quantity" csv:"quantity"`
	Price      float64     `json:"price" csv:"price"`
	Type       OrderType   `json:"type" csv:"type"`
	Product    ProductType `json:"product" csv:"product"`
	StopLoss   *float64    `json:"stopLoss,omitempty" csv:"-"`
	Target     *float64    `json:"target,omitempty" csv:"-"`
	Status     OrderStatus `json:"status" csv:"status"`
	Timestamp  time.Time   `json:"timestamp" csv:"timestamp"`
	ExecutedAt *time.Time  `json:"executedAt,omitempty" csv:"-"`
	Note       string      `json:"note,omitempty" csv:"note"`
}

// Position represents an open or closed paper position.
type Position struct {
	ID        int64          `json:"id"`
	UserID    string         `json:"userId"`
	Symbol    string         `json:"symbol"`
	Side      OrderSide      `json:"side"`
	Quantity  int            `json:"quantity"`
	AvgPrice  float64        `json:"avgPrice"`
	Product   ProductType    `json:"product"`
	Margin    float64        `json:"margin"`
	StopLoss  *float64       `json:"stopLoss,omitempty"`
	Target    *float64       `json:"target,omitempty"`
	Status    PositionStatus `json:"status"`
	OpenedAt  time.Time      `json:"openedAt"`
	ClosedAt  *time.Time     `json:"closedAt,omitempty"`
	ExitPrice *float64       `json:"exitPrice,omitempty"`
	PnL       *float64       `json:"pnl,omitempty"`
}

// DirectionalPnL returns the profit of the position if it were closed at
// price.
func (p *Position) DirectionalPnL(price float64) float64 {
	if p.Side == OrderSideSell {
		return (p.AvgPrice - price) * float64(p.Quantity)
	}
	return (price - p.AvgPrice) * float64(p.Quantity)
}

// Float returns a pointer to v, for optional fields.
func Float(v float64) *float64 {
	return &v
}
