// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"papermarket/internal/models"
)

// AccountStore persists paper trading ledgers keyed by user id.
type AccountStore interface {
	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back on error or panic.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn inside a read-only transaction that does not wait for
	// the write lock.
	View(ctx context.Context, fn func(tx Tx) error) error

	// ListUserIDsWithOpenItems returns users holding an open position or an
	// open order.
	ListUserIDsWithOpenItems(ctx context.Context) ([]string, error)

	// Lifecycle
	Close() error
}

// Tx is the set of ledger operations available inside a transaction.
type Tx interface {
	// Accounts
	GetAccount(userID string) (*models.Account, error)
	EnsureAccount(userID string, balance float64) (*models.Account, error)
	UpdateAccount(account *models.Account) error

	// Orders
	InsertOrder(order *models.Order) error
	UpdateOrder(order *models.Order) error
	GetOrder(userID string, id int64) (*models.Order, error)
	ListOrders(userID string, filter OrderFilter) ([]models.Order, error)

	// Positions
	InsertPosition(position *models.Position) error
	UpdatePosition(position *models.Position) error
	GetPosition(userID string, id int64) (*models.Position, error)
	FindOpenPosition(userID, symbol string, side models.OrderSide, product models.ProductType) (*models.Position, error)
	ListPositions(userID string, filter PositionFilter) ([]models.Position, error)

	// DeleteAccountData removes every position and order of the user.
	DeleteAccountData(userID string) error

	// Savepoint runs fn so that its writes are undone when it fails,
	// leaving the rest of the transaction intact.
	Savepoint(name string, fn func() error) error
}

// OrderFilter represents filters for querying orders.
type OrderFilter struct {
	// Open selects OPEN orders when true and non-OPEN orders when false.
	Open   *bool
	Symbol string
	Limit  int
}

// PositionFilter represents filters for querying positions.
type PositionFilter struct {
	Status models.PositionStatus
	Symbol string
	Limit  int
}

// Bool returns a pointer to v, for filters.
func Bool(v bool) *bool {
	return &v
}
