package trading

import (
	"papermarket/internal/errors"
	"papermarket/internal/models"
)

// Ledger applies balance and margin movements to one account row. It is
// used inside a store transaction and persisted by the caller.
type Ledger struct {
	acc *models.Account
}

// NewLedger wraps acc.
func NewLedger(acc *models.Account) *Ledger {
	return &Ledger{acc: acc}
}

// Account returns the underlying account.
func (l *Ledger) Account() *models.Account {
	return l.acc
}

// Balance returns the free cash balance.
func (l *Ledger) Balance() float64 {
	return l.acc.Balance
}

// CanAfford reports an InsufficientFundsError when a positive required
// exceeds the free balance.
func (l *Ledger) CanAfford(required float64) error {
	if required > 0 && required > l.acc.Balance {
		return errors.NewInsufficientFundsError(required, l.acc.Balance)
	}
	return nil
}

// Credit adds amount to the balance.
func (l *Ledger) Credit(amount float64) {
	l.acc.Balance += amount
}

// Debit removes amount from the balance.
func (l *Ledger) Debit(amount float64) error {
	if err := l.CanAfford(amount); err != nil {
		return err
	}
	l.acc.Balance -= amount
	return nil
}

// BlockMargin moves m from the balance into used margin.
func (l *Ledger) BlockMargin(m float64) error {
	if err := l.Debit(m); err != nil {
		return err
	}
	l.acc.UsedMargin += m
	return nil
}

// ReleaseMargin returns m and the realised pnl to the balance.
func (l *Ledger) ReleaseMargin(m, pnl float64) {
	l.acc.Balance += m + pnl
	l.acc.UsedMargin -= m
	if l.acc.UsedMargin < 1e-9 {
		l.acc.UsedMargin = 0
	}
	l.acc.RealisedPnL += pnl
}

// NextOrderID allocates the next order id. Ids are monotonic and gap-free
// per account.
func (l *Ledger) NextOrderID() int64 {
	if l.acc.NextOrderID < 1 {
		l.acc.NextOrderID = 1
	}
	id := l.acc.NextOrderID
	l.acc.NextOrderID++
	return id
}

// Reset restores the starting state with balance.
func (l *Ledger) Reset(balance float64) {
	l.acc.Balance = balance
	l.acc.UsedMargin = 0
	l.acc.RealisedPnL = 0
	l.acc.NextOrderID = 1
}
