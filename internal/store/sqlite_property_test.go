package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"papermarket/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// Property: For any position written with optional stop-loss and target,
// reading it back yields the same quantity, prices, margin and optional
// fields.
func TestProperty_PositionRoundTripConsistency(t *testing.T) {
	store := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	symbols := []string{"RELIANCE", "TCS", "INFY", "HDFCBANK", "SBIN"}

	properties.Property("position round-trip preserves every field", prop.ForAll(
		func(symbolIdx, qty int, avg, margin float64, hasSL, hasTarget, sell bool) bool {
			ctx := context.Background()
			user := fmt.Sprintf("user-%d", time.Now().UnixNano())

			pos := &models.Position{
				UserID:   user,
				Symbol:   symbols[symbolIdx],
				Side:     models.OrderSideBuy,
				Quantity: qty,
				AvgPrice: avg,
				Product:  models.ProductCNC,
				Margin:   margin,
				Status:   models.PositionOpen,
				OpenedAt: time.Now().UTC().Truncate(time.Millisecond),
			}
			if sell {
				pos.Side = models.OrderSideSell
				pos.Product = models.ProductMIS
			}
			if hasSL {
				pos.StopLoss = models.Float(avg * 0.95)
			}
			if hasTarget {
				pos.Target = models.Float(avg * 1.1)
			}

			var got *models.Position
			err := store.WithTx(ctx, func(tx Tx) error {
				if err := tx.InsertPosition(pos); err != nil {
					return err
				}
				var err error
				got, err = tx.GetPosition(user, pos.ID)
				return err
			})
			if err != nil {
				t.Logf("round trip failed: %v", err)
				return false
			}

			if got.Quantity != qty || got.Symbol != pos.Symbol || got.Side != pos.Side || got.Product != pos.Product {
				return false
			}
			if math.Abs(got.AvgPrice-avg) > 1e-9 || math.Abs(got.Margin-margin) > 1e-9 {
				return false
			}
			if (got.StopLoss != nil) != hasSL || (got.Target != nil) != hasTarget {
				return false
			}
			if hasSL && math.Abs(*got.StopLoss-*pos.StopLoss) > 1e-9 {
				return false
			}
			return got.ClosedAt == nil && got.PnL == nil && got.OpenedAt.Equal(pos.OpenedAt)
		},
		gen.IntRange(0, len(symbols)-1),
		gen.IntRange(1, 10000),
		gen.Float64Range(1, 50000),
		gen.Float64Range(0, 1e7),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property: A transaction whose function fails leaves no trace.
func TestProperty_FailedTransactionRollsBack(t *testing.T) {
	store := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("rolled back writes are invisible", prop.ForAll(
		func(balance float64, orders int) bool {
			ctx := context.Background()
			user := fmt.Sprintf("rollback-%d", time.Now().UnixNano())

			err := store.WithTx(ctx, func(tx Tx) error {
				acc, err := tx.EnsureAccount(user, balance)
				if err != nil {
					return err
				}
				for i := 0; i < orders; i++ {
					o := &models.Order{
						ID: acc.NextOrderID, UserID: user, Symbol: "TCS", Side: models.OrderSideBuy,
						Quantity: 1, Price: 100, Type: models.OrderTypeMarket, Product: models.ProductCNC,
						Status: models.OrderStatusExecuted, Timestamp: time.Now(),
					}
					acc.NextOrderID++
					if err := tx.InsertOrder(o); err != nil {
						return err
					}
				}
				acc.Balance -= 100
				if err := tx.UpdateAccount(acc); err != nil {
					return err
				}
				return fmt.Errorf("abort")
			})
			if err == nil {
				return false
			}

			visible := false
			err = store.WithTx(ctx, func(tx Tx) error {
				if _, err := tx.GetAccount(user); err == nil {
					visible = true
				}
				list, err := tx.ListOrders(user, OrderFilter{})
				if len(list) > 0 {
					visible = true
				}
				return err
			})
			return err == nil && !visible
		},
		gen.Float64Range(1, 1e7),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}
