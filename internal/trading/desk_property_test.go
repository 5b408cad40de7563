package trading

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"pgregory.net/rapid"

	"papermarket/internal/models"
	"papermarket/internal/store"
)

type step struct {
	Symbol  int
	Sell    bool
	MIS     bool
	Qty     int
	Price   float64
	Deposit float64
}

var propertySymbols = []string{"RELIANCE", "TCS", "INFY"}

func genStep() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, len(propertySymbols)-1),
		gen.Bool(),
		gen.Bool(),
		gen.IntRange(1, 50),
		gen.Float64Range(10, 5000),
		gen.Float64Range(0, 1000),
	).Map(func(v []interface{}) step {
		return step{
			Symbol:  v[0].(int),
			Sell:    v[1].(bool),
			MIS:     v[2].(bool),
			Qty:     v[3].(int),
			Price:   math.Round(v[4].(float64)*100) / 100,
			Deposit: v[5].(float64),
		}
	})
}

func applyStep(ctx context.Context, d *Desk, user string, s step) {
	req := buy(propertySymbols[s.Symbol], s.Qty, s.Price, models.ProductCNC)
	if s.Sell {
		req.Side = models.OrderSideSell
	}
	if s.MIS {
		req.Product = models.ProductMIS
	}
	// Rejections are part of the property: they must leave no trace.
	_, _ = d.PlaceOrder(ctx, user, req)
	if s.Deposit > 1 {
		_, _ = d.AddMoney(ctx, user, s.Deposit)
	}
}

// Property: For any sequence of market orders and deposits, cash is
// conserved: balance + used margin equals the starting balance plus
// deposits plus realised P&L, and used margin equals the margin held by
// open positions.
func TestProperty_LedgerConservation(t *testing.T) {
	d, _ := newTestDesk(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	run := 0
	properties.Property("balance and margin are conserved", prop.ForAll(
		func(steps []step) bool {
			ctx := context.Background()
			run++
			user := fmt.Sprintf("conserve-%d", run)

			deposits := 0.0
			for _, s := range steps {
				applyStep(ctx, d, user, s)
				if s.Deposit > 1 {
					deposits += s.Deposit
				}
			}

			summary, err := d.Account(ctx, user)
			if err != nil {
				t.Logf("account: %v", err)
				return false
			}
			positions, err := d.Positions(ctx, user)
			if err != nil {
				return false
			}

			held := 0.0
			for _, p := range positions {
				if p.Status == models.PositionOpen {
					if p.Quantity <= 0 {
						return false
					}
					held += p.Margin
				}
			}

			expected := d.Config().DefaultBalance + deposits + summary.RealisedPnL
			if math.Abs(summary.Balance+summary.UsedMargin-expected) > 1e-4 {
				t.Logf("balance %.4f + used %.4f != %.4f", summary.Balance, summary.UsedMargin, expected)
				return false
			}
			return math.Abs(held-summary.UsedMargin) < 1e-4
		},
		gen.SliceOfN(12, genStep()),
	))

	properties.TestingRun(t)
}

// Property: For any sequence of orders, at most one open position exists per
// (symbol, side, product) and a symbol is never held long and short
// intraday at once.
func TestProperty_OnePositionPerKey(t *testing.T) {
	d, _ := newTestDesk(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	run := 0
	properties.Property("positions are netted per key", prop.ForAll(
		func(steps []step) bool {
			ctx := context.Background()
			run++
			user := fmt.Sprintf("netting-%d", run)
			for _, s := range steps {
				applyStep(ctx, d, user, s)
			}

			positions, err := d.Positions(ctx, user)
			if err != nil {
				return false
			}
			seen := make(map[string]bool)
			for _, p := range positions {
				if p.Status != models.PositionOpen {
					continue
				}
				key := fmt.Sprintf("%s|%s|%s", p.Symbol, p.Side, p.Product)
				if seen[key] {
					return false
				}
				seen[key] = true
			}
			for _, sym := range propertySymbols {
				if seen[sym+"|BUY|MIS"] && seen[sym+"|SELL|MIS"] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(15, genStep()),
	))

	properties.TestingRun(t)
}

// Order ids are allocated per account starting at 1 without gaps, whatever
// mix of executed, rejected and resting orders is placed.
func TestOrderIDsAreGapFree(t *testing.T) {
	d, _ := newTestDesk(t)
	run := 0

	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		run++
		user := fmt.Sprintf("ids-%d", run)

		n := rapid.IntRange(1, 10).Draw(rt, "orders")
		for i := 0; i < n; i++ {
			req := buy(propertySymbols[0], rapid.IntRange(1, 5000).Draw(rt, "qty"), 500, models.ProductCNC)
			if rapid.Bool().Draw(rt, "limit") {
				req.Type = models.OrderTypeLimit
				req.LimitPrice = models.Float(450)
			}
			_, _ = d.PlaceOrder(ctx, user, req)
		}

		var orders []models.Order
		err := d.store.WithTx(ctx, func(tx store.Tx) error {
			var err error
			orders, err = tx.ListOrders(user, store.OrderFilter{})
			return err
		})
		if err != nil {
			rt.Fatalf("list orders: %v", err)
		}
		for i, o := range orders {
			want := int64(len(orders) - i)
			if o.ID != want {
				rt.Fatalf("order %d has id %d, want %d", i, o.ID, want)
			}
		}
	})
}
