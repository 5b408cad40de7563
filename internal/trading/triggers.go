package trading

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"papermarket/internal/errors"
	"papermarket/internal/logging"
	"papermarket/internal/models"
	"papermarket/internal/store"
)

// TriggerEvaluator fires stop-losses and targets on open positions and fills
// LIMIT orders whose price has been reached.
type TriggerEvaluator struct {
	desk   *Desk
	logger zerolog.Logger
}

// NewTriggerEvaluator creates an evaluator over desk.
func NewTriggerEvaluator(desk *Desk, logger zerolog.Logger) *TriggerEvaluator {
	return &TriggerEvaluator{
		desk:   desk,
		logger: logger.With().Str("component", "triggers").Logger(),
	}
}

// Evaluate checks the user's open positions and orders against prices and
// reports whether anything changed. Symbols missing from prices are skipped.
func (e *TriggerEvaluator) Evaluate(ctx context.Context, userID string, prices map[string]float64) (bool, error) {
	d := e.desk
	changed := false

	err := d.update(ctx, userID, func(tx store.Tx, l *Ledger) error {
		now := d.config.Now()

		positions, err := tx.ListPositions(userID, store.PositionFilter{Status: models.PositionOpen})
		if err != nil {
			return err
		}
		for i := range positions {
			pos := &positions[i]
			price, ok := prices[pos.Symbol]
			if !ok || !validPrice(price) {
				continue
			}
			note, hit := exitReached(pos, price)
			if !hit {
				continue
			}
			if err := d.closePosition(tx, l, pos, price, note, now); err != nil {
				return err
			}
			logging.LogTrigger(e.logger, userID, pos.Symbol, note, price)
			changed = true
		}

		orders, err := tx.ListOrders(userID, store.OrderFilter{Open: store.Bool(true)})
		if err != nil {
			return err
		}
		// Fill in placement order.
		sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })

		for i := range orders {
			o := &orders[i]
			if o.Type != models.OrderTypeLimit {
				continue
			}
			price, ok := prices[o.Symbol]
			if !ok || !validPrice(price) || !limitReached(o, price) {
				continue
			}

			filled, err := e.fill(tx, l, o, now)
			if err != nil {
				return err
			}
			if filled {
				logging.LogTrigger(e.logger, userID, o.Symbol, "Limit filled", price)
			} else {
				logging.LogOrder(e.logger, userID, o.ID, o.Symbol, string(o.Side), string(o.Status))
			}
			changed = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// fill executes a reached LIMIT order at its limit price inside a
// savepoint. An order the user can no longer pay for is cancelled instead,
// leaving exits already applied in the same evaluation in place.
func (e *TriggerEvaluator) fill(tx store.Tx, l *Ledger, o *models.Order, now time.Time) (bool, error) {
	d := e.desk
	required, err := d.requiredMargin(tx, o)
	if err != nil {
		return false, err
	}

	if l.CanAfford(required) == nil {
		before := *l.Account()
		err := tx.Savepoint("limit_fill", func() error {
			o.Status = models.OrderStatusExecuted
			o.ExecutedAt = &now
			if err := tx.UpdateOrder(o); err != nil {
				return err
			}
			return d.execute(tx, l, o, now)
		})
		if err == nil {
			return true, nil
		}
		*l.Account() = before
		o.ExecutedAt = nil
		if !errors.Is(err, errors.ErrInsufficientFunds) {
			return false, err
		}
	}

	o.Status = models.OrderStatusCancelled
	o.Note = NoteInsufficientFunds
	return false, tx.UpdateOrder(o)
}

// exitReached reports whether price crosses the position's stop-loss or
// target. The stop-loss wins when both are crossed.
func exitReached(pos *models.Position, price float64) (string, bool) {
	if pos.Side == models.OrderSideSell {
		if pos.StopLoss != nil && price >= *pos.StopLoss {
			return NoteStopLoss, true
		}
		if pos.Target != nil && price <= *pos.Target {
			return NoteTarget, true
		}
		return "", false
	}
	if pos.StopLoss != nil && price <= *pos.StopLoss {
		return NoteStopLoss, true
	}
	if pos.Target != nil && price >= *pos.Target {
		return NoteTarget, true
	}
	return "", false
}

// limitReached reports whether a LIMIT order can fill at price.
func limitReached(o *models.Order, price float64) bool {
	if o.Side == models.OrderSideBuy {
		return price <= o.Price
	}
	return price >= o.Price
}

// UserLister lists users that have something to evaluate.
type UserLister interface {
	ListUserIDsWithOpenItems(ctx context.Context) ([]string, error)
}

// TickTrigger evaluates triggers for every user with open items on each
// market batch. Batches arriving while an evaluation runs are coalesced to
// the latest.
type TickTrigger struct {
	eval    *TriggerEvaluator
	users   UserLister
	workers int
	latest  chan models.Batch
	logger  zerolog.Logger
}

// NewTickTrigger creates a tick-driven trigger loop.
func NewTickTrigger(eval *TriggerEvaluator, users UserLister, logger zerolog.Logger) *TickTrigger {
	return &TickTrigger{
		eval:    eval,
		users:   users,
		workers: 4,
		latest:  make(chan models.Batch, 1),
		logger:  logger.With().Str("component", "tick_trigger").Logger(),
	}
}

// OnBatch implements market.Listener. It never blocks.
func (t *TickTrigger) OnBatch(batch models.Batch) {
	for {
		select {
		case t.latest <- batch:
			return
		default:
		}
		select {
		case <-t.latest:
		default:
		}
	}
}

// Run evaluates batches until ctx is cancelled.
func (t *TickTrigger) Run(ctx context.Context) error {
	t.logger.Info().Msg("Tick trigger started")
	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("Tick trigger stopped")
			return nil
		case batch := <-t.latest:
			t.evaluate(ctx, batch)
		}
	}
}

func (t *TickTrigger) evaluate(ctx context.Context, batch models.Batch) {
	users, err := t.users.ListUserIDsWithOpenItems(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to list users with open items")
		return
	}
	if len(users) == 0 {
		return
	}

	prices := batch.Prices()
	p := pool.New().WithMaxGoroutines(t.workers)
	for _, userID := range users {
		p.Go(func() {
			if _, err := t.eval.Evaluate(ctx, userID, prices); err != nil {
				t.logger.Error().Err(err).Str("user", userID).Msg("Trigger evaluation failed")
			}
		})
	}
	p.Wait()
}
