package trading

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"papermarket/internal/errors"
	"papermarket/internal/logging"
	"papermarket/internal/models"
	"papermarket/internal/store"
)

// Desk is the position manager. Every operation is serialized per user and
// runs inside one store transaction, so a rejected operation leaves no
// partial effect.
type Desk struct {
	store   store.AccountStore
	config  DeskConfig
	prices  PriceSource
	symbols SymbolCatalog
	locks   *keyedMutex
	logger  zerolog.Logger
}

// NewDesk creates a desk over st.
func NewDesk(st store.AccountStore, config DeskConfig, logger zerolog.Logger) *Desk {
	def := DefaultDeskConfig()
	if config.DefaultBalance <= 0 {
		config.DefaultBalance = def.DefaultBalance
	}
	if config.MaxAddMoney <= 0 {
		config.MaxAddMoney = def.MaxAddMoney
	}
	if config.MISMargin <= 0 || config.MISMargin > 1 {
		config.MISMargin = def.MISMargin
	}
	if config.RecentLimit <= 0 {
		config.RecentLimit = def.RecentLimit
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Desk{
		store:  st,
		config: config,
		locks:  newKeyedMutex(),
		logger: logger.With().Str("component", "desk").Logger(),
	}
}

// SetPriceSource sets the source used to value open positions.
func (d *Desk) SetPriceSource(p PriceSource) {
	d.prices = p
}

// SetSymbolCatalog restricts orders to symbols in c.
func (d *Desk) SetSymbolCatalog(c SymbolCatalog) {
	d.symbols = c
}

// Config returns the desk configuration.
func (d *Desk) Config() DeskConfig {
	return d.config
}

// update runs fn against the user's ledger and persists the account when
// it changed.
func (d *Desk) update(ctx context.Context, userID string, fn func(tx store.Tx, l *Ledger) error) error {
	if strings.TrimSpace(userID) == "" {
		return errors.NewValidationError("user", userID, "user id is required")
	}
	unlock := d.locks.Lock(userID)
	defer unlock()

	return d.store.WithTx(ctx, func(tx store.Tx) error {
		acc, err := tx.EnsureAccount(userID, d.config.DefaultBalance)
		if err != nil {
			return err
		}
		before := *acc
		if err := fn(tx, NewLedger(acc)); err != nil {
			return err
		}
		if *acc == before {
			return nil
		}
		return tx.UpdateAccount(acc)
	})
}

// view runs fn against a read-only snapshot of the user's ledger. A user
// without an account row sees a fresh default account; none is created.
func (d *Desk) view(ctx context.Context, userID string, fn func(tx store.Tx, acc *models.Account) error) error {
	if strings.TrimSpace(userID) == "" {
		return errors.NewValidationError("user", userID, "user id is required")
	}
	return d.store.View(ctx, func(tx store.Tx) error {
		acc, err := tx.GetAccount(userID)
		if errors.Is(err, errors.ErrAccountNotFound) {
			now := d.config.Now()
			acc = &models.Account{
				UserID:      userID,
				Balance:     d.config.DefaultBalance,
				NextOrderID: 1,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
		} else if err != nil {
			return err
		}
		return fn(tx, acc)
	})
}

// PlaceOrder validates and records an order. MARKET orders execute at
// req.Price immediately; LIMIT orders stay OPEN until a trigger fills them.
func (d *Desk) PlaceOrder(ctx context.Context, userID string, req OrderRequest) (*models.Order, error) {
	req, execPrice, err := d.validate(req)
	if err != nil {
		return nil, err
	}
	stopLoss, target := sanitizeExits(req.Side, execPrice, req.StopLoss, req.Target)

	var order *models.Order
	err = d.update(ctx, userID, func(tx store.Tx, l *Ledger) error {
		now := d.config.Now()

		product := req.Product
		if req.Side == models.OrderSideSell && product == models.ProductCNC {
			long, err := tx.FindOpenPosition(userID, req.Symbol, models.OrderSideBuy, models.ProductCNC)
			if err != nil {
				return err
			}
			if long == nil || long.Quantity < req.Quantity {
				product = models.ProductMIS
			}
		}

		o := &models.Order{
			UserID:    userID,
			Symbol:    req.Symbol,
			Side:      req.Side,
			Quantity:  req.Quantity,
			Price:     execPrice,
			Type:      req.Type,
			Product:   product,
			StopLoss:  stopLoss,
			Target:    target,
			Status:    models.OrderStatusOpen,
			Timestamp: now,
		}

		required, err := d.requiredMargin(tx, o)
		if err != nil {
			return err
		}
		if err := l.CanAfford(required); err != nil {
			return err
		}

		o.ID = l.NextOrderID()
		if o.Type == models.OrderTypeMarket {
			o.Status = models.OrderStatusExecuted
			o.ExecutedAt = &now
		}
		if err := tx.InsertOrder(o); err != nil {
			return err
		}
		if o.Status == models.OrderStatusExecuted {
			if err := d.execute(tx, l, o, now); err != nil {
				return err
			}
		}
		order = o
		return nil
	})
	if err != nil {
		d.logger.Debug().Err(err).Str("user", userID).Str("symbol", req.Symbol).Msg("Order rejected")
		return nil, err
	}

	logging.LogOrder(d.logger, userID, order.ID, order.Symbol, string(order.Side), string(order.Status))
	return order, nil
}

// validate normalizes req and returns the execution price.
func (d *Desk) validate(req OrderRequest) (OrderRequest, float64, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		return req, 0, errors.NewValidationError("symbol", req.Symbol, "symbol is required")
	}
	if d.symbols != nil && !d.symbols.Has(req.Symbol) {
		return req, 0, errors.NewValidationError("symbol", req.Symbol, "unknown symbol")
	}
	if !req.Side.Valid() {
		return req, 0, errors.NewValidationError("side", req.Side, "must be BUY or SELL")
	}
	if req.Type == "" {
		req.Type = models.OrderTypeMarket
	}
	if !req.Type.Valid() {
		return req, 0, errors.NewValidationError("type", req.Type, "must be MARKET or LIMIT")
	}
	if req.Product == "" {
		req.Product = models.ProductCNC
	}
	if !req.Product.Valid() {
		return req, 0, errors.NewValidationError("product", req.Product, "must be CNC or MIS")
	}
	if req.Quantity <= 0 {
		return req, 0, errors.NewValidationError("quantity", req.Quantity, "must be a positive integer")
	}
	if !validPrice(req.Price) {
		return req, 0, errors.NewValidationError("price", req.Price, "must be positive")
	}

	execPrice := req.Price
	if req.Type == models.OrderTypeLimit && req.LimitPrice != nil {
		execPrice = *req.LimitPrice
	}
	if !validPrice(execPrice) {
		return req, 0, errors.NewValidationError("limitPrice", execPrice, "must be positive")
	}
	return req, execPrice, nil
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

// sanitizeExits drops a stop-loss or target on the wrong side of price.
func sanitizeExits(side models.OrderSide, price float64, stopLoss, target *float64) (*float64, *float64) {
	var sl, tgt *float64
	if stopLoss != nil && validPrice(*stopLoss) {
		if (side == models.OrderSideBuy && *stopLoss < price) || (side == models.OrderSideSell && *stopLoss > price) {
			sl = models.Float(*stopLoss)
		}
	}
	if target != nil && validPrice(*target) {
		if (side == models.OrderSideBuy && *target > price) || (side == models.OrderSideSell && *target < price) {
			tgt = models.Float(*target)
		}
	}
	return sl, tgt
}

// requiredMargin is the free balance an execution of o would need. A BUY
// MIS first covers an open short and a SELL first reduces the matching
// long; the remainder needs margin, offset by the margin the cover frees
// and the P&L it realises. A pure cover needs nothing.
func (d *Desk) requiredMargin(tx store.Tx, o *models.Order) (float64, error) {
	var opposite *models.Position
	product := o.Product

	switch o.Side {
	case models.OrderSideBuy:
		if product == models.ProductMIS {
			short, err := tx.FindOpenPosition(o.UserID, o.Symbol, models.OrderSideSell, models.ProductMIS)
			if err != nil {
				return 0, err
			}
			opposite = short
		}
	case models.OrderSideSell:
		long, err := tx.FindOpenPosition(o.UserID, o.Symbol, models.OrderSideBuy, product)
		if err != nil {
			return 0, err
		}
		opposite = long
		product = models.ProductMIS
	}

	remaining := o.Quantity
	var released float64
	if opposite != nil {
		cover := min(remaining, opposite.Quantity)
		freed, pnl := coverEffect(opposite, cover, o.Price)
		released = freed + pnl
		remaining -= cover
	}
	if remaining == 0 {
		return 0, nil
	}
	return o.Price*float64(remaining)*d.config.marginFactor(product) - released, nil
}

// coverEffect is the margin freed and the P&L realised by taking qty off
// pos at price.
func coverEffect(pos *models.Position, qty int, price float64) (freed, pnl float64) {
	if pos.Side == models.OrderSideSell {
		pnl = (pos.AvgPrice - price) * float64(qty)
	} else {
		pnl = (price - pos.AvgPrice) * float64(qty)
	}
	freed = pos.Margin
	if qty < pos.Quantity {
		freed = pos.Margin * float64(qty) / float64(pos.Quantity)
	}
	return freed, pnl
}

// execute applies a filled order to the user's positions.
func (d *Desk) execute(tx store.Tx, l *Ledger, o *models.Order, now time.Time) error {
	remaining := o.Quantity

	switch o.Side {
	case models.OrderSideBuy:
		if o.Product == models.ProductMIS {
			short, err := tx.FindOpenPosition(o.UserID, o.Symbol, models.OrderSideSell, models.ProductMIS)
			if err != nil {
				return err
			}
			if short != nil {
				cover := min(remaining, short.Quantity)
				if _, err := d.reduce(tx, l, short, cover, o.Price, now); err != nil {
					return err
				}
				remaining -= cover
			}
		}
		if remaining > 0 {
			if err := d.open(tx, l, o, models.OrderSideBuy, o.Product, remaining, now); err != nil {
				return err
			}
		}

	case models.OrderSideSell:
		long, err := tx.FindOpenPosition(o.UserID, o.Symbol, models.OrderSideBuy, o.Product)
		if err != nil {
			return err
		}
		if long != nil {
			cover := min(remaining, long.Quantity)
			if _, err := d.reduce(tx, l, long, cover, o.Price, now); err != nil {
				return err
			}
			remaining -= cover
		}
		if remaining > 0 {
			// Shorts are always intraday.
			if err := d.open(tx, l, o, models.OrderSideSell, models.ProductMIS, remaining, now); err != nil {
				return err
			}
		}
	}

	logging.LogTrade(d.logger, o.UserID, o.Symbol, string(o.Side), o.Quantity, o.Price)
	return nil
}

// open creates or averages into the (symbol, side, product) position,
// blocking its margin.
func (d *Desk) open(tx store.Tx, l *Ledger, o *models.Order, side models.OrderSide, product models.ProductType, qty int, now time.Time) error {
	margin := o.Price * float64(qty) * d.config.marginFactor(product)
	if err := l.BlockMargin(margin); err != nil {
		return err
	}

	pos, err := tx.FindOpenPosition(o.UserID, o.Symbol, side, product)
	if err != nil {
		return err
	}
	if pos == nil {
		return tx.InsertPosition(&models.Position{
			UserID:   o.UserID,
			Symbol:   o.Symbol,
			Side:     side,
			Quantity: qty,
			AvgPrice: o.Price,
			Product:  product,
			Margin:   margin,
			StopLoss: o.StopLoss,
			Target:   o.Target,
			Status:   models.PositionOpen,
			OpenedAt: now,
		})
	}

	total := pos.AvgPrice*float64(pos.Quantity) + o.Price*float64(qty)
	pos.Quantity += qty
	pos.AvgPrice = total / float64(pos.Quantity)
	pos.Margin += margin
	if o.StopLoss != nil {
		pos.StopLoss = o.StopLoss
	}
	if o.Target != nil {
		pos.Target = o.Target
	}
	return tx.UpdatePosition(pos)
}

// reduce takes qty off pos at price, freeing margin proportionally and
// realising P&L. The position closes when its quantity reaches zero. PnL
// on the position accumulates across partial reductions.
func (d *Desk) reduce(tx store.Tx, l *Ledger, pos *models.Position, qty int, price float64, now time.Time) (float64, error) {
	freed, pnl := coverEffect(pos, qty, price)
	l.ReleaseMargin(freed, pnl)

	pos.Quantity -= qty
	pos.Margin -= freed
	realised := pnl
	if pos.PnL != nil {
		realised += *pos.PnL
	}
	pos.PnL = &realised

	if pos.Quantity == 0 {
		pos.Status = models.PositionClosed
		pos.Margin = 0
		pos.ClosedAt = &now
		pos.ExitPrice = models.Float(price)
	}
	if err := tx.UpdatePosition(pos); err != nil {
		return 0, err
	}
	return pnl, nil
}

// closePosition closes pos at price and records an audit order with note.
func (d *Desk) closePosition(tx store.Tx, l *Ledger, pos *models.Position, price float64, note string, now time.Time) error {
	qty := pos.Quantity
	if _, err := d.reduce(tx, l, pos, qty, price, now); err != nil {
		return err
	}
	return tx.InsertOrder(&models.Order{
		ID:         l.NextOrderID(),
		UserID:     pos.UserID,
		Symbol:     pos.Symbol,
		Side:       pos.Side.Opposite(),
		Quantity:   qty,
		Price:      price,
		Type:       models.OrderTypeMarket,
		Product:    pos.Product,
		Status:     models.OrderStatusExecuted,
		Timestamp:  now,
		ExecutedAt: &now,
		Note:       note,
	})
}

// ClosePosition closes an open position at currentPrice.
func (d *Desk) ClosePosition(ctx context.Context, userID string, positionID int64, currentPrice float64) (*models.Position, error) {
	if !validPrice(currentPrice) {
		return nil, errors.NewValidationError("currentPrice", currentPrice, "must be positive")
	}

	var closed *models.Position
	err := d.update(ctx, userID, func(tx store.Tx, l *Ledger) error {
		pos, err := tx.GetPosition(userID, positionID)
		if err != nil {
			return err
		}
		if pos.Status != models.PositionOpen {
			return errors.NewStateError("position", positionID, string(pos.Status), "close")
		}
		if err := d.closePosition(tx, l, pos, currentPrice, NoteManualClose, d.config.Now()); err != nil {
			return err
		}
		closed = pos
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info().
		Str("user", userID).
		Int64("position_id", positionID).
		Str("symbol", closed.Symbol).
		Float64("exit_price", currentPrice).
		Float64("pnl", *closed.PnL).
		Msg("Position closed")
	return closed, nil
}

// CancelOrder cancels an OPEN order.
func (d *Desk) CancelOrder(ctx context.Context, userID string, orderID int64) (*models.Order, error) {
	var cancelled *models.Order
	err := d.update(ctx, userID, func(tx store.Tx, l *Ledger) error {
		o, err := tx.GetOrder(userID, orderID)
		if err != nil {
			return err
		}
		if o.Status != models.OrderStatusOpen {
			return errors.NewStateError("order", orderID, string(o.Status), "cancel")
		}
		o.Status = models.OrderStatusCancelled
		o.Note = NoteCancelled
		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		cancelled = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.LogOrder(d.logger, userID, cancelled.ID, cancelled.Symbol, string(cancelled.Side), string(cancelled.Status))
	return cancelled, nil
}

// ResetAccount restores the user's starting balance and removes every
// position and order.
func (d *Desk) ResetAccount(ctx context.Context, userID string) (*models.Account, error) {
	var acc models.Account
	err := d.update(ctx, userID, func(tx store.Tx, l *Ledger) error {
		if err := tx.DeleteAccountData(userID); err != nil {
			return err
		}
		l.Reset(d.config.DefaultBalance)
		acc = *l.Account()
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info().Str("user", userID).Float64("balance", acc.Balance).Msg("Account reset")
	return &acc, nil
}

// AddMoney credits amount to the user's balance.
func (d *Desk) AddMoney(ctx context.Context, userID string, amount float64) (*models.Account, error) {
	if !validPrice(amount) {
		return nil, errors.NewAmountError(amount, "amount must be positive")
	}
	if amount > d.config.MaxAddMoney {
		return nil, errors.NewAmountError(amount, "amount exceeds the single deposit limit")
	}

	var acc models.Account
	err := d.update(ctx, userID, func(tx store.Tx, l *Ledger) error {
		l.Credit(amount)
		acc = *l.Account()
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info().Str("user", userID).Float64("amount", amount).Float64("balance", acc.Balance).Msg("Money added")
	return &acc, nil
}

// Account returns the user's ledger with unrealised P&L and equity at the
// current prices. Positions without a live price are valued at cost.
func (d *Desk) Account(ctx context.Context, userID string) (*AccountSummary, error) {
	var summary AccountSummary
	err := d.view(ctx, userID, func(tx store.Tx, acc *models.Account) error {
		positions, err := tx.ListPositions(userID, store.PositionFilter{Status: models.PositionOpen})
		if err != nil {
			return err
		}
		orders, err := tx.ListOrders(userID, store.OrderFilter{Open: store.Bool(true)})
		if err != nil {
			return err
		}

		summary.Account = *acc
		summary.OpenPositions = len(positions)
		summary.OpenOrders = len(orders)
		for i := range positions {
			if d.prices == nil {
				continue
			}
			if price, ok := d.prices.Price(positions[i].Symbol); ok {
				summary.UnrealisedPnL += positions[i].DirectionalPnL(price)
			}
		}
		summary.Equity = summary.Balance + summary.UsedMargin + summary.UnrealisedPnL
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// Positions returns the open positions followed by the most recently
// closed ones.
func (d *Desk) Positions(ctx context.Context, userID string) ([]models.Position, error) {
	var out []models.Position
	err := d.view(ctx, userID, func(tx store.Tx, _ *models.Account) error {
		open, err := tx.ListPositions(userID, store.PositionFilter{Status: models.PositionOpen})
		if err != nil {
			return err
		}
		closed, err := tx.ListPositions(userID, store.PositionFilter{Status: models.PositionClosed, Limit: d.config.RecentLimit})
		if err != nil {
			return err
		}
		out = append(open, closed...)
		return nil
	})
	return out, err
}

// Orders returns the open orders followed by the most recent executed and
// cancelled ones, newest first within each group.
func (d *Desk) Orders(ctx context.Context, userID string) ([]models.Order, error) {
	var out []models.Order
	err := d.view(ctx, userID, func(tx store.Tx, _ *models.Account) error {
		open, err := tx.ListOrders(userID, store.OrderFilter{Open: store.Bool(true)})
		if err != nil {
			return err
		}
		recent, err := tx.ListOrders(userID, store.OrderFilter{Open: store.Bool(false), Limit: d.config.RecentLimit})
		if err != nil {
			return err
		}
		out = append(open, recent...)
		return nil
	})
	return out, err
}
