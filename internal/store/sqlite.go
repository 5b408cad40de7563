package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"

	"papermarket/internal/errors"
	"papermarket/internal/models"
)

// SQLiteStore implements AccountStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	reader *sql.DB
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite-based account store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Immediate transactions take the write lock at BEGIN.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:  db,
		now: time.Now,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Reads use deferred transactions on query-only connections, so they
	// see one WAL snapshot without queueing behind writers.
	reader, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_txlock=deferred&_query_only=1")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open read connection: %w", err)
	}
	reader.SetMaxOpenConns(10)
	reader.SetMaxIdleConns(5)
	reader.SetConnMaxLifetime(time.Hour)
	store.reader = reader

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- One ledger row per user
	CREATE TABLE IF NOT EXISTS accounts (
		user_id TEXT PRIMARY KEY,
		balance REAL NOT NULL,
		used_margin REAL NOT NULL DEFAULT 0,
		realised_pnl REAL NOT NULL DEFAULT 0,
		next_order_id INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Positions, open and closed
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		avg_price REAL NOT NULL,
		product TEXT NOT NULL,
		margin REAL NOT NULL DEFAULT 0,
		stop_loss REAL,
		target REAL,
		status TEXT NOT NULL,
		opened_at DATETIME NOT NULL,
		closed_at DATETIME,
		exit_price REAL,
		pnl REAL
	);

	-- Orders; ids are allocated per user from accounts.next_order_id
	CREATE TABLE IF NOT EXISTS orders (
		user_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL,
		type TEXT NOT NULL,
		product TEXT NOT NULL,
		stop_loss REAL,
		target REAL,
		status TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		executed_at DATETIME,
		note TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (user_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_positions_user_status ON positions(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_positions_lookup ON positions(user_id, symbol, side, product, status);
	CREATE INDEX IF NOT EXISTS idx_orders_user_status ON orders(user_id, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connections.
func (s *SQLiteStore) Close() error {
	return multierr.Append(s.reader.Close(), s.db.Close())
}

// View runs fn inside a read-only transaction. Writes made through tx fail.
func (s *SQLiteStore) View(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.reader.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin read transaction: %v", errors.ErrDatabaseError, err)
	}
	defer sqlTx.Rollback()

	return fn(&txn{tx: sqlTx, ctx: ctx, now: s.now})
}

// WithTx runs fn inside one transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", errors.ErrDatabaseError, err)
	}

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			sqlTx.Rollback()
		}
	}()

	if err = fn(&txn{tx: sqlTx, ctx: ctx, now: s.now}); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", errors.ErrDatabaseError, err)
	}
	return nil
}

// ListUserIDsWithOpenItems returns users holding an open position or order.
func (s *SQLiteStore) ListUserIDsWithOpenItems(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM positions WHERE status = ?
		UNION
		SELECT user_id FROM orders WHERE status = ?
		ORDER BY user_id`,
		models.PositionOpen, models.OrderStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// txn implements Tx over one *sql.Tx.
type txn struct {
	tx  *sql.Tx
	ctx context.Context
	now func() time.Time
}

// Savepoint runs fn inside a savepoint. When fn fails its writes are rolled
// back and the enclosing transaction stays usable.
func (t *txn) Savepoint(name string, fn func() error) error {
	if _, err := t.tx.ExecContext(t.ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint %s: %w", name, err)
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(t.ctx, "ROLLBACK TO "+name); rbErr != nil {
			return multierr.Append(err, fmt.Errorf("failed to roll back savepoint %s: %w", name, rbErr))
		}
		if _, relErr := t.tx.ExecContext(t.ctx, "RELEASE "+name); relErr != nil {
			return multierr.Append(err, fmt.Errorf("failed to release savepoint %s: %w", name, relErr))
		}
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx, "RELEASE "+name); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", name, err)
	}
	return nil
}

const accountColumns = `user_id, balance, used_margin, realised_pnl, next_order_id, created_at, updated_at`

// GetAccount returns the user's account or a NotFoundError.
func (t *txn) GetAccount(userID string) (*models.Account, error) {
	var a models.Account
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ?`, userID,
	).Scan(&a.UserID, &a.Balance, &a.UsedMargin, &a.RealisedPnL, &a.NextOrderID, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("account", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

// EnsureAccount returns the user's account, creating it with balance when
// it does not exist.
func (t *txn) EnsureAccount(userID string, balance float64) (*models.Account, error) {
	now := t.now()
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT OR IGNORE INTO accounts (`+accountColumns+`)
		VALUES (?, ?, 0, 0, 1, ?, ?)`,
		userID, balance, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return t.GetAccount(userID)
}

// UpdateAccount writes every mutable account field.
func (t *txn) UpdateAccount(a *models.Account) error {
	a.UpdatedAt = t.now()
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE accounts
		SET balance = ?, used_margin = ?, realised_pnl = ?, next_order_id = ?, updated_at = ?
		WHERE user_id = ?`,
		a.Balance, a.UsedMargin, a.RealisedPnL, a.NextOrderID, a.UpdatedAt, a.UserID)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return expectRow(res, "account", a.UserID)
}

const orderColumns = `user_id, id, symbol, side, quantity, price, type, product, stop_loss, target, status, timestamp, executed_at, note`

// InsertOrder stores a new order; the id must already be allocated.
func (t *txn) InsertOrder(o *models.Order) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.UserID, o.ID, o.Symbol, o.Side, o.Quantity, o.Price, o.Type, o.Product,
		nullFloat(o.StopLoss), nullFloat(o.Target), o.Status, o.Timestamp, nullTime(o.ExecutedAt), o.Note)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// UpdateOrder writes the order's status fields.
func (t *txn) UpdateOrder(o *models.Order) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE orders
		SET price = ?, status = ?, executed_at = ?, note = ?, stop_loss = ?, target = ?
		WHERE user_id = ? AND id = ?`,
		o.Price, o.Status, nullTime(o.ExecutedAt), o.Note, nullFloat(o.StopLoss), nullFloat(o.Target),
		o.UserID, o.ID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	return expectRow(res, "order", o.ID)
}

// GetOrder returns one of the user's orders or a NotFoundError.
func (t *txn) GetOrder(userID string, id int64) (*models.Order, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = ? AND id = ?`, userID, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("order", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// ListOrders returns the user's orders, newest first.
func (t *txn) ListOrders(userID string, filter OrderFilter) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = ?`
	args := []interface{}{userID}

	if filter.Open != nil {
		if *filter.Open {
			query += " AND status = ?"
		} else {
			query += " AND status != ?"
		}
		args = append(args, models.OrderStatusOpen)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, strings.ToUpper(filter.Symbol))
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

const positionColumns = `id, user_id, symbol, side, quantity, avg_price, product, margin, stop_loss, target, status, opened_at, closed_at, exit_price, pnl`

// InsertPosition stores a new position and sets its id.
func (t *txn) InsertPosition(p *models.Position) error {
	res, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO positions (user_id, symbol, side, quantity, avg_price, product, margin, stop_loss, target, status, opened_at, closed_at, exit_price, pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Symbol, p.Side, p.Quantity, p.AvgPrice, p.Product, p.Margin,
		nullFloat(p.StopLoss), nullFloat(p.Target), p.Status, p.OpenedAt,
		nullTime(p.ClosedAt), nullFloat(p.ExitPrice), nullFloat(p.PnL))
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read position id: %w", err)
	}
	p.ID = id
	return nil
}

// UpdatePosition writes every mutable position field.
func (t *txn) UpdatePosition(p *models.Position) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE positions
		SET quantity = ?, avg_price = ?, margin = ?, stop_loss = ?, target = ?, status = ?,
			closed_at = ?, exit_price = ?, pnl = ?
		WHERE user_id = ? AND id = ?`,
		p.Quantity, p.AvgPrice, p.Margin, nullFloat(p.StopLoss), nullFloat(p.Target), p.Status,
		nullTime(p.ClosedAt), nullFloat(p.ExitPrice), nullFloat(p.PnL),
		p.UserID, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}
	return expectRow(res, "position", p.ID)
}

// GetPosition returns one of the user's positions or a NotFoundError.
func (t *txn) GetPosition(userID string, id int64) (*models.Position, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = ? AND id = ?`, userID, id)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("position", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return p, nil
}

// FindOpenPosition returns the open position for the key, or nil when there
// is none.
func (t *txn) FindOpenPosition(userID, symbol string, side models.OrderSide, product models.ProductType) (*models.Position, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE user_id = ? AND symbol = ? AND side = ? AND product = ? AND status = ?
		ORDER BY id LIMIT 1`,
		userID, symbol, side, product, models.PositionOpen)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find position: %w", err)
	}
	return p, nil
}

// ListPositions returns the user's positions. Open positions come in
// opening order, closed ones newest first.
func (t *txn) ListPositions(userID string, filter PositionFilter) ([]models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE user_id = ?`
	args := []interface{}{userID}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, strings.ToUpper(filter.Symbol))
	}
	if filter.Status == models.PositionOpen {
		query += " ORDER BY id"
	} else {
		query += " ORDER BY COALESCE(closed_at, opened_at) DESC, id DESC"
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := []models.Position{}
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

// DeleteAccountData removes every position and order of the user.
func (t *txn) DeleteAccountData(userID string) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM positions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete positions: %w", err)
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM orders WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete orders: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scanner) (*models.Order, error) {
	var o models.Order
	var stopLoss, target sql.NullFloat64
	var executedAt sql.NullTime
	err := row.Scan(&o.UserID, &o.ID, &o.Symbol, &o.Side, &o.Quantity, &o.Price, &o.Type, &o.Product,
		&stopLoss, &target, &o.Status, &o.Timestamp, &executedAt, &o.Note)
	if err != nil {
		return nil, err
	}
	o.StopLoss = fromNullFloat(stopLoss)
	o.Target = fromNullFloat(target)
	o.ExecutedAt = fromNullTime(executedAt)
	return &o, nil
}

func scanPosition(row scanner) (*models.Position, error) {
	var p models.Position
	var stopLoss, target, exitPrice, pnl sql.NullFloat64
	var closedAt sql.NullTime
	err := row.Scan(&p.ID, &p.UserID, &p.Symbol, &p.Side, &p.Quantity, &p.AvgPrice, &p.Product, &p.Margin,
		&stopLoss, &target, &p.Status, &p.OpenedAt, &closedAt, &exitPrice, &pnl)
	if err != nil {
		return nil, err
	}
	p.StopLoss = fromNullFloat(stopLoss)
	p.Target = fromNullFloat(target)
	p.ClosedAt = fromNullTime(closedAt)
	p.ExitPrice = fromNullFloat(exitPrice)
	p.PnL = fromNullFloat(pnl)
	return &p, nil
}

func expectRow(res sql.Result, kind string, id interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return errors.NewNotFoundError(kind, id)
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func fromNullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func fromNullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
