// Package journal persists order and trade returns to PostgreSQL.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/femasgate/internal/bridge"
	"github.com/ajitpratap0/femasgate/internal/metrics"
)

// Tables written by the store.
const (
	OrdersTable = "journal_orders"
	TradesTable = "journal_trades"
)

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Store is the trade journal.
type Store struct {
	pool  Pool
	stats func() (acquired, idle int32)
	close func()
}

// NewStore creates a store on an open pool.
func NewStore(pool Pool) *Store {
	s := &Store{pool: pool, close: func() {}}
	if p, ok := pool.(*pgxpool.Pool); ok {
		s.stats = func() (int32, int32) {
			st := p.Stat()
			return st.AcquiredConns(), st.IdleConns()
		}
		s.close = p.Close
	}
	return s
}

// Open connects to PostgreSQL and returns a store on a new pool.
func Open(ctx context.Context, dsn string, poolSize int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if poolSize > 0 {
		cfg.MaxConns = int32(poolSize)
	}
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Int32("max_conns", cfg.MaxConns).Msg("Journal database pool created")
	return NewStore(pool), nil
}

// DB returns the underlying pool for components sharing the journal database.
func (s *Store) DB() Pool {
	return s.pool
}

// Close closes the pool when the store owns one.
func (s *Store) Close() {
	s.close()
}

// Health checks database connectivity.
func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS journal_orders (
		trading_day   TEXT NOT NULL,
		order_ref     TEXT NOT NULL,
		order_sys_id  TEXT NOT NULL DEFAULT '',
		instrument_id TEXT NOT NULL,
		direction     TEXT NOT NULL,
		offset_flag   TEXT NOT NULL,
		price         DOUBLE PRECISION NOT NULL,
		volume        INTEGER NOT NULL,
		volume_traded INTEGER NOT NULL DEFAULT 0,
		status        TEXT NOT NULL,
		status_msg    TEXT NOT NULL DEFAULT '',
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (trading_day, order_ref)
	)`,
	`CREATE TABLE IF NOT EXISTS journal_trades (
		trading_day   TEXT NOT NULL,
		trade_id      TEXT NOT NULL,
		order_ref     TEXT NOT NULL,
		order_sys_id  TEXT NOT NULL DEFAULT '',
		instrument_id TEXT NOT NULL,
		direction     TEXT NOT NULL,
		offset_flag   TEXT NOT NULL,
		price         DOUBLE PRECISION NOT NULL,
		volume        INTEGER NOT NULL,
		trade_time    TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (trading_day, trade_id)
	)`,
	`CREATE INDEX IF NOT EXISTS journal_trades_instrument_idx ON journal_trades (instrument_id)`,
}

// Migrate creates the journal tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	log.Info().Int("statements", len(schema)).Msg("Journal schema ready")
	return nil
}

const upsertOrder = `
	INSERT INTO journal_orders (
		trading_day, order_ref, order_sys_id, instrument_id, direction, offset_flag,
		price, volume, volume_traded, status, status_msg, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	ON CONFLICT (trading_day, order_ref) DO UPDATE SET
		order_sys_id = EXCLUDED.order_sys_id,
		volume_traded = EXCLUDED.volume_traded,
		status = EXCLUDED.status,
		status_msg = EXCLUDED.status_msg,
		updated_at = NOW()`

// SaveOrder records the latest state of an order.
func (s *Store) SaveOrder(ctx context.Context, tradingDay string, o bridge.Order) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, upsertOrder,
		tradingDay, o.OrderRef, o.OrderSysID, o.InstrumentID, o.Direction, o.OffsetFlag,
		o.Price, o.Volume, o.VolumeTraded, o.Status, o.StatusMsg,
	)
	metrics.RecordDatabaseQuery("save_order", float64(time.Since(start).Milliseconds()))
	if err != nil {
		return fmt.Errorf("failed to save order %s: %w", o.OrderRef, err)
	}
	return nil
}

const insertTrade = `
	INSERT INTO journal_trades (
		trading_day, trade_id, order_ref, order_sys_id, instrument_id, direction,
		offset_flag, price, volume, trade_time
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (trading_day, trade_id) DO NOTHING`

// SaveTrade records a trade. Replayed trades are ignored.
func (s *Store) SaveTrade(ctx context.Context, tradingDay string, t bridge.Trade) error {
	if t.TradingDay != "" {
		tradingDay = t.TradingDay
	}
	start := time.Now()
	_, err := s.pool.Exec(ctx, insertTrade,
		tradingDay, t.TradeID, t.OrderRef, t.OrderSysID, t.InstrumentID, t.Direction,
		t.OffsetFlag, t.Price, t.Volume, t.TradeTime,
	)
	metrics.RecordDatabaseQuery("save_trade", float64(time.Since(start).Milliseconds()))
	if err != nil {
		return fmt.Errorf("failed to save trade %s: %w", t.TradeID, err)
	}
	return nil
}

const selectTrades = `
	SELECT trade_id, order_ref, order_sys_id, instrument_id, direction, offset_flag,
		price, volume, trade_time, trading_day
	FROM journal_trades
	WHERE trading_day = $1
	ORDER BY trade_time, trade_id`

// ListTrades returns the trades of one trading day in time order.
func (s *Store) ListTrades(ctx context.Context, tradingDay string) ([]bridge.Trade, error) {
	start := time.Now()
	defer func() {
		metrics.RecordDatabaseQuery("list_trades", float64(time.Since(start).Milliseconds()))
	}()

	rows, err := s.pool.Query(ctx, selectTrades, tradingDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []bridge.Trade
	for rows.Next() {
		var t bridge.Trade
		if err := rows.Scan(&t.TradeID, &t.OrderRef, &t.OrderSysID, &t.InstrumentID, &t.Direction,
			&t.OffsetFlag, &t.Price, &t.Volume, &t.TradeTime, &t.TradingDay); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

const selectOrders = `
	SELECT order_ref, order_sys_id, instrument_id, direction, offset_flag,
		price, volume, volume_traded, status, status_msg
	FROM journal_orders
	WHERE trading_day = $1
	ORDER BY order_ref`

// ListOrders returns the orders of one trading day.
func (s *Store) ListOrders(ctx context.Context, tradingDay string) ([]bridge.Order, error) {
	start := time.Now()
	defer func() {
		metrics.RecordDatabaseQuery("list_orders", float64(time.Since(start).Milliseconds()))
	}()

	rows, err := s.pool.Query(ctx, selectOrders, tradingDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []bridge.Order
	for rows.Next() {
		var o bridge.Order
		if err := rows.Scan(&o.OrderRef, &o.OrderSysID, &o.InstrumentID, &o.Direction, &o.OffsetFlag,
			&o.Price, &o.Volume, &o.VolumeTraded, &o.Status, &o.StatusMsg); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

// PoolStats reports acquired and idle connections. Both are 0 when the pool
// is not a pgxpool.
func (s *Store) PoolStats() (acquired, idle int32) {
	if s.stats == nil {
		return 0, 0
	}
	return s.stats()
}

// CountRows returns the row count of each journal table.
func (s *Store) CountRows(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, 2)
	for _, table := range []string{OrdersTable, TradesTable} {
		var n int64
		if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
