// Package sqlite implements the trade and state stores on a local SQLite
// database file. It uses the pure-Go driver, so builds need no CGo
// toolchain. This is the default backend for single-host deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    id                TEXT PRIMARY KEY,
    strategy          TEXT NOT NULL,
    symbol            TEXT NOT NULL,
    direction         TEXT NOT NULL,
    short_venue       TEXT NOT NULL,
    long_venue        TEXT NOT NULL,
    size              REAL NOT NULL,
    entry_time        INTEGER NOT NULL,
    exit_time         INTEGER NOT NULL,
    short_entry_price REAL NOT NULL,
    short_exit_price  REAL NOT NULL,
    long_entry_price  REAL NOT NULL,
    long_exit_price   REAL NOT NULL,
    fees_usd          REAL NOT NULL DEFAULT 0,
    realized_pnl      REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_trades_strategy  ON trades (strategy);
CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades (exit_time);

CREATE TABLE IF NOT EXISTS fills (
    venue     TEXT NOT NULL,
    fill_id   TEXT NOT NULL,
    symbol    TEXT NOT NULL,
    strategy  TEXT NOT NULL,
    side      TEXT NOT NULL,
    price     REAL NOT NULL,
    quantity  REAL NOT NULL,
    fee_usd   REAL NOT NULL DEFAULT 0,
    filled_at INTEGER NOT NULL,
    PRIMARY KEY (venue, fill_id)
);

CREATE INDEX IF NOT EXISTS idx_fills_strategy ON fills (strategy, filled_at);

CREATE TABLE IF NOT EXISTS funding_payments (
    venue         TEXT NOT NULL,
    symbol        TEXT NOT NULL,
    amount_usd    REAL NOT NULL,
    rate          REAL NOT NULL,
    position_size REAL NOT NULL,
    paid_at       INTEGER NOT NULL,
    PRIMARY KEY (venue, symbol, paid_at)
);

CREATE TABLE IF NOT EXISTS strategy_states (
    strategy          TEXT PRIMARY KEY,
    direction         TEXT NOT NULL,
    short_venue       TEXT NOT NULL DEFAULT '',
    long_venue        TEXT NOT NULL DEFAULT '',
    size              REAL NOT NULL DEFAULT 0,
    entry_time        INTEGER NOT NULL,
    realized_pnl      REAL NOT NULL DEFAULT 0,
    quarantined       INTEGER NOT NULL DEFAULT 0,
    quarantine_reason TEXT NOT NULL DEFAULT '',
    unbalanced        INTEGER NOT NULL DEFAULT 0,
    last_execution    INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);
`

// Store implements domain.TradeStore and domain.StateStore on one database
// file. Timestamps are stored as unix milliseconds.
type Store struct {
	db *sql.DB
}

var (
	_ domain.TradeStore = (*Store)(nil)
	_ domain.StateStore = (*Store)(nil)
)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite is single-writer; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: set pragma %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTrade appends one completed round trip.
func (s *Store) RecordTrade(ctx context.Context, t domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			id, strategy, symbol, direction, short_venue, long_venue,
			size, entry_time, exit_time,
			short_entry_price, short_exit_price,
			long_entry_price, long_exit_price,
			fees_usd, realized_pnl
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.Strategy, t.Symbol, string(t.Direction),
		t.ShortVenue, t.LongVenue, t.Size,
		milli(t.EntryTime), milli(t.ExitTime),
		t.ShortEntryPrice, t.ShortExitPrice,
		t.LongEntryPrice, t.LongExitPrice,
		t.FeesUSD, t.RealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("sqlite: record trade %s: %w", t.ID, err)
	}
	return nil
}

// RecordFills inserts fills in one transaction. Fills already present under
// their (venue, fill_id) key are silently skipped.
func (s *Store) RecordFills(ctx context.Context, fills []domain.FillRecord) error {
	if len(fills) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: record fills: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO fills (
			venue, fill_id, symbol, strategy, side,
			price, quantity, fee_usd, filled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: record fills: prepare: %w", err)
	}
	defer stmt.Close()

	for _, f := range fills {
		if _, err := stmt.ExecContext(ctx,
			f.Venue, f.FillID, f.Symbol, f.Strategy, string(f.Side),
			f.Price, f.Quantity, f.FeeUSD, milli(f.At),
		); err != nil {
			return fmt.Errorf("sqlite: record fill %s/%s: %w", f.Venue, f.FillID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: record fills: commit: %w", err)
	}
	return nil
}

// RecordFunding inserts funding settlements, skipping rows already present
// under their (venue, symbol, paid_at) key.
func (s *Store) RecordFunding(ctx context.Context, payments []domain.FundingPayment) error {
	if len(payments) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: record funding: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO funding_payments (
			venue, symbol, amount_usd, rate, position_size, paid_at
		) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: record funding: prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range payments {
		if _, err := stmt.ExecContext(ctx,
			p.Venue, p.Symbol, p.Amount, p.Rate, p.PositionSize, milli(p.At),
		); err != nil {
			return fmt.Errorf("sqlite: record funding %s/%s: %w", p.Venue, p.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: record funding: commit: %w", err)
	}
	return nil
}

// TotalPnL sums realized PnL over all recorded trades for a strategy.
func (s *Store) TotalPnL(ctx context.Context, strategy string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(realized_pnl), 0) FROM trades WHERE strategy = ?",
		strategy,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sqlite: total pnl for %s: %w", strategy, err)
	}
	return total, nil
}

// ListTradesBefore returns all trades that exited strictly before the given
// time, oldest first (for archiving).
func (s *Store) ListTradesBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	const query = `
		SELECT id, strategy, symbol, direction, short_venue, long_venue,
			size, entry_time, exit_time,
			short_entry_price, short_exit_price,
			long_entry_price, long_exit_price,
			fees_usd, realized_pnl
		FROM trades WHERE exit_time < ? ORDER BY exit_time ASC`

	rows, err := s.db.QueryContext(ctx, query, milli(before))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades before: %w", err)
	}
	defer rows.Close()

	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var direction string
		var entryMS, exitMS int64
		if err := rows.Scan(
			&t.ID, &t.Strategy, &t.Symbol, &direction,
			&t.ShortVenue, &t.LongVenue, &t.Size,
			&entryMS, &exitMS,
			&t.ShortEntryPrice, &t.ShortExitPrice,
			&t.LongEntryPrice, &t.LongExitPrice,
			&t.FeesUSD, &t.RealizedPnL,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan trade: %w", err)
		}
		t.Direction = domain.Direction(direction)
		t.EntryTime = fromMilli(entryMS)
		t.ExitTime = fromMilli(exitMS)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// DeleteTradesBefore deletes all trades that exited before the given time.
// Returns the number deleted.
func (s *Store) DeleteTradesBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM trades WHERE exit_time < ?", milli(before))
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete trades before: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete trades before: rows affected: %w", err)
	}
	return n, nil
}

// SaveState upserts the runtime state row for a strategy.
func (s *Store) SaveState(ctx context.Context, strategy string, st domain.StrategyState) error {
	const query = `
		INSERT INTO strategy_states (
			strategy, direction, short_venue, long_venue, size, entry_time,
			realized_pnl, quarantined, quarantine_reason, unbalanced,
			last_execution, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (strategy) DO UPDATE SET
			direction         = excluded.direction,
			short_venue       = excluded.short_venue,
			long_venue        = excluded.long_venue,
			size              = excluded.size,
			entry_time        = excluded.entry_time,
			realized_pnl      = excluded.realized_pnl,
			quarantined       = excluded.quarantined,
			quarantine_reason = excluded.quarantine_reason,
			unbalanced        = excluded.unbalanced,
			last_execution    = excluded.last_execution,
			updated_at        = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		strategy, string(st.Direction), st.ShortVenue, st.LongVenue,
		st.Size, milli(st.EntryTime),
		st.RealizedPnL, boolInt(st.Quarantined), st.QuarantineReason, boolInt(st.Unbalanced),
		milli(st.LastExecution), milli(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save state %s: %w", strategy, err)
	}
	return nil
}

// LoadState returns the persisted state for a strategy. The boolean reports
// whether a row exists; a strategy that has never saved gets (zero, false, nil).
func (s *Store) LoadState(ctx context.Context, strategy string) (domain.StrategyState, bool, error) {
	const query = `
		SELECT direction, short_venue, long_venue, size, entry_time,
			realized_pnl, quarantined, quarantine_reason, unbalanced,
			last_execution, updated_at
		FROM strategy_states WHERE strategy = ?`

	var st domain.StrategyState
	var direction string
	var entryMS, lastExecMS, updatedMS int64
	var quarantined, unbalanced int

	err := s.db.QueryRowContext(ctx, query, strategy).Scan(
		&direction, &st.ShortVenue, &st.LongVenue, &st.Size, &entryMS,
		&st.RealizedPnL, &quarantined, &st.QuarantineReason, &unbalanced,
		&lastExecMS, &updatedMS,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.StrategyState{}, false, nil
		}
		return domain.StrategyState{}, false, fmt.Errorf("sqlite: load state %s: %w", strategy, err)
	}

	st.Direction = domain.Direction(direction)
	st.EntryTime = fromMilli(entryMS)
	st.LastExecution = fromMilli(lastExecMS)
	st.UpdatedAt = fromMilli(updatedMS)
	st.Quarantined = quarantined == 1
	st.Unbalanced = unbalanced == 1
	return st, true, nil
}

// ---- Internal helpers ----

func milli(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
