package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, strategy, symbol, direction, short_venue, long_venue,
	size, entry_time, exit_time, short_entry_price, short_exit_price,
	long_entry_price, long_exit_price, fees_usd, realized_pnl`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var direction string
		if err := rows.Scan(
			&t.ID, &t.Strategy, &t.Symbol, &direction,
			&t.ShortVenue, &t.LongVenue, &t.Size,
			&t.EntryTime, &t.ExitTime,
			&t.ShortEntryPrice, &t.ShortExitPrice,
			&t.LongEntryPrice, &t.LongExitPrice,
			&t.FeesUSD, &t.RealizedPnL,
		); err != nil {
			return nil, err
		}
		t.Direction = domain.Direction(direction)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// RecordTrade appends one completed round trip.
func (s *TradeStore) RecordTrade(ctx context.Context, t domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			id, strategy, symbol, direction, short_venue, long_venue,
			size, entry_time, exit_time,
			short_entry_price, short_exit_price,
			long_entry_price, long_exit_price,
			fees_usd, realized_pnl
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11,
			$12, $13,
			$14, $15
		)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Strategy, t.Symbol, string(t.Direction),
		t.ShortVenue, t.LongVenue, t.Size,
		t.EntryTime, t.ExitTime,
		t.ShortEntryPrice, t.ShortExitPrice,
		t.LongEntryPrice, t.LongExitPrice,
		t.FeesUSD, t.RealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("postgres: record trade %s: %w", t.ID, err)
	}
	return nil
}

// RecordFills inserts fills efficiently using pgx Batch. Fills already
// present under their (venue, fill_id) key are silently skipped.
func (s *TradeStore) RecordFills(ctx context.Context, fills []domain.FillRecord) error {
	if len(fills) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO fills (
			venue, fill_id, symbol, strategy, side,
			price, quantity, fee_usd, filled_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		) ON CONFLICT (venue, fill_id) DO NOTHING`

	for _, f := range fills {
		batch.Queue(query,
			f.Venue, f.FillID, f.Symbol, f.Strategy, string(f.Side),
			f.Price, f.Quantity, f.FeeUSD, f.At,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range fills {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert fill batch item %d: %w", i, err)
		}
	}
	return nil
}

// RecordFunding inserts funding settlements, skipping rows already present
// under their (venue, symbol, paid_at) key.
func (s *TradeStore) RecordFunding(ctx context.Context, payments []domain.FundingPayment) error {
	if len(payments) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO funding_payments (
			venue, symbol, amount_usd, rate, position_size, paid_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		) ON CONFLICT (venue, symbol, paid_at) DO NOTHING`

	for _, p := range payments {
		batch.Queue(query,
			p.Venue, p.Symbol, p.Amount, p.Rate, p.PositionSize, p.At,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range payments {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert funding batch item %d: %w", i, err)
		}
	}
	return nil
}

// TotalPnL sums realized PnL over all recorded trades for a strategy.
func (s *TradeStore) TotalPnL(ctx context.Context, strategy string) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		"SELECT COALESCE(SUM(realized_pnl), 0) FROM trades WHERE strategy = $1",
		strategy,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: total pnl for %s: %w", strategy, err)
	}
	return total, nil
}

// ListTradesBefore returns all trades that exited strictly before the given
// time, oldest first (for archiving).
func (s *TradeStore) ListTradesBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE exit_time < $1 ORDER BY exit_time ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return trades, nil
}

// DeleteTradesBefore deletes all trades that exited before the given time.
// Returns the number deleted.
func (s *TradeStore) DeleteTradesBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE exit_time < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}
