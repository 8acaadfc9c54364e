package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// StateStore implements domain.StateStore using PostgreSQL.
type StateStore struct {
	pool *pgxpool.Pool
}

var _ domain.StateStore = (*StateStore)(nil)

// NewStateStore creates a new StateStore backed by the given connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// SaveState upserts the runtime state row for a strategy.
func (s *StateStore) SaveState(ctx context.Context, strategy string, st domain.StrategyState) error {
	const query = `
		INSERT INTO strategy_states (
			strategy, direction, short_venue, long_venue, size, entry_time,
			realized_pnl, quarantined, quarantine_reason, unbalanced,
			last_execution, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12
		) ON CONFLICT (strategy) DO UPDATE SET
			direction         = EXCLUDED.direction,
			short_venue       = EXCLUDED.short_venue,
			long_venue        = EXCLUDED.long_venue,
			size              = EXCLUDED.size,
			entry_time        = EXCLUDED.entry_time,
			realized_pnl      = EXCLUDED.realized_pnl,
			quarantined       = EXCLUDED.quarantined,
			quarantine_reason = EXCLUDED.quarantine_reason,
			unbalanced        = EXCLUDED.unbalanced,
			last_execution    = EXCLUDED.last_execution,
			updated_at        = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		strategy, string(st.Direction), st.ShortVenue, st.LongVenue,
		st.Size, st.EntryTime,
		st.RealizedPnL, st.Quarantined, st.QuarantineReason, st.Unbalanced,
		st.LastExecution, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save state %s: %w", strategy, err)
	}
	return nil
}

// LoadState returns the persisted state for a strategy. The boolean reports
// whether a row exists; a strategy that has never saved gets (zero, false, nil).
func (s *StateStore) LoadState(ctx context.Context, strategy string) (domain.StrategyState, bool, error) {
	const query = `
		SELECT direction, short_venue, long_venue, size, entry_time,
			realized_pnl, quarantined, quarantine_reason, unbalanced,
			last_execution, updated_at
		FROM strategy_states WHERE strategy = $1`

	var st domain.StrategyState
	var direction string

	err := s.pool.QueryRow(ctx, query, strategy).Scan(
		&direction, &st.ShortVenue, &st.LongVenue, &st.Size, &st.EntryTime,
		&st.RealizedPnL, &st.Quarantined, &st.QuarantineReason, &st.Unbalanced,
		&st.LastExecution, &st.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.StrategyState{}, false, nil
		}
		return domain.StrategyState{}, false, fmt.Errorf("postgres: load state %s: %w", strategy, err)
	}

	st.Direction = domain.Direction(direction)
	return st, true, nil
}
