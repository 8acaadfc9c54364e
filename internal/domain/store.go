package domain

import (
	"context"
	"time"
)

// TradeStore persists completed round trips, order fills, and funding
// payments. RecordFills and RecordFunding are idempotent: rows already
// present under their natural key are silently skipped.
type TradeStore interface {
	RecordTrade(ctx context.Context, trade TradeRecord) error
	RecordFills(ctx context.Context, fills []FillRecord) error
	RecordFunding(ctx context.Context, payments []FundingPayment) error

	// TotalPnL sums realized PnL over all recorded trades for a strategy.
	// Seeds the in-memory counter at startup.
	TotalPnL(ctx context.Context, strategy string) (float64, error)

	// ListTradesBefore and DeleteTradesBefore support archival: trades older
	// than the retention window are exported, then removed.
	ListTradesBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
	DeleteTradesBefore(ctx context.Context, before time.Time) (int64, error)
}

// StateStore persists strategy runtime state so quarantine flags and
// realized PnL survive restarts.
type StateStore interface {
	SaveState(ctx context.Context, strategy string, state StrategyState) error
	// LoadState returns (state, true, nil) when a row exists and
	// (zero, false, nil) when the strategy has never persisted state.
	LoadState(ctx context.Context, strategy string) (StrategyState, bool, error)
}
