package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const (
	defaultSyncInterval = 10 * time.Minute
	// defaultLookback bounds each sync window. Recording is idempotent, so
	// windows may overlap previous runs without creating duplicates.
	defaultLookback = 24 * time.Hour
)

// HistorySync periodically pulls order fills and funding settlements from
// venues that expose history and records them through the trade store. Venues
// without a history API are skipped.
type HistorySync struct {
	venues   []domain.Venue
	symbols  []string
	trades   domain.TradeStore
	pollDur  time.Duration
	lookback time.Duration
	logger   *slog.Logger
}

// NewHistorySync creates a HistorySync covering the given symbols on every
// venue. pollInterval defaults to ten minutes when zero or negative.
func NewHistorySync(venues []domain.Venue, symbols []string, trades domain.TradeStore, pollInterval time.Duration, logger *slog.Logger) *HistorySync {
	if pollInterval <= 0 {
		pollInterval = defaultSyncInterval
	}
	return &HistorySync{
		venues:   venues,
		symbols:  symbols,
		trades:   trades,
		pollDur:  pollInterval,
		lookback: defaultLookback,
		logger:   logger.With(slog.String("component", "history_sync")),
	}
}

// Run syncs once immediately and then on every tick until the context is
// cancelled. Call in a goroutine.
func (h *HistorySync) Run(ctx context.Context) error {
	h.sync(ctx)

	ticker := time.NewTicker(h.pollDur)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.sync(ctx)
		}
	}
}

// sync walks every (venue, symbol) pair. Errors are logged per pair and do
// not stop the sweep.
func (h *HistorySync) sync(ctx context.Context) {
	since := time.Now().UTC().Add(-h.lookback)

	for _, v := range h.venues {
		hp, ok := v.(domain.HistoryProvider)
		if !ok {
			continue
		}

		for _, symbol := range h.symbols {
			h.syncFills(ctx, v.Name(), hp, symbol, since)
			h.syncFunding(ctx, v.Name(), hp, symbol, since)
		}
	}
}

func (h *HistorySync) syncFills(ctx context.Context, venue string, hp domain.HistoryProvider, symbol string, since time.Time) {
	fills, err := hp.FillHistory(ctx, symbol, since)
	if err != nil {
		h.logger.WarnContext(ctx, "fill history fetch failed",
			slog.String("venue", venue),
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(fills) == 0 {
		return
	}

	if err := h.trades.RecordFills(ctx, fills); err != nil {
		h.logger.ErrorContext(ctx, "record fills failed",
			slog.String("venue", venue),
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.DebugContext(ctx, "fills synced",
		slog.String("venue", venue),
		slog.String("symbol", symbol),
		slog.Int("count", len(fills)),
	)
}

func (h *HistorySync) syncFunding(ctx context.Context, venue string, hp domain.HistoryProvider, symbol string, since time.Time) {
	payments, err := hp.FundingHistory(ctx, symbol, since)
	if err != nil {
		h.logger.WarnContext(ctx, "funding history fetch failed",
			slog.String("venue", venue),
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(payments) == 0 {
		return
	}

	if err := h.trades.RecordFunding(ctx, payments); err != nil {
		h.logger.ErrorContext(ctx, "record funding failed",
			slog.String("venue", venue),
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.DebugContext(ctx, "funding payments synced",
		slog.String("venue", venue),
		slog.String("symbol", symbol),
		slog.Int("count", len(payments)),
	)
}
