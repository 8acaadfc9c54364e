// Package service houses the long-running background tasks around the
// trading engine: balance monitoring, venue history sync, trade archival,
// and the bus mirror behind monitor mode.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// defaultBalanceInterval matches the original 60-second balance cadence.
const defaultBalanceInterval = time.Minute

// BalanceMonitor polls free collateral on every venue and pushes the result
// to the state sinks, where the console dashboard and bus publisher pick
// it up.
type BalanceMonitor struct {
	venues  []domain.Venue
	sink    domain.StateSink
	pollDur time.Duration
	logger  *slog.Logger
}

// NewBalanceMonitor creates a BalanceMonitor. pollInterval defaults to one
// minute when zero or negative.
func NewBalanceMonitor(venues []domain.Venue, sink domain.StateSink, pollInterval time.Duration, logger *slog.Logger) *BalanceMonitor {
	if pollInterval <= 0 {
		pollInterval = defaultBalanceInterval
	}
	return &BalanceMonitor{
		venues:  venues,
		sink:    sink,
		pollDur: pollInterval,
		logger:  logger.With(slog.String("component", "balance_monitor")),
	}
}

// Run polls balances until the context is cancelled. The first poll happens
// immediately so dashboards are populated at startup. Call in a goroutine.
func (m *BalanceMonitor) Run(ctx context.Context) error {
	m.poll(ctx)

	ticker := time.NewTicker(m.pollDur)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// poll fetches balances from each venue in turn. A venue failure is logged
// and skipped; the remaining venues still report.
func (m *BalanceMonitor) poll(ctx context.Context) {
	for _, v := range m.venues {
		balances, err := v.Balances(ctx)
		if err != nil {
			m.logger.WarnContext(ctx, "balance fetch failed",
				slog.String("venue", v.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.sink.OnBalances(v.Name(), balances)
	}
}
