package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const (
	defaultRetentionDays   = 90
	defaultArchiveInterval = 24 * time.Hour
)

// ArchiveRunner drives the trade archiver on a fixed schedule: trades whose
// exit time has aged past the retention window move to cold storage.
type ArchiveRunner struct {
	archiver  domain.Archiver
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewArchiveRunner creates an ArchiveRunner. retentionDays defaults to 90 and
// interval to 24h when zero or negative.
func NewArchiveRunner(archiver domain.Archiver, retentionDays int, interval time.Duration, logger *slog.Logger) *ArchiveRunner {
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	if interval <= 0 {
		interval = defaultArchiveInterval
	}
	return &ArchiveRunner{
		archiver:  archiver,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archive_runner")),
	}
}

// Run archives once at startup and then on every interval tick until the
// context is cancelled. Call in a goroutine.
func (r *ArchiveRunner) Run(ctx context.Context) error {
	r.archiveOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.archiveOnce(ctx)
		}
	}
}

// archiveOnce runs a single archival pass. Failures are logged; the rows
// stay in the primary store and the next tick retries.
func (r *ArchiveRunner) archiveOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.retention)

	n, err := r.archiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		r.logger.ErrorContext(ctx, "trade archival failed",
			slog.Time("cutoff", cutoff),
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "trade archival complete",
			slog.Int64("trades", n),
			slog.Time("cutoff", cutoff),
		)
	}
}
