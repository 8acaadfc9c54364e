// Package console renders a terminal dashboard of strategy and balance
// state. Updates overwrite the previous value per strategy/venue; the
// dashboard is re-rendered on a fixed refresh only when something changed.
package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const defaultRefresh = 30 * time.Second

// Sink is the console dashboard. It implements domain.StateSink.
type Sink struct {
	out      io.Writer
	interval time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	strategies map[string]domain.Snapshot
	balances   map[string]map[string]float64
	dirty      bool
}

var _ domain.StateSink = (*Sink)(nil)

// New creates a console sink writing to out.
func New(out io.Writer, interval time.Duration, logger *slog.Logger) *Sink {
	if interval <= 0 {
		interval = defaultRefresh
	}
	return &Sink{
		out:        out,
		interval:   interval,
		logger:     logger.With(slog.String("component", "console")),
		strategies: make(map[string]domain.Snapshot),
		balances:   make(map[string]map[string]float64),
	}
}

// OnStateUpdate keeps the latest snapshot per strategy.
func (s *Sink) OnStateUpdate(snap domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[snap.Strategy] = snap
	s.dirty = true
}

// OnBalances keeps the latest balances per venue.
func (s *Sink) OnBalances(venue string, balances map[string]float64) {
	cp := make(map[string]float64, len(balances))
	for asset, qty := range balances {
		cp[asset] = qty
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[venue] = cp
	s.dirty = true
}

// Run re-renders the dashboard on the refresh interval until ctx is done.
func (s *Sink) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.render()
		}
	}
}

func (s *Sink) render() {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	s.dirty = false

	snaps := make([]domain.Snapshot, 0, len(s.strategies))
	for _, snap := range s.strategies {
		snaps = append(snaps, snap)
	}
	balances := make(map[string]map[string]float64, len(s.balances))
	for venue, assets := range s.balances {
		balances[venue] = assets
	}
	s.mu.Unlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Strategy < snaps[j].Strategy })

	fmt.Fprintf(s.out, "\n[%s] strategies\n", time.Now().Format("15:04:05"))
	table := tablewriter.NewWriter(s.out)
	table.Header("Strategy", "Symbol", "Status", "Pair", "Size", "Spread APR", "PnL $", "Note")
	for _, snap := range snaps {
		table.Append(
			snap.Strategy,
			snap.Symbol,
			string(snap.Status),
			pairLabel(snap),
			fmt.Sprintf("%.4f", snap.Size),
			fmt.Sprintf("%.2f%%", snap.SpreadAPR*100),
			fmt.Sprintf("%.2f", snap.RealizedPnL),
			snap.Note,
		)
	}
	table.Render()

	if len(balances) == 0 {
		return
	}

	venues := make([]string, 0, len(balances))
	for venue := range balances {
		venues = append(venues, venue)
	}
	sort.Strings(venues)

	fmt.Fprintln(s.out, "balances")
	bt := tablewriter.NewWriter(s.out)
	bt.Header("Venue", "Asset", "Available")
	for _, venue := range venues {
		assets := make([]string, 0, len(balances[venue]))
		for asset := range balances[venue] {
			assets = append(assets, asset)
		}
		sort.Strings(assets)
		for _, asset := range assets {
			bt.Append(venue, asset, fmt.Sprintf("%.4f", balances[venue][asset]))
		}
	}
	bt.Render()
}

func pairLabel(snap domain.Snapshot) string {
	if snap.Direction == domain.DirectionNone || snap.ShortVenue == "" {
		return "-"
	}
	return "short " + snap.ShortVenue + " / long " + snap.LongVenue
}
