package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/server"
	"github.com/alanyoungcy/fundingbot/internal/server/handler"
	"github.com/alanyoungcy/fundingbot/internal/server/ws"
	"github.com/alanyoungcy/fundingbot/internal/service"
	"github.com/alanyoungcy/fundingbot/internal/sink"
	"github.com/alanyoungcy/fundingbot/internal/sink/bus"
	"github.com/alanyoungcy/fundingbot/internal/sink/console"
	"github.com/alanyoungcy/fundingbot/internal/sizing"
	"github.com/alanyoungcy/fundingbot/internal/strategy"
)

// instanceLockTTL is how long the single-instance lock lives without a
// refresh; a crashed process frees its lock within this window.
const instanceLockTTL = 30 * time.Second

// RunMode starts the full trading stack: the strategy engine, balance
// monitor, history sync, archival, sinks, and the HTTP control surface.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode")

	// Single-instance guard: two engines trading the same strategies would
	// stack orders on the same venue accounts.
	if deps.LockManager != nil {
		unlock, err := deps.LockManager.Acquire(ctx, a.instanceLockKey(), instanceLockTTL)
		if err != nil {
			return fmt.Errorf("run mode: another instance is running: %w", err)
		}
		a.closers = append(a.closers, unlock)
	}

	g, ctx := errgroup.WithContext(ctx)

	// State sinks. The console dashboard always runs; the bus sink mirrors
	// snapshots into Redis for the websocket hub and monitor-mode processes.
	consoleSink := console.New(os.Stdout, 0, a.logger)
	g.Go(func() error {
		return consoleSink.Run(ctx)
	})

	sinks := []domain.StateSink{consoleSink}
	if deps.SignalBus != nil {
		sinks = append(sinks, bus.New(deps.SignalBus, a.logger))
	}
	stateSink := sink.NewMulti(a.logger, sinks...)
	a.closers = append(a.closers, stateSink.Close)

	// Strategy engine.
	reg, err := a.buildStrategies(deps, stateSink)
	if err != nil {
		return fmt.Errorf("run mode: %w", err)
	}
	engine := strategy.NewEngine(reg, a.logger)
	g.Go(func() error {
		return engine.Run(ctx)
	})

	// Balance monitor: per-venue balances pushed to the sinks.
	venues := venueList(deps.Venues)
	monitor := service.NewBalanceMonitor(venues, stateSink, time.Minute, a.logger)
	g.Go(func() error {
		return monitor.Run(ctx)
	})

	// Fill/funding history sync for venues that expose history endpoints.
	if symbols := a.strategySymbols(); len(symbols) > 0 {
		sync := service.NewHistorySync(venues, symbols, deps.TradeStore, 5*time.Minute, a.logger)
		g.Go(func() error {
			return sync.Run(ctx)
		})
	}

	// Trade archival.
	if deps.Archiver != nil {
		runner := service.NewArchiveRunner(
			deps.Archiver,
			a.cfg.Archive.RetentionDays,
			a.cfg.Archive.Interval.Duration,
			a.logger,
		)
		g.Go(func() error {
			return runner.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, reg)
	}

	return g.Wait()
}

// MonitorMode runs a read-only dashboard: it mirrors the snapshot bus
// published by a run-mode instance into a local console sink and serves the
// HTTP API. No venue credentials are loaded and no orders are placed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	if deps.SignalBus == nil {
		return fmt.Errorf("monitor mode: redis must be enabled to mirror a running instance")
	}

	g, ctx := errgroup.WithContext(ctx)

	consoleSink := console.New(os.Stdout, 0, a.logger)
	g.Go(func() error {
		return consoleSink.Run(ctx)
	})

	mirror := service.NewBusMirror(deps.SignalBus, consoleSink, a.logger)
	g.Go(func() error {
		return mirror.Run(ctx)
	})

	// The API serves what a monitor knows: PnL from the store, events from
	// the journal. The strategy directory is empty here.
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, strategy.NewRegistry())
	}

	return g.Wait()
}

// buildStrategies constructs every configured strategy instance and
// registers it. Venue references are resolved against the wired venue set;
// an unknown reference is a configuration error, not a warning.
func (a *App) buildStrategies(deps *Dependencies, stateSink domain.StateSink) (*strategy.Registry, error) {
	reg := strategy.NewRegistry()

	sdeps := strategy.Deps{
		Trades:   deps.TradeStore,
		States:   deps.StateStore,
		Sink:     stateSink,
		Notifier: deps.Notifier,
		Logger:   a.logger,
	}

	for _, sc := range a.cfg.Strategies {
		cfg := strategy.Config{
			Name:           sc.Name,
			Symbol:         sc.Symbol,
			EntryThreshold: sc.EntryThresholdAPR,
			ExitThreshold:  sc.ExitThresholdAPR,
			OrderSize: sizing.Spec{
				Quantity:    sc.OrderQuantity,
				NotionalUSD: sc.OrderNotionalUSD,
			},
			MaxPosition: sizing.Spec{
				Quantity:    sc.MaxPositionQuantity,
				NotionalUSD: sc.MaxPositionNotionalUSD,
			},
			WindowMinutes: sc.ExecutionWindowMinutes,
			Cooldown:      sc.Cooldown.Duration,
			Interval:      sc.Interval.Duration,
			AutoRevert:    sc.AutoRevertEnabled(),
			Simulate:      sc.Simulate,
		}

		var s strategy.Strategy
		switch sc.Kind {
		case strategy.KindFundingArb:
			primary, ok := deps.Venues[sc.Primary]
			if !ok {
				return nil, fmt.Errorf("strategy %s: unknown primary venue %q", sc.Name, sc.Primary)
			}
			secondary, ok := deps.Venues[sc.Secondary]
			if !ok {
				return nil, fmt.Errorf("strategy %s: unknown secondary venue %q", sc.Name, sc.Secondary)
			}
			s = strategy.NewFundingArb(cfg, primary, secondary, sdeps)

		case strategy.KindDynamicFundingArb:
			venues := make([]domain.Venue, 0, len(sc.Venues))
			for _, id := range sc.Venues {
				v, ok := deps.Venues[id]
				if !ok {
					return nil, fmt.Errorf("strategy %s: unknown venue %q", sc.Name, id)
				}
				venues = append(venues, v)
			}
			s = strategy.NewDynamicArb(cfg, venues, sdeps)

		default:
			return nil, fmt.Errorf("strategy %s: unknown kind %q", sc.Name, sc.Kind)
		}

		if err := reg.Register(s); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", sc.Name, err)
		}
	}

	return reg, nil
}

// startServer adds the HTTP server (and websocket hub when Redis is wired)
// to the errgroup, with a graceful-shutdown goroutine watching the context.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, reg *strategy.Registry) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:       a.cfg.Mode,
			Strategies: reg.Names(),
			StartedAt:  time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	var journal handler.EventJournal
	if deps.SignalBus != nil {
		journal = deps.SignalBus
	}

	srv := server.NewServer(
		server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			APIKey:          a.cfg.Server.APIKey,
			RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
		},
		server.Handlers{
			Health:     handler.NewHealthHandler(),
			Status:     handler.NewStatusHandler(a.cfg.Mode, time.Now().UTC(), reg),
			Strategies: handler.NewStrategiesHandler(reg, a.logger),
			PnL:        handler.NewPnLHandler(deps.TradeStore, reg, a.logger),
			Events:     handler.NewEventsHandler(journal, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// instanceLockKey names the single-instance lock after the sorted strategy
// set, so separate deployments trading disjoint strategies can coexist on
// one Redis.
func (a *App) instanceLockKey() string {
	names := make([]string, 0, len(a.cfg.Strategies))
	for _, sc := range a.cfg.Strategies {
		names = append(names, sc.Name)
	}
	sort.Strings(names)
	return "fundingbot:lock:" + strings.Join(names, ",")
}

// strategySymbols returns the distinct symbols across all configured
// strategies, preserving config order.
func (a *App) strategySymbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, sc := range a.cfg.Strategies {
		if sc.Symbol == "" || seen[sc.Symbol] {
			continue
		}
		seen[sc.Symbol] = true
		out = append(out, sc.Symbol)
	}
	return out
}

func venueList(m map[string]domain.Venue) []domain.Venue {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]domain.Venue, 0, len(m))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}
