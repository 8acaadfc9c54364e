package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Engine drives every registered strategy on its own fixed tick. Strategies
// never share state, so each gets its own goroutine and its own ticker; a
// cycle that overruns its interval causes the next tick to be skipped, never
// overlapped or queued.
type Engine struct {
	registry *Registry
	logger   *slog.Logger
}

// NewEngine creates an Engine over the given registry.
func NewEngine(registry *Registry, logger *slog.Logger) *Engine {
	return &Engine{
		registry: registry,
		logger:   logger.With(slog.String("component", "strategy_engine")),
	}
}

// Run initializes every registered strategy and drives them until the
// context is cancelled. An Init failure aborts startup; cycle errors are
// logged and retried on the next tick.
func (e *Engine) Run(ctx context.Context) error {
	strategies := e.registry.List()
	if len(strategies) == 0 {
		return errors.New("engine: no strategies registered")
	}

	e.logger.Info("strategy engine started", slog.Any("strategies", e.registry.Names()))
	defer e.logger.Info("strategy engine stopped")

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range strategies {
		g.Go(func() error {
			return e.drive(gctx, s)
		})
	}
	return g.Wait()
}

// drive runs one strategy: Init, an immediate first cycle, then one cycle
// per tick until the context is cancelled.
func (e *Engine) drive(ctx context.Context, s Strategy) error {
	logger := e.logger.With(slog.String("strategy", s.Name()))

	if err := s.Init(ctx); err != nil {
		return fmt.Errorf("engine: init %s: %w", s.Name(), err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("strategy close failed", slog.String("error", err.Error()))
		}
	}()

	interval := s.TickInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	logger.Info("strategy started",
		slog.String("kind", s.Kind()),
		slog.String("symbol", s.Symbol()),
		slog.Duration("interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var busy atomic.Bool
	var inflight sync.WaitGroup
	tick := func() {
		if !busy.CompareAndSwap(false, true) {
			logger.Warn("tick skipped, previous cycle still running")
			return
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer busy.Store(false)
			if err := s.Tick(ctx); err != nil {
				logger.Error("cycle failed", slog.String("error", err.Error()))
			}
		}()
	}

	tick()
	for {
		select {
		case <-ctx.Done():
			inflight.Wait()
			return ctx.Err()
		case <-ticker.C:
			tick()
		}
	}
}
