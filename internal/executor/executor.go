// Package executor places and unwinds hedged two-leg positions. It owns the
// order traffic for a strategy cycle: concurrent leg placement, partial-fill
// rollback, and exit-time PnL measurement. It holds no strategy state; the
// caller decides what each outcome means for its state machine.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const (
	defaultRevertAttempts = 3
	defaultRevertDelay    = time.Second
)

// Options configure one executor instance. Each strategy builds its own so
// simulation and revert policy stay per-strategy.
type Options struct {
	// Simulate short-circuits all venue order calls and fabricates filled
	// orders at the reference price.
	Simulate bool
	// AutoRevert enables rollback of the filled leg after a partial entry.
	// When disabled a partial entry quarantines immediately.
	AutoRevert bool
	// RevertAttempts and RevertDelay bound the rollback loop.
	RevertAttempts int
	RevertDelay    time.Duration
}

// EntryResult classifies what an entry attempt actually did on the venues.
type EntryResult struct {
	// Committed means both legs filled; the hedge is on.
	Committed bool
	// Reverted means exactly one leg filled and was rolled back; the book
	// is flat again and the entry counts as a clean failure.
	Reverted bool
	// QuarantineReason is non-empty when the book may hold a naked leg that
	// could not be rolled back. The strategy must stop trading.
	QuarantineReason string

	ShortOrder domain.Order
	LongOrder  domain.Order
}

// ExitLeg carries the measured truth needed to unwind one side of a hedge:
// the venue holding it, the observed magnitude, and the entry price captured
// at reconciliation time.
type ExitLeg struct {
	Venue      domain.Venue
	Quantity   float64
	EntryPrice float64
}

// ExitResult reports per-leg closure and the realized outcome.
type ExitResult struct {
	ShortClosed bool
	LongClosed  bool
	ShortOrder  domain.Order
	LongOrder   domain.Order

	// Exit prices are fetched fresh per leg after the closes confirm.
	ShortExitPrice float64
	LongExitPrice  float64
	// RealizedPnL sums the price differential of each leg times its size.
	// Covers the price legs only; funding payments are accounted elsewhere.
	// Only set when both legs closed.
	RealizedPnL float64
}

// Executor submits hedge entries and exits to venues.
type Executor struct {
	opts   Options
	logger *slog.Logger
}

// NewExecutor creates an executor with the given policy.
func NewExecutor(opts Options, logger *slog.Logger) *Executor {
	if opts.RevertAttempts <= 0 {
		opts.RevertAttempts = defaultRevertAttempts
	}
	if opts.RevertDelay <= 0 {
		opts.RevertDelay = defaultRevertDelay
	}
	return &Executor{
		opts:   opts,
		logger: logger.With(slog.String("component", "executor")),
	}
}

// Enter opens a hedge: a market SELL on the short venue and a market BUY on
// the long venue, same quantity, placed concurrently. One leg's failure
// never cancels the other; both outcomes are needed to classify the result.
func (e *Executor) Enter(ctx context.Context, symbol string, short, long domain.Venue, qty, refPrice float64) (EntryResult, error) {
	log := e.logger.With(
		slog.String("symbol", symbol),
		slog.String("short_venue", short.Name()),
		slog.String("long_venue", long.Name()),
		slog.Float64("quantity", qty),
	)
	log.Info("entering hedge", slog.Bool("simulate", e.opts.Simulate))

	if e.opts.Simulate {
		return EntryResult{
			Committed:  true,
			ShortOrder: simulatedOrder(short.Name(), symbol, domain.OrderSideSell, qty, refPrice),
			LongOrder:  simulatedOrder(long.Name(), symbol, domain.OrderSideBuy, qty, refPrice),
		}, nil
	}

	var (
		wg                sync.WaitGroup
		shortOrd, longOrd domain.Order
		shortErr, longErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		shortOrd, shortErr = short.CreateOrder(ctx, marketOrder(symbol, domain.OrderSideSell, qty))
	}()
	go func() {
		defer wg.Done()
		longOrd, longErr = long.CreateOrder(ctx, marketOrder(symbol, domain.OrderSideBuy, qty))
	}()
	wg.Wait()

	res := EntryResult{ShortOrder: shortOrd, LongOrder: longOrd}
	switch {
	case shortErr == nil && longErr == nil:
		res.Committed = true
		log.Info("both legs executed",
			slog.String("short_order", shortOrd.ID),
			slog.String("long_order", longOrd.ID),
		)
		return res, nil

	case shortErr != nil && longErr != nil:
		log.Error("both legs failed, no position taken",
			slog.String("short_error", shortErr.Error()),
			slog.String("long_error", longErr.Error()),
		)
		return res, fmt.Errorf("executor: entry %s: short leg: %w; long leg: %w", symbol, shortErr, longErr)

	case shortErr == nil:
		// Short filled, long failed: the book holds a naked short.
		log.Error("partial entry, long leg failed", slog.String("error", longErr.Error()))
		e.revertLeg(ctx, &res, short, symbol, domain.OrderSideBuy, qty, "short")
		return res, fmt.Errorf("executor: partial entry %s: long leg: %w", symbol, longErr)

	default:
		// Long filled, short failed: the book holds a naked long.
		log.Error("partial entry, short leg failed", slog.String("error", shortErr.Error()))
		e.revertLeg(ctx, &res, long, symbol, domain.OrderSideSell, qty, "long")
		return res, fmt.Errorf("executor: partial entry %s: short leg: %w", symbol, shortErr)
	}
}

// revertLeg rolls a naked leg back with reduce-only market orders, bounded
// by the configured attempt budget. Sets Reverted or QuarantineReason on res.
func (e *Executor) revertLeg(ctx context.Context, res *EntryResult, venue domain.Venue, symbol string, closeSide domain.OrderSide, qty float64, legName string) {
	if !e.opts.AutoRevert {
		res.QuarantineReason = "partial fill, auto-revert disabled"
		e.logger.Error("manual intervention required, auto-revert is off",
			slog.String("symbol", symbol),
			slog.String("venue", venue.Name()),
		)
		return
	}

	for attempt := 1; attempt <= e.opts.RevertAttempts; attempt++ {
		e.logger.Warn("reverting filled leg",
			slog.String("symbol", symbol),
			slog.String("venue", venue.Name()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", e.opts.RevertAttempts),
		)
		req := marketOrder(symbol, closeSide, qty)
		req.ReduceOnly = true
		_, err := venue.CreateOrder(ctx, req)
		if err == nil {
			res.Reverted = true
			e.logger.Warn("revert successful", slog.Int("attempt", attempt))
			return
		}
		e.logger.Error("revert attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		if attempt < e.opts.RevertAttempts {
			select {
			case <-ctx.Done():
				res.QuarantineReason = fmt.Sprintf("%s leg revert interrupted", legName)
				return
			case <-time.After(e.opts.RevertDelay):
			}
		}
	}
	res.QuarantineReason = fmt.Sprintf("%s leg revert failed", legName)
	e.logger.Error("revert exhausted, naked leg remains",
		slog.String("symbol", symbol),
		slog.String("venue", venue.Name()),
	)
}

// Exit closes the measured per-leg sizes independently with reduce-only
// market orders: BUY on the short leg's venue, SELL on the long leg's. A leg
// with no measured size is trivially closed. Exits are never retried here;
// any failure is reported so the caller can quarantine.
func (e *Executor) Exit(ctx context.Context, symbol string, short, long ExitLeg) (ExitResult, error) {
	log := e.logger.With(
		slog.String("symbol", symbol),
		slog.String("short_venue", short.Venue.Name()),
		slog.String("long_venue", long.Venue.Name()),
	)
	log.Info("exiting hedge",
		slog.Float64("short_quantity", short.Quantity),
		slog.Float64("long_quantity", long.Quantity),
		slog.Bool("simulate", e.opts.Simulate),
	)

	var res ExitResult
	if e.opts.Simulate {
		res.ShortClosed, res.LongClosed = true, true
		res.ShortExitPrice = e.exitPrice(ctx, short.Venue, symbol)
		res.LongExitPrice = e.exitPrice(ctx, long.Venue, symbol)
		res.ShortOrder = simulatedOrder(short.Venue.Name(), symbol, domain.OrderSideBuy, short.Quantity, res.ShortExitPrice)
		res.LongOrder = simulatedOrder(long.Venue.Name(), symbol, domain.OrderSideSell, long.Quantity, res.LongExitPrice)
		res.RealizedPnL = realizedPnL(short, long, res.ShortExitPrice, res.LongExitPrice)
		return res, nil
	}

	var (
		wg                sync.WaitGroup
		shortErr, longErr error
	)
	if short.Quantity > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := marketOrder(symbol, domain.OrderSideBuy, short.Quantity)
			req.ReduceOnly = true
			res.ShortOrder, shortErr = short.Venue.CreateOrder(ctx, req)
		}()
	}
	if long.Quantity > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := marketOrder(symbol, domain.OrderSideSell, long.Quantity)
			req.ReduceOnly = true
			res.LongOrder, longErr = long.Venue.CreateOrder(ctx, req)
		}()
	}
	wg.Wait()

	res.ShortClosed = shortErr == nil
	res.LongClosed = longErr == nil

	if !res.ShortClosed || !res.LongClosed {
		log.Error("exit failed or partial",
			slog.Bool("short_closed", res.ShortClosed),
			slog.Bool("long_closed", res.LongClosed),
		)
		switch {
		case shortErr != nil && longErr != nil:
			return res, fmt.Errorf("executor: exit %s: short leg: %w; long leg: %w", symbol, shortErr, longErr)
		case shortErr != nil:
			return res, fmt.Errorf("executor: exit %s: short leg: %w", symbol, shortErr)
		default:
			return res, fmt.Errorf("executor: exit %s: long leg: %w", symbol, longErr)
		}
	}

	res.ShortExitPrice = e.exitPrice(ctx, short.Venue, symbol)
	res.LongExitPrice = e.exitPrice(ctx, long.Venue, symbol)
	res.RealizedPnL = realizedPnL(short, long, res.ShortExitPrice, res.LongExitPrice)
	log.Info("position closed",
		slog.Float64("pnl_usd", res.RealizedPnL),
		slog.Float64("short_exit", res.ShortExitPrice),
		slog.Float64("long_exit", res.LongExitPrice),
	)
	return res, nil
}

// exitPrice fetches a leg's current price for PnL measurement. A fetch
// failure yields zero, which excludes the leg from the PnL sum rather than
// poisoning it.
func (e *Executor) exitPrice(ctx context.Context, venue domain.Venue, symbol string) float64 {
	t, err := venue.Ticker(ctx, symbol)
	if err != nil {
		e.logger.Warn("exit price fetch failed",
			slog.String("venue", venue.Name()),
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return t.Mid()
}

// realizedPnL prices both legs of a closed hedge. The short leg earns
// entry minus exit, the long leg exit minus entry. A leg participates only
// when both of its prices are known.
func realizedPnL(short, long ExitLeg, shortExit, longExit float64) float64 {
	var pnl float64
	if short.EntryPrice > 0 && shortExit > 0 {
		pnl += (short.EntryPrice - shortExit) * short.Quantity
	}
	if long.EntryPrice > 0 && longExit > 0 {
		pnl += (longExit - long.EntryPrice) * long.Quantity
	}
	if math.IsNaN(pnl) || math.IsInf(pnl, 0) {
		return 0
	}
	return pnl
}

func marketOrder(symbol string, side domain.OrderSide, qty float64) domain.OrderRequest {
	return domain.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     domain.OrderTypeMarket,
		Quantity: qty,
		ClientID: uuid.New().String(),
	}
}

func simulatedOrder(venue, symbol string, side domain.OrderSide, qty, price float64) domain.Order {
	return domain.Order{
		ID:        "sim-" + uuid.New().String(),
		Venue:     venue,
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		FilledQty: qty,
		AvgPrice:  price,
		Status:    domain.OrderStatusFilled,
		CreatedAt: time.Now().UTC(),
	}
}
