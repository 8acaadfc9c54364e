package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/executor"
	"github.com/alanyoungcy/fundingbot/internal/notify"
	"github.com/alanyoungcy/fundingbot/internal/rates"
	"github.com/alanyoungcy/fundingbot/internal/reconcile"
	"github.com/alanyoungcy/fundingbot/internal/sizing"
)

// FundingArb holds a delta-neutral pair across a fixed two-venue pair and
// harvests the funding rate differential between them. The primary venue is
// the reference for prices and the pending-order check; Direction names
// which venue carries the short leg.
type FundingArb struct {
	base

	primary   domain.Venue
	secondary domain.Venue

	rec  *reconcile.Reconciler
	eval *rates.Evaluator
	exec *executor.Executor

	// simTruth stands in for venue truth in simulation mode, where fills
	// are fabricated and never reach the venues.
	simTruth reconcile.PairTruth
}

// NewFundingArb builds a two-venue funding arbitrage strategy.
func NewFundingArb(cfg Config, primary, secondary domain.Venue, deps Deps) *FundingArb {
	cfg = cfg.withDefaults(KindFundingArb)
	return &FundingArb{
		base:      newBase(KindFundingArb, cfg, deps),
		primary:   primary,
		secondary: secondary,
		rec:       reconcile.NewReconciler(deps.Logger),
		eval:      rates.NewEvaluator([]domain.Venue{primary, secondary}, deps.Logger),
		exec: executor.NewExecutor(executor.Options{
			Simulate:   cfg.Simulate,
			AutoRevert: cfg.AutoRevert,
		}, deps.Logger),
	}
}

// Init restores persisted state. In simulation the fabricated venue truth
// is rebuilt from it, so a restart does not silently drop the position;
// entry prices are not persisted, so PnL on such a position reports zero.
func (s *FundingArb) Init(ctx context.Context) error {
	if err := s.base.Init(ctx); err != nil {
		return err
	}
	if !s.cfg.Simulate {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Holding() {
		s.simTruth = simulatedPairTruth(s.state.Direction, s.state.Size, 0, s.primary.Name(), s.secondary.Name(), s.cfg.Symbol)
	}
	return nil
}

// Tick runs one evaluation cycle: gates, venue truth, rate spread, then the
// exit or entry test inside the execution window. Every cycle ends with a
// state push to the sink, whatever path it took.
func (s *FundingArb) Tick(ctx context.Context) error {
	now := s.now()
	snap := domain.Snapshot{
		Strategy: s.cfg.Name,
		Symbol:   s.cfg.Symbol,
		At:       now,
	}
	defer s.emit(&snap)

	if s.gate(&snap, now) {
		return nil
	}

	// Venue truth before any decision. A failed read stalls the cycle and
	// keeps the last known state; it never zeroes anything.
	truth, err := s.positionTruth(ctx)
	if err != nil {
		s.setStatus(domain.StatusSyncError)
		snap.Note = "position sync failed"
		return err
	}
	s.adoptTruth(ctx, truth)

	res, err := s.eval.Fetch(ctx, s.cfg.Symbol)
	if err != nil {
		s.noteError(res.RateLimited)
		snap.Note = "funding rates unavailable"
		return fmt.Errorf("strategy %s: %w", s.cfg.Name, err)
	}
	spread, ok := rates.Spread(res.Quotes, s.primary.Name(), s.secondary.Name())
	if !ok {
		s.noteError(res.RateLimited)
		snap.Note = "funding rates incomplete"
		return fmt.Errorf("strategy %s: funding quotes incomplete", s.cfg.Name)
	}
	snap.SpreadAPR = spread
	snap.VenueAPRs = res.APRs()

	tick, err := s.primary.Ticker(ctx, s.cfg.Symbol)
	if err != nil {
		s.noteError(domain.IsRateLimited(err))
		snap.Note = "reference price unavailable"
		return fmt.Errorf("strategy %s: ticker: %w", s.cfg.Name, err)
	}
	price := tick.Mid()
	snap.Price = price

	inWindow := inExecutionWindow(now, s.cfg.WindowMinutes)

	// Holding short-circuits entry evaluation for this cycle.
	if truth.Holding() {
		s.setStatus(domain.StatusMonitoring)
		if !inWindow {
			snap.Note = "outside execution window"
			return nil
		}
		if !s.exitSignal(truth.Direction, spread) {
			return nil
		}
		return s.exitPosition(ctx, &snap, truth, spread, now)
	}

	s.setStatus(domain.StatusScanning)
	if truth.Unbalanced {
		s.setStatus(domain.StatusUnbalanced)
		snap.Note = "legs do not hedge, entries disabled"
		return nil
	}
	if !inWindow {
		snap.Note = "outside execution window"
		return nil
	}
	if truth.PendingPrimary > 0 {
		snap.Note = fmt.Sprintf("%d pending orders on %s", truth.PendingPrimary, s.primary.Name())
		s.logger.Warn("entry skipped, open orders would stack",
			slog.Int("pending", truth.PendingPrimary),
			slog.String("venue", s.primary.Name()),
		)
		return nil
	}

	var dir domain.Direction
	switch {
	case spread > s.cfg.EntryThreshold:
		dir = domain.DirectionShortPrimaryLongSecondary
	case spread < -s.cfg.EntryThreshold:
		dir = domain.DirectionLongPrimaryShortSecondary
	default:
		s.mu.Lock()
		s.noteCleanLocked()
		s.mu.Unlock()
		return nil
	}

	if !priceWithinBand(s.cfg.Symbol, price) {
		s.mu.Lock()
		s.haltLocked()
		s.mu.Unlock()
		snap.Note = fmt.Sprintf("price %g outside sanity band", price)
		s.logger.Error("reference price failed sanity check, halting entries",
			slog.Float64("price", price),
			slog.String("symbol", s.cfg.Symbol),
		)
		s.notify(notify.EventSanityHalt, "Price Sanity Halt",
			fmt.Sprintf("%s: %s price %g is outside its sanity band, entries halted", s.cfg.Name, s.cfg.Symbol, price))
		return fmt.Errorf("strategy %s: %w: %s at %g", s.cfg.Name, domain.ErrPriceSanity, s.cfg.Symbol, price)
	}

	qty, err := sizing.OrderQuantity(s.cfg.OrderSize, price, s.cfg.Symbol, s.primary, s.secondary)
	if err != nil {
		snap.Note = "order size unresolvable"
		s.logger.Warn("entry skipped", slog.String("error", err.Error()))
		return nil
	}
	within, err := sizing.WithinLimit(s.cfg.MaxPosition, truth.Size, qty, price)
	if err != nil {
		snap.Note = "position limit unresolvable"
		s.logger.Warn("entry skipped", slog.String("error", err.Error()))
		return nil
	}
	if !within {
		snap.Note = "max position reached"
		return nil
	}

	shortVenue, longVenue := s.legVenues(dir)
	s.setStatus(domain.StatusEntering)
	s.logger.Info("entry signal",
		slog.Float64("spread_apr", spread),
		slog.String("direction", string(dir)),
		slog.Float64("qty", qty),
		slog.Float64("price", price),
	)

	entry, execErr := s.exec.Enter(ctx, s.cfg.Symbol, shortVenue, longVenue, qty, price)
	return s.settleEntry(ctx, &snap, dir, qty, price, spread, entry, execErr)
}

// positionTruth returns venue truth, or the fabricated in-memory truth when
// simulating.
func (s *FundingArb) positionTruth(ctx context.Context) (reconcile.PairTruth, error) {
	if s.cfg.Simulate {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.simTruth, nil
	}
	return s.rec.Pair(ctx, s.primary, s.secondary, s.cfg.Symbol)
}

// adoptTruth folds venue truth into runtime state. Venue truth always wins:
// direction, size and the unbalanced flag are adopted wholesale, and any
// change is persisted.
func (s *FundingArb) adoptTruth(ctx context.Context, t reconcile.PairTruth) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.state.Direction != t.Direction ||
		!nearlyEqual(s.state.Size, t.Size) ||
		s.state.Unbalanced != t.Unbalanced
	if !changed {
		return
	}
	if s.state.Direction != t.Direction {
		s.logger.Warn("state healed from venue truth",
			slog.String("was", string(s.state.Direction)),
			slog.String("now", string(t.Direction)),
			slog.Float64("size", t.Size),
		)
	}
	if !s.state.Unbalanced && t.Unbalanced {
		s.notify(notify.EventUnbalanced, "Unbalanced Position",
			fmt.Sprintf("%s: %s legs report the same sign, entries disabled until resolved", s.cfg.Name, s.cfg.Symbol))
	}

	s.state.Direction = t.Direction
	s.state.Size = t.Size
	s.state.Unbalanced = t.Unbalanced
	switch t.Direction {
	case domain.DirectionShortPrimaryLongSecondary:
		s.state.ShortVenue, s.state.LongVenue = s.primary.Name(), s.secondary.Name()
	case domain.DirectionLongPrimaryShortSecondary:
		s.state.ShortVenue, s.state.LongVenue = s.secondary.Name(), s.primary.Name()
	default:
		s.state.ShortVenue, s.state.LongVenue = "", ""
		s.state.EntryTime = time.Time{}
	}
	s.savePointLocked(ctx)
}

// exitSignal reports whether the spread has reverted past the exit
// threshold against the held direction.
func (s *FundingArb) exitSignal(dir domain.Direction, spread float64) bool {
	switch dir {
	case domain.DirectionShortPrimaryLongSecondary:
		return spread < s.cfg.ExitThreshold
	case domain.DirectionLongPrimaryShortSecondary:
		return spread > -s.cfg.ExitThreshold
	default:
		return false
	}
}

// legVenues maps a direction onto (short venue, long venue).
func (s *FundingArb) legVenues(dir domain.Direction) (domain.Venue, domain.Venue) {
	if dir == domain.DirectionLongPrimaryShortSecondary {
		return s.secondary, s.primary
	}
	return s.primary, s.secondary
}

// exitPosition unwinds both legs at their measured sizes. Success records
// the round trip and clears the position; any failed leg quarantines the
// strategy with whatever state is known to remain.
func (s *FundingArb) exitPosition(ctx context.Context, snap *domain.Snapshot, truth reconcile.PairTruth, spread float64, now time.Time) error {
	s.mu.Lock()
	if !s.state.LastExecution.IsZero() && now.Sub(s.state.LastExecution) < s.cfg.Cooldown {
		s.status = domain.StatusCooldown
		snap.Note = "exit cooldown"
		s.mu.Unlock()
		return nil
	}
	s.state.LastExecution = now
	s.status = domain.StatusExiting
	entryTime := s.state.EntryTime
	s.mu.Unlock()

	// Per-leg measured sizes and entry prices come from this cycle's truth,
	// not from memory.
	var short, long executor.ExitLeg
	switch truth.Direction {
	case domain.DirectionShortPrimaryLongSecondary:
		short = executor.ExitLeg{Venue: s.primary, Quantity: truth.Primary.AbsSize(), EntryPrice: truth.Primary.EntryPrice}
		long = executor.ExitLeg{Venue: s.secondary, Quantity: truth.Secondary.AbsSize(), EntryPrice: truth.Secondary.EntryPrice}
	case domain.DirectionLongPrimaryShortSecondary:
		short = executor.ExitLeg{Venue: s.secondary, Quantity: truth.Secondary.AbsSize(), EntryPrice: truth.Secondary.EntryPrice}
		long = executor.ExitLeg{Venue: s.primary, Quantity: truth.Primary.AbsSize(), EntryPrice: truth.Primary.EntryPrice}
	}

	s.logger.Info("exit signal",
		slog.Float64("spread_apr", spread),
		slog.String("direction", string(truth.Direction)),
		slog.Float64("size", truth.Size),
	)

	res, execErr := s.exec.Exit(ctx, s.cfg.Symbol, short, long)

	s.mu.Lock()
	defer s.mu.Unlock()

	if res.ShortClosed && res.LongClosed {
		s.state.RealizedPnL += res.RealizedPnL
		s.recordTrade(ctx, truth, entryTime, now, short, long, res)

		s.state.Direction = domain.DirectionNone
		s.state.Size = 0
		s.state.ShortVenue, s.state.LongVenue = "", ""
		s.state.EntryTime = time.Time{}
		s.state.Unbalanced = false
		if s.cfg.Simulate {
			s.simTruth = reconcile.PairTruth{}
		}
		s.noteCleanLocked()
		s.status = domain.StatusScanning
		s.savePointLocked(ctx)
		s.logger.Info("position closed",
			slog.Float64("trade_pnl", res.RealizedPnL),
			slog.Float64("session_pnl", s.state.RealizedPnL),
		)
		s.notify(notify.EventExit, "Position Closed",
			fmt.Sprintf("%s: closed %s %s, PnL %.2f USD", s.cfg.Name, s.cfg.Symbol, truth.Direction, res.RealizedPnL))
		return nil
	}

	// At least one leg is still open. Whatever closed is subtracted from
	// the tracked size; trading stops until an operator reviews the book.
	reason := exitFailureReason(res)
	if primaryClosed, closedQty := s.primaryLegOutcome(truth.Direction, short, long, res); primaryClosed {
		s.state.Size = max(0, s.state.Size-closedQty)
	}
	if !s.cfg.Simulate {
		s.quarantineLocked(ctx, reason)
		s.notify(notify.EventQuarantine, "Exit Failed",
			fmt.Sprintf("%s: %s, manual review required", s.cfg.Name, reason))
	} else {
		s.savePointLocked(ctx)
	}
	snap.Note = reason
	if execErr != nil {
		return fmt.Errorf("strategy %s: %w", s.cfg.Name, execErr)
	}
	return fmt.Errorf("strategy %s: %s", s.cfg.Name, reason)
}

// primaryLegOutcome reports whether the primary venue's leg closed and at
// what quantity. Size tracking follows the primary leg, matching how the
// position size was derived at reconciliation.
func (s *FundingArb) primaryLegOutcome(dir domain.Direction, short, long executor.ExitLeg, res executor.ExitResult) (bool, float64) {
	if dir == domain.DirectionShortPrimaryLongSecondary {
		return res.ShortClosed, short.Quantity
	}
	return res.LongClosed, long.Quantity
}

func (s *FundingArb) recordTrade(ctx context.Context, truth reconcile.PairTruth, entryTime, exitTime time.Time, short, long executor.ExitLeg, res executor.ExitResult) {
	if s.deps.Trades == nil {
		return
	}
	trade := domain.TradeRecord{
		ID:              uuid.NewString(),
		Strategy:        s.cfg.Name,
		Symbol:          s.cfg.Symbol,
		Direction:       truth.Direction,
		ShortVenue:      short.Venue.Name(),
		LongVenue:       long.Venue.Name(),
		Size:            truth.Size,
		EntryTime:       entryTime,
		ExitTime:        exitTime,
		ShortEntryPrice: short.EntryPrice,
		ShortExitPrice:  res.ShortExitPrice,
		LongEntryPrice:  long.EntryPrice,
		LongExitPrice:   res.LongExitPrice,
		RealizedPnL:     res.RealizedPnL,
	}
	if err := s.deps.Trades.RecordTrade(ctx, trade); err != nil {
		s.logger.Error("trade record failed", slog.String("error", err.Error()))
	}
}

// settleEntry folds the execution outcome into runtime state: commit,
// reverted failure, or quarantine.
func (s *FundingArb) settleEntry(ctx context.Context, snap *domain.Snapshot, dir domain.Direction, qty, price, spread float64, entry executor.EntryResult, execErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case entry.Committed:
		now := s.now()
		s.state.Direction = dir
		s.state.Size += qty
		s.state.EntryTime = now
		s.state.LastExecution = now
		shortVenue, longVenue := s.legVenues(dir)
		s.state.ShortVenue, s.state.LongVenue = shortVenue.Name(), longVenue.Name()
		if s.cfg.Simulate {
			s.simTruth = simulatedPairTruth(dir, s.state.Size, price, s.primary.Name(), s.secondary.Name(), s.cfg.Symbol)
		}
		s.noteCleanLocked()
		s.status = domain.StatusMonitoring
		s.savePointLocked(ctx)
		s.logger.Info("position opened",
			slog.String("direction", string(dir)),
			slog.Float64("qty", qty),
			slog.Float64("spread_apr", spread),
		)
		s.notify(notify.EventEntry, "Position Opened",
			fmt.Sprintf("%s: %s %s size %g at spread %.2f%% APR", s.cfg.Name, s.cfg.Symbol, dir, qty, spread*100))
		return nil

	case entry.QuarantineReason != "":
		event := notify.EventQuarantine
		if strings.Contains(entry.QuarantineReason, "revert failed") {
			event = notify.EventRevertFailed
		}
		s.quarantineLocked(ctx, entry.QuarantineReason)
		s.notify(event, "Entry Failed",
			fmt.Sprintf("%s: %s, manual review required", s.cfg.Name, entry.QuarantineReason))
		snap.Note = entry.QuarantineReason
		return fmt.Errorf("strategy %s: %w", s.cfg.Name, execErr)

	default:
		// Both legs failed outright, or the filled leg was reverted. The
		// book is flat either way; back off and retry on a later cycle.
		s.noteErrorLocked(domain.IsRateLimited(execErr))
		if entry.Reverted {
			snap.Note = "entry failed, filled leg reverted"
		} else {
			snap.Note = "entry failed"
		}
		return fmt.Errorf("strategy %s: %w", s.cfg.Name, execErr)
	}
}

// simulatedPairTruth fabricates the venue truth a committed simulated entry
// would have produced, so later cycles can monitor and exit it.
func simulatedPairTruth(dir domain.Direction, size, price float64, primaryName, secondaryName, symbol string) reconcile.PairTruth {
	primarySign, secondarySign := -1.0, 1.0
	if dir == domain.DirectionLongPrimaryShortSecondary {
		primarySign, secondarySign = 1.0, -1.0
	}
	return reconcile.PairTruth{
		Primary: domain.Position{
			Venue:      primaryName,
			Symbol:     symbol,
			Size:       primarySign * size,
			EntryPrice: price,
		},
		Secondary: domain.Position{
			Venue:      secondaryName,
			Symbol:     symbol,
			Size:       secondarySign * size,
			EntryPrice: price,
		},
		Direction: dir,
		Size:      size,
	}
}

// exitFailureReason names the legs that did not close.
func exitFailureReason(res executor.ExitResult) string {
	switch {
	case !res.ShortClosed && !res.LongClosed:
		return "exit failed on both legs"
	case !res.ShortClosed:
		return "short leg exit failed"
	default:
		return "long leg exit failed"
	}
}
