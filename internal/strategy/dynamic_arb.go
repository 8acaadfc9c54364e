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

// DynamicArb scans an open venue set each cycle and holds at most one
// hedged pair on whichever two venues currently show the widest funding
// spread. Unlike FundingArb the legs have no fixed roles; the held pair is
// whatever reconciliation finds, largest short against largest long.
type DynamicArb struct {
	base

	venues []domain.Venue
	byName map[string]domain.Venue

	rec  *reconcile.Reconciler
	eval *rates.Evaluator
	exec *executor.Executor

	simTruth reconcile.SurveyTruth
}

// NewDynamicArb builds an N-venue funding arbitrage strategy. At least two
// venues are required to form a pair; fewer simply never produce a signal.
func NewDynamicArb(cfg Config, venues []domain.Venue, deps Deps) *DynamicArb {
	cfg = cfg.withDefaults(KindDynamicFundingArb)
	byName := make(map[string]domain.Venue, len(venues))
	for _, v := range venues {
		byName[v.Name()] = v
	}
	return &DynamicArb{
		base:   newBase(KindDynamicFundingArb, cfg, deps),
		venues: venues,
		byName: byName,
		rec:    reconcile.NewReconciler(deps.Logger),
		eval:   rates.NewEvaluator(venues, deps.Logger),
		exec: executor.NewExecutor(executor.Options{
			Simulate:   cfg.Simulate,
			AutoRevert: cfg.AutoRevert,
		}, deps.Logger),
	}
}

// Init restores persisted state and, in simulation, rebuilds the fabricated
// venue truth from it. Entry prices are not persisted; PnL on a position
// carried across a restart reports zero.
func (s *DynamicArb) Init(ctx context.Context) error {
	if err := s.base.Init(ctx); err != nil {
		return err
	}
	if !s.cfg.Simulate {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Holding() && s.state.ShortVenue != "" && s.state.LongVenue != "" {
		s.simTruth = simulatedSurveyTruth(s.state.ShortVenue, s.state.LongVenue, s.state.Size, 0, s.cfg.Symbol)
	}
	return nil
}

// Tick runs one evaluation cycle: gates, venue truth across the whole set,
// the funding survey, then the exit test on the held pair or the entry test
// on the best pair.
func (s *DynamicArb) Tick(ctx context.Context) error {
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
	snap.VenueAPRs = res.APRs()

	price, err := s.referencePrice(ctx)
	if err != nil {
		s.noteError(domain.IsRateLimited(err))
		snap.Note = "reference price unavailable"
		return fmt.Errorf("strategy %s: ticker: %w", s.cfg.Name, err)
	}
	snap.Price = price

	inWindow := inExecutionWindow(now, s.cfg.WindowMinutes)

	if truth.Holding() {
		s.setStatus(domain.StatusMonitoring)
		if truth.Skewed {
			snap.Note = "hedge legs skewed beyond tolerance"
		}
		spread, ok := rates.Spread(res.Quotes, truth.Short.Venue, truth.Long.Venue)
		if !ok {
			snap.Note = "held pair missing funding quotes"
			return nil
		}
		snap.SpreadAPR = spread
		if !inWindow {
			snap.Note = "outside execution window"
			return nil
		}
		if spread >= s.cfg.ExitThreshold {
			return nil
		}
		return s.exitPosition(ctx, &snap, truth, spread, now)
	}

	s.setStatus(domain.StatusScanning)
	if truth.Unbalanced {
		s.setStatus(domain.StatusUnbalanced)
		snap.Note = "one-sided position, entries disabled"
		return nil
	}

	best, ok := rates.BestPair(res.Quotes)
	if !ok {
		snap.Note = "fewer than two venues reporting"
		return nil
	}
	snap.SpreadAPR = best.SpreadAPR

	if best.SpreadAPR <= s.cfg.EntryThreshold {
		s.mu.Lock()
		s.noteCleanLocked()
		s.mu.Unlock()
		return nil
	}
	if !inWindow {
		snap.Note = "outside execution window"
		s.logger.Info("opportunity outside execution window",
			slog.String("short_venue", best.ShortVenue),
			slog.String("long_venue", best.LongVenue),
			slog.Float64("spread_apr", best.SpreadAPR),
		)
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

	shortVenue, longVenue := s.byName[best.ShortVenue], s.byName[best.LongVenue]
	qty, err := sizing.OrderQuantity(s.cfg.OrderSize, price, s.cfg.Symbol, shortVenue, longVenue)
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

	s.setStatus(domain.StatusEntering)
	s.logger.Info("entry signal",
		slog.String("short_venue", best.ShortVenue),
		slog.String("long_venue", best.LongVenue),
		slog.Float64("spread_apr", best.SpreadAPR),
		slog.Float64("qty", qty),
		slog.Float64("price", price),
	)

	entry, execErr := s.exec.Enter(ctx, s.cfg.Symbol, shortVenue, longVenue, qty, price)
	return s.settleEntry(ctx, &snap, best, qty, price, entry, execErr)
}

func (s *DynamicArb) positionTruth(ctx context.Context) (reconcile.SurveyTruth, error) {
	if s.cfg.Simulate {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.simTruth, nil
	}
	return s.rec.Survey(ctx, s.venues, s.cfg.Symbol)
}

// referencePrice reads the first venue's ticker. It is used for sizing,
// position limits and display; per-leg execution prices are always fetched
// fresh from the leg's own venue.
func (s *DynamicArb) referencePrice(ctx context.Context) (float64, error) {
	tick, err := s.venues[0].Ticker(ctx, s.cfg.Symbol)
	if err != nil {
		return 0, err
	}
	return tick.Mid(), nil
}

// adoptTruth folds the survey outcome into runtime state.
func (s *DynamicArb) adoptTruth(ctx context.Context, t reconcile.SurveyTruth) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := domain.DirectionNone
	shortVenue, longVenue := "", ""
	if t.Holding() {
		dir = domain.DirectionHedged
		shortVenue, longVenue = t.Short.Venue, t.Long.Venue
	}

	changed := s.state.Direction != dir ||
		!nearlyEqual(s.state.Size, t.Size) ||
		s.state.Unbalanced != t.Unbalanced ||
		s.state.ShortVenue != shortVenue ||
		s.state.LongVenue != longVenue
	if !changed {
		return
	}
	if s.state.Direction != dir || s.state.ShortVenue != shortVenue || s.state.LongVenue != longVenue {
		s.logger.Warn("state healed from venue truth",
			slog.String("short_venue", shortVenue),
			slog.String("long_venue", longVenue),
			slog.Float64("size", t.Size),
		)
	}
	if !s.state.Unbalanced && t.Unbalanced {
		single := t.Short.Venue
		if single == "" {
			single = t.Long.Venue
		}
		s.notify(notify.EventUnbalanced, "Unbalanced Position",
			fmt.Sprintf("%s: only one leg of the %s hedge exists (on %s), entries disabled until resolved", s.cfg.Name, s.cfg.Symbol, single))
	}

	s.state.Direction = dir
	s.state.Size = t.Size
	s.state.Unbalanced = t.Unbalanced
	s.state.ShortVenue = shortVenue
	s.state.LongVenue = longVenue
	if dir == domain.DirectionNone {
		s.state.EntryTime = time.Time{}
	}
	s.savePointLocked(ctx)
}

// exitPosition unwinds both legs of the held pair at their measured sizes.
func (s *DynamicArb) exitPosition(ctx context.Context, snap *domain.Snapshot, truth reconcile.SurveyTruth, spread float64, now time.Time) error {
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

	shortVenue, okShort := s.byName[truth.Short.Venue]
	longVenue, okLong := s.byName[truth.Long.Venue]
	if !okShort || !okLong {
		s.setStatus(domain.StatusSyncError)
		snap.Note = "held pair names unknown venue"
		return fmt.Errorf("strategy %s: position on unconfigured venue %s/%s",
			s.cfg.Name, truth.Short.Venue, truth.Long.Venue)
	}

	short := executor.ExitLeg{Venue: shortVenue, Quantity: truth.Short.AbsSize(), EntryPrice: truth.Short.EntryPrice}
	long := executor.ExitLeg{Venue: longVenue, Quantity: truth.Long.AbsSize(), EntryPrice: truth.Long.EntryPrice}

	s.logger.Info("exit signal",
		slog.Float64("spread_apr", spread),
		slog.String("short_venue", truth.Short.Venue),
		slog.String("long_venue", truth.Long.Venue),
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
			s.simTruth = reconcile.SurveyTruth{}
		}
		s.noteCleanLocked()
		s.status = domain.StatusScanning
		s.savePointLocked(ctx)
		s.logger.Info("position closed",
			slog.Float64("trade_pnl", res.RealizedPnL),
			slog.Float64("session_pnl", s.state.RealizedPnL),
		)
		s.notify(notify.EventExit, "Position Closed",
			fmt.Sprintf("%s: closed %s %s/%s, PnL %.2f USD", s.cfg.Name, s.cfg.Symbol, short.Venue.Name(), long.Venue.Name(), res.RealizedPnL))
		return nil
	}

	reason := exitFailureReason(res)
	if res.ShortClosed != res.LongClosed {
		// One leg remains; the hedge is gone.
		s.state.Unbalanced = true
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

func (s *DynamicArb) recordTrade(ctx context.Context, truth reconcile.SurveyTruth, entryTime, exitTime time.Time, short, long executor.ExitLeg, res executor.ExitResult) {
	if s.deps.Trades == nil {
		return
	}
	trade := domain.TradeRecord{
		ID:              uuid.NewString(),
		Strategy:        s.cfg.Name,
		Symbol:          s.cfg.Symbol,
		Direction:       domain.DirectionHedged,
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

// settleEntry folds the execution outcome into runtime state.
func (s *DynamicArb) settleEntry(ctx context.Context, snap *domain.Snapshot, pair rates.Pair, qty, price float64, entry executor.EntryResult, execErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case entry.Committed:
		now := s.now()
		s.state.Direction = domain.DirectionHedged
		s.state.Size += qty
		s.state.EntryTime = now
		s.state.LastExecution = now
		s.state.ShortVenue = pair.ShortVenue
		s.state.LongVenue = pair.LongVenue
		if s.cfg.Simulate {
			s.simTruth = simulatedSurveyTruth(pair.ShortVenue, pair.LongVenue, s.state.Size, price, s.cfg.Symbol)
		}
		s.noteCleanLocked()
		s.status = domain.StatusMonitoring
		s.savePointLocked(ctx)
		s.logger.Info("position opened",
			slog.String("short_venue", pair.ShortVenue),
			slog.String("long_venue", pair.LongVenue),
			slog.Float64("qty", qty),
			slog.Float64("spread_apr", pair.SpreadAPR),
		)
		s.notify(notify.EventEntry, "Position Opened",
			fmt.Sprintf("%s: %s short %s / long %s size %g at spread %.2f%% APR",
				s.cfg.Name, s.cfg.Symbol, pair.ShortVenue, pair.LongVenue, qty, pair.SpreadAPR*100))
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
		s.noteErrorLocked(domain.IsRateLimited(execErr))
		if entry.Reverted {
			snap.Note = "entry failed, filled leg reverted"
		} else {
			snap.Note = "entry failed"
		}
		return fmt.Errorf("strategy %s: %w", s.cfg.Name, execErr)
	}
}

// simulatedSurveyTruth fabricates the venue truth a committed simulated
// entry would have produced.
func simulatedSurveyTruth(shortVenue, longVenue string, size, price float64, symbol string) reconcile.SurveyTruth {
	return reconcile.SurveyTruth{
		Short: domain.Position{
			Venue:      shortVenue,
			Symbol:     symbol,
			Size:       -size,
			EntryPrice: price,
		},
		Long: domain.Position{
			Venue:      longVenue,
			Symbol:     symbol,
			Size:       size,
			EntryPrice: price,
		},
		Size: size,
	}
}
