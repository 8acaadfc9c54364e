package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Error backoff bounds shared by both strategy kinds.
const (
	baseBackoff = 10 * time.Second
	maxBackoff  = 5 * time.Minute
)

// sizeTolerance separates a real size change from float noise when folding
// venue truth into runtime state.
const sizeTolerance = 1e-6

// base carries the runtime bookkeeping shared by both strategy kinds:
// persisted state, cycle status, the error backoff gate, and the plumbing
// to stores, sinks and the notifier.
type base struct {
	cfg    Config
	kind   string
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	state        domain.StrategyState
	status       domain.Status
	backoff      time.Duration
	backoffUntil time.Time
}

func newBase(kind string, cfg Config, deps Deps) base {
	return base{
		cfg:  cfg,
		kind: kind,
		deps: deps,
		logger: deps.Logger.With(
			slog.String("component", kind),
			slog.String("strategy", cfg.Name),
		),
		now:     time.Now,
		state:   domain.StrategyState{Direction: domain.DirectionNone},
		status:  domain.StatusIdle,
		backoff: baseBackoff,
	}
}

func (b *base) Name() string { return b.cfg.Name }

func (b *base) Kind() string { return b.kind }

func (b *base) Symbol() string { return b.cfg.Symbol }

func (b *base) TickInterval() time.Duration { return b.cfg.Interval }

func (b *base) State() domain.StrategyState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) Status() domain.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Init restores persisted state. A strategy that has never persisted seeds
// its realized PnL counter from the recorded trade history instead, so the
// dashboard survives a wiped state table.
func (b *base) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deps.States != nil {
		st, ok, err := b.deps.States.LoadState(ctx, b.cfg.Name)
		if err != nil {
			return fmt.Errorf("strategy %s: load state: %w", b.cfg.Name, err)
		}
		if ok {
			b.state = st
			if st.Quarantined {
				b.status = domain.StatusQuarantined
			}
			b.logger.Info("state restored",
				slog.String("direction", string(st.Direction)),
				slog.Float64("size", st.Size),
				slog.Bool("quarantined", st.Quarantined),
				slog.Float64("realized_pnl", st.RealizedPnL),
			)
			return nil
		}
	}
	if b.deps.Trades != nil {
		pnl, err := b.deps.Trades.TotalPnL(ctx, b.cfg.Name)
		if err != nil {
			b.logger.Warn("pnl seed failed", slog.String("error", err.Error()))
		} else {
			b.state.RealizedPnL = pnl
		}
	}
	return nil
}

// ClearQuarantine lifts quarantine after manual position review. The next
// cycle re-reconciles from venue truth before any trading resumes.
func (b *base) ClearQuarantine(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.state.Quarantined {
		return nil
	}
	b.state.Quarantined = false
	b.state.QuarantineReason = ""
	b.status = domain.StatusScanning
	b.logger.Info("quarantine cleared")
	return b.persistLocked(ctx)
}

// Close releases nothing today: venues are shared handles owned by the app.
func (b *base) Close() error { return nil }

// persistLocked writes the current state through the state store. Callers
// hold b.mu.
func (b *base) persistLocked(ctx context.Context) error {
	if b.deps.States == nil {
		return nil
	}
	b.state.UpdatedAt = b.now()
	if err := b.deps.States.SaveState(ctx, b.cfg.Name, b.state); err != nil {
		return fmt.Errorf("strategy %s: save state: %w", b.cfg.Name, err)
	}
	return nil
}

// savePointLocked persists and logs instead of failing the cycle: a broken
// state store must not stop trading decisions that already happened.
func (b *base) savePointLocked(ctx context.Context) {
	if err := b.persistLocked(ctx); err != nil {
		b.logger.Error("state persist failed", slog.String("error", err.Error()))
	}
}

// quarantineLocked marks the strategy quarantined and persists. Quarantine
// is absorbing: only ClearQuarantine leaves it.
func (b *base) quarantineLocked(ctx context.Context, reason string) {
	b.state.Quarantined = true
	b.state.QuarantineReason = reason
	b.status = domain.StatusQuarantined
	b.logger.Error("entering quarantine, manual review required",
		slog.String("reason", reason),
	)
	b.savePointLocked(ctx)
}

// noteErrorLocked arms the error backoff gate. Rate-limited failures
// escalate exponentially up to maxBackoff; anything else waits the base
// interval.
func (b *base) noteErrorLocked(rateLimited bool) {
	if rateLimited {
		b.backoff = min(b.backoff*2, maxBackoff)
	} else {
		b.backoff = baseBackoff
	}
	b.backoffUntil = b.now().Add(b.backoff)
	b.status = domain.StatusBackoff
}

func (b *base) noteError(rateLimited bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.noteErrorLocked(rateLimited)
}

// noteCleanLocked resets the backoff ladder after a cycle with no venue
// errors.
func (b *base) noteCleanLocked() {
	b.backoff = baseBackoff
	b.backoffUntil = time.Time{}
}

// haltLocked arms the maximum backoff immediately. Used for data sanity
// violations, where continuing to trade is worse than going quiet.
func (b *base) haltLocked() {
	b.backoff = maxBackoff
	b.backoffUntil = b.now().Add(maxBackoff)
	b.status = domain.StatusBackoff
}

// gate applies the terminal and transient gates at the top of a cycle.
// It reports true when the cycle must stop here.
func (b *base) gate(snap *domain.Snapshot, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Quarantined {
		b.status = domain.StatusQuarantined
		snap.Note = b.state.QuarantineReason
		return true
	}
	if now.Before(b.backoffUntil) {
		b.status = domain.StatusBackoff
		snap.Note = fmt.Sprintf("backoff, %ds remaining", int(b.backoffUntil.Sub(now).Seconds()))
		return true
	}
	return false
}

// setStatus replaces the cycle status.
func (b *base) setStatus(st domain.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = st
}

// emit folds the final runtime state into the snapshot and pushes it to the
// sink. Deferred at the top of every Tick so each cycle reports exactly
// once, whatever path it took.
func (b *base) emit(snap *domain.Snapshot) {
	b.mu.Lock()
	snap.Status = b.status
	snap.Direction = b.state.Direction
	snap.ShortVenue = b.state.ShortVenue
	snap.LongVenue = b.state.LongVenue
	snap.Size = b.state.Size
	snap.RealizedPnL = b.state.RealizedPnL
	if snap.Note == "" && b.state.Quarantined {
		snap.Note = b.state.QuarantineReason
	}
	b.mu.Unlock()
	if b.deps.Sink != nil {
		b.deps.Sink.OnStateUpdate(*snap)
	}
}

// notify dispatches an event without blocking the cycle. Delivery failures
// are logged and dropped.
func (b *base) notify(event, title, message string) {
	if b.deps.Notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.deps.Notifier.Notify(ctx, event, title, message); err != nil {
			b.logger.Warn("notify failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// inExecutionWindow reports whether t falls within windowMin minutes of the
// top of the hour on either side. Funding settles on the hour; trading just
// around settlement keeps the rate capture aligned with the position.
func inExecutionWindow(t time.Time, windowMin int) bool {
	if windowMin <= 0 {
		return true
	}
	m := t.Minute()
	return m < windowMin || m >= 60-windowMin
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= sizeTolerance
}
