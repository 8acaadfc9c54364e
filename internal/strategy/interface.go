// Package strategy implements the funding arbitrage decision loop: a fixed
// two-venue strategy and an N-venue variant that picks the widest spread
// each cycle. Strategies are driven by the Engine on a fixed tick and own
// their runtime state exclusively; everything they know about open
// positions is re-derived from venue truth at the start of every cycle.
package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/notify"
	"github.com/alanyoungcy/fundingbot/internal/sizing"
)

// Kind names for the built-in strategies.
const (
	KindFundingArb        = "funding_arb"
	KindDynamicFundingArb = "dynamic_funding_arb"
)

// Strategy is one autonomous arbitrage instance. The engine calls Init once,
// then Tick on every cycle; State, Status and ClearQuarantine may be called
// concurrently from the control surface.
type Strategy interface {
	Name() string
	Kind() string
	Symbol() string
	TickInterval() time.Duration

	// Init restores persisted state before the first tick.
	Init(ctx context.Context) error
	// Tick runs one full evaluation cycle.
	Tick(ctx context.Context) error
	// State returns a copy of the current runtime state.
	State() domain.StrategyState
	// Status reports the condition of the most recent cycle.
	Status() domain.Status
	// ClearQuarantine lifts the quarantine flag after manual review.
	ClearQuarantine(ctx context.Context) error
	Close() error
}

// Config carries the per-instance tuning for a strategy. Thresholds are APR
// fractions: 0.01 means one percent annualized.
type Config struct {
	Name           string
	Symbol         string
	EntryThreshold float64
	ExitThreshold  float64
	OrderSize      sizing.Spec
	MaxPosition    sizing.Spec
	// WindowMinutes bounds entries and exits to the minutes around the top
	// of the hour, when funding settles. Zero or negative disables the gate.
	WindowMinutes int
	// Cooldown is the minimum gap between exits.
	Cooldown   time.Duration
	Interval   time.Duration
	AutoRevert bool
	Simulate   bool
}

func (c Config) withDefaults(kind string) Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Cooldown <= 0 {
		switch kind {
		case KindDynamicFundingArb:
			c.Cooldown = time.Minute
		default:
			c.Cooldown = 2 * time.Minute
		}
	}
	return c
}

// Deps bundles the shared services injected into every strategy. Trades,
// States, Sink and Notifier may each be nil; the strategy then runs without
// persistence, state pushes or alerts respectively.
type Deps struct {
	Trades   domain.TradeStore
	States   domain.StateStore
	Sink     domain.StateSink
	Notifier *notify.Notifier
	Logger   *slog.Logger
}
