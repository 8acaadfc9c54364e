// Package reconcile re-derives logical position state from venue-reported
// ground truth. Every strategy cycle starts here: position queries fan out
// to the venues and ANY failure aborts the whole reconciliation, because a
// venue we cannot query is a venue we cannot assume flat.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// sizeEpsilon separates real positions from venue rounding dust.
const sizeEpsilon = 1e-6

// skewTolerance is the leg-size mismatch ratio above which a restored
// N-venue hedge is flagged as skewed.
const skewTolerance = 0.10

// PairTruth is a two-venue reconciliation outcome: the matching leg on each
// venue plus the direction and size derived from the observed magnitudes.
type PairTruth struct {
	Primary        domain.Position // zero value when the primary venue is flat
	Secondary      domain.Position
	PendingPrimary int

	Direction domain.Direction
	Size      float64
	// Unbalanced is set when both legs report the same sign. The direction
	// heuristic cannot be trusted then; a data error or manual interference
	// is more likely than a hedge, so entries stay disabled.
	Unbalanced bool
}

// Holding reports whether a hedge (possibly one-legged) was observed.
func (t PairTruth) Holding() bool {
	return t.Direction != domain.DirectionNone && t.Size > 0
}

// SurveyTruth is an N-venue reconciliation outcome: the largest short and
// largest long legs found across the venue set.
type SurveyTruth struct {
	Short domain.Position // zero value when no short leg exists
	Long  domain.Position

	Size float64 // min of the two leg magnitudes
	// Unbalanced is set when exactly one side of the hedge exists.
	Unbalanced bool
	// Skewed is set when both legs exist but their magnitudes differ by
	// more than the tolerance. The hedge is still adopted at the smaller
	// magnitude; the excess is surfaced for the operator.
	Skewed bool
}

// Holding reports whether both legs of a hedge were observed.
func (t SurveyTruth) Holding() bool {
	return t.Short.Venue != "" && t.Long.Venue != "" && t.Size > 0
}

// Reconciler fans position queries out to venues and classifies what it
// finds. It holds no state between calls.
type Reconciler struct {
	logger *slog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(logger *slog.Logger) *Reconciler {
	return &Reconciler{
		logger: logger.With(slog.String("component", "reconcile")),
	}
}

// Pair reconciles a fixed two-venue hedge. The primary venue's pending
// order count is fetched in the same fan-out when the venue supports it;
// a pending-count failure is as fatal as a position failure.
func (r *Reconciler) Pair(ctx context.Context, primary, secondary domain.Venue, symbol string) (PairTruth, error) {
	var (
		primaryPositions   []domain.Position
		secondaryPositions []domain.Position
		pending            int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ps, err := primary.Positions(gctx)
		if err != nil {
			return fmt.Errorf("reconcile: %s positions: %w", primary.Name(), err)
		}
		primaryPositions = ps
		return nil
	})
	g.Go(func() error {
		ps, err := secondary.Positions(gctx)
		if err != nil {
			return fmt.Errorf("reconcile: %s positions: %w", secondary.Name(), err)
		}
		secondaryPositions = ps
		return nil
	})
	if counter, ok := primary.(domain.PendingOrderCounter); ok {
		g.Go(func() error {
			n, err := counter.PendingOrderCount(gctx, symbol)
			if err != nil {
				return fmt.Errorf("reconcile: %s pending orders: %w", primary.Name(), err)
			}
			pending = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return PairTruth{}, err
	}

	truth := PairTruth{PendingPrimary: pending}
	if p, ok := findPosition(primaryPositions, symbol); ok {
		truth.Primary = p
	}
	if s, ok := findPosition(secondaryPositions, symbol); ok {
		truth.Secondary = s
	}
	r.classifyPair(&truth, symbol)
	return truth, nil
}

func (r *Reconciler) classifyPair(truth *PairTruth, symbol string) {
	p, s := truth.Primary.Size, truth.Secondary.Size
	pShort, pLong := p < -sizeEpsilon, p > sizeEpsilon
	sShort, sLong := s < -sizeEpsilon, s > sizeEpsilon

	switch {
	case (pShort && sShort) || (pLong && sLong):
		truth.Unbalanced = true
		truth.Direction = domain.DirectionNone
		r.logger.Error("legs report the same sign, refusing direction",
			slog.String("symbol", symbol),
			slog.Float64("primary", p),
			slog.Float64("secondary", s),
		)
	case pShort || sLong:
		truth.Direction = domain.DirectionShortPrimaryLongSecondary
		truth.Size = math.Max(math.Abs(p), math.Abs(s))
	case pLong || sShort:
		truth.Direction = domain.DirectionLongPrimaryShortSecondary
		truth.Size = math.Max(math.Abs(p), math.Abs(s))
	default:
		truth.Direction = domain.DirectionNone
	}
}

// Survey reconciles across an open venue set: it keeps the largest short
// and the largest long leg matching the symbol. Both legs present restores
// the hedge at the smaller magnitude; exactly one present marks the state
// unbalanced; none means flat.
func (r *Reconciler) Survey(ctx context.Context, venues []domain.Venue, symbol string) (SurveyTruth, error) {
	slots := make([][]domain.Position, len(venues))

	g, gctx := errgroup.WithContext(ctx)
	for i, v := range venues {
		g.Go(func() error {
			ps, err := v.Positions(gctx)
			if err != nil {
				return fmt.Errorf("reconcile: %s positions: %w", v.Name(), err)
			}
			slots[i] = ps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SurveyTruth{}, err
	}

	var truth SurveyTruth
	for i := range venues {
		pos, ok := findPosition(slots[i], symbol)
		if !ok {
			continue
		}
		switch {
		case pos.Size < -sizeEpsilon:
			if pos.AbsSize() > truth.Short.AbsSize() {
				truth.Short = pos
			}
		case pos.Size > sizeEpsilon:
			if pos.AbsSize() > truth.Long.AbsSize() {
				truth.Long = pos
			}
		}
	}

	shortSize, longSize := truth.Short.AbsSize(), truth.Long.AbsSize()
	switch {
	case shortSize > 0 && longSize > 0:
		truth.Size = math.Min(shortSize, longSize)
		if math.Abs(shortSize-longSize) > truth.Size*skewTolerance {
			truth.Skewed = true
			r.logger.Warn("hedge legs are skewed",
				slog.String("symbol", symbol),
				slog.String("short_venue", truth.Short.Venue),
				slog.Float64("short_size", shortSize),
				slog.String("long_venue", truth.Long.Venue),
				slog.Float64("long_size", longSize),
			)
		}
	case shortSize > 0 || longSize > 0:
		truth.Unbalanced = true
		r.logger.Error("unbalanced position detected, entries disabled",
			slog.String("symbol", symbol),
			slog.String("short_venue", truth.Short.Venue),
			slog.Float64("short_size", shortSize),
			slog.String("long_venue", truth.Long.Venue),
			slog.Float64("long_size", longSize),
		)
	}
	return truth, nil
}

// findPosition returns the first position whose venue-native symbol matches
// the canonical symbol under any known spelling variant.
func findPosition(positions []domain.Position, symbol string) (domain.Position, bool) {
	for _, p := range positions {
		if MatchesSymbol(symbol, p.Symbol) {
			return p, true
		}
	}
	return domain.Position{}, false
}

// MatchesSymbol reports whether a venue-native symbol is a known spelling
// of the canonical one. Venues disagree on separators and suffixes: the
// same market appears as "SOL-USDC", "SOL_USDC", "SOL_USDC_PERP", "SOLUSD"
// or plain "SOL" depending on who reports it.
func MatchesSymbol(canonical, native string) bool {
	for _, v := range variants(canonical) {
		if strings.EqualFold(native, v) {
			return true
		}
	}
	return false
}

func variants(symbol string) []string {
	base := symbol
	if i := strings.IndexAny(symbol, "-_"); i > 0 {
		base = symbol[:i]
	}
	underscore := strings.ReplaceAll(symbol, "-", "_")
	return []string{
		symbol,
		underscore,
		underscore + "_PERP",
		base + "USD",
		base,
	}
}
