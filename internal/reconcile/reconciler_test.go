package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// positionVenue is a stub exposing only what reconciliation touches.
type positionVenue struct {
	domain.Venue
	name      string
	positions []domain.Position
	err       error
}

func (v *positionVenue) Name() string { return v.name }

func (v *positionVenue) Positions(context.Context) ([]domain.Position, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.positions, nil
}

// countingVenue additionally reports a pending order count.
type countingVenue struct {
	positionVenue
	pending    int
	pendingErr error
}

func (v *countingVenue) PendingOrderCount(context.Context, string) (int, error) {
	if v.pendingErr != nil {
		return 0, v.pendingErr
	}
	return v.pending, nil
}

func short(venue, symbol string, size, entry float64) domain.Position {
	return domain.Position{Venue: venue, Symbol: symbol, Size: -size, EntryPrice: entry}
}

func long(venue, symbol string, size, entry float64) domain.Position {
	return domain.Position{Venue: venue, Symbol: symbol, Size: size, EntryPrice: entry}
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestPair_BothLegsHedged(t *testing.T) {
	primary := &positionVenue{name: "lighter", positions: []domain.Position{short("lighter", "SOL-USDC", 2.0, 150)}}
	secondary := &positionVenue{name: "backpack", positions: []domain.Position{long("backpack", "SOL_USDC_PERP", 1.9, 151)}}

	truth, err := NewReconciler(discard()).Pair(context.Background(), primary, secondary, "SOL-USDC")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionShortPrimaryLongSecondary, truth.Direction)
	assert.InDelta(t, 2.0, truth.Size, 1e-9)
	assert.False(t, truth.Unbalanced)
	assert.True(t, truth.Holding())
}

func TestPair_OneLegStillClassifies(t *testing.T) {
	// Secondary long with a flat primary is half of an intended hedge: the
	// direction is adopted so the strategy can wind the remainder down.
	primary := &positionVenue{name: "lighter"}
	secondary := &positionVenue{name: "backpack", positions: []domain.Position{long("backpack", "SOL_USDC_PERP", 1.5, 150)}}

	truth, err := NewReconciler(discard()).Pair(context.Background(), primary, secondary, "SOL-USDC")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionShortPrimaryLongSecondary, truth.Direction)
	assert.InDelta(t, 1.5, truth.Size, 1e-9)
}

func TestPair_SameSignLegsAreUnbalanced(t *testing.T) {
	primary := &positionVenue{name: "lighter", positions: []domain.Position{short("lighter", "SOL-USDC", 2.0, 150)}}
	secondary := &positionVenue{name: "backpack", positions: []domain.Position{short("backpack", "SOL_USDC_PERP", 2.0, 150)}}

	truth, err := NewReconciler(discard()).Pair(context.Background(), primary, secondary, "SOL-USDC")
	require.NoError(t, err)
	assert.True(t, truth.Unbalanced)
	assert.Equal(t, domain.DirectionNone, truth.Direction)
	assert.Zero(t, truth.Size)
}

func TestPair_Flat(t *testing.T) {
	primary := &positionVenue{name: "lighter"}
	secondary := &positionVenue{name: "backpack"}

	truth, err := NewReconciler(discard()).Pair(context.Background(), primary, secondary, "SOL-USDC")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionNone, truth.Direction)
	assert.False(t, truth.Holding())
}

func TestPair_QueryFailureAborts(t *testing.T) {
	primary := &positionVenue{name: "lighter", positions: []domain.Position{short("lighter", "SOL-USDC", 2.0, 150)}}
	secondary := &positionVenue{name: "backpack", err: fmt.Errorf("backpack: positions: 502")}

	_, err := NewReconciler(discard()).Pair(context.Background(), primary, secondary, "SOL-USDC")
	assert.Error(t, err)
}

func TestPair_PendingCountFailureAborts(t *testing.T) {
	primary := &countingVenue{
		positionVenue: positionVenue{name: "lighter"},
		pendingErr:    fmt.Errorf("lighter: account: timeout"),
	}
	secondary := &positionVenue{name: "backpack"}

	_, err := NewReconciler(discard()).Pair(context.Background(), primary, secondary, "SOL-USDC")
	assert.Error(t, err)
}

func TestPair_PendingCountReported(t *testing.T) {
	primary := &countingVenue{positionVenue: positionVenue{name: "lighter"}, pending: 3}
	secondary := &positionVenue{name: "backpack"}

	truth, err := NewReconciler(discard()).Pair(context.Background(), primary, secondary, "SOL-USDC")
	require.NoError(t, err)
	assert.Equal(t, 3, truth.PendingPrimary)
}

func TestPair_IgnoresDust(t *testing.T) {
	primary := &positionVenue{name: "lighter", positions: []domain.Position{long("lighter", "SOL-USDC", 1e-9, 150)}}
	secondary := &positionVenue{name: "backpack"}

	truth, err := NewReconciler(discard()).Pair(context.Background(), primary, secondary, "SOL-USDC")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionNone, truth.Direction)
}

func TestSurvey_RestoresLargestPair(t *testing.T) {
	venues := []domain.Venue{
		&positionVenue{name: "lighter", positions: []domain.Position{short("lighter", "SOL-USDC", 2.0, 150)}},
		&positionVenue{name: "backpack", positions: []domain.Position{long("backpack", "SOL_USDC_PERP", 1.8, 151)}},
		&positionVenue{name: "edgex", positions: []domain.Position{short("edgex", "SOLUSD", 0.5, 149)}},
	}

	truth, err := NewReconciler(discard()).Survey(context.Background(), venues, "SOL-USDC")
	require.NoError(t, err)
	assert.Equal(t, "lighter", truth.Short.Venue)
	assert.Equal(t, "backpack", truth.Long.Venue)
	assert.InDelta(t, 1.8, truth.Size, 1e-9)
	assert.True(t, truth.Skewed) // 2.0 vs 1.8 exceeds the 10% tolerance
	assert.True(t, truth.Holding())
}

func TestSurvey_OneSidedIsUnbalanced(t *testing.T) {
	venues := []domain.Venue{
		&positionVenue{name: "lighter", positions: []domain.Position{short("lighter", "SOL-USDC", 2.0, 150)}},
		&positionVenue{name: "backpack"},
	}

	truth, err := NewReconciler(discard()).Survey(context.Background(), venues, "SOL-USDC")
	require.NoError(t, err)
	assert.True(t, truth.Unbalanced)
	assert.False(t, truth.Holding())
}

func TestSurvey_QueryFailureAborts(t *testing.T) {
	venues := []domain.Venue{
		&positionVenue{name: "lighter", positions: []domain.Position{short("lighter", "SOL-USDC", 2.0, 150)}},
		&positionVenue{name: "backpack", err: fmt.Errorf("backpack: positions: 429")},
	}

	_, err := NewReconciler(discard()).Survey(context.Background(), venues, "SOL-USDC")
	assert.Error(t, err)
}

func TestSurvey_IgnoresOtherSymbols(t *testing.T) {
	venues := []domain.Venue{
		&positionVenue{name: "lighter", positions: []domain.Position{short("lighter", "BTC-USDC", 0.1, 95000)}},
		&positionVenue{name: "backpack", positions: []domain.Position{long("backpack", "ETH_USDC_PERP", 1.0, 3200)}},
	}

	truth, err := NewReconciler(discard()).Survey(context.Background(), venues, "SOL-USDC")
	require.NoError(t, err)
	assert.False(t, truth.Holding())
	assert.False(t, truth.Unbalanced)
}

func TestMatchesSymbol_Variants(t *testing.T) {
	for _, native := range []string{"SOL-USDC", "SOL_USDC", "SOL_USDC_PERP", "SOLUSD", "SOL", "sol_usdc_perp"} {
		assert.True(t, MatchesSymbol("SOL-USDC", native), native)
	}
	assert.False(t, MatchesSymbol("SOL-USDC", "SOL2-USDC"))
	assert.False(t, MatchesSymbol("SOL-USDC", "BTC_USDC_PERP"))
}
