package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFundingRate_HourlyRate_HourlyVenue(t *testing.T) {
	r := FundingRate{Rate: 0.0001, IntervalHours: 1}
	assert.InDelta(t, 0.0001, r.HourlyRate(), 1e-12)
}

func TestFundingRate_HourlyRate_EightHourVenue(t *testing.T) {
	// A venue quoting 0.0008 per 8h settles 0.0001 per hour.
	r := FundingRate{Rate: 0.0008, IntervalHours: 8}
	assert.InDelta(t, 0.0001, r.HourlyRate(), 1e-12)
}

func TestFundingRate_HourlyRate_FourHourVenue(t *testing.T) {
	r := FundingRate{Rate: 0.0004, IntervalHours: 4}
	assert.InDelta(t, 0.0001, r.HourlyRate(), 1e-12)
}

func TestFundingRate_HourlyRate_ZeroIntervalDefaultsToHourly(t *testing.T) {
	r := FundingRate{Rate: 0.0002, IntervalHours: 0}
	assert.InDelta(t, 0.0002, r.HourlyRate(), 1e-12)
}

func TestFundingRate_APR(t *testing.T) {
	// 0.0001/h * 8760 h/y = 0.876
	r := FundingRate{Rate: 0.0001, IntervalHours: 1}
	assert.InDelta(t, 0.876, r.APR(), 1e-9)

	// Identical hourly rates annualize identically regardless of interval.
	r8 := FundingRate{Rate: 0.0008, IntervalHours: 8}
	assert.InDelta(t, r.APR(), r8.APR(), 1e-9)
}

func TestFundingRate_APR_NegativeRate(t *testing.T) {
	r := FundingRate{Rate: -0.0004, IntervalHours: 4}
	assert.InDelta(t, -0.876, r.APR(), 1e-9)
}

func TestTicker_Mid(t *testing.T) {
	tk := Ticker{Bid: 99, Ask: 101, Last: 250}
	assert.InDelta(t, 100.0, tk.Mid(), 1e-12)
}

func TestTicker_Mid_FallsBackToLast(t *testing.T) {
	tk := Ticker{Bid: 0, Ask: 101, Last: 100.5}
	assert.InDelta(t, 100.5, tk.Mid(), 1e-12)
}

func TestOrderSide_Opposite(t *testing.T) {
	assert.Equal(t, OrderSideSell, OrderSideBuy.Opposite())
	assert.Equal(t, OrderSideBuy, OrderSideSell.Opposite())
}

func TestStrategyState_Holding(t *testing.T) {
	flat := StrategyState{Direction: DirectionNone, Size: 0}
	assert.False(t, flat.Holding())

	held := StrategyState{Direction: DirectionShortPrimaryLongSecondary, Size: 0.5}
	assert.True(t, held.Holding())

	// Direction without size is not a holding.
	empty := StrategyState{Direction: DirectionLongPrimaryShortSecondary, Size: 0}
	assert.False(t, empty.Holding())
}

func TestPosition_Signs(t *testing.T) {
	long := Position{Size: 1.5}
	assert.True(t, long.IsLong())
	assert.False(t, long.IsShort())
	assert.InDelta(t, 1.5, long.AbsSize(), 1e-12)

	short := Position{Size: -2.0}
	assert.True(t, short.IsShort())
	assert.InDelta(t, 2.0, short.AbsSize(), 1e-12)
}
