package domain

import "time"

const hoursPerYear = 24 * 365

// FundingRate is one venue's native periodic funding quote for a symbol.
// Rate is the raw per-interval rate the venue publishes; IntervalHours is
// the settlement interval that rate covers (1 for hourly venues, 4 or 8 for
// venues that quote over longer windows).
type FundingRate struct {
	Venue         string
	Symbol        string
	Rate          float64
	IntervalHours int
	At            time.Time
}

// HourlyRate normalizes the native per-interval rate to a per-hour rate.
func (r FundingRate) HourlyRate() float64 {
	if r.IntervalHours <= 1 {
		return r.Rate
	}
	return r.Rate / float64(r.IntervalHours)
}

// APR annualizes the normalized hourly rate. A venue paying 0.0001 per hour
// annualizes to 0.876 (87.6%).
func (r FundingRate) APR() float64 {
	return r.HourlyRate() * hoursPerYear
}
