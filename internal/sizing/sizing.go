// Package sizing converts configured order sizes into venue-legal
// quantities. All step arithmetic goes through decimals so float noise
// never produces a quantity the venue would reject.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Spec expresses an order size or position limit either as a fixed base
// quantity or as a USD notional converted at the current reference price.
// Quantity wins when both are set.
type Spec struct {
	Quantity    float64
	NotionalUSD float64
}

// IsZero reports whether the spec is unset.
func (s Spec) IsZero() bool { return s.Quantity <= 0 && s.NotionalUSD <= 0 }

// Resolve returns the base quantity this spec describes at the given price.
func (s Spec) Resolve(price float64) (float64, error) {
	if s.Quantity > 0 {
		return s.Quantity, nil
	}
	if s.NotionalUSD <= 0 {
		return 0, fmt.Errorf("sizing: empty size spec")
	}
	if price <= 0 {
		return 0, fmt.Errorf("sizing: non-positive reference price %g", price)
	}
	return s.NotionalUSD / price, nil
}

// Truncate floors qty to an exact multiple of step, never rounding up.
// A step of zero leaves qty untouched.
func Truncate(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	st := decimal.NewFromFloat(step)
	steps, _ := q.QuoRem(st, 0)
	out, _ := steps.Mul(st).Float64()
	return out
}

// CoarsestStep returns the largest quantity increment any of the venues
// enforces for the symbol. Ordering quantities at the coarsest step keeps
// both legs of a hedge exactly equal.
func CoarsestStep(symbol string, venues ...domain.Venue) float64 {
	var coarsest float64
	for _, v := range venues {
		if s := v.StepSize(symbol); s > coarsest {
			coarsest = s
		}
	}
	return coarsest
}

// OrderQuantity resolves the size spec at the reference price and floors it
// to the coarsest step among the participating venues. A quantity that
// truncates to zero aborts the cycle.
func OrderQuantity(spec Spec, price float64, symbol string, venues ...domain.Venue) (float64, error) {
	raw, err := spec.Resolve(price)
	if err != nil {
		return 0, err
	}
	step := CoarsestStep(symbol, venues...)
	qty := Truncate(raw, step)
	if qty <= 0 {
		return 0, fmt.Errorf("sizing: quantity %g truncates to zero at step %g", raw, step)
	}
	return qty, nil
}

// WithinLimit checks current + proposed against the position limit resolved
// at the current price. An unset limit allows everything.
func WithinLimit(limit Spec, current, proposed, price float64) (bool, error) {
	if limit.IsZero() {
		return true, nil
	}
	max, err := limit.Resolve(price)
	if err != nil {
		return false, fmt.Errorf("sizing: resolve limit: %w", err)
	}
	return current+proposed <= max, nil
}
