// Package rates fetches funding quotes from venues concurrently and
// evaluates annualized rate spreads between them.
package rates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Quote pairs one venue's funding rate with its annualized value.
type Quote struct {
	Venue string
	Rate  domain.FundingRate
	APR   float64
}

// Pair is a candidate hedge: short the venue with the higher APR, long the
// one with the lower. SpreadAPR = ShortAPR - LongAPR.
type Pair struct {
	ShortVenue string
	LongVenue  string
	ShortAPR   float64
	LongAPR    float64
	SpreadAPR  float64
}

// Result is the outcome of one funding fetch across all venues.
type Result struct {
	Quotes []Quote
	// RateLimited is set when at least one venue answered 429; the caller
	// escalates its error backoff even if other venues reported fine.
	RateLimited bool
}

// APRs returns venue -> annualized rate for snapshot reporting.
func (r Result) APRs() map[string]float64 {
	out := make(map[string]float64, len(r.Quotes))
	for _, q := range r.Quotes {
		out[q.Venue] = q.APR
	}
	return out
}

// Evaluator fetches funding quotes from a fixed venue set. Quotes are
// fetched fresh every cycle; nothing is cached between cycles.
type Evaluator struct {
	venues []domain.Venue
	logger *slog.Logger
}

// NewEvaluator creates an evaluator over the given venues.
func NewEvaluator(venues []domain.Venue, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		venues: venues,
		logger: logger.With(slog.String("component", "rates")),
	}
}

// Fetch queries every venue concurrently and returns the quotes of those
// that answered. Venues that fail are excluded from this cycle's candidate
// set. An error is returned only when no venue reported at all.
func (e *Evaluator) Fetch(ctx context.Context, symbol string) (Result, error) {
	type slot struct {
		quote Quote
		err   error
	}
	slots := make([]slot, len(e.venues))

	var wg sync.WaitGroup
	for i, v := range e.venues {
		wg.Add(1)
		go func(i int, v domain.Venue) {
			defer wg.Done()
			fr, err := v.FundingRate(ctx, symbol)
			if err != nil {
				slots[i].err = err
				return
			}
			slots[i].quote = Quote{Venue: v.Name(), Rate: fr, APR: fr.APR()}
		}(i, v)
	}
	wg.Wait()

	var res Result
	for i, s := range slots {
		if s.err != nil {
			if errors.Is(s.err, domain.ErrRateLimited) {
				res.RateLimited = true
			}
			e.logger.Warn("funding fetch failed",
				slog.String("venue", e.venues[i].Name()),
				slog.String("symbol", symbol),
				slog.String("error", s.err.Error()),
			)
			continue
		}
		res.Quotes = append(res.Quotes, s.quote)
	}
	if len(res.Quotes) == 0 {
		return res, fmt.Errorf("rates: no venue reported funding for %s", symbol)
	}
	return res, nil
}

// Spread returns APR(primary) - APR(secondary) for a fixed two-venue pair.
// The second return is false when either venue is missing from the quotes.
func Spread(quotes []Quote, primary, secondary string) (float64, bool) {
	var p, s *Quote
	for i := range quotes {
		switch quotes[i].Venue {
		case primary:
			p = &quotes[i]
		case secondary:
			s = &quotes[i]
		}
	}
	if p == nil || s == nil {
		return 0, false
	}
	return p.APR - s.APR, true
}

// BestPair scans all ordered venue pairs (i != j) and returns the pair with
// the largest spread: short the quote with the highest APR, long the lowest.
// Ties keep the earliest pair in quote order so selection is deterministic.
// The second return is false with fewer than two quotes.
func BestPair(quotes []Quote) (Pair, bool) {
	if len(quotes) < 2 {
		return Pair{}, false
	}
	var best Pair
	found := false
	for i := range quotes {
		for j := range quotes {
			if i == j {
				continue
			}
			spread := quotes[i].APR - quotes[j].APR
			if !found || spread > best.SpreadAPR {
				best = Pair{
					ShortVenue: quotes[i].Venue,
					LongVenue:  quotes[j].Venue,
					ShortAPR:   quotes[i].APR,
					LongAPR:    quotes[j].APR,
					SpreadAPR:  spread,
				}
				found = true
			}
		}
	}
	return best, found
}
