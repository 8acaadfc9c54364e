package domain

import (
	"context"
	"time"
)

// Ticker is a venue price snapshot for one symbol.
type Ticker struct {
	Venue  string
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
	At     time.Time
}

// Mid returns the bid/ask midpoint, falling back to the last trade price
// when one side of the book is empty.
func (t Ticker) Mid() float64 {
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}
	return t.Last
}

// Venue is the capability contract every exchange adapter implements.
// All methods take the canonical symbol ("SOL", "ETH"); each adapter owns
// the mapping to its venue's native spelling.
type Venue interface {
	// Name returns the short venue identifier used in logs and records.
	Name() string

	// Ticker returns the current price snapshot for a symbol.
	Ticker(ctx context.Context, symbol string) (Ticker, error)

	// FundingRate returns the venue's native funding quote for a symbol,
	// including the settlement interval the rate covers.
	FundingRate(ctx context.Context, symbol string) (FundingRate, error)

	// Positions returns all open perpetual positions on the account.
	Positions(ctx context.Context) ([]Position, error)

	// Balances returns free collateral per asset.
	Balances(ctx context.Context) (map[string]float64, error)

	// CreateOrder places an order and returns the venue's acknowledgement.
	// Rejections are reported as errors wrapping ErrOrderRejected.
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)

	// CancelOrder cancels an open order by id.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// StepSize returns the minimum quantity increment for a symbol.
	StepSize(symbol string) float64
}

// PendingOrderCounter is implemented by venues that can report the number
// of open (unfilled) orders for a symbol. Strategies probe for it as an
// anti-stacking guard before entries; venues without it count as zero.
type PendingOrderCounter interface {
	PendingOrderCount(ctx context.Context, symbol string) (int, error)
}

// HistoryProvider is implemented by venues that expose fill and funding
// payment history. The history sync service probes for it.
type HistoryProvider interface {
	FillHistory(ctx context.Context, symbol string, since time.Time) ([]FillRecord, error)
	FundingHistory(ctx context.Context, symbol string, since time.Time) ([]FundingPayment, error)
}
