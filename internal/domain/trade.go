package domain

import "time"

// TradeRecord is one completed round trip of a hedged pair, from entry to
// exit. Append-only; RealizedPnL covers the price legs only, funding
// payments are recorded separately.
type TradeRecord struct {
	ID              string
	Strategy        string
	Symbol          string
	Direction       Direction
	ShortVenue      string
	LongVenue       string
	Size            float64
	EntryTime       time.Time
	ExitTime        time.Time
	ShortEntryPrice float64
	ShortExitPrice  float64
	LongEntryPrice  float64
	LongExitPrice   float64
	FeesUSD         float64
	RealizedPnL     float64
}

// FillRecord is a single order fill reported by a venue. FillID is the
// venue's native fill id and is the deduplication key.
type FillRecord struct {
	FillID   string
	Venue    string
	Symbol   string
	Strategy string
	Side     OrderSide
	Price    float64
	Quantity float64
	FeeUSD   float64
	At       time.Time
}

// FundingPayment is one periodic funding settlement on a venue position.
// Amount is in USD, signed: positive means the position received funding.
// Deduplicated by (venue, symbol, At).
type FundingPayment struct {
	Venue        string
	Symbol       string
	Amount       float64
	Rate         float64
	PositionSize float64
	At           time.Time
}
