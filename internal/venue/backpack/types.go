package backpack

import (
	"fmt"
	"strconv"
	"time"
)

// tickerResponse is the /api/v1/ticker payload. Prices are decimal strings.
type tickerResponse struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
}

// depthResponse is the /api/v1/depth payload. Levels are [price, quantity]
// string pairs; bid ordering is not guaranteed.
type depthResponse struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

// marketEntry is one market from /api/v1/markets.
type marketEntry struct {
	Symbol  string `json:"symbol"`
	Filters struct {
		Price struct {
			TickSize string `json:"tickSize"`
		} `json:"price"`
		Quantity struct {
			StepSize    string `json:"stepSize"`
			MinQuantity string `json:"minQuantity"`
		} `json:"quantity"`
	} `json:"filters"`
}

// marketMeta is the cached subset of a market's filters.
type marketMeta struct {
	StepSize    float64
	MinQuantity float64
	TickSize    float64
}

// fundingEntry is one row of /api/v1/fundingRates, latest first.
type fundingEntry struct {
	Symbol               string `json:"symbol"`
	FundingRate          string `json:"fundingRate"`
	IntervalEndTimestamp string `json:"intervalEndTimestamp"`
}

// positionEntry is one row of the signed /api/v1/position query.
type positionEntry struct {
	Symbol        string `json:"symbol"`
	NetQuantity   string `json:"netQuantity"`
	EntryPrice    string `json:"entryPrice"`
	MarkPrice     string `json:"markPrice"`
	PnLUnrealized string `json:"pnlUnrealized"`
}

// capitalEntry is one asset's balances from /api/v1/capital.
type capitalEntry struct {
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

// borrowLendEntry is one row of /api/v1/borrowLend/positions. NetQuantity is
// positive for lent collateral, negative for borrows.
type borrowLendEntry struct {
	Symbol      string `json:"symbol"`
	NetQuantity string `json:"netQuantity"`
}

// orderExecuteRequest is the POST /api/v1/order body. Numeric fields are
// decimal strings; the signing payload must mirror them exactly.
type orderExecuteRequest struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"` // Bid | Ask
	OrderType   string `json:"orderType"`
	Quantity    string `json:"quantity"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
}

// orderCancelRequest is the DELETE /api/v1/order body.
type orderCancelRequest struct {
	Symbol  string `json:"symbol"`
	OrderID string `json:"orderId"`
}

// orderResponse is the venue's order acknowledgement.
type orderResponse struct {
	ID                    string `json:"id"`
	Symbol                string `json:"symbol"`
	Side                  string `json:"side"`
	Status                string `json:"status"`
	Quantity              string `json:"quantity"`
	ExecutedQuantity      string `json:"executedQuantity"`
	ExecutedQuoteQuantity string `json:"executedQuoteQuantity"`
}

// fillEntry is one row of /wapi/v1/history/fills.
type fillEntry struct {
	TradeID   int64  `json:"tradeId"`
	OrderID   string `json:"orderId"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Fee       string `json:"fee"`
	FeeSymbol string `json:"feeSymbol"`
	Timestamp string `json:"timestamp"`
}

// fundingPaymentEntry is one row of /wapi/v1/history/funding. Quantity is the
// signed settlement amount in the quote asset.
type fundingPaymentEntry struct {
	Symbol               string `json:"symbol"`
	Quantity             string `json:"quantity"`
	FundingRate          string `json:"fundingRate"`
	IntervalEndTimestamp string `json:"intervalEndTimestamp"`
}

// apiError is a non-2xx venue response. Callers classify by status.
type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Code != "" || e.Message != "" {
		return fmt.Sprintf("backpack: HTTP %d: %s (%s)", e.Status, e.Message, e.Code)
	}
	return fmt.Sprintf("backpack: HTTP %d", e.Status)
}

// ---- Parsing helpers ----

// asFloat parses a venue decimal string, returning 0 for empty or malformed
// values.
func asFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// parseTimestamp handles the venue's mixed timestamp formats: RFC 3339,
// RFC 3339 without zone, or epoch milliseconds.
func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC()
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}
