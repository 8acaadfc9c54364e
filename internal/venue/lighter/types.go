package lighter

import (
	"fmt"
	"strconv"
)

// fundingRatesResponse is the /api/v1/funding-rates payload, covering every
// exchange the venue tracks.
type fundingRatesResponse struct {
	FundingRates []fundingRateEntry `json:"funding_rates"`
}

type fundingRateEntry struct {
	Exchange string  `json:"exchange"`
	Symbol   string  `json:"symbol"`
	Rate     float64 `json:"rate"`
}

// orderBookResponse is the /api/v1/orderBookOrders payload. Best levels come
// first.
type orderBookResponse struct {
	Bids []bookOrder `json:"bids"`
	Asks []bookOrder `json:"asks"`
}

type bookOrder struct {
	Price string `json:"price"`
}

// accountResponse is the /api/v1/account payload for a by-index query.
type accountResponse struct {
	Accounts []accountDetail `json:"accounts"`
}

type accountDetail struct {
	AvailableBalance  string          `json:"available_balance"`
	PendingOrderCount int             `json:"pending_order_count"`
	Positions         []positionEntry `json:"positions"`
}

// positionEntry reports magnitude and sign separately: position is the
// absolute size, sign is +1 for long and -1 for short.
type positionEntry struct {
	MarketID      int64  `json:"market_id"`
	Position      string `json:"position"`
	Sign          int    `json:"sign"`
	AvgEntryPrice string `json:"avg_entry_price"`
	UnrealizedPnL string `json:"unrealized_pnl"`
}

// nextNonceResponse is the /api/v1/nextNonce payload.
type nextNonceResponse struct {
	Code  int   `json:"code"`
	Nonce int64 `json:"nonce"`
}

// txResponse is the /api/v1/sendTx envelope. Code 200 means accepted.
type txResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TxHash  string `json:"tx_hash"`
}

// createOrderTx is the tx_type 14 payload. Amounts and prices are scaled
// integers per the market's decimals.
type createOrderTx struct {
	AccountIndex     int64 `json:"account_index"`
	APIKeyIndex      int   `json:"api_key_index"`
	MarketIndex      int64 `json:"market_index"`
	ClientOrderIndex int64 `json:"client_order_index"`
	BaseAmount       int64 `json:"base_amount"`
	Price            int64 `json:"price"`
	IsAsk            bool  `json:"is_ask"`
	OrderType        int   `json:"order_type"`
	TimeInForce      int   `json:"time_in_force"`
	ReduceOnly       bool  `json:"reduce_only"`
	TriggerPrice     int64 `json:"trigger_price"`
	OrderExpiry      int64 `json:"order_expiry"`
	Nonce            int64 `json:"nonce"`
}

// cancelOrderTx is the tx_type 15 payload.
type cancelOrderTx struct {
	AccountIndex int64 `json:"account_index"`
	APIKeyIndex  int   `json:"api_key_index"`
	MarketIndex  int64 `json:"market_index"`
	OrderIndex   int64 `json:"order_index"`
	Nonce        int64 `json:"nonce"`
}

// txError is a sendTx rejection by code. The nonce code is retried once
// after a resync; everything else surfaces to the caller.
type txError struct {
	Code    int
	Message string
}

func (e *txError) Error() string {
	return fmt.Sprintf("lighter: tx rejected (code %d): %s", e.Code, e.Message)
}

// asFloat parses a venue decimal string, returning 0 for empty or malformed
// values.
func asFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
