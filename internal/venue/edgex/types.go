package edgex

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// envelope wraps every EdgeX response, public and private alike.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// metaData is the getMetaData payload.
type metaData struct {
	ContractList []contractEntry `json:"contractList"`
}

// contractEntry carries the filters we cache per contract. Older API
// versions report the quantity step as stepSize.
type contractEntry struct {
	ContractID       string `json:"contractId"`
	ContractName     string `json:"contractName"`
	QuantityStepSize string `json:"quantityStepSize"`
	StepSize         string `json:"stepSize"`
	TickSize         string `json:"tickSize"`
}

// contractMeta is the cached subset of contract metadata.
type contractMeta struct {
	ID       string
	StepSize float64
	TickSize float64
}

// quoteEntry is one 24-hour quote row.
type quoteEntry struct {
	BidPrice  string `json:"bidPrice"`
	AskPrice  string `json:"askPrice"`
	LastPrice string `json:"lastPrice"`
}

// fundingEntry is one row of getLatestFundingRate.
type fundingEntry struct {
	ContractID  string `json:"contractId"`
	FundingRate string `json:"fundingRate"`
}

// accountAsset is the getAccountAsset payload.
type accountAsset struct {
	CollateralAssetModelList []collateralEntry `json:"collateralAssetModelList"`
}

type collateralEntry struct {
	CoinID          string `json:"coinId"`
	AvailableAmount string `json:"availableAmount"`
}

// positionEntry is one row of getAccountPositions. Side carries the
// direction; positionSize is unsigned.
type positionEntry struct {
	ContractName  string `json:"contractName"`
	PositionSize  string `json:"positionSize"`
	Side          string `json:"side"` // BUY | SELL
	EntryPrice    string `json:"entryPrice"`
	UnrealizedPnl string `json:"unrealizedPnl"`
}

// createOrderRequest is the createOrder body. The venue wants a price even
// on market orders.
type createOrderRequest struct {
	AccountID     string `json:"accountId"`
	ContractID    string `json:"contractId"`
	Side          string `json:"side"` // BUY | SELL
	Type          string `json:"type"` // LIMIT | MARKET
	Price         string `json:"price"`
	Size          string `json:"size"`
	TimeInForce   string `json:"timeInForce,omitempty"`
	ReduceOnly    bool   `json:"reduceOnly,omitempty"`
	ClientOrderID string `json:"clientOrderId,omitempty"`
}

// createOrderData is the createOrder acknowledgement.
type createOrderData struct {
	OrderID string `json:"orderId"`
}

// cancelOrderRequest is the cancelOrderById body.
type cancelOrderRequest struct {
	AccountID string `json:"accountId"`
	OrderID   string `json:"orderId"`
}

// apiError is a venue response whose envelope code is not SUCCESS.
type apiError struct {
	Code string
	Msg  string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("edgex: %s: %s", e.Code, e.Msg)
}

// asFloat parses a venue decimal string, returning 0 for empty or malformed
// values.
func asFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
