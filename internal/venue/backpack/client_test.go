package backpack

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

func testSeed() []byte {
	return bytes.Repeat([]byte{7}, ed25519.SeedSize)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := New(Config{
		BaseURL:   baseURL,
		APISecret: base64.StdEncoding.EncodeToString(testSeed()),
		RPS:       1000,
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return client
}

func TestTickerLastPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ticker", r.URL.Path)
		assert.Equal(t, "SOL_USDC_PERP", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"SOL_USDC_PERP","lastPrice":"150.25"}`))
	}))
	defer srv.Close()

	ticker, err := newTestClient(t, srv.URL).Ticker(context.Background(), "SOL")
	require.NoError(t, err)
	assert.Equal(t, "backpack", ticker.Venue)
	assert.Equal(t, "SOL", ticker.Symbol)
	assert.InDelta(t, 150.25, ticker.Last, 1e-9)
}

func TestFundingRateNewestRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/fundingRates", r.URL.Path)
		assert.Equal(t, "SOL_USDC_PERP", r.URL.Query().Get("symbol"))
		w.Write([]byte(`[
			{"symbol":"SOL_USDC_PERP","fundingRate":"0.0001","intervalEndTimestamp":"2026-08-25T16:00:00"},
			{"symbol":"SOL_USDC_PERP","fundingRate":"0.0009","intervalEndTimestamp":"2026-08-25T15:00:00"}
		]`))
	}))
	defer srv.Close()

	rate, err := newTestClient(t, srv.URL).FundingRate(context.Background(), "SOL")
	require.NoError(t, err)
	assert.InDelta(t, 0.0001, rate.Rate, 1e-12)
	assert.Equal(t, 1, rate.IntervalHours)
	assert.Equal(t, time.Date(2026, 8, 25, 16, 0, 0, 0, time.UTC), rate.At)
}

func TestCreateOrderMarketConvertsToIOCLimit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/markets", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"SOL_USDC_PERP","filters":{"price":{"tickSize":"0.01"},"quantity":{"stepSize":"0.01","minQuantity":"0.01"}}}]`))
	})
	mux.HandleFunc("/api/v1/depth", func(w http.ResponseWriter, r *http.Request) {
		// Unsorted on purpose; the client must find the lowest ask.
		w.Write([]byte(`{"bids":[["150.20","5"]],"asks":[["150.30","2"],["150.25","4"]]}`))
	})
	mux.HandleFunc("/api/v1/order", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "SOL_USDC_PERP", body["symbol"])
		assert.Equal(t, "Bid", body["side"])
		assert.Equal(t, "Limit", body["orderType"])
		assert.Equal(t, "IOC", body["timeInForce"])
		assert.Equal(t, "0.5", body["quantity"])
		// 150.25 * 1.001 rounded to the 0.01 tick.
		assert.Equal(t, "150.4", body["price"])

		params := url.Values{}
		params.Set("symbol", "SOL_USDC_PERP")
		params.Set("side", "Bid")
		params.Set("orderType", "Limit")
		params.Set("quantity", "0.5")
		params.Set("price", "150.4")
		params.Set("timeInForce", "IOC")
		message := "instruction=orderExecute&" + params.Encode() +
			"&timestamp=" + r.Header.Get("X-Timestamp") + "&window=" + r.Header.Get("X-Window")

		sig, err := base64.StdEncoding.DecodeString(r.Header.Get("X-Signature"))
		require.NoError(t, err)
		priv := ed25519.NewKeyFromSeed(testSeed())
		assert.True(t, ed25519.Verify(priv.Public().(ed25519.PublicKey), []byte(message), sig),
			"instruction signature must cover the stringified order body")

		w.Write([]byte(`{"id":"112233","symbol":"SOL_USDC_PERP","side":"Bid","status":"Filled","quantity":"0.5","executedQuantity":"0.5","executedQuoteQuantity":"75.2"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	order, err := newTestClient(t, srv.URL).CreateOrder(context.Background(), domain.OrderRequest{
		Symbol:   "SOL",
		Side:     domain.OrderSideBuy,
		Type:     domain.OrderTypeMarket,
		Quantity: 0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "112233", order.ID)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.InDelta(t, 0.5, order.FilledQty, 1e-9)
	assert.InDelta(t, 150.4, order.AvgPrice, 1e-9)
}

func TestCreateOrderIOCPartialFillIsRejection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/markets", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/api/v1/depth", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bids":[["150.20","5"]],"asks":[["150.25","4"]]}`))
	})
	mux.HandleFunc("/api/v1/order", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"112234","status":"Expired","quantity":"0.5","executedQuantity":"0.2","executedQuoteQuantity":"30.05"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	order, err := newTestClient(t, srv.URL).CreateOrder(context.Background(), domain.OrderRequest{
		Symbol:   "SOL",
		Side:     domain.OrderSideBuy,
		Type:     domain.OrderTypeMarket,
		Quantity: 0.5,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOrderRejected))
	assert.InDelta(t, 0.2, order.FilledQty, 1e-9, "partial fill must be reported for reconciliation")
}

func TestCreateOrderVenueRejectionMapsSentinel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/markets", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/api/v1/order", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"INVALID_ORDER","message":"Quantity below minimum"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).CreateOrder(context.Background(), domain.OrderRequest{
		Symbol:   "SOL",
		Side:     domain.OrderSideSell,
		Type:     domain.OrderTypeLimit,
		Quantity: 0.001,
		Price:    150,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOrderRejected))
	assert.Contains(t, err.Error(), "Quantity below minimum")
}

func TestRateLimitSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code":"TOO_MANY_REQUESTS","message":"slow down"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Ticker(context.Background(), "SOL")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
}

func TestBalancesMergeLendCollateral(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/capital", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-API-Key"))
		assert.NotEmpty(t, r.Header.Get("X-Signature"))
		w.Write([]byte(`{"USDC":{"available":"100.5","locked":"10"},"SOL":{"available":"2","locked":"0"}}`))
	})
	mux.HandleFunc("/api/v1/borrowLend/positions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"USDC","netQuantity":"49.5"}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	balances, err := newTestClient(t, srv.URL).Balances(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 150.0, balances["USDC"], 1e-9)
	assert.InDelta(t, 2.0, balances["SOL"], 1e-9)
}

func TestPositionsSkipFlatAndMapSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/position", r.URL.Path)
		w.Write([]byte(`[
			{"symbol":"SOL_USDC_PERP","netQuantity":"0","entryPrice":"150","markPrice":"151","pnlUnrealized":"0"},
			{"symbol":"ETH_USDC_PERP","netQuantity":"-1.5","entryPrice":"3000","markPrice":"2990","pnlUnrealized":"15"}
		]`))
	}))
	defer srv.Close()

	positions, err := newTestClient(t, srv.URL).Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "ETH", positions[0].Symbol)
	assert.InDelta(t, -1.5, positions[0].Size, 1e-9)
	assert.InDelta(t, 3000, positions[0].EntryPrice, 1e-9)
}

func TestFillHistoryFiltersAndFees(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wapi/v1/history/fills", r.URL.Path)
		w.Write([]byte(`[
			{"tradeId":1,"orderId":"a","symbol":"SOL_USDC_PERP","side":"Bid","price":"150","quantity":"1","fee":"0.15","feeSymbol":"USDC","timestamp":"2026-08-25T11:00:00"},
			{"tradeId":2,"orderId":"b","symbol":"SOL_USDC_PERP","side":"Bid","price":"151","quantity":"1","fee":"0.15","feeSymbol":"USDC","timestamp":"2026-08-25T13:00:00"},
			{"tradeId":3,"orderId":"c","symbol":"SOL_USDC_PERP","side":"Ask","price":"152","quantity":"1","fee":"0.001","feeSymbol":"SOL","timestamp":"2026-08-25T14:00:00"}
		]`))
	}))
	defer srv.Close()

	since := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	fills, err := newTestClient(t, srv.URL).FillHistory(context.Background(), "SOL", since)
	require.NoError(t, err)
	require.Len(t, fills, 2)

	assert.Equal(t, "2", fills[0].FillID)
	assert.Equal(t, domain.OrderSideBuy, fills[0].Side)
	assert.InDelta(t, 0.15, fills[0].FeeUSD, 1e-9)

	assert.Equal(t, domain.OrderSideSell, fills[1].Side)
	assert.Zero(t, fills[1].FeeUSD, "fees paid in base asset are not USD fees")
}
