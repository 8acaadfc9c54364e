package lighter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := New(Config{
		BaseURL:      baseURL,
		APIKey:       "key-id",
		APISecret:    "shared-secret",
		AccountIndex: 7,
		APIKeyIndex:  1,
		RPS:          1000,
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return client
}

func TestTickerMidpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/orderBookOrders", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("market_id"))
		w.Write([]byte(`{"bids":[{"price":"150.0"}],"asks":[{"price":"150.4"}]}`))
	}))
	defer srv.Close()

	ticker, err := newTestClient(t, srv.URL).Ticker(context.Background(), "SOL")
	require.NoError(t, err)
	assert.InDelta(t, 150.0, ticker.Bid, 1e-9)
	assert.InDelta(t, 150.4, ticker.Ask, 1e-9)
	assert.InDelta(t, 150.2, ticker.Last, 1e-9)
}

func TestTickerEmptyBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bids":[],"asks":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Ticker(context.Background(), "SOL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty order book")
}

func TestFundingRatePicksVenueRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/funding-rates", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("User-Agent"), "funding endpoint rejects anonymous clients")
		w.Write([]byte(`{"funding_rates":[
			{"exchange":"binance","symbol":"SOL","rate":0.001},
			{"exchange":"lighter","symbol":"sol","rate":0.0008}
		]}`))
	}))
	defer srv.Close()

	rate, err := newTestClient(t, srv.URL).FundingRate(context.Background(), "SOL")
	require.NoError(t, err)
	assert.InDelta(t, 0.0008, rate.Rate, 1e-12)
	assert.Equal(t, 8, rate.IntervalHours)
}

func TestFundingRateUnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"funding_rates":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).FundingRate(context.Background(), "DOGE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCreateOrderScalesAndSignsTx(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/orderBookOrders", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bids":[{"price":"150.0"}],"asks":[{"price":"150.4"}]}`))
	})
	mux.HandleFunc("/api/v1/nextNonce", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("account_index"))
		w.Write([]byte(`{"code":200,"nonce":41}`))
	})
	mux.HandleFunc("/api/v1/sendTx", func(w http.ResponseWriter, r *http.Request) {
		rawBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		// The HMAC signature covers timestamp + method + path + encoded form.
		message := r.Header.Get("X-Timestamp") + http.MethodPost + "/api/v1/sendTx" + string(rawBody)
		mac := hmac.New(sha256.New, []byte("shared-secret"))
		mac.Write([]byte(message))
		expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
		assert.Equal(t, "key-id", r.Header.Get("X-Api-Key"))
		assert.Equal(t, expected, r.Header.Get("X-Signature"))

		form, err := url.ParseQuery(string(rawBody))
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(txTypeCreateOrder), form.Get("tx_type"))

		var tx createOrderTx
		require.NoError(t, json.Unmarshal([]byte(form.Get("tx_info")), &tx))
		assert.Equal(t, int64(7), tx.AccountIndex)
		assert.Equal(t, int64(2), tx.MarketIndex)
		assert.Equal(t, int64(500), tx.BaseAmount, "0.5 SOL at 3 size decimals")
		assert.Equal(t, int64(151152), tx.Price, "ask 150.4 padded 0.5% at 3 price decimals")
		assert.False(t, tx.IsAsk)
		assert.Equal(t, tifGoodTillCancel, tx.TimeInForce)
		assert.Equal(t, int64(-1), tx.OrderExpiry)
		assert.Equal(t, int64(41), tx.Nonce)

		w.Write([]byte(`{"code":200,"tx_hash":"0xabc"}`))
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
	assert.Equal(t, domain.OrderStatusNew, order.Status, "acceptance ack, fills surface via positions")
	assert.InDelta(t, 151.152, order.AvgPrice, 1e-6)
	assert.NotEmpty(t, order.ID)
}

func TestCreateOrderResyncsStaleNonce(t *testing.T) {
	var nonceCalls, txCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/orderBookOrders", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bids":[{"price":"150.0"}],"asks":[{"price":"150.4"}]}`))
	})
	mux.HandleFunc("/api/v1/nextNonce", func(w http.ResponseWriter, r *http.Request) {
		nonceCalls.Add(1)
		w.Write([]byte(`{"code":200,"nonce":41}`))
	})
	mux.HandleFunc("/api/v1/sendTx", func(w http.ResponseWriter, r *http.Request) {
		if txCalls.Add(1) == 1 {
			w.Write([]byte(`{"code":21104,"message":"invalid nonce"}`))
			return
		}
		w.Write([]byte(`{"code":200,"tx_hash":"0xdef"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).CreateOrder(context.Background(), domain.OrderRequest{
		Symbol:   "SOL",
		Side:     domain.OrderSideSell,
		Type:     domain.OrderTypeMarket,
		Quantity: 0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), txCalls.Load())
	assert.Equal(t, int32(2), nonceCalls.Load(), "stale nonce must trigger a resync")
}

func TestCreateOrderRejectionMapsSentinel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/orderBookOrders", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bids":[{"price":"150.0"}],"asks":[{"price":"150.4"}]}`))
	})
	mux.HandleFunc("/api/v1/nextNonce", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":200,"nonce":41}`))
	})
	mux.HandleFunc("/api/v1/sendTx", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":21505,"message":"not enough margin"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).CreateOrder(context.Background(), domain.OrderRequest{
		Symbol:   "SOL",
		Side:     domain.OrderSideBuy,
		Type:     domain.OrderTypeMarket,
		Quantity: 0.5,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOrderRejected))
	assert.Contains(t, err.Error(), "not enough margin")
}

func TestAccountBalancesAndPendingOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/account", r.URL.Path)
		assert.Equal(t, "index", r.URL.Query().Get("by"))
		w.Write([]byte(`{"accounts":[{"available_balance":"1234.5","pending_order_count":3,"positions":[]}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	balances, err := client.Balances(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1234.5, balances["USDC"], 1e-9)

	count, err := client.PendingOrderCount(context.Background(), "SOL")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestPositionsApplySignAndSkipUnknownMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"accounts":[{"available_balance":"0","positions":[
			{"market_id":2,"position":"1.5","sign":-1,"avg_entry_price":"150","unrealized_pnl":"-3"},
			{"market_id":99,"position":"4","sign":1,"avg_entry_price":"1","unrealized_pnl":"0"}
		]}]}`))
	}))
	defer srv.Close()

	positions, err := newTestClient(t, srv.URL).Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "SOL", positions[0].Symbol)
	assert.InDelta(t, -1.5, positions[0].Size, 1e-9)
}
