package edgex

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f"

const metaFixture = `{"code":"SUCCESS","data":{"contractList":[
	{"contractId":"10000001","contractName":"SOLUSD","quantityStepSize":"0.1","tickSize":"0.01"},
	{"contractId":"10000002","contractName":"ETHUSD","stepSize":"0.001","tickSize":"0.1"}
]}}`

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := New(Config{
		BaseURL:    baseURL,
		PrivateKey: testPrivateKey,
		AccountID:  551,
		RPS:        1000,
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return client
}

func withMeta(mux *http.ServeMux) *http.ServeMux {
	mux.HandleFunc("/api/v1/public/meta/getMetaData", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(metaFixture))
	})
	return mux
}

func TestTickerQuoteList(t *testing.T) {
	mux := withMeta(http.NewServeMux())
	mux.HandleFunc("/api/v1/public/quote/getTicker", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10000001", r.URL.Query().Get("contractId"))
		w.Write([]byte(`{"code":"SUCCESS","data":[{"bidPrice":"150.1","askPrice":"150.3","lastPrice":"150.2"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ticker, err := newTestClient(t, srv.URL).Ticker(context.Background(), "SOL")
	require.NoError(t, err)
	assert.InDelta(t, 150.1, ticker.Bid, 1e-9)
	assert.InDelta(t, 150.3, ticker.Ask, 1e-9)
	assert.InDelta(t, 150.2, ticker.Last, 1e-9)
}

func TestTickerQuoteSingleObject(t *testing.T) {
	mux := withMeta(http.NewServeMux())
	mux.HandleFunc("/api/v1/public/quote/getTicker", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"SUCCESS","data":{"bidPrice":"150.1","askPrice":"150.3","lastPrice":"150.2"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ticker, err := newTestClient(t, srv.URL).Ticker(context.Background(), "SOL")
	require.NoError(t, err)
	assert.InDelta(t, 150.2, ticker.Last, 1e-9)
}

func TestFundingRateNativeInterval(t *testing.T) {
	mux := withMeta(http.NewServeMux())
	mux.HandleFunc("/api/v1/public/funding/getLatestFundingRate", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"SUCCESS","data":[{"contractId":"10000001","fundingRate":"0.0002"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rate, err := newTestClient(t, srv.URL).FundingRate(context.Background(), "SOL")
	require.NoError(t, err)
	assert.InDelta(t, 0.0002, rate.Rate, 1e-12)
	assert.Equal(t, 4, rate.IntervalHours)
}

func TestCreateOrderMarketAttachesPrice(t *testing.T) {
	mux := withMeta(http.NewServeMux())
	mux.HandleFunc("/api/v1/public/quote/getTicker", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"SUCCESS","data":[{"bidPrice":"150.1","askPrice":"150.3","lastPrice":"150.2"}]}`))
	})
	mux.HandleFunc("/api/v1/private/order/createOrder", func(w http.ResponseWriter, r *http.Request) {
		rawBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		// The signature covers timestamp+method+path+body and must recover to
		// the key's address.
		message := r.Header.Get(timestampHeader) + http.MethodPost + "/api/v1/private/order/createOrder" + string(rawBody)
		sig, err := hex.DecodeString(r.Header.Get(signatureHeader))
		require.NoError(t, err)
		require.Len(t, sig, 65)
		sig[64] -= 27
		pub, err := ethcrypto.SigToPub(ethcrypto.Keccak256([]byte(message)), sig)
		require.NoError(t, err)
		key, _ := ethcrypto.HexToECDSA(testPrivateKey)
		assert.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey), ethcrypto.PubkeyToAddress(*pub))

		var body map[string]any
		require.NoError(t, json.Unmarshal(rawBody, &body))
		assert.Equal(t, "551", body["accountId"])
		assert.Equal(t, "10000001", body["contractId"])
		assert.Equal(t, "BUY", body["side"])
		assert.Equal(t, "MARKET", body["type"])
		// 150.2 * 1.01 rounded to the 0.01 tick.
		assert.Equal(t, "151.7", body["price"])
		assert.Equal(t, "0.5", body["size"])
		_, hasTIF := body["timeInForce"]
		assert.False(t, hasTIF, "market orders carry no time in force")

		w.Write([]byte(`{"code":"SUCCESS","data":{"orderId":"ord-1"}}`))
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
	assert.Equal(t, "ord-1", order.ID)
	assert.Equal(t, domain.OrderStatusNew, order.Status)
	assert.InDelta(t, 151.702, order.AvgPrice, 1e-6)
}

func TestCreateOrderEnvelopeErrorIsRejection(t *testing.T) {
	mux := withMeta(http.NewServeMux())
	mux.HandleFunc("/api/v1/private/order/createOrder", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"ORDER_REJECTED","msg":"insufficient margin"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).CreateOrder(context.Background(), domain.OrderRequest{
		Symbol:   "SOL",
		Side:     domain.OrderSideSell,
		Type:     domain.OrderTypeLimit,
		Quantity: 0.5,
		Price:    150,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOrderRejected))
	assert.Contains(t, err.Error(), "insufficient margin")
}

func TestBalancesSelectUSDCPool(t *testing.T) {
	mux := withMeta(http.NewServeMux())
	mux.HandleFunc("/api/v1/private/account/getAccountAsset", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "551", r.URL.Query().Get("accountId"))
		assert.NotEmpty(t, r.Header.Get(signatureHeader))
		w.Write([]byte(`{"code":"SUCCESS","data":{"collateralAssetModelList":[
			{"coinId":"2000","availableAmount":"5"},
			{"coinId":"1000","availableAmount":"777.7"}
		]}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	balances, err := newTestClient(t, srv.URL).Balances(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 777.7, balances["USDC"], 1e-9)
}

func TestPositionsSellSideNegative(t *testing.T) {
	mux := withMeta(http.NewServeMux())
	mux.HandleFunc("/api/v1/private/account/getAccountPositions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"SUCCESS","data":[
			{"contractName":"SOLUSD","positionSize":"2","side":"SELL","entryPrice":"150","unrealizedPnl":"4"},
			{"contractName":"ETHUSD","positionSize":"0","side":"BUY","entryPrice":"0","unrealizedPnl":"0"}
		]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	positions, err := newTestClient(t, srv.URL).Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "SOL", positions[0].Symbol)
	assert.InDelta(t, -2.0, positions[0].Size, 1e-9)
}

func TestUnlistedContractNotFound(t *testing.T) {
	srv := httptest.NewServer(withMeta(http.NewServeMux()))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Ticker(context.Background(), "DOGE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
