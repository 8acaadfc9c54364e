// Package lighter implements the Lighter zk-exchange adapter. Orders are
// submitted as signed transactions with per-market integer scaling; the
// account nonce is cached and resynced once when the venue reports it stale.
package lighter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/fundingbot/internal/crypto"
	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const (
	defaultBaseURL  = "https://mainnet.zklighter.elliot.ai"
	defaultRPS      = 6
	defaultSlippage = 0.005

	// The public funding endpoint rejects clients without a User-Agent.
	userAgent = "fundingbot/1.0"

	txTypeCreateOrder = 14
	txTypeCancelOrder = 15

	orderTypeLimit    = 0
	tifGoodTillCancel = 1 // the venue rejects IOC, aggressive GTC fills immediately

	codeOK           = 200
	codeInvalidNonce = 21104

	// fundingIntervalHours is the settlement window the venue's native rate
	// covers.
	fundingIntervalHours = 8
)

// Market describes one listed market: its index and the decimal scaling the
// transaction format expects.
type Market struct {
	ID            int64
	PriceDecimals int
	SizeDecimals  int
}

// defaultMarkets covers the majors when config ships no market table.
var defaultMarkets = map[string]Market{
	"SOL": {ID: 2, PriceDecimals: 3, SizeDecimals: 3},
	"BTC": {ID: 1, PriceDecimals: 1, SizeDecimals: 5},
}

// Config carries the venue connection settings.
type Config struct {
	Name         string
	BaseURL      string
	APIKey       string // HMAC key id
	APISecret    string // HMAC shared secret
	AccountIndex int64
	APIKeyIndex  int
	Markets      map[string]Market // canonical symbol -> market
	Slippage     float64           // market-as-limit price pad, default 0.5%
	RPS          float64
}

// Client is the REST client for the Lighter exchange.
type Client struct {
	name         string
	baseURL      string
	auth         *crypto.HMACAuth
	accountIndex int64
	apiKeyIndex  int
	markets      map[string]Market
	ids          map[int64]string
	slippage     float64
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       *slog.Logger

	nonceMu sync.Mutex
	nonce   int64
	nonceOK bool
}

// New creates a Lighter client from venue config.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APISecret == "" {
		return nil, errors.New("lighter: api secret not configured")
	}

	name := cfg.Name
	if name == "" {
		name = "lighter"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	markets := cfg.Markets
	if len(markets) == 0 {
		markets = defaultMarkets
	}
	slippage := cfg.Slippage
	if slippage <= 0 {
		slippage = defaultSlippage
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = defaultRPS
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	ids := make(map[int64]string, len(markets))
	for symbol, m := range markets {
		ids[m.ID] = symbol
	}

	return &Client{
		name:         name,
		baseURL:      strings.TrimRight(baseURL, "/"),
		auth:         &crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.APISecret},
		accountIndex: cfg.AccountIndex,
		apiKeyIndex:  cfg.APIKeyIndex,
		markets:      markets,
		ids:          ids,
		slippage:     slippage,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.With(slog.String("component", name)),
	}, nil
}

// Name returns the venue identifier used in logs and records.
func (c *Client) Name() string { return c.name }

// Ticker returns the touch from the order book; Last is the midpoint.
func (c *Client) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	market, err := c.market(symbol)
	if err != nil {
		return domain.Ticker{}, err
	}

	query := url.Values{}
	query.Set("market_id", strconv.FormatInt(market.ID, 10))
	query.Set("limit", "5")

	body, err := c.get(ctx, "/api/v1/orderBookOrders", query)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("lighter: get order book %s: %w", symbol, err)
	}

	var book orderBookResponse
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.Ticker{}, fmt.Errorf("lighter: decode order book: %w", err)
	}

	t := domain.Ticker{
		Venue:  c.name,
		Symbol: symbol,
		At:     time.Now().UTC(),
	}
	if len(book.Bids) > 0 {
		t.Bid = asFloat(book.Bids[0].Price)
	}
	if len(book.Asks) > 0 {
		t.Ask = asFloat(book.Asks[0].Price)
	}
	switch {
	case t.Bid > 0 && t.Ask > 0:
		t.Last = (t.Bid + t.Ask) / 2
	case t.Bid > 0:
		t.Last = t.Bid
	case t.Ask > 0:
		t.Last = t.Ask
	default:
		return domain.Ticker{}, fmt.Errorf("lighter: empty order book for %s", symbol)
	}
	return t, nil
}

// FundingRate returns the venue's native 8-hour funding quote for a symbol.
func (c *Client) FundingRate(ctx context.Context, symbol string) (domain.FundingRate, error) {
	body, err := c.get(ctx, "/api/v1/funding-rates", nil)
	if err != nil {
		return domain.FundingRate{}, fmt.Errorf("lighter: get funding rates: %w", err)
	}

	var resp fundingRatesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.FundingRate{}, fmt.Errorf("lighter: decode funding rates: %w", err)
	}

	for _, r := range resp.FundingRates {
		if r.Exchange == "lighter" && strings.EqualFold(r.Symbol, symbol) {
			return domain.FundingRate{
				Venue:         c.name,
				Symbol:        symbol,
				Rate:          r.Rate,
				IntervalHours: fundingIntervalHours,
				At:            time.Now().UTC(),
			}, nil
		}
	}
	return domain.FundingRate{}, fmt.Errorf("lighter: no funding rate for %s: %w", symbol, domain.ErrNotFound)
}

// Positions returns all open positions on the account. Markets missing from
// the configured table are skipped.
func (c *Client) Positions(ctx context.Context) ([]domain.Position, error) {
	acc, err := c.account(ctx)
	if err != nil {
		return nil, err
	}

	positions := make([]domain.Position, 0, len(acc.Positions))
	for _, p := range acc.Positions {
		symbol, ok := c.ids[p.MarketID]
		if !ok {
			continue
		}
		size := asFloat(p.Position)
		if p.Sign < 0 {
			size = -size
		}
		if size == 0 {
			continue
		}
		positions = append(positions, domain.Position{
			Venue:         c.name,
			Symbol:        symbol,
			Size:          size,
			EntryPrice:    asFloat(p.AvgEntryPrice),
			UnrealizedPnL: asFloat(p.UnrealizedPnL),
		})
	}
	return positions, nil
}

// Balances returns free collateral. The venue settles everything in USDC.
func (c *Client) Balances(ctx context.Context) (map[string]float64, error) {
	acc, err := c.account(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]float64{"USDC": asFloat(acc.AvailableBalance)}, nil
}

// CreateOrder submits a signed create-order transaction. Market requests
// become aggressive GTC limits at the touch plus slippage; acceptance is the
// venue's only acknowledgement, fills surface through position truth.
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	market, err := c.market(req.Symbol)
	if err != nil {
		return domain.Order{}, err
	}

	price := req.Price
	if req.Type == domain.OrderTypeMarket || price <= 0 {
		ticker, err := c.Ticker(ctx, req.Symbol)
		if err != nil {
			return domain.Order{}, fmt.Errorf("lighter: market order price: %w", err)
		}
		if req.Side == domain.OrderSideBuy {
			ref := ticker.Ask
			if ref <= 0 {
				ref = ticker.Last
			}
			price = ref * (1 + c.slippage)
		} else {
			ref := ticker.Bid
			if ref <= 0 {
				ref = ticker.Last
			}
			price = ref * (1 - c.slippage)
		}
	}

	clientOrderIndex := time.Now().UnixMilli() & 0xFFFFFFFF
	isAsk := req.Side == domain.OrderSideSell
	baseAmount := scaleToInt(req.Quantity, market.SizeDecimals)
	scaledPrice := scaleToInt(price, market.PriceDecimals)

	resp, err := c.sendTx(ctx, txTypeCreateOrder, func(nonce int64) any {
		return createOrderTx{
			AccountIndex:     c.accountIndex,
			APIKeyIndex:      c.apiKeyIndex,
			MarketIndex:      market.ID,
			ClientOrderIndex: clientOrderIndex,
			BaseAmount:       baseAmount,
			Price:            scaledPrice,
			IsAsk:            isAsk,
			OrderType:        orderTypeLimit,
			TimeInForce:      tifGoodTillCancel,
			ReduceOnly:       req.ReduceOnly,
			TriggerPrice:     0,
			OrderExpiry:      -1,
			Nonce:            nonce,
		}
	})
	if err != nil {
		var txErr *txError
		if errors.As(err, &txErr) {
			return domain.Order{}, fmt.Errorf("lighter: create order: %v: %w", txErr, domain.ErrOrderRejected)
		}
		return domain.Order{}, fmt.Errorf("lighter: create order: %w", err)
	}

	c.logger.Info("order transaction accepted",
		slog.String("tx_hash", resp.TxHash),
		slog.Int64("client_order_index", clientOrderIndex),
	)

	return domain.Order{
		ID:        strconv.FormatInt(clientOrderIndex, 10),
		Venue:     c.name,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		AvgPrice:  price,
		Status:    domain.OrderStatusNew,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// CancelOrder submits a signed cancel transaction for an order index.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	market, err := c.market(symbol)
	if err != nil {
		return err
	}

	orderIndex, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("lighter: order id %q is not an index: %w", orderID, err)
	}

	if _, err := c.sendTx(ctx, txTypeCancelOrder, func(nonce int64) any {
		return cancelOrderTx{
			AccountIndex: c.accountIndex,
			APIKeyIndex:  c.apiKeyIndex,
			MarketIndex:  market.ID,
			OrderIndex:   orderIndex,
			Nonce:        nonce,
		}
	}); err != nil {
		return fmt.Errorf("lighter: cancel order %s: %w", orderID, err)
	}
	return nil
}

// StepSize returns the minimum quantity increment implied by the market's
// size decimals.
func (c *Client) StepSize(symbol string) float64 {
	market, err := c.market(symbol)
	if err != nil {
		return 0
	}
	return 1 / math.Pow10(market.SizeDecimals)
}

// PendingOrderCount returns the account's open order count. The venue
// reports it account-wide, not per market.
func (c *Client) PendingOrderCount(ctx context.Context, _ string) (int, error) {
	acc, err := c.account(ctx)
	if err != nil {
		return 0, err
	}
	return acc.PendingOrderCount, nil
}

// ---- Internal helpers ----

func (c *Client) market(symbol string) (Market, error) {
	m, ok := c.markets[strings.ToUpper(symbol)]
	if !ok {
		return Market{}, fmt.Errorf("lighter: market not configured for %q: %w", symbol, domain.ErrNotFound)
	}
	return m, nil
}

// scaleToInt converts a decimal amount to the venue's integer representation.
func scaleToInt(v float64, decimals int) int64 {
	return int64(math.Round(v * math.Pow10(decimals)))
}

func (c *Client) account(ctx context.Context) (accountDetail, error) {
	query := url.Values{}
	query.Set("by", "index")
	query.Set("value", strconv.FormatInt(c.accountIndex, 10))

	body, err := c.get(ctx, "/api/v1/account", query)
	if err != nil {
		return accountDetail{}, fmt.Errorf("lighter: get account: %w", err)
	}

	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return accountDetail{}, fmt.Errorf("lighter: decode account: %w", err)
	}
	if len(resp.Accounts) == 0 {
		return accountDetail{}, fmt.Errorf("lighter: account %d not found: %w", c.accountIndex, domain.ErrNotFound)
	}
	return resp.Accounts[0], nil
}

// sendTx submits a transaction, retrying once with a resynced nonce when the
// venue reports the cached one stale.
func (c *Client) sendTx(ctx context.Context, txType int, build func(nonce int64) any) (txResponse, error) {
	for attempt := 0; attempt < 2; attempt++ {
		nonce, err := c.nextNonce(ctx)
		if err != nil {
			return txResponse{}, err
		}

		info, err := json.Marshal(build(nonce))
		if err != nil {
			return txResponse{}, fmt.Errorf("marshal tx info: %w", err)
		}

		form := url.Values{}
		form.Set("tx_type", strconv.Itoa(txType))
		form.Set("tx_info", string(info))

		body, err := c.postForm(ctx, "/api/v1/sendTx", form)
		if err != nil {
			return txResponse{}, err
		}

		var resp txResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return txResponse{}, fmt.Errorf("decode tx response: %w", err)
		}

		if resp.Code == codeInvalidNonce {
			c.logger.Warn("stale nonce, resyncing", slog.Int64("nonce", nonce))
			c.invalidateNonce()
			continue
		}
		if resp.Code != codeOK {
			return resp, &txError{Code: resp.Code, Message: resp.Message}
		}
		return resp, nil
	}
	return txResponse{}, errors.New("lighter: tx failed after nonce resync")
}

// nextNonce returns the next transaction nonce, syncing from the venue on
// first use or after invalidation.
func (c *Client) nextNonce(ctx context.Context) (int64, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	if c.nonceOK {
		c.nonce++
		return c.nonce, nil
	}

	query := url.Values{}
	query.Set("account_index", strconv.FormatInt(c.accountIndex, 10))
	query.Set("api_key_index", strconv.Itoa(c.apiKeyIndex))

	body, err := c.get(ctx, "/api/v1/nextNonce", query)
	if err != nil {
		return 0, fmt.Errorf("lighter: next nonce: %w", err)
	}

	var resp nextNonceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("lighter: decode nonce: %w", err)
	}

	c.nonce = resp.Nonce
	c.nonceOK = true
	return c.nonce, nil
}

func (c *Client) invalidateNonce() {
	c.nonceMu.Lock()
	c.nonceOK = false
	c.nonceMu.Unlock()
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

// postForm submits an authenticated form request. The HMAC signature covers
// the encoded form body.
func (c *Client) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	encoded := form.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range c.auth.Headers(http.MethodPost, path, encoded) {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("wait for rate limit: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := c.checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("lighter: rate limited (%s): %w", apiErr.Message, domain.ErrRateLimited)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("lighter: unauthorized (%s): %w", apiErr.Message, domain.ErrUnauthorized)
	case http.StatusNotFound:
		return fmt.Errorf("lighter: not found (%s): %w", apiErr.Message, domain.ErrNotFound)
	default:
		return fmt.Errorf("lighter: HTTP %d: %s", statusCode, apiErr.Message)
	}
}

var (
	_ domain.Venue               = (*Client)(nil)
	_ domain.PendingOrderCounter = (*Client)(nil)
)
