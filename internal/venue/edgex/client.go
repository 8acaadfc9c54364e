// Package edgex implements the EdgeX exchange adapter. Private endpoints
// are authenticated with secp256k1 request signatures; contract metadata is
// cached for symbol-to-contract mapping and quantity steps.
package edgex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/fundingbot/internal/crypto"
	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const (
	defaultBaseURL = "https://pro.edgex.exchange"
	defaultRPS     = 8

	// takerSlippage pads the reference price attached to market orders.
	takerSlippage = 0.01

	// fundingIntervalHours is the settlement window the venue's native rate
	// covers.
	fundingIntervalHours = 4

	codeSuccess = "SUCCESS"

	timestampHeader = "X-edgeX-Api-Timestamp"
	signatureHeader = "X-edgeX-Api-Signature"

	metaTimeout = 10 * time.Second
)

// Config carries the venue connection settings.
type Config struct {
	Name       string
	BaseURL    string
	PrivateKey string // hex secp256k1 key for request signing
	AccountID  int64
	Symbols    map[string]string // canonical -> contract name overrides
	RPS        float64
}

// Client is the REST client for the EdgeX exchange.
type Client struct {
	name       string
	baseURL    string
	signer     *crypto.RequestSigner
	accountID  string
	symbols    map[string]string
	reverse    map[string]string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	mu        sync.Mutex
	contracts map[string]contractMeta
}

// New creates an EdgeX client from venue config.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	signer, err := crypto.NewRequestSigner(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("edgex: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = "edgex"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = defaultRPS
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	reverse := make(map[string]string, len(cfg.Symbols))
	for canonical, contract := range cfg.Symbols {
		reverse[contract] = canonical
	}

	return &Client{
		name:      name,
		baseURL:   strings.TrimRight(baseURL, "/"),
		signer:    signer,
		accountID: strconv.FormatInt(cfg.AccountID, 10),
		symbols:   cfg.Symbols,
		reverse:   reverse,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.With(slog.String("component", name)),
	}, nil
}

// Name returns the venue identifier used in logs and records.
func (c *Client) Name() string { return c.name }

// Ticker returns the 24-hour quote for a symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	meta, err := c.contract(symbol)
	if err != nil {
		return domain.Ticker{}, err
	}

	query := url.Values{}
	query.Set("contractId", meta.ID)

	data, err := c.get(ctx, "/api/v1/public/quote/getTicker", query, false)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("edgex: get ticker %s: %w", symbol, err)
	}

	// The quote endpoint answers with a single object or a one-element list
	// depending on API version.
	var quote quoteEntry
	var quotes []quoteEntry
	if err := json.Unmarshal(data, &quotes); err == nil && len(quotes) > 0 {
		quote = quotes[0]
	} else if err := json.Unmarshal(data, &quote); err != nil {
		return domain.Ticker{}, fmt.Errorf("edgex: decode ticker: %w", err)
	}

	t := domain.Ticker{
		Venue:  c.name,
		Symbol: symbol,
		Bid:    asFloat(quote.BidPrice),
		Ask:    asFloat(quote.AskPrice),
		Last:   asFloat(quote.LastPrice),
		At:     time.Now().UTC(),
	}
	if t.Bid <= 0 && t.Ask <= 0 && t.Last <= 0 {
		return domain.Ticker{}, fmt.Errorf("edgex: empty quote for %s", symbol)
	}
	return t, nil
}

// FundingRate returns the venue's native 4-hour funding quote for a symbol.
func (c *Client) FundingRate(ctx context.Context, symbol string) (domain.FundingRate, error) {
	meta, err := c.contract(symbol)
	if err != nil {
		return domain.FundingRate{}, err
	}

	query := url.Values{}
	query.Set("contractId", meta.ID)

	data, err := c.get(ctx, "/api/v1/public/funding/getLatestFundingRate", query, false)
	if err != nil {
		return domain.FundingRate{}, fmt.Errorf("edgex: get funding %s: %w", symbol, err)
	}

	var rows []fundingEntry
	if err := json.Unmarshal(data, &rows); err != nil {
		return domain.FundingRate{}, fmt.Errorf("edgex: decode funding: %w", err)
	}

	for _, r := range rows {
		if r.ContractID == meta.ID {
			return domain.FundingRate{
				Venue:         c.name,
				Symbol:        symbol,
				Rate:          asFloat(r.FundingRate),
				IntervalHours: fundingIntervalHours,
				At:            time.Now().UTC(),
			}, nil
		}
	}
	return domain.FundingRate{}, fmt.Errorf("edgex: no funding rate for %s: %w", symbol, domain.ErrNotFound)
}

// Positions returns all open positions on the account.
func (c *Client) Positions(ctx context.Context) ([]domain.Position, error) {
	query := url.Values{}
	query.Set("accountId", c.accountID)

	data, err := c.get(ctx, "/api/v1/private/account/getAccountPositions", query, true)
	if err != nil {
		return nil, fmt.Errorf("edgex: get positions: %w", err)
	}

	var rows []positionEntry
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("edgex: decode positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(rows))
	for _, p := range rows {
		size := asFloat(p.PositionSize)
		if p.Side == "SELL" {
			size = -size
		}
		if size == 0 {
			continue
		}
		positions = append(positions, domain.Position{
			Venue:         c.name,
			Symbol:        c.canonicalSymbol(p.ContractName),
			Size:          size,
			EntryPrice:    asFloat(p.EntryPrice),
			UnrealizedPnL: asFloat(p.UnrealizedPnl),
		})
	}
	return positions, nil
}

// Balances returns free collateral. Coin id 1000 is the venue's USDC pool.
func (c *Client) Balances(ctx context.Context) (map[string]float64, error) {
	query := url.Values{}
	query.Set("accountId", c.accountID)

	data, err := c.get(ctx, "/api/v1/private/account/getAccountAsset", query, true)
	if err != nil {
		return nil, fmt.Errorf("edgex: get account asset: %w", err)
	}

	var asset accountAsset
	if err := json.Unmarshal(data, &asset); err != nil {
		return nil, fmt.Errorf("edgex: decode account asset: %w", err)
	}

	balances := map[string]float64{"USDC": 0}
	for _, collateral := range asset.CollateralAssetModelList {
		if collateral.CoinID == "1000" {
			balances["USDC"] = asFloat(collateral.AvailableAmount)
		}
	}
	return balances, nil
}

// CreateOrder places an order. The venue requires a price on market orders,
// so one is derived from the last trade plus slippage.
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	meta, err := c.contract(req.Symbol)
	if err != nil {
		return domain.Order{}, err
	}

	side := "SELL"
	if req.Side == domain.OrderSideBuy {
		side = "BUY"
	}

	orderType := "LIMIT"
	timeInForce := "GTC"
	price := req.Price
	if req.Type == domain.OrderTypeMarket {
		orderType = "MARKET"
		timeInForce = ""
		if price <= 0 {
			ticker, err := c.Ticker(ctx, req.Symbol)
			if err != nil {
				return domain.Order{}, fmt.Errorf("edgex: market order price: %w", err)
			}
			if req.Side == domain.OrderSideBuy {
				price = ticker.Last * (1 + takerSlippage)
			} else {
				price = ticker.Last * (1 - takerSlippage)
			}
		}
	}

	body := createOrderRequest{
		AccountID:     c.accountID,
		ContractID:    meta.ID,
		Side:          side,
		Type:          orderType,
		Price:         formatTick(price, meta.TickSize),
		Size:          formatStep(req.Quantity, meta.StepSize),
		TimeInForce:   timeInForce,
		ReduceOnly:    req.ReduceOnly,
		ClientOrderID: req.ClientID,
	}

	data, err := c.post(ctx, "/api/v1/private/order/createOrder", body)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			return domain.Order{}, fmt.Errorf("edgex: create order: %v: %w", apiErr, domain.ErrOrderRejected)
		}
		return domain.Order{}, fmt.Errorf("edgex: create order: %w", err)
	}

	var ack createOrderData
	if err := json.Unmarshal(data, &ack); err != nil {
		return domain.Order{}, fmt.Errorf("edgex: decode order: %w", err)
	}

	return domain.Order{
		ID:        ack.OrderID,
		Venue:     c.name,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		AvgPrice:  price,
		Status:    domain.OrderStatusNew,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// CancelOrder cancels an open order by id.
func (c *Client) CancelOrder(ctx context.Context, _ string, orderID string) error {
	body := cancelOrderRequest{AccountID: c.accountID, OrderID: orderID}
	if _, err := c.post(ctx, "/api/v1/private/order/cancelOrderById", body); err != nil {
		return fmt.Errorf("edgex: cancel order %s: %w", orderID, err)
	}
	return nil
}

// StepSize returns the minimum quantity increment for a symbol, or 0 when
// contract metadata is unavailable.
func (c *Client) StepSize(symbol string) float64 {
	meta, err := c.contract(symbol)
	if err != nil {
		return 0
	}
	return meta.StepSize
}

// ---- Internal helpers ----

// contractName maps a canonical symbol to the venue's contract spelling.
func (c *Client) contractName(symbol string) string {
	if contract, ok := c.symbols[symbol]; ok {
		return contract
	}
	return strings.ToUpper(symbol) + "USD"
}

// canonicalSymbol reverses contractName for venue-reported rows.
func (c *Client) canonicalSymbol(contract string) string {
	if symbol, ok := c.reverse[contract]; ok {
		return symbol
	}
	return strings.TrimSuffix(contract, "USD")
}

// contract returns cached contract metadata, loading the table on first use.
func (c *Client) contract(symbol string) (contractMeta, error) {
	name := c.contractName(symbol)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.contracts == nil {
		ctx, cancel := context.WithTimeout(context.Background(), metaTimeout)
		defer cancel()
		if err := c.loadContractsLocked(ctx); err != nil {
			return contractMeta{}, fmt.Errorf("edgex: load metadata: %w", err)
		}
	}

	meta, ok := c.contracts[name]
	if !ok {
		return contractMeta{}, fmt.Errorf("edgex: contract %q not listed: %w", name, domain.ErrNotFound)
	}
	return meta, nil
}

func (c *Client) loadContractsLocked(ctx context.Context) error {
	data, err := c.get(ctx, "/api/v1/public/meta/getMetaData", nil, false)
	if err != nil {
		return err
	}

	var meta metaData
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	contracts := make(map[string]contractMeta, len(meta.ContractList))
	for _, entry := range meta.ContractList {
		step := asFloat(entry.QuantityStepSize)
		if step == 0 {
			step = asFloat(entry.StepSize)
		}
		contracts[entry.ContractName] = contractMeta{
			ID:       entry.ContractID,
			StepSize: step,
			TickSize: asFloat(entry.TickSize),
		}
	}
	c.contracts = contracts
	c.logger.Info("contract metadata loaded", slog.Int("contracts", len(contracts)))
	return nil
}

// formatStep floors a quantity to the contract's step.
func formatStep(quantity, step float64) string {
	if step <= 0 {
		return strconv.FormatFloat(quantity, 'f', -1, 64)
	}
	q := decimal.NewFromFloat(quantity)
	s := decimal.NewFromFloat(step)
	return q.Div(s).Floor().Mul(s).String()
}

// formatTick rounds a price to the contract's tick.
func formatTick(price, tick float64) string {
	if tick <= 0 {
		return strconv.FormatFloat(price, 'f', -1, 64)
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	return p.Div(t).Round(0).Mul(t).String()
}

func (c *Client) get(ctx context.Context, path string, query url.Values, signed bool) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, path, query, nil, signed)
}

func (c *Client) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, path, nil, body, true)
}

// doRequest executes one API call and unwraps the response envelope. Signed
// requests cover timestamp+method+path(+query)+body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, reqBody any, signed bool) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limit: %w", err)
	}

	var jsonBody []byte
	if reqBody != nil {
		var err error
		jsonBody, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	signPath := path
	if len(query) > 0 {
		signPath += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if jsonBody != nil {
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+signPath, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if jsonBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if signed {
		ts, sig, err := c.signer.SignRequest(method, signPath, string(jsonBody))
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		req.Header.Set(timestampHeader, ts)
		req.Header.Set(signatureHeader, sig)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Code != codeSuccess {
		return nil, &apiError{Code: env.Code, Msg: env.Msg}
	}
	return env.Data, nil
}

func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var env envelope
	_ = json.Unmarshal(body, &env)

	switch statusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("edgex: rate limited (%s): %w", env.Msg, domain.ErrRateLimited)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("edgex: unauthorized (%s): %w", env.Msg, domain.ErrUnauthorized)
	case http.StatusNotFound:
		return fmt.Errorf("edgex: not found (%s): %w", env.Msg, domain.ErrNotFound)
	default:
		return fmt.Errorf("edgex: HTTP %d: %s", statusCode, env.Msg)
	}
}

var _ domain.Venue = (*Client)(nil)
