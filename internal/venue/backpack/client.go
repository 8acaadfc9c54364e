// Package backpack implements the Backpack exchange adapter. Signed
// endpoints use ed25519 instruction signing; market orders are converted to
// aggressive IOC limits because the venue rejects market orders funded from
// lend balance.
package backpack

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
	defaultBaseURL = "https://api.backpack.exchange"
	defaultRPS     = 8

	// takerSlippage pads converted IOC limit prices past the touch.
	takerSlippage = 0.001

	metaTimeout     = 10 * time.Second
	historyPageSize = 100
)

// Config carries the venue connection settings.
type Config struct {
	Name      string            // venue id in records, default "backpack"
	BaseURL   string            // default https://api.backpack.exchange
	APIKey    string            // base64 ed25519 verifying key
	APISecret string            // base64 ed25519 seed
	Symbols   map[string]string // canonical -> native overrides
	RPS       float64           // request rate limit, default 8
}

// Client is the REST client for the Backpack exchange.
type Client struct {
	name       string
	baseURL    string
	signer     *crypto.InstructionSigner
	symbols    map[string]string
	reverse    map[string]string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	mu      sync.Mutex
	markets map[string]marketMeta
}

// New creates a Backpack client from venue config.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	signer, err := crypto.NewInstructionSigner(cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("backpack: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = "backpack"
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
	for canonical, native := range cfg.Symbols {
		reverse[native] = canonical
	}

	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
		symbols: cfg.Symbols,
		reverse: reverse,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.With(slog.String("component", name)),
	}, nil
}

// Name returns the venue identifier used in logs and records.
func (c *Client) Name() string { return c.name }

// Ticker returns the last trade price for a symbol. The public ticker
// endpoint carries no book levels, so Bid/Ask stay zero and Mid falls back
// to Last.
func (c *Client) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	native := c.nativeSymbol(symbol)

	query := url.Values{}
	query.Set("symbol", native)

	body, err := c.do(ctx, http.MethodGet, "/api/v1/ticker", query, nil, "", nil)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("backpack: get ticker %s: %w", native, err)
	}

	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Ticker{}, fmt.Errorf("backpack: decode ticker: %w", err)
	}

	last := asFloat(resp.LastPrice)
	if last <= 0 {
		return domain.Ticker{}, fmt.Errorf("backpack: empty ticker price for %s", native)
	}

	return domain.Ticker{
		Venue:  c.name,
		Symbol: symbol,
		Last:   last,
		At:     time.Now().UTC(),
	}, nil
}

// FundingRate returns the latest hourly funding quote for a symbol. Rows
// arrive newest first.
func (c *Client) FundingRate(ctx context.Context, symbol string) (domain.FundingRate, error) {
	native := c.nativeSymbol(symbol)

	query := url.Values{}
	query.Set("symbol", native)

	body, err := c.do(ctx, http.MethodGet, "/api/v1/fundingRates", query, nil, "", nil)
	if err != nil {
		return domain.FundingRate{}, fmt.Errorf("backpack: get funding %s: %w", native, err)
	}

	var rows []fundingEntry
	if err := json.Unmarshal(body, &rows); err != nil {
		return domain.FundingRate{}, fmt.Errorf("backpack: decode funding: %w", err)
	}
	if len(rows) == 0 {
		return domain.FundingRate{}, fmt.Errorf("backpack: no funding data for %s", native)
	}

	at := parseTimestamp(rows[0].IntervalEndTimestamp)
	if at.IsZero() {
		at = time.Now().UTC()
	}

	return domain.FundingRate{
		Venue:         c.name,
		Symbol:        symbol,
		Rate:          asFloat(rows[0].FundingRate),
		IntervalHours: 1,
		At:            at,
	}, nil
}

// Positions returns all open perpetual positions on the account.
func (c *Client) Positions(ctx context.Context) ([]domain.Position, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/position", nil, nil, "positionQuery", nil)
	if err != nil {
		return nil, fmt.Errorf("backpack: get positions: %w", err)
	}

	var rows []positionEntry
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("backpack: decode positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(rows))
	for _, p := range rows {
		size := asFloat(p.NetQuantity)
		if size == 0 {
			continue
		}
		positions = append(positions, domain.Position{
			Venue:         c.name,
			Symbol:        c.canonicalSymbol(p.Symbol),
			Size:          size,
			EntryPrice:    asFloat(p.EntryPrice),
			MarkPrice:     asFloat(p.MarkPrice),
			UnrealizedPnL: asFloat(p.PnLUnrealized),
		})
	}
	return positions, nil
}

// Balances returns free collateral per asset: spot capital plus net
// borrow/lend collateral.
func (c *Client) Balances(ctx context.Context) (map[string]float64, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/capital", nil, nil, "balanceQuery", nil)
	if err != nil {
		return nil, fmt.Errorf("backpack: get capital: %w", err)
	}

	var capital map[string]capitalEntry
	if err := json.Unmarshal(body, &capital); err != nil {
		return nil, fmt.Errorf("backpack: decode capital: %w", err)
	}

	balances := make(map[string]float64, len(capital))
	for asset, entry := range capital {
		balances[asset] = asFloat(entry.Available)
	}

	// Auto-lend collateral lives on a separate endpoint.
	lendBody, err := c.do(ctx, http.MethodGet, "/api/v1/borrowLend/positions", nil, nil, "borrowLendPositionQuery", nil)
	if err != nil {
		c.logger.Warn("borrow/lend positions unavailable", slog.String("error", err.Error()))
		return balances, nil
	}

	var lends []borrowLendEntry
	if err := json.Unmarshal(lendBody, &lends); err != nil {
		return nil, fmt.Errorf("backpack: decode borrow/lend positions: %w", err)
	}
	for _, l := range lends {
		balances[l.Symbol] += asFloat(l.NetQuantity)
	}

	return balances, nil
}

// CreateOrder places an order. Market requests are converted to IOC limits
// at the touch plus slippage; a conversion that does not fully fill is
// reported as a rejection so callers never mistake it for an executed leg.
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	native := c.nativeSymbol(req.Symbol)
	meta := c.marketMeta(native)

	side := "Ask"
	if req.Side == domain.OrderSideBuy {
		side = "Bid"
	}

	price := req.Price
	timeInForce := ""
	if req.Type == domain.OrderTypeMarket {
		ref, err := c.touchPrice(ctx, native, req.Side)
		if err != nil {
			return domain.Order{}, fmt.Errorf("backpack: market order price: %w", err)
		}
		if req.Side == domain.OrderSideBuy {
			price = ref * (1 + takerSlippage)
		} else {
			price = ref * (1 - takerSlippage)
		}
		timeInForce = "IOC"
	}

	quantity := formatStep(req.Quantity, meta.StepSize)
	priceStr := formatTick(price, meta.TickSize)

	reqBody := orderExecuteRequest{
		Symbol:      native,
		Side:        side,
		OrderType:   "Limit",
		Quantity:    quantity,
		Price:       priceStr,
		TimeInForce: timeInForce,
		ReduceOnly:  req.ReduceOnly,
	}

	// The signing payload mirrors the JSON body with stringified values.
	params := url.Values{}
	params.Set("symbol", native)
	params.Set("side", side)
	params.Set("orderType", "Limit")
	params.Set("quantity", quantity)
	params.Set("price", priceStr)
	if timeInForce != "" {
		params.Set("timeInForce", timeInForce)
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	body, err := c.do(ctx, http.MethodPost, "/api/v1/order", nil, reqBody, "orderExecute", params)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return domain.Order{}, fmt.Errorf("backpack: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrOrderRejected)
		}
		return domain.Order{}, fmt.Errorf("backpack: create order: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("backpack: decode order: %w", err)
	}

	order := domain.Order{
		ID:        resp.ID,
		Venue:     c.name,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  asFloat(resp.Quantity),
		FilledQty: asFloat(resp.ExecutedQuantity),
		Status:    mapOrderStatus(resp.Status),
		CreatedAt: time.Now().UTC(),
	}
	if order.FilledQty > 0 {
		order.AvgPrice = asFloat(resp.ExecutedQuoteQuantity) / order.FilledQty
	}

	if timeInForce == "IOC" && !order.Filled() {
		return order, fmt.Errorf("backpack: IOC order %s finished %s with %s/%s filled: %w",
			resp.ID, resp.Status, resp.ExecutedQuantity, resp.Quantity, domain.ErrOrderRejected)
	}

	return order, nil
}

// CancelOrder cancels an open order by id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	native := c.nativeSymbol(symbol)

	reqBody := orderCancelRequest{Symbol: native, OrderID: orderID}

	params := url.Values{}
	params.Set("symbol", native)
	params.Set("orderId", orderID)

	if _, err := c.do(ctx, http.MethodDelete, "/api/v1/order", nil, reqBody, "orderCancel", params); err != nil {
		return fmt.Errorf("backpack: cancel order %s: %w", orderID, err)
	}
	return nil
}

// StepSize returns the minimum quantity increment for a symbol, or 0 when
// market metadata is unavailable.
func (c *Client) StepSize(symbol string) float64 {
	return c.marketMeta(c.nativeSymbol(symbol)).StepSize
}

// PendingOrderCount returns the number of open orders for a symbol.
func (c *Client) PendingOrderCount(ctx context.Context, symbol string) (int, error) {
	query := url.Values{}
	query.Set("symbol", c.nativeSymbol(symbol))

	body, err := c.do(ctx, http.MethodGet, "/api/v1/orders", query, nil, "orderQueryAll", query)
	if err != nil {
		return 0, fmt.Errorf("backpack: get open orders: %w", err)
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, fmt.Errorf("backpack: decode open orders: %w", err)
	}
	return len(rows), nil
}

// FillHistory returns order fills since the given time, newest last.
func (c *Client) FillHistory(ctx context.Context, symbol string, since time.Time) ([]domain.FillRecord, error) {
	query := url.Values{}
	query.Set("symbol", c.nativeSymbol(symbol))
	query.Set("limit", strconv.Itoa(historyPageSize))

	body, err := c.do(ctx, http.MethodGet, "/wapi/v1/history/fills", query, nil, "fillHistoryQueryAll", query)
	if err != nil {
		return nil, fmt.Errorf("backpack: get fill history: %w", err)
	}

	var rows []fillEntry
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("backpack: decode fill history: %w", err)
	}

	fills := make([]domain.FillRecord, 0, len(rows))
	for _, f := range rows {
		at := parseTimestamp(f.Timestamp)
		if at.Before(since) {
			continue
		}
		side := domain.OrderSideSell
		if f.Side == "Bid" {
			side = domain.OrderSideBuy
		}
		fee := 0.0
		switch f.FeeSymbol {
		case "", "USD", "USDC":
			fee = asFloat(f.Fee)
		}
		fills = append(fills, domain.FillRecord{
			FillID:   strconv.FormatInt(f.TradeID, 10),
			Venue:    c.name,
			Symbol:   symbol,
			Side:     side,
			Price:    asFloat(f.Price),
			Quantity: asFloat(f.Quantity),
			FeeUSD:   fee,
			At:       at,
		})
	}
	return fills, nil
}

// FundingHistory returns funding settlements since the given time.
func (c *Client) FundingHistory(ctx context.Context, symbol string, since time.Time) ([]domain.FundingPayment, error) {
	query := url.Values{}
	query.Set("symbol", c.nativeSymbol(symbol))
	query.Set("limit", strconv.Itoa(historyPageSize))

	body, err := c.do(ctx, http.MethodGet, "/wapi/v1/history/funding", query, nil, "fundingHistoryQueryAll", query)
	if err != nil {
		return nil, fmt.Errorf("backpack: get funding history: %w", err)
	}

	var rows []fundingPaymentEntry
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("backpack: decode funding history: %w", err)
	}

	payments := make([]domain.FundingPayment, 0, len(rows))
	for _, p := range rows {
		at := parseTimestamp(p.IntervalEndTimestamp)
		if at.Before(since) {
			continue
		}
		payments = append(payments, domain.FundingPayment{
			Venue:  c.name,
			Symbol: symbol,
			Amount: asFloat(p.Quantity),
			Rate:   asFloat(p.FundingRate),
			At:     at,
		})
	}
	return payments, nil
}

// ---- Internal helpers ----

// nativeSymbol maps a canonical symbol to the venue's perp spelling.
func (c *Client) nativeSymbol(symbol string) string {
	if native, ok := c.symbols[symbol]; ok {
		return native
	}
	return strings.ToUpper(symbol) + "_USDC_PERP"
}

// canonicalSymbol reverses nativeSymbol for venue-reported rows.
func (c *Client) canonicalSymbol(native string) string {
	if symbol, ok := c.reverse[native]; ok {
		return symbol
	}
	return strings.TrimSuffix(native, "_USDC_PERP")
}

// touchPrice returns the opposite touch for an aggressive order: best ask
// for buys, best bid for sells, falling back to the last trade when the
// book side is empty.
func (c *Client) touchPrice(ctx context.Context, native string, side domain.OrderSide) (float64, error) {
	query := url.Values{}
	query.Set("symbol", native)

	body, err := c.do(ctx, http.MethodGet, "/api/v1/depth", query, nil, "", nil)
	if err == nil {
		var depth depthResponse
		if err := json.Unmarshal(body, &depth); err == nil {
			if side == domain.OrderSideBuy {
				if ask := bestAsk(depth.Asks); ask > 0 {
					return ask, nil
				}
			} else if bid := bestBid(depth.Bids); bid > 0 {
				return bid, nil
			}
		}
	}

	ticker, err := c.Ticker(ctx, c.canonicalSymbol(native))
	if err != nil {
		return 0, err
	}
	return ticker.Last, nil
}

// bestBid scans for the highest bid; the venue does not guarantee ordering.
func bestBid(levels [][]string) float64 {
	best := 0.0
	for _, l := range levels {
		if len(l) < 2 {
			continue
		}
		if p := asFloat(l[0]); p > best {
			best = p
		}
	}
	return best
}

// bestAsk scans for the lowest ask.
func bestAsk(levels [][]string) float64 {
	best := 0.0
	for _, l := range levels {
		if len(l) < 2 {
			continue
		}
		if p := asFloat(l[0]); p > 0 && (best == 0 || p < best) {
			best = p
		}
	}
	return best
}

// marketMeta returns cached market filters, loading them on first use.
func (c *Client) marketMeta(native string) marketMeta {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.markets == nil {
		ctx, cancel := context.WithTimeout(context.Background(), metaTimeout)
		defer cancel()
		if err := c.loadMarketsLocked(ctx); err != nil {
			c.logger.Warn("market metadata unavailable", slog.String("error", err.Error()))
			return marketMeta{}
		}
	}
	return c.markets[native]
}

func (c *Client) loadMarketsLocked(ctx context.Context) error {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/markets", nil, nil, "", nil)
	if err != nil {
		return err
	}

	var rows []marketEntry
	if err := json.Unmarshal(body, &rows); err != nil {
		return fmt.Errorf("decode markets: %w", err)
	}

	markets := make(map[string]marketMeta, len(rows))
	for _, m := range rows {
		markets[m.Symbol] = marketMeta{
			StepSize:    asFloat(m.Filters.Quantity.StepSize),
			MinQuantity: asFloat(m.Filters.Quantity.MinQuantity),
			TickSize:    asFloat(m.Filters.Price.TickSize),
		}
	}
	c.markets = markets
	return nil
}

// mapOrderStatus translates venue order states.
func mapOrderStatus(status string) domain.OrderStatus {
	switch status {
	case "Filled":
		return domain.OrderStatusFilled
	case "Cancelled", "Expired":
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatusNew
	}
}

// formatStep floors a quantity to the venue's step and renders it as the
// decimal string the API expects.
func formatStep(quantity, step float64) string {
	if step <= 0 {
		return strconv.FormatFloat(quantity, 'f', -1, 64)
	}
	q := decimal.NewFromFloat(quantity)
	s := decimal.NewFromFloat(step)
	return q.Div(s).Floor().Mul(s).String()
}

// formatTick rounds a price to the venue's tick size.
func formatTick(price, tick float64) string {
	if tick <= 0 {
		return strconv.FormatFloat(price, 'f', -1, 64)
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	return p.Div(t).Round(0).Mul(t).String()
}

// do executes one API request. Signed calls pass the instruction name plus
// the exact params the signature covers: the query for GETs, the
// stringified body for everything else.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, reqBody any, instruction string, signParams url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limit: %w", err)
	}

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if instruction != "" {
		for k, v := range c.signer.Headers(instruction, signParams) {
			req.Header.Set(k, v)
		}
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

	return respBody, nil
}

// checkStatus classifies non-2xx responses. Rate limits and auth failures
// map to sentinels; everything else surfaces as an apiError for callers to
// inspect.
func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	apiErr := &apiError{Status: statusCode}
	_ = json.Unmarshal(body, apiErr)

	switch statusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("backpack: rate limited (%s): %w", apiErr.Message, domain.ErrRateLimited)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("backpack: unauthorized (%s): %w", apiErr.Message, domain.ErrUnauthorized)
	case http.StatusNotFound:
		return fmt.Errorf("backpack: not found (%s): %w", apiErr.Message, domain.ErrNotFound)
	default:
		return apiErr
	}
}

var (
	_ domain.Venue               = (*Client)(nil)
	_ domain.PendingOrderCounter = (*Client)(nil)
	_ domain.HistoryProvider     = (*Client)(nil)
)
