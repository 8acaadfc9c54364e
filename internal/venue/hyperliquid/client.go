// Package hyperliquid implements the Hyperliquid venue adapter on top of the
// exchange's Go SDK. Market orders are submitted as IOC limits at the mid
// plus slippage; perp metadata is cached for size decimals.
package hyperliquid

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/sonirico/go-hyperliquid"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const (
	defaultBaseURL  = "https://api.hyperliquid.xyz"
	defaultRPS      = 8
	defaultSlippage = 0.005
)

// Config carries the venue connection settings.
type Config struct {
	Name          string
	BaseURL       string
	PrivateKey    string // hex secp256k1 wallet key
	WalletAddress string // derived from the key when empty
	Slippage      float64
	RPS           float64
}

// Client adapts the Hyperliquid SDK to the venue contract.
type Client struct {
	name     string
	baseURL  string
	info     *hyperliquid.Info
	privKey  *ecdsa.PrivateKey
	address  string
	slippage float64
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu       sync.Mutex
	meta     *hyperliquid.Meta
	exchange *hyperliquid.Exchange
}

// New creates a Hyperliquid client from venue config.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: invalid private key: %w", err)
	}

	address := cfg.WalletAddress
	if address == "" {
		address = ethcrypto.PubkeyToAddress(pk.PublicKey).Hex()
	}

	name := cfg.Name
	if name == "" {
		name = "hyperliquid"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
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

	return &Client{
		name:     name,
		baseURL:  baseURL,
		info:     hyperliquid.NewInfo(context.Background(), baseURL, true, nil, nil),
		privKey:  pk,
		address:  address,
		slippage: slippage,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		logger:   logger.With(slog.String("component", name)),
	}, nil
}

// Name returns the venue identifier used in logs and records.
func (c *Client) Name() string { return c.name }

// Ticker returns the perp mid price for a symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	mid, _, err := c.assetContext(ctx, symbol)
	if err != nil {
		return domain.Ticker{}, err
	}
	if mid <= 0 {
		return domain.Ticker{}, fmt.Errorf("hyperliquid: empty mid price for %s", symbol)
	}
	return domain.Ticker{
		Venue:  c.name,
		Symbol: symbol,
		Last:   mid,
		At:     time.Now().UTC(),
	}, nil
}

// FundingRate returns the venue's hourly funding quote for a symbol.
func (c *Client) FundingRate(ctx context.Context, symbol string) (domain.FundingRate, error) {
	_, funding, err := c.assetContext(ctx, symbol)
	if err != nil {
		return domain.FundingRate{}, err
	}
	return domain.FundingRate{
		Venue:         c.name,
		Symbol:        symbol,
		Rate:          funding,
		IntervalHours: 1,
		At:            time.Now().UTC(),
	}, nil
}

// Positions returns all open perp positions on the wallet.
func (c *Client) Positions(ctx context.Context) ([]domain.Position, error) {
	state, err := c.userState(ctx)
	if err != nil {
		return nil, err
	}

	positions := make([]domain.Position, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		size := asFloat(ap.Position.Szi)
		if size == 0 {
			continue
		}
		entryPx := ""
		if ap.Position.EntryPx != nil {
			entryPx = *ap.Position.EntryPx
		}
		positions = append(positions, domain.Position{
			Venue:         c.name,
			Symbol:        ap.Position.Coin,
			Size:          size,
			EntryPrice:    asFloat(entryPx),
			UnrealizedPnL: asFloat(ap.Position.UnrealizedPnl),
		})
	}
	return positions, nil
}

// Balances returns withdrawable collateral. The venue margins in USDC.
func (c *Client) Balances(ctx context.Context) (map[string]float64, error) {
	state, err := c.userState(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]float64{"USDC": asFloat(state.Withdrawable)}, nil
}

// CreateOrder places an order. Market requests become IOC limits at the mid
// plus slippage; an IOC that does not fill is reported as a rejection.
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	exchange, err := c.ensureExchange(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	coin := strings.ToUpper(req.Symbol)

	price := req.Price
	tif := hyperliquid.TifGtc
	if req.Type == domain.OrderTypeMarket {
		mid, _, err := c.assetContext(ctx, req.Symbol)
		if err != nil {
			return domain.Order{}, fmt.Errorf("hyperliquid: market order price: %w", err)
		}
		if req.Side == domain.OrderSideBuy {
			price = mid * (1 + c.slippage)
		} else {
			price = mid * (1 - c.slippage)
		}
		tif = hyperliquid.TifIoc
	}
	price = roundPrice(price)
	size := c.truncateSize(ctx, coin, req.Quantity)

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("hyperliquid: wait for rate limit: %w", err)
	}

	res, err := exchange.Order(ctx, hyperliquid.CreateOrderRequest{
		Coin:  coin,
		IsBuy: req.Side == domain.OrderSideBuy,
		Size:  size,
		Price: price,
		OrderType: hyperliquid.OrderType{
			Limit: &hyperliquid.LimitOrderType{Tif: tif},
		},
		ReduceOnly: req.ReduceOnly,
	}, nil)
	if err != nil {
		return domain.Order{}, c.classify(fmt.Errorf("hyperliquid: create order: %w", err))
	}
	if res.Error != nil {
		return domain.Order{}, fmt.Errorf("hyperliquid: order failed: %s: %w", *res.Error, domain.ErrOrderRejected)
	}

	order := domain.Order{
		Venue:     c.name,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  size,
		AvgPrice:  price,
		CreatedAt: time.Now().UTC(),
	}
	switch {
	case res.Filled != nil:
		order.ID = strconv.Itoa(res.Filled.Oid)
		order.FilledQty = size
		order.Status = domain.OrderStatusFilled
	case res.Resting != nil:
		order.ID = strconv.FormatInt(res.Resting.Oid, 10)
		order.Status = domain.OrderStatusNew
		if tif == hyperliquid.TifIoc {
			return order, fmt.Errorf("hyperliquid: IOC order %s rested unfilled: %w", order.ID, domain.ErrOrderRejected)
		}
	default:
		return order, fmt.Errorf("hyperliquid: order not acknowledged: %w", domain.ErrOrderRejected)
	}
	return order, nil
}

// CancelOrder is unsupported: orders are placed IOC and never rest.
func (c *Client) CancelOrder(_ context.Context, _ string, orderID string) error {
	return fmt.Errorf("hyperliquid: cancel order %s: resting orders are not tracked", orderID)
}

// StepSize returns the minimum size increment implied by the perp's size
// decimals, or 0 when metadata is unavailable.
func (c *Client) StepSize(symbol string) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	meta, err := c.ensureMeta(ctx)
	if err != nil {
		c.logger.Warn("perp metadata unavailable", slog.String("error", err.Error()))
		return 0
	}

	coin := strings.ToUpper(symbol)
	for _, asset := range meta.Universe {
		if asset.Name == coin {
			return 1 / math.Pow10(asset.SzDecimals)
		}
	}
	return 0
}

// ---- Internal helpers ----

// assetContext returns the mid price and hourly funding rate for a symbol
// from one universe snapshot.
func (c *Client) assetContext(ctx context.Context, symbol string) (mid, funding float64, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, 0, fmt.Errorf("hyperliquid: wait for rate limit: %w", err)
	}

	state, err := c.info.MetaAndAssetCtxs(ctx)
	if err != nil {
		return 0, 0, c.classify(fmt.Errorf("hyperliquid: fetch asset contexts: %w", err))
	}

	coin := strings.ToUpper(symbol)
	for i, asset := range state.Universe {
		if asset.Name != coin {
			continue
		}
		if i >= len(state.Ctxs) {
			break
		}
		mid, _ = strconv.ParseFloat(state.Ctxs[i].MidPx, 64)
		funding, _ = strconv.ParseFloat(state.Ctxs[i].Funding, 64)
		return mid, funding, nil
	}
	return 0, 0, fmt.Errorf("hyperliquid: %s not in universe: %w", coin, domain.ErrNotFound)
}

func (c *Client) userState(ctx context.Context) (*hyperliquid.UserState, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("hyperliquid: wait for rate limit: %w", err)
	}
	state, err := c.info.UserState(ctx, c.address)
	if err != nil {
		return nil, c.classify(fmt.Errorf("hyperliquid: fetch user state: %w", err))
	}
	return state, nil
}

func (c *Client) ensureMeta(ctx context.Context) (*hyperliquid.Meta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.meta != nil {
		return c.meta, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("hyperliquid: wait for rate limit: %w", err)
	}
	meta, err := c.info.Meta(ctx)
	if err != nil {
		return nil, c.classify(fmt.Errorf("hyperliquid: fetch meta: %w", err))
	}
	c.meta = meta
	return meta, nil
}

func (c *Client) ensureExchange(ctx context.Context) (*hyperliquid.Exchange, error) {
	meta, err := c.ensureMeta(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exchange == nil {
		c.exchange = hyperliquid.NewExchange(ctx, c.privKey, c.baseURL, meta, "", c.address, nil)
	}
	return c.exchange, nil
}

// truncateSize floors a size to the perp's decimals. Unknown metadata leaves
// the size unchanged; the venue rejects malformed sizes.
func (c *Client) truncateSize(ctx context.Context, coin string, size float64) float64 {
	meta, err := c.ensureMeta(ctx)
	if err != nil {
		return size
	}
	for _, asset := range meta.Universe {
		if asset.Name == coin {
			p := math.Pow10(asset.SzDecimals)
			return math.Floor(size*p) / p
		}
	}
	return size
}

// roundPrice trims a price to the venue's five significant figures.
func roundPrice(price float64) float64 {
	if price <= 0 {
		return price
	}
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(price, 'g', 5, 64), 64)
	if err != nil {
		return price
	}
	return rounded
}

// classify maps SDK transport errors onto the shared sentinels.
func (c *Client) classify(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "rate limit") {
		return fmt.Errorf("%s: %w", msg, domain.ErrRateLimited)
	}
	return err
}

// asFloat parses an SDK decimal string, returning 0 for empty or malformed
// values.
func asFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

var _ domain.Venue = (*Client)(nil)
