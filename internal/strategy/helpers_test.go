package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/sizing"
)

// stubVenue is a fully scripted venue for strategy tests. Funding is quoted
// hourly so the configured APR annualizes directly.
type stubVenue struct {
	name string
	step float64

	mu         sync.Mutex
	apr        float64
	rateErr    error
	price      float64
	priceErr   error
	positions  []domain.Position
	posErr     error
	pending    int
	pendingErr error
	orderFails []error // consumed per CreateOrder call; nil entry = fill
	requests   []domain.OrderRequest
	rateCalls  int
}

func (v *stubVenue) Name() string { return v.name }

func (v *stubVenue) Ticker(_ context.Context, symbol string) (domain.Ticker, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.priceErr != nil {
		return domain.Ticker{}, v.priceErr
	}
	return domain.Ticker{Venue: v.name, Symbol: symbol, Last: v.price}, nil
}

func (v *stubVenue) FundingRate(_ context.Context, symbol string) (domain.FundingRate, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rateCalls++
	if v.rateErr != nil {
		return domain.FundingRate{}, v.rateErr
	}
	return domain.FundingRate{
		Venue:         v.name,
		Symbol:        symbol,
		Rate:          v.apr / (24 * 365),
		IntervalHours: 1,
		At:            time.Now().UTC(),
	}, nil
}

func (v *stubVenue) Positions(context.Context) ([]domain.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.posErr != nil {
		return nil, v.posErr
	}
	return v.positions, nil
}

func (v *stubVenue) Balances(context.Context) (map[string]float64, error) {
	return map[string]float64{"USDC": 10_000}, nil
}

func (v *stubVenue) CreateOrder(_ context.Context, req domain.OrderRequest) (domain.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.requests = append(v.requests, req)
	var err error
	if len(v.orderFails) > 0 {
		err = v.orderFails[0]
		v.orderFails = v.orderFails[1:]
	}
	if err != nil {
		return domain.Order{}, err
	}
	return domain.Order{
		ID:        v.name + "-ord",
		Venue:     v.name,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		FilledQty: req.Quantity,
		AvgPrice:  v.price,
		Status:    domain.OrderStatusFilled,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (v *stubVenue) CancelOrder(context.Context, string, string) error { return nil }

func (v *stubVenue) StepSize(string) float64 { return v.step }

func (v *stubVenue) PendingOrderCount(context.Context, string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pendingErr != nil {
		return 0, v.pendingErr
	}
	return v.pending, nil
}

func (v *stubVenue) setAPR(apr float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.apr = apr
}

func (v *stubVenue) setPositions(ps ...domain.Position) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.positions = ps
}

func (v *stubVenue) orderCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.requests)
}

func (v *stubVenue) request(i int) domain.OrderRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requests[i]
}

func (v *stubVenue) fundingCalls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rateCalls
}

// memStateStore keeps strategy state in a map.
type memStateStore struct {
	mu     sync.Mutex
	states map[string]domain.StrategyState
	saves  int
}

func newMemStateStore() *memStateStore {
	return &memStateStore{states: make(map[string]domain.StrategyState)}
}

func (m *memStateStore) SaveState(_ context.Context, strategy string, state domain.StrategyState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[strategy] = state
	m.saves++
	return nil
}

func (m *memStateStore) LoadState(_ context.Context, strategy string) (domain.StrategyState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[strategy]
	return st, ok, nil
}

func (m *memStateStore) saved(strategy string) (domain.StrategyState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[strategy]
	return st, ok
}

// memTradeStore records trades in order.
type memTradeStore struct {
	mu      sync.Mutex
	trades  []domain.TradeRecord
	seedPnL float64
}

func (m *memTradeStore) RecordTrade(_ context.Context, trade domain.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
	return nil
}

func (m *memTradeStore) RecordFills(context.Context, []domain.FillRecord) error { return nil }

func (m *memTradeStore) RecordFunding(context.Context, []domain.FundingPayment) error { return nil }

func (m *memTradeStore) TotalPnL(context.Context, string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seedPnL, nil
}

func (m *memTradeStore) ListTradesBefore(context.Context, time.Time) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (m *memTradeStore) DeleteTradesBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (m *memTradeStore) recorded() []domain.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TradeRecord, len(m.trades))
	copy(out, m.trades)
	return out
}

// recordSink captures every snapshot pushed by a strategy.
type recordSink struct {
	mu    sync.Mutex
	snaps []domain.Snapshot
}

func (r *recordSink) OnStateUpdate(snap domain.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

func (r *recordSink) OnBalances(string, map[string]float64) {}

func (r *recordSink) last() domain.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return domain.Snapshot{}
	}
	return r.snaps[len(r.snaps)-1]
}

func (r *recordSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

// inWindowTime is a fixed instant two minutes past the hour, inside the
// default five-minute execution window.
var inWindowTime = time.Date(2025, 6, 1, 12, 2, 0, 0, time.UTC)

// outOfWindowTime is mid-hour, outside any reasonable window.
var outOfWindowTime = time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

// pairHarness wires a FundingArb over two stub venues with in-memory stores.
type pairHarness struct {
	primary   *stubVenue
	secondary *stubVenue
	states    *memStateStore
	trades    *memTradeStore
	sink      *recordSink
	strat     *FundingArb

	mu    sync.Mutex
	clock time.Time
}

func newPairHarness(cfg Config) *pairHarness {
	h := &pairHarness{
		primary:   &stubVenue{name: "lighter", price: 150, step: 0.01},
		secondary: &stubVenue{name: "backpack", price: 150.2, step: 0.01},
		states:    newMemStateStore(),
		trades:    &memTradeStore{},
		sink:      &recordSink{},
		clock:     inWindowTime,
	}
	if cfg.Name == "" {
		cfg.Name = "sol-arb"
	}
	if cfg.Symbol == "" {
		cfg.Symbol = "SOL"
	}
	if cfg.EntryThreshold == 0 {
		cfg.EntryThreshold = 0.01
	}
	if cfg.OrderSize.IsZero() {
		cfg.OrderSize = sizing.Spec{NotionalUSD: 300}
	}
	if cfg.WindowMinutes == 0 {
		cfg.WindowMinutes = 5
	}
	h.strat = NewFundingArb(cfg, h.primary, h.secondary, Deps{
		Trades: h.trades,
		States: h.states,
		Sink:   h.sink,
		Logger: slog.New(slog.DiscardHandler),
	})
	h.strat.now = h.now
	return h
}

func (h *pairHarness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *pairHarness) setClock(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clock = t
}

func (h *pairHarness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clock = h.clock.Add(d)
}

// holdShortPrimary scripts venue positions for an open hedge: short on the
// primary, long on the secondary.
func (h *pairHarness) holdShortPrimary(qty, primaryEntry, secondaryEntry float64) {
	h.primary.setPositions(domain.Position{
		Venue: h.primary.name, Symbol: "SOL", Size: -qty, EntryPrice: primaryEntry,
	})
	h.secondary.setPositions(domain.Position{
		Venue: h.secondary.name, Symbol: "SOL", Size: qty, EntryPrice: secondaryEntry,
	})
}

// surveyHarness wires a DynamicArb over three stub venues.
type surveyHarness struct {
	venues []*stubVenue
	states *memStateStore
	trades *memTradeStore
	sink   *recordSink
	strat  *DynamicArb

	mu    sync.Mutex
	clock time.Time
}

func newSurveyHarness(cfg Config) *surveyHarness {
	h := &surveyHarness{
		venues: []*stubVenue{
			{name: "lighter", price: 150, step: 0.01},
			{name: "backpack", price: 150.1, step: 0.01},
			{name: "edgex", price: 150.2, step: 0.1},
		},
		states: newMemStateStore(),
		trades: &memTradeStore{},
		sink:   &recordSink{},
		clock:  inWindowTime,
	}
	if cfg.Name == "" {
		cfg.Name = "sol-dyn"
	}
	if cfg.Symbol == "" {
		cfg.Symbol = "SOL"
	}
	if cfg.EntryThreshold == 0 {
		cfg.EntryThreshold = 0.05
	}
	if cfg.OrderSize.IsZero() {
		cfg.OrderSize = sizing.Spec{NotionalUSD: 300}
	}
	if cfg.WindowMinutes == 0 {
		cfg.WindowMinutes = 5
	}
	vs := make([]domain.Venue, len(h.venues))
	for i, v := range h.venues {
		vs[i] = v
	}
	h.strat = NewDynamicArb(cfg, vs, Deps{
		Trades: h.trades,
		States: h.states,
		Sink:   h.sink,
		Logger: slog.New(slog.DiscardHandler),
	})
	h.strat.now = h.now
	return h
}

func (h *surveyHarness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *surveyHarness) setClock(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clock = t
}

func (h *surveyHarness) venue(name string) *stubVenue {
	for _, v := range h.venues {
		if v.name == name {
			return v
		}
	}
	return nil
}
