package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/sink/bus"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// balanceVenue implements just enough of domain.Venue for the monitor.
type balanceVenue struct {
	name     string
	balances map[string]float64
	err      error

	// history, when set, upgrades the stub to a domain.HistoryProvider.
	fills    []domain.FillRecord
	payments []domain.FundingPayment
	histErr  error
}

func (v *balanceVenue) Name() string { return v.name }

func (v *balanceVenue) Ticker(context.Context, string) (domain.Ticker, error) {
	return domain.Ticker{}, nil
}

func (v *balanceVenue) FundingRate(context.Context, string) (domain.FundingRate, error) {
	return domain.FundingRate{}, nil
}

func (v *balanceVenue) Positions(context.Context) ([]domain.Position, error) { return nil, nil }

func (v *balanceVenue) Balances(context.Context) (map[string]float64, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.balances, nil
}

func (v *balanceVenue) CreateOrder(context.Context, domain.OrderRequest) (domain.Order, error) {
	return domain.Order{}, nil
}

func (v *balanceVenue) CancelOrder(context.Context, string, string) error { return nil }

func (v *balanceVenue) StepSize(string) float64 { return 0.01 }

// historyVenue extends balanceVenue with the history API.
type historyVenue struct {
	balanceVenue
}

func (v *historyVenue) FillHistory(context.Context, string, time.Time) ([]domain.FillRecord, error) {
	if v.histErr != nil {
		return nil, v.histErr
	}
	return v.fills, nil
}

func (v *historyVenue) FundingHistory(context.Context, string, time.Time) ([]domain.FundingPayment, error) {
	if v.histErr != nil {
		return nil, v.histErr
	}
	return v.payments, nil
}

// captureSink records sink pushes.
type captureSink struct {
	mu       sync.Mutex
	snaps    []domain.Snapshot
	balances map[string]map[string]float64
}

func newCaptureSink() *captureSink {
	return &captureSink{balances: map[string]map[string]float64{}}
}

func (s *captureSink) OnStateUpdate(snap domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
}

func (s *captureSink) OnBalances(venue string, balances map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[venue] = balances
}

// recordingTradeStore captures fill and funding recording calls.
type recordingTradeStore struct {
	mu       sync.Mutex
	fills    []domain.FillRecord
	payments []domain.FundingPayment
}

func (r *recordingTradeStore) RecordTrade(context.Context, domain.TradeRecord) error { return nil }

func (r *recordingTradeStore) RecordFills(_ context.Context, fills []domain.FillRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fills = append(r.fills, fills...)
	return nil
}

func (r *recordingTradeStore) RecordFunding(_ context.Context, payments []domain.FundingPayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments = append(r.payments, payments...)
	return nil
}

func (r *recordingTradeStore) TotalPnL(context.Context, string) (float64, error) { return 0, nil }

func (r *recordingTradeStore) ListTradesBefore(context.Context, time.Time) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (r *recordingTradeStore) DeleteTradesBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func TestBalanceMonitorPushesPerVenue(t *testing.T) {
	sink := newCaptureSink()
	m := NewBalanceMonitor([]domain.Venue{
		&balanceVenue{name: "backpack", balances: map[string]float64{"USDC": 1200}},
		&balanceVenue{name: "lighter", balances: map[string]float64{"USDC": 800.5}},
	}, sink, time.Minute, discardLogger())

	m.poll(context.Background())

	require.Len(t, sink.balances, 2)
	assert.InDelta(t, 1200, sink.balances["backpack"]["USDC"], 1e-9)
	assert.InDelta(t, 800.5, sink.balances["lighter"]["USDC"], 1e-9)
}

func TestBalanceMonitorSkipsFailingVenue(t *testing.T) {
	sink := newCaptureSink()
	m := NewBalanceMonitor([]domain.Venue{
		&balanceVenue{name: "backpack", err: errors.New("401")},
		&balanceVenue{name: "lighter", balances: map[string]float64{"USDC": 50}},
	}, sink, time.Minute, discardLogger())

	m.poll(context.Background())

	require.Len(t, sink.balances, 1)
	assert.Contains(t, sink.balances, "lighter")
}

func TestHistorySyncRecordsFillsAndFunding(t *testing.T) {
	now := time.Now().UTC()
	hv := &historyVenue{balanceVenue{name: "backpack"}}
	hv.fills = []domain.FillRecord{{FillID: "f1", Venue: "backpack", Symbol: "SOL", At: now}}
	hv.payments = []domain.FundingPayment{{Venue: "backpack", Symbol: "SOL", Amount: 0.4, At: now}}

	store := &recordingTradeStore{}
	h := NewHistorySync([]domain.Venue{hv}, []string{"SOL"}, store, time.Minute, discardLogger())

	h.sync(context.Background())

	require.Len(t, store.fills, 1)
	assert.Equal(t, "f1", store.fills[0].FillID)
	require.Len(t, store.payments, 1)
	assert.InDelta(t, 0.4, store.payments[0].Amount, 1e-9)
}

func TestHistorySyncSkipsVenuesWithoutHistory(t *testing.T) {
	store := &recordingTradeStore{}
	plain := &balanceVenue{name: "edgex"}
	h := NewHistorySync([]domain.Venue{plain}, []string{"SOL"}, store, time.Minute, discardLogger())

	h.sync(context.Background())

	assert.Empty(t, store.fills)
	assert.Empty(t, store.payments)
}

func TestHistorySyncToleratesVenueError(t *testing.T) {
	hv := &historyVenue{balanceVenue{name: "backpack", histErr: errors.New("500")}}
	store := &recordingTradeStore{}
	h := NewHistorySync([]domain.Venue{hv}, []string{"SOL", "ETH"}, store, time.Minute, discardLogger())

	assert.NotPanics(t, func() { h.sync(context.Background()) })
	assert.Empty(t, store.fills)
}

// fakeArchiver counts archival passes.
type fakeArchiver struct {
	mu      sync.Mutex
	cutoffs []time.Time
	n       int64
	err     error
}

func (f *fakeArchiver) ArchiveTrades(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	return f.n, f.err
}

func TestArchiveRunnerUsesRetentionCutoff(t *testing.T) {
	arch := &fakeArchiver{n: 3}
	r := NewArchiveRunner(arch, 30, time.Hour, discardLogger())

	start := time.Now().UTC()
	r.archiveOnce(context.Background())

	require.Len(t, arch.cutoffs, 1)
	want := start.Add(-30 * 24 * time.Hour)
	assert.WithinDuration(t, want, arch.cutoffs[0], 5*time.Second)
}

func TestArchiveRunnerSwallowsErrors(t *testing.T) {
	arch := &fakeArchiver{err: errors.New("bucket gone")}
	r := NewArchiveRunner(arch, 0, 0, discardLogger())

	assert.NotPanics(t, func() { r.archiveOnce(context.Background()) })
}

func TestBusMirrorReplaysSnapshotsAndBalances(t *testing.T) {
	snap, err := json.Marshal(bus.SnapshotMessage{
		Strategy:  "sol-carry",
		Symbol:    "SOL",
		Status:    "monitoring",
		Direction: "hedged",
		Size:      2,
		SpreadAPR: 0.22,
		At:        time.Now().UTC(),
	})
	require.NoError(t, err)
	bal, err := json.Marshal(bus.BalanceMessage{
		Venue:    "backpack",
		Balances: map[string]float64{"USDC": 77},
		At:       time.Now().UTC(),
	})
	require.NoError(t, err)

	sink := newCaptureSink()
	m := NewBusMirror(nil, sink, discardLogger())

	m.handleSnapshot(snap)
	m.handleBalances(bal)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.snaps, 1)
	assert.Equal(t, "sol-carry", sink.snaps[0].Strategy)
	assert.Equal(t, domain.StatusMonitoring, sink.snaps[0].Status)
	assert.Equal(t, domain.DirectionHedged, sink.snaps[0].Direction)
	assert.InDelta(t, 0.22, sink.snaps[0].SpreadAPR, 1e-9)
	assert.InDelta(t, 77, sink.balances["backpack"]["USDC"], 1e-9)
}

// blockedBus hands out open channels that never deliver.
type blockedBus struct{}

func (blockedBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func TestBusMirrorStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	m := NewBusMirror(blockedBus{}, newCaptureSink(), discardLogger())

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("mirror did not stop on cancel")
	}
}

func TestBusMirrorIgnoresMalformedPayloads(t *testing.T) {
	sink := newCaptureSink()
	m := NewBusMirror(&blockedBus{}, sink, discardLogger())

	assert.NotPanics(t, func() {
		m.handleSnapshot([]byte("{not json"))
		m.handleBalances([]byte("42"))
	})
	assert.Empty(t, sink.snaps)
	assert.Empty(t, sink.balances)
}
