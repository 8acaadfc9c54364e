package bus

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
)

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, payload)
	return f.err
}

func TestOnStateUpdatePublishesSnapshotJSON(t *testing.T) {
	pub := &fakePublisher{}
	s := New(pub, slog.New(slog.DiscardHandler))

	at := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	s.OnStateUpdate(domain.Snapshot{
		Strategy:    "sol-carry",
		Symbol:      "SOL",
		Status:      domain.StatusMonitoring,
		Direction:   domain.DirectionHedged,
		ShortVenue:  "backpack",
		LongVenue:   "lighter",
		Size:        1.5,
		Price:       150.25,
		SpreadAPR:   0.31,
		VenueAPRs:   map[string]float64{"backpack": 0.25, "lighter": -0.06},
		RealizedPnL: 8.25,
		At:          at,
	})

	require.Equal(t, []string{SnapshotChannel}, pub.channels)

	var msg SnapshotMessage
	require.NoError(t, json.Unmarshal(pub.payloads[0], &msg))
	assert.Equal(t, "sol-carry", msg.Strategy)
	assert.Equal(t, "monitoring", msg.Status)
	assert.Equal(t, "hedged", msg.Direction)
	assert.Equal(t, "backpack", msg.ShortVenue)
	assert.InDelta(t, 0.31, msg.SpreadAPR, 1e-9)
	assert.InDelta(t, -0.06, msg.VenueAPRs["lighter"], 1e-9)
	assert.True(t, msg.At.Equal(at))
}

func TestOnBalancesPublishesToBalanceChannel(t *testing.T) {
	pub := &fakePublisher{}
	s := New(pub, slog.New(slog.DiscardHandler))

	s.OnBalances("edgex", map[string]float64{"USDC": 980.5})

	require.Equal(t, []string{BalanceChannel}, pub.channels)

	var msg BalanceMessage
	require.NoError(t, json.Unmarshal(pub.payloads[0], &msg))
	assert.Equal(t, "edgex", msg.Venue)
	assert.InDelta(t, 980.5, msg.Balances["USDC"], 1e-9)
	assert.False(t, msg.At.IsZero())
}

func TestPublishErrorIsSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	s := New(pub, slog.New(slog.DiscardHandler))

	assert.NotPanics(t, func() {
		s.OnStateUpdate(domain.Snapshot{Strategy: "sol-carry"})
		s.OnBalances("backpack", nil)
	})
	assert.Len(t, pub.channels, 2)
}
