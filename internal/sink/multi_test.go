package sink

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

type recordingSink struct {
	mu       sync.Mutex
	snaps    []domain.Snapshot
	balances []string
}

func (r *recordingSink) OnStateUpdate(snap domain.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

func (r *recordingSink) OnBalances(venue string, _ map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances = append(r.balances, venue)
}

func (r *recordingSink) snapCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

// stalledSink blocks every delivery until released.
type stalledSink struct {
	release chan struct{}
}

func (s *stalledSink) OnStateUpdate(domain.Snapshot)          { <-s.release }
func (s *stalledSink) OnBalances(string, map[string]float64) { <-s.release }

func TestMultiFansOutToAllChildren(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	m := NewMulti(slog.New(slog.DiscardHandler), a, b)

	for i := 0; i < 3; i++ {
		m.OnStateUpdate(domain.Snapshot{Strategy: "sol-carry"})
	}
	m.OnBalances("backpack", map[string]float64{"USDC": 1200})
	m.Close()

	assert.Equal(t, 3, a.snapCount())
	assert.Equal(t, 3, b.snapCount())
	assert.Equal(t, []string{"backpack"}, a.balances)
	assert.Equal(t, []string{"backpack"}, b.balances)
}

func TestMultiDropsForStalledChildWithoutBlocking(t *testing.T) {
	stalled := &stalledSink{release: make(chan struct{})}
	healthy := &recordingSink{}
	m := NewMulti(slog.New(slog.DiscardHandler), stalled, healthy)

	// Overfill the stalled child's queue; the producer must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < queueSize*3; i++ {
			m.OnStateUpdate(domain.Snapshot{Strategy: "sol-carry"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on a stalled sink")
	}

	close(stalled.release)
	m.Close()

	// Every update was either delivered or dropped, and the stalled child
	// must have lost some.
	delivered := int64(healthy.snapCount())
	require.Equal(t, int64(queueSize*3), delivered+m.children[1].drops.Load())
	assert.Positive(t, delivered)
	assert.Positive(t, m.children[0].drops.Load())
}

func TestMultiIgnoresUpdatesAfterClose(t *testing.T) {
	a := &recordingSink{}
	m := NewMulti(slog.New(slog.DiscardHandler), a)
	m.Close()

	m.OnStateUpdate(domain.Snapshot{Strategy: "sol-carry"})
	assert.Zero(t, a.snapCount())
}
