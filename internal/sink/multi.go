// Package sink fans per-cycle strategy state out to its consumers: the
// console dashboard, the Redis bus, and anything else implementing
// domain.StateSink.
package sink

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// queueSize bounds the per-child backlog before updates are dropped.
const queueSize = 64

// Multi fans every update out to all child sinks. Each child is fed from
// its own buffered queue by a dedicated goroutine: a child that falls
// behind loses updates instead of stalling the strategy cycle.
type Multi struct {
	children []*child
	logger   *slog.Logger
	closed   atomic.Bool
	wg       sync.WaitGroup
}

var _ domain.StateSink = (*Multi)(nil)

type event struct {
	isBalance bool
	snap      domain.Snapshot
	venue     string
	balances  map[string]float64
}

type child struct {
	sink  domain.StateSink
	ch    chan event
	drops atomic.Int64
}

func (c *child) run() {
	for ev := range c.ch {
		if ev.isBalance {
			c.sink.OnBalances(ev.venue, ev.balances)
		} else {
			c.sink.OnStateUpdate(ev.snap)
		}
	}
}

// NewMulti starts one delivery goroutine per child sink.
func NewMulti(logger *slog.Logger, sinks ...domain.StateSink) *Multi {
	m := &Multi{
		logger: logger.With(slog.String("component", "sink")),
	}
	for _, s := range sinks {
		c := &child{sink: s, ch: make(chan event, queueSize)}
		m.children = append(m.children, c)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			c.run()
		}()
	}
	return m
}

// OnStateUpdate queues the snapshot for every child without blocking.
func (m *Multi) OnStateUpdate(snap domain.Snapshot) {
	m.dispatch(event{snap: snap})
}

// OnBalances queues a balance update for every child without blocking.
func (m *Multi) OnBalances(venue string, balances map[string]float64) {
	m.dispatch(event{isBalance: true, venue: venue, balances: balances})
}

func (m *Multi) dispatch(ev event) {
	if m.closed.Load() {
		return
	}
	for _, c := range m.children {
		select {
		case c.ch <- ev:
		default:
			c.drops.Add(1)
		}
	}
}

// Close drains the queues and stops the delivery goroutines. Call only
// after all producers have stopped.
func (m *Multi) Close() {
	if m.closed.Swap(true) {
		return
	}
	for _, c := range m.children {
		close(c.ch)
	}
	m.wg.Wait()

	for _, c := range m.children {
		if n := c.drops.Load(); n > 0 {
			m.logger.Warn("sink dropped updates", slog.Int64("count", n))
		}
	}
}
