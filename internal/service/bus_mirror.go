package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/sink/bus"
)

// Subscriber is the receive half of the pub/sub broker.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BusMirror subscribes to the snapshot and balance channels published by a
// running engine instance and replays them into local sinks. Monitor mode is
// built on it: a second process renders the dashboard without touching
// venues or placing orders.
type BusMirror struct {
	bus    Subscriber
	sink   domain.StateSink
	logger *slog.Logger
}

// NewBusMirror creates a BusMirror feeding sink.
func NewBusMirror(b Subscriber, sink domain.StateSink, logger *slog.Logger) *BusMirror {
	return &BusMirror{
		bus:    b,
		sink:   sink,
		logger: logger.With(slog.String("component", "bus_mirror")),
	}
}

// Run consumes both channels until the context is cancelled. Call in a
// goroutine.
func (m *BusMirror) Run(ctx context.Context) error {
	snaps, err := m.bus.Subscribe(ctx, bus.SnapshotChannel)
	if err != nil {
		return fmt.Errorf("service: subscribe %s: %w", bus.SnapshotChannel, err)
	}
	balances, err := m.bus.Subscribe(ctx, bus.BalanceChannel)
	if err != nil {
		return fmt.Errorf("service: subscribe %s: %w", bus.BalanceChannel, err)
	}

	m.logger.Info("bus mirror started")
	defer m.logger.Info("bus mirror stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-snaps:
			if !ok {
				return nil
			}
			m.handleSnapshot(data)
		case data, ok := <-balances:
			if !ok {
				return nil
			}
			m.handleBalances(data)
		}
	}
}

func (m *BusMirror) handleSnapshot(data []byte) {
	var msg bus.SnapshotMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Debug("bad snapshot payload", slog.String("error", err.Error()))
		return
	}

	m.sink.OnStateUpdate(domain.Snapshot{
		Strategy:    msg.Strategy,
		Symbol:      msg.Symbol,
		Status:      domain.Status(msg.Status),
		Direction:   domain.Direction(msg.Direction),
		ShortVenue:  msg.ShortVenue,
		LongVenue:   msg.LongVenue,
		Size:        msg.Size,
		Price:       msg.Price,
		SpreadAPR:   msg.SpreadAPR,
		VenueAPRs:   msg.VenueAPRs,
		RealizedPnL: msg.RealizedPnL,
		Note:        msg.Note,
		At:          msg.At,
	})
}

func (m *BusMirror) handleBalances(data []byte) {
	var msg bus.BalanceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Debug("bad balance payload", slog.String("error", err.Error()))
		return
	}
	m.sink.OnBalances(msg.Venue, msg.Balances)
}
