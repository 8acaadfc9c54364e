// Package bus publishes state snapshots and balance updates as JSON to
// pub/sub channels, feeding the websocket hub and any external dashboard.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Channel names shared with the websocket hub.
const (
	SnapshotChannel = "snapshots"
	BalanceChannel  = "balances"
)

const publishTimeout = 5 * time.Second

// Publisher is the send half of a pub/sub broker.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Sink publishes every update it receives. Publish failures are logged and
// dropped; the bus is a best-effort mirror of state, not the record of it.
type Sink struct {
	pub    Publisher
	logger *slog.Logger
}

var _ domain.StateSink = (*Sink)(nil)

// New creates a bus sink on top of pub.
func New(pub Publisher, logger *slog.Logger) *Sink {
	return &Sink{
		pub:    pub,
		logger: logger.With(slog.String("component", "bus")),
	}
}

// SnapshotMessage is the wire form of a strategy snapshot.
type SnapshotMessage struct {
	Strategy    string             `json:"strategy"`
	Symbol      string             `json:"symbol"`
	Status      string             `json:"status"`
	Direction   string             `json:"direction"`
	ShortVenue  string             `json:"short_venue,omitempty"`
	LongVenue   string             `json:"long_venue,omitempty"`
	Size        float64            `json:"size"`
	Price       float64            `json:"price"`
	SpreadAPR   float64            `json:"spread_apr"`
	VenueAPRs   map[string]float64 `json:"venue_aprs,omitempty"`
	RealizedPnL float64            `json:"realized_pnl"`
	Note        string             `json:"note,omitempty"`
	At          time.Time          `json:"at"`
}

// BalanceMessage is the wire form of a venue balance update.
type BalanceMessage struct {
	Venue    string             `json:"venue"`
	Balances map[string]float64 `json:"balances"`
	At       time.Time          `json:"at"`
}

// OnStateUpdate publishes the snapshot to the snapshots channel.
func (s *Sink) OnStateUpdate(snap domain.Snapshot) {
	msg := SnapshotMessage{
		Strategy:    snap.Strategy,
		Symbol:      snap.Symbol,
		Status:      string(snap.Status),
		Direction:   string(snap.Direction),
		ShortVenue:  snap.ShortVenue,
		LongVenue:   snap.LongVenue,
		Size:        snap.Size,
		Price:       snap.Price,
		SpreadAPR:   snap.SpreadAPR,
		VenueAPRs:   snap.VenueAPRs,
		RealizedPnL: snap.RealizedPnL,
		Note:        snap.Note,
		At:          snap.At,
	}
	s.publish(SnapshotChannel, msg)
}

// OnBalances publishes the balance set to the balances channel.
func (s *Sink) OnBalances(venue string, balances map[string]float64) {
	s.publish(BalanceChannel, BalanceMessage{
		Venue:    venue,
		Balances: balances,
		At:       time.Now().UTC(),
	})
}

func (s *Sink) publish(channel string, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("marshal bus message", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := s.pub.Publish(ctx, channel, payload); err != nil {
		s.logger.Warn("publish bus message",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
	}
}
