package domain

import "time"

// Direction identifies which venue of a hedged pair holds the short leg.
// For the two-venue strategy the pair is fixed (primary, secondary); for the
// N-venue strategy the concrete pair lives in StrategyState.ShortVenue and
// LongVenue.
type Direction string

const (
	DirectionNone                      Direction = "none"
	DirectionShortPrimaryLongSecondary Direction = "short_primary_long_secondary"
	DirectionLongPrimaryShortSecondary Direction = "long_primary_short_secondary"
	// DirectionHedged marks an N-venue hedge whose legs are named by
	// ShortVenue and LongVenue rather than fixed roles.
	DirectionHedged Direction = "hedged"
)

// Status is the per-cycle condition a strategy reports to sinks.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusScanning    Status = "scanning"
	StatusEntering    Status = "entering"
	StatusMonitoring  Status = "monitoring"
	StatusExiting     Status = "exiting"
	StatusCooldown    Status = "cooldown"
	StatusBackoff     Status = "backoff"
	StatusSyncError   Status = "sync_error"
	StatusUnbalanced  Status = "unbalanced"
	StatusQuarantined Status = "quarantined"
)

// StrategyState is the mutable runtime state of one strategy instance.
// Exclusively owned by that instance; persisted on every mutation so
// quarantine and realized PnL survive restarts. Position size and direction
// are still re-derived from venue truth each cycle.
type StrategyState struct {
	Direction        Direction
	ShortVenue       string
	LongVenue        string
	Size             float64
	EntryTime        time.Time
	RealizedPnL      float64
	Quarantined      bool
	QuarantineReason string
	Unbalanced       bool
	LastExecution    time.Time
	UpdatedAt        time.Time
}

// Holding reports whether the strategy believes it holds a hedged pair.
func (s StrategyState) Holding() bool {
	return s.Direction != DirectionNone && s.Size > 0
}

// Snapshot is the per-cycle state push delivered to every sink. Sinks get
// one every cycle, success or failure, and must never block the cycle.
type Snapshot struct {
	Strategy    string
	Symbol      string
	Status      Status
	Direction   Direction
	ShortVenue  string
	LongVenue   string
	Size        float64
	Price       float64 // primary reference price
	SpreadAPR   float64
	VenueAPRs   map[string]float64
	RealizedPnL float64
	Note        string // quarantine reason or error summary
	At          time.Time
}
