package domain

import "math"

// Position is a perpetual position as the venue reports it. Size is signed:
// positive long, negative short. Positions are re-derived from venue truth
// every cycle and never trusted from memory.
type Position struct {
	Venue         string
	Symbol        string
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
}

// IsLong reports whether the position is long.
func (p Position) IsLong() bool { return p.Size > 0 }

// IsShort reports whether the position is short.
func (p Position) IsShort() bool { return p.Size < 0 }

// AbsSize returns the unsigned position size.
func (p Position) AbsSize() float64 { return math.Abs(p.Size) }
