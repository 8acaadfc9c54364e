package notify

// Event types emitted by the trading engine. The [notify] config section
// filters on these names; an empty filter forwards everything.
const (
	// EventEntry fires when a hedged pair is opened on both venues.
	EventEntry = "entry"
	// EventExit fires when a pair is closed and PnL realized.
	EventExit = "exit"
	// EventQuarantine fires when a strategy stops trading pending manual review.
	EventQuarantine = "quarantine"
	// EventUnbalanced fires when reconciliation finds legs that do not hedge.
	EventUnbalanced = "unbalanced"
	// EventRevertFailed fires when a partial entry could not be unwound.
	EventRevertFailed = "revert_failed"
	// EventSanityHalt fires when a reference price falls outside its band.
	EventSanityHalt = "sanity_halt"
)
