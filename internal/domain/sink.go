package domain

// StateSink receives best-effort state pushes from strategies and services.
// Implementations must return quickly and never block the caller; slow
// consumers drop updates rather than stall a cycle.
type StateSink interface {
	OnStateUpdate(snap Snapshot)
	OnBalances(venue string, balances map[string]float64)
}
