package domain

// MonitorStatus is the lifecycle state of a liquidity monitor.
type MonitorStatus string

// Monitor lifecycle states.
const (
	MonitorStatusMonitoring   MonitorStatus = "monitoring"
	MonitorStatusPairDetected MonitorStatus = "pair_detected"
	MonitorStatusExpired      MonitorStatus = "expired"
	MonitorStatusDeleted      MonitorStatus = "deleted"
	MonitorStatusManual       MonitorStatus = "manual"
)

// MonitorPhase says which on-chain event the monitor is watching for.
type MonitorPhase string

// Monitor phases. A monitor starts in pair_creation and hands off to
// mint_events once the pool is found. The mint phase has no expiry.
const (
	PhasePairCreation MonitorPhase = "pair_creation"
	PhaseMintEvents   MonitorPhase = "mint_events"
)

// Monitor is a bounded-duration liquidity watch for one verified contract.
// Corresponds to the liquidity_monitors table, keyed by contract address.
//
// StartedAt is immutable once set: restarting a monitor for an already
// tracked contract must never overwrite it, and expiry is always computed
// from StartedAt plus DurationMinutes as recorded at creation time, never
// from the currently configured default.
type Monitor struct {
	ContractAddress   string // PRIMARY KEY, 0x-prefixed, lowercase
	TxHash            string // originating deployment transaction
	Deployer          string // deployer address
	StartedAt         int64  // Unix timestamp in milliseconds, immutable
	DurationMinutes   int    // window length copied from settings at creation
	ExpiresAt         int64  // StartedAt + DurationMinutes
	Status            MonitorStatus
	Phase             MonitorPhase
	PairAddress       *string // detected pool, set on pair_detected
	LiquidityDetected bool    // true once a mint event has been seen
	MintCount         int     // running funding-event counter
	LastMintAt        *int64  // last funding event timestamp (ms)
	CreatedAt         int64   // record creation timestamp (ms)
	UpdatedAt         int64   // last mutation timestamp (ms)
}

// DurationMs returns the monitor window length in milliseconds.
func (m *Monitor) DurationMs() int64 {
	return int64(m.DurationMinutes) * 60_000
}

// Active reports whether the monitor window is still open at the given
// time. The boundary is exclusive: elapsed time equal to the configured
// duration means the window has closed.
func (m *Monitor) Active(nowMs int64) bool {
	return nowMs-m.StartedAt < m.DurationMs()
}
