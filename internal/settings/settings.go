// Package settings holds the operator-tunable configuration for the
// monitoring pipeline. Components receive a Provider at construction and
// snapshot the values they need; long-lived records (e.g. a liquidity
// monitor) copy the relevant value into their own persisted fields at
// creation time and never re-read it.
package settings

import "time"

// Recognized ranges. Values outside a range are clamped, not rejected.
const (
	MinMonitorMinutes = 1
	MaxMonitorMinutes = 1440

	MinQueueSize = 10
	MaxQueueSize = 1000

	MinVerificationDelay = 500 * time.Millisecond
	MaxVerificationDelay = 10 * time.Second

	MinPeriodicCheckInterval = 10 * time.Second
	MaxPeriodicCheckInterval = 300 * time.Second
)

// Settings is an immutable snapshot of the admin configuration.
// Changing settings affects only newly created monitors and
// verifications; it never retroactively mutates an in-flight record.
type Settings struct {
	// ActiveMonitorTimeMinutes is the liquidity watch window for newly
	// created monitors.
	ActiveMonitorTimeMinutes int

	// AutoVerificationEnabled queues new pending candidates automatically.
	AutoVerificationEnabled bool

	// AutoMonitorEnabled starts a liquidity monitor for every newly
	// verified contract.
	AutoMonitorEnabled bool

	// MaxQueueSize bounds the auto-verification queue.
	MaxQueueSize int

	// VerificationDelay separates successive verifications.
	VerificationDelay time.Duration

	// PeriodicCheckInterval is the reconciliation sweep cadence for the
	// verification engine.
	PeriodicCheckInterval time.Duration
}

// Default returns the default settings.
func Default() Settings {
	return Settings{
		ActiveMonitorTimeMinutes: 60,
		AutoVerificationEnabled:  true,
		AutoMonitorEnabled:       true,
		MaxQueueSize:             100,
		VerificationDelay:        2 * time.Second,
		PeriodicCheckInterval:    30 * time.Second,
	}
}

// Clamp returns a copy with every value forced into its recognized range.
func (s Settings) Clamp() Settings {
	if s.ActiveMonitorTimeMinutes < MinMonitorMinutes {
		s.ActiveMonitorTimeMinutes = MinMonitorMinutes
	}
	if s.ActiveMonitorTimeMinutes > MaxMonitorMinutes {
		s.ActiveMonitorTimeMinutes = MaxMonitorMinutes
	}
	if s.MaxQueueSize < MinQueueSize {
		s.MaxQueueSize = MinQueueSize
	}
	if s.MaxQueueSize > MaxQueueSize {
		s.MaxQueueSize = MaxQueueSize
	}
	if s.VerificationDelay < MinVerificationDelay {
		s.VerificationDelay = MinVerificationDelay
	}
	if s.VerificationDelay > MaxVerificationDelay {
		s.VerificationDelay = MaxVerificationDelay
	}
	if s.PeriodicCheckInterval < MinPeriodicCheckInterval {
		s.PeriodicCheckInterval = MinPeriodicCheckInterval
	}
	if s.PeriodicCheckInterval > MaxPeriodicCheckInterval {
		s.PeriodicCheckInterval = MaxPeriodicCheckInterval
	}
	return s
}

// Provider supplies the current settings snapshot and change notification.
type Provider interface {
	// Current returns the active settings snapshot.
	Current() Settings

	// Subscribe registers a callback invoked on every update. The
	// returned cancel func deregisters it and is idempotent.
	Subscribe(fn func(Settings)) (cancel func())
}

// Static is a Provider with fixed settings and no updates.
type Static struct {
	S Settings
}

// Current returns the fixed settings, clamped.
func (p Static) Current() Settings { return p.S.Clamp() }

// Subscribe never notifies; the cancel func is a no-op.
func (p Static) Subscribe(func(Settings)) func() { return func() {} }

var _ Provider = Static{}
