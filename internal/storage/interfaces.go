package storage

import (
	"context"

	"deploywatch/internal/domain"
)

// Table names used by the pipeline stores and the change feed.
const (
	TableCandidates = "deployment_candidates"
	TableContracts  = "verified_contracts"
	TableMonitors   = "liquidity_monitors"
	TableEvents     = "liquidity_events"
)

// CandidateStore provides access to deployment_candidates storage.
type CandidateStore interface {
	// Upsert writes a candidate keyed by transaction hash. Re-observing
	// the same hash is idempotent: the existing row is left in place.
	Upsert(ctx context.Context, c *domain.DeploymentCandidate) error

	// GetByHash retrieves a candidate. Returns ErrNotFound if not exists.
	GetByHash(ctx context.Context, txHash string) (*domain.DeploymentCandidate, error)

	// ListNeedingVerification retrieves candidates whose status is
	// pending or empty, ordered by detection time ASC.
	ListNeedingVerification(ctx context.Context) ([]*domain.DeploymentCandidate, error)

	// ListRecent retrieves the most recently detected candidates, newest
	// first, up to limit.
	ListRecent(ctx context.Context, limit int) ([]*domain.DeploymentCandidate, error)

	// UpdateStatus transitions a candidate's lifecycle status, recording
	// the resolved contract address (may be nil) and the attempt time.
	UpdateStatus(ctx context.Context, txHash string, status domain.CandidateStatus, contractAddress *string, verifiedAt int64) error

	// CountByStatus returns candidate counts grouped by status. Rows with
	// an empty status are counted under StatusPending.
	CountByStatus(ctx context.Context) (map[domain.CandidateStatus]int, error)

	// Delete removes a candidate. Explicit operator action only.
	Delete(ctx context.Context, txHash string) error
}

// ContractStore provides access to verified_contracts storage.
type ContractStore interface {
	// Upsert writes a contract keyed by address. Last write wins: every
	// field is overwritten on conflict.
	Upsert(ctx context.Context, c *domain.VerifiedContract) error

	// GetByAddress retrieves a contract. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, address string) (*domain.VerifiedContract, error)

	// List retrieves all contracts ordered by verification time DESC.
	List(ctx context.Context) ([]*domain.VerifiedContract, error)

	// Delete removes a contract. Explicit operator action only.
	Delete(ctx context.Context, address string) error
}

// MonitorStore provides access to liquidity_monitors storage.
type MonitorStore interface {
	// Insert adds a new monitor. Returns ErrDuplicateKey if the contract
	// address is already tracked.
	Insert(ctx context.Context, m *domain.Monitor) error

	// Update overwrites an existing monitor record. Returns ErrNotFound
	// if the contract address is not tracked.
	Update(ctx context.Context, m *domain.Monitor) error

	// GetByAddress retrieves a monitor. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, contractAddress string) (*domain.Monitor, error)

	// ListByStatus retrieves monitors in the given status, ordered by
	// start time DESC.
	ListByStatus(ctx context.Context, status domain.MonitorStatus) ([]*domain.Monitor, error)

	// List retrieves all monitors ordered by start time DESC.
	List(ctx context.Context) ([]*domain.Monitor, error)

	// Delete removes a monitor. Explicit operator action only.
	Delete(ctx context.Context, contractAddress string) error
}

// LiquidityEventStore provides access to liquidity_events storage.
// Append-only: events are never mutated or deleted by the system.
type LiquidityEventStore interface {
	// Insert adds a new event.
	Insert(ctx context.Context, e *domain.LiquidityEvent) error

	// ListByContract retrieves all events for a monitored contract,
	// ordered by detection time ASC.
	ListByContract(ctx context.Context, contractAddress string) ([]*domain.LiquidityEvent, error)

	// ListRecent retrieves the most recent events, newest first, up to limit.
	ListRecent(ctx context.Context, limit int) ([]*domain.LiquidityEvent, error)
}
