package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"deploywatch/internal/domain"
	"deploywatch/internal/storage"
)

// MonitorStore implements storage.MonitorStore using PostgreSQL.
type MonitorStore struct {
	pool *Pool
}

// NewMonitorStore creates a new MonitorStore.
func NewMonitorStore(pool *Pool) *MonitorStore {
	return &MonitorStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MonitorStore = (*MonitorStore)(nil)

const monitorColumns = `
	contract_address, tx_hash, deployer, started_at, duration_minutes,
	expires_at, status, phase, pair_address, liquidity_detected,
	mint_count, last_mint_at, created_at, updated_at
`

// Insert adds a new monitor. Returns ErrDuplicateKey if the contract
// address is already tracked.
func (s *MonitorStore) Insert(ctx context.Context, m *domain.Monitor) error {
	query := `
		INSERT INTO liquidity_monitors (
			contract_address, tx_hash, deployer, started_at, duration_minutes,
			expires_at, status, phase, pair_address, liquidity_detected,
			mint_count, last_mint_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.pool.Exec(ctx, query,
		m.ContractAddress,
		m.TxHash,
		m.Deployer,
		m.StartedAt,
		m.DurationMinutes,
		m.ExpiresAt,
		string(m.Status),
		string(m.Phase),
		m.PairAddress,
		m.LiquidityDetected,
		m.MintCount,
		m.LastMintAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert monitor: %w", err)
	}
	return nil
}

// Update overwrites a monitor's mutable fields. started_at and created_at
// are never touched. Returns ErrNotFound if the address is not tracked.
func (s *MonitorStore) Update(ctx context.Context, m *domain.Monitor) error {
	query := `
		UPDATE liquidity_monitors
		SET tx_hash = $2, deployer = $3, duration_minutes = $4, expires_at = $5,
			status = $6, phase = $7, pair_address = $8, liquidity_detected = $9,
			mint_count = $10, last_mint_at = $11,
			updated_at = (EXTRACT(EPOCH FROM now()) * 1000)::bigint
		WHERE contract_address = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		m.ContractAddress,
		m.TxHash,
		m.Deployer,
		m.DurationMinutes,
		m.ExpiresAt,
		string(m.Status),
		string(m.Phase),
		m.PairAddress,
		m.LiquidityDetected,
		m.MintCount,
		m.LastMintAt,
	)
	if err != nil {
		return fmt.Errorf("update monitor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByAddress retrieves a monitor. Returns ErrNotFound if not exists.
func (s *MonitorStore) GetByAddress(ctx context.Context, contractAddress string) (*domain.Monitor, error) {
	query := `
		SELECT ` + monitorColumns + `
		FROM liquidity_monitors
		WHERE contract_address = $1
	`

	row := s.pool.QueryRow(ctx, query, contractAddress)
	m, err := scanMonitor(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get monitor by address: %w", err)
	}
	return m, nil
}

// ListByStatus retrieves monitors in the given status, newest start first.
func (s *MonitorStore) ListByStatus(ctx context.Context, status domain.MonitorStatus) ([]*domain.Monitor, error) {
	query := `
		SELECT ` + monitorColumns + `
		FROM liquidity_monitors
		WHERE status = $1
		ORDER BY started_at DESC, contract_address ASC
	`

	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list monitors by status: %w", err)
	}
	defer rows.Close()

	return scanMonitors(rows)
}

// List retrieves all monitors, newest start first.
func (s *MonitorStore) List(ctx context.Context) ([]*domain.Monitor, error) {
	query := `
		SELECT ` + monitorColumns + `
		FROM liquidity_monitors
		ORDER BY started_at DESC, contract_address ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	defer rows.Close()

	return scanMonitors(rows)
}

// Delete removes a monitor. Returns ErrNotFound if the address is unknown.
func (s *MonitorStore) Delete(ctx context.Context, contractAddress string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM liquidity_monitors WHERE contract_address = $1`, contractAddress)
	if err != nil {
		return fmt.Errorf("delete monitor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanMonitor scans a single row into a Monitor.
func scanMonitor(row pgx.Row) (*domain.Monitor, error) {
	var m domain.Monitor
	var statusStr, phaseStr string

	err := row.Scan(
		&m.ContractAddress,
		&m.TxHash,
		&m.Deployer,
		&m.StartedAt,
		&m.DurationMinutes,
		&m.ExpiresAt,
		&statusStr,
		&phaseStr,
		&m.PairAddress,
		&m.LiquidityDetected,
		&m.MintCount,
		&m.LastMintAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Status = domain.MonitorStatus(statusStr)
	m.Phase = domain.MonitorPhase(phaseStr)
	return &m, nil
}

// scanMonitors scans multiple rows into a slice of Monitor.
func scanMonitors(rows pgx.Rows) ([]*domain.Monitor, error) {
	var monitors []*domain.Monitor

	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan monitor row: %w", err)
		}
		monitors = append(monitors, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monitor rows: %w", err)
	}

	return monitors, nil
}
