package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"deploywatch/internal/domain"
	"deploywatch/internal/storage"
)

// CandidateStore implements storage.CandidateStore using PostgreSQL.
type CandidateStore struct {
	pool *Pool
}

// NewCandidateStore creates a new CandidateStore.
func NewCandidateStore(pool *Pool) *CandidateStore {
	return &CandidateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CandidateStore = (*CandidateStore)(nil)

const candidateColumns = `
	tx_hash, from_address, input, input_bytes, gas_price, gas_limit,
	value, nonce, detected_at, status, contract_address, verified_at, created_at
`

// Upsert writes a candidate keyed by transaction hash. Re-observing the
// same hash leaves the existing row untouched.
func (s *CandidateStore) Upsert(ctx context.Context, c *domain.DeploymentCandidate) error {
	query := `
		INSERT INTO deployment_candidates (
			tx_hash, from_address, input, input_bytes, gas_price, gas_limit,
			value, nonce, detected_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tx_hash) DO NOTHING
	`

	status := c.Status
	if status == "" {
		status = domain.StatusPending
	}

	_, err := s.pool.Exec(ctx, query,
		c.TxHash,
		c.From,
		c.Input,
		c.InputBytes,
		c.GasPrice,
		c.GasLimit,
		c.Value,
		c.Nonce,
		c.DetectedAt,
		string(status),
	)
	if err != nil {
		return fmt.Errorf("upsert candidate: %w", err)
	}
	return nil
}

// GetByHash retrieves a candidate by transaction hash. Returns ErrNotFound if not exists.
func (s *CandidateStore) GetByHash(ctx context.Context, txHash string) (*domain.DeploymentCandidate, error) {
	query := `
		SELECT ` + candidateColumns + `
		FROM deployment_candidates
		WHERE tx_hash = $1
	`

	row := s.pool.QueryRow(ctx, query, txHash)
	c, err := scanCandidate(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get candidate by hash: %w", err)
	}
	return c, nil
}

// ListNeedingVerification retrieves candidates still awaiting verification,
// oldest detection first.
func (s *CandidateStore) ListNeedingVerification(ctx context.Context) ([]*domain.DeploymentCandidate, error) {
	query := `
		SELECT ` + candidateColumns + `
		FROM deployment_candidates
		WHERE status = 'pending' OR status = '' OR status IS NULL
		ORDER BY detected_at ASC, tx_hash ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list candidates needing verification: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows)
}

// ListRecent retrieves the most recently detected candidates, newest first.
// A non-positive limit returns everything.
func (s *CandidateStore) ListRecent(ctx context.Context, limit int) ([]*domain.DeploymentCandidate, error) {
	query := `
		SELECT ` + candidateColumns + `
		FROM deployment_candidates
		ORDER BY detected_at DESC, tx_hash DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent candidates: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows)
}

// UpdateStatus transitions a candidate's lifecycle status. Returns
// ErrNotFound if the hash is unknown.
func (s *CandidateStore) UpdateStatus(ctx context.Context, txHash string, status domain.CandidateStatus, contractAddress *string, verifiedAt int64) error {
	query := `
		UPDATE deployment_candidates
		SET status = $2, contract_address = $3, verified_at = $4
		WHERE tx_hash = $1
	`

	var verified *int64
	if verifiedAt > 0 {
		verified = &verifiedAt
	}

	tag, err := s.pool.Exec(ctx, query, txHash, string(status), contractAddress, verified)
	if err != nil {
		return fmt.Errorf("update candidate status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CountByStatus returns candidate counts grouped by status. Rows without a
// status are counted as pending.
func (s *CandidateStore) CountByStatus(ctx context.Context) (map[domain.CandidateStatus]int, error) {
	query := `
		SELECT COALESCE(NULLIF(status, ''), 'pending'), COUNT(*)
		FROM deployment_candidates
		GROUP BY 1
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count candidates by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.CandidateStatus]int)
	for rows.Next() {
		var statusStr string
		var n int
		if err := rows.Scan(&statusStr, &n); err != nil {
			return nil, fmt.Errorf("scan candidate count row: %w", err)
		}
		counts[domain.CandidateStatus(statusStr)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate count rows: %w", err)
	}
	return counts, nil
}

// Delete removes a candidate. Returns ErrNotFound if the hash is unknown.
func (s *CandidateStore) Delete(ctx context.Context, txHash string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM deployment_candidates WHERE tx_hash = $1`, txHash)
	if err != nil {
		return fmt.Errorf("delete candidate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanCandidate scans a single row into a DeploymentCandidate.
func scanCandidate(row pgx.Row) (*domain.DeploymentCandidate, error) {
	var c domain.DeploymentCandidate
	var statusStr string

	err := row.Scan(
		&c.TxHash,
		&c.From,
		&c.Input,
		&c.InputBytes,
		&c.GasPrice,
		&c.GasLimit,
		&c.Value,
		&c.Nonce,
		&c.DetectedAt,
		&statusStr,
		&c.ContractAddress,
		&c.VerifiedAt,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = domain.CandidateStatus(statusStr)
	return &c, nil
}

// scanCandidates scans multiple rows into a slice of DeploymentCandidate.
func scanCandidates(rows pgx.Rows) ([]*domain.DeploymentCandidate, error) {
	var candidates []*domain.DeploymentCandidate

	for rows.Next() {
		var c domain.DeploymentCandidate
		var statusStr string

		err := rows.Scan(
			&c.TxHash,
			&c.From,
			&c.Input,
			&c.InputBytes,
			&c.GasPrice,
			&c.GasLimit,
			&c.Value,
			&c.Nonce,
			&c.DetectedAt,
			&statusStr,
			&c.ContractAddress,
			&c.VerifiedAt,
			&c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candidate row: %w", err)
		}

		c.Status = domain.CandidateStatus(statusStr)
		candidates = append(candidates, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate rows: %w", err)
	}

	return candidates, nil
}
