package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"deploywatch/internal/domain"
	"deploywatch/internal/storage"
)

// ContractStore implements storage.ContractStore using PostgreSQL.
type ContractStore struct {
	pool *Pool
}

// NewContractStore creates a new ContractStore.
func NewContractStore(pool *Pool) *ContractStore {
	return &ContractStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ContractStore = (*ContractStore)(nil)

const contractColumns = `
	address, tx_hash, deployer, block_number, gas_used,
	effective_gas_price, detected_at, verified_at, created_at
`

// Upsert writes a contract keyed by address. Last write wins on conflict.
func (s *ContractStore) Upsert(ctx context.Context, c *domain.VerifiedContract) error {
	query := `
		INSERT INTO verified_contracts (
			address, tx_hash, deployer, block_number, gas_used,
			effective_gas_price, detected_at, verified_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (address) DO UPDATE SET
			tx_hash = EXCLUDED.tx_hash,
			deployer = EXCLUDED.deployer,
			block_number = EXCLUDED.block_number,
			gas_used = EXCLUDED.gas_used,
			effective_gas_price = EXCLUDED.effective_gas_price,
			detected_at = EXCLUDED.detected_at,
			verified_at = EXCLUDED.verified_at
	`

	_, err := s.pool.Exec(ctx, query,
		c.Address,
		c.TxHash,
		c.Deployer,
		c.BlockNumber,
		c.GasUsed,
		c.EffectiveGasPrice,
		c.DetectedAt,
		c.VerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert contract: %w", err)
	}
	return nil
}

// GetByAddress retrieves a contract. Returns ErrNotFound if not exists.
func (s *ContractStore) GetByAddress(ctx context.Context, address string) (*domain.VerifiedContract, error) {
	query := `
		SELECT ` + contractColumns + `
		FROM verified_contracts
		WHERE address = $1
	`

	row := s.pool.QueryRow(ctx, query, address)
	c, err := scanContract(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get contract by address: %w", err)
	}
	return c, nil
}

// List retrieves all contracts, most recently verified first.
func (s *ContractStore) List(ctx context.Context) ([]*domain.VerifiedContract, error) {
	query := `
		SELECT ` + contractColumns + `
		FROM verified_contracts
		ORDER BY verified_at DESC, address ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	defer rows.Close()

	var contracts []*domain.VerifiedContract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contract row: %w", err)
		}
		contracts = append(contracts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contract rows: %w", err)
	}
	return contracts, nil
}

// Delete removes a contract. Returns ErrNotFound if the address is unknown.
func (s *ContractStore) Delete(ctx context.Context, address string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM verified_contracts WHERE address = $1`, address)
	if err != nil {
		return fmt.Errorf("delete contract: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanContract scans a single row into a VerifiedContract.
func scanContract(row pgx.Row) (*domain.VerifiedContract, error) {
	var c domain.VerifiedContract
	err := row.Scan(
		&c.Address,
		&c.TxHash,
		&c.Deployer,
		&c.BlockNumber,
		&c.GasUsed,
		&c.EffectiveGasPrice,
		&c.DetectedAt,
		&c.VerifiedAt,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
