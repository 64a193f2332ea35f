package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"deploywatch/internal/domain"
	"deploywatch/internal/storage"
)

// LiquidityEventStore implements storage.LiquidityEventStore using PostgreSQL.
type LiquidityEventStore struct {
	pool *Pool
}

// NewLiquidityEventStore creates a new LiquidityEventStore.
func NewLiquidityEventStore(pool *Pool) *LiquidityEventStore {
	return &LiquidityEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LiquidityEventStore = (*LiquidityEventStore)(nil)

const liquidityEventColumns = `
	id, contract_address, pair_address, event_type, token0, token1,
	sender, amount0, amount1, tx_hash, block_number, detected_at,
	raw_payload, created_at
`

// Insert appends a new event and assigns its ID.
func (s *LiquidityEventStore) Insert(ctx context.Context, e *domain.LiquidityEvent) error {
	query := `
		INSERT INTO liquidity_events (
			contract_address, pair_address, event_type, token0, token1,
			sender, amount0, amount1, tx_hash, block_number, detected_at, raw_payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	err := s.pool.QueryRow(ctx, query,
		e.ContractAddress,
		e.PairAddress,
		e.EventType,
		e.Token0,
		e.Token1,
		e.Sender,
		e.Amount0,
		e.Amount1,
		e.TxHash,
		e.BlockNumber,
		e.DetectedAt,
		e.RawPayload,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert liquidity event: %w", err)
	}
	return nil
}

// ListByContract retrieves all events for a monitored contract, oldest first.
func (s *LiquidityEventStore) ListByContract(ctx context.Context, contractAddress string) ([]*domain.LiquidityEvent, error) {
	query := `
		SELECT ` + liquidityEventColumns + `
		FROM liquidity_events
		WHERE contract_address = $1
		ORDER BY detected_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, contractAddress)
	if err != nil {
		return nil, fmt.Errorf("list liquidity events by contract: %w", err)
	}
	defer rows.Close()

	return scanLiquidityEvents(rows)
}

// ListRecent retrieves the most recent events, newest first. A non-positive
// limit returns everything.
func (s *LiquidityEventStore) ListRecent(ctx context.Context, limit int) ([]*domain.LiquidityEvent, error) {
	query := `
		SELECT ` + liquidityEventColumns + `
		FROM liquidity_events
		ORDER BY detected_at DESC, id DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent liquidity events: %w", err)
	}
	defer rows.Close()

	return scanLiquidityEvents(rows)
}

// scanLiquidityEvents scans multiple rows into a slice of LiquidityEvent.
func scanLiquidityEvents(rows pgx.Rows) ([]*domain.LiquidityEvent, error) {
	var events []*domain.LiquidityEvent

	for rows.Next() {
		e, err := scanLiquidityEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan liquidity event row: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate liquidity event rows: %w", err)
	}

	return events, nil
}

// scanLiquidityEvent scans a single row into a LiquidityEvent.
func scanLiquidityEvent(row pgx.Row) (*domain.LiquidityEvent, error) {
	var e domain.LiquidityEvent
	err := row.Scan(
		&e.ID,
		&e.ContractAddress,
		&e.PairAddress,
		&e.EventType,
		&e.Token0,
		&e.Token1,
		&e.Sender,
		&e.Amount0,
		&e.Amount1,
		&e.TxHash,
		&e.BlockNumber,
		&e.DetectedAt,
		&e.RawPayload,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
