package clickhouse

import (
	"context"
	"fmt"

	"deploywatch/internal/domain"
	"deploywatch/internal/storage"
)

// ArchiveStore implements storage.EventArchive using ClickHouse.
type ArchiveStore struct {
	conn *Conn
}

// NewArchiveStore creates a new ArchiveStore.
func NewArchiveStore(conn *Conn) *ArchiveStore {
	return &ArchiveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventArchive = (*ArchiveStore)(nil)

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// ArchiveLiquidityEvents appends a batch of events.
func (s *ArchiveStore) ArchiveLiquidityEvents(ctx context.Context, events []*domain.LiquidityEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO archived_liquidity_events (
			contract_address, pair_address, event_type, token0, token1,
			sender, amount0, amount1, tx_hash, block_number, detected_at, raw_payload
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.ContractAddress, e.PairAddress, e.EventType,
			str(e.Token0), str(e.Token1),
			str(e.Sender), str(e.Amount0), str(e.Amount1),
			e.TxHash, uint64(e.BlockNumber), uint64(e.DetectedAt), e.RawPayload,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// ArchiveTraffic appends a batch of captured RPC frames.
func (s *ArchiveStore) ArchiveTraffic(ctx context.Context, records []storage.TrafficRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO rpc_traffic (direction, method, payload, captured_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		if err := batch.Append(r.Direction, r.Method, r.Payload, uint64(r.CapturedAt)); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// CountEventsByType returns archived event counts grouped by type.
func (s *ArchiveStore) CountEventsByType(ctx context.Context) (map[string]uint64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT event_type, count(*)
		FROM archived_liquidity_events
		GROUP BY event_type
	`)
	if err != nil {
		return nil, fmt.Errorf("count events by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var eventType string
		var n uint64
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[eventType] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate count rows: %w", err)
	}
	return counts, nil
}
