package storage

import (
	"context"

	"deploywatch/internal/domain"
)

// TrafficRecord is one captured JSON-RPC frame bound for the archive.
type TrafficRecord struct {
	Direction  string // "in" or "out"
	Method     string // JSON-RPC method of the exchange
	Payload    string // raw frame body
	CapturedAt int64  // Unix timestamp in milliseconds
}

// EventArchive is the optional analytics sink. It receives batched copies
// of liquidity events and captured RPC traffic for retrospective queries;
// the relational stores remain the source of truth.
type EventArchive interface {
	// ArchiveLiquidityEvents appends a batch of events.
	ArchiveLiquidityEvents(ctx context.Context, events []*domain.LiquidityEvent) error

	// ArchiveTraffic appends a batch of captured RPC frames.
	ArchiveTraffic(ctx context.Context, records []TrafficRecord) error

	// CountEventsByType returns archived event counts grouped by type.
	CountEventsByType(ctx context.Context) (map[string]uint64, error)
}
