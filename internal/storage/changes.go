package storage

import (
	"context"
	"encoding/json"
)

// ChangeType classifies a row-level change.
type ChangeType string

// Row change types.
const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// FeedState is the reported health of a change-feed subscription.
type FeedState string

// Feed subscription states.
const (
	FeedSubscribed FeedState = "subscribed"
	FeedError      FeedState = "error"
	FeedTimeout    FeedState = "timeout"
	FeedClosed     FeedState = "closed"
)

// ChangeEvent is one row-level change notification. New and Old carry the
// affected row as JSON when the transport could fit it; consumers must
// tolerate their absence and re-query by Key, since notification
// delivery is best-effort.
type ChangeEvent struct {
	Table string          `json:"table"`
	Type  ChangeType      `json:"type"`
	Key   string          `json:"key"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// ChangeFeed delivers row-level change notifications for the pipeline
// tables. Delivery is best-effort: the pipeline pairs the feed with
// periodic reconciliation sweeps.
type ChangeFeed interface {
	// Subscribe starts delivery of changes for the named table. The
	// channel is closed when the subscription ends. The cancel func is
	// idempotent.
	Subscribe(ctx context.Context, table string) (<-chan ChangeEvent, func(), error)

	// State reports the current feed health.
	State() FeedState

	// Close terminates every subscription.
	Close() error
}
