package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"deploywatch/internal/domain"
	"deploywatch/internal/storage"
)

// LiquidityEventStore is an in-memory implementation of
// storage.LiquidityEventStore. Append-only.
type LiquidityEventStore struct {
	mu     sync.RWMutex
	data   []*domain.LiquidityEvent
	nextID int64
	feed   *Feed
}

// NewLiquidityEventStore creates a new in-memory event store.
func NewLiquidityEventStore(feed *Feed) *LiquidityEventStore {
	return &LiquidityEventStore{nextID: 1, feed: feed}
}

// Insert adds a new event.
func (s *LiquidityEventStore) Insert(_ context.Context, e *domain.LiquidityEvent) error {
	if e == nil || e.ContractAddress == "" || e.EventType == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	cp := *e
	cp.ID = s.nextID
	s.nextID++
	if cp.CreatedAt == 0 {
		cp.CreatedAt = time.Now().UnixMilli()
	}
	s.data = append(s.data, &cp)
	e.ID = cp.ID
	s.mu.Unlock()

	s.feed.publish(storage.TableEvents, storage.ChangeInsert, cp.ContractAddress, &cp, nil)
	return nil
}

// ListByContract retrieves all events for a contract, oldest first.
func (s *LiquidityEventStore) ListByContract(_ context.Context, contractAddress string) ([]*domain.LiquidityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LiquidityEvent
	for _, e := range s.data {
		if e.ContractAddress == contractAddress {
			cp := *e
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DetectedAt < result[j].DetectedAt
	})

	return result, nil
}

// ListRecent retrieves the most recent events, newest first.
func (s *LiquidityEventStore) ListRecent(_ context.Context, limit int) ([]*domain.LiquidityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.LiquidityEvent, 0, len(s.data))
	for _, e := range s.data {
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DetectedAt > result[j].DetectedAt
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ storage.LiquidityEventStore = (*LiquidityEventStore)(nil)
