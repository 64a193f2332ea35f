package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"deploywatch/internal/domain"
	"deploywatch/internal/storage"
)

// MonitorStore is an in-memory implementation of storage.MonitorStore.
type MonitorStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Monitor // keyed by contract address
	feed *Feed
}

// NewMonitorStore creates a new in-memory monitor store.
func NewMonitorStore(feed *Feed) *MonitorStore {
	return &MonitorStore{
		data: make(map[string]*domain.Monitor),
		feed: feed,
	}
}

// Insert adds a new monitor. Returns ErrDuplicateKey if the contract is
// already tracked.
func (s *MonitorStore) Insert(_ context.Context, m *domain.Monitor) error {
	if m == nil || m.ContractAddress == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	if _, exists := s.data[m.ContractAddress]; exists {
		s.mu.Unlock()
		return storage.ErrDuplicateKey
	}

	cp := *m
	now := time.Now().UnixMilli()
	if cp.CreatedAt == 0 {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.data[m.ContractAddress] = &cp
	s.mu.Unlock()

	s.feed.publish(storage.TableMonitors, storage.ChangeInsert, m.ContractAddress, &cp, nil)
	return nil
}

// Update overwrites an existing monitor record.
func (s *MonitorStore) Update(_ context.Context, m *domain.Monitor) error {
	if m == nil || m.ContractAddress == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	prev, exists := s.data[m.ContractAddress]
	if !exists {
		s.mu.Unlock()
		return storage.ErrNotFound
	}

	old := *prev
	cp := *m
	cp.CreatedAt = prev.CreatedAt
	cp.UpdatedAt = time.Now().UnixMilli()
	s.data[m.ContractAddress] = &cp
	s.mu.Unlock()

	s.feed.publish(storage.TableMonitors, storage.ChangeUpdate, m.ContractAddress, &cp, &old)
	return nil
}

// GetByAddress retrieves a monitor. Returns ErrNotFound if not exists.
func (s *MonitorStore) GetByAddress(_ context.Context, contractAddress string) (*domain.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.data[contractAddress]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *m
	return &cp, nil
}

// ListByStatus retrieves monitors in the given status, newest first.
func (s *MonitorStore) ListByStatus(_ context.Context, status domain.MonitorStatus) ([]*domain.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Monitor
	for _, m := range s.data {
		if m.Status == status {
			cp := *m
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt > result[j].StartedAt
	})

	return result, nil
}

// List retrieves all monitors, newest first.
func (s *MonitorStore) List(_ context.Context) ([]*domain.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Monitor, 0, len(s.data))
	for _, m := range s.data {
		cp := *m
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt > result[j].StartedAt
	})

	return result, nil
}

// Delete removes a monitor.
func (s *MonitorStore) Delete(_ context.Context, contractAddress string) error {
	s.mu.Lock()

	m, exists := s.data[contractAddress]
	if !exists {
		s.mu.Unlock()
		return storage.ErrNotFound
	}
	old := *m
	delete(s.data, contractAddress)
	s.mu.Unlock()

	s.feed.publish(storage.TableMonitors, storage.ChangeDelete, contractAddress, nil, &old)
	return nil
}

var _ storage.MonitorStore = (*MonitorStore)(nil)
