package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"deploywatch/internal/domain"
	"deploywatch/internal/storage"
)

// ContractStore is an in-memory implementation of storage.ContractStore.
type ContractStore struct {
	mu   sync.RWMutex
	data map[string]*domain.VerifiedContract // keyed by contract address
	feed *Feed
}

// NewContractStore creates a new in-memory contract store.
func NewContractStore(feed *Feed) *ContractStore {
	return &ContractStore{
		data: make(map[string]*domain.VerifiedContract),
		feed: feed,
	}
}

// Upsert writes a contract keyed by address, last write wins.
func (s *ContractStore) Upsert(_ context.Context, c *domain.VerifiedContract) error {
	if c == nil || c.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	prev, existed := s.data[c.Address]
	var old *domain.VerifiedContract
	if existed {
		o := *prev
		old = &o
	}

	cp := *c
	if cp.CreatedAt == 0 {
		if existed {
			cp.CreatedAt = prev.CreatedAt
		} else {
			cp.CreatedAt = time.Now().UnixMilli()
		}
	}
	s.data[c.Address] = &cp
	s.mu.Unlock()

	typ := storage.ChangeInsert
	if existed {
		typ = storage.ChangeUpdate
	}
	s.feed.publish(storage.TableContracts, typ, c.Address, &cp, old)
	return nil
}

// GetByAddress retrieves a contract. Returns ErrNotFound if not exists.
func (s *ContractStore) GetByAddress(_ context.Context, address string) (*domain.VerifiedContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[address]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *c
	return &cp, nil
}

// List retrieves all contracts ordered by verification time DESC.
func (s *ContractStore) List(_ context.Context) ([]*domain.VerifiedContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.VerifiedContract, 0, len(s.data))
	for _, c := range s.data {
		cp := *c
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].VerifiedAt > result[j].VerifiedAt
	})

	return result, nil
}

// Delete removes a contract.
func (s *ContractStore) Delete(_ context.Context, address string) error {
	s.mu.Lock()

	c, exists := s.data[address]
	if !exists {
		s.mu.Unlock()
		return storage.ErrNotFound
	}
	old := *c
	delete(s.data, address)
	s.mu.Unlock()

	s.feed.publish(storage.TableContracts, storage.ChangeDelete, address, nil, &old)
	return nil
}

var _ storage.ContractStore = (*ContractStore)(nil)
