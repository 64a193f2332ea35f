package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"deploywatch/internal/domain"
	"deploywatch/internal/storage"
)

// CandidateStore is an in-memory implementation of storage.CandidateStore.
type CandidateStore struct {
	mu   sync.RWMutex
	data map[string]*domain.DeploymentCandidate // keyed by tx hash
	feed *Feed
}

// NewCandidateStore creates a new in-memory candidate store. The feed
// may be nil when change notifications are not needed.
func NewCandidateStore(feed *Feed) *CandidateStore {
	return &CandidateStore{
		data: make(map[string]*domain.DeploymentCandidate),
		feed: feed,
	}
}

// Upsert writes a candidate keyed by transaction hash. Re-observing the
// same hash leaves the existing row in place.
func (s *CandidateStore) Upsert(_ context.Context, c *domain.DeploymentCandidate) error {
	if c == nil || c.TxHash == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	if _, exists := s.data[c.TxHash]; exists {
		s.mu.Unlock()
		return nil
	}

	cp := *c
	if cp.CreatedAt == 0 {
		cp.CreatedAt = time.Now().UnixMilli()
	}
	s.data[c.TxHash] = &cp
	s.mu.Unlock()

	s.feed.publish(storage.TableCandidates, storage.ChangeInsert, c.TxHash, &cp, nil)
	return nil
}

// GetByHash retrieves a candidate. Returns ErrNotFound if not exists.
func (s *CandidateStore) GetByHash(_ context.Context, txHash string) (*domain.DeploymentCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[txHash]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *c
	return &cp, nil
}

// ListNeedingVerification retrieves pending/empty-status candidates
// ordered by detection time ASC.
func (s *CandidateStore) ListNeedingVerification(_ context.Context) ([]*domain.DeploymentCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DeploymentCandidate
	for _, c := range s.data {
		if c.Status.NeedsVerification() {
			cp := *c
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DetectedAt < result[j].DetectedAt
	})

	return result, nil
}

// ListRecent retrieves the most recently detected candidates, newest first.
func (s *CandidateStore) ListRecent(_ context.Context, limit int) ([]*domain.DeploymentCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.DeploymentCandidate, 0, len(s.data))
	for _, c := range s.data {
		cp := *c
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

// UpdateStatus transitions a candidate's lifecycle status.
func (s *CandidateStore) UpdateStatus(_ context.Context, txHash string, status domain.CandidateStatus, contractAddress *string, verifiedAt int64) error {
	s.mu.Lock()

	c, exists := s.data[txHash]
	if !exists {
		s.mu.Unlock()
		return storage.ErrNotFound
	}

	old := *c
	c.Status = status
	c.ContractAddress = contractAddress
	c.VerifiedAt = &verifiedAt
	cp := *c
	s.mu.Unlock()

	s.feed.publish(storage.TableCandidates, storage.ChangeUpdate, txHash, &cp, &old)
	return nil
}

// CountByStatus returns candidate counts grouped by status.
func (s *CandidateStore) CountByStatus(_ context.Context) (map[domain.CandidateStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.CandidateStatus]int)
	for _, c := range s.data {
		status := c.Status
		if status == "" {
			status = domain.StatusPending
		}
		counts[status]++
	}
	return counts, nil
}

// Delete removes a candidate.
func (s *CandidateStore) Delete(_ context.Context, txHash string) error {
	s.mu.Lock()

	c, exists := s.data[txHash]
	if !exists {
		s.mu.Unlock()
		return storage.ErrNotFound
	}
	old := *c
	delete(s.data, txHash)
	s.mu.Unlock()

	s.feed.publish(storage.TableCandidates, storage.ChangeDelete, txHash, nil, &old)
	return nil
}

var _ storage.CandidateStore = (*CandidateStore)(nil)
