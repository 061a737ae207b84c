package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// AttemptStore keeps attempt results by id.
type AttemptStore struct {
	mu   sync.RWMutex
	byID map[string]domain.ExecutionResult
}

// NewAttemptStore returns an empty AttemptStore.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{byID: make(map[string]domain.ExecutionResult)}
}

// Save stores res. Attempt ids are unique.
func (s *AttemptStore) Save(_ context.Context, res domain.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[res.AttemptID]; ok {
		return fmt.Errorf("memory: attempt %s: %w", res.AttemptID, domain.ErrAlreadyExists)
	}
	s.byID[res.AttemptID] = res
	return nil
}

// Get returns one attempt.
func (s *AttemptStore) Get(_ context.Context, id string) (domain.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.byID[id]
	if !ok {
		return domain.ExecutionResult{}, domain.ErrNotFound
	}
	return res, nil
}

// ListRecent returns attempts newest first.
func (s *AttemptStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.ExecutionResult, error) {
	out := s.all()
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return page(out, opts), nil
}

// ListBefore returns attempts started before the cutoff, oldest first.
func (s *AttemptStore) ListBefore(_ context.Context, before time.Time) ([]domain.ExecutionResult, error) {
	var out []domain.ExecutionResult
	for _, r := range s.all() {
		if r.StartedAt.Before(before) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// DeleteBefore drops attempts started before the cutoff.
func (s *AttemptStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.byID {
		if r.StartedAt.Before(before) {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

func (s *AttemptStore) all() []domain.ExecutionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ExecutionResult, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, r)
	}
	return out
}

var _ domain.AttemptStore = (*AttemptStore)(nil)
