package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// StrategyStateStore keeps the latest snapshot per strategy.
type StrategyStateStore struct {
	mu    sync.RWMutex
	snaps map[string]domain.StrategySnapshot
}

// NewStrategyStateStore returns an empty store.
func NewStrategyStateStore() *StrategyStateStore {
	return &StrategyStateStore{snaps: make(map[string]domain.StrategySnapshot)}
}

func (s *StrategyStateStore) Upsert(_ context.Context, snap domain.StrategySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.ID] = snap
	return nil
}

func (s *StrategyStateStore) Get(_ context.Context, id string) (domain.StrategySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[id]
	if !ok {
		return domain.StrategySnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (s *StrategyStateStore) List(_ context.Context) ([]domain.StrategySnapshot, error) {
	s.mu.RLock()
	out := make([]domain.StrategySnapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		out = append(out, snap)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ domain.StrategyStateStore = (*StrategyStateStore)(nil)
