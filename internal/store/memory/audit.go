// Package memory implements the domain stores in process. Paper mode and
// tests use it when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// AuditStore is an append-only in-memory audit log.
type AuditStore struct {
	mu   sync.RWMutex
	next int64
	recs []domain.AuditRecord
}

// NewAuditStore returns an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Append assigns the record an id and stores it.
func (s *AuditStore) Append(_ context.Context, rec domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	rec.ID = s.next
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.recs = append(s.recs, rec)
	return nil
}

// List returns records newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditRecord, error) {
	s.mu.RLock()
	var out []domain.AuditRecord
	for i := len(s.recs) - 1; i >= 0; i-- {
		r := s.recs[i]
		if opts.Since != nil && r.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && r.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts), nil
}

// ListBefore returns records created before the cutoff, oldest first.
func (s *AuditStore) ListBefore(_ context.Context, before time.Time) ([]domain.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditRecord
	for _, r := range s.recs {
		if r.CreatedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

// DeleteBefore drops records created before the cutoff.
func (s *AuditStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.recs[:0]
	var n int64
	for _, r := range s.recs {
		if r.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.recs = kept
	return n, nil
}

func page[T any](xs []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(xs) {
			return nil
		}
		xs = xs[opts.Offset:]
	}
	if opts.Limit > 0 && len(xs) > opts.Limit {
		xs = xs[:opts.Limit]
	}
	return xs
}

var _ domain.AuditStore = (*AuditStore)(nil)
