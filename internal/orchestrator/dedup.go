package orchestrator

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Dedup suppresses an operation hash seen within the TTL, so a strategy
// that keeps proposing the same route does not hammer admission.
type Dedup struct {
	mu   sync.Mutex
	seen map[common.Hash]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewDedup returns a Dedup with the given TTL.
func NewDedup(ttl time.Duration, now func() time.Time) *Dedup {
	if now == nil {
		now = time.Now
	}
	return &Dedup{seen: make(map[common.Hash]time.Time), ttl: ttl, now: now}
}

// IsDuplicate records h and reports whether it was already seen within
// the TTL.
func (d *Dedup) IsDuplicate(h common.Hash) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if last, ok := d.seen[h]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[h] = now
	return false
}

// Cleanup drops expired entries.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for h, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, h)
		}
	}
}
