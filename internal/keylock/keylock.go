// Package keylock provides scoped mutual exclusion keyed by resource name
// (an asset, a strategy, or the global scope). Keys are always acquired in
// sorted order so two callers locking overlapping sets cannot deadlock.
package keylock

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Locker acquires every key or none. The returned unlock is idempotent and
// must be called on every exit path.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// normalize sorts and de-duplicates keys.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type entry struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process Locker. Entries are reference counted and dropped
// once nobody holds or waits on them.
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewLocal returns an empty Local locker.
func NewLocal() *Local {
	return &Local{entries: make(map[string]*entry)}
}

func (l *Local) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Local) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Lock blocks until every key is held or ctx is done.
func (l *Local) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	held := make([]string, 0, len(keys))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			k := held[i]
			l.mu.Lock()
			e := l.entries[k]
			l.mu.Unlock()
			<-e.sem
			l.unref(k)
		}
		held = held[:0]
	}

	for _, k := range keys {
		e := l.ref(k)
		select {
		case e.sem <- struct{}{}:
			held = append(held, k)
		case <-ctx.Done():
			l.unref(k)
			release()
			return nil, fmt.Errorf("keylock: lock %s: %w", k, ctx.Err())
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// Held reports how many keys currently have an entry. Used by tests to check
// that entries are reclaimed.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

var _ Locker = (*Local)(nil)
