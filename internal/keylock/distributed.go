package keylock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const defaultPollInterval = 25 * time.Millisecond

// Distributed is a Locker over a domain.LockManager, such as the Redis
// SETNX lock, so several engine processes can share exposure keys.
type Distributed struct {
	lm   domain.LockManager
	ttl  time.Duration
	poll time.Duration
}

// NewDistributed returns a Distributed locker. ttl bounds how long a crashed
// holder can keep a key.
func NewDistributed(lm domain.LockManager, ttl time.Duration) *Distributed {
	return &Distributed{lm: lm, ttl: ttl, poll: defaultPollInterval}
}

// Lock polls each key in sorted order until it is acquired or ctx is done.
func (d *Distributed) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	for _, k := range keys {
		u, err := d.acquire(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, u)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (d *Distributed) acquire(ctx context.Context, key string) (func(), error) {
	for {
		u, err := d.lm.Acquire(ctx, key, d.ttl)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("keylock: acquire %s: %w", key, err)
		}
		timer := time.NewTimer(d.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("keylock: acquire %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

var _ Locker = (*Distributed)(nil)
