package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// SignalBus is an in-process domain.SignalBus. Slow subscribers drop
// messages rather than block publishers.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	buffer  int
}

// NewSignalBus returns a bus whose subscriber channels hold buffer messages.
func NewSignalBus(buffer int) *SignalBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &SignalBus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
		buffer:  buffer,
	}
}

// Publish fans payload out to the channel's current subscribers.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel closed when ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, b.buffer)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// StreamAppend appends payload with a sequential id.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := strconv.Itoa(len(b.streams[stream]) + 1)
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

// StreamRead returns up to count messages after lastID. "0" or "" reads
// from the start.
func (b *SignalBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	start := 0
	if lastID != "" && lastID != "0" {
		n, err := strconv.Atoi(lastID)
		if err != nil {
			return nil, err
		}
		start = n
	}
	msgs := b.streams[stream]
	if start >= len(msgs) {
		return nil, nil
	}
	msgs = msgs[start:]
	if count > 0 && len(msgs) > count {
		msgs = msgs[:count]
	}
	return append([]domain.StreamMessage(nil), msgs...), nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
