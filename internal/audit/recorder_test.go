package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/store/memory"
)

type failingStore struct{ domain.AuditStore }

func (failingStore) Append(context.Context, domain.AuditRecord) error {
	return errors.New("disk full")
}

func TestRecorder_FansOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewAuditStore()
	bus := memory.NewSignalBus(8)
	sub, _ := bus.Subscribe(ctx, domain.ChannelAttempt)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRecorder(store, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithBus(bus), WithClock(func() time.Time { return at }))

	if err := r.Record(ctx, domain.AuditRecord{Event: "attempt", AttemptID: "a1", Outcome: "succeeded"}); err != nil {
		t.Fatal(err)
	}

	recs, _ := store.List(ctx, domain.ListOpts{})
	if len(recs) != 1 || !recs[0].CreatedAt.Equal(at) {
		t.Fatalf("stored = %+v", recs)
	}

	select {
	case msg := <-sub:
		var got domain.AuditRecord
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatal(err)
		}
		if got.AttemptID != "a1" {
			t.Fatalf("published = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("nothing published")
	}

	stream, _ := bus.StreamRead(ctx, domain.StreamAudit, "0", 10)
	if len(stream) != 1 {
		t.Fatalf("stream = %d entries", len(stream))
	}
}

func TestRecorder_StoreFailureNotPublished(t *testing.T) {
	ctx := context.Background()
	bus := memory.NewSignalBus(8)
	r := NewRecorder(failingStore{}, slog.New(slog.NewTextHandler(io.Discard, nil)), WithBus(bus))

	if err := r.Record(ctx, domain.AuditRecord{Event: "risk.params"}); err == nil {
		t.Fatal("expected store error")
	}
	if stream, _ := bus.StreamRead(ctx, domain.StreamAudit, "0", 10); len(stream) != 0 {
		t.Fatalf("unstored record reached the stream: %d", len(stream))
	}
}

func TestChannelFor(t *testing.T) {
	tests := map[string]string{
		"attempt":         domain.ChannelAttempt,
		"attack.reported": domain.ChannelAttack,
		"risk.params":     domain.ChannelAdmin,
	}
	for event, want := range tests {
		if got := ChannelFor(event); got != want {
			t.Errorf("ChannelFor(%q) = %q, want %q", event, got, want)
		}
	}
}
