package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

func TestAuditStore_ListAndArchiveWindow(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, domain.AuditRecord{Event: "attempt", Outcome: "succeeded", CreatedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := s.List(ctx, domain.ListOpts{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != 5 || recent[1].ID != 4 {
		t.Fatalf("recent = %+v", recent)
	}

	cutoff := base.Add(2 * time.Hour)
	old, _ := s.ListBefore(ctx, cutoff)
	if len(old) != 2 || old[0].ID != 1 {
		t.Fatalf("before cutoff = %+v", old)
	}
	n, _ := s.DeleteBefore(ctx, cutoff)
	if n != 2 {
		t.Fatalf("deleted %d, want 2", n)
	}
	all, _ := s.List(ctx, domain.ListOpts{})
	if len(all) != 3 {
		t.Fatalf("remaining = %d", len(all))
	}
}

func TestAttemptStore(t *testing.T) {
	ctx := context.Background()
	s := NewAttemptStore()
	res := domain.ExecutionResult{AttemptID: "a1", Status: domain.AttemptSucceeded, Profit: decimal.NewFromInt(5)}
	if err := s.Save(ctx, res); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, res); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate save: %v", err)
	}
	got, err := s.Get(ctx, "a1")
	if err != nil || !got.Profit.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("get = %+v, %v", got, err)
	}
	if _, err := s.Get(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}
}

func TestSignalBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewSignalBus(4)

	ch, err := b.Subscribe(ctx, domain.ChannelAttempt)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, domain.ChannelAttempt, []byte("x")); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-ch:
		if string(msg) != "x" {
			t.Fatalf("got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message")
	}

	for _, p := range []string{"a", "b", "c"} {
		_ = b.StreamAppend(ctx, domain.StreamAudit, []byte(p))
	}
	msgs, err := b.StreamRead(ctx, domain.StreamAudit, "1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || string(msgs[0].Payload) != "b" || msgs[1].ID != "3" {
		t.Fatalf("stream read = %+v", msgs)
	}
}
