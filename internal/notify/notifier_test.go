package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type countingSender struct {
	name  string
	sent  int
	fails bool
}

func (c *countingSender) Send(context.Context, string, string) error {
	c.sent++
	if c.fails {
		return errors.New("boom")
	}
	return nil
}

func (c *countingSender) Name() string { return c.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifier_FilterAndThrottle(t *testing.T) {
	now := time.Unix(1_000, 0)
	s := &countingSender{name: "a"}
	n := NewNotifier([]Sender{s}, []string{"repayment_shortfall"}, discard(),
		WithThrottle(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_ = n.Notify(ctx, "volatility_latched", "t", "m")
	if s.sent != 0 {
		t.Fatal("filtered event was sent")
	}
	_ = n.Notify(ctx, "repayment_shortfall", "t", "m")
	_ = n.Notify(ctx, "repayment_shortfall", "t", "m")
	if s.sent != 1 {
		t.Fatalf("sent %d, want 1 within throttle", s.sent)
	}
	now = now.Add(time.Minute)
	_ = n.Notify(ctx, "repayment_shortfall", "t", "m")
	if s.sent != 2 {
		t.Fatalf("sent %d after throttle, want 2", s.sent)
	}
}

func TestNotifier_OneFailureDoesNotStopOthers(t *testing.T) {
	bad := &countingSender{name: "bad", fails: true}
	good := &countingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), "x", "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("err = %v", err)
	}
	if good.sent != 1 {
		t.Fatal("second sender skipped")
	}
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL).Send(context.Background(), "Halted", "shortfall"); err != nil {
		t.Fatal(err)
	}
	if len(got.Embeds) != 1 || got.Embeds[0].Title != "Halted" || got.Embeds[0].Description != "shortfall" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestTelegramSender_Status(t *testing.T) {
	var path, text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		text = body["text"]
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	err := s.Send(context.Background(), "a_b", "c")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v", err)
	}
	if path != "/bottok/sendMessage" {
		t.Fatalf("path = %s", path)
	}
	if !strings.HasPrefix(text, "*a\\_b*") {
		t.Fatalf("text = %q", text)
	}
}
