package mev

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/auth"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

var (
	caller   = common.HexToAddress("0xCA")
	reporter = common.HexToAddress("0xEE")
	assetX   = common.HexToAddress("0x10")
	assetY   = common.HexToAddress("0x20")
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time            { return c.t }
func (c *clock) advance(dur time.Duration) { c.t = c.t.Add(dur) }

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newDefense(t *testing.T, mutate func(*Config)) (*Defense, *clock) {
	t.Helper()
	cfg := Config{
		ProtectionWindow: 3 * time.Second,
		BundleTTL:        30 * time.Second,
		FeePriceCeiling:  d(100),
		MaxSlippageBps:   50,
		Retention:        time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	// Aligned to a multiple of the protection window.
	clk := &clock{t: time.Unix(1_767_225_600, 0).UTC()}
	def, err := New(cfg, auth.NewRoleTable(), slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(clk.now))
	if err != nil {
		t.Fatal(err)
	}
	return def, clk
}

func TestDefense_AntiSandwich(t *testing.T) {
	ctx := context.Background()
	def, clk := newDefense(t, nil)

	if _, err := def.Protect(ctx, assetX, d(100), d(5), caller); err != nil {
		t.Fatalf("first protect: %v", err)
	}
	clk.advance(time.Second)
	if _, err := def.Protect(ctx, assetX, d(200), d(7), caller); !errors.Is(err, domain.ErrAntiSandwichProtection) {
		t.Fatalf("second protect in window: expected ErrAntiSandwichProtection, got %v", err)
	}
	if _, err := def.Protect(ctx, assetY, d(100), d(5), caller); err != nil {
		t.Fatalf("other asset must not be affected: %v", err)
	}

	m := def.Metrics(assetX)
	if m.TransactionCount != 2 || m.TotalProtections != 1 {
		t.Fatalf("metrics = %+v", m)
	}
	if m.AttackFrequencyBps != 5000 {
		t.Fatalf("frequency = %d bps, want 5000", m.AttackFrequencyBps)
	}

	// The next window starts at +3s.
	clk.advance(2 * time.Second)
	if _, err := def.Protect(ctx, assetX, d(100), d(5), caller); err != nil {
		t.Fatalf("protect in next window: %v", err)
	}
}

func TestDefense_FailedFinalizeFreesWindow(t *testing.T) {
	ctx := context.Background()
	def, clk := newDefense(t, nil)

	id, err := def.Protect(ctx, assetX, d(100), d(5), caller)
	if err != nil {
		t.Fatal(err)
	}
	if err := def.Activate(id); err != nil {
		t.Fatal(err)
	}
	if err := def.Finalize(id, false, decimal.Zero); err != nil {
		t.Fatal(err)
	}
	if _, err := def.Bundle(id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("failed bundle should leave no trace, got %v", err)
	}

	clk.advance(time.Second)
	if _, err := def.Protect(ctx, assetX, d(100), d(6), caller); err != nil {
		t.Fatalf("window slot not returned after failure: %v", err)
	}
}

func TestDefense_BundleLifecycle(t *testing.T) {
	ctx := context.Background()
	def, clk := newDefense(t, nil)

	id, err := def.Protect(ctx, assetX, d(100), d(5), caller)
	if err != nil {
		t.Fatal(err)
	}
	if id != BundleID(assetX, d(100), d(5), uint64(clk.now().UnixNano()/int64(3*time.Second)), caller) {
		t.Fatal("bundle id is not deterministic")
	}
	b, _ := def.Bundle(id)
	if b.State != domain.BundlePending {
		t.Fatalf("state = %s, want pending", b.State)
	}
	if err := def.Activate(id); err != nil {
		t.Fatal(err)
	}
	if err := def.Finalize(id, true, d(3)); err != nil {
		t.Fatal(err)
	}
	b, _ = def.Bundle(id)
	if b.State != domain.BundleExecuted || !b.FeePaid.Equal(d(3)) {
		t.Fatalf("bundle = %+v", b)
	}
	if err := def.Finalize(id, true, d(3)); !errors.Is(err, domain.ErrBundleTerminal) {
		t.Fatalf("double finalize: expected ErrBundleTerminal, got %v", err)
	}
}

func TestDefense_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	def, clk := newDefense(t, nil)

	id, err := def.Protect(ctx, assetX, d(100), d(5), caller)
	if err != nil {
		t.Fatal(err)
	}
	clk.advance(30 * time.Second)
	if b, _ := def.Bundle(id); b.State != domain.BundlePending {
		t.Fatalf("at window max: state = %s, want pending", b.State)
	}
	clk.advance(time.Second)
	if b, _ := def.Bundle(id); b.State != domain.BundleExpired {
		t.Fatalf("past window max: state = %s, want expired", b.State)
	}
	if err := def.Finalize(id, true, d(1)); !errors.Is(err, domain.ErrBundleExpired) {
		t.Fatalf("finalize expired: expected ErrBundleExpired, got %v", err)
	}
}

func TestDefense_DetectAttack(t *testing.T) {
	def, _ := newDefense(t, nil)

	tests := []struct {
		name     string
		fee      int64
		slippage int64
		want     domain.AttackType
	}{
		{"quiet", 100, 50, domain.AttackNone},
		{"fee above ceiling", 101, 0, domain.AttackBackrun},
		{"fee at twice ceiling", 200, 0, domain.AttackBackrun},
		{"fee above twice ceiling", 201, 0, domain.AttackFrontrun},
		{"frontrun wins over sandwich", 201, 500, domain.AttackFrontrun},
		{"slippage at twice max", 0, 100, domain.AttackNone},
		{"slippage above twice max", 0, 101, domain.AttackSandwich},
		{"sandwich wins over backrun", 150, 101, domain.AttackSandwich},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := def.DetectAttack(assetX, d(tt.fee), tt.slippage); got != tt.want {
				t.Errorf("DetectAttack = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDefense_ReportAttack(t *testing.T) {
	ctx := context.Background()
	def, _ := newDefense(t, func(c *Config) { c.UnderAttackBps = 5000 })

	for _, kind := range []domain.AttackType{domain.AttackFrontrun, domain.AttackSandwich, domain.AttackSandwich} {
		if _, err := def.ReportAttack(ctx, reporter, assetX, kind); err != nil {
			t.Fatal(err)
		}
	}
	m := def.Metrics(assetX)
	if m.FrontrunCount != 1 || m.SandwichCount != 2 || m.TotalProtections != 3 {
		t.Fatalf("metrics = %+v", m)
	}
	// No transactions yet: 3 * 10000 / max(1, 0).
	if m.AttackFrequencyBps != 30_000 {
		t.Fatalf("frequency = %d, want 30000", m.AttackFrequencyBps)
	}
	if !def.UnderAttack(assetX) {
		t.Fatal("expected asset to be under attack")
	}
	if _, err := def.Protect(ctx, assetX, d(1), d(1), caller); !errors.Is(err, domain.ErrAssetUnderAttack) {
		t.Fatalf("expected ErrAssetUnderAttack, got %v", err)
	}
	if _, err := def.ReportAttack(ctx, reporter, assetX, domain.AttackNone); err == nil {
		t.Fatal("expected none to be rejected as a report")
	}
}
