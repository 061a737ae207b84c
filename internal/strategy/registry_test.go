package strategy

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
	"github.com/alanyoungcy/flasharb/internal/store/memory"
)

var (
	strategist = common.HexToAddress("0x51")
	outsider   = common.HexToAddress("0x52")
)

type stubStrategy struct {
	name       string
	risk       int
	compatible bool
}

func (s stubStrategy) Name() string                         { return s.name }
func (s stubStrategy) RiskScore() int                       { return s.risk }
func (s stubStrategy) IsCompatible(domain.Opportunity) bool { return s.compatible }
func (s stubStrategy) SelectRoute(context.Context, domain.MarketState) (domain.Opportunity, error) {
	return domain.Opportunity{}, domain.ErrNoOpportunity
}
func (s stubStrategy) EstimateFee(context.Context, domain.Opportunity) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	roles := auth.NewRoleTable()
	roles.Seed(strategist, auth.RoleStrategist)
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(roles, logger, WithClock(clk.Now)), clk
}

func activeConfig() domain.StrategyConfig {
	return domain.StrategyConfig{
		Active:         true,
		MaxSlippageBps: 50,
		FeeBudget:      decimal.NewFromInt(100),
		CooldownPeriod: 30 * time.Second,
	}
}

func TestRegistry_Register(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	if err := r.Register(ctx, outsider, "s1", stubStrategy{name: "s1"}, activeConfig()); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("outsider register: expected ErrUnauthorized, got %v", err)
	}
	if err := r.Register(ctx, strategist, "s1", stubStrategy{name: "s1"}, activeConfig()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(ctx, strategist, "s1", stubStrategy{name: "other"}, activeConfig()); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate register: expected ErrAlreadyExists, got %v", err)
	}

	bad := activeConfig()
	bad.MaxSlippageBps = -1
	if err := r.Register(ctx, strategist, "s2", stubStrategy{name: "s2"}, bad); err == nil {
		t.Fatal("expected negative slippage to be rejected")
	}
}

func TestRegistry_Validate(t *testing.T) {
	ctx := context.Background()
	r, clk := newTestRegistry(t)

	if err := r.Register(ctx, strategist, "live", stubStrategy{name: "live"}, activeConfig()); err != nil {
		t.Fatal(err)
	}
	idle := activeConfig()
	idle.Active = false
	if err := r.Register(ctx, strategist, "idle", stubStrategy{name: "idle"}, idle); err != nil {
		t.Fatal(err)
	}

	if _, _, err := r.Validate("missing", clk.Now()); !errors.Is(err, domain.ErrStrategyNotRegistered) {
		t.Fatalf("missing: expected ErrStrategyNotRegistered, got %v", err)
	}
	if _, _, err := r.Validate("idle", clk.Now()); !errors.Is(err, domain.ErrStrategyInactive) {
		t.Fatalf("idle: expected ErrStrategyInactive, got %v", err)
	}
	if _, _, err := r.Validate("live", clk.Now()); err != nil {
		t.Fatalf("live before any execution: %v", err)
	}

	if err := r.RecordOutcome(ctx, "live", true, decimal.NewFromInt(5), decimal.NewFromInt(2)); err != nil {
		t.Fatal(err)
	}
	clk.Advance(10 * time.Second)
	if _, _, err := r.Validate("live", clk.Now()); !errors.Is(err, domain.ErrStrategyInCooldown) {
		t.Fatalf("within cooldown: expected ErrStrategyInCooldown, got %v", err)
	}
	clk.Advance(20 * time.Second)
	if _, _, err := r.Validate("live", clk.Now()); err != nil {
		t.Fatalf("cooldown elapsed: %v", err)
	}
}

func TestRegistry_FailureDoesNotStartCooldown(t *testing.T) {
	ctx := context.Background()
	r, clk := newTestRegistry(t)
	if err := r.Register(ctx, strategist, "s", stubStrategy{name: "s"}, activeConfig()); err != nil {
		t.Fatal(err)
	}
	if err := r.RecordOutcome(ctx, "s", false, decimal.Zero, decimal.NewFromInt(3)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.Validate("s", clk.Now()); err != nil {
		t.Fatalf("failed attempt should not gate the next one: %v", err)
	}
}

func TestRegistry_RecordOutcome(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	if err := r.Register(ctx, strategist, "s", stubStrategy{name: "s", risk: 3}, activeConfig()); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		success bool
		profit  int64
		fee     int64
	}{
		{true, 6, 10},
		{false, 0, 40},
		{true, 3, 15},
	}
	for _, s := range steps {
		if err := r.RecordOutcome(ctx, "s", s.success, decimal.NewFromInt(s.profit), decimal.NewFromInt(s.fee)); err != nil {
			t.Fatal(err)
		}
	}

	snap, err := r.Snapshot("s")
	if err != nil {
		t.Fatal(err)
	}
	p := snap.Performance
	if p.TotalAttempts != 3 || p.SuccessfulAttempts != 2 {
		t.Fatalf("counts = %d/%d, want 2/3", p.SuccessfulAttempts, p.TotalAttempts)
	}
	if !p.TotalProfit.Equal(decimal.NewFromInt(9)) {
		t.Errorf("total profit = %s, want 9", p.TotalProfit)
	}
	// (10*1 + 15) / 2 = 12.5, truncated.
	if !p.AvgFeeUsed.Equal(decimal.NewFromInt(12)) {
		t.Errorf("avg fee = %s, want 12", p.AvgFeeUsed)
	}
	if !snap.AvgProfit.Equal(decimal.NewFromInt(4)) {
		t.Errorf("avg profit = %s, want 4", snap.AvgProfit)
	}
	if snap.SuccessRateBps != 6666 {
		t.Errorf("success rate = %d bps, want 6666", snap.SuccessRateBps)
	}
	if snap.RiskScore != 3 {
		t.Errorf("risk score = %d, want 3", snap.RiskScore)
	}
}

func TestRegistry_CompatibleAndActive(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	off := activeConfig()
	off.Active = false
	regs := []struct {
		id  string
		s   stubStrategy
		cfg domain.StrategyConfig
	}{
		{"a", stubStrategy{name: "a", risk: 5, compatible: true}, activeConfig()},
		{"b", stubStrategy{name: "b", risk: 1, compatible: false}, activeConfig()},
		{"c", stubStrategy{name: "c", risk: 2, compatible: true}, off},
	}
	for _, reg := range regs {
		if err := r.Register(ctx, strategist, reg.id, reg.s, reg.cfg); err != nil {
			t.Fatal(err)
		}
	}

	got := r.Compatible(domain.Opportunity{})
	if len(got) != 1 || got[0].ID != "a" || got[0].RiskScore != 5 {
		t.Fatalf("compatible = %+v, want only a", got)
	}
	if ids := r.Active(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("active = %v, want [a b]", ids)
	}

	if err := r.SetActive(ctx, strategist, "c", true); err != nil {
		t.Fatal(err)
	}
	if got := r.Compatible(domain.Opportunity{}); len(got) != 2 {
		t.Fatalf("after activation compatible = %+v", got)
	}
	if err := r.Deregister(ctx, strategist, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Snapshot("a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deregistered snapshot: expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_RegisterResumesStoredCounters(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStrategyStateStore()
	roles := auth.NewRoleTable()
	roles.Seed(strategist, auth.RoleStrategist)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first := NewRegistry(roles, logger, WithStore(store))
	if err := first.Register(ctx, strategist, "s", stubStrategy{name: "s"}, activeConfig()); err != nil {
		t.Fatal(err)
	}
	if err := first.RecordOutcome(ctx, "s", true, decimal.NewFromInt(7), decimal.NewFromInt(2)); err != nil {
		t.Fatal(err)
	}

	// a fresh process registering the same id picks up where it left off
	second := NewRegistry(roles, logger, WithStore(store))
	if err := second.Register(ctx, strategist, "s", stubStrategy{name: "s"}, activeConfig()); err != nil {
		t.Fatal(err)
	}
	snap, err := second.Snapshot("s")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Performance.SuccessfulAttempts != 1 || !snap.Performance.TotalProfit.Equal(decimal.NewFromInt(7)) {
		t.Errorf("performance = %+v, want resumed counters", snap.Performance)
	}
}
