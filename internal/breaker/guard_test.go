package breaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/auth"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

var (
	operator  = common.HexToAddress("0x0e")
	emergency = common.HexToAddress("0xee")
	stranger  = common.HexToAddress("0x99")
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time            { return c.t }
func (c *clock) advance(dur time.Duration) { c.t = c.t.Add(dur) }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func roles() *auth.RoleTable {
	r := auth.NewRoleTable()
	r.Seed(operator, auth.RoleOperator)
	r.Seed(emergency, auth.RoleEmergency)
	return r
}

func newGuard(t *testing.T, th domain.BreakerThresholds) (*Guard, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	g, err := NewGuard(th, roles(), quiet(), WithClock(clk.now))
	if err != nil {
		t.Fatal(err)
	}
	return g, clk
}

func TestGuard_RateWindow(t *testing.T) {
	g, clk := newGuard(t, domain.BreakerThresholds{
		MaxRequests:      10,
		Window:           60 * time.Second,
		FailureThreshold: 5,
		RecoveryTime:     300 * time.Second,
	})

	for i := 0; i < 10; i++ {
		tk, err := g.Admit(GlobalKey)
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		tk.Success()
		clk.advance(time.Second)
	}
	if _, err := g.Admit(GlobalKey); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("11th request: expected ErrRateLimited, got %v", err)
	}
	if !errors.Is(func() error { _, err := g.Admit(GlobalKey); return err }(), domain.ErrAdmissionRejected) {
		t.Fatal("rate rejection should also be an admission rejection")
	}

	// Window started at +0s; we are at +10s.
	clk.advance(51 * time.Second)
	tk, err := g.Admit(GlobalKey)
	if err != nil {
		t.Fatalf("request at window start + 61s: %v", err)
	}
	tk.Success()

	st := g.State(GlobalKey)
	if st.Rate.CurrentCount != 1 || !st.Rate.WindowStart.Equal(clk.now()) {
		t.Fatalf("window not reset: %+v", st.Rate)
	}
}

func TestGuard_CancelReturnsRateSlot(t *testing.T) {
	g, clk := newGuard(t, domain.BreakerThresholds{
		MaxRequests:      2,
		Window:           time.Minute,
		FailureThreshold: 5,
		RecoveryTime:     time.Minute,
	})
	key := StrategyKey("spread")

	first, err := g.Admit(GlobalKey, key)
	if err != nil {
		t.Fatal(err)
	}
	first.Success()
	second, err := g.Admit(GlobalKey, key)
	if err != nil {
		t.Fatal(err)
	}
	second.Cancel()
	second.Cancel()
	for _, k := range []string{GlobalKey, key} {
		if got := g.State(k).Rate.CurrentCount; got != 1 {
			t.Fatalf("%s count after cancel = %d, want 1", k, got)
		}
	}
	if _, err := g.Admit(GlobalKey, key); err != nil {
		t.Fatalf("cancelled slot not returned: %v", err)
	}

	// A ticket from an expired window leaves the new window alone.
	clk.advance(time.Minute)
	stale, err := g.Admit(GlobalKey)
	if err != nil {
		t.Fatal(err)
	}
	clk.advance(time.Minute)
	fresh, err := g.Admit(GlobalKey)
	if err != nil {
		t.Fatal(err)
	}
	fresh.Success()
	stale.Cancel()
	if got := g.State(GlobalKey).Rate.CurrentCount; got != 1 {
		t.Fatalf("stale cancel touched the new window: count = %d", got)
	}
}

func TestGuard_BreakerTransition(t *testing.T) {
	g, clk := newGuard(t, domain.BreakerThresholds{
		MaxRequests:      1000,
		Window:           time.Hour,
		FailureThreshold: 5,
		RecoveryTime:     300 * time.Second,
	})
	key := StrategyKey("spread")

	for i := 0; i < 5; i++ {
		tk, err := g.Admit(key)
		if err != nil {
			t.Fatalf("admission %d: %v", i+1, err)
		}
		tk.Failure()
	}
	st := g.State(key)
	if !st.Breaker.Open || st.Breaker.FailureCount != 5 {
		t.Fatalf("breaker after 5 failures: %+v", st.Breaker)
	}

	clk.advance(299 * time.Second)
	if _, err := g.Admit(key); !errors.Is(err, domain.ErrCircuitBreakerOpen) {
		t.Fatalf("before recovery: expected ErrCircuitBreakerOpen, got %v", err)
	}

	clk.advance(time.Second)
	probe, err := g.Admit(key)
	if err != nil {
		t.Fatalf("probe at +300s: %v", err)
	}
	if !probe.Probe() {
		t.Fatal("admission after recovery should be a probe")
	}
	if _, err := g.Admit(key); !errors.Is(err, domain.ErrCircuitBreakerOpen) {
		t.Fatalf("second probe: expected ErrCircuitBreakerOpen, got %v", err)
	}

	probe.Success()
	st = g.State(key)
	if st.Breaker.Open || st.Breaker.FailureCount != 0 || st.Probing {
		t.Fatalf("breaker after successful probe: %+v", st)
	}
}

func TestGuard_FailedProbeRearms(t *testing.T) {
	g, clk := newGuard(t, domain.BreakerThresholds{
		MaxRequests: 1000, Window: time.Hour, FailureThreshold: 1, RecoveryTime: time.Minute,
	})
	key := AssetKey(common.HexToAddress("0x10"))

	tk, _ := g.Admit(key)
	tk.Failure()
	clk.advance(time.Minute)

	probe, err := g.Admit(key)
	if err != nil {
		t.Fatal(err)
	}
	probe.Failure()
	if _, err := g.Admit(key); !errors.Is(err, domain.ErrCircuitBreakerOpen) {
		t.Fatalf("after failed probe: expected ErrCircuitBreakerOpen, got %v", err)
	}
	if got := g.State(key).Breaker.LastFailureTime; !got.Equal(clk.now()) {
		t.Fatalf("last failure not moved to probe time: %s", got)
	}

	clk.advance(time.Minute)
	probe, err = g.Admit(key)
	if err != nil {
		t.Fatal(err)
	}
	probe.Cancel()
	if _, err := g.Admit(key); err != nil {
		t.Fatalf("cancelled probe should free the slot: %v", err)
	}
}

func TestGuard_AllOrNothing(t *testing.T) {
	g, _ := newGuard(t, domain.BreakerThresholds{
		MaxRequests: 5, Window: time.Hour, FailureThreshold: 5, RecoveryTime: time.Minute,
	})
	ctx := context.Background()
	if err := g.SetThresholds(ctx, operator, ScopeAsset, domain.BreakerThresholds{
		MaxRequests: 1, Window: time.Hour, FailureThreshold: 5, RecoveryTime: time.Minute,
	}); err != nil {
		t.Fatal(err)
	}
	asset := AssetKey(common.HexToAddress("0x10"))

	tk, err := g.Admit(GlobalKey, asset)
	if err != nil {
		t.Fatal(err)
	}
	tk.Success()
	if _, err := g.Admit(GlobalKey, asset); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected asset window to reject, got %v", err)
	}
	if got := g.State(GlobalKey).Rate.CurrentCount; got != 1 {
		t.Fatalf("rejected admission moved the global counter to %d", got)
	}
}

func TestGuard_Thresholds(t *testing.T) {
	def := domain.BreakerThresholds{MaxRequests: 10, Window: time.Minute, FailureThreshold: 5, RecoveryTime: time.Minute}
	scoped := domain.BreakerThresholds{MaxRequests: 3, Window: time.Minute, FailureThreshold: 2, RecoveryTime: time.Minute}
	exact := domain.BreakerThresholds{MaxRequests: 1, Window: time.Minute, FailureThreshold: 1, RecoveryTime: time.Minute}
	g, err := NewGuard(def, roles(), quiet(), WithScope(ScopeStrategy, scoped), WithScope(StrategyKey("hot"), exact))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key  string
		want int
	}{
		{GlobalKey, 10},
		{StrategyKey("any"), 3},
		{StrategyKey("hot"), 1},
		{AssetKey(common.HexToAddress("0x01")), 10},
	}
	for _, tt := range tests {
		if got := g.Thresholds(tt.key).MaxRequests; got != tt.want {
			t.Errorf("Thresholds(%s).MaxRequests = %d, want %d", tt.key, got, tt.want)
		}
	}

	if err := g.SetThresholds(context.Background(), stranger, ScopeGlobal, def); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("stranger: expected ErrUnauthorized, got %v", err)
	}
}

func TestGuard_EmergencyStopAndPause(t *testing.T) {
	ctx := context.Background()
	g, _ := newGuard(t, domain.BreakerThresholds{MaxRequests: 10, Window: time.Minute, FailureThreshold: 5, RecoveryTime: time.Minute})

	if err := g.SetEmergencyStop(ctx, operator, true, "drill"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("operator cannot stop: got %v", err)
	}
	if err := g.SetEmergencyStop(ctx, emergency, true, "drill"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Admit(GlobalKey); !errors.Is(err, domain.ErrEmergencyStop) {
		t.Fatalf("expected ErrEmergencyStop, got %v", err)
	}
	if s := g.Status(); !s.EmergencyStop || s.StopReason != "drill" {
		t.Fatalf("status = %+v", s)
	}
	if err := g.SetEmergencyStop(ctx, emergency, false, ""); err != nil {
		t.Fatal(err)
	}

	if err := g.Pause(ctx, operator); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Admit(GlobalKey); !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if err := g.Unpause(ctx, operator); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Admit(GlobalKey); err != nil {
		t.Fatalf("after unpause: %v", err)
	}

	g.Halt("repayment shortfall")
	if _, err := g.Admit(GlobalKey); !errors.Is(err, domain.ErrEmergencyStop) {
		t.Fatalf("after halt: expected ErrEmergencyStop, got %v", err)
	}
}
