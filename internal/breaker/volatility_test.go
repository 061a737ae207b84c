package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type recordingAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newVolatility(t *testing.T, alerter *recordingAlerter) (*Volatility, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	v, err := NewVolatility(VolatilityConfig{
		PriceChangeBps:       500,
		VolumeChangeBps:      20_000,
		ImplausibleProfitBps: 1_000,
		Cooldown:             time.Minute,
		MaxRecoveryAttempts:  2,
		Confirmations:        2,
	}, roles(), quiet(), WithVolatilityClock(clk.now), WithAlerter(alerter))
	if err != nil {
		t.Fatal(err)
	}
	return v, clk
}

func TestVolatility_TripAndRecover(t *testing.T) {
	v, clk := newVolatility(t, &recordingAlerter{})
	asset := common.HexToAddress("0x10")

	v.Observe(asset, dec(1000), dec(50), clk.now())
	v.Observe(asset, dec(1040), dec(50), clk.now())
	if err := v.Check(asset); err != nil {
		t.Fatalf("4%% move should not trip: %v", err)
	}

	// 1040 -> 1100 is 576 bps.
	v.Observe(asset, dec(1100), dec(50), clk.now())
	if err := v.Check(asset); !errors.Is(err, domain.ErrMarketUnstable) {
		t.Fatalf("expected ErrMarketUnstable, got %v", err)
	}

	// Stable observations during the cooldown do not count.
	v.Observe(asset, dec(1100), dec(50), clk.now())
	v.Observe(asset, dec(1100), dec(50), clk.now())
	if err := v.Check(asset); !errors.Is(err, domain.ErrMarketUnstable) {
		t.Fatalf("closed before cooldown: %v", err)
	}

	clk.advance(time.Minute)
	v.Observe(asset, dec(1101), dec(50), clk.now())
	if err := v.Check(asset); err == nil {
		t.Fatal("one confirmation should not be enough")
	}
	v.Observe(asset, dec(1102), dec(50), clk.now())
	if err := v.Check(asset); err != nil {
		t.Fatalf("after cooldown and two confirmations: %v", err)
	}
}

func TestVolatility_RecoversAtNewPriceLevel(t *testing.T) {
	v, clk := newVolatility(t, &recordingAlerter{})
	asset := common.HexToAddress("0x10")

	v.Observe(asset, dec(1000), dec(50), clk.now())
	v.Observe(asset, dec(1200), dec(50), clk.now())
	if err := v.Check(asset); !errors.Is(err, domain.ErrMarketUnstable) {
		t.Fatalf("expected ErrMarketUnstable, got %v", err)
	}

	// The price holds at 1200. Each observation is stable against the one
	// before it, so the breaker closes without counting a recovery attempt.
	clk.advance(2 * time.Minute)
	v.Observe(asset, dec(1200), dec(50), clk.now())
	v.Observe(asset, dec(1210), dec(50), clk.now())
	if err := v.Check(asset); err != nil {
		t.Fatalf("breaker still open at the new level: %v", err)
	}
	if s := v.State(asset); s.RecoveryAttempts != 0 || s.Tripped {
		t.Fatalf("state = %+v", s)
	}
}

func TestVolatility_LatchesAfterMaxRecoveryAttempts(t *testing.T) {
	alerter := &recordingAlerter{}
	v, clk := newVolatility(t, alerter)
	asset := common.HexToAddress("0x20")

	v.ReportProfit(asset, dec(20), dec(100))
	if err := v.Check(asset); !errors.Is(err, domain.ErrMarketUnstable) {
		t.Fatalf("implausible profit: expected ErrMarketUnstable, got %v", err)
	}

	price := int64(1000)
	v.Observe(asset, dec(price), dec(1), clk.now())
	for i := 1; i <= 3; i++ {
		clk.advance(time.Minute)
		price *= 2
		v.Observe(asset, dec(price), dec(1), clk.now())
		if got := v.State(asset).RecoveryAttempts; got != i {
			t.Fatalf("recovery attempts = %d, want %d", got, i)
		}
	}

	err := v.Check(asset)
	if !errors.Is(err, domain.ErrMaxRecoveryAttemptsExceeded) {
		t.Fatalf("expected ErrMaxRecoveryAttemptsExceeded, got %v", err)
	}
	if !domain.IsFatal(err) {
		t.Fatal("latched breaker should be fatal")
	}
	if len(alerter.events) != 1 || alerter.events[0] != "volatility_latched" {
		t.Fatalf("alerts = %v", alerter.events)
	}

	// Stability no longer helps; only governance can clear it.
	clk.advance(time.Hour)
	v.Observe(asset, dec(price), dec(1), clk.now())
	v.Observe(asset, dec(price), dec(1), clk.now())
	if err := v.Check(asset); !errors.Is(err, domain.ErrMaxRecoveryAttemptsExceeded) {
		t.Fatalf("latched breaker closed itself: %v", err)
	}
	if err := v.Reset(context.Background(), stranger, asset); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("stranger reset: expected ErrUnauthorized, got %v", err)
	}
	if err := v.Reset(context.Background(), operator, asset); err != nil {
		t.Fatal(err)
	}
	if err := v.Check(asset); err != nil {
		t.Fatalf("after reset: %v", err)
	}
}

func TestVolatility_PlausibleProfit(t *testing.T) {
	v, _ := newVolatility(t, &recordingAlerter{})
	asset := common.HexToAddress("0x30")
	v.ReportProfit(asset, dec(10), dec(100))
	if err := v.Check(asset); err != nil {
		t.Fatalf("profit at the threshold should pass: %v", err)
	}
}
