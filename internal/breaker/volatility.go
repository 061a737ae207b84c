package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/metrics"
)

// VolatilityConfig tunes the market breaker.
type VolatilityConfig struct {
	PriceChangeBps       int64
	VolumeChangeBps      int64
	ImplausibleProfitBps int64
	Cooldown             time.Duration
	MaxRecoveryAttempts  int
	// Confirmations is how many consecutive stable feed observations after
	// the cooldown close a tripped breaker.
	Confirmations int
}

// Validate reports unusable settings.
func (c VolatilityConfig) Validate() error {
	var errs []error
	if c.PriceChangeBps <= 0 {
		errs = append(errs, errors.New("price_change_bps must be positive"))
	}
	if c.VolumeChangeBps <= 0 {
		errs = append(errs, errors.New("volume_change_bps must be positive"))
	}
	if c.ImplausibleProfitBps <= 0 {
		errs = append(errs, errors.New("implausible_profit_bps must be positive"))
	}
	if c.Cooldown <= 0 {
		errs = append(errs, errors.New("cooldown must be positive"))
	}
	if c.MaxRecoveryAttempts <= 0 {
		errs = append(errs, errors.New("max_recovery_attempts must be positive"))
	}
	if c.Confirmations <= 0 {
		errs = append(errs, errors.New("confirmations must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("breaker: invalid volatility config: %w", errors.Join(errs...))
	}
	return nil
}

type marketState struct {
	mu   sync.Mutex
	seen bool
	// Changes are measured against the previous observation, tripping ones
	// included, so a market that settles at a new level can recover.
	lastPrice  decimal.Decimal
	lastVolume decimal.Decimal
	state      domain.VolatilityState
}

// Volatility is the per-asset market breaker. A trip is driven by feed
// observations or by an implausibly large reported profit. Closing needs
// the cooldown to pass and then fresh stable observations; the detector
// that tripped is never re-run on the data that tripped it.
type Volatility struct {
	cfg VolatilityConfig

	mu      sync.Mutex
	markets map[common.Address]*marketState

	authz   domain.Authorizer
	alerter domain.Alerter
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

// VolatilityOption configures a Volatility breaker.
type VolatilityOption func(*Volatility)

// WithVolatilityClock overrides the time source.
func WithVolatilityClock(now func() time.Time) VolatilityOption {
	return func(v *Volatility) { v.now = now }
}

// WithVolatilityMetrics counts trips.
func WithVolatilityMetrics(m *metrics.Metrics) VolatilityOption {
	return func(v *Volatility) { v.metrics = m }
}

// WithAlerter notifies operators when a breaker latches.
func WithAlerter(a domain.Alerter) VolatilityOption {
	return func(v *Volatility) { v.alerter = a }
}

// NewVolatility returns a market breaker.
func NewVolatility(cfg VolatilityConfig, authz domain.Authorizer, logger *slog.Logger, opts ...VolatilityOption) (*Volatility, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := &Volatility{
		cfg:     cfg,
		markets: make(map[common.Address]*marketState),
		authz:   authz,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "volatility")),
	}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Observe feeds one price and volume observation for asset.
func (v *Volatility) Observe(asset common.Address, price, volume decimal.Decimal, _ time.Time) {
	m := v.market(asset)
	m.mu.Lock()
	unstable, reason := false, ""
	if m.seen {
		if bps := domain.ChangeBps(m.lastPrice, price); bps > v.cfg.PriceChangeBps {
			unstable, reason = true, fmt.Sprintf("price moved %d bps", bps)
		} else if bps := domain.ChangeBps(m.lastVolume, volume); bps > v.cfg.VolumeChangeBps {
			unstable, reason = true, fmt.Sprintf("volume moved %d bps", bps)
		}
	}
	m.seen = true
	m.lastPrice = price
	m.lastVolume = volume
	latched := v.signalLocked(asset, m, unstable, reason, true)
	m.mu.Unlock()

	if latched {
		v.alertLatched(asset, reason)
	}
}

// ReportProfit trips the breaker when profit is an implausible share of
// amount.
func (v *Volatility) ReportProfit(asset common.Address, profit, amount decimal.Decimal) {
	bps := domain.RatioBps(profit, amount)
	if bps <= v.cfg.ImplausibleProfitBps {
		return
	}
	reason := fmt.Sprintf("implausible profit %d bps", bps)
	m := v.market(asset)
	m.mu.Lock()
	latched := v.signalLocked(asset, m, true, reason, false)
	m.mu.Unlock()

	if latched {
		v.alertLatched(asset, reason)
	}
}

// signalLocked advances the breaker for one signal. Only feed
// observations count as confirmations. It reports whether this signal
// latched the breaker.
func (v *Volatility) signalLocked(asset common.Address, m *marketState, unstable bool, reason string, confirming bool) bool {
	now := v.now()
	s := &m.state
	if s.Latched {
		return false
	}

	if !s.Tripped {
		if unstable {
			s.Tripped = true
			s.Reason = reason
			s.TrippedAt = now
			s.StableCount = 0
			v.metrics.VolatilityTripped(asset.Hex(), reason)
			v.logger.Warn("volatility breaker tripped",
				slog.String("asset", asset.Hex()),
				slog.String("reason", reason),
			)
		}
		return false
	}

	if now.Before(s.TrippedAt.Add(v.cfg.Cooldown)) {
		if unstable {
			s.StableCount = 0
		}
		return false
	}

	if unstable {
		s.RecoveryAttempts++
		s.StableCount = 0
		s.TrippedAt = now
		s.Reason = reason
		if s.RecoveryAttempts > v.cfg.MaxRecoveryAttempts {
			s.Latched = true
			v.logger.Error("volatility breaker latched",
				slog.String("asset", asset.Hex()),
				slog.Int("recovery_attempts", s.RecoveryAttempts),
			)
			return true
		}
		v.logger.Warn("volatility recovery failed",
			slog.String("asset", asset.Hex()),
			slog.Int("recovery_attempts", s.RecoveryAttempts),
			slog.String("reason", reason),
		)
		return false
	}

	if !confirming {
		return false
	}
	s.StableCount++
	if s.StableCount >= v.cfg.Confirmations {
		v.logger.Info("volatility breaker closed",
			slog.String("asset", asset.Hex()),
			slog.Int("recovery_attempts", s.RecoveryAttempts),
		)
		m.state = domain.VolatilityState{}
	}
	return false
}

func (v *Volatility) alertLatched(asset common.Address, reason string) {
	if v.alerter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg := fmt.Sprintf("asset %s exceeded %d recovery attempts (%s); manual reset required",
		asset.Hex(), v.cfg.MaxRecoveryAttempts, reason)
	if err := v.alerter.Notify(ctx, "volatility_latched", "Volatility breaker latched", msg); err != nil {
		v.logger.Error("latch alert failed", slog.String("error", err.Error()))
	}
}

// Check rejects attempts on an asset whose market breaker is tripped.
func (v *Volatility) Check(asset common.Address) error {
	m := v.market(asset)
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.state.Latched:
		return rejected(fmt.Errorf("asset %s: %w", asset.Hex(), domain.ErrMaxRecoveryAttemptsExceeded))
	case m.state.Tripped:
		return rejected(fmt.Errorf("asset %s (%s): %w", asset.Hex(), m.state.Reason, domain.ErrMarketUnstable))
	}
	return nil
}

// State returns the breaker view of asset.
func (v *Volatility) State(asset common.Address) domain.VolatilityState {
	m := v.market(asset)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reset clears a tripped or latched breaker. The last observation is kept
// as the baseline for the next one.
func (v *Volatility) Reset(ctx context.Context, caller common.Address, asset common.Address) error {
	if err := v.authz.Authorize(caller, domain.CapBreakerManage); err != nil {
		return err
	}
	m := v.market(asset)
	m.mu.Lock()
	prev := m.state
	m.state = domain.VolatilityState{}
	m.mu.Unlock()

	v.logger.InfoContext(ctx, "volatility breaker reset",
		slog.String("caller", caller.Hex()),
		slog.String("asset", asset.Hex()),
		slog.Bool("was_latched", prev.Latched),
	)
	return nil
}

func (v *Volatility) market(a common.Address) *marketState {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, ok := v.markets[a]
	if !ok {
		m = &marketState{}
		v.markets[a] = m
	}
	return m
}
