// Package mev tracks protective bundles around attempts and keeps per-asset
// attack statistics. Every time-based transition is evaluated lazily from
// stored timestamps on read.
package mev

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/metrics"
)

// Config tunes protection and detection.
type Config struct {
	// ProtectionWindow is both the anti-sandwich lookback and the bucket
	// width mixed into bundle ids.
	ProtectionWindow time.Duration
	// BundleTTL bounds how long a bundle may stay unfinalized.
	BundleTTL       time.Duration
	FeePriceCeiling decimal.Decimal
	MaxSlippageBps  int64
	// UnderAttackBps refuses protection for an asset whose attack frequency
	// is above it. Zero disables the check.
	UnderAttackBps int64
	// Retention is how long terminal bundles stay readable.
	Retention time.Duration
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.ProtectionWindow <= 0 {
		errs = append(errs, errors.New("protection_window must be positive"))
	}
	if c.BundleTTL <= 0 {
		errs = append(errs, errors.New("bundle_ttl must be positive"))
	}
	if !c.FeePriceCeiling.IsPositive() {
		errs = append(errs, errors.New("fee_price_ceiling must be positive"))
	}
	if c.MaxSlippageBps <= 0 || c.MaxSlippageBps > domain.BpsDenominator {
		errs = append(errs, fmt.Errorf("max_slippage_bps %d out of range", c.MaxSlippageBps))
	}
	if c.UnderAttackBps < 0 || c.UnderAttackBps > domain.BpsDenominator {
		errs = append(errs, fmt.Errorf("under_attack_bps %d out of range", c.UnderAttackBps))
	}
	if len(errs) > 0 {
		return fmt.Errorf("mev: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

type assetState struct {
	mu      sync.Mutex
	window  int64
	calls   int
	metrics domain.AttackMetrics
}

// Defense is the bundle manager and attack tracker.
type Defense struct {
	cfgMu sync.RWMutex
	cfg   Config

	mu      sync.Mutex
	bundles map[common.Hash]*domain.Bundle

	assetsMu sync.Mutex
	assets   map[common.Address]*assetState

	authz   domain.Authorizer
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Defense.
type Option func(*Defense)

// WithMetrics counts bundle transitions and attacks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Defense) { d.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Defense) { d.now = now }
}

// New returns a Defense.
func New(cfg Config, authz domain.Authorizer, logger *slog.Logger, opts ...Option) (*Defense, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	d := &Defense{
		cfg:     cfg,
		bundles: make(map[common.Hash]*domain.Bundle),
		assets:  make(map[common.Address]*assetState),
		authz:   authz,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "mev")),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Config returns the active configuration.
func (d *Defense) Config() Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

// UpdateConfig swaps the configuration as a whole.
func (d *Defense) UpdateConfig(ctx context.Context, caller common.Address, cfg Config) error {
	if err := d.authz.Authorize(caller, domain.CapRiskManage); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	d.cfgMu.Lock()
	d.cfg = cfg
	d.cfgMu.Unlock()
	d.logger.InfoContext(ctx, "mev config updated", slog.String("caller", caller.Hex()))
	return nil
}

type bundleKey struct {
	Asset  common.Address
	Amount string
	Profit string
	Window uint64
	Caller common.Address
}

// BundleID derives the deterministic id of a protection request.
func BundleID(asset common.Address, amount, profit decimal.Decimal, window uint64, caller common.Address) common.Hash {
	b, err := rlp.EncodeToBytes(bundleKey{
		Asset:  asset,
		Amount: amount.String(),
		Profit: profit.String(),
		Window: window,
		Caller: caller,
	})
	if err != nil {
		// Only fails for unsupported types, which bundleKey has none of.
		panic(fmt.Sprintf("mev: encode bundle key: %v", err))
	}
	return crypto.Keccak256Hash(b)
}

func windowIndex(now time.Time, width time.Duration) int64 {
	return now.UnixNano() / int64(width)
}

// Protect opens a Pending bundle for an attempt on asset. The second
// request for an asset inside one protection window, while an earlier
// bundle is still live, is refused with ErrAntiSandwichProtection.
func (d *Defense) Protect(ctx context.Context, asset common.Address, amount, expectedProfit decimal.Decimal, caller common.Address) (common.Hash, error) {
	cfg := d.Config()
	now := d.now()
	win := windowIndex(now, cfg.ProtectionWindow)

	st := d.asset(asset)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.metrics.TransactionCount++
	st.metrics.AttackFrequencyBps = frequency(st.metrics)
	if st.window != win {
		st.window = win
		st.calls = 0
	}

	if st.calls >= 1 && d.liveBundleSince(asset, now.Add(-cfg.ProtectionWindow), now) {
		st.metrics.TotalProtections++
		st.metrics.AttackFrequencyBps = frequency(st.metrics)
		d.logger.WarnContext(ctx, "anti-sandwich protection triggered",
			slog.String("asset", asset.Hex()),
			slog.String("caller", caller.Hex()),
		)
		return common.Hash{}, fmt.Errorf("mev: asset %s: %w", asset.Hex(), domain.ErrAntiSandwichProtection)
	}

	if cfg.UnderAttackBps > 0 && st.metrics.AttackFrequencyBps > cfg.UnderAttackBps {
		return common.Hash{}, fmt.Errorf("mev: asset %s at %d bps: %w", asset.Hex(), st.metrics.AttackFrequencyBps, domain.ErrAssetUnderAttack)
	}

	id := BundleID(asset, amount, expectedProfit, uint64(win), caller)

	d.mu.Lock()
	d.pruneLocked(now, cfg.Retention)
	if b, ok := d.bundles[id]; ok {
		d.expireLocked(b, now)
		d.mu.Unlock()
		return common.Hash{}, fmt.Errorf("mev: bundle %s is %s: %w", id.Hex(), b.State, domain.ErrAlreadyExists)
	}
	d.bundles[id] = &domain.Bundle{
		ID:             id,
		TargetAsset:    asset,
		Caller:         caller,
		Amount:         amount,
		ExpectedProfit: expectedProfit,
		WindowMin:      now,
		WindowMax:      now.Add(cfg.BundleTTL),
		State:          domain.BundlePending,
	}
	d.mu.Unlock()

	st.calls++
	d.metrics.BundleTransition(string(domain.BundlePending))
	return id, nil
}

// liveBundleSince reports whether asset has a non-terminal, unexpired
// bundle opened at or after since.
func (d *Defense) liveBundleSince(asset common.Address, since, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.bundles {
		if b.TargetAsset != asset {
			continue
		}
		d.expireLocked(b, now)
		if !b.State.Terminal() && !b.WindowMin.Before(since) {
			return true
		}
	}
	return false
}

// Activate moves a Pending bundle to Active once capital is borrowed.
func (d *Defense) Activate(id common.Hash) error {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bundles[id]
	if !ok {
		return fmt.Errorf("mev: bundle %s: %w", id.Hex(), domain.ErrNotFound)
	}
	d.expireLocked(b, now)
	switch b.State {
	case domain.BundleExpired:
		return fmt.Errorf("mev: bundle %s: %w", id.Hex(), domain.ErrBundleExpired)
	case domain.BundlePending:
		b.State = domain.BundleActive
		d.metrics.BundleTransition(string(domain.BundleActive))
		return nil
	default:
		return fmt.Errorf("mev: bundle %s is %s: %w", id.Hex(), b.State, domain.ErrBundleTerminal)
	}
}

// Finalize closes a bundle. Success marks it Executed. Failure removes it
// and gives its slot in the protection window back, leaving no trace of
// the attempt.
func (d *Defense) Finalize(id common.Hash, success bool, feePaid decimal.Decimal) error {
	now := d.now()
	d.mu.Lock()
	b, ok := d.bundles[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("mev: bundle %s: %w", id.Hex(), domain.ErrNotFound)
	}
	d.expireLocked(b, now)
	if b.State == domain.BundleExpired {
		d.mu.Unlock()
		return fmt.Errorf("mev: bundle %s: %w", id.Hex(), domain.ErrBundleExpired)
	}
	if b.State.Terminal() {
		d.mu.Unlock()
		return fmt.Errorf("mev: bundle %s is %s: %w", id.Hex(), b.State, domain.ErrBundleTerminal)
	}

	if success {
		b.State = domain.BundleExecuted
		b.FeePaid = feePaid
		d.mu.Unlock()
		d.metrics.BundleTransition(string(domain.BundleExecuted))
		return nil
	}

	asset, opened := b.TargetAsset, b.WindowMin
	delete(d.bundles, id)
	d.mu.Unlock()

	d.abandon(asset, opened)
	d.metrics.BundleTransition("abandoned")
	return nil
}

// Abandon drops a bundle that never reached execution. It is Finalize
// without success but tolerates a bundle that already expired.
func (d *Defense) Abandon(id common.Hash) {
	d.mu.Lock()
	b, ok := d.bundles[id]
	if !ok || b.State == domain.BundleExecuted {
		d.mu.Unlock()
		return
	}
	asset, opened := b.TargetAsset, b.WindowMin
	delete(d.bundles, id)
	d.mu.Unlock()

	d.abandon(asset, opened)
	d.metrics.BundleTransition("abandoned")
}

func (d *Defense) abandon(asset common.Address, opened time.Time) {
	cfg := d.Config()
	st := d.asset(asset)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.window == windowIndex(opened, cfg.ProtectionWindow) && st.calls > 0 {
		st.calls--
	}
}

// Bundle returns a copy of the bundle, applying expiry first.
func (d *Defense) Bundle(id common.Hash) (domain.Bundle, error) {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bundles[id]
	if !ok {
		return domain.Bundle{}, fmt.Errorf("mev: bundle %s: %w", id.Hex(), domain.ErrNotFound)
	}
	d.expireLocked(b, now)
	return *b, nil
}

// Bundles returns every retained bundle for asset.
func (d *Defense) Bundles(asset common.Address) []domain.Bundle {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []domain.Bundle
	for _, b := range d.bundles {
		if b.TargetAsset == asset {
			d.expireLocked(b, now)
			out = append(out, *b)
		}
	}
	return out
}

func (d *Defense) expireLocked(b *domain.Bundle, now time.Time) {
	if !b.State.Terminal() && now.After(b.WindowMax) {
		b.State = domain.BundleExpired
		d.metrics.BundleTransition(string(domain.BundleExpired))
	}
}

func (d *Defense) pruneLocked(now time.Time, retention time.Duration) {
	for id, b := range d.bundles {
		d.expireLocked(b, now)
		if b.State.Terminal() && now.Sub(b.WindowMax) > retention {
			delete(d.bundles, id)
		}
	}
}

func (d *Defense) asset(a common.Address) *assetState {
	d.assetsMu.Lock()
	defer d.assetsMu.Unlock()
	st, ok := d.assets[a]
	if !ok {
		st = &assetState{window: -1}
		d.assets[a] = st
	}
	return st
}
