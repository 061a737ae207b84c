// Package risk gates attempts on live exposure and global limits. The
// Controller owns every exposure counter; its Commit is the linearization
// point between concurrent attempts on the same asset.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/metrics"
)

type assetEntry struct {
	mu      sync.Mutex
	profile domain.AssetRiskProfile
	// explicit is set once an operator installs a profile. Until then the
	// asset inherits MaxExposurePerAsset from the global params.
	explicit bool
}

// Controller evaluates risk policy over the exposure arena.
type Controller struct {
	params atomic.Pointer[domain.RiskParams]

	// gate excludes commits and releases while params are swapped.
	gate sync.RWMutex

	arenaMu sync.Mutex
	assets  map[common.Address]*assetEntry

	lossMu sync.Mutex
	loss   decimal.Decimal

	feed    domain.MarketFeed
	authz   domain.Authorizer
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics publishes exposure gauges.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController validates params and returns a Controller.
func NewController(params domain.RiskParams, feed domain.MarketFeed, authz domain.Authorizer, logger *slog.Logger, opts ...Option) (*Controller, error) {
	if err := ValidateParams(params); err != nil {
		return nil, err
	}
	c := &Controller{
		assets: make(map[common.Address]*assetEntry),
		feed:   feed,
		authz:  authz,
		now:    time.Now,
		logger: logger.With(slog.String("component", "risk")),
	}
	for _, o := range opts {
		o(c)
	}
	p := params
	c.params.Store(&p)
	return c, nil
}

// Params returns the current global limits.
func (c *Controller) Params() domain.RiskParams {
	return *c.params.Load()
}

func limit(reason string, args ...any) error {
	return fmt.Errorf("risk: %s: %w", fmt.Sprintf(reason, args...), domain.ErrRiskLimitExceeded)
}

// PreCheck rejects opp if any global or per-asset limit would be breached.
// It reads counters without reserving anything; Commit re-checks.
func (c *Controller) PreCheck(ctx context.Context, opp domain.Opportunity) error {
	p := c.Params()

	if p.EmergencyStopLoss.IsPositive() {
		if loss := c.RealizedLoss(); loss.GreaterThanOrEqual(p.EmergencyStopLoss) {
			return limit("realized loss %s reached stop loss %s", loss, p.EmergencyStopLoss)
		}
	}

	for _, a := range opp.Assets() {
		if prof, ok := c.lookup(a); ok && prof.Blacklisted {
			return fmt.Errorf("risk: asset %s: %w: %w", a.Hex(), domain.ErrRiskLimitExceeded, domain.ErrAssetBlacklisted)
		}
	}

	if opp.Amount.GreaterThan(p.MaxExposurePerStrategy) {
		return limit("amount %s above per-strategy cap %s", opp.Amount, p.MaxExposurePerStrategy)
	}

	prof := c.Profile(opp.AssetIn)
	if prof.CurrentExposure.Add(opp.Amount).GreaterThan(prof.MaxExposure) {
		return limit("asset %s exposure %s + %s above %s",
			opp.AssetIn.Hex(), prof.CurrentExposure, opp.Amount, prof.MaxExposure)
	}

	feePrice, err := c.feed.FeePrice(ctx)
	if err != nil {
		// No price, no admission.
		return limit("fee price unavailable: %v", err)
	}
	if feePrice.GreaterThan(p.MaxFeePrice) {
		return limit("fee price %s above ceiling %s", feePrice, p.MaxFeePrice)
	}
	return nil
}

// Reservation is committed exposure that must be released exactly once.
type Reservation struct {
	c      *Controller
	asset  common.Address
	amount decimal.Decimal
	once   sync.Once
}

// Asset returns the reserved asset.
func (r *Reservation) Asset() common.Address { return r.asset }

// Amount returns the reserved amount.
func (r *Reservation) Amount() decimal.Decimal { return r.amount }

// Release returns the reserved exposure. Only the first call has an effect.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() { r.c.release(r.asset, r.amount) })
}

// Commit reserves opp.Amount against the input asset. The bound is checked
// again under the asset lock, so two attempts that both passed PreCheck
// cannot jointly exceed the maximum.
func (c *Controller) Commit(opp domain.Opportunity) (*Reservation, error) {
	c.gate.RLock()
	defer c.gate.RUnlock()

	e := c.entry(opp.AssetIn)
	p := c.Params()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.profile.Blacklisted {
		return nil, fmt.Errorf("risk: asset %s: %w: %w", opp.AssetIn.Hex(), domain.ErrRiskLimitExceeded, domain.ErrAssetBlacklisted)
	}
	ceiling := c.maxLocked(e, p)
	next := e.profile.CurrentExposure.Add(opp.Amount)
	if next.GreaterThan(ceiling) {
		return nil, limit("asset %s exposure %s + %s above %s", opp.AssetIn.Hex(), e.profile.CurrentExposure, opp.Amount, ceiling)
	}
	e.profile.CurrentExposure = next
	e.profile.LastUpdate = c.now()
	c.metrics.SetExposure(opp.AssetIn.Hex(), next)

	return &Reservation{c: c, asset: opp.AssetIn, amount: opp.Amount}, nil
}

func (c *Controller) release(asset common.Address, amount decimal.Decimal) {
	c.gate.RLock()
	defer c.gate.RUnlock()

	e := c.entry(asset)
	e.mu.Lock()
	next := e.profile.CurrentExposure.Sub(amount)
	if next.IsNegative() {
		c.logger.Error("exposure released below zero",
			slog.String("asset", asset.Hex()),
			slog.String("current", e.profile.CurrentExposure.String()),
			slog.String("amount", amount.String()),
		)
		next = decimal.Zero
	}
	e.profile.CurrentExposure = next
	e.profile.LastUpdate = c.now()
	e.mu.Unlock()

	c.metrics.SetExposure(asset.Hex(), next)
}

// UpdateParams swaps the global limits as a whole. It refuses a per-asset
// cap below the live exposure of any asset that inherits it.
func (c *Controller) UpdateParams(ctx context.Context, caller common.Address, params domain.RiskParams) error {
	if err := c.authz.Authorize(caller, domain.CapRiskManage); err != nil {
		return err
	}
	if err := ValidateParams(params); err != nil {
		return err
	}

	c.gate.Lock()
	defer c.gate.Unlock()
	for a, e := range c.arena() {
		e.mu.Lock()
		over := !e.explicit && e.profile.CurrentExposure.GreaterThan(params.MaxExposurePerAsset)
		cur := e.profile.CurrentExposure
		e.mu.Unlock()
		if over {
			return fmt.Errorf("risk: update params: asset %s has %s outstanding above new cap %s",
				a.Hex(), cur, params.MaxExposurePerAsset)
		}
	}
	p := params
	c.params.Store(&p)

	c.logger.InfoContext(ctx, "risk params updated",
		slog.String("caller", caller.Hex()),
		slog.String("max_exposure_per_asset", p.MaxExposurePerAsset.String()),
		slog.String("max_fee_price", p.MaxFeePrice.String()),
	)
	return nil
}

// UpdateAssetProfile installs the limits for asset. The live exposure
// counter is kept; a maximum below it is refused.
func (c *Controller) UpdateAssetProfile(ctx context.Context, caller common.Address, asset common.Address, profile domain.AssetRiskProfile) error {
	if err := c.authz.Authorize(caller, domain.CapRiskManage); err != nil {
		return err
	}
	if profile.MaxExposure.IsNegative() || profile.VolatilityScore < 0 {
		return errors.New("risk: asset profile: negative limits")
	}

	e := c.entry(asset)
	e.mu.Lock()
	defer e.mu.Unlock()
	if profile.MaxExposure.LessThan(e.profile.CurrentExposure) {
		return fmt.Errorf("risk: asset %s: max %s below outstanding %s",
			asset.Hex(), profile.MaxExposure, e.profile.CurrentExposure)
	}
	profile.CurrentExposure = e.profile.CurrentExposure
	profile.LastUpdate = c.now()
	e.profile = profile
	e.explicit = true

	c.logger.InfoContext(ctx, "asset profile updated",
		slog.String("caller", caller.Hex()),
		slog.String("asset", asset.Hex()),
		slog.String("max_exposure", profile.MaxExposure.String()),
		slog.Bool("blacklisted", profile.Blacklisted),
	)
	return nil
}

// Profile returns the effective profile of asset. Assets without an
// installed profile report the global per-asset cap.
func (c *Controller) Profile(asset common.Address) domain.AssetRiskProfile {
	p := c.Params()
	c.arenaMu.Lock()
	e, ok := c.assets[asset]
	c.arenaMu.Unlock()
	if !ok {
		return domain.AssetRiskProfile{MaxExposure: p.MaxExposurePerAsset}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.profile
	out.MaxExposure = c.maxLocked(e, p)
	return out
}

// Profiles lists every tracked asset in address order.
func (c *Controller) Profiles() map[common.Address]domain.AssetRiskProfile {
	arena := c.arena()
	keys := make([]common.Address, 0, len(arena))
	for a := range arena {
		keys = append(keys, a)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Cmp(keys[j]) < 0 })

	out := make(map[common.Address]domain.AssetRiskProfile, len(keys))
	for _, a := range keys {
		out[a] = c.Profile(a)
	}
	return out
}

// RecordLoss adds to the realized loss that feeds the stop-loss.
func (c *Controller) RecordLoss(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	c.lossMu.Lock()
	c.loss = c.loss.Add(amount)
	total := c.loss
	c.lossMu.Unlock()

	if stop := c.Params().EmergencyStopLoss; stop.IsPositive() && total.GreaterThanOrEqual(stop) {
		c.logger.Warn("stop loss reached", slog.String("realized_loss", total.String()))
	}
}

// RealizedLoss returns the cumulative recorded loss.
func (c *Controller) RealizedLoss() decimal.Decimal {
	c.lossMu.Lock()
	defer c.lossMu.Unlock()
	return c.loss
}

// ResetLoss clears the realized loss after operator review.
func (c *Controller) ResetLoss(ctx context.Context, caller common.Address) error {
	if err := c.authz.Authorize(caller, domain.CapRiskManage); err != nil {
		return err
	}
	c.lossMu.Lock()
	prev := c.loss
	c.loss = decimal.Zero
	c.lossMu.Unlock()
	c.logger.InfoContext(ctx, "realized loss reset",
		slog.String("caller", caller.Hex()),
		slog.String("previous", prev.String()),
	)
	return nil
}

func (c *Controller) lookup(a common.Address) (domain.AssetRiskProfile, bool) {
	c.arenaMu.Lock()
	e, ok := c.assets[a]
	c.arenaMu.Unlock()
	if !ok {
		return domain.AssetRiskProfile{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile, true
}

func (c *Controller) maxLocked(e *assetEntry, p domain.RiskParams) decimal.Decimal {
	if e.explicit {
		return e.profile.MaxExposure
	}
	return p.MaxExposurePerAsset
}

// entry returns the arena entry for a, creating it on first use.
func (c *Controller) entry(a common.Address) *assetEntry {
	c.arenaMu.Lock()
	defer c.arenaMu.Unlock()
	e, ok := c.assets[a]
	if !ok {
		e = &assetEntry{}
		c.assets[a] = e
	}
	return e
}

func (c *Controller) arena() map[common.Address]*assetEntry {
	c.arenaMu.Lock()
	defer c.arenaMu.Unlock()
	out := make(map[common.Address]*assetEntry, len(c.assets))
	for a, e := range c.assets {
		out[a] = e
	}
	return out
}
