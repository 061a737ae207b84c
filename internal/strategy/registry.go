package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type entry struct {
	mu        sync.Mutex
	id        string
	impl      Strategy
	cfg       domain.StrategyConfig
	perf      domain.StrategyPerformance
	updatedAt time.Time
}

func (e *entry) snapshotLocked() domain.StrategySnapshot {
	return domain.StrategySnapshot{
		ID:             e.id,
		Name:           e.impl.Name(),
		Config:         e.cfg,
		Performance:    e.perf,
		SuccessRateBps: e.perf.SuccessRateBps(),
		AvgProfit:      e.perf.AvgProfit(),
		RiskScore:      e.impl.RiskScore(),
		UpdatedAt:      e.updatedAt,
	}
}

// Registry owns the strategy set and each strategy's performance counters.
// Entries are keyed by strategy id and carry their own lock, so outcome
// recording for one strategy never blocks another.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	authz  domain.Authorizer
	store  domain.StrategyStateStore
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore enables write-through persistence of snapshots.
func WithStore(s domain.StrategyStateStore) Option {
	return func(r *Registry) { r.store = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry returns an empty Registry.
func NewRegistry(authz domain.Authorizer, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		authz:   authz,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "strategy_registry")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a strategy. Duplicate ids are rejected.
func (r *Registry) Register(ctx context.Context, caller common.Address, id string, impl Strategy, cfg domain.StrategyConfig) error {
	if err := r.authz.Authorize(caller, domain.CapStrategyManage); err != nil {
		return err
	}
	if id == "" || impl == nil {
		return fmt.Errorf("strategy: register: id and implementation are required")
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}

	e := &entry{id: id, impl: impl, cfg: cfg, updatedAt: r.now()}
	// Counters survive restarts and re-registration under the same id.
	if r.store != nil {
		if prev, err := r.store.Get(ctx, id); err == nil {
			e.perf = prev.Performance
		}
	}

	r.mu.Lock()
	if _, ok := r.entries[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("strategy: register %q: %w", id, domain.ErrAlreadyExists)
	}
	r.entries[id] = e
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "strategy registered",
		slog.String("strategy", id),
		slog.String("impl", impl.Name()),
		slog.Bool("active", cfg.Active),
	)
	r.persist(ctx, e)
	return nil
}

// Deregister removes a strategy.
func (r *Registry) Deregister(ctx context.Context, caller common.Address, id string) error {
	if err := r.authz.Authorize(caller, domain.CapStrategyManage); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("strategy: deregister %q: %w", id, domain.ErrNotFound)
	}
	delete(r.entries, id)
	r.logger.InfoContext(ctx, "strategy deregistered", slog.String("strategy", id))
	return nil
}

// UpdateConfig replaces a strategy's configuration as a whole.
func (r *Registry) UpdateConfig(ctx context.Context, caller common.Address, id string, cfg domain.StrategyConfig) error {
	if err := r.authz.Authorize(caller, domain.CapStrategyManage); err != nil {
		return err
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.updatedAt = r.now()
	e.mu.Unlock()

	r.logger.InfoContext(ctx, "strategy config updated", slog.String("strategy", id))
	r.persist(ctx, e)
	return nil
}

// SetActive toggles a strategy without touching the rest of its config.
func (r *Registry) SetActive(ctx context.Context, caller common.Address, id string, active bool) error {
	if err := r.authz.Authorize(caller, domain.CapStrategyManage); err != nil {
		return err
	}
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg.Active = active
	e.updatedAt = r.now()
	e.mu.Unlock()

	r.persist(ctx, e)
	return nil
}

// Validate returns the strategy and its config if it may run at now.
func (r *Registry) Validate(id string, now time.Time) (Strategy, domain.StrategyConfig, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, domain.StrategyConfig{}, fmt.Errorf("strategy %q: %w", id, domain.ErrStrategyNotRegistered)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cfg.Active {
		return nil, domain.StrategyConfig{}, fmt.Errorf("strategy %q: %w", id, domain.ErrStrategyInactive)
	}
	last := e.perf.LastExecutionTime
	if !last.IsZero() && now.Before(last.Add(e.cfg.CooldownPeriod)) {
		return nil, domain.StrategyConfig{}, fmt.Errorf("strategy %q: ready at %s: %w",
			id, last.Add(e.cfg.CooldownPeriod).Format(time.RFC3339), domain.ErrStrategyInCooldown)
	}
	return e.impl, e.cfg, nil
}

// Get returns the strategy and its current config.
func (r *Registry) Get(id string) (Strategy, domain.StrategyConfig, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, domain.StrategyConfig{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.impl, e.cfg, nil
}

// Compatible lists every active strategy that accepts opp. Ranking is left
// to the caller.
func (r *Registry) Compatible(opp domain.Opportunity) []Candidate {
	var out []Candidate
	for _, e := range r.sorted() {
		e.mu.Lock()
		active := e.cfg.Active
		e.mu.Unlock()
		if active && e.impl.IsCompatible(opp) {
			out = append(out, Candidate{ID: e.id, RiskScore: e.impl.RiskScore()})
		}
	}
	return out
}

// Active returns the ids of active strategies in sorted order.
func (r *Registry) Active() []string {
	var ids []string
	for _, e := range r.sorted() {
		e.mu.Lock()
		if e.cfg.Active {
			ids = append(ids, e.id)
		}
		e.mu.Unlock()
	}
	return ids
}

// RecordOutcome folds one attempt into the counters. Averages run over the
// successful count only, so failures never drag them toward zero. The last
// execution time, which gates the cooldown, moves on success only.
func (r *Registry) RecordOutcome(ctx context.Context, id string, success bool, profit, feeUsed decimal.Decimal) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.perf.TotalAttempts++
	if success {
		e.perf.SuccessfulAttempts++
		n := e.perf.SuccessfulAttempts
		e.perf.TotalProfit = e.perf.TotalProfit.Add(profit)
		e.perf.AvgFeeUsed = runningAvg(e.perf.AvgFeeUsed, feeUsed, n)
		e.perf.LastExecutionTime = r.now()
	}
	e.updatedAt = r.now()
	e.mu.Unlock()

	r.persist(ctx, e)
	return nil
}

// runningAvg computes (prev*(n-1)+v)/n truncated to whole units.
func runningAvg(prev, v decimal.Decimal, n int64) decimal.Decimal {
	if n <= 1 {
		return v
	}
	return domain.QuoTrunc(prev.Mul(decimal.NewFromInt(n-1)).Add(v), n)
}

// Snapshot returns one strategy's view.
func (r *Registry) Snapshot(id string) (domain.StrategySnapshot, error) {
	e, err := r.entry(id)
	if err != nil {
		return domain.StrategySnapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(), nil
}

// List returns every strategy's view sorted by id.
func (r *Registry) List() []domain.StrategySnapshot {
	entries := r.sorted()
	out := make([]domain.StrategySnapshot, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.snapshotLocked())
		e.mu.Unlock()
	}
	return out
}

func (r *Registry) entry(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

func (r *Registry) sorted() []*entry {
	r.mu.RLock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Registry) persist(ctx context.Context, e *entry) {
	if r.store == nil {
		return
	}
	e.mu.Lock()
	snap := e.snapshotLocked()
	e.mu.Unlock()
	if err := r.store.Upsert(ctx, snap); err != nil {
		r.logger.WarnContext(ctx, "strategy snapshot not persisted",
			slog.String("strategy", e.id),
			slog.String("error", err.Error()),
		)
	}
}

func validateConfig(cfg domain.StrategyConfig) error {
	var errs []error
	if cfg.MinProfit.IsNegative() {
		errs = append(errs, errors.New("min_profit must not be negative"))
	}
	if cfg.FeeBudget.IsNegative() {
		errs = append(errs, errors.New("fee_budget must not be negative"))
	}
	if cfg.MaxSlippageBps < 0 || cfg.MaxSlippageBps > domain.BpsDenominator {
		errs = append(errs, fmt.Errorf("max_slippage_bps %d out of range", cfg.MaxSlippageBps))
	}
	if cfg.CooldownPeriod < 0 {
		errs = append(errs, errors.New("cooldown_period must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("strategy: invalid config: %w", errors.Join(errs...))
	}
	return nil
}
