// Package breaker is admission control for attempts: per-key fixed rate
// windows, per-key failure breakers with a time-gated half-open probe, a
// per-asset market volatility breaker, and the global emergency stop.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/metrics"
)

// Key scopes.
const (
	ScopeGlobal   = "global"
	ScopeStrategy = "strategy"
	ScopeAsset    = "asset"
)

// GlobalKey is the single system-wide admission key.
const GlobalKey = ScopeGlobal

// StrategyKey returns the admission key of a strategy.
func StrategyKey(id string) string { return ScopeStrategy + ":" + id }

// AssetKey returns the admission key of an asset.
func AssetKey(a common.Address) string { return ScopeAsset + ":" + strings.ToLower(a.Hex()) }

// ValidateThresholds reports unusable thresholds.
func ValidateThresholds(th domain.BreakerThresholds) error {
	var errs []error
	if th.MaxRequests <= 0 {
		errs = append(errs, errors.New("max_requests must be positive"))
	}
	if th.Window <= 0 {
		errs = append(errs, errors.New("window must be positive"))
	}
	if th.FailureThreshold <= 0 {
		errs = append(errs, errors.New("failure_threshold must be positive"))
	}
	if th.RecoveryTime <= 0 {
		errs = append(errs, errors.New("recovery_time must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("breaker: invalid thresholds: %w", errors.Join(errs...))
	}
	return nil
}

type keyState struct {
	mu      sync.Mutex
	rate    domain.RateLimit
	breaker domain.CircuitBreakerState
	probing bool
}

// Guard admits or rejects attempts across a set of keys.
type Guard struct {
	stopped    atomic.Bool
	paused     atomic.Bool
	stopReason atomic.Value

	thMu       sync.RWMutex
	defaults   domain.BreakerThresholds
	thresholds map[string]domain.BreakerThresholds

	keysMu sync.Mutex
	keys   map[string]*keyState

	authz   domain.Authorizer
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithMetrics counts trips and rate rejections.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithScope installs thresholds for a scope or an exact key.
func WithScope(scope string, th domain.BreakerThresholds) Option {
	return func(g *Guard) { g.thresholds[scope] = th }
}

// NewGuard returns a Guard applying defaults to every key without its own
// thresholds.
func NewGuard(defaults domain.BreakerThresholds, authz domain.Authorizer, logger *slog.Logger, opts ...Option) (*Guard, error) {
	if err := ValidateThresholds(defaults); err != nil {
		return nil, err
	}
	g := &Guard{
		defaults:   defaults,
		thresholds: make(map[string]domain.BreakerThresholds),
		keys:       make(map[string]*keyState),
		authz:      authz,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "breaker")),
	}
	for _, o := range opts {
		o(g)
	}
	for scope, th := range g.thresholds {
		if err := ValidateThresholds(th); err != nil {
			return nil, fmt.Errorf("breaker: scope %s: %w", scope, err)
		}
	}
	return g, nil
}

func rejected(err error) error {
	return fmt.Errorf("breaker: %w: %w", domain.ErrAdmissionRejected, err)
}

// Ticket is an admission that must be settled with exactly one of
// Success, Failure or Cancel.
type Ticket struct {
	g      *Guard
	keys   []string
	probes map[string]bool
	// windows holds the rate window start each key was counted in.
	windows map[string]time.Time
	once    sync.Once
}

// Admit checks the emergency stop, the pause flag, then the breaker and the
// rate window of every key. Either all keys admit and their counters move,
// or nothing changes.
func (g *Guard) Admit(keys ...string) (*Ticket, error) {
	if g.stopped.Load() {
		return nil, rejected(domain.ErrEmergencyStop)
	}
	if g.paused.Load() {
		return nil, rejected(domain.ErrPaused)
	}

	keys = normalize(keys)
	states := make([]*keyState, len(keys))
	for i, k := range keys {
		states[i] = g.state(k)
	}
	for _, st := range states {
		st.mu.Lock()
	}
	defer func() {
		for _, st := range states {
			st.mu.Unlock()
		}
	}()

	now := g.now()
	probes := make(map[string]bool)
	resets := make([]bool, len(keys))
	for i, k := range keys {
		st := states[i]
		g.applyThresholdsLocked(k, st)

		if st.breaker.Open {
			reopen := st.breaker.LastFailureTime.Add(st.breaker.RecoveryTime)
			if now.Before(reopen) {
				return nil, rejected(fmt.Errorf("%s until %s: %w", k, reopen.Format(time.RFC3339), domain.ErrCircuitBreakerOpen))
			}
			if st.probing {
				return nil, rejected(fmt.Errorf("%s probe in flight: %w", k, domain.ErrCircuitBreakerOpen))
			}
			probes[k] = true
		}

		count := st.rate.CurrentCount
		if st.rate.WindowStart.IsZero() || now.Sub(st.rate.WindowStart) >= st.rate.Window {
			resets[i] = true
			count = 0
		}
		if count >= st.rate.MaxRequests {
			g.metrics.RateLimitHit(k)
			return nil, rejected(fmt.Errorf("%s at %d/%d: %w", k, count, st.rate.MaxRequests, domain.ErrRateLimited))
		}
	}

	windows := make(map[string]time.Time, len(keys))
	for i, k := range keys {
		st := states[i]
		if resets[i] {
			st.rate.WindowStart = now
			st.rate.CurrentCount = 0
		}
		st.rate.CurrentCount++
		windows[k] = st.rate.WindowStart
		if probes[k] {
			st.probing = true
		}
	}
	return &Ticket{g: g, keys: keys, probes: probes, windows: windows}, nil
}

// Success closes every breaker the ticket touched and resets its failure
// count.
func (t *Ticket) Success() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		for _, k := range t.keys {
			st := t.g.state(k)
			st.mu.Lock()
			wasOpen := st.breaker.Open
			st.breaker.FailureCount = 0
			st.breaker.Open = false
			st.probing = false
			st.mu.Unlock()
			if wasOpen {
				t.g.logger.Info("breaker closed after probe", slog.String("key", k))
			}
		}
	})
}

// Failure records a failure on every key. A key opens once its
// consecutive failures reach the threshold; a failed probe keeps it open
// with a fresh recovery deadline.
func (t *Ticket) Failure() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		now := t.g.now()
		for _, k := range t.keys {
			st := t.g.state(k)
			st.mu.Lock()
			st.breaker.FailureCount++
			st.breaker.LastFailureTime = now
			st.probing = false
			tripped := !st.breaker.Open && st.breaker.FailureCount >= st.breaker.FailureThreshold
			if tripped {
				st.breaker.Open = true
			}
			count := st.breaker.FailureCount
			st.mu.Unlock()

			if tripped {
				t.g.metrics.BreakerTripped(k)
				t.g.logger.Warn("breaker opened",
					slog.String("key", k),
					slog.Int("failures", count),
				)
			}
		}
	})
}

// Cancel settles the ticket without an outcome. The request is taken back
// out of each key's rate window if that window is still current, and a
// probe slot it held is freed so the next admission may probe instead.
func (t *Ticket) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		for _, k := range t.keys {
			st := t.g.state(k)
			st.mu.Lock()
			if st.rate.WindowStart.Equal(t.windows[k]) && st.rate.CurrentCount > 0 {
				st.rate.CurrentCount--
			}
			if t.probes[k] {
				st.probing = false
			}
			st.mu.Unlock()
		}
	})
}

// Probe reports whether the ticket is a half-open probe on any key.
func (t *Ticket) Probe() bool { return t != nil && len(t.probes) > 0 }

// SetThresholds installs thresholds for a scope (global, strategy, asset)
// or an exact key. Existing counters keep running under the new limits.
func (g *Guard) SetThresholds(ctx context.Context, caller common.Address, scope string, th domain.BreakerThresholds) error {
	if err := g.authz.Authorize(caller, domain.CapBreakerManage); err != nil {
		return err
	}
	if err := ValidateThresholds(th); err != nil {
		return err
	}
	g.thMu.Lock()
	g.thresholds[scope] = th
	g.thMu.Unlock()

	g.logger.InfoContext(ctx, "breaker thresholds updated",
		slog.String("caller", caller.Hex()),
		slog.String("scope", scope),
		slog.Int("max_requests", th.MaxRequests),
		slog.Int("failure_threshold", th.FailureThreshold),
	)
	return nil
}

// Thresholds resolves the thresholds of key: exact key, then its scope,
// then the defaults.
func (g *Guard) Thresholds(key string) domain.BreakerThresholds {
	g.thMu.RLock()
	defer g.thMu.RUnlock()
	if th, ok := g.thresholds[key]; ok {
		return th
	}
	scope, _, _ := strings.Cut(key, ":")
	if th, ok := g.thresholds[scope]; ok {
		return th
	}
	return g.defaults
}

func (g *Guard) applyThresholdsLocked(key string, st *keyState) {
	th := g.Thresholds(key)
	st.rate.MaxRequests = th.MaxRequests
	st.rate.Window = th.Window
	st.breaker.FailureThreshold = th.FailureThreshold
	st.breaker.RecoveryTime = th.RecoveryTime
}

// Reset closes the breaker of key and clears its counters.
func (g *Guard) Reset(ctx context.Context, caller common.Address, key string) error {
	if err := g.authz.Authorize(caller, domain.CapBreakerManage); err != nil {
		return err
	}
	st := g.state(key)
	st.mu.Lock()
	st.breaker = domain.CircuitBreakerState{}
	st.rate = domain.RateLimit{}
	st.probing = false
	st.mu.Unlock()
	g.logger.InfoContext(ctx, "breaker reset", slog.String("caller", caller.Hex()), slog.String("key", key))
	return nil
}

// SetEmergencyStop engages or clears the global stop.
func (g *Guard) SetEmergencyStop(ctx context.Context, caller common.Address, on bool, reason string) error {
	if err := g.authz.Authorize(caller, domain.CapSystemEmergency); err != nil {
		return err
	}
	g.setStop(on, reason)
	g.logger.WarnContext(ctx, "emergency stop toggled",
		slog.String("caller", caller.Hex()),
		slog.Bool("engaged", on),
		slog.String("reason", reason),
	)
	return nil
}

// Halt engages the emergency stop from inside the core after a fatal
// error. Only governance can clear it.
func (g *Guard) Halt(reason string) {
	g.setStop(true, reason)
	g.logger.Error("system halted", slog.String("reason", reason))
}

func (g *Guard) setStop(on bool, reason string) {
	g.stopReason.Store(reason)
	g.stopped.Store(on)
	g.metrics.SetEmergencyStop(on)
}

// Pause stops admissions until Unpause.
func (g *Guard) Pause(ctx context.Context, caller common.Address) error {
	if err := g.authz.Authorize(caller, domain.CapSystemPause); err != nil {
		return err
	}
	g.paused.Store(true)
	g.logger.InfoContext(ctx, "admissions paused", slog.String("caller", caller.Hex()))
	return nil
}

// Unpause resumes admissions.
func (g *Guard) Unpause(ctx context.Context, caller common.Address) error {
	if err := g.authz.Authorize(caller, domain.CapSystemPause); err != nil {
		return err
	}
	g.paused.Store(false)
	g.logger.InfoContext(ctx, "admissions resumed", slog.String("caller", caller.Hex()))
	return nil
}

// Status is the global admission flags.
type Status struct {
	EmergencyStop bool   `json:"emergency_stop"`
	StopReason    string `json:"stop_reason,omitempty"`
	Paused        bool   `json:"paused"`
}

// Status returns the global flags.
func (g *Guard) Status() Status {
	s := Status{EmergencyStop: g.stopped.Load(), Paused: g.paused.Load()}
	if s.EmergencyStop {
		s.StopReason, _ = g.stopReason.Load().(string)
	}
	return s
}

// State returns the counters of key.
func (g *Guard) State(key string) domain.AdmissionState {
	st := g.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	g.applyThresholdsLocked(key, st)
	return domain.AdmissionState{Key: key, Rate: st.rate, Breaker: st.breaker, Probing: st.probing}
}

// States returns the counters of every key seen so far, sorted by key.
func (g *Guard) States() []domain.AdmissionState {
	g.keysMu.Lock()
	keys := make([]string, 0, len(g.keys))
	for k := range g.keys {
		keys = append(keys, k)
	}
	g.keysMu.Unlock()
	sort.Strings(keys)

	out := make([]domain.AdmissionState, 0, len(keys))
	for _, k := range keys {
		out = append(out, g.State(k))
	}
	return out
}

func (g *Guard) state(key string) *keyState {
	g.keysMu.Lock()
	defer g.keysMu.Unlock()
	st, ok := g.keys[key]
	if !ok {
		st = &keyState{}
		g.keys[key] = st
	}
	return st
}

func normalize(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i == 0 || k != out[n-1] {
			out[n] = k
			n++
		}
	}
	return out[:n]
}
