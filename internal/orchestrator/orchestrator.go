// Package orchestrator runs one borrowed-capital arbitrage attempt end to
// end: strategy validation, risk pre-check, protection, admission, borrow,
// the leg loop, the profit invariant, repayment and settlement.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/breaker"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/keylock"
	"github.com/alanyoungcy/flasharb/internal/metrics"
	"github.com/alanyoungcy/flasharb/internal/mev"
	"github.com/alanyoungcy/flasharb/internal/risk"
	"github.com/alanyoungcy/flasharb/internal/strategy"
)

// Deps are the collaborators every attempt consults.
type Deps struct {
	Registry   *strategy.Registry
	Risk       *risk.Controller
	MEV        *mev.Defense
	Guard      *breaker.Guard
	Volatility *breaker.Volatility
	Facility   domain.LendingFacility
	Venues     map[string]domain.Venue
	Feed       domain.MarketFeed
	Authz      domain.Authorizer
}

// Orchestrator is the execution pipeline.
type Orchestrator struct {
	Deps

	locker      keylock.Locker
	lockTimeout time.Duration
	maxLegs     int

	audit    domain.AuditSink
	attempts domain.AttemptStore
	alerter  domain.Alerter
	metrics  *metrics.Metrics

	// inflight maps attempt ids to their run while capital is borrowed.
	inflight sync.Map

	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLocker replaces the in-process key locker.
func WithLocker(l keylock.Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithLockTimeout bounds how long an attempt waits for its keys.
func WithLockTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.lockTimeout = d }
}

// WithMaxLegs overrides the route length bound.
func WithMaxLegs(n int) Option {
	return func(o *Orchestrator) { o.maxLegs = n }
}

// WithAuditSink emits one record per attempt.
func WithAuditSink(s domain.AuditSink) Option {
	return func(o *Orchestrator) { o.audit = s }
}

// WithAttemptStore persists every result.
func WithAttemptStore(s domain.AttemptStore) Option {
	return func(o *Orchestrator) { o.attempts = s }
}

// WithAlerter notifies operators of fatal outcomes.
func WithAlerter(a domain.Alerter) Option {
	return func(o *Orchestrator) { o.alerter = a }
}

// WithMetrics records attempt counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New returns an Orchestrator.
func New(deps Deps, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		Deps:        deps,
		locker:      keylock.NewLocal(),
		lockTimeout: 5 * time.Second,
		maxLegs:     domain.DefaultMaxLegs,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Pause stops new admissions.
func (o *Orchestrator) Pause(ctx context.Context, caller common.Address) error {
	return o.Guard.Pause(ctx, caller)
}

// Unpause resumes admissions.
func (o *Orchestrator) Unpause(ctx context.Context, caller common.Address) error {
	return o.Guard.Unpause(ctx, caller)
}
