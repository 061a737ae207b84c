// Package metrics holds the Prometheus collectors for the execution core.
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

const namespace = "flasharb"

// Metrics is the set of collectors shared by the core components.
type Metrics struct {
	Attempts         *prometheus.CounterVec
	AttemptLatency   *prometheus.HistogramVec
	Profit           *prometheus.CounterVec
	Exposure         *prometheus.GaugeVec
	BreakerTrips     *prometheus.CounterVec
	RateLimited      *prometheus.CounterVec
	VolatilityTrips  *prometheus.CounterVec
	Bundles          *prometheus.CounterVec
	Attacks          *prometheus.CounterVec
	EmergencyStopped prometheus.Gauge
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "attempts_total",
			Help:      "Attempts by strategy, outcome and error class",
		}, []string{"strategy", "status", "class"}),
		AttemptLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of an attempt from entry to result",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"status"}),
		Profit: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "profit_base_units_total",
			Help:      "Realized profit in base units of the borrowed asset",
		}, []string{"strategy", "asset"}),
		Exposure: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "current_exposure",
			Help:      "Outstanding committed exposure per asset",
		}, []string{"asset"}),
		BreakerTrips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "trips_total",
			Help:      "Circuit breaker transitions to open per key",
		}, []string{"key"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "rate_limited_total",
			Help:      "Admissions rejected by the rate window per key",
		}, []string{"key"}),
		VolatilityTrips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "volatility_trips_total",
			Help:      "Market volatility breaker trips per asset and reason",
		}, []string{"asset", "reason"}),
		Bundles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mev",
			Name:      "bundle_transitions_total",
			Help:      "Bundle state transitions",
		}, []string{"state"}),
		Attacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mev",
			Name:      "attacks_total",
			Help:      "Reported attack observations by type",
		}, []string{"type"}),
		EmergencyStopped: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "emergency_stop",
			Help:      "1 while the emergency stop is engaged",
		}),
	}
}

// ObserveAttempt counts one finished attempt.
func (m *Metrics) ObserveAttempt(strategy, status, class string, seconds float64) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(strategy, status, class).Inc()
	m.AttemptLatency.WithLabelValues(status).Observe(seconds)
}

// AddProfit adds realized profit for a strategy and asset.
func (m *Metrics) AddProfit(strategy, asset string, profit decimal.Decimal) {
	if m == nil || !profit.IsPositive() {
		return
	}
	m.Profit.WithLabelValues(strategy, asset).Add(profit.InexactFloat64())
}

// SetExposure publishes the live exposure of asset.
func (m *Metrics) SetExposure(asset string, v decimal.Decimal) {
	if m == nil {
		return
	}
	m.Exposure.WithLabelValues(asset).Set(v.InexactFloat64())
}

// BreakerTripped counts a breaker opening.
func (m *Metrics) BreakerTripped(key string) {
	if m == nil {
		return
	}
	m.BreakerTrips.WithLabelValues(key).Inc()
}

// RateLimitHit counts a rate window rejection.
func (m *Metrics) RateLimitHit(key string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(key).Inc()
}

// VolatilityTripped counts a market breaker trip.
func (m *Metrics) VolatilityTripped(asset, reason string) {
	if m == nil {
		return
	}
	m.VolatilityTrips.WithLabelValues(asset, reason).Inc()
}

// BundleTransition counts a bundle entering state.
func (m *Metrics) BundleTransition(state string) {
	if m == nil {
		return
	}
	m.Bundles.WithLabelValues(state).Inc()
}

// AttackReported counts an attack observation.
func (m *Metrics) AttackReported(kind string) {
	if m == nil {
		return
	}
	m.Attacks.WithLabelValues(kind).Inc()
}

// SetEmergencyStop mirrors the emergency stop flag.
func (m *Metrics) SetEmergencyStop(on bool) {
	if m == nil {
		return
	}
	if on {
		m.EmergencyStopped.Set(1)
		return
	}
	m.EmergencyStopped.Set(0)
}
