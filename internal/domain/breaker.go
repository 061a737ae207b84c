package domain

import "time"

// BreakerThresholds configure one admission key.
type BreakerThresholds struct {
	MaxRequests      int           `json:"max_requests"`
	Window           time.Duration `json:"window"`
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTime     time.Duration `json:"recovery_time"`
}

// RateLimit is the fixed-window counter for one key.
type RateLimit struct {
	MaxRequests  int           `json:"max_requests"`
	Window       time.Duration `json:"window"`
	CurrentCount int           `json:"current_count"`
	WindowStart  time.Time     `json:"window_start"`
}

// CircuitBreakerState is the failure breaker for one key. HalfOpen is not
// stored; it is derived from LastFailureTime+RecoveryTime.
type CircuitBreakerState struct {
	FailureCount     int           `json:"failure_count"`
	FailureThreshold int           `json:"failure_threshold"`
	LastFailureTime  time.Time     `json:"last_failure_time"`
	RecoveryTime     time.Duration `json:"recovery_time"`
	Open             bool          `json:"open"`
}

// AdmissionState is a read-only view of one admission key.
type AdmissionState struct {
	Key     string              `json:"key"`
	Rate    RateLimit           `json:"rate"`
	Breaker CircuitBreakerState `json:"breaker"`
	Probing bool                `json:"probing"`
}

// VolatilityState is a read-only view of an asset's market breaker.
type VolatilityState struct {
	Tripped          bool      `json:"tripped"`
	Latched          bool      `json:"latched"`
	Reason           string    `json:"reason,omitempty"`
	TrippedAt        time.Time `json:"tripped_at"`
	RecoveryAttempts int       `json:"recovery_attempts"`
	StableCount      int       `json:"stable_count"`
}
