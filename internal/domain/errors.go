package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrNoOpportunity = errors.New("no profitable route")

	// Validation.
	ErrInvalidOpportunity    = errors.New("invalid opportunity")
	ErrStrategyNotRegistered = errors.New("strategy not registered")
	ErrStrategyInactive      = errors.New("strategy inactive")
	ErrIncompatibleRoute     = errors.New("route incompatible with strategy")
	ErrReentrantAttempt      = errors.New("attempt already in flight")

	// Policy.
	ErrStrategyInCooldown     = errors.New("strategy in cooldown")
	ErrRiskLimitExceeded      = errors.New("risk limit exceeded")
	ErrAssetBlacklisted       = errors.New("asset blacklisted")
	ErrFeeBudgetExceeded      = errors.New("fee budget exceeded")
	ErrProtectionRejected     = errors.New("protection rejected")
	ErrAntiSandwichProtection = errors.New("anti-sandwich protection")
	ErrAssetUnderAttack       = errors.New("asset under attack")
	ErrAdmissionRejected      = errors.New("admission rejected")
	ErrRateLimited            = errors.New("rate limited")

	// Execution.
	ErrSlippageExceeded   = errors.New("slippage exceeded")
	ErrInsufficientProfit = errors.New("insufficient profit")
	ErrRepaymentShortfall = errors.New("repayment shortfall")
	ErrVenueUnavailable   = errors.New("venue unavailable")

	// Systemic.
	ErrCircuitBreakerOpen          = errors.New("circuit breaker open")
	ErrEmergencyStop               = errors.New("emergency stop engaged")
	ErrPaused                      = errors.New("system paused")
	ErrMarketUnstable              = errors.New("market unstable")
	ErrMaxRecoveryAttemptsExceeded = errors.New("max recovery attempts exceeded")

	ErrBundleExpired  = errors.New("bundle expired")
	ErrBundleTerminal = errors.New("bundle already terminal")
)

// ErrorClass is the failure taxonomy an attempt error belongs to.
type ErrorClass string

const (
	ClassValidation ErrorClass = "validation"
	ClassPolicy     ErrorClass = "policy"
	ClassExecution  ErrorClass = "execution"
	ClassSystemic   ErrorClass = "systemic"
)

// AttemptError tags an orchestrator failure with its class and the pipeline
// stage that produced it.
type AttemptError struct {
	Class ErrorClass
	Stage string
	Err   error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Class, e.Stage, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// IsRetriable reports whether the caller may retry. Validation failures are
// retriable with corrected input and policy rejections after a cooldown.
// Execution failures and systemic conditions are not.
func (e *AttemptError) IsRetriable() bool {
	return e.Class == ClassValidation || e.Class == ClassPolicy
}

// IsFatal reports whether the error must halt the system rather than just
// this attempt.
func (e *AttemptError) IsFatal() bool {
	return IsFatal(e.Err)
}

// NewAttemptError wraps err. A nil err yields nil.
func NewAttemptError(class ErrorClass, stage string, err error) error {
	if err == nil {
		return nil
	}
	return &AttemptError{Class: class, Stage: stage, Err: err}
}

// ClassOf returns the taxonomy class of err, or "" if err carries none.
func ClassOf(err error) ErrorClass {
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.Class
	}
	return ""
}

// IsRetriable reports whether err is a retriable attempt error.
func IsRetriable(err error) bool {
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.IsRetriable()
	}
	return false
}

// IsFatal reports whether err signals a broken invariant that needs manual
// intervention.
func IsFatal(err error) bool {
	return errors.Is(err, ErrRepaymentShortfall) || errors.Is(err, ErrMaxRecoveryAttemptsExceeded)
}

// AdmissionClass splits admission failures into the policy (rate) and
// systemic (breaker, stop, instability) halves of the taxonomy.
func AdmissionClass(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrCircuitBreakerOpen),
		errors.Is(err, ErrEmergencyStop),
		errors.Is(err, ErrPaused),
		errors.Is(err, ErrMarketUnstable),
		errors.Is(err, ErrMaxRecoveryAttemptsExceeded):
		return ClassSystemic
	default:
		return ClassPolicy
	}
}
