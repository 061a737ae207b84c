package domain

import "github.com/ethereum/go-ethereum/common"

// Capability names one administrative or operational permission.
type Capability string

const (
	CapStrategyManage  Capability = "strategy.manage"
	CapRiskManage      Capability = "risk.manage"
	CapBreakerManage   Capability = "breaker.manage"
	CapSystemPause     Capability = "system.pause"
	CapSystemEmergency Capability = "system.emergency"
	CapExecute         Capability = "attempt.execute"
	CapRoleManage      Capability = "role.manage"
)

// Authorizer decides whether caller holds capability c. It returns an error
// wrapping ErrUnauthorized when it does not.
type Authorizer interface {
	Authorize(caller common.Address, c Capability) error
}
