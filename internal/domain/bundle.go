package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// BundleState is the lifecycle state of a protective bundle.
type BundleState string

const (
	BundlePending  BundleState = "pending"
	BundleActive   BundleState = "active"
	BundleExecuted BundleState = "executed"
	BundleExpired  BundleState = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s BundleState) Terminal() bool {
	return s == BundleExecuted || s == BundleExpired
}

// Bundle is the time-windowed envelope around one protected attempt.
type Bundle struct {
	ID             common.Hash     `json:"id"`
	TargetAsset    common.Address  `json:"target_asset"`
	Caller         common.Address  `json:"caller"`
	Amount         decimal.Decimal `json:"amount"`
	ExpectedProfit decimal.Decimal `json:"expected_profit"`
	WindowMin      time.Time       `json:"window_min"`
	WindowMax      time.Time       `json:"window_max"`
	State          BundleState     `json:"state"`
	FeePaid        decimal.Decimal `json:"fee_paid"`
}

// AttackType classifies an observed adversarial pattern.
type AttackType string

const (
	AttackNone     AttackType = "none"
	AttackFrontrun AttackType = "frontrun"
	AttackSandwich AttackType = "sandwich"
	AttackBackrun  AttackType = "backrun"
)

// ParseAttackType maps a wire name to an AttackType.
func ParseAttackType(s string) (AttackType, bool) {
	switch AttackType(s) {
	case AttackFrontrun, AttackSandwich, AttackBackrun:
		return AttackType(s), true
	}
	return AttackNone, false
}

// AttackMetrics are append-only per-asset counters.
type AttackMetrics struct {
	FrontrunCount      int64     `json:"frontrun_count"`
	SandwichCount      int64     `json:"sandwich_count"`
	BackrunCount       int64     `json:"backrun_count"`
	TotalProtections   int64     `json:"total_protections"`
	TransactionCount   int64     `json:"transaction_count"`
	LastAttackTime     time.Time `json:"last_attack_time"`
	AttackFrequencyBps int64     `json:"attack_frequency_bps"`
}
