package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// AttemptStatus is the terminal outcome of one attempt.
type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptRejected  AttemptStatus = "rejected"
	AttemptAborted   AttemptStatus = "aborted"
)

// ExecutionResult describes how an attempt ended. Partial success is not
// representable: Status is either succeeded, rejected before borrowing, or
// aborted with every effect of the atomic unit reverted.
type ExecutionResult struct {
	AttemptID    string            `json:"attempt_id"`
	OpHash       common.Hash       `json:"op_hash"`
	StrategyID   string            `json:"strategy_id"`
	BundleID     common.Hash       `json:"bundle_id"`
	Caller       common.Address    `json:"caller"`
	AssetIn      common.Address    `json:"asset_in"`
	Status       AttemptStatus     `json:"status"`
	Amount       decimal.Decimal   `json:"amount"`
	Premium      decimal.Decimal   `json:"premium"`
	FinalBalance decimal.Decimal   `json:"final_balance"`
	Profit       decimal.Decimal   `json:"profit"`
	FeeCost      decimal.Decimal   `json:"fee_cost"`
	LegOutputs   []decimal.Decimal `json:"leg_outputs,omitempty"`
	Class        ErrorClass        `json:"class,omitempty"`
	Error        string            `json:"error,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  time.Time         `json:"completed_at"`
}
