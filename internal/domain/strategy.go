package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyConfig is the operator-controlled configuration of a registered
// strategy. The rolling statistics live in StrategyPerformance.
type StrategyConfig struct {
	Active         bool            `json:"active"`
	MinProfit      decimal.Decimal `json:"min_profit"`
	MaxSlippageBps int64           `json:"max_slippage_bps"`
	FeeBudget      decimal.Decimal `json:"fee_budget"`
	CooldownPeriod time.Duration   `json:"cooldown_period"`
}

// StrategyPerformance holds the counters maintained from attempt outcomes.
// AvgFeeUsed is a running average over successful attempts only.
type StrategyPerformance struct {
	TotalAttempts      int64           `json:"total_attempts"`
	SuccessfulAttempts int64           `json:"successful_attempts"`
	TotalProfit        decimal.Decimal `json:"total_profit"`
	AvgFeeUsed         decimal.Decimal `json:"avg_fee_used"`
	LastExecutionTime  time.Time       `json:"last_execution_time"`
}

// SuccessRateBps is successful/total in basis points, derived on read.
func (p StrategyPerformance) SuccessRateBps() int64 {
	if p.TotalAttempts == 0 {
		return 0
	}
	return p.SuccessfulAttempts * BpsDenominator / p.TotalAttempts
}

// AvgProfit is TotalProfit over the successful count, derived on read.
func (p StrategyPerformance) AvgProfit() decimal.Decimal {
	return QuoTrunc(p.TotalProfit, p.SuccessfulAttempts)
}

// StrategySnapshot is a read-only view of one registry entry.
type StrategySnapshot struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Config         StrategyConfig      `json:"config"`
	Performance    StrategyPerformance `json:"performance"`
	SuccessRateBps int64               `json:"success_rate_bps"`
	AvgProfit      decimal.Decimal     `json:"avg_profit"`
	RiskScore      int                 `json:"risk_score"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// MarketSnapshot is the latest feed observation for one asset.
type MarketSnapshot struct {
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	UpdatedAt time.Time       `json:"updated_at"`
}
