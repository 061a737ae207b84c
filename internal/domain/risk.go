package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskParams are the global risk limits. They are swapped as a whole.
type RiskParams struct {
	MaxExposurePerAsset    decimal.Decimal `json:"max_exposure_per_asset"`
	MaxExposurePerStrategy decimal.Decimal `json:"max_exposure_per_strategy"`
	MaxFeePrice            decimal.Decimal `json:"max_fee_price"`
	MinProfitThreshold     decimal.Decimal `json:"min_profit_threshold"`
	MaxSlippageBps         int64           `json:"max_slippage_bps"`
	MinProfitBps           int64           `json:"min_profit_bps"`
	EmergencyStopLoss      decimal.Decimal `json:"emergency_stop_loss"`
}

// AssetRiskProfile carries the per-asset limits and the live exposure
// counter. CurrentExposure never exceeds MaxExposure after a completed
// transition.
type AssetRiskProfile struct {
	MaxExposure     decimal.Decimal `json:"max_exposure"`
	CurrentExposure decimal.Decimal `json:"current_exposure"`
	VolatilityScore int64           `json:"volatility_score"`
	Blacklisted     bool            `json:"blacklisted"`
	LastUpdate      time.Time       `json:"last_update"`
}
