package risk

import (
	"errors"
	"fmt"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ValidateParams checks that every limit is usable. Caps must be positive;
// a zero EmergencyStopLoss disables the stop-loss.
func ValidateParams(p domain.RiskParams) error {
	var errs []error
	if !p.MaxExposurePerAsset.IsPositive() {
		errs = append(errs, errors.New("max_exposure_per_asset must be positive"))
	}
	if !p.MaxExposurePerStrategy.IsPositive() {
		errs = append(errs, errors.New("max_exposure_per_strategy must be positive"))
	}
	if !p.MaxFeePrice.IsPositive() {
		errs = append(errs, errors.New("max_fee_price must be positive"))
	}
	if p.MinProfitThreshold.IsNegative() {
		errs = append(errs, errors.New("min_profit_threshold must not be negative"))
	}
	if p.MaxSlippageBps < 0 || p.MaxSlippageBps > domain.BpsDenominator {
		errs = append(errs, fmt.Errorf("max_slippage_bps %d out of range", p.MaxSlippageBps))
	}
	if p.MinProfitBps < 0 || p.MinProfitBps > domain.BpsDenominator {
		errs = append(errs, fmt.Errorf("min_profit_bps %d out of range", p.MinProfitBps))
	}
	if p.EmergencyStopLoss.IsNegative() {
		errs = append(errs, errors.New("emergency_stop_loss must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("risk: invalid params: %w", errors.Join(errs...))
	}
	return nil
}
