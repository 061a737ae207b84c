package mev

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

var two = decimal.NewFromInt(2)

// DetectAttack classifies an observation with fixed thresholds: a fee price
// above twice the ceiling is a frontrun, slippage above twice the maximum
// is a sandwich, and a fee price above the ceiling alone is a backrun.
func (d *Defense) DetectAttack(target common.Address, feePrice decimal.Decimal, observedSlippageBps int64) domain.AttackType {
	cfg := d.Config()
	switch {
	case feePrice.GreaterThan(cfg.FeePriceCeiling.Mul(two)):
		return domain.AttackFrontrun
	case observedSlippageBps > 2*cfg.MaxSlippageBps:
		return domain.AttackSandwich
	case feePrice.GreaterThan(cfg.FeePriceCeiling):
		return domain.AttackBackrun
	default:
		return domain.AttackNone
	}
}

// ReportAttack records an attack observation for target. Any caller may
// report; reports are counted whether or not target has bundles.
func (d *Defense) ReportAttack(ctx context.Context, caller, target common.Address, kind domain.AttackType) (domain.AttackMetrics, error) {
	st := d.asset(target)
	st.mu.Lock()
	switch kind {
	case domain.AttackFrontrun:
		st.metrics.FrontrunCount++
	case domain.AttackSandwich:
		st.metrics.SandwichCount++
	case domain.AttackBackrun:
		st.metrics.BackrunCount++
	default:
		st.mu.Unlock()
		return domain.AttackMetrics{}, fmt.Errorf("mev: report: unknown attack type %q", kind)
	}
	st.metrics.TotalProtections++
	st.metrics.LastAttackTime = d.now()
	st.metrics.AttackFrequencyBps = frequency(st.metrics)
	out := st.metrics
	st.mu.Unlock()

	d.metrics.AttackReported(string(kind))
	d.logger.WarnContext(ctx, "attack reported",
		slog.String("asset", target.Hex()),
		slog.String("type", string(kind)),
		slog.String("reporter", caller.Hex()),
		slog.Int64("frequency_bps", out.AttackFrequencyBps),
	)
	return out, nil
}

// Metrics returns the attack counters of target.
func (d *Defense) Metrics(target common.Address) domain.AttackMetrics {
	st := d.asset(target)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.metrics
}

// UnderAttack reports whether target's attack frequency is above the
// configured threshold.
func (d *Defense) UnderAttack(target common.Address) bool {
	limit := d.Config().UnderAttackBps
	return limit > 0 && d.Metrics(target).AttackFrequencyBps > limit
}

func frequency(m domain.AttackMetrics) int64 {
	tx := m.TransactionCount
	if tx < 1 {
		tx = 1
	}
	return m.TotalProtections * domain.BpsDenominator / tx
}
