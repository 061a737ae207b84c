package orchestrator

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// record emits the audit entry, persists the result and counts it. Sink
// failures are logged and never change the outcome.
func (o *Orchestrator) record(ctx context.Context, log *slog.Logger, res domain.ExecutionResult) {
	ctx = context.WithoutCancel(ctx)
	o.metrics.ObserveAttempt(res.StrategyID, string(res.Status), string(res.Class),
		res.CompletedAt.Sub(res.StartedAt).Seconds())

	if o.audit != nil {
		rec := domain.AuditRecord{
			Event:      "attempt",
			OpHash:     res.OpHash,
			AttemptID:  res.AttemptID,
			Asset:      res.AssetIn,
			Actor:      res.Caller,
			StrategyID: res.StrategyID,
			Outcome:    string(res.Status),
			Class:      res.Class,
			Reason:     res.Error,
			Amount:     res.Amount,
			Profit:     res.Profit,
			CreatedAt:  res.CompletedAt,
		}
		rec.Detail = map[string]any{"fee_cost": res.FeeCost.String()}
		if (res.BundleID != common.Hash{}) {
			rec.Detail["bundle_id"] = res.BundleID.Hex()
		}
		if err := o.audit.Record(ctx, rec); err != nil {
			log.WarnContext(ctx, "audit record failed", slog.String("error", err.Error()))
		}
	}
	if o.attempts != nil {
		if err := o.attempts.Save(ctx, res); err != nil {
			log.WarnContext(ctx, "attempt not persisted", slog.String("error", err.Error()))
		}
	}
}
