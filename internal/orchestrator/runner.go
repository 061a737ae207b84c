package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Runner polls strategies on an interval and attempts every proposal it
// has not seen recently, in Propose order, as caller. Paper mode drives the
// engine with it.
type Runner struct {
	orch     *Orchestrator
	caller   common.Address
	interval time.Duration
	dedup    *Dedup
	logger   *slog.Logger

	cleanupInterval time.Duration
}

// NewRunner returns a Runner attempting as caller every interval.
func NewRunner(orch *Orchestrator, caller common.Address, interval time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		orch:            orch,
		caller:          caller,
		interval:        interval,
		dedup:           NewDedup(interval*4, orch.now),
		logger:          logger.With(slog.String("component", "runner")),
		cleanupInterval: time.Minute,
	}
}

// Run loops until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("runner started", slog.Duration("interval", r.interval))
	defer r.logger.Info("runner stopped")

	tick := time.NewTicker(r.interval)
	defer tick.Stop()
	cleanup := time.NewTicker(r.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			r.Step(ctx)
		case <-cleanup.C:
			r.dedup.Cleanup()
		}
	}
}

// Step runs one propose and attempt cycle. Every non-duplicate proposal is
// attempted until one fails fatally. It returns the results of the
// attempts it made.
func (r *Runner) Step(ctx context.Context) []domain.ExecutionResult {
	proposals, err := r.orch.Propose(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "propose failed", slog.String("error", err.Error()))
		return nil
	}

	var results []domain.ExecutionResult
	for _, p := range proposals {
		if r.dedup.IsDuplicate(p.Opportunity.Hash()) {
			continue
		}
		res, err := r.orch.Attempt(ctx, p.Opportunity, r.caller)
		results = append(results, res)
		if err != nil && domain.IsFatal(err) {
			r.logger.ErrorContext(ctx, "runner stopping after fatal attempt", slog.String("attempt_id", res.AttemptID))
			return results
		}
	}
	return results
}
