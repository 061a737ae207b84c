package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/breaker"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

type inFlightKey struct{}

// run states.
const (
	runBorrowing int32 = iota
	runExecuting
	runDone
)

// run is the state an attempt shares with its loan callback.
type run struct {
	id     string
	opp    domain.Opportunity
	opHash common.Hash
	caller common.Address
	cfg    domain.StrategyConfig
	params domain.RiskParams
	fee    decimal.Decimal
	state  atomic.Int32

	premium decimal.Decimal
	final   decimal.Decimal
	profit  decimal.Decimal
	outputs []decimal.Decimal
}

// Attempt executes opp on behalf of caller. It either settles the whole
// borrow, swap and repay unit with a verified profit, or returns an
// *domain.AttemptError and leaves exposure, strategy and bundle state as
// they were, apart from failure counters.
func (o *Orchestrator) Attempt(ctx context.Context, opp domain.Opportunity, caller common.Address) (domain.ExecutionResult, error) {
	started := o.now()
	res := domain.ExecutionResult{
		AttemptID:  uuid.NewString(),
		OpHash:     opp.Hash(),
		StrategyID: opp.StrategyID,
		Caller:     caller,
		AssetIn:    opp.AssetIn,
		Amount:     opp.Amount,
		StartedAt:  started,
	}
	log := o.logger.With(
		slog.String("attempt_id", res.AttemptID),
		slog.String("strategy", opp.StrategyID),
		slog.String("asset", opp.AssetIn.Hex()),
	)

	if ctx.Value(inFlightKey{}) != nil {
		return o.reject(ctx, log, res, domain.ClassValidation, "reentrancy", domain.ErrReentrantAttempt)
	}
	ctx = context.WithValue(ctx, inFlightKey{}, res.AttemptID)

	if err := o.Authz.Authorize(caller, domain.CapExecute); err != nil {
		return o.reject(ctx, log, res, domain.ClassPolicy, "authorize", err)
	}
	if err := opp.Validate(o.maxLegs); err != nil {
		return o.reject(ctx, log, res, domain.ClassValidation, "validate", err)
	}
	params := o.Risk.Params()
	if opp.ExpectedProfit.LessThan(params.MinProfitThreshold) {
		return o.reject(ctx, log, res, domain.ClassValidation, "validate",
			fmt.Errorf("expected profit %s below threshold %s: %w", opp.ExpectedProfit, params.MinProfitThreshold, domain.ErrInsufficientProfit))
	}

	lockCtx, cancel := context.WithTimeout(ctx, o.lockTimeout)
	unlock, err := o.locker.Lock(lockCtx, breaker.AssetKey(opp.AssetIn), breaker.StrategyKey(opp.StrategyID))
	cancel()
	if err != nil {
		return o.reject(ctx, log, res, domain.ClassPolicy, "lock", err)
	}
	defer unlock()

	impl, cfg, err := o.Registry.Validate(opp.StrategyID, o.now())
	if err != nil {
		class := domain.ClassValidation
		if errors.Is(err, domain.ErrStrategyInCooldown) {
			class = domain.ClassPolicy
		}
		return o.reject(ctx, log, res, class, "strategy", err)
	}
	if !impl.IsCompatible(opp) {
		return o.reject(ctx, log, res, domain.ClassValidation, "strategy",
			fmt.Errorf("strategy %s: %w", opp.StrategyID, domain.ErrIncompatibleRoute))
	}
	fee, err := impl.EstimateFee(ctx, opp)
	if err != nil {
		return o.reject(ctx, log, res, domain.ClassPolicy, "estimate_fee", err)
	}
	res.FeeCost = fee
	if cfg.FeeBudget.IsPositive() && fee.GreaterThan(cfg.FeeBudget) {
		return o.reject(ctx, log, res, domain.ClassPolicy, "estimate_fee",
			fmt.Errorf("fee %s above budget %s: %w", fee, cfg.FeeBudget, domain.ErrFeeBudgetExceeded))
	}

	// 1. Risk pre-check.
	if err := o.Risk.PreCheck(ctx, opp); err != nil {
		return o.reject(ctx, log, res, domain.ClassPolicy, "risk", err)
	}

	// 2. Protection.
	if feePrice, err := o.Feed.FeePrice(ctx); err == nil {
		if kind := o.MEV.DetectAttack(opp.AssetIn, feePrice, 0); kind == domain.AttackFrontrun {
			o.reportAttack(ctx, log, caller, opp.AssetIn, kind)
			return o.reject(ctx, log, res, domain.ClassPolicy, "protect",
				fmt.Errorf("fee price %s signals %s: %w", feePrice, kind, domain.ErrProtectionRejected))
		}
	}
	bundleID, err := o.MEV.Protect(ctx, opp.AssetIn, opp.Amount, opp.ExpectedProfit, caller)
	if err != nil {
		return o.reject(ctx, log, res, domain.ClassPolicy, "protect", fmt.Errorf("%w: %w", domain.ErrProtectionRejected, err))
	}
	res.BundleID = bundleID

	// 3. Admission.
	o.Volatility.ReportProfit(opp.AssetIn, opp.ExpectedProfit, opp.Amount)
	if err := o.Volatility.Check(opp.AssetIn); err != nil {
		o.MEV.Abandon(bundleID)
		return o.reject(ctx, log, res, domain.AdmissionClass(err), "admit", err)
	}
	ticket, err := o.Guard.Admit(breaker.GlobalKey, breaker.StrategyKey(opp.StrategyID), breaker.AssetKey(opp.AssetIn))
	if err != nil {
		o.MEV.Abandon(bundleID)
		return o.reject(ctx, log, res, domain.AdmissionClass(err), "admit", err)
	}

	reservation, err := o.Risk.Commit(opp)
	if err != nil {
		ticket.Cancel()
		o.MEV.Abandon(bundleID)
		return o.reject(ctx, log, res, domain.ClassPolicy, "risk", err)
	}
	if err := o.MEV.Activate(bundleID); err != nil {
		reservation.Release()
		ticket.Cancel()
		o.MEV.Abandon(bundleID)
		return o.reject(ctx, log, res, domain.ClassPolicy, "protect", fmt.Errorf("%w: %w", domain.ErrProtectionRejected, err))
	}

	// 4-7. Borrow and execute as one unit. Once capital is out the unit
	// runs to a terminal outcome, so caller cancellation no longer applies.
	r := &run{
		id:     res.AttemptID,
		opp:    opp,
		opHash: res.OpHash,
		caller: caller,
		cfg:    cfg,
		params: params,
		fee:    fee,
	}
	err = o.borrow(context.WithoutCancel(ctx), r)

	// 8. Settle.
	reservation.Release()
	if err != nil {
		return o.abort(ctx, log, res, r, ticket, err)
	}

	res.Status = domain.AttemptSucceeded
	res.Premium = r.premium
	res.FinalBalance = r.final
	res.Profit = r.profit
	res.LegOutputs = r.outputs
	res.CompletedAt = o.now()

	if err := o.Registry.RecordOutcome(ctx, opp.StrategyID, true, r.profit, fee); err != nil {
		log.WarnContext(ctx, "strategy outcome not recorded", slog.String("error", err.Error()))
	}
	if err := o.MEV.Finalize(bundleID, true, fee); err != nil {
		log.WarnContext(ctx, "bundle not finalized", slog.String("error", err.Error()))
	}
	ticket.Success()
	o.metrics.AddProfit(opp.StrategyID, opp.AssetIn.Hex(), r.profit)

	log.InfoContext(ctx, "attempt succeeded",
		slog.String("profit", r.profit.String()),
		slog.String("premium", r.premium.String()),
		slog.String("final_balance", r.final.String()),
	)
	o.record(ctx, log, res)
	return res, nil
}

func (o *Orchestrator) borrow(ctx context.Context, r *run) error {
	data, err := encodeCallData(r.id, r.opp)
	if err != nil {
		return err
	}
	o.inflight.Store(r.id, r)
	defer o.inflight.Delete(r.id)

	if err := o.Facility.Borrow(ctx, r.opp.AssetIn, r.opp.Amount, data, o.onLoan); err != nil {
		return err
	}
	if r.state.Load() != runDone {
		return fmt.Errorf("orchestrator: facility returned without running the callback: %w", domain.ErrRepaymentShortfall)
	}
	return nil
}

// reject ends an attempt that never borrowed. No counters move.
func (o *Orchestrator) reject(ctx context.Context, log *slog.Logger, res domain.ExecutionResult, class domain.ErrorClass, stage string, err error) (domain.ExecutionResult, error) {
	aerr := domain.NewAttemptError(class, stage, err)
	res.Status = domain.AttemptRejected
	res.Class = class
	res.Error = err.Error()
	res.CompletedAt = o.now()

	log.WarnContext(ctx, "attempt rejected",
		slog.String("stage", stage),
		slog.String("class", string(class)),
		slog.String("error", err.Error()),
	)
	o.record(ctx, log, res)
	return res, aerr
}

// abort ends an attempt whose atomic unit reverted. Only failure counters
// move; a repayment shortfall additionally halts the system.
func (o *Orchestrator) abort(ctx context.Context, log *slog.Logger, res domain.ExecutionResult, r *run, ticket *breaker.Ticket, err error) (domain.ExecutionResult, error) {
	res.Status = domain.AttemptAborted
	res.Class = domain.ClassExecution
	res.Error = err.Error()
	res.CompletedAt = o.now()

	if ferr := o.MEV.Finalize(res.BundleID, false, decimal.Zero); ferr != nil {
		log.WarnContext(ctx, "bundle not abandoned", slog.String("error", ferr.Error()))
	}
	ticket.Failure()
	if rerr := o.Registry.RecordOutcome(ctx, res.StrategyID, false, decimal.Zero, r.fee); rerr != nil {
		log.WarnContext(ctx, "strategy outcome not recorded", slog.String("error", rerr.Error()))
	}
	o.Risk.RecordLoss(r.fee)

	if domain.IsFatal(err) {
		o.Guard.Halt(fmt.Sprintf("attempt %s: %v", res.AttemptID, err))
		log.ErrorContext(ctx, "fatal attempt failure", slog.String("error", err.Error()))
		o.alert(ctx, "repayment_shortfall", "Repayment shortfall",
			fmt.Sprintf("attempt %s on %s halted the system: %v", res.AttemptID, res.AssetIn.Hex(), err))
	} else {
		log.WarnContext(ctx, "attempt aborted", slog.String("error", err.Error()))
	}

	o.record(ctx, log, res)
	return res, domain.NewAttemptError(domain.ClassExecution, "execute", err)
}

func (o *Orchestrator) reportAttack(ctx context.Context, log *slog.Logger, caller, asset common.Address, kind domain.AttackType) {
	if _, err := o.MEV.ReportAttack(ctx, caller, asset, kind); err != nil {
		log.WarnContext(ctx, "attack not reported", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) alert(ctx context.Context, event, title, msg string) {
	if o.alerter == nil {
		return
	}
	if err := o.alerter.Notify(context.WithoutCancel(ctx), event, title, msg); err != nil {
		o.logger.ErrorContext(ctx, "alert failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
