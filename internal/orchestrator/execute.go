package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// onLoan is the facility callback. It runs the legs in order, checks the
// profit invariant and repays. Any error makes the facility revert the
// whole unit.
func (o *Orchestrator) onLoan(ctx context.Context, loan domain.LoanHandle) error {
	id, opp, err := decodeCallData(loan.Data())
	if err != nil {
		return err
	}
	v, ok := o.inflight.Load(id)
	if !ok {
		return fmt.Errorf("orchestrator: callback for unknown attempt %s: %w", id, domain.ErrReentrantAttempt)
	}
	r := v.(*run)
	if !r.state.CompareAndSwap(runBorrowing, runExecuting) {
		return fmt.Errorf("orchestrator: attempt %s re-entered: %w", id, domain.ErrReentrantAttempt)
	}
	if opp.Hash() != r.opHash || loan.Asset() != r.opp.AssetIn || !loan.Amount().Equal(r.opp.Amount) {
		return fmt.Errorf("orchestrator: loan for attempt %s does not match its opportunity: %w", id, domain.ErrInvalidOpportunity)
	}

	slip := r.params.MaxSlippageBps
	if r.cfg.MaxSlippageBps > 0 && r.cfg.MaxSlippageBps < slip {
		slip = r.cfg.MaxSlippageBps
	}

	amount := r.opp.Amount
	outputs := make([]decimal.Decimal, 0, len(r.opp.Legs))
	for i, leg := range r.opp.Legs {
		out, err := o.executeLeg(ctx, r, i, leg, amount, slip)
		if err != nil {
			return err
		}
		outputs = append(outputs, out)
		amount = out
	}

	premium := loan.Premium()
	owed := r.opp.Amount.Add(premium)
	profit := amount.Sub(owed)
	required := domain.MaxAmount(
		r.params.MinProfitThreshold,
		r.fee,
		r.cfg.MinProfit,
		domain.BpsOf(r.opp.Amount, r.params.MinProfitBps),
	)
	if amount.LessThan(owed) || profit.LessThan(required) {
		return fmt.Errorf("final %s, owed %s, profit %s, required %s: %w",
			amount, owed, profit, required, domain.ErrInsufficientProfit)
	}

	if err := loan.Repay(ctx, owed); err != nil {
		if errors.Is(err, domain.ErrRepaymentShortfall) {
			return err
		}
		return fmt.Errorf("repay %s: %v: %w", owed, err, domain.ErrRepaymentShortfall)
	}

	r.premium = premium
	r.final = amount
	r.profit = profit
	r.outputs = outputs
	r.state.Store(runDone)
	return nil
}

// executeLeg swaps amount through one leg. The minimum output is the
// tighter of the leg's own floor and the live quote less the slippage
// tolerance.
func (o *Orchestrator) executeLeg(ctx context.Context, r *run, i int, leg domain.Leg, amount decimal.Decimal, slipBps int64) (decimal.Decimal, error) {
	venue, ok := o.Venues[leg.Venue]
	if !ok {
		return decimal.Zero, fmt.Errorf("leg %d: venue %q: %w", i, leg.Venue, domain.ErrVenueUnavailable)
	}
	p := domain.SwapParams{
		AssetIn:     leg.AssetIn,
		AssetOut:    leg.AssetOut,
		AmountIn:    amount,
		FeeTier:     leg.FeeTier,
		RoutingData: leg.RoutingData,
	}
	quote, err := venue.QuoteOut(ctx, p)
	if err != nil {
		return decimal.Zero, fmt.Errorf("leg %d: quote on %s: %w", i, leg.Venue, err)
	}
	p.MinAmountOut = domain.MaxAmount(leg.MinAmountOut, quote.Sub(domain.BpsOf(quote, slipBps)))

	out, err := venue.Swap(ctx, p)
	if err == nil && out.LessThan(p.MinAmountOut) {
		err = fmt.Errorf("out %s below min %s: %w", out, p.MinAmountOut, domain.ErrSlippageExceeded)
	}
	if err != nil {
		if errors.Is(err, domain.ErrSlippageExceeded) {
			o.observeSlippage(ctx, r, leg, quote, out)
		}
		return decimal.Zero, fmt.Errorf("leg %d on %s: %w", i, leg.Venue, err)
	}
	return out, nil
}

// observeSlippage classifies a slipped fill and reports it when it looks
// adversarial.
func (o *Orchestrator) observeSlippage(ctx context.Context, r *run, leg domain.Leg, quote, out decimal.Decimal) {
	observed := int64(0)
	if out.LessThan(quote) {
		observed = domain.ChangeBps(quote, out)
	}
	feePrice, err := o.Feed.FeePrice(ctx)
	if err != nil {
		feePrice = decimal.Zero
	}
	kind := o.MEV.DetectAttack(leg.AssetOut, feePrice, observed)
	log := o.logger.With(slog.String("attempt_id", r.id), slog.String("venue", leg.Venue))
	log.WarnContext(ctx, "leg slipped",
		slog.String("quote", quote.String()),
		slog.String("out", out.String()),
		slog.Int64("slippage_bps", observed),
		slog.String("attack", string(kind)),
	)
	if kind != domain.AttackNone {
		o.reportAttack(ctx, log, r.caller, r.opp.AssetIn, kind)
	}
}
