package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Proposal is a route offered by one strategy.
type Proposal struct {
	Opportunity domain.Opportunity
	RiskScore   int
}

// Propose asks every active strategy for a route against the current
// market state. Proposals are ordered by risk score, then by expected
// profit, highest first.
func (o *Orchestrator) Propose(ctx context.Context) ([]Proposal, error) {
	state, err := o.Feed.State(ctx)
	if err != nil {
		return nil, err
	}

	var out []Proposal
	for _, id := range o.Registry.Active() {
		impl, _, err := o.Registry.Get(id)
		if err != nil {
			continue
		}
		opp, err := impl.SelectRoute(ctx, state)
		if errors.Is(err, domain.ErrNoOpportunity) {
			continue
		}
		if err != nil {
			o.logger.WarnContext(ctx, "route selection failed",
				slog.String("strategy", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		opp.StrategyID = id
		out = append(out, Proposal{Opportunity: opp, RiskScore: impl.RiskScore()})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RiskScore != out[j].RiskScore {
			return out[i].RiskScore < out[j].RiskScore
		}
		return out[i].Opportunity.ExpectedProfit.GreaterThan(out[j].Opportunity.ExpectedProfit)
	})
	return out, nil
}
