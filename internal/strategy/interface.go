// Package strategy holds the pluggable route strategies and the registry
// that tracks their configuration and performance.
package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Strategy is the capability set every route strategy implements.
type Strategy interface {
	Name() string
	// SelectRoute proposes an opportunity for the given market state, or
	// returns domain.ErrNoOpportunity.
	SelectRoute(ctx context.Context, state domain.MarketState) (domain.Opportunity, error)
	// EstimateFee returns the expected execution fee in the borrowed asset.
	EstimateFee(ctx context.Context, opp domain.Opportunity) (decimal.Decimal, error)
	// RiskScore is a static score; lower is safer.
	RiskScore() int
	IsCompatible(opp domain.Opportunity) bool
}

// Candidate is a compatible strategy for some opportunity.
type Candidate struct {
	ID        string
	RiskScore int
}
