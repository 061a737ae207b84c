package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Hop is one step of a configured cyclic route.
type Hop struct {
	Venue    string         `json:"venue" toml:"venue"`
	AssetOut common.Address `json:"asset_out" toml:"asset_out"`
	FeeTier  uint32         `json:"fee_tier" toml:"fee_tier"`
}

// RouteConfig configures a RouteStrategy.
type RouteConfig struct {
	Name        string          `json:"name" toml:"name"`
	Asset       common.Address  `json:"asset" toml:"asset"`
	Amount      decimal.Decimal `json:"amount" toml:"amount"`
	Hops        []Hop           `json:"hops" toml:"hops"`
	GasPerLeg   decimal.Decimal `json:"gas_per_leg" toml:"gas_per_leg"`
	SlippageBps int64           `json:"slippage_bps" toml:"slippage_bps"`
	RiskScore   int             `json:"risk_score" toml:"risk_score"`
	MaxLegs     int             `json:"max_legs" toml:"max_legs"`
}

// RouteStrategy quotes a fixed cycle of hops that starts and ends in the
// borrowed asset (two hops for a cross-venue spread, three for a triangle)
// and proposes it when the round trip clears the estimated fee.
type RouteStrategy struct {
	cfg    RouteConfig
	venues map[string]domain.Venue
	feed   domain.MarketFeed
	logger *slog.Logger
}

// NewRouteStrategy validates the cycle against the available venues.
func NewRouteStrategy(cfg RouteConfig, venues map[string]domain.Venue, feed domain.MarketFeed, logger *slog.Logger) (*RouteStrategy, error) {
	if cfg.MaxLegs <= 0 {
		cfg.MaxLegs = domain.DefaultMaxLegs
	}
	if len(cfg.Hops) < 2 || len(cfg.Hops) > cfg.MaxLegs {
		return nil, fmt.Errorf("strategy %s: route needs 2..%d hops, got %d", cfg.Name, cfg.MaxLegs, len(cfg.Hops))
	}
	if cfg.Hops[len(cfg.Hops)-1].AssetOut != cfg.Asset {
		return nil, fmt.Errorf("strategy %s: route does not return to %s", cfg.Name, cfg.Asset.Hex())
	}
	if !cfg.Amount.IsPositive() {
		return nil, fmt.Errorf("strategy %s: amount must be positive", cfg.Name)
	}
	for _, h := range cfg.Hops {
		if _, ok := venues[h.Venue]; !ok {
			return nil, fmt.Errorf("strategy %s: unknown venue %q", cfg.Name, h.Venue)
		}
	}
	return &RouteStrategy{
		cfg:    cfg,
		venues: venues,
		feed:   feed,
		logger: logger.With(slog.String("strategy", cfg.Name)),
	}, nil
}

// Name returns the strategy identifier.
func (s *RouteStrategy) Name() string { return s.cfg.Name }

// RiskScore returns the configured score.
func (s *RouteStrategy) RiskScore() int { return s.cfg.RiskScore }

// SelectRoute quotes every hop in order, feeding each quote into the next.
func (s *RouteStrategy) SelectRoute(ctx context.Context, state domain.MarketState) (domain.Opportunity, error) {
	amount := s.cfg.Amount
	assetIn := s.cfg.Asset
	legs := make([]domain.Leg, 0, len(s.cfg.Hops))

	for i, h := range s.cfg.Hops {
		p := domain.SwapParams{
			AssetIn:  assetIn,
			AssetOut: h.AssetOut,
			AmountIn: amount,
			FeeTier:  h.FeeTier,
		}
		quote, err := s.venues[h.Venue].QuoteOut(ctx, p)
		if err != nil {
			return domain.Opportunity{}, fmt.Errorf("strategy %s: quote hop %d on %s: %w", s.cfg.Name, i, h.Venue, err)
		}
		leg := domain.Leg{
			Venue:        h.Venue,
			AssetIn:      assetIn,
			AssetOut:     h.AssetOut,
			MinAmountOut: quote.Sub(domain.BpsOf(quote, s.cfg.SlippageBps)),
			FeeTier:      h.FeeTier,
		}
		if i == 0 {
			leg.AmountIn = s.cfg.Amount
		}
		legs = append(legs, leg)
		amount = quote
		assetIn = h.AssetOut
	}

	fee := s.fee(state.FeePrice, len(legs))
	profit := amount.Sub(s.cfg.Amount).Sub(fee)
	if !profit.IsPositive() {
		return domain.Opportunity{}, domain.ErrNoOpportunity
	}

	opp := domain.Opportunity{
		AssetIn:        s.cfg.Asset,
		AssetOut:       s.cfg.Hops[0].AssetOut,
		Amount:         s.cfg.Amount,
		ExpectedProfit: profit,
		FeeEstimate:    fee,
		StrategyID:     s.cfg.Name,
		Legs:           legs,
	}
	s.logger.DebugContext(ctx, "route selected",
		slog.String("amount", opp.Amount.String()),
		slog.String("expected_profit", profit.String()),
		slog.Int("legs", len(legs)),
	)
	return opp, nil
}

// EstimateFee prices GasPerLeg units per leg at the prevailing fee price.
func (s *RouteStrategy) EstimateFee(ctx context.Context, opp domain.Opportunity) (decimal.Decimal, error) {
	if s.feed == nil {
		return decimal.Zero, errors.New("strategy: no fee price source")
	}
	price, err := s.feed.FeePrice(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("strategy %s: fee price: %w", s.cfg.Name, err)
	}
	return s.fee(price, len(opp.Legs)), nil
}

func (s *RouteStrategy) fee(price decimal.Decimal, legs int) decimal.Decimal {
	return price.Mul(s.cfg.GasPerLeg).Mul(decimal.NewFromInt(int64(legs))).Truncate(0)
}

// IsCompatible accepts routes that borrow this strategy's asset, stay within
// the leg bound, and only touch venues the strategy knows.
func (s *RouteStrategy) IsCompatible(opp domain.Opportunity) bool {
	if opp.AssetIn != s.cfg.Asset {
		return false
	}
	if len(opp.Legs) < 2 || len(opp.Legs) > s.cfg.MaxLegs {
		return false
	}
	for _, l := range opp.Legs {
		if _, ok := s.venues[l.Venue]; !ok {
			return false
		}
	}
	return true
}

var _ Strategy = (*RouteStrategy)(nil)
