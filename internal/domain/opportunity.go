package domain

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/shopspring/decimal"
)

// DefaultMaxLegs bounds the length of a route. Routes with more legs are
// rejected as malformed.
const DefaultMaxLegs = 10

// Leg is one venue-level exchange of AssetIn for AssetOut. Only the first
// leg's AmountIn is meaningful; later legs consume the previous output.
type Leg struct {
	Venue        string          `json:"venue"`
	AssetIn      common.Address  `json:"asset_in"`
	AssetOut     common.Address  `json:"asset_out"`
	AmountIn     decimal.Decimal `json:"amount_in"`
	MinAmountOut decimal.Decimal `json:"min_amount_out"`
	RoutingData  []byte          `json:"routing_data,omitempty"`
	FeeTier      uint32          `json:"fee_tier"`
}

// Opportunity is a candidate borrowed-capital arbitrage. It is immutable
// once handed to the orchestrator.
type Opportunity struct {
	AssetIn        common.Address  `json:"asset_in"`
	AssetOut       common.Address  `json:"asset_out"`
	Amount         decimal.Decimal `json:"amount"`
	ExpectedProfit decimal.Decimal `json:"expected_profit"`
	FeeEstimate    decimal.Decimal `json:"fee_estimate"`
	StrategyID     string          `json:"strategy_id"`
	Legs           []Leg           `json:"legs"`
}

// Validate checks the structural invariants of the route: between 2 and
// maxLegs legs, each leg's output feeding the next leg's input, and a route
// that starts and ends in the borrowed asset.
func (o Opportunity) Validate(maxLegs int) error {
	if maxLegs <= 0 {
		maxLegs = DefaultMaxLegs
	}
	if o.StrategyID == "" {
		return invalid("strategy id is empty")
	}
	if !o.Amount.IsPositive() {
		return invalid("amount must be positive")
	}
	if o.ExpectedProfit.IsNegative() {
		return invalid("expected profit is negative")
	}
	if o.FeeEstimate.IsNegative() {
		return invalid("fee estimate is negative")
	}
	if (o.AssetIn == common.Address{}) {
		return invalid("asset in is the zero address")
	}
	n := len(o.Legs)
	if n < 2 {
		return invalid(fmt.Sprintf("route has %d legs, need at least 2", n))
	}
	if n > maxLegs {
		return invalid(fmt.Sprintf("route has %d legs, limit is %d", n, maxLegs))
	}
	first, last := o.Legs[0], o.Legs[n-1]
	if first.AssetIn != o.AssetIn {
		return invalid("first leg does not consume the borrowed asset")
	}
	if last.AssetOut != o.AssetIn {
		return invalid("last leg does not return the borrowed asset")
	}
	if !first.AmountIn.IsZero() && !first.AmountIn.Equal(o.Amount) {
		return invalid("first leg amount differs from the borrowed amount")
	}
	touchesOut := (o.AssetOut == common.Address{})
	for i, leg := range o.Legs {
		if leg.Venue == "" {
			return invalid(fmt.Sprintf("leg %d has no venue", i))
		}
		if leg.AssetIn == leg.AssetOut {
			return invalid(fmt.Sprintf("leg %d swaps an asset for itself", i))
		}
		if leg.MinAmountOut.IsNegative() {
			return invalid(fmt.Sprintf("leg %d min amount out is negative", i))
		}
		if i > 0 && o.Legs[i-1].AssetOut != leg.AssetIn {
			return invalid(fmt.Sprintf("leg %d input does not match leg %d output", i, i-1))
		}
		if leg.AssetOut == o.AssetOut {
			touchesOut = true
		}
	}
	if !touchesOut {
		return invalid("no leg produces the declared asset out")
	}
	return nil
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidOpportunity, reason)
}

// Assets returns every asset the route touches, sorted by address.
func (o Opportunity) Assets() []common.Address {
	seen := map[common.Address]bool{o.AssetIn: true}
	out := []common.Address{o.AssetIn}
	add := func(a common.Address) {
		if (a != common.Address{}) && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	add(o.AssetOut)
	for _, l := range o.Legs {
		add(l.AssetIn)
		add(l.AssetOut)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

type legRLP struct {
	Venue        string
	AssetIn      common.Address
	AssetOut     common.Address
	AmountIn     string
	MinAmountOut string
	RoutingData  []byte
	FeeTier      uint32
}

type opportunityRLP struct {
	StrategyID     string
	AssetIn        common.Address
	AssetOut       common.Address
	Amount         string
	ExpectedProfit string
	FeeEstimate    string
	Legs           []legRLP
}

func (o Opportunity) toRLP() opportunityRLP {
	legs := make([]legRLP, len(o.Legs))
	for i, l := range o.Legs {
		legs[i] = legRLP{
			Venue:        l.Venue,
			AssetIn:      l.AssetIn,
			AssetOut:     l.AssetOut,
			AmountIn:     l.AmountIn.String(),
			MinAmountOut: l.MinAmountOut.String(),
			RoutingData:  l.RoutingData,
			FeeTier:      l.FeeTier,
		}
	}
	return opportunityRLP{
		StrategyID:     o.StrategyID,
		AssetIn:        o.AssetIn,
		AssetOut:       o.AssetOut,
		Amount:         o.Amount.String(),
		ExpectedProfit: o.ExpectedProfit.String(),
		FeeEstimate:    o.FeeEstimate.String(),
		Legs:           legs,
	}
}

// MarshalRLP returns the canonical RLP encoding of the opportunity.
func (o Opportunity) MarshalRLP() ([]byte, error) {
	return rlp.EncodeToBytes(o.toRLP())
}

// DecodeOpportunity reverses MarshalRLP.
func DecodeOpportunity(b []byte) (Opportunity, error) {
	var raw opportunityRLP
	if err := rlp.DecodeBytes(b, &raw); err != nil {
		return Opportunity{}, fmt.Errorf("decode opportunity: %w", err)
	}
	o := Opportunity{
		StrategyID: raw.StrategyID,
		AssetIn:    raw.AssetIn,
		AssetOut:   raw.AssetOut,
		Legs:       make([]Leg, len(raw.Legs)),
	}
	var err error
	if o.Amount, err = decimal.NewFromString(raw.Amount); err != nil {
		return Opportunity{}, fmt.Errorf("decode opportunity amount: %w", err)
	}
	if o.ExpectedProfit, err = decimal.NewFromString(raw.ExpectedProfit); err != nil {
		return Opportunity{}, fmt.Errorf("decode opportunity profit: %w", err)
	}
	if o.FeeEstimate, err = decimal.NewFromString(raw.FeeEstimate); err != nil {
		return Opportunity{}, fmt.Errorf("decode opportunity fee: %w", err)
	}
	for i, l := range raw.Legs {
		leg := Leg{
			Venue:       l.Venue,
			AssetIn:     l.AssetIn,
			AssetOut:    l.AssetOut,
			RoutingData: l.RoutingData,
			FeeTier:     l.FeeTier,
		}
		if leg.AmountIn, err = decimal.NewFromString(l.AmountIn); err != nil {
			return Opportunity{}, fmt.Errorf("decode leg %d amount: %w", i, err)
		}
		if leg.MinAmountOut, err = decimal.NewFromString(l.MinAmountOut); err != nil {
			return Opportunity{}, fmt.Errorf("decode leg %d min out: %w", i, err)
		}
		o.Legs[i] = leg
	}
	return o, nil
}

// Hash is the operation hash used to key audit records: keccak256 over the
// canonical RLP encoding.
func (o Opportunity) Hash() common.Hash {
	b, err := o.MarshalRLP()
	if err != nil {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(b)
}
