package domain

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	tokX = common.HexToAddress("0x01")
	tokY = common.HexToAddress("0x02")
	tokZ = common.HexToAddress("0x03")
)

func twoLeg() Opportunity {
	return Opportunity{
		AssetIn:        tokX,
		AssetOut:       tokY,
		Amount:         decimal.NewFromInt(100),
		ExpectedProfit: decimal.NewFromInt(5),
		FeeEstimate:    decimal.NewFromInt(1),
		StrategyID:     "spread",
		Legs: []Leg{
			{Venue: "a", AssetIn: tokX, AssetOut: tokY, AmountIn: decimal.NewFromInt(100), MinAmountOut: decimal.NewFromInt(100)},
			{Venue: "b", AssetIn: tokY, AssetOut: tokX, MinAmountOut: decimal.NewFromInt(101)},
		},
	}
}

func legsOf(n int) []Leg {
	legs := make([]Leg, n)
	assets := []common.Address{tokX, tokY}
	for i := range legs {
		legs[i] = Leg{Venue: "v", AssetIn: assets[i%2], AssetOut: assets[(i+1)%2]}
	}
	return legs
}

func TestOpportunity_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *Opportunity)
		ok     bool
	}{
		{"two legs", func(*Opportunity) {}, true},
		{"single leg", func(o *Opportunity) { o.Legs = o.Legs[:1] }, false},
		{"ten legs", func(o *Opportunity) { o.Legs = legsOf(10) }, true},
		{"eleven legs", func(o *Opportunity) { o.Legs = legsOf(11) }, false},
		{"zero amount", func(o *Opportunity) { o.Amount = decimal.Zero }, false},
		{"negative profit", func(o *Opportunity) { o.ExpectedProfit = decimal.NewFromInt(-1) }, false},
		{"no strategy", func(o *Opportunity) { o.StrategyID = "" }, false},
		{"broken chain", func(o *Opportunity) { o.Legs[1].AssetIn = tokZ }, false},
		{"does not return", func(o *Opportunity) { o.Legs[1].AssetOut = tokZ }, false},
		{"first amount mismatch", func(o *Opportunity) { o.Legs[0].AmountIn = decimal.NewFromInt(99) }, false},
		{"self swap", func(o *Opportunity) { o.Legs[0].AssetOut = tokX }, false},
		{"missing venue", func(o *Opportunity) { o.Legs[1].Venue = "" }, false},
		{"asset out never produced", func(o *Opportunity) { o.AssetOut = tokZ }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := twoLeg()
			tt.mutate(&o)
			err := o.Validate(DefaultMaxLegs)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidOpportunity) {
				t.Fatalf("expected ErrInvalidOpportunity, got %v", err)
			}
		})
	}
}

func TestOpportunity_HashAndDecode(t *testing.T) {
	o := twoLeg()
	h1 := o.Hash()
	other := twoLeg()
	other.ExpectedProfit = decimal.NewFromInt(6)
	if h1 == other.Hash() {
		t.Fatal("different opportunities share a hash")
	}

	raw, err := o.MarshalRLP()
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodeOpportunity(raw)
	if err != nil {
		t.Fatal(err)
	}
	if back.Hash() != h1 {
		t.Fatal("decoded opportunity hashes differently")
	}
}

func TestOpportunity_Assets(t *testing.T) {
	o := twoLeg()
	got := o.Assets()
	if len(got) != 2 || got[0] != tokX || got[1] != tokY {
		t.Fatalf("assets = %v", got)
	}
}
