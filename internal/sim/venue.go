package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type pair struct {
	in, out common.Address
}

// Rate is out = in*Num/Den, truncated toward zero.
type Rate struct {
	Num decimal.Decimal
	Den decimal.Decimal
}

// NewRate builds a rate from integers.
func NewRate(num, den int64) Rate {
	return Rate{Num: decimal.NewFromInt(num), Den: decimal.NewFromInt(den)}
}

func (r Rate) apply(in decimal.Decimal) decimal.Decimal {
	q, _ := in.Mul(r.Num).QuoRem(r.Den, 0)
	return q
}

// Venue is a constant-rate exchange holding its own inventory on the
// ledger. Swaps debit the trader's input and credit its output.
type Venue struct {
	name   string
	ledger *Ledger
	trader Account

	mu    sync.RWMutex
	rates map[pair]Rate
	// fill optionally overrides the executed output after the quote, which
	// lets tests model price movement between quote and execution.
	fill map[pair]Rate
}

// NewVenue returns a venue trading on behalf of trader.
func NewVenue(name string, ledger *Ledger, trader Account) *Venue {
	return &Venue{
		name:   name,
		ledger: ledger,
		trader: trader,
		rates:  make(map[pair]Rate),
		fill:   make(map[pair]Rate),
	}
}

// Account is the venue's inventory account.
func (v *Venue) Account() Account { return Account("venue:" + v.name) }

// SetRate sets the quoted and executed rate for in->out.
func (v *Venue) SetRate(in, out common.Address, r Rate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rates[pair{in, out}] = r
	delete(v.fill, pair{in, out})
}

// SetFillRate makes executions for in->out diverge from the quote.
func (v *Venue) SetFillRate(in, out common.Address, r Rate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fill[pair{in, out}] = r
}

// Name implements domain.Venue.
func (v *Venue) Name() string { return v.name }

// QuoteOut implements domain.Venue.
func (v *Venue) QuoteOut(_ context.Context, p domain.SwapParams) (decimal.Decimal, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	r, ok := v.rates[pair{p.AssetIn, p.AssetOut}]
	if !ok {
		return decimal.Zero, fmt.Errorf("sim %s: no market %s->%s: %w", v.name, p.AssetIn.Hex(), p.AssetOut.Hex(), domain.ErrVenueUnavailable)
	}
	return r.apply(p.AmountIn), nil
}

// QuoteIn implements domain.Venue. It returns the smallest input whose
// quoted output reaches amountOut.
func (v *Venue) QuoteIn(_ context.Context, p domain.SwapParams, amountOut decimal.Decimal) (decimal.Decimal, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	r, ok := v.rates[pair{p.AssetIn, p.AssetOut}]
	if !ok || r.Num.IsZero() {
		return decimal.Zero, fmt.Errorf("sim %s: no market %s->%s: %w", v.name, p.AssetIn.Hex(), p.AssetOut.Hex(), domain.ErrVenueUnavailable)
	}
	q, rem := amountOut.Mul(r.Den).QuoRem(r.Num, 0)
	if !rem.IsZero() {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q, nil
}

// Swap implements domain.Venue. Like an on-chain router it refuses to
// deliver less than MinAmountOut.
func (v *Venue) Swap(_ context.Context, p domain.SwapParams) (decimal.Decimal, error) {
	v.mu.RLock()
	key := pair{p.AssetIn, p.AssetOut}
	r, ok := v.fill[key]
	if !ok {
		r, ok = v.rates[key]
	}
	v.mu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("sim %s: no market %s->%s: %w", v.name, p.AssetIn.Hex(), p.AssetOut.Hex(), domain.ErrVenueUnavailable)
	}

	out := r.apply(p.AmountIn)
	if out.LessThan(p.MinAmountOut) {
		return out, fmt.Errorf("sim %s: out %s below min %s: %w", v.name, out, p.MinAmountOut, domain.ErrSlippageExceeded)
	}
	if err := v.ledger.Transfer(v.trader, v.Account(), p.AssetIn, p.AmountIn); err != nil {
		return decimal.Zero, fmt.Errorf("sim %s: take input: %w", v.name, err)
	}
	if err := v.ledger.Transfer(v.Account(), v.trader, p.AssetOut, out); err != nil {
		return decimal.Zero, fmt.Errorf("sim %s: pay output: %w", v.name, err)
	}
	return out, nil
}

var _ domain.Venue = (*Venue)(nil)
