package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// LoanHandle is what the lending facility hands the borrower for the
// duration of one flash loan.
type LoanHandle interface {
	Asset() common.Address
	Amount() decimal.Decimal
	Premium() decimal.Decimal
	Data() []byte
	// Repay transfers amount back to the facility.
	Repay(ctx context.Context, amount decimal.Decimal) error
}

// FlashCallback runs inside the facility's atomic unit. A non-nil error
// makes the facility revert everything the callback did.
type FlashCallback func(ctx context.Context, loan LoanHandle) error

// LendingFacility advances capital for one atomic unit and requires
// principal plus premium back before the unit concludes.
type LendingFacility interface {
	Borrow(ctx context.Context, asset common.Address, amount decimal.Decimal, data []byte, cb FlashCallback) error
}

// SwapParams is the uniform venue request.
type SwapParams struct {
	AssetIn      common.Address
	AssetOut     common.Address
	AmountIn     decimal.Decimal
	MinAmountOut decimal.Decimal
	FeeTier      uint32
	RoutingData  []byte
}

// Venue is one exchange or router adapter.
type Venue interface {
	Name() string
	Swap(ctx context.Context, p SwapParams) (decimal.Decimal, error)
	QuoteOut(ctx context.Context, p SwapParams) (decimal.Decimal, error)
	QuoteIn(ctx context.Context, p SwapParams, amountOut decimal.Decimal) (decimal.Decimal, error)
}

// MarketState is a point-in-time view handed to strategies.
type MarketState struct {
	FeePrice decimal.Decimal
	Assets   map[common.Address]MarketSnapshot
}

// MarketFeed is the read-only price, volume and network fee source.
type MarketFeed interface {
	FeePrice(ctx context.Context) (decimal.Decimal, error)
	Snapshot(ctx context.Context, asset common.Address) (MarketSnapshot, error)
	State(ctx context.Context) (MarketState, error)
}
