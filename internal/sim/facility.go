package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// FacilityAccount holds the lending pool's funds.
const FacilityAccount Account = "facility"

// Facility is a flash-loan pool. Each Borrow is one atomic unit: the
// ledger is snapshotted first and restored if the callback fails or the
// pool is not made whole.
type Facility struct {
	ledger     *Ledger
	borrower   Account
	premiumBps int64

	// mu serializes loans, modelling a chain where each transaction is
	// applied in isolation.
	mu sync.Mutex
}

// NewFacility returns a pool that lends to borrower and charges premiumBps.
func NewFacility(ledger *Ledger, borrower Account, premiumBps int64) *Facility {
	return &Facility{ledger: ledger, borrower: borrower, premiumBps: premiumBps}
}

// Premium returns the fee charged for borrowing amount.
func (f *Facility) Premium(amount decimal.Decimal) decimal.Decimal {
	return domain.BpsOf(amount, f.premiumBps)
}

type loan struct {
	f       *Facility
	asset   common.Address
	amount  decimal.Decimal
	premium decimal.Decimal
	data    []byte
	repaid  decimal.Decimal
}

func (l *loan) Asset() common.Address    { return l.asset }
func (l *loan) Amount() decimal.Decimal  { return l.amount }
func (l *loan) Premium() decimal.Decimal { return l.premium }
func (l *loan) Data() []byte             { return l.data }

func (l *loan) Repay(_ context.Context, amount decimal.Decimal) error {
	if err := l.f.ledger.Transfer(l.f.borrower, FacilityAccount, l.asset, amount); err != nil {
		return fmt.Errorf("sim: repay: %v: %w", err, domain.ErrRepaymentShortfall)
	}
	l.repaid = l.repaid.Add(amount)
	return nil
}

// Borrow implements domain.LendingFacility.
func (f *Facility) Borrow(ctx context.Context, asset common.Address, amount decimal.Decimal, data []byte, cb domain.FlashCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := f.ledger.Snapshot()
	if err := f.ledger.Transfer(FacilityAccount, f.borrower, asset, amount); err != nil {
		return fmt.Errorf("sim: borrow: %w", err)
	}

	l := &loan{f: f, asset: asset, amount: amount, premium: f.Premium(amount), data: data}
	if err := cb(ctx, l); err != nil {
		f.ledger.Revert(snap)
		return err
	}

	owed := amount.Add(l.premium)
	if l.repaid.LessThan(owed) {
		f.ledger.Revert(snap)
		return fmt.Errorf("sim: repaid %s of %s: %w", l.repaid, owed, domain.ErrRepaymentShortfall)
	}
	return nil
}

var _ domain.LendingFacility = (*Facility)(nil)
