package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

var (
	assetX = common.HexToAddress("0x1")
	assetY = common.HexToAddress("0x2")
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestLedgerTransfer(t *testing.T) {
	l := NewLedger()
	l.Deposit("alice", assetX, dec(10))

	if err := l.Transfer("alice", "bob", assetX, dec(4)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := l.Balance("alice", assetX); !got.Equal(dec(6)) {
		t.Errorf("alice = %s, want 6", got)
	}
	if got := l.Balance("bob", assetX); !got.Equal(dec(4)) {
		t.Errorf("bob = %s, want 4", got)
	}
	if err := l.Transfer("bob", "alice", assetX, dec(5)); err == nil {
		t.Error("overdraw succeeded")
	}
	if err := l.Transfer("alice", "bob", assetX, dec(-1)); err == nil {
		t.Error("negative transfer succeeded")
	}
}

func TestLedgerSnapshotRevert(t *testing.T) {
	l := NewLedger()
	l.Deposit("alice", assetX, dec(10))
	snap := l.Snapshot()

	l.Deposit("alice", assetX, dec(5))
	l.Deposit("carol", assetY, dec(1))
	l.Revert(snap)

	if got := l.Balance("alice", assetX); !got.Equal(dec(10)) {
		t.Errorf("alice = %s, want 10", got)
	}
	if got := l.Balance("carol", assetY); !got.IsZero() {
		t.Errorf("carol = %s, want 0", got)
	}
}

func TestVenueQuotes(t *testing.T) {
	v := NewVenue("a", NewLedger(), "trader")
	v.SetRate(assetX, assetY, NewRate(3, 2))
	ctx := context.Background()

	tests := []struct {
		name    string
		in      int64
		wantOut int64
	}{
		{"exact", 100, 150},
		{"truncates", 5, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := v.QuoteOut(ctx, domain.SwapParams{AssetIn: assetX, AssetOut: assetY, AmountIn: dec(tt.in)})
			if err != nil {
				t.Fatalf("QuoteOut: %v", err)
			}
			if !out.Equal(dec(tt.wantOut)) {
				t.Errorf("QuoteOut(%d) = %s, want %d", tt.in, out, tt.wantOut)
			}
		})
	}

	in, err := v.QuoteIn(ctx, domain.SwapParams{AssetIn: assetX, AssetOut: assetY}, dec(8))
	if err != nil {
		t.Fatalf("QuoteIn: %v", err)
	}
	// 8*2/3 rounds up to 6; 6*3/2 = 9 >= 8.
	if !in.Equal(dec(6)) {
		t.Errorf("QuoteIn = %s, want 6", in)
	}

	_, err = v.QuoteOut(ctx, domain.SwapParams{AssetIn: assetY, AssetOut: assetX, AmountIn: dec(1)})
	if !errors.Is(err, domain.ErrVenueUnavailable) {
		t.Errorf("unknown pair err = %v, want ErrVenueUnavailable", err)
	}
}

func TestVenueSwap(t *testing.T) {
	ledger := NewLedger()
	v := NewVenue("a", ledger, "trader")
	v.SetRate(assetX, assetY, NewRate(2, 1))
	ledger.Deposit("trader", assetX, dec(10))
	ledger.Deposit(v.Account(), assetY, dec(100))
	ctx := context.Background()

	out, err := v.Swap(ctx, domain.SwapParams{AssetIn: assetX, AssetOut: assetY, AmountIn: dec(10), MinAmountOut: dec(20)})
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if !out.Equal(dec(20)) {
		t.Errorf("out = %s, want 20", out)
	}
	if got := ledger.Balance("trader", assetY); !got.Equal(dec(20)) {
		t.Errorf("trader Y = %s, want 20", got)
	}
	if got := ledger.Balance(v.Account(), assetX); !got.Equal(dec(10)) {
		t.Errorf("venue X = %s, want 10", got)
	}

	// Execution drifts below the quote and trips the minimum.
	ledger.Deposit("trader", assetX, dec(10))
	v.SetFillRate(assetX, assetY, NewRate(1, 1))
	_, err = v.Swap(ctx, domain.SwapParams{AssetIn: assetX, AssetOut: assetY, AmountIn: dec(10), MinAmountOut: dec(20)})
	if !errors.Is(err, domain.ErrSlippageExceeded) {
		t.Fatalf("err = %v, want ErrSlippageExceeded", err)
	}
	if got := ledger.Balance("trader", assetX); !got.Equal(dec(10)) {
		t.Errorf("trader X after failed swap = %s, want 10", got)
	}
}

func TestFacilityBorrow(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		repay   int64
		cbErr   error
		wantErr error
	}{
		{"repaid in full", 10009, nil, nil},
		{"short repayment", 10008, nil, domain.ErrRepaymentShortfall},
		{"callback fails", 10009, domain.ErrSlippageExceeded, domain.ErrSlippageExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := NewLedger()
			ledger.Deposit(FacilityAccount, assetX, dec(100000))
			ledger.Deposit("exec", assetX, dec(50))
			f := NewFacility(ledger, "exec", 9)

			err := f.Borrow(ctx, assetX, dec(10000), []byte("op"), func(ctx context.Context, loan domain.LoanHandle) error {
				if !loan.Premium().Equal(dec(9)) {
					t.Errorf("premium = %s, want 9", loan.Premium())
				}
				if string(loan.Data()) != "op" {
					t.Errorf("data = %q", loan.Data())
				}
				if err := loan.Repay(ctx, dec(tt.repay)); err != nil {
					return err
				}
				return tt.cbErr
			})

			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Borrow: %v", err)
				}
				if got := ledger.Balance(FacilityAccount, assetX); !got.Equal(dec(100009)) {
					t.Errorf("pool = %s, want 100009", got)
				}
				if got := ledger.Balance("exec", assetX); !got.Equal(dec(41)) {
					t.Errorf("borrower = %s, want 41", got)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got := ledger.Balance(FacilityAccount, assetX); !got.Equal(dec(100000)) {
				t.Errorf("pool after revert = %s, want 100000", got)
			}
			if got := ledger.Balance("exec", assetX); !got.Equal(dec(50)) {
				t.Errorf("borrower after revert = %s, want 50", got)
			}
		})
	}
}
