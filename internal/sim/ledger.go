// Package sim provides an in-memory ledger with a simulated lending
// facility and constant-rate venues. Paper mode and tests run the full
// borrow, swap and repay pipeline against it.
package sim

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Account names a ledger holder.
type Account string

// Ledger tracks balances per account and asset.
type Ledger struct {
	mu       sync.Mutex
	balances map[Account]map[common.Address]decimal.Decimal
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[Account]map[common.Address]decimal.Decimal)}
}

// Deposit credits amount to who.
func (l *Ledger) Deposit(who Account, asset common.Address, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creditLocked(who, asset, amount)
}

// Balance returns who's balance of asset.
func (l *Ledger) Balance(who Account, asset common.Address) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[who][asset]
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(from, to Account, asset common.Address, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount.IsNegative() {
		return fmt.Errorf("sim: negative transfer of %s", amount)
	}
	have := l.balances[from][asset]
	if have.LessThan(amount) {
		return fmt.Errorf("sim: %s holds %s of %s, needs %s", from, have, asset.Hex(), amount)
	}
	l.balances[from][asset] = have.Sub(amount)
	l.creditLocked(to, asset, amount)
	return nil
}

func (l *Ledger) creditLocked(who Account, asset common.Address, amount decimal.Decimal) {
	if l.balances[who] == nil {
		l.balances[who] = make(map[common.Address]decimal.Decimal)
	}
	l.balances[who][asset] = l.balances[who][asset].Add(amount)
}

// Snapshot is a deep copy of all balances.
type Snapshot map[Account]map[common.Address]decimal.Decimal

// Snapshot captures the current balances.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(Snapshot, len(l.balances))
	for who, m := range l.balances {
		cp := make(map[common.Address]decimal.Decimal, len(m))
		for a, v := range m {
			cp[a] = v
		}
		out[who] = cp
	}
	return out
}

// Revert restores balances captured by Snapshot.
func (l *Ledger) Revert(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = make(map[Account]map[common.Address]decimal.Decimal, len(s))
	for who, m := range s {
		cp := make(map[common.Address]decimal.Decimal, len(m))
		for a, v := range m {
			cp[a] = v
		}
		l.balances[who] = cp
	}
}
