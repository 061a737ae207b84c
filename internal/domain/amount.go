package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BpsDenominator is the number of basis points in one whole.
const BpsDenominator = 10_000

var bpsDenominator = decimal.NewFromInt(BpsDenominator)

// Zero is the zero amount.
var Zero = decimal.Zero

// BpsOf returns x*bps/10000 truncated toward zero. Amounts are integer base
// units, so the result is always a whole number of units.
func BpsOf(x decimal.Decimal, bps int64) decimal.Decimal {
	q, _ := x.Mul(decimal.NewFromInt(bps)).QuoRem(bpsDenominator, 0)
	return q
}

// ChangeBps returns |to-from|*10000/from truncated toward zero. A zero or
// negative baseline yields 0 because no relative change can be measured.
func ChangeBps(from, to decimal.Decimal) int64 {
	if !from.IsPositive() {
		return 0
	}
	q, _ := to.Sub(from).Abs().Mul(bpsDenominator).QuoRem(from, 0)
	return q.IntPart()
}

// RatioBps returns num*10000/den truncated toward zero, or 0 when den is not
// positive.
func RatioBps(num, den decimal.Decimal) int64 {
	if !den.IsPositive() {
		return 0
	}
	q, _ := num.Mul(bpsDenominator).QuoRem(den, 0)
	return q.IntPart()
}

// QuoTrunc divides x by n and truncates toward zero to a whole unit.
func QuoTrunc(x decimal.Decimal, n int64) decimal.Decimal {
	if n == 0 {
		return decimal.Zero
	}
	q, _ := x.QuoRem(decimal.NewFromInt(n), 0)
	return q
}

// MaxAmount returns the largest of the given amounts, or zero when called
// without arguments.
func MaxAmount(xs ...decimal.Decimal) decimal.Decimal {
	if len(xs) == 0 {
		return decimal.Zero
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x.GreaterThan(m) {
			m = x
		}
	}
	return m
}

// ParseAmount parses a base-unit amount. Fractional or negative values are
// rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("parse amount %q: negative", s)
	}
	if !d.Equal(d.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("parse amount %q: fractional base units", s)
	}
	return d, nil
}
