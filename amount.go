package x402gate

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Amount is a non-negative token amount in the asset's smallest unit.
// Amounts never carry fractional parts, which keeps policy comparisons and
// wire encoding free of floating-point error.
type Amount struct {
	units *big.Int
}

// AmountFromDecimalString parses a human decimal string (e.g. "0.001") into
// an Amount at the given decimal count. The string must round-trip losslessly
// at that decimal count: more fractional digits than decimals is an error.
func AmountFromDecimalString(s string, decimals int) (Amount, error) {
	if decimals < 0 || decimals > maxAssetDecimals {
		return Amount{}, fmt.Errorf("%w: decimals %d out of range", ErrInvalidAmount, decimals)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return Amount{}, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}

	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return Amount{}, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidAmount, s, decimals)
	}

	return Amount{units: shifted.BigInt()}, nil
}

// AmountFromUnits builds an Amount directly from smallest-unit integer units.
func AmountFromUnits(units *big.Int) (Amount, error) {
	if units == nil || units.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: units must be a non-negative integer", ErrInvalidAmount)
	}
	return Amount{units: new(big.Int).Set(units)}, nil
}

// AmountFromUnitsString parses a base-10 smallest-unit string, the form
// amounts take on the wire.
func AmountFromUnitsString(s string) (Amount, error) {
	units, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w: %q is not a base-10 integer", ErrInvalidAmount, s)
	}
	return AmountFromUnits(units)
}

// Units returns a copy of the amount in smallest units.
func (a Amount) Units() *big.Int {
	if a.units == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.units)
}

// DecimalString renders the amount as a human decimal string at the given
// decimal count, the inverse of AmountFromDecimalString.
func (a Amount) DecimalString(decimals int) string {
	return decimal.NewFromBigInt(a.Units(), -int32(decimals)).String()
}

// String renders the amount in smallest units, the wire representation.
func (a Amount) String() string {
	return a.Units().String()
}

// Cmp compares two amounts, returning -1, 0 or 1.
func (a Amount) Cmp(b Amount) int {
	return a.Units().Cmp(b.Units())
}

// Equal reports whether two amounts are the same number of units.
func (a Amount) Equal(b Amount) bool {
	return a.Cmp(b) == 0
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.Units().Sign() == 0
}
