// Package amount provides the fixed-point balance type used by every ledger.
//
// Amounts carry 6 decimal places and are stored as unsigned 256-bit integers
// in the smallest unit (1 token = 1,000,000 units). Arithmetic saturates:
// additions clamp at the maximum value and subtractions clamp at zero, so no
// ledger operation can wrap around.
package amount

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

const Decimals = 6

// BPSDenominator is the basis-point scale used for percentages (100% = 10000).
const BPSDenominator = 10_000

var unit = uint256.NewInt(1_000_000)

// Amount is a non-negative token quantity in smallest units.
type Amount struct {
	v uint256.Int
}

// Zero returns the zero amount.
func Zero() Amount { return Amount{} }

// FromUnits builds an amount from a count of smallest units.
func FromUnits(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// Tokens builds an amount from whole tokens (Tokens(1) == "1.000000").
func Tokens(n uint64) Amount {
	a := FromUnits(n)
	a.v.Mul(&a.v, unit)
	return a
}

// Max returns the largest representable amount.
func Max() Amount {
	var a Amount
	a.v.SetAllOne()
	return a
}

// Parse converts a decimal string (e.g. "1.50") to an Amount.
//
// Rules:
//   - Empty string returns (0, true)
//   - Signs are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 6 decimal places
func Parse(s string) (Amount, bool) {
	if s == "" {
		return Zero(), true
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return Amount{}, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}
	if whole == "" && frac == "" {
		return Amount{}, false
	}
	if !digits(whole) || !digits(frac) {
		return Amount{}, false
	}

	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := strings.TrimLeft(whole+frac, "0")
	if combined == "" {
		return Zero(), true
	}
	var a Amount
	if err := a.v.SetFromDecimal(combined); err != nil {
		return Amount{}, false
	}
	return a, true
}

// MustParse is Parse for constants and tests; it panics on invalid input.
func MustParse(s string) Amount {
	a, ok := Parse(s)
	if !ok {
		panic(fmt.Sprintf("amount: invalid literal %q", s))
	}
	return a
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// String formats the amount with exactly 6 decimal places (e.g. "1.500000").
func (a Amount) String() string {
	s := a.v.Dec()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	point := len(s) - Decimals
	return s[:point] + "." + s[point:]
}

// Units returns the raw smallest-unit integer as a decimal string.
func (a Amount) Units() string { return a.v.Dec() }

// Uint256 returns a copy of the underlying integer.
func (a Amount) Uint256() *uint256.Int {
	return new(uint256.Int).Set(&a.v)
}

func (a Amount) IsZero() bool { return a.v.IsZero() }

// Cmp returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

func (a Amount) Lt(b Amount) bool { return a.v.Lt(&b.v) }
func (a Amount) Gt(b Amount) bool { return a.v.Gt(&b.v) }
func (a Amount) Eq(b Amount) bool { return a.v.Eq(&b.v) }

// Add returns a+b, clamped at Max.
func (a Amount) Add(b Amount) Amount {
	var r Amount
	if _, overflow := r.v.AddOverflow(&a.v, &b.v); overflow {
		return Max()
	}
	return r
}

// Sub returns a-b, clamped at zero.
func (a Amount) Sub(b Amount) Amount {
	var r Amount
	if _, underflow := r.v.SubOverflow(&a.v, &b.v); underflow {
		return Zero()
	}
	return r
}

// CheckedSub returns a-b and false when b > a.
func (a Amount) CheckedSub(b Amount) (Amount, bool) {
	var r Amount
	if _, underflow := r.v.SubOverflow(&a.v, &b.v); underflow {
		return Zero(), false
	}
	return r, true
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.Lt(b) {
		return a
	}
	return b
}

// MulDiv returns floor(a*num/den), clamped at Max. A zero denominator yields zero.
func (a Amount) MulDiv(num, den uint64) Amount {
	if den == 0 {
		return Zero()
	}
	var r Amount
	n := uint256.NewInt(num)
	d := uint256.NewInt(den)
	if _, overflow := r.v.MulDivOverflow(&a.v, n, d); overflow {
		return Max()
	}
	return r
}

// MulRatio returns floor(a*num/den) for 256-bit ratio terms.
func (a Amount) MulRatio(num, den Amount) Amount {
	if den.IsZero() {
		return Zero()
	}
	var r Amount
	if _, overflow := r.v.MulDivOverflow(&a.v, &num.v, &den.v); overflow {
		return Max()
	}
	return r
}

// BPS returns the basis-point share of a, rounded down.
func (a Amount) BPS(bps uint64) Amount {
	return a.MulDiv(bps, BPSDenominator)
}

// Sum adds all amounts with saturation.
func Sum(as ...Amount) Amount {
	var total Amount
	for _, a := range as {
		total = total.Add(a)
	}
	return total
}

// MarshalJSON encodes the amount as a decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts the decimal string produced by MarshalJSON.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("amount must be a decimal string: %w", err)
	}
	v, ok := Parse(s)
	if !ok {
		return fmt.Errorf("invalid amount %q", s)
	}
	*a = v
	return nil
}
