// Package money converts between major currency units and integer cents.
//
// Balances are always held as Cents. Decimal amounts only appear at the
// edges: event payloads, allocation results and user input.
package money

import (
	"github.com/shopspring/decimal"
)

// Cents is an amount in minor currency units.
type Cents int64

// PayoutUnit is the payout granularity in NORMAL_20S mode (20 major units).
const PayoutUnit Cents = 2000

var hundred = decimal.NewFromInt(100)

// FromDecimal converts a major-unit amount to cents, rounding half away
// from zero.
func FromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Mul(hundred).Round(0).IntPart())
}

// Decimal returns the amount in major units with two decimal places.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String renders the amount in major units, e.g. "13.33".
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// FloorTo returns the largest multiple of unit not greater than c, and zero
// for non-positive amounts.
func (c Cents) FloorTo(unit Cents) Cents {
	if c <= 0 || unit <= 0 {
		return 0
	}
	return c / unit * unit
}

// Amount is a major-unit value that encodes as a plain JSON number with two
// decimals and decodes from either a number or a quoted string.
type Amount struct {
	d decimal.Decimal
}

// NewAmount wraps a decimal amount.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{d: d}
}

// AmountFromCents wraps a cent amount.
func AmountFromCents(c Cents) Amount {
	return Amount{d: c.Decimal()}
}

// Decimal returns the wrapped value.
func (a Amount) Decimal() decimal.Decimal {
	return a.d
}

// Cents returns the value rounded to cents.
func (a Amount) Cents() Cents {
	return FromDecimal(a.d)
}

// String renders the amount with two decimals.
func (a Amount) String() string {
	return a.d.StringFixed(2)
}

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.d.StringFixed(2)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	a.d = d
	return nil
}
