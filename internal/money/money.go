// Package money holds ledger amounts as integer minor units and rates as
// exact decimals. Floating point never touches a balance.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// minorDigits is the number of decimal places kept by the ledger.
const minorDigits = 2

// Amount is a monetary value in minor units (1/100 of the currency unit).
type Amount int64

// FromUnits converts whole currency units to an Amount.
func FromUnits(units int64) Amount {
	return Amount(units * 100)
}

// ParseAmount parses a decimal string such as "24000" or "360.25".
// More than two fractional digits is an error rather than a silent rounding.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	minor := d.Shift(minorDigits)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: more than %d decimal places", s, minorDigits)
	}
	return Amount(minor.IntPart()), nil
}

// Decimal returns the amount in currency units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -minorDigits)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(minorDigits)
}

// MarshalText encodes the amount as a fixed two-decimal string.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts the ParseAmount syntax.
func (a *Amount) UnmarshalText(text []byte) error {
	v, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Rate is a fraction in [0, 1] applied to amounts.
type Rate struct {
	d decimal.Decimal
}

// NewRate validates d as a rate.
func NewRate(d decimal.Decimal) (Rate, error) {
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return Rate{}, fmt.Errorf("rate %s out of range [0, 1]", d)
	}
	return Rate{d: d}, nil
}

// ParseRate parses a decimal fraction such as "0.08".
func ParseRate(s string) (Rate, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Rate{}, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	return NewRate(d)
}

// RateFromFloat converts a configuration float using its shortest decimal
// representation, so 0.08 becomes exactly 0.08.
func RateFromFloat(f float64) (Rate, error) {
	return NewRate(decimal.NewFromFloat(f))
}

// MustRate is ParseRate for constants and tests. Panics on error.
func MustRate(s string) Rate {
	r, err := ParseRate(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Apply returns amount × rate rounded half-to-even to the minor unit.
func (r Rate) Apply(a Amount) Amount {
	return Amount(a.Decimal().Mul(r.d).RoundBank(minorDigits).Shift(minorDigits).IntPart())
}

// Add returns r + o. The sum is not range checked.
func (r Rate) Add(o Rate) Rate {
	return Rate{d: r.d.Add(o.d)}
}

// Decimal returns the underlying fraction.
func (r Rate) Decimal() decimal.Decimal {
	return r.d
}

// Equal reports whether both rates are the same fraction.
func (r Rate) Equal(o Rate) bool {
	return r.d.Equal(o.d)
}

// IsZero reports whether the rate is zero.
func (r Rate) IsZero() bool {
	return r.d.IsZero()
}

func (r Rate) String() string {
	return r.d.String()
}

// Percent renders the rate as a percentage, e.g. "8%".
func (r Rate) Percent() string {
	return r.d.Shift(2).String() + "%"
}

// MarshalText encodes the rate as a decimal fraction.
func (r Rate) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText accepts the ParseRate syntax.
func (r *Rate) UnmarshalText(text []byte) error {
	v, err := ParseRate(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Format renders an amount with English digit grouping, dropping a zero
// fractional part: 2400000 → "24,000", 36025 → "360.25".
func Format(a Amount) string {
	p := message.NewPrinter(language.English)
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	units, cents := v/100, v%100
	if cents == 0 {
		return sign + p.Sprintf("%d", units)
	}
	return sign + p.Sprintf("%d.%02d", units, cents)
}
