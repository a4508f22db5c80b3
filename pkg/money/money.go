// Package money holds the rounding rules for currency and quantity fields.
//
// Amounts are carried as decimal.Decimal end to end. Rounding happens once,
// at the boundary where a value becomes a persisted or reported field.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency is the ISO code every amount is denominated in.
const Currency = "AUD"

var hundred = decimal.NewFromInt(100)

// Round2 rounds a currency amount to cents, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Round3 rounds a storage quantity (GB) to three places.
func Round3(d decimal.Decimal) decimal.Decimal {
	return d.Round(3)
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Cents converts an amount to integer cents after rounding.
func Cents(d decimal.Decimal) int64 {
	return Round2(d).Mul(hundred).IntPart()
}

// Percent returns d × p / 100.
func Percent(d, p decimal.Decimal) decimal.Decimal {
	return d.Mul(p).Div(hundred)
}

// MustParse parses a literal amount and panics on malformed input. It is meant
// for constants and test fixtures.
func MustParse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("money: invalid amount %q: %v", s, err))
	}
	return d
}

// Format renders an amount with exactly two decimal places.
func Format(d decimal.Decimal) string {
	return Round2(d).StringFixed(2)
}
