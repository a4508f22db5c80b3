package coupons

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/tierbill/pkg/money"
)

// CalculateDiscount returns the discount for base, rounded to cents.
// Percentage discounts take value% of base; fixed amounts never exceed base;
// trial days never reduce a recurring charge.
func CalculateDiscount(base decimal.Decimal, discountType DiscountType, value decimal.Decimal) decimal.Decimal {
	if base.Sign() <= 0 || value.Sign() <= 0 {
		return decimal.Zero
	}
	var d decimal.Decimal
	switch discountType {
	case DiscountPercentage:
		d = money.Percent(base, money.Min(value, decimal.NewFromInt(100)))
	case DiscountFixedAmount:
		d = money.Min(value, base)
	default:
		return decimal.Zero
	}
	return money.Round2(d)
}

// NormalizeCode trims and uppercases a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
