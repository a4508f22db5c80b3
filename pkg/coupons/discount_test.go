package coupons

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCalculateDiscount(t *testing.T) {
	d := decimal.RequireFromString
	tests := []struct {
		name  string
		base  string
		typ   DiscountType
		value string
		want  string
	}{
		{"percentage", "149.00", DiscountPercentage, "20", "29.80"},
		{"percentage rounds half away from zero", "10.05", DiscountPercentage, "50", "5.03"},
		{"percentage capped at 100", "80.00", DiscountPercentage, "150", "80.00"},
		{"fixed below base", "49.00", DiscountFixedAmount, "10", "10.00"},
		{"fixed never exceeds base", "49.00", DiscountFixedAmount, "75", "49.00"},
		{"trial days never discount", "49.00", DiscountTrialDays, "14", "0.00"},
		{"zero base", "0", DiscountPercentage, "20", "0.00"},
		{"unknown type", "49.00", DiscountType("bogus"), "5", "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateDiscount(d(tt.base), tt.typ, d(tt.value))
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestAppliedCouponDiscount(t *testing.T) {
	a := &AppliedCoupon{Status: AppliedActive, DiscountType: DiscountFixedAmount, DiscountValue: decimal.NewFromInt(20)}
	assert.Equal(t, "20.00", a.Discount(decimal.NewFromInt(100)).StringFixed(2))

	a.Status = AppliedUsed
	assert.True(t, a.Discount(decimal.NewFromInt(100)).IsZero())

	var none *AppliedCoupon
	assert.True(t, none.Discount(decimal.NewFromInt(100)).IsZero())
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SAVE20", NormalizeCode("  save20 "))
}
