package invoices

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tierbill/pkg/coupons"
	"github.com/platinummonkey/tierbill/pkg/money"
	"github.com/platinummonkey/tierbill/pkg/tiers"
)

func TestPrice(t *testing.T) {
	catalog := tiers.Default()

	t.Run("success - starter overage", func(t *testing.T) {
		inv := &Invoice{TierID: tiers.Starter}
		usage := tiers.Usage{Contractors: 7, StorageGB: decimal.NewFromInt(15), APICalls: 75000}

		require.NoError(t, Price(catalog, inv, usage, nil))
		assert.Equal(t, "10", inv.ContractorOverageCost.String())
		assert.Equal(t, "7.5", inv.StorageOverageCost.String())
		assert.Equal(t, "2.5", inv.APIOverageCost.String())
		assert.Equal(t, "20", inv.OverageCost().String())
		assert.Equal(t, "219", inv.Subtotal.String())
		assert.True(t, inv.CouponDiscount.IsZero())
		assert.Equal(t, "21.9", inv.TaxAmount.String())
		assert.Equal(t, "240.9", inv.TotalDue.String())
		assert.Nil(t, inv.AppliedCouponID)
		assert.Empty(t, inv.Notes)
	})

	t.Run("success - percentage coupon then GST", func(t *testing.T) {
		inv := &Invoice{TierID: tiers.Professional}
		usage := tiers.Usage{Contractors: 51, StorageGB: decimal.NewFromInt(29)}
		applied := &coupons.AppliedCoupon{
			ID: 4, Code: "TENOFF", Status: coupons.AppliedActive,
			DiscountType: coupons.DiscountPercentage, DiscountValue: decimal.NewFromInt(10),
		}

		require.NoError(t, Price(catalog, inv, usage, applied))
		assert.Equal(t, "507", inv.Subtotal.String())
		assert.Equal(t, "50.7", inv.CouponDiscount.String())
		assert.Equal(t, "45.63", inv.TaxAmount.String())
		assert.Equal(t, "501.93", inv.TotalDue.String())
		require.NotNil(t, inv.AppliedCouponID)
		assert.Equal(t, int64(4), *inv.AppliedCouponID)
		assert.Equal(t, "Coupon applied: TENOFF", inv.Notes)
	})

	t.Run("success - fixed coupon never exceeds subtotal", func(t *testing.T) {
		inv := &Invoice{TierID: tiers.Starter}
		applied := &coupons.AppliedCoupon{
			ID: 1, Code: "BIG", Status: coupons.AppliedActive,
			DiscountType: coupons.DiscountFixedAmount, DiscountValue: decimal.NewFromInt(1000),
		}

		require.NoError(t, Price(catalog, inv, tiers.Usage{}, applied))
		assert.True(t, inv.CouponDiscount.Equal(inv.Subtotal))
		assert.True(t, inv.TotalDue.IsZero())
	})

	t.Run("success - total matches the GST identity", func(t *testing.T) {
		for _, pct := range []int64{0, 5, 15, 33, 100} {
			inv := &Invoice{TierID: tiers.Enterprise}
			usage := tiers.Usage{Contractors: 503, StorageGB: decimal.RequireFromString("100.333"), APICalls: 5_012_345}
			var applied *coupons.AppliedCoupon
			if pct > 0 {
				applied = &coupons.AppliedCoupon{Status: coupons.AppliedActive,
					DiscountType: coupons.DiscountPercentage, DiscountValue: decimal.NewFromInt(pct)}
			}
			require.NoError(t, Price(catalog, inv, usage, applied))

			want := money.Round2(inv.Subtotal.Sub(inv.CouponDiscount).Mul(decimal.RequireFromString("1.10")))
			taxable := inv.Subtotal.Sub(inv.CouponDiscount)
			assert.True(t, inv.TotalDue.Equal(money.Round2(taxable.Add(money.Round2(taxable.Mul(decimal.RequireFromString("0.10")))))))
			assert.True(t, inv.TotalDue.Sub(want).Abs().LessThanOrEqual(decimal.RequireFromString("0.01")), "pct %d", pct)
			assert.True(t, inv.CouponDiscount.LessThanOrEqual(inv.Subtotal))
		}
	})

	t.Run("error - unknown tier", func(t *testing.T) {
		err := Price(catalog, &Invoice{TierID: "gold"}, tiers.Usage{}, nil)
		assert.Error(t, err)
	})
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "INV-2025-12-00001", FormatNumber(2025, 12, 1))
	assert.Equal(t, "INV-2024-03-00042", FormatNumber(2024, 3, 42))
	assert.Equal(t, "INV-2024-03-123456", FormatNumber(2024, 3, 123456))
}

func TestLineItems(t *testing.T) {
	catalog := tiers.Default()
	inv := &Invoice{
		TierID:      tiers.Starter,
		PeriodStart: time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, Price(catalog, inv, tiers.Usage{Contractors: 7, StorageGB: decimal.NewFromInt(15), APICalls: 75000}, nil))

	items := LineItems(catalog, inv)
	require.Len(t, items, 4)
	assert.Equal(t, "Starter Plan (2025-11-01 to 2025-11-30)", items[0].Description)
	assert.Equal(t, "199", items[0].Amount.String())
	assert.Equal(t, "Storage Overage", items[1].Description)
	assert.Equal(t, "0.75", items[1].UnitPrice.String())
	assert.Equal(t, "API Calls Overage", items[2].Description)
	assert.Equal(t, "0.0001", items[2].UnitPrice.String())
	assert.Equal(t, "Extra Contractor Seats", items[3].Description)
	assert.Equal(t, "2", items[3].Quantity.String())
	assert.Equal(t, "5", items[3].UnitPrice.String())

	t.Run("success - plan only with discount line", func(t *testing.T) {
		inv := &Invoice{TierID: tiers.Starter, BaseCost: decimal.NewFromInt(199), CouponDiscount: decimal.NewFromInt(20)}
		items := LineItems(catalog, inv)
		require.Len(t, items, 2)
		assert.Equal(t, "Coupon Discount", items[1].Description)
		assert.Equal(t, "-20", items[1].Amount.String())
	})
}

func TestDaysOverdue(t *testing.T) {
	due := time.Date(2025, 12, 6, 0, 0, 0, 0, time.UTC)
	inv := &Invoice{DueDate: due}

	assert.Equal(t, 0, inv.DaysOverdue(due.Add(-time.Hour)))
	assert.Equal(t, 0, inv.DaysOverdue(due))
	assert.Equal(t, 1, inv.DaysOverdue(due.Add(time.Hour)))
	assert.Equal(t, 7, inv.DaysOverdue(time.Date(2025, 12, 13, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 8, inv.DaysOverdue(time.Date(2025, 12, 13, 9, 0, 0, 0, time.UTC)))
}

func TestStatusUnpaid(t *testing.T) {
	assert.True(t, StatusDraft.Unpaid())
	assert.True(t, StatusSent.Unpaid())
	assert.True(t, StatusOverdue.Unpaid())
	assert.False(t, StatusPaid.Unpaid())
	assert.False(t, StatusCancelled.Unpaid())
}
