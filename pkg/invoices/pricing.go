package invoices

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/tierbill/pkg/coupons"
	"github.com/platinummonkey/tierbill/pkg/money"
	"github.com/platinummonkey/tierbill/pkg/tiers"
)

const dateLayout = "2006-01-02"

// Price fills the monetary fields of inv from the tier, usage and the
// tenant's applied coupon. The coupon discount is taken from the subtotal
// and tax is charged on what remains.
func Price(catalog *tiers.Catalog, inv *Invoice, usage tiers.Usage, applied *coupons.AppliedCoupon) error {
	overage, err := catalog.CalculateOverage(inv.TierID, usage)
	if err != nil {
		return err
	}
	def, err := catalog.Get(inv.TierID)
	if err != nil {
		return err
	}
	subtotal := money.Round2(def.MonthlyPrice.Add(overage.Total))
	cost, err := catalog.MonthlyCost(inv.TierID, usage, applied.Discount(subtotal))
	if err != nil {
		return err
	}

	inv.BaseCost = cost.BaseCost
	inv.StorageOverageGB = overage.StorageGB
	inv.StorageOverageCost = overage.StorageCost
	inv.APIOverageCalls = overage.APICalls
	inv.APIOverageCost = overage.APICost
	inv.ContractorOverageCount = overage.Contractors
	inv.ContractorOverageCost = overage.ContractorCost
	inv.Subtotal = cost.Subtotal
	inv.CouponDiscount = cost.Discount
	inv.TaxAmount = cost.Tax
	inv.TotalDue = cost.Total
	inv.AppliedCouponID = nil
	inv.Notes = ""
	if applied != nil && applied.Status == coupons.AppliedActive {
		id := applied.ID
		inv.AppliedCouponID = &id
		inv.Notes = "Coupon applied: " + applied.Code
	}
	return nil
}

// FormatNumber renders an invoice number for a sequence within a month.
func FormatNumber(year, month, seq int) string {
	return fmt.Sprintf("INV-%04d-%02d-%05d", year, month, seq)
}

// LineItems breaks an invoice into display lines: the plan, then each
// non-zero overage.
func LineItems(catalog *tiers.Catalog, inv *Invoice) []LineItem {
	name := string(inv.TierID)
	if def, err := catalog.Get(inv.TierID); err == nil {
		name = def.Name
	}
	items := []LineItem{{
		Description: fmt.Sprintf("%s Plan (%s to %s)", name,
			inv.PeriodStart.Format(dateLayout), inv.PeriodEnd.Format(dateLayout)),
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: inv.BaseCost,
		Amount:    inv.BaseCost,
	}}

	add := func(desc string, qty, amount decimal.Decimal) {
		if !qty.IsPositive() {
			return
		}
		items = append(items, LineItem{
			Description: desc,
			Quantity:    qty,
			UnitPrice:   amount.DivRound(qty, 4),
			Amount:      amount,
		})
	}
	add("Storage Overage", inv.StorageOverageGB, inv.StorageOverageCost)
	add("API Calls Overage", decimal.NewFromInt(inv.APIOverageCalls), inv.APIOverageCost)
	add("Extra Contractor Seats", decimal.NewFromInt(inv.ContractorOverageCount), inv.ContractorOverageCost)

	if inv.CouponDiscount.IsPositive() {
		items = append(items, LineItem{
			Description: "Coupon Discount",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   inv.CouponDiscount.Neg(),
			Amount:      inv.CouponDiscount.Neg(),
		})
	}
	return items
}
