package tiers

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/tierbill/pkg/money"
)

var (
	headroom = decimal.RequireFromString("0.8")
	thousand = decimal.NewFromInt(1000)
	hundred  = decimal.NewFromInt(100)

	warningAt  = decimal.NewFromInt(50)
	criticalAt = decimal.NewFromInt(75)
	exceededAt = decimal.NewFromInt(100)
)

// DefaultAnnualDiscountPercent is the prepayment discount quoted on the pricing page.
const DefaultAnnualDiscountPercent = 40

// Recommend returns the cheapest public tier whose limits leave 20% headroom
// over usage on every metric. When none qualifies it returns the highest
// public tier.
func (c *Catalog) Recommend(usage Usage) ID {
	for _, def := range c.Public() {
		if fits(def.Limits, usage) {
			return def.ID
		}
	}
	return c.Highest()
}

func fits(limits Limits, usage Usage) bool {
	for _, m := range Metrics {
		limit := limits.For(m)
		if limit == Unlimited {
			continue
		}
		if usage.Value(m).GreaterThan(decimal.NewFromInt(limit).Mul(headroom)) {
			return false
		}
	}
	return true
}

// ValidateUsage lists every metric where usage is over the tier's limit.
func (c *Catalog) ValidateUsage(id ID, usage Usage) (UsageCheck, error) {
	limits, err := c.Limits(id)
	if err != nil {
		return UsageCheck{}, err
	}
	check := UsageCheck{WithinLimits: true}
	for _, m := range Metrics {
		limit := limits.For(m)
		if limit == Unlimited {
			continue
		}
		current := usage.Value(m)
		if current.GreaterThan(decimal.NewFromInt(limit)) {
			check.WithinLimits = false
			check.Violations = append(check.Violations, Violation{
				Metric:  m,
				Current: current,
				Limit:   limit,
				Message: fmt.Sprintf("%s limit exceeded: %s/%d", m.Label(), current.String(), limit),
			})
		}
	}
	return check, nil
}

// CalculateOverage prices usage beyond the tier's limits. Each cost is
// rounded to cents and the total is the sum of the rounded costs, so invoice
// lines always add up.
func (c *Catalog) CalculateOverage(id ID, usage Usage) (Overage, error) {
	limits, err := c.Limits(id)
	if err != nil {
		return Overage{}, err
	}

	var o Overage
	if limits.StorageGB != Unlimited {
		o.StorageGB = money.Round3(money.Max(decimal.Zero, usage.StorageGB.Sub(decimal.NewFromInt(limits.StorageGB))))
	}
	if limits.APICallsPerMonth != Unlimited && usage.APICalls > limits.APICallsPerMonth {
		o.APICalls = usage.APICalls - limits.APICallsPerMonth
	}
	if limits.Contractors != Unlimited && usage.Contractors > limits.Contractors {
		o.Contractors = usage.Contractors - limits.Contractors
	}

	o.StorageCost = money.Round2(o.StorageGB.Mul(c.overage.StoragePerGB))
	o.APICost = money.Round2(decimal.NewFromInt(o.APICalls).Div(thousand).Mul(c.overage.APICallsPer1000))
	o.ContractorCost = money.Round2(decimal.NewFromInt(o.Contractors).Mul(c.overage.ContractorPerSeat))
	o.Total = o.StorageCost.Add(o.APICost).Add(o.ContractorCost)
	return o, nil
}

// MonthlyCost prices a month on a tier: base plus overage, less a discount
// capped at the subtotal, plus GST.
func (c *Catalog) MonthlyCost(id ID, usage Usage, discount decimal.Decimal) (CostBreakdown, error) {
	def, err := c.Get(id)
	if err != nil {
		return CostBreakdown{}, err
	}
	overage, err := c.CalculateOverage(id, usage)
	if err != nil {
		return CostBreakdown{}, err
	}

	subtotal := money.Round2(def.MonthlyPrice.Add(overage.Total))
	discount = money.Round2(money.Min(money.Max(discount, decimal.Zero), subtotal))
	taxable := subtotal.Sub(discount)
	tax := c.Tax(taxable)
	return CostBreakdown{
		BaseCost:              money.Round2(def.MonthlyPrice),
		OverageCost:           overage.Total,
		Subtotal:              subtotal,
		Discount:              discount,
		SubtotalAfterDiscount: taxable,
		Tax:                   tax,
		Total:                 money.Round2(taxable.Add(tax)),
	}, nil
}

// Tax returns GST on a taxable amount, rounded to cents.
func (c *Catalog) Tax(taxable decimal.Decimal) decimal.Decimal {
	return money.Round2(taxable.Mul(c.taxRate))
}

// AnnualSavings quotes an annual prepayment at the given percent discount.
func (c *Catalog) AnnualSavings(id ID, discountPercent int) (AnnualSavings, error) {
	def, err := c.Get(id)
	if err != nil {
		return AnnualSavings{}, err
	}
	monthly := def.MonthlyPrice.Mul(decimal.NewFromInt(12))
	annual := monthly.Sub(money.Percent(monthly, decimal.NewFromInt(int64(discountPercent))))
	return AnnualSavings{
		MonthlyTotal:         money.Round2(monthly),
		AnnualTotal:          money.Round2(annual),
		Savings:              money.Round2(monthly.Sub(annual)),
		EffectiveMonthlyRate: money.Round2(annual.Div(decimal.NewFromInt(12))),
	}, nil
}

// UsagePercentage returns current as a percentage of limit, capped at 100 and
// rounded to two places. Unlimited and zero limits always read 0.
func UsagePercentage(current decimal.Decimal, limit int64) decimal.Decimal {
	if limit <= 0 {
		return decimal.Zero
	}
	pct := current.Div(decimal.NewFromInt(limit)).Mul(hundred)
	return money.Round2(money.Min(pct, hundred))
}

// AlertLevelFor grades a usage percentage. This is the only threshold table;
// dashboards and the alert job both use it.
func AlertLevelFor(pct decimal.Decimal) AlertLevel {
	switch {
	case pct.LessThan(warningAt):
		return AlertNormal
	case pct.LessThan(criticalAt):
		return AlertWarning
	case pct.LessThan(exceededAt):
		return AlertCritical
	default:
		return AlertExceeded
	}
}
