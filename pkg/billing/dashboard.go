package billing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/platinummonkey/tierbill/pkg/billingerr"
	"github.com/platinummonkey/tierbill/pkg/money"
	"github.com/platinummonkey/tierbill/pkg/plans"
	"github.com/platinummonkey/tierbill/pkg/tiers"
)

var hundred = decimal.NewFromInt(100)

// measure grades every metric of usage against limits.
func measure(usage tiers.Usage, limits tiers.Limits) ([]MetricUsage, tiers.AlertLevel) {
	worst := tiers.AlertNormal
	out := make([]MetricUsage, 0, len(tiers.Metrics))
	for _, m := range tiers.Metrics {
		limit := limits.For(m)
		pct := tiers.UsagePercentage(usage.Value(m), limit)
		level := tiers.AlertLevelFor(pct)
		if level.Severity() > worst.Severity() {
			worst = level
		}
		out = append(out, MetricUsage{
			Metric:     m,
			Label:      m.Label(),
			Current:    usage.Value(m),
			Limit:      limit,
			Percentage: pct,
			AlertLevel: level,
		})
	}
	return out, worst
}

// Dashboard assembles a tenant's billing overview for the current period.
func (o *Orchestrator) Dashboard(ctx context.Context, companyID int64) (*CompanyDashboard, error) {
	ctx, span := tracer.Start(ctx, "billing.Dashboard")
	defer span.End()

	plan, err := o.plans.CurrentPlan(ctx, companyID)
	if err != nil && !billingerr.IsNotFound(err) {
		return nil, err
	}

	usage, err := o.usage.PeriodUsage(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get period usage: %w", err)
	}

	dash := &CompanyDashboard{
		CompanyID:       companyID,
		Plan:            plan,
		Usage:           usage,
		RecommendedTier: o.catalog.Recommend(usage),
	}

	var limits tiers.Limits
	if plan != nil {
		def, err := o.catalog.Get(plan.TierID)
		if err != nil {
			return nil, err
		}
		dash.Tier = &def
		limits = def.Limits
		if dash.Overage, err = o.catalog.CalculateOverage(plan.TierID, usage); err != nil {
			return nil, err
		}
	}
	dash.Metrics, dash.AlertLevel = measure(usage, limits)

	if plan != nil && !plan.Suspended() {
		estimate, err := o.invoices.EstimateInvoice(ctx, companyID)
		if err != nil && !billingerr.IsNotFound(err) {
			return nil, fmt.Errorf("failed to estimate invoice: %w", err)
		}
		dash.Estimate = estimate
	}

	if dash.ActiveCoupon, err = o.coupons.ActiveCoupon(ctx, companyID); err != nil {
		return nil, fmt.Errorf("failed to get active coupon: %w", err)
	}
	return dash, nil
}

// CompanyDetail is the dashboard plus recent invoices and plan history.
func (o *Orchestrator) CompanyDetail(ctx context.Context, companyID int64) (*CompanyDetail, error) {
	dash, err := o.Dashboard(ctx, companyID)
	if err != nil {
		return nil, err
	}
	invs, err := o.invoices.GetCompanyInvoices(ctx, companyID, detailInvoiceLimit)
	if err != nil {
		return nil, err
	}
	history, err := o.plans.History(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return &CompanyDetail{Dashboard: dash, Invoices: invs, PlanHistory: history}, nil
}

// SuperAdminDashboard summarizes revenue and usage across active tenants.
// A tenant whose usage cannot be read is listed with zero usage cost.
func (o *Orchestrator) SuperAdminDashboard(ctx context.Context) (*SuperAdminDashboard, error) {
	ctx, span := tracer.Start(ctx, "billing.SuperAdminDashboard")
	defer span.End()

	current, err := o.plans.ListCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	active := lo.Filter(current, func(p *plans.Plan, _ int) bool { return p.Status == plans.StatusActive })

	dash := &SuperAdminDashboard{
		MRR:                 decimal.Zero,
		ActiveSubscriptions: len(active),
		Companies:           make([]CompanyRow, 0, len(active)),
	}
	for _, p := range active {
		row := CompanyRow{
			CompanyID:   p.CompanyID,
			Tier:        p.TierID,
			Status:      p.Status,
			MonthlyCost: p.MonthlyCost,
			UsageCost:   decimal.Zero,
		}
		dash.MRR = dash.MRR.Add(p.MonthlyCost)

		usage, err := o.usage.PeriodUsage(ctx, p.CompanyID)
		if err == nil {
			var overage tiers.Overage
			overage, err = o.catalog.CalculateOverage(p.TierID, usage)
			if err == nil {
				row.UsageCost = overage.Total
			}
		}
		if err != nil {
			o.logger.WithTenant(p.CompanyID).WithError(err).Warn("Failed to price usage for dashboard")
		}
		if row.UsageCost.IsPositive() {
			dash.CompaniesOverLimit++
		}
		row.TotalCost = money.Round2(row.MonthlyCost.Add(row.UsageCost))
		dash.Companies = append(dash.Companies, row)
	}
	dash.MRR = money.Round2(dash.MRR)
	sort.SliceStable(dash.Companies, func(i, j int) bool {
		return dash.Companies[i].TotalCost.GreaterThan(dash.Companies[j].TotalCost)
	})

	overdue, err := o.invoices.GetOverdue(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count overdue invoices: %w", err)
	}
	dash.OverdueInvoices = len(overdue)

	y, m, _ := o.now().In(o.loc).Date()
	thisMonth := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	if dash.RevenueThisMonth, err = o.invoices.Revenue(ctx, thisMonth, thisMonth.AddDate(0, 1, 0)); err != nil {
		return nil, err
	}
	if dash.RevenueLastMonth, err = o.invoices.Revenue(ctx, thisMonth.AddDate(0, -1, 0), thisMonth); err != nil {
		return nil, err
	}
	dash.GrowthPercent = Growth(dash.RevenueThisMonth, dash.RevenueLastMonth)
	return dash, nil
}

// Growth is the percentage change from last to this, or zero when last is
// zero.
func Growth(this, last decimal.Decimal) decimal.Decimal {
	if last.IsZero() {
		return decimal.Zero
	}
	return money.Round2(this.Sub(last).Div(last).Mul(hundred))
}
