package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/tierbill/pkg/async"
	"github.com/platinummonkey/tierbill/pkg/coupons"
	"github.com/platinummonkey/tierbill/pkg/invoices"
	"github.com/platinummonkey/tierbill/pkg/plans"
	"github.com/platinummonkey/tierbill/pkg/tiers"
	"github.com/platinummonkey/tierbill/pkg/webhooks"
)

// MetricUsage is one metered resource measured against its tier limit.
type MetricUsage struct {
	Metric     tiers.Metric     `json:"metric"`
	Label      string           `json:"label"`
	Current    decimal.Decimal  `json:"current"`
	Limit      int64            `json:"limit"`
	Percentage decimal.Decimal  `json:"percentage"`
	AlertLevel tiers.AlertLevel `json:"alert_level"`
}

// CompanyDashboard is a tenant's billing overview. A tenant without a plan
// gets a dashboard with a nil Plan and zero-limit metrics.
type CompanyDashboard struct {
	CompanyID       int64                  `json:"company_id"`
	Plan            *plans.Plan            `json:"plan,omitempty"`
	Tier            *tiers.Definition      `json:"tier,omitempty"`
	Usage           tiers.Usage            `json:"usage"`
	Metrics         []MetricUsage          `json:"metrics"`
	AlertLevel      tiers.AlertLevel       `json:"alert_level"`
	Overage         tiers.Overage          `json:"overage"`
	Estimate        *invoices.Invoice      `json:"estimated_invoice,omitempty"`
	ActiveCoupon    *coupons.AppliedCoupon `json:"active_coupon,omitempty"`
	RecommendedTier tiers.ID               `json:"recommended_tier"`
}

// CompanyDetail is the super-admin view of one tenant.
type CompanyDetail struct {
	Dashboard   *CompanyDashboard   `json:"dashboard"`
	Invoices    []*invoices.Invoice `json:"invoices"`
	PlanHistory []*plans.Plan       `json:"plan_history"`
}

// CompanyRow is one tenant line on the super-admin dashboard.
type CompanyRow struct {
	CompanyID   int64           `json:"company_id"`
	Tier        tiers.ID        `json:"tier"`
	Status      plans.Status    `json:"status"`
	MonthlyCost decimal.Decimal `json:"monthly_cost"`
	UsageCost   decimal.Decimal `json:"usage_cost"`
	TotalCost   decimal.Decimal `json:"total_cost"`
}

// SuperAdminDashboard summarizes every tenant.
type SuperAdminDashboard struct {
	MRR                 decimal.Decimal `json:"total_mrr"`
	ActiveSubscriptions int             `json:"active_subscriptions"`
	CompaniesOverLimit  int             `json:"companies_over_limit"`
	OverdueInvoices     int             `json:"overdue_invoices"`
	RevenueThisMonth    decimal.Decimal `json:"revenue_this_month"`
	RevenueLastMonth    decimal.Decimal `json:"revenue_last_month"`
	GrowthPercent       decimal.Decimal `json:"growth_percent"`
	Companies           []CompanyRow    `json:"companies"`
}

// MonthlyBillingResult reports a monthly billing run.
type MonthlyBillingResult struct {
	PeriodStart time.Time         `json:"period_start"`
	PeriodEnd   time.Time         `json:"period_end"`
	Snapshots   async.BatchResult `json:"snapshots"`
	Invoices    async.BatchResult `json:"invoices"`
}

// SuspensionResult reports an overdue-suspension sweep.
type SuspensionResult struct {
	OverdueInvoices  int                 `json:"overdue_invoices"`
	MarkedOverdue    int                 `json:"marked_overdue"`
	Suspended        int                 `json:"suspended"`
	AlreadySuspended int                 `json:"already_suspended"`
	Errors           []async.TenantError `json:"errors,omitempty"`
}

// UsageAlert is one (tenant, metric) at warning level or worse.
type UsageAlert struct {
	CompanyID  int64            `json:"company_id"`
	Metric     tiers.Metric     `json:"metric"`
	Level      tiers.AlertLevel `json:"level"`
	Percentage decimal.Decimal  `json:"percentage"`
	Current    decimal.Decimal  `json:"current"`
	Limit      int64            `json:"limit"`
}

// AlertResult reports a usage alert sweep.
type AlertResult struct {
	async.BatchResult
	Alerts       []UsageAlert `json:"alerts"`
	Deduplicated int          `json:"deduplicated"`
}

// PlanStore is the orchestrator's view of company plans.
type PlanStore interface {
	CurrentPlan(ctx context.Context, companyID int64) (*plans.Plan, error)
	CreatePlan(ctx context.Context, companyID int64, tier tiers.ID) (*plans.Plan, error)
	ChangePlan(ctx context.Context, companyID int64, tier tiers.ID) (*plans.Change, error)
	Suspend(ctx context.Context, companyID int64, reason string) (bool, error)
	Unsuspend(ctx context.Context, companyID int64) error
	ListCurrent(ctx context.Context) ([]*plans.Plan, error)
	History(ctx context.Context, companyID int64) ([]*plans.Plan, error)
}

// UsageMeter is the orchestrator's view of the usage meter.
type UsageMeter interface {
	CurrentUsage(ctx context.Context, companyID int64) (tiers.Usage, error)
	PeriodUsage(ctx context.Context, companyID int64) (tiers.Usage, error)
	CaptureAllSnapshots(ctx context.Context) (async.BatchResult, error)
}

// InvoiceStore is the orchestrator's view of the invoice generator.
type InvoiceStore interface {
	GenerateAll(ctx context.Context, periodStart, periodEnd time.Time) (async.BatchResult, error)
	EstimateInvoice(ctx context.Context, companyID int64) (*invoices.Invoice, error)
	GetCompanyInvoices(ctx context.Context, companyID int64, limit int) ([]*invoices.Invoice, error)
	GetOverdue(ctx context.Context) ([]*invoices.Invoice, error)
	MarkAsOverdue(ctx context.Context, id int64) (*invoices.Invoice, error)
	Revenue(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
}

// CouponStore is the orchestrator's view of the discount engine.
type CouponStore interface {
	ApplyCoupon(ctx context.Context, companyID int64, code string) (*coupons.AppliedCoupon, error)
	ActiveCoupon(ctx context.Context, companyID int64) (*coupons.AppliedCoupon, error)
}

// AlertDeduper claims an alert for a calendar day. Claim returns false when
// the same (tenant, metric, level) was already claimed that day.
type AlertDeduper interface {
	Claim(ctx context.Context, alert UsageAlert, day time.Time) (bool, error)
}

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, event *webhooks.Event) error
}
