package api

import (
	"context"
	"time"

	"github.com/platinummonkey/tierbill/pkg/billing"
	"github.com/platinummonkey/tierbill/pkg/coupons"
	"github.com/platinummonkey/tierbill/pkg/invoices"
	"github.com/platinummonkey/tierbill/pkg/jobs"
	"github.com/platinummonkey/tierbill/pkg/plans"
	"github.com/platinummonkey/tierbill/pkg/reconciliation"
	"github.com/platinummonkey/tierbill/pkg/tiers"
	"github.com/platinummonkey/tierbill/pkg/usage"
)

// Orchestrator is the billing orchestrator as the handlers use it.
type Orchestrator interface {
	Dashboard(ctx context.Context, companyID int64) (*billing.CompanyDashboard, error)
	CompanyDetail(ctx context.Context, companyID int64) (*billing.CompanyDetail, error)
	SuperAdminDashboard(ctx context.Context) (*billing.SuperAdminDashboard, error)
	ChangePlan(ctx context.Context, companyID int64, tier string) (*plans.Change, error)
	SuspendAccount(ctx context.Context, companyID int64, reason string) (bool, error)
	UnsuspendAccount(ctx context.Context, companyID int64) error
	ApplyCouponForTenant(ctx context.Context, companyID int64, code string) (*coupons.AppliedCoupon, error)
}

// UsageReader serves live usage views.
type UsageReader interface {
	CurrentUsage(ctx context.Context, companyID int64) (tiers.Usage, error)
	UsageTrend(ctx context.Context, companyID int64, days int) ([]usage.TrendPoint, error)
	StorageBreakdown(ctx context.Context, companyID int64) (usage.StorageBreakdown, error)
}

// InvoiceStore reads and transitions invoices.
type InvoiceStore interface {
	EstimateInvoice(ctx context.Context, companyID int64) (*invoices.Invoice, error)
	GetCompanyInvoices(ctx context.Context, companyID int64, limit int) ([]*invoices.Invoice, error)
	Get(ctx context.Context, id int64) (*invoices.Invoice, error)
	List(ctx context.Context, filter invoices.ListFilter) ([]*invoices.Invoice, error)
	MarkAsSent(ctx context.Context, id int64) (*invoices.Invoice, error)
	MarkAsPaid(ctx context.Context, id int64, req invoices.PaymentRequest) (*invoices.Invoice, error)
}

// PlanReader resolves a tenant's current plan.
type PlanReader interface {
	CurrentPlan(ctx context.Context, companyID int64) (*plans.Plan, error)
}

// CouponStore manages coupon definitions and tenant applications.
type CouponStore interface {
	CreateCoupon(ctx context.Context, req *coupons.CreateRequest) (*coupons.Coupon, error)
	ListCoupons(ctx context.Context, activeOnly bool) ([]*coupons.Coupon, error)
	ApplyCoupon(ctx context.Context, companyID int64, code string) (*coupons.AppliedCoupon, error)
	RemoveCoupon(ctx context.Context, companyID int64) error
	Stats(ctx context.Context) (*coupons.Stats, error)
}

// JobRunner runs scheduled jobs on demand.
type JobRunner interface {
	RunJobManually(ctx context.Context, name string) (*jobs.Result, error)
}

// Reconciler builds reconciliation rows for a date range.
type Reconciler interface {
	Build(ctx context.Context, start, end time.Time) ([]reconciliation.Row, error)
}

// couponRequest names a coupon to apply.
type couponRequest struct {
	Code string `json:"coupon_code" validate:"required,max=64"`
}

// invoiceView is an invoice with its displayable lines.
type invoiceView struct {
	*invoices.Invoice
	LineItems []invoices.LineItem `json:"line_items"`
}

// planView is a plan with its tier definition.
type planView struct {
	Plan *plans.Plan       `json:"plan"`
	Tier *tiers.Definition `json:"tier,omitempty"`
}

// usageView is a tenant's live usage.
type usageView struct {
	CompanyID int64       `json:"company_id"`
	Usage     tiers.Usage `json:"usage"`
}
