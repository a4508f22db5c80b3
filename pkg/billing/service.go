package billing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tierbill/pkg/async"
	"github.com/platinummonkey/tierbill/pkg/audit"
	"github.com/platinummonkey/tierbill/pkg/coupons"
	"github.com/platinummonkey/tierbill/pkg/observability"
	"github.com/platinummonkey/tierbill/pkg/plans"
	"github.com/platinummonkey/tierbill/pkg/tiers"
)

var tracer = otel.Tracer("github.com/platinummonkey/tierbill/pkg/billing")

const (
	DefaultGraceDays     = 7
	DefaultNotifyTimeout = 30 * time.Second
	detailInvoiceLimit   = 12
)

// Dependencies are the components the orchestrator drives.
type Dependencies struct {
	Catalog  *tiers.Catalog
	Plans    PlanStore
	Usage    UsageMeter
	Invoices InvoiceStore
	Coupons  CouponStore
	// Deduper is optional; without it every alert is raised.
	Deduper AlertDeduper
	// Notifier is optional; without it alerts are only recorded.
	Notifier Notifier
}

// Config holds the orchestrator's tuning and optional collaborators.
type Config struct {
	// Location decides calendar months and days. Defaults to UTC.
	Location *time.Location
	// GraceDays is how long past its due date an invoice may go unpaid
	// before the tenant is suspended.
	GraceDays     int
	Batch         async.Options
	NotifyTimeout time.Duration
	Recorder      audit.Recorder
	Metrics       *observability.Metrics
	Logger        *observability.Logger
}

// Orchestrator coordinates the catalog, meter, discount engine and invoice
// generator into the tenant-facing and scheduled billing workflows.
type Orchestrator struct {
	catalog  *tiers.Catalog
	plans    PlanStore
	usage    UsageMeter
	invoices InvoiceStore
	coupons  CouponStore
	deduper  AlertDeduper
	notifier Notifier

	loc           *time.Location
	graceDays     int
	batch         async.Options
	notifyTimeout time.Duration
	recorder      audit.Recorder
	metrics       *observability.Metrics
	logger        *observability.Logger
	now           func() time.Time
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(deps Dependencies, cfg Config) *Orchestrator {
	o := &Orchestrator{
		catalog:       deps.Catalog,
		plans:         deps.Plans,
		usage:         deps.Usage,
		invoices:      deps.Invoices,
		coupons:       deps.Coupons,
		deduper:       deps.Deduper,
		notifier:      deps.Notifier,
		loc:           cfg.Location,
		graceDays:     cfg.GraceDays,
		batch:         cfg.Batch,
		notifyTimeout: cfg.NotifyTimeout,
		recorder:      cfg.Recorder,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		now:           time.Now,
	}
	if o.loc == nil {
		o.loc = time.UTC
	}
	if o.graceDays <= 0 {
		o.graceDays = DefaultGraceDays
	}
	if o.notifyTimeout <= 0 {
		o.notifyTimeout = DefaultNotifyTimeout
	}
	if o.recorder == nil {
		o.recorder = audit.NopRecorder{}
	}
	if o.logger == nil {
		o.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return o
}

func (o *Orchestrator) record(ctx context.Context, companyID int64, eventType audit.EventType, metadata map[string]interface{}) {
	if err := o.recorder.Record(ctx, audit.NewEvent(companyID, eventType, metadata)); err != nil {
		o.logger.WithTenant(companyID).WithError(err).Warnf("failed to record %s event", eventType)
	}
}

// today is the current calendar date in the billing timezone, at UTC
// midnight so it compares with DATE columns.
func (o *Orchestrator) today() time.Time {
	y, m, d := o.now().In(o.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PreviousMonth returns the first and last day of the calendar month before
// the one containing now.
func PreviousMonth(now time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, _ := now.In(loc).Date()
	thisMonth := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return thisMonth.AddDate(0, -1, 0), thisMonth.AddDate(0, 0, -1)
}

// ChangePlan moves a tenant to another tier.
func (o *Orchestrator) ChangePlan(ctx context.Context, companyID int64, tier string) (*plans.Change, error) {
	id, err := o.catalog.Parse(tier)
	if err != nil {
		return nil, err
	}
	return o.plans.ChangePlan(ctx, companyID, id)
}

// CreateCompanyPlan starts a tenant on a tier.
func (o *Orchestrator) CreateCompanyPlan(ctx context.Context, companyID int64, tier string) (*plans.Plan, error) {
	id, err := o.catalog.Parse(tier)
	if err != nil {
		return nil, err
	}
	return o.plans.CreatePlan(ctx, companyID, id)
}

// SuspendAccount suspends a tenant. It reports false when the tenant was
// already suspended.
func (o *Orchestrator) SuspendAccount(ctx context.Context, companyID int64, reason string) (bool, error) {
	if reason == "" {
		reason = "Suspended by administrator"
	}
	return o.plans.Suspend(ctx, companyID, reason)
}

// UnsuspendAccount lifts a tenant's suspension.
func (o *Orchestrator) UnsuspendAccount(ctx context.Context, companyID int64) error {
	return o.plans.Unsuspend(ctx, companyID)
}

// ApplyCouponForTenant applies a coupon on a tenant's behalf. It goes
// through the same validation as a tenant applying it.
func (o *Orchestrator) ApplyCouponForTenant(ctx context.Context, companyID int64, code string) (*coupons.AppliedCoupon, error) {
	ctx, span := tracer.Start(ctx, "billing.ApplyCouponForTenant",
		trace.WithAttributes(attribute.Int64("company.id", companyID)))
	defer span.End()

	applied, err := o.coupons.ApplyCoupon(ctx, companyID, code)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return applied, nil
}

// ProcessMonthlyBilling bills every active tenant for the previous calendar
// month.
func (o *Orchestrator) ProcessMonthlyBilling(ctx context.Context) (*MonthlyBillingResult, error) {
	start, end := PreviousMonth(o.now(), o.loc)
	return o.ProcessBillingPeriod(ctx, start, end)
}

// ProcessBillingPeriod captures a snapshot for every tenant and then invoices
// every active tenant for the inclusive period. Per-tenant failures are
// reported in the result; only failing to enumerate tenants is an error.
func (o *Orchestrator) ProcessBillingPeriod(ctx context.Context, periodStart, periodEnd time.Time) (*MonthlyBillingResult, error) {
	ctx, span := tracer.Start(ctx, "billing.ProcessBillingPeriod",
		trace.WithAttributes(
			attribute.String("period.start", periodStart.Format(dayLayout)),
			attribute.String("period.end", periodEnd.Format(dayLayout)),
		))
	defer span.End()

	result := &MonthlyBillingResult{PeriodStart: periodStart, PeriodEnd: periodEnd}

	snapshots, err := o.usage.CaptureAllSnapshots(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to capture snapshots: %w", err)
	}
	result.Snapshots = snapshots

	generated, err := o.invoices.GenerateAll(ctx, periodStart, periodEnd)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to generate invoices: %w", err)
	}
	result.Invoices = generated

	o.logger.WithFields(map[string]interface{}{
		"period_start":      periodStart.Format(dayLayout),
		"period_end":        periodEnd.Format(dayLayout),
		"snapshots_success": snapshots.Success,
		"snapshots_failed":  snapshots.Failed,
		"invoices_success":  generated.Success,
		"invoices_failed":   generated.Failed,
	}).Info("Monthly billing processed")
	return result, nil
}
