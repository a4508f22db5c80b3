package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/tierbill/pkg/async"
	"github.com/platinummonkey/tierbill/pkg/audit"
	"github.com/platinummonkey/tierbill/pkg/coupons"
	"github.com/platinummonkey/tierbill/pkg/invoices"
	"github.com/platinummonkey/tierbill/pkg/plans"
	"github.com/platinummonkey/tierbill/pkg/tiers"
	"github.com/platinummonkey/tierbill/pkg/webhooks"
)

var fixedNow = time.Date(2025, 12, 14, 9, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fakePlans struct {
	currentFn   func(ctx context.Context, companyID int64) (*plans.Plan, error)
	createFn    func(ctx context.Context, companyID int64, tier tiers.ID) (*plans.Plan, error)
	changeFn    func(ctx context.Context, companyID int64, tier tiers.ID) (*plans.Change, error)
	suspendFn   func(ctx context.Context, companyID int64, reason string) (bool, error)
	unsuspendFn func(ctx context.Context, companyID int64) error
	listFn      func(ctx context.Context) ([]*plans.Plan, error)
	historyFn   func(ctx context.Context, companyID int64) ([]*plans.Plan, error)
}

func (f *fakePlans) CurrentPlan(ctx context.Context, companyID int64) (*plans.Plan, error) {
	if f.currentFn != nil {
		return f.currentFn(ctx, companyID)
	}
	return nil, &plans.NoActivePlanError{CompanyID: companyID}
}

func (f *fakePlans) CreatePlan(ctx context.Context, companyID int64, tier tiers.ID) (*plans.Plan, error) {
	return f.createFn(ctx, companyID, tier)
}

func (f *fakePlans) ChangePlan(ctx context.Context, companyID int64, tier tiers.ID) (*plans.Change, error) {
	return f.changeFn(ctx, companyID, tier)
}

func (f *fakePlans) Suspend(ctx context.Context, companyID int64, reason string) (bool, error) {
	return f.suspendFn(ctx, companyID, reason)
}

func (f *fakePlans) Unsuspend(ctx context.Context, companyID int64) error {
	return f.unsuspendFn(ctx, companyID)
}

func (f *fakePlans) ListCurrent(ctx context.Context) ([]*plans.Plan, error) {
	if f.listFn != nil {
		return f.listFn(ctx)
	}
	return nil, nil
}

func (f *fakePlans) History(ctx context.Context, companyID int64) ([]*plans.Plan, error) {
	if f.historyFn != nil {
		return f.historyFn(ctx, companyID)
	}
	return nil, nil
}

type fakeUsage struct {
	currentFn func(ctx context.Context, companyID int64) (tiers.Usage, error)
	periodFn  func(ctx context.Context, companyID int64) (tiers.Usage, error)
	captureFn func(ctx context.Context) (async.BatchResult, error)
}

func (f *fakeUsage) CurrentUsage(ctx context.Context, companyID int64) (tiers.Usage, error) {
	if f.currentFn != nil {
		return f.currentFn(ctx, companyID)
	}
	return tiers.Usage{StorageGB: decimal.Zero}, nil
}

func (f *fakeUsage) PeriodUsage(ctx context.Context, companyID int64) (tiers.Usage, error) {
	if f.periodFn != nil {
		return f.periodFn(ctx, companyID)
	}
	return tiers.Usage{StorageGB: decimal.Zero}, nil
}

func (f *fakeUsage) CaptureAllSnapshots(ctx context.Context) (async.BatchResult, error) {
	return f.captureFn(ctx)
}

type fakeInvoices struct {
	generateAllFn func(ctx context.Context, start, end time.Time) (async.BatchResult, error)
	estimateFn    func(ctx context.Context, companyID int64) (*invoices.Invoice, error)
	companyFn     func(ctx context.Context, companyID int64, limit int) ([]*invoices.Invoice, error)
	overdueFn     func(ctx context.Context) ([]*invoices.Invoice, error)
	markFn        func(ctx context.Context, id int64) (*invoices.Invoice, error)
	revenueFn     func(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
}

func (f *fakeInvoices) GenerateAll(ctx context.Context, start, end time.Time) (async.BatchResult, error) {
	return f.generateAllFn(ctx, start, end)
}

func (f *fakeInvoices) EstimateInvoice(ctx context.Context, companyID int64) (*invoices.Invoice, error) {
	return f.estimateFn(ctx, companyID)
}

func (f *fakeInvoices) GetCompanyInvoices(ctx context.Context, companyID int64, limit int) ([]*invoices.Invoice, error) {
	return f.companyFn(ctx, companyID, limit)
}

func (f *fakeInvoices) GetOverdue(ctx context.Context) ([]*invoices.Invoice, error) {
	if f.overdueFn != nil {
		return f.overdueFn(ctx)
	}
	return nil, nil
}

func (f *fakeInvoices) MarkAsOverdue(ctx context.Context, id int64) (*invoices.Invoice, error) {
	return f.markFn(ctx, id)
}

func (f *fakeInvoices) Revenue(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	if f.revenueFn != nil {
		return f.revenueFn(ctx, from, to)
	}
	return decimal.Zero, nil
}

type fakeCoupons struct {
	applyFn  func(ctx context.Context, companyID int64, code string) (*coupons.AppliedCoupon, error)
	activeFn func(ctx context.Context, companyID int64) (*coupons.AppliedCoupon, error)
}

func (f *fakeCoupons) ApplyCoupon(ctx context.Context, companyID int64, code string) (*coupons.AppliedCoupon, error) {
	return f.applyFn(ctx, companyID, code)
}

func (f *fakeCoupons) ActiveCoupon(ctx context.Context, companyID int64) (*coupons.AppliedCoupon, error) {
	if f.activeFn != nil {
		return f.activeFn(ctx, companyID)
	}
	return nil, nil
}

type fakeSearcher struct {
	countFn func(ctx context.Context, filter audit.Filter) (int64, error)
}

func (f *fakeSearcher) Search(ctx context.Context, filter audit.Filter) ([]*audit.Event, error) {
	return nil, nil
}

func (f *fakeSearcher) Count(ctx context.Context, filter audit.Filter) (int64, error) {
	return f.countFn(ctx, filter)
}

type fakeNotifier struct {
	events chan *webhooks.Event
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{events: make(chan *webhooks.Event, 16)}
}

func (f *fakeNotifier) Notify(ctx context.Context, event *webhooks.Event) error {
	f.events <- event
	return nil
}

type harness struct {
	plans    *fakePlans
	usage    *fakeUsage
	invoices *fakeInvoices
	coupons  *fakeCoupons
	notifier *fakeNotifier
	recorder *audit.MemoryRecorder
}

func newHarness() *harness {
	return &harness{
		plans:    &fakePlans{},
		usage:    &fakeUsage{},
		invoices: &fakeInvoices{},
		coupons:  &fakeCoupons{},
		notifier: newFakeNotifier(),
		recorder: audit.NewMemoryRecorder(),
	}
}

func (h *harness) orchestrator(deduper AlertDeduper) *Orchestrator {
	o := NewOrchestrator(Dependencies{
		Catalog:  tiers.Default(),
		Plans:    h.plans,
		Usage:    h.usage,
		Invoices: h.invoices,
		Coupons:  h.coupons,
		Deduper:  deduper,
		Notifier: h.notifier,
	}, Config{Recorder: h.recorder, NotifyTimeout: time.Second})
	o.now = func() time.Time { return fixedNow }
	return o
}

func plan(companyID int64, tier tiers.ID, status plans.Status, cost string) *plans.Plan {
	return &plans.Plan{
		ID:          companyID * 10,
		CompanyID:   companyID,
		TierID:      tier,
		MonthlyCost: decimal.RequireFromString(cost),
		Status:      status,
		ActiveFrom:  date(2025, 1, 1),
	}
}
