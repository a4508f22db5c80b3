package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tierbill/pkg/billing"
	"github.com/platinummonkey/tierbill/pkg/coupons"
	"github.com/platinummonkey/tierbill/pkg/invoices"
	"github.com/platinummonkey/tierbill/pkg/jobs"
	"github.com/platinummonkey/tierbill/pkg/middleware"
	"github.com/platinummonkey/tierbill/pkg/observability"
	"github.com/platinummonkey/tierbill/pkg/plans"
	"github.com/platinummonkey/tierbill/pkg/rbac"
	"github.com/platinummonkey/tierbill/pkg/reconciliation"
	"github.com/platinummonkey/tierbill/pkg/tiers"
	"github.com/platinummonkey/tierbill/pkg/usage"
)

var errNotStubbed = errors.New("not stubbed")

type fakeOrchestrator struct {
	dashboardFn      func(ctx context.Context, companyID int64) (*billing.CompanyDashboard, error)
	detailFn         func(ctx context.Context, companyID int64) (*billing.CompanyDetail, error)
	adminDashboardFn func(ctx context.Context) (*billing.SuperAdminDashboard, error)
	changePlanFn     func(ctx context.Context, companyID int64, tier string) (*plans.Change, error)
	suspendFn        func(ctx context.Context, companyID int64, reason string) (bool, error)
	unsuspendFn      func(ctx context.Context, companyID int64) error
	applyCouponFn    func(ctx context.Context, companyID int64, code string) (*coupons.AppliedCoupon, error)
}

func (f *fakeOrchestrator) Dashboard(ctx context.Context, companyID int64) (*billing.CompanyDashboard, error) {
	if f.dashboardFn == nil {
		return nil, errNotStubbed
	}
	return f.dashboardFn(ctx, companyID)
}

func (f *fakeOrchestrator) CompanyDetail(ctx context.Context, companyID int64) (*billing.CompanyDetail, error) {
	if f.detailFn == nil {
		return nil, errNotStubbed
	}
	return f.detailFn(ctx, companyID)
}

func (f *fakeOrchestrator) SuperAdminDashboard(ctx context.Context) (*billing.SuperAdminDashboard, error) {
	if f.adminDashboardFn == nil {
		return nil, errNotStubbed
	}
	return f.adminDashboardFn(ctx)
}

func (f *fakeOrchestrator) ChangePlan(ctx context.Context, companyID int64, tier string) (*plans.Change, error) {
	if f.changePlanFn == nil {
		return nil, errNotStubbed
	}
	return f.changePlanFn(ctx, companyID, tier)
}

func (f *fakeOrchestrator) SuspendAccount(ctx context.Context, companyID int64, reason string) (bool, error) {
	if f.suspendFn == nil {
		return false, errNotStubbed
	}
	return f.suspendFn(ctx, companyID, reason)
}

func (f *fakeOrchestrator) UnsuspendAccount(ctx context.Context, companyID int64) error {
	if f.unsuspendFn == nil {
		return errNotStubbed
	}
	return f.unsuspendFn(ctx, companyID)
}

func (f *fakeOrchestrator) ApplyCouponForTenant(ctx context.Context, companyID int64, code string) (*coupons.AppliedCoupon, error) {
	if f.applyCouponFn == nil {
		return nil, errNotStubbed
	}
	return f.applyCouponFn(ctx, companyID, code)
}

type fakeUsage struct {
	currentFn   func(ctx context.Context, companyID int64) (tiers.Usage, error)
	trendFn     func(ctx context.Context, companyID int64, days int) ([]usage.TrendPoint, error)
	breakdownFn func(ctx context.Context, companyID int64) (usage.StorageBreakdown, error)
}

func (f *fakeUsage) CurrentUsage(ctx context.Context, companyID int64) (tiers.Usage, error) {
	if f.currentFn == nil {
		return tiers.Usage{}, errNotStubbed
	}
	return f.currentFn(ctx, companyID)
}

func (f *fakeUsage) UsageTrend(ctx context.Context, companyID int64, days int) ([]usage.TrendPoint, error) {
	if f.trendFn == nil {
		return nil, errNotStubbed
	}
	return f.trendFn(ctx, companyID, days)
}

func (f *fakeUsage) StorageBreakdown(ctx context.Context, companyID int64) (usage.StorageBreakdown, error) {
	if f.breakdownFn == nil {
		return usage.StorageBreakdown{}, errNotStubbed
	}
	return f.breakdownFn(ctx, companyID)
}

type fakeInvoices struct {
	estimateFn func(ctx context.Context, companyID int64) (*invoices.Invoice, error)
	companyFn  func(ctx context.Context, companyID int64, limit int) ([]*invoices.Invoice, error)
	getFn      func(ctx context.Context, id int64) (*invoices.Invoice, error)
	listFn     func(ctx context.Context, filter invoices.ListFilter) ([]*invoices.Invoice, error)
	sentFn     func(ctx context.Context, id int64) (*invoices.Invoice, error)
	paidFn     func(ctx context.Context, id int64, req invoices.PaymentRequest) (*invoices.Invoice, error)
}

func (f *fakeInvoices) EstimateInvoice(ctx context.Context, companyID int64) (*invoices.Invoice, error) {
	if f.estimateFn == nil {
		return nil, errNotStubbed
	}
	return f.estimateFn(ctx, companyID)
}

func (f *fakeInvoices) GetCompanyInvoices(ctx context.Context, companyID int64, limit int) ([]*invoices.Invoice, error) {
	if f.companyFn == nil {
		return nil, errNotStubbed
	}
	return f.companyFn(ctx, companyID, limit)
}

func (f *fakeInvoices) Get(ctx context.Context, id int64) (*invoices.Invoice, error) {
	if f.getFn == nil {
		return nil, errNotStubbed
	}
	return f.getFn(ctx, id)
}

func (f *fakeInvoices) List(ctx context.Context, filter invoices.ListFilter) ([]*invoices.Invoice, error) {
	if f.listFn == nil {
		return nil, errNotStubbed
	}
	return f.listFn(ctx, filter)
}

func (f *fakeInvoices) MarkAsSent(ctx context.Context, id int64) (*invoices.Invoice, error) {
	if f.sentFn == nil {
		return nil, errNotStubbed
	}
	return f.sentFn(ctx, id)
}

func (f *fakeInvoices) MarkAsPaid(ctx context.Context, id int64, req invoices.PaymentRequest) (*invoices.Invoice, error) {
	if f.paidFn == nil {
		return nil, errNotStubbed
	}
	return f.paidFn(ctx, id, req)
}

type fakePlans struct {
	currentFn func(ctx context.Context, companyID int64) (*plans.Plan, error)
}

func (f *fakePlans) CurrentPlan(ctx context.Context, companyID int64) (*plans.Plan, error) {
	if f.currentFn == nil {
		return nil, errNotStubbed
	}
	return f.currentFn(ctx, companyID)
}

type fakeCoupons struct {
	createFn func(ctx context.Context, req *coupons.CreateRequest) (*coupons.Coupon, error)
	listFn   func(ctx context.Context, activeOnly bool) ([]*coupons.Coupon, error)
	applyFn  func(ctx context.Context, companyID int64, code string) (*coupons.AppliedCoupon, error)
	removeFn func(ctx context.Context, companyID int64) error
	statsFn  func(ctx context.Context) (*coupons.Stats, error)
}

func (f *fakeCoupons) CreateCoupon(ctx context.Context, req *coupons.CreateRequest) (*coupons.Coupon, error) {
	if f.createFn == nil {
		return nil, errNotStubbed
	}
	return f.createFn(ctx, req)
}

func (f *fakeCoupons) ListCoupons(ctx context.Context, activeOnly bool) ([]*coupons.Coupon, error) {
	if f.listFn == nil {
		return nil, errNotStubbed
	}
	return f.listFn(ctx, activeOnly)
}

func (f *fakeCoupons) ApplyCoupon(ctx context.Context, companyID int64, code string) (*coupons.AppliedCoupon, error) {
	if f.applyFn == nil {
		return nil, errNotStubbed
	}
	return f.applyFn(ctx, companyID, code)
}

func (f *fakeCoupons) RemoveCoupon(ctx context.Context, companyID int64) error {
	if f.removeFn == nil {
		return errNotStubbed
	}
	return f.removeFn(ctx, companyID)
}

func (f *fakeCoupons) Stats(ctx context.Context) (*coupons.Stats, error) {
	if f.statsFn == nil {
		return nil, errNotStubbed
	}
	return f.statsFn(ctx)
}

type fakeJobs struct {
	runFn func(ctx context.Context, name string) (*jobs.Result, error)
}

func (f *fakeJobs) RunJobManually(ctx context.Context, name string) (*jobs.Result, error) {
	return f.runFn(ctx, name)
}

type fakeReconciler struct {
	buildFn func(ctx context.Context, start, end time.Time) ([]reconciliation.Row, error)
}

func (f *fakeReconciler) Build(ctx context.Context, start, end time.Time) ([]reconciliation.Row, error) {
	return f.buildFn(ctx, start, end)
}

type harness struct {
	orch       *fakeOrchestrator
	usage      *fakeUsage
	invoices   *fakeInvoices
	plans      *fakePlans
	coupons    *fakeCoupons
	jobs       *fakeJobs
	reconciler *fakeReconciler
	apiCalls   middleware.APICallCounter
	cfg        Config
	noJobs     bool
}

func newHarness() *harness {
	return &harness{
		orch:       &fakeOrchestrator{},
		usage:      &fakeUsage{},
		invoices:   &fakeInvoices{},
		plans:      &fakePlans{},
		coupons:    &fakeCoupons{},
		jobs:       &fakeJobs{},
		reconciler: &fakeReconciler{},
		cfg:        Config{Logger: observability.NewLogger(observability.ErrorLevel, io.Discard)},
	}
}

func (h *harness) server() *Server {
	deps := Dependencies{
		Catalog:      tiers.Default(),
		Orchestrator: h.orch,
		Usage:        h.usage,
		Invoices:     h.invoices,
		Plans:        h.plans,
		Coupons:      h.coupons,
		Jobs:         h.jobs,
		Reconciler:   h.reconciler,
		APICalls:     h.apiCalls,
	}
	if h.noJobs {
		deps.Jobs = nil
		deps.Reconciler = nil
	}
	s := NewServer(deps, h.cfg)
	s.now = func() time.Time { return time.Date(2025, 12, 14, 9, 0, 0, 0, time.UTC) }
	return s
}

var (
	owner      = map[string]string{rbac.HeaderRole: "owner", rbac.HeaderUserID: "u-1", rbac.HeaderCompanyID: "7"}
	viewer     = map[string]string{rbac.HeaderRole: "viewer", rbac.HeaderUserID: "u-2", rbac.HeaderCompanyID: "7"}
	worker     = map[string]string{rbac.HeaderRole: "worker", rbac.HeaderUserID: "u-3", rbac.HeaderCompanyID: "7"}
	superAdmin = map[string]string{rbac.HeaderRole: "super_admin", rbac.HeaderUserID: "ops"}
)

func (h *harness) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.server().ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	msg, _ := decode(t, w)["error"].(string)
	return msg
}

var _ http.Handler = (*Server)(nil)
