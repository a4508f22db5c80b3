package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tierbill/pkg/httputil"
	"github.com/platinummonkey/tierbill/pkg/middleware"
	"github.com/platinummonkey/tierbill/pkg/observability"
	"github.com/platinummonkey/tierbill/pkg/rbac"
	"github.com/platinummonkey/tierbill/pkg/tiers"
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 1 << 20

// Dependencies are the services behind the handlers. Jobs and Reconciler
// are optional; their routes answer 404 without them. Tenant calls are
// metered when APICalls is set.
type Dependencies struct {
	Catalog      *tiers.Catalog
	Orchestrator Orchestrator
	Usage        UsageReader
	Invoices     InvoiceStore
	Plans        PlanReader
	Coupons      CouponStore
	Jobs         JobRunner
	Reconciler   Reconciler
	APICalls     middleware.APICallCounter
}

// Config holds the ambient pieces of the server.
type Config struct {
	Location     *time.Location
	Logger       *observability.Logger
	Metrics      *observability.Metrics
	Gatherer     prometheus.Gatherer
	Health       *observability.HealthChecker
	MaxBodyBytes int64
}

// Server routes billing HTTP requests.
type Server struct {
	router *mux.Router
	deps   Dependencies
	cfg    Config
	now    func() time.Time
}

// NewServer creates a Server with every route registered.
func NewServer(deps Dependencies, cfg Config) *Server {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		cfg:    cfg,
		now:    time.Now,
	}
	s.setupRoutes()
	return s
}

// guard wraps a handler with an access check.
func guard(resource rbac.Resource, level rbac.Level, fn http.HandlerFunc) http.Handler {
	return rbac.Require(resource, level)(fn)
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(httputil.RequestIDMiddleware(s.cfg.Logger))
	s.router.Use(httputil.LoggingMiddleware)
	s.router.Use(httputil.MaxBytesMiddleware(s.cfg.MaxBodyBytes))
	if s.cfg.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.cfg.Metrics))
	}

	if s.cfg.Health != nil {
		s.router.HandleFunc("/health/live", s.cfg.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/health/ready", s.cfg.Health.Readiness).Methods("GET")
	}
	if s.cfg.Gatherer != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.cfg.Gatherer)).Methods("GET")
	}

	tenant := s.router.PathPrefix("/billing").Subrouter()
	tenant.Use(rbac.PrincipalMiddleware)
	if s.deps.APICalls != nil {
		tenant.Use(middleware.MeterAPICalls(s.deps.APICalls, s.cfg.Logger))
	}
	tenant.Handle("/dashboard", guard(rbac.ResourceBilling, rbac.LevelView, s.getDashboard)).Methods("GET")
	tenant.Handle("/usage", guard(rbac.ResourceUsage, rbac.LevelView, s.getUsage)).Methods("GET")
	tenant.Handle("/usage/trend", guard(rbac.ResourceUsage, rbac.LevelView, s.getUsageTrend)).Methods("GET")
	tenant.Handle("/usage/breakdown", guard(rbac.ResourceUsage, rbac.LevelView, s.getUsageBreakdown)).Methods("GET")
	tenant.Handle("/estimated-cost", guard(rbac.ResourceBilling, rbac.LevelView, s.getEstimatedCost)).Methods("GET")
	tenant.Handle("/invoices", guard(rbac.ResourceInvoices, rbac.LevelView, s.listInvoices)).Methods("GET")
	tenant.Handle("/invoices/{id}", guard(rbac.ResourceInvoices, rbac.LevelView, s.getInvoice)).Methods("GET")
	tenant.Handle("/plan", guard(rbac.ResourceBilling, rbac.LevelView, s.getPlan)).Methods("GET")
	tenant.Handle("/tiers", guard(rbac.ResourceBilling, rbac.LevelView, s.listTiers)).Methods("GET")
	tenant.Handle("/coupon", guard(rbac.ResourceCoupons, rbac.LevelEdit, s.applyCoupon)).Methods("POST")
	tenant.Handle("/coupon", guard(rbac.ResourceCoupons, rbac.LevelEdit, s.removeCoupon)).Methods("DELETE")
	tenant.Handle("/change-plan", guard(rbac.ResourcePlans, rbac.LevelEdit, s.changePlan)).Methods("POST")

	admin := s.router.PathPrefix("/admin/billing").Subrouter()
	admin.Use(rbac.PrincipalMiddleware)
	admin.Handle("/dashboard", guard(rbac.ResourceBilling, rbac.LevelAdmin, s.getAdminDashboard)).Methods("GET")
	admin.Handle("/companies/{id}", guard(rbac.ResourceAccounts, rbac.LevelAdmin, s.getCompany)).Methods("GET")
	admin.Handle("/companies/{id}/suspend", guard(rbac.ResourceAccounts, rbac.LevelAdmin, s.suspendCompany)).Methods("POST")
	admin.Handle("/companies/{id}/unsuspend", guard(rbac.ResourceAccounts, rbac.LevelAdmin, s.unsuspendCompany)).Methods("POST")
	admin.Handle("/companies/{id}/change-plan", guard(rbac.ResourcePlans, rbac.LevelAdmin, s.adminChangePlan)).Methods("POST")
	admin.Handle("/companies/{id}/coupon", guard(rbac.ResourceCoupons, rbac.LevelAdmin, s.adminApplyCoupon)).Methods("POST")
	admin.Handle("/invoices", guard(rbac.ResourceInvoices, rbac.LevelAdmin, s.adminListInvoices)).Methods("GET")
	admin.Handle("/invoices/{id}/mark-paid", guard(rbac.ResourceInvoices, rbac.LevelAdmin, s.markInvoicePaid)).Methods("POST")
	admin.Handle("/invoices/{id}/mark-sent", guard(rbac.ResourceInvoices, rbac.LevelAdmin, s.markInvoiceSent)).Methods("POST")
	admin.Handle("/coupons", guard(rbac.ResourceCoupons, rbac.LevelAdmin, s.listCoupons)).Methods("GET")
	admin.Handle("/coupons", guard(rbac.ResourceCoupons, rbac.LevelAdmin, s.createCoupon)).Methods("POST")
	admin.Handle("/coupons/stats", guard(rbac.ResourceCoupons, rbac.LevelAdmin, s.couponStats)).Methods("GET")
	admin.Handle("/jobs/{name}/run", guard(rbac.ResourceJobs, rbac.LevelAdmin, s.runJob)).Methods("POST")
	admin.Handle("/reconciliation", guard(rbac.ResourceBilling, rbac.LevelAdmin, s.exportReconciliation)).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the router wrapped in OpenTelemetry instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "billing-api")
}
