package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the billing services.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	JobRunsTotal    *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	BatchItemsTotal *prometheus.CounterVec

	InvoicesGeneratedTotal  prometheus.Counter
	SnapshotsCapturedTotal  prometheus.Counter
	CouponsAppliedTotal     prometheus.Counter
	CouponsExpiredTotal     prometheus.Counter
	AccountsSuspendedTotal  prometheus.Counter
	UsageAlertsTotal        *prometheus.CounterVec
	SnapshotCacheLookups    *prometheus.CounterVec

	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
}

// NewMetrics creates and registers the billing collectors.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billing_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		JobRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_job_runs_total",
			Help: "Scheduled job runs by outcome",
		}, []string{"job", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billing_job_duration_seconds",
			Help:    "Scheduled job duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"job"}),
		BatchItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_batch_items_total",
			Help: "Per-tenant batch items by operation and outcome",
		}, []string{"operation", "status"}),

		InvoicesGeneratedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_invoices_generated_total",
			Help: "Invoices created",
		}),
		SnapshotsCapturedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_usage_snapshots_captured_total",
			Help: "Usage snapshots written",
		}),
		CouponsAppliedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_coupons_applied_total",
			Help: "Coupons applied to tenants",
		}),
		CouponsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_coupons_expired_total",
			Help: "Coupons transitioned to expired",
		}),
		AccountsSuspendedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_accounts_suspended_total",
			Help: "Tenant plans suspended for overdue invoices",
		}),
		UsageAlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_usage_alerts_total",
			Help: "Usage alerts raised by metric and level",
		}, []string{"metric", "level"}),
		SnapshotCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_snapshot_cache_lookups_total",
			Help: "Latest-snapshot cache lookups by result",
		}, []string{"result"}),

		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "billing_db_connections_open",
			Help: "Open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "billing_db_connections_in_use",
			Help: "Database connections in use",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.JobRunsTotal,
		m.JobDuration,
		m.BatchItemsTotal,
		m.InvoicesGeneratedTotal,
		m.SnapshotsCapturedTotal,
		m.CouponsAppliedTotal,
		m.CouponsExpiredTotal,
		m.AccountsSuspendedTotal,
		m.UsageAlertsTotal,
		m.SnapshotCacheLookups,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
	)
	return m
}

// ObserveJob records one job run.
func (m *Metrics) ObserveJob(job string, started time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.JobRunsTotal.WithLabelValues(job, status).Inc()
	m.JobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}

// ObserveBatch records the per-tenant outcome counts of a batch operation.
func (m *Metrics) ObserveBatch(operation string, success, failed int) {
	if m == nil {
		return
	}
	m.BatchItemsTotal.WithLabelValues(operation, "success").Add(float64(success))
	m.BatchItemsTotal.WithLabelValues(operation, "failure").Add(float64(failed))
}

// SnapshotCaptured counts one persisted usage snapshot.
func (m *Metrics) SnapshotCaptured() {
	if m != nil {
		m.SnapshotsCapturedTotal.Inc()
	}
}

// SnapshotCacheLookup records a latest-snapshot cache hit or miss.
func (m *Metrics) SnapshotCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.SnapshotCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.SnapshotCacheLookups.WithLabelValues("miss").Inc()
}

// InvoiceGenerated counts one newly persisted invoice.
func (m *Metrics) InvoiceGenerated() {
	if m != nil {
		m.InvoicesGeneratedTotal.Inc()
	}
}

// CouponApplied counts one coupon application.
func (m *Metrics) CouponApplied() {
	if m != nil {
		m.CouponsAppliedTotal.Inc()
	}
}

// CouponsExpired counts coupons moved to expired.
func (m *Metrics) CouponsExpired(n int) {
	if m != nil && n > 0 {
		m.CouponsExpiredTotal.Add(float64(n))
	}
}

// AccountSuspended counts one suspension.
func (m *Metrics) AccountSuspended() {
	if m != nil {
		m.AccountsSuspendedTotal.Inc()
	}
}

// UsageAlert counts one emitted usage alert.
func (m *Metrics) UsageAlert(metric, level string) {
	if m != nil {
		m.UsageAlertsTotal.WithLabelValues(metric, level).Inc()
	}
}

// RecordDBStats copies connection pool stats into gauges.
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests, labelling them by mux route
// template so that path parameters do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in Prometheus exposition format.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
