package observability

import (
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveJob(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveJob("snapshot", time.Now(), nil)
	m.ObserveJob("snapshot", time.Now(), errors.New("boom"))
	m.ObserveJob("snapshot", time.Now(), nil)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("snapshot", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("snapshot", "failure")))
}

func TestObserveBatch(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveBatch("generate_invoices", 8, 2)
	assert.Equal(t, float64(8), testutil.ToFloat64(m.BatchItemsTotal.WithLabelValues("generate_invoices", "success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.BatchItemsTotal.WithLabelValues("generate_invoices", "failure")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveJob("x", time.Now(), nil)
	m.ObserveBatch("x", 1, 1)
	m.RecordDBStats(sql.DBStats{})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/billing/invoices/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/billing/invoices/17", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/billing/invoices/{id}", "404")))

	rr = httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rr.Body.String(), "billing_http_requests_total"))
}

func TestDomainCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SnapshotCaptured()
	m.SnapshotCacheLookup(true)
	m.SnapshotCacheLookup(false)
	m.SnapshotCacheLookup(false)
	m.InvoiceGenerated()
	m.CouponApplied()
	m.CouponsExpired(3)
	m.CouponsExpired(0)
	m.AccountSuspended()
	m.UsageAlert("storage_gb", "critical")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SnapshotsCapturedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SnapshotCacheLookups.WithLabelValues("hit")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.SnapshotCacheLookups.WithLabelValues("miss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InvoicesGeneratedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CouponsAppliedTotal))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.CouponsExpiredTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AccountsSuspendedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UsageAlertsTotal.WithLabelValues("storage_gb", "critical")))

	var nilM *Metrics
	nilM.SnapshotCaptured()
	nilM.SnapshotCacheLookup(true)
	nilM.UsageAlert("x", "y")
}
