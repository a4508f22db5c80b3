package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tierbill/pkg/httputil"
	"github.com/platinummonkey/tierbill/pkg/observability"
)

func TestOperationalRoutes(t *testing.T) {
	registry := prometheus.NewRegistry()
	h := newHarness()
	h.cfg.Metrics = observability.NewMetrics(registry)
	h.cfg.Gatherer = registry
	h.cfg.Health = observability.NewHealthChecker(nil, nil, "test")

	t.Run("success - liveness", func(t *testing.T) {
		w := h.do(http.MethodGet, "/health/live", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "healthy", decode(t, w)["status"])
	})

	t.Run("success - metrics include http requests", func(t *testing.T) {
		h.do(http.MethodGet, "/billing/tiers", "", viewer)
		w := h.do(http.MethodGet, "/metrics", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "/billing/tiers")
	})
}

func TestRequestIDHeader(t *testing.T) {
	t.Run("success - generated", func(t *testing.T) {
		w := newHarness().do(http.MethodGet, "/billing/tiers", "", viewer)
		assert.NotEmpty(t, w.Header().Get(httputil.HeaderRequestID))
	})

	t.Run("success - propagated", func(t *testing.T) {
		headers := map[string]string{httputil.HeaderRequestID: "req-123"}
		for k, v := range viewer {
			headers[k] = v
		}
		w := newHarness().do(http.MethodGet, "/billing/tiers", "", headers)
		assert.Equal(t, "req-123", w.Header().Get(httputil.HeaderRequestID))
	})
}

func TestInstrumentedHandler(t *testing.T) {
	handler := newHarness().server().Handler()
	r := httptest.NewRequest(http.MethodGet, "/billing/tiers", nil)
	for k, v := range viewer {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	w := newHarness().do(http.MethodGet, "/billing/nope", "", viewer)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type countingMeter struct {
	companies chan int64
}

func (c *countingMeter) IncrementAPICalls(ctx context.Context, companyID int64, n int64) error {
	c.companies <- companyID
	return nil
}

func TestTenantCallsAreMetered(t *testing.T) {
	meter := &countingMeter{companies: make(chan int64, 4)}
	h := newHarness()
	h.apiCalls = meter

	w := h.do(http.MethodGet, "/billing/tiers", "", viewer)
	require.Equal(t, http.StatusOK, w.Code)
	select {
	case id := <-meter.companies:
		assert.Equal(t, int64(7), id)
	case <-time.After(time.Second):
		t.Fatal("tenant call was not metered")
	}

	h.do(http.MethodGet, "/admin/billing/coupons/stats", "", superAdmin)
	select {
	case id := <-meter.companies:
		t.Fatalf("admin call metered for company %d", id)
	case <-time.After(50 * time.Millisecond):
	}
}
