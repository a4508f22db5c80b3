package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tierbill/pkg/observability"
	"github.com/platinummonkey/tierbill/pkg/rbac"
)

type call struct {
	companyID int64
	n         int64
}

type fakeCounter struct {
	calls chan call
	err   error
}

func (f *fakeCounter) IncrementAPICalls(ctx context.Context, companyID int64, n int64) error {
	f.calls <- call{companyID, n}
	return f.err
}

func newRouter(counter APICallCounter) *mux.Router {
	router := mux.NewRouter()
	router.Use(rbac.PrincipalMiddleware)
	router.Use(MeterAPICalls(counter, observability.NewLogger(observability.ErrorLevel, io.Discard)))
	router.HandleFunc("/billing/usage", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return router
}

func serve(router http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/billing/usage", nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestMeterAPICalls(t *testing.T) {
	t.Run("success - counts tenant calls", func(t *testing.T) {
		counter := &fakeCounter{calls: make(chan call, 1)}
		w := serve(newRouter(counter), map[string]string{rbac.HeaderRole: "viewer", rbac.HeaderCompanyID: "42"})
		require.Equal(t, http.StatusOK, w.Code)

		select {
		case got := <-counter.calls:
			assert.Equal(t, call{42, 1}, got)
		case <-time.After(time.Second):
			t.Fatal("api call was not counted")
		}
	})

	t.Run("success - super admin without a company is not counted", func(t *testing.T) {
		counter := &fakeCounter{calls: make(chan call, 1)}
		w := serve(newRouter(counter), map[string]string{rbac.HeaderRole: "super_admin"})
		require.Equal(t, http.StatusOK, w.Code)

		select {
		case got := <-counter.calls:
			t.Fatalf("unexpected count %+v", got)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("error - counter failure does not fail the request", func(t *testing.T) {
		counter := &fakeCounter{calls: make(chan call, 1), err: errors.New("redis down")}
		w := serve(newRouter(counter), map[string]string{rbac.HeaderRole: "owner", rbac.HeaderCompanyID: "7"})
		assert.Equal(t, http.StatusOK, w.Code)
		<-counter.calls
	})

	t.Run("error - rejected requests are not counted", func(t *testing.T) {
		counter := &fakeCounter{calls: make(chan call, 1)}
		w := serve(newRouter(counter), nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		select {
		case got := <-counter.calls:
			t.Fatalf("unexpected count %+v", got)
		case <-time.After(50 * time.Millisecond):
		}
	})
}
