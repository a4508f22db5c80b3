package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tierbill/pkg/async"
	"github.com/platinummonkey/tierbill/pkg/observability"
	"github.com/platinummonkey/tierbill/pkg/rbac"
)

const meterTimeout = 5 * time.Second

// APICallCounter records tenant API calls.
type APICallCounter interface {
	IncrementAPICalls(ctx context.Context, companyID int64, n int64) error
}

// MeterAPICalls counts one API call against the requesting tenant. The
// increment runs in the background and never fails the request.
func MeterAPICalls(counter APICallCounter, logger *observability.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			p := rbac.PrincipalFromRequest(r)
			if p == nil || p.CompanyID == 0 {
				return
			}
			companyID := p.CompanyID
			async.SafeGo(r.Context(), logger, meterTimeout, "meter api call", func(ctx context.Context) error {
				return counter.IncrementAPICalls(ctx, companyID, 1)
			})
		})
	}
}
