package rbac

import (
	"net/http"
	"strconv"

	"github.com/platinummonkey/tierbill/pkg/audit"
	"github.com/platinummonkey/tierbill/pkg/contextkeys"
	"github.com/platinummonkey/tierbill/pkg/httputil"
	"github.com/platinummonkey/tierbill/pkg/observability"
)

// Headers set by the identity proxy in front of the billing API.
const (
	HeaderUserID    = "X-User-ID"
	HeaderRole      = "X-User-Role"
	HeaderCompanyID = "X-Company-ID"
)

// PrincipalFromRequest returns the principal stored by PrincipalMiddleware.
func PrincipalFromRequest(r *http.Request) *Principal {
	p, _ := r.Context().Value(contextkeys.PrincipalKey).(*Principal)
	return p
}

// PrincipalMiddleware reads the identity headers into a Principal. Requests
// without a valid role are rejected with 401.
func PrincipalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, err := ParseRole(r.Header.Get(HeaderRole))
		if err != nil {
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
			return
		}
		p := &Principal{UserID: r.Header.Get(HeaderUserID), Role: role}
		if raw := r.Header.Get(HeaderCompanyID); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				httputil.WriteErrorMessage(w, http.StatusUnauthorized, "invalid company id")
				return
			}
			p.CompanyID = id
		}
		if p.CompanyID == 0 && !p.IsSuperAdmin() {
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, "company membership required")
			return
		}

		ctx := contextkeys.WithPrincipal(r.Context(), p)
		ctx = audit.WithActor(ctx, p.Actor())
		if p.CompanyID != 0 {
			ctx = observability.WithTenantID(ctx, p.CompanyID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require allows the request only when the principal holds required on resource.
func Require(resource Resource, required Level) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromRequest(r)
			if p == nil {
				httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !Can(p.Role, resource, required) {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
