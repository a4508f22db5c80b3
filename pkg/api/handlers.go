package api

import (
	"net/http"

	"github.com/platinummonkey/tierbill/pkg/billingerr"
	"github.com/platinummonkey/tierbill/pkg/httputil"
	"github.com/platinummonkey/tierbill/pkg/observability"
	"github.com/platinummonkey/tierbill/pkg/rbac"
)

// fail writes err and logs anything that is not a client error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !billingerr.IsValidation(err) && !billingerr.IsNotFound(err) && !billingerr.IsConflict(err) {
		observability.FromContext(r.Context()).
			WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
	}
	httputil.WriteBillingError(w, err)
}

// companyID returns the caller's company. A super admin without a company
// header cannot use tenant routes.
func companyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	p := rbac.PrincipalFromRequest(r)
	if p == nil || p.CompanyID == 0 {
		httputil.WriteBadRequest(w, "company id required")
		return 0, false
	}
	return p.CompanyID, true
}

// parseOptionalJSON decodes a body when one was sent.
func parseOptionalJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	return httputil.ParseJSONOrError(w, r, dest)
}
