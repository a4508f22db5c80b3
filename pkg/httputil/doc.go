// Package httputil holds the request and response helpers shared by the
// billing HTTP handlers.
//
// Error responses are always {"error": "..."} JSON. Handlers that call into
// the billing services pass their errors to WriteBillingError, which maps
// validation, not-found and conflict failures to 400, 404 and 409.
//
// Request bodies are decoded with ParseJSON, which rejects unknown fields
// and applies `validate` struct tags:
//
//	var req applyCouponRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
package httputil
