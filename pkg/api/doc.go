// Package api is the HTTP surface of the billing engine.
//
// Tenant routes live under /billing and act on the caller's own company.
// Super-admin routes live under /admin/billing and take the company from
// the path. Identity comes from headers set by the upstream identity proxy
// (see rbac.PrincipalMiddleware); every route then checks the caller's
// access level with rbac.Require.
//
// Errors map through httputil.WriteBillingError: validation failures are
// 400, missing resources 404, conflicts 409 and everything else 500.
//
// The server also serves /metrics and the /health/live and /health/ready
// probes.
package api
