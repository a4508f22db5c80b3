// Package middleware provides HTTP middleware for tenant usage metering.
//
// # Ordering
//
// MeterAPICalls reads the principal set by rbac.PrincipalMiddleware, so it
// must be registered after it:
//
//	tenant.Use(rbac.PrincipalMiddleware)
//	tenant.Use(middleware.MeterAPICalls(meter, logger))
//
// Requests without a tenant principal are not counted.
package middleware
