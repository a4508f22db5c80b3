// Package contextkeys provides centralized context key definitions
//
// All context keys shared between packages are defined here so that setters
// and getters never disagree on a key.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *rbac.Principal
	// Set by: rbac.PrincipalMiddleware
	// Required by: every billing API route
	PrincipalKey Key = "principal"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: api request ID middleware
	// Used by: logger, billing event actor, error responses
	RequestIDKey Key = "request_id"

	// JobRunIDKey contains the scheduled job run ID string (UUID)
	// Set by: jobs.Runner for each run
	// Used by: logger, job summary events
	JobRunIDKey Key = "job_run_id"
)

// WithPrincipal adds the caller identity to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithJobRunID adds a job run ID to the context
func WithJobRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, JobRunIDKey, runID)
}

// GetJobRunID retrieves the job run ID from context
func GetJobRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(JobRunIDKey).(string); ok {
		return runID
	}
	return ""
}
