// Package observability carries the logging, metrics, tracing, health and
// shutdown plumbing shared by the billing binaries.
//
// Logging is JSON via slog with tenant and request ids pulled from the
// context. Metrics are Prometheus collectors prefixed billing_. Tracing and
// OTLP metric export are optional and configured through OTelConfig.
package observability
