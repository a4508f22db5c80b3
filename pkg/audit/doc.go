// Package audit records the billing event log: plan lifecycle, coupon and
// invoice transitions, usage alerts, and scheduled job summaries and failures.
//
// Services receive a Recorder. The Postgres implementation also answers
// searches, which the usage alert job uses as its deduplication fallback.
// The actor attached with WithActor is stamped on every event recorded under
// that context.
package audit
