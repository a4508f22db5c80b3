// Package jobs runs the scheduled billing jobs.
//
// Five jobs exist: snapshot, invoicing, alerts, suspend and expire-coupons.
// Each run gets a run id, a span, a start line and an elapsed-time line. A
// successful run records its summary event; a failed run records the
// matching *_failed event, notifies the operations hook and returns the
// error so the host scheduler can alert. Per-tenant failures inside a batch
// are part of the summary, never a job failure.
//
// Runner.Start registers every job with robfig/cron in the billing time
// zone. Runner.RunJobManually runs one job by name for operators.
package jobs
