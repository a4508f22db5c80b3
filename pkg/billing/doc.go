// Package billing orchestrates the tier catalog, usage meter, discount
// engine and invoice generator into the billing workflows.
//
// # Overview
//
// The Orchestrator serves the tenant dashboard and the super-admin views,
// changes and suspends plans, and runs the scheduled passes:
//
//   - ProcessMonthlyBilling: snapshot every tenant, then invoice every active
//     tenant for the previous calendar month
//   - SuspendOverdueAccounts: mark past-due invoices overdue and suspend
//     tenants more than GraceDays past due
//   - SendUsageAlerts: raise one usage_alert per tenant, metric and level a day
//
// Every pass isolates tenants: one tenant's failure is reported in the result
// and never stops the pass. Only failing to enumerate tenants is an error.
//
// # Alert Levels
//
// Dashboards and alerts share one table: below 50% normal, below 75%
// warning, below 100% critical, otherwise exceeded. Unlimited metrics always
// read 0%.
//
// # Deduplication
//
// RedisAlertDeduper claims billing:alert:{company}:{metric}:{level}:{date}
// with SETNX. EventLogDeduper checks billing_events instead and is used when
// Redis is not configured.
//
// # Usage Example
//
//	orch := billing.NewOrchestrator(billing.Dependencies{
//		Catalog:  catalog,
//		Plans:    planService,
//		Usage:    meter,
//		Invoices: invoiceService,
//		Coupons:  couponService,
//		Deduper:  billing.NewRedisAlertDeduper(redisClient),
//		Notifier: notifier,
//	}, billing.Config{Location: sydney, Recorder: recorder})
//
//	result, err := orch.ProcessMonthlyBilling(ctx)
//
// # Related Packages
//
//   - pkg/jobs: schedules the passes
//   - pkg/api: serves the dashboards
//   - pkg/webhooks: delivers notifications
package billing
