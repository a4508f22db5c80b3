// Package webhooks delivers billing notifications to operators.
//
// # Overview
//
// A Notifier posts each event as signed JSON to a configured webhook and,
// when configured, as a formatted message to a Slack incoming webhook.
// Deliveries are throttled with a token bucket and retried with exponential
// backoff. 4xx responses other than 429 are not retried.
//
// # Events
//
// billing.usage_alert, billing.account_suspended, billing.invoice_overdue,
// billing.job_failed
//
// # Usage Example
//
//	notifier := webhooks.NewNotifier(webhooks.Config{
//		URL:        "https://ops.example.com/hooks/billing",
//		Secret:     "webhook-secret",
//		MaxRetries: 3,
//	}, logger)
//
//	err := notifier.Notify(ctx, &webhooks.Event{
//		Type:      webhooks.EventUsageAlert,
//		CompanyID: 42,
//		Data: map[string]interface{}{
//			"metric": "storage",
//			"level":  "critical",
//		},
//	})
//
// Verify signature (receiver side):
//
//	sig := r.Header.Get(webhooks.HeaderSignature)
//	if !webhooks.VerifySignature(body, sig, secret) {
//		return errors.New("invalid signature")
//	}
//
// # Related Packages
//
//   - pkg/billing: raises usage alert and suspension notifications
//   - pkg/jobs: raises job failure notifications
package webhooks
