package billing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/platinummonkey/tierbill/pkg/async"
	"github.com/platinummonkey/tierbill/pkg/audit"
	"github.com/platinummonkey/tierbill/pkg/plans"
	"github.com/platinummonkey/tierbill/pkg/tiers"
	"github.com/platinummonkey/tierbill/pkg/webhooks"
)

// SendUsageAlerts raises one usage_alert per active tenant, metric and level
// per day for every metric at warning level or worse.
func (o *Orchestrator) SendUsageAlerts(ctx context.Context) (*AlertResult, error) {
	ctx, span := tracer.Start(ctx, "billing.SendUsageAlerts")
	defer span.End()

	current, err := o.plans.ListCurrent(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	active := lo.Filter(current, func(p *plans.Plan, _ int) bool { return p.Status == plans.StatusActive })

	today := o.today()
	var (
		mu     sync.Mutex
		result = &AlertResult{Alerts: []UsageAlert{}}
	)

	result.BatchResult = async.RunIsolated(ctx, active, o.batch, func(p *plans.Plan) int64 { return p.CompanyID },
		func(ctx context.Context, p *plans.Plan) error {
			limits, err := o.catalog.Limits(p.TierID)
			if err != nil {
				return err
			}
			usage, err := o.usage.CurrentUsage(ctx, p.CompanyID)
			if err != nil {
				return fmt.Errorf("failed to get usage: %w", err)
			}

			metrics, _ := measure(usage, limits)
			for _, m := range metrics {
				if m.AlertLevel.Severity() < tiers.AlertWarning.Severity() {
					continue
				}
				alert := UsageAlert{
					CompanyID:  p.CompanyID,
					Metric:     m.Metric,
					Level:      m.AlertLevel,
					Percentage: m.Percentage,
					Current:    m.Current,
					Limit:      m.Limit,
				}
				if o.deduper != nil {
					claimed, err := o.deduper.Claim(ctx, alert, today)
					if err != nil {
						return err
					}
					if !claimed {
						mu.Lock()
						result.Deduplicated++
						mu.Unlock()
						continue
					}
				}
				o.raise(ctx, alert, today)

				mu.Lock()
				result.Alerts = append(result.Alerts, alert)
				mu.Unlock()
			}
			return nil
		})

	sort.SliceStable(result.Alerts, func(i, j int) bool {
		return result.Alerts[i].CompanyID < result.Alerts[j].CompanyID
	})
	o.metrics.ObserveBatch("usage_alerts", result.Success, result.Failed)
	o.logger.WithFields(map[string]interface{}{
		"tenants":      len(active),
		"alerts":       len(result.Alerts),
		"deduplicated": result.Deduplicated,
		"failed":       result.Failed,
	}).Info("Usage alerts processed")
	return result, nil
}

func (o *Orchestrator) raise(ctx context.Context, alert UsageAlert, day time.Time) {
	metadata := alertMetadataKey(alert, day)
	metadata["percentage"] = alert.Percentage.String()
	metadata["current"] = alert.Current.String()
	metadata["limit"] = alert.Limit
	o.record(ctx, alert.CompanyID, audit.EventUsageAlert, metadata)
	o.metrics.UsageAlert(string(alert.Metric), string(alert.Level))

	o.notify(ctx, &webhooks.Event{
		Type:      webhooks.EventUsageAlert,
		CompanyID: alert.CompanyID,
		Data: map[string]interface{}{
			"metric":     string(alert.Metric),
			"level":      string(alert.Level),
			"percentage": alert.Percentage.String(),
			"current":    alert.Current.String(),
			"limit":      alert.Limit,
			"message":    fmt.Sprintf("%s at %s%% of the plan limit", alert.Metric.Label(), alert.Percentage.String()),
		},
	})
}
