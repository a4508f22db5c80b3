package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tierbill/pkg/audit"
)

const (
	dayLayout = "2006-01-02"

	// alertKeyTTL outlives the alert day in every timezone.
	alertKeyTTL = 48 * time.Hour
)

func alertKey(alert UsageAlert, day time.Time) string {
	return fmt.Sprintf("billing:alert:%d:%s:%s:%s", alert.CompanyID, alert.Metric, alert.Level, day.Format(dayLayout))
}

// RedisAlertDeduper claims alerts with SETNX.
type RedisAlertDeduper struct {
	client *redis.Client
}

// NewRedisAlertDeduper creates a new RedisAlertDeduper
func NewRedisAlertDeduper(client *redis.Client) *RedisAlertDeduper {
	return &RedisAlertDeduper{client: client}
}

func (d *RedisAlertDeduper) Claim(ctx context.Context, alert UsageAlert, day time.Time) (bool, error) {
	ok, err := d.client.SetNX(ctx, alertKey(alert, day), 1, alertKeyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim usage alert: %w", err)
	}
	return ok, nil
}

// EventLogDeduper claims an alert when no usage_alert event for the same
// tenant, metric, level and day is in the event log. It is used when Redis is
// not configured. Two concurrent sweeps may both claim; sweeps run once a day.
type EventLogDeduper struct {
	events audit.Searcher
}

// NewEventLogDeduper creates a new EventLogDeduper
func NewEventLogDeduper(events audit.Searcher) *EventLogDeduper {
	return &EventLogDeduper{events: events}
}

func (d *EventLogDeduper) Claim(ctx context.Context, alert UsageAlert, day time.Time) (bool, error) {
	companyID := alert.CompanyID
	n, err := d.events.Count(ctx, audit.Filter{
		CompanyID: &companyID,
		Types:     []audit.EventType{audit.EventUsageAlert},
		Metadata:  alertMetadataKey(alert, day),
	})
	if err != nil {
		return false, fmt.Errorf("failed to check usage alert history: %w", err)
	}
	return n == 0, nil
}

// alertMetadataKey is the part of a usage_alert event's metadata that
// identifies it for deduplication.
func alertMetadataKey(alert UsageAlert, day time.Time) map[string]interface{} {
	return map[string]interface{}{
		"metric": string(alert.Metric),
		"level":  string(alert.Level),
		"date":   day.Format(dayLayout),
	}
}
