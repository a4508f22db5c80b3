package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tierbill/pkg/audit"
	"github.com/platinummonkey/tierbill/pkg/plans"
	"github.com/platinummonkey/tierbill/pkg/tiers"
	"github.com/platinummonkey/tierbill/pkg/webhooks"
)

func alertHarness() *harness {
	h := newHarness()
	h.plans.listFn = func(ctx context.Context) ([]*plans.Plan, error) {
		return []*plans.Plan{
			plan(1, tiers.Starter, plans.StatusActive, "199.00"),
			plan(2, tiers.Professional, plans.StatusActive, "499.00"),
			plan(3, tiers.Starter, plans.StatusSuspended, "199.00"),
		}, nil
	}
	h.usage.currentFn = func(ctx context.Context, companyID int64) (tiers.Usage, error) {
		if companyID == 1 {
			return tiers.Usage{Contractors: 3, StorageGB: decimal.NewFromInt(5), APICalls: 10000}, nil
		}
		return tiers.Usage{StorageGB: decimal.Zero}, nil
	}
	return h
}

func TestSendUsageAlerts(t *testing.T) {
	t.Run("success - raises warning and worse", func(t *testing.T) {
		h := alertHarness()
		h.usage.currentFn = func(ctx context.Context, companyID int64) (tiers.Usage, error) {
			switch companyID {
			case 1:
				return tiers.Usage{Contractors: 3, StorageGB: decimal.NewFromInt(5), APICalls: 10000}, nil
			case 2:
				return tiers.Usage{}, errors.New("counter unavailable")
			}
			t.Fatalf("usage requested for suspended company %d", companyID)
			return tiers.Usage{}, nil
		}

		result, err := h.orchestrator(nil).SendUsageAlerts(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, result.Success)
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, int64(2), result.Errors[0].TenantID)

		require.Len(t, result.Alerts, 2)
		assert.Equal(t, tiers.MetricContractors, result.Alerts[0].Metric)
		assert.Equal(t, tiers.AlertWarning, result.Alerts[0].Level)
		assert.Equal(t, "60", result.Alerts[0].Percentage.String())
		assert.Equal(t, tiers.MetricStorageGB, result.Alerts[1].Metric)
		assert.Equal(t, tiers.AlertExceeded, result.Alerts[1].Level)

		events := h.recorder.OfType(audit.EventUsageAlert)
		require.Len(t, events, 2)
		assert.Equal(t, "contractors", events[0].Metadata["metric"])
		assert.Equal(t, "warning", events[0].Metadata["level"])
		assert.Equal(t, "2025-12-14", events[0].Metadata["date"])
		assert.Equal(t, int64(5), events[0].Metadata["limit"])

		notified := receive(t, h.notifier, 2)
		for _, e := range notified {
			assert.Equal(t, webhooks.EventUsageAlert, e.Type)
			assert.Equal(t, int64(1), e.CompanyID)
		}
	})

	t.Run("success - second sweep on the same day is deduplicated", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		h := alertHarness()
		o := h.orchestrator(NewRedisAlertDeduper(client))

		first, err := o.SendUsageAlerts(context.Background())
		require.NoError(t, err)
		assert.Len(t, first.Alerts, 2)
		assert.Zero(t, first.Deduplicated)

		second, err := o.SendUsageAlerts(context.Background())
		require.NoError(t, err)
		assert.Empty(t, second.Alerts)
		assert.Equal(t, 2, second.Deduplicated)
		assert.Len(t, h.recorder.OfType(audit.EventUsageAlert), 2)
	})

	t.Run("error - deduper failure isolates the tenant", func(t *testing.T) {
		h := alertHarness()
		searcher := &fakeSearcher{countFn: func(ctx context.Context, filter audit.Filter) (int64, error) {
			return 0, errors.New("db down")
		}}

		result, err := h.orchestrator(NewEventLogDeduper(searcher)).SendUsageAlerts(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)
		assert.Empty(t, result.Alerts)
	})

	t.Run("error - plan listing fails", func(t *testing.T) {
		h := newHarness()
		h.plans.listFn = func(ctx context.Context) ([]*plans.Plan, error) {
			return nil, errors.New("db down")
		}
		_, err := h.orchestrator(nil).SendUsageAlerts(context.Background())
		require.Error(t, err)
	})
}
