package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/tierbill/pkg/async"
	"github.com/platinummonkey/tierbill/pkg/billing"
	"github.com/platinummonkey/tierbill/pkg/billingerr"
	"github.com/platinummonkey/tierbill/pkg/config"
	"github.com/platinummonkey/tierbill/pkg/coupons"
	"github.com/platinummonkey/tierbill/pkg/webhooks"
)

// Name identifies a scheduled job.
type Name string

const (
	Snapshot      Name = "snapshot"
	Invoicing     Name = "invoicing"
	Alerts        Name = "alerts"
	Suspend       Name = "suspend"
	ExpireCoupons Name = "expire-coupons"
)

// Names lists every job in schedule-listing order.
func Names() []Name {
	return []Name{Snapshot, Invoicing, Alerts, Suspend, ExpireCoupons}
}

// UnknownJobError is returned for a job name that does not exist.
type UnknownJobError struct {
	Name string
}

func (e *UnknownJobError) Error() string {
	return fmt.Sprintf("unknown job: %s", e.Name)
}

func (e *UnknownJobError) Unwrap() error { return billingerr.ErrNotFound }

// SchedulesFromConfig maps the configured cron expressions to job names.
func SchedulesFromConfig(cfg config.SchedulerConfig) map[Name]string {
	return map[Name]string{
		Snapshot:      cfg.SnapshotSchedule,
		Invoicing:     cfg.InvoicingSchedule,
		Alerts:        cfg.AlertsSchedule,
		Suspend:       cfg.SuspendSchedule,
		ExpireCoupons: cfg.ExpireCouponsSchedule,
	}
}

// Orchestrator runs the cross-tenant billing passes.
type Orchestrator interface {
	ProcessMonthlyBilling(ctx context.Context) (*billing.MonthlyBillingResult, error)
	SendUsageAlerts(ctx context.Context) (*billing.AlertResult, error)
	SuspendOverdueAccounts(ctx context.Context) (*billing.SuspensionResult, error)
}

// SnapshotTaker captures the daily usage snapshot of every tenant.
type SnapshotTaker interface {
	CaptureAllSnapshots(ctx context.Context) (async.BatchResult, error)
}

// CouponSweeper retires expired and exhausted coupons.
type CouponSweeper interface {
	ExpireOldCoupons(ctx context.Context) (*coupons.SweepResult, error)
}

// Archiver stores the reconciliation export of a billed period.
type Archiver interface {
	ArchiveMonth(ctx context.Context, start, end time.Time) (string, error)
}

// Notifier delivers job failure notifications.
type Notifier interface {
	Notify(ctx context.Context, event *webhooks.Event) error
}

// Result describes one completed job run.
type Result struct {
	Job       Name                   `json:"job"`
	RunID     string                 `json:"run_id"`
	StartedAt time.Time              `json:"started_at"`
	Duration  time.Duration          `json:"duration"`
	Summary   map[string]interface{} `json:"summary"`
}

// ScheduledJob is one registered cron entry.
type ScheduledJob struct {
	Name     Name      `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
}
