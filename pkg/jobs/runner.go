package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/tierbill/pkg/async"
	"github.com/platinummonkey/tierbill/pkg/audit"
	"github.com/platinummonkey/tierbill/pkg/contextkeys"
	"github.com/platinummonkey/tierbill/pkg/observability"
	"github.com/platinummonkey/tierbill/pkg/webhooks"
)

var tracer = otel.Tracer("github.com/platinummonkey/tierbill/pkg/jobs")

const (
	// maxSummaryItems caps the error and code lists copied into summaries.
	maxSummaryItems = 50

	DefaultNotifyTimeout = 30 * time.Second
)

// Dependencies are the components the jobs drive.
type Dependencies struct {
	Orchestrator Orchestrator
	Snapshots    SnapshotTaker
	Coupons      CouponSweeper
	// Archiver is optional; without it invoicing skips the reconciliation archive.
	Archiver Archiver
	// Notifier is optional; without it failures are only logged and recorded.
	Notifier Notifier
}

// Config tunes a Runner.
type Config struct {
	// Location is the time zone schedules are evaluated in. Nil means UTC.
	Location      *time.Location
	Schedules     map[Name]string
	NotifyTimeout time.Duration
	Recorder      audit.Recorder
	Metrics       *observability.Metrics
	Logger        logrus.FieldLogger
}

type job struct {
	summary audit.EventType
	failure audit.EventType
	run     func(ctx context.Context) (map[string]interface{}, error)
}

// Runner owns the scheduled jobs and their cron registration.
type Runner struct {
	deps   Dependencies
	cfg    Config
	logger logrus.FieldLogger
	jobs   map[Name]job
	now    func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
	ids  map[Name]cron.EntryID
}

// NewRunner creates a Runner.
func NewRunner(deps Dependencies, cfg Config) *Runner {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Recorder == nil {
		cfg.Recorder = audit.NopRecorder{}
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	r := &Runner{
		deps:   deps,
		cfg:    cfg,
		logger: cfg.Logger.WithField("component", "billing-scheduler"),
		now:    time.Now,
	}
	r.jobs = map[Name]job{
		Snapshot:      {audit.EventUsageSnapshot, audit.EventUsageSnapshotFailed, r.snapshot},
		Invoicing:     {audit.EventMonthlyInvoicing, audit.EventMonthlyInvoicingFailed, r.invoicing},
		Alerts:        {audit.EventOverageAlerts, audit.EventOverageAlertsFailed, r.alerts},
		Suspend:       {audit.EventSuspendOverdueJob, audit.EventSuspendOverdueFailed, r.suspend},
		ExpireCoupons: {audit.EventCouponsExpired, audit.EventExpireCouponsFailed, r.expireCoupons},
	}
	return r
}

// RunJobManually runs the job called raw. Unknown names return an
// UnknownJobError.
func (r *Runner) RunJobManually(ctx context.Context, raw string) (*Result, error) {
	name := Name(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := r.jobs[name]; !ok {
		return nil, &UnknownJobError{Name: raw}
	}
	r.logger.WithField("job", name).Info("running job manually")
	return r.Run(ctx, name)
}

// Run executes one job to completion.
func (r *Runner) Run(ctx context.Context, name Name) (*Result, error) {
	j, ok := r.jobs[name]
	if !ok {
		return nil, &UnknownJobError{Name: string(name)}
	}

	runID := uuid.NewString()
	ctx = audit.WithActor(ctx, "job:"+string(name))
	ctx = contextkeys.WithJobRunID(ctx, runID)
	ctx, span := tracer.Start(ctx, "jobs."+string(name))
	span.SetAttributes(
		attribute.String("job.name", string(name)),
		attribute.String("job.run_id", runID),
	)
	defer span.End()

	log := r.logger.WithFields(logrus.Fields{"job": name, "run_id": runID})
	startedAt := r.now()
	clock := time.Now()
	log.Info("job started")

	summary, err := j.run(ctx)
	elapsed := time.Since(clock)
	r.cfg.Metrics.ObserveJob(string(name), clock, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job failed")
		log.WithError(err).WithField("elapsed", elapsed.String()).Error("job failed")

		r.record(ctx, audit.NewEvent(0, j.failure, map[string]interface{}{
			"run_id": runID,
			"error":  err.Error(),
		}))
		r.notifyFailure(ctx, name, runID, err)
		return nil, fmt.Errorf("%s job failed: %w", name, err)
	}

	summary["run_id"] = runID
	summary["duration"] = fmt.Sprintf("%.2fs", elapsed.Seconds())
	r.record(ctx, audit.NewEvent(0, j.summary, summary))
	log.WithFields(logrus.Fields(summary)).WithField("elapsed", elapsed.String()).Info("job completed")

	return &Result{
		Job:       name,
		RunID:     runID,
		StartedAt: startedAt,
		Duration:  elapsed,
		Summary:   summary,
	}, nil
}

func (r *Runner) record(ctx context.Context, event *audit.Event) {
	if err := r.cfg.Recorder.Record(ctx, event); err != nil {
		r.logger.WithError(err).WithField("event_type", event.Type).Warn("failed to record job event")
	}
}

func (r *Runner) notifyFailure(ctx context.Context, name Name, runID string, jobErr error) {
	if r.deps.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.NotifyTimeout)
	defer cancel()

	err := r.deps.Notifier.Notify(ctx, &webhooks.Event{
		Type: webhooks.EventJobFailed,
		Data: map[string]interface{}{
			"job":     string(name),
			"run_id":  runID,
			"error":   jobErr.Error(),
			"message": fmt.Sprintf("The %s billing job failed and needs attention.", name),
		},
	})
	if err != nil {
		r.logger.WithError(err).WithField("job", name).Warn("failed to send job failure notification")
	}
}

func batchSummary(result async.BatchResult) map[string]interface{} {
	summary := map[string]interface{}{
		"success": result.Success,
		"failed":  result.Failed,
	}
	if len(result.Errors) > 0 {
		summary["errors"] = lo.Slice(result.Errors, 0, maxSummaryItems)
	}
	return summary
}

func (r *Runner) snapshot(ctx context.Context) (map[string]interface{}, error) {
	result, err := r.deps.Snapshots.CaptureAllSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	summary := batchSummary(result)
	summary["date"] = r.now().In(r.cfg.Location).Format("2006-01-02")
	return summary, nil
}

func (r *Runner) invoicing(ctx context.Context) (map[string]interface{}, error) {
	result, err := r.deps.Orchestrator.ProcessMonthlyBilling(ctx)
	if err != nil {
		return nil, err
	}
	summary := map[string]interface{}{
		"month":              result.PeriodStart.Format("January 2006"),
		"period_start":       result.PeriodStart.Format("2006-01-02"),
		"period_end":         result.PeriodEnd.Format("2006-01-02"),
		"snapshots_captured": result.Snapshots.Success,
		"snapshot_failures":  result.Snapshots.Failed,
		"invoices_generated": result.Invoices.Success,
		"invoice_failures":   result.Invoices.Failed,
	}
	if len(result.Invoices.Errors) > 0 {
		summary["errors"] = lo.Slice(result.Invoices.Errors, 0, maxSummaryItems)
	}

	if r.deps.Archiver != nil {
		key, err := r.deps.Archiver.ArchiveMonth(ctx, result.PeriodStart, result.PeriodEnd)
		if err != nil {
			r.logger.WithError(err).WithField("job", Invoicing).Warn("failed to archive reconciliation")
			summary["reconciliation_error"] = err.Error()
		} else {
			summary["reconciliation_key"] = key
		}
	}
	return summary, nil
}

func (r *Runner) alerts(ctx context.Context) (map[string]interface{}, error) {
	result, err := r.deps.Orchestrator.SendUsageAlerts(ctx)
	if err != nil {
		return nil, err
	}
	summary := batchSummary(result.BatchResult)
	summary["companies_checked"] = result.Success + result.Failed
	summary["alerts_raised"] = len(result.Alerts)
	summary["deduplicated"] = result.Deduplicated
	return summary, nil
}

func (r *Runner) suspend(ctx context.Context) (map[string]interface{}, error) {
	result, err := r.deps.Orchestrator.SuspendOverdueAccounts(ctx)
	if err != nil {
		return nil, err
	}
	summary := map[string]interface{}{
		"overdue_invoices":  result.OverdueInvoices,
		"marked_overdue":    result.MarkedOverdue,
		"suspended":         result.Suspended,
		"already_suspended": result.AlreadySuspended,
	}
	if len(result.Errors) > 0 {
		summary["errors"] = lo.Slice(result.Errors, 0, maxSummaryItems)
	}
	return summary, nil
}

func (r *Runner) expireCoupons(ctx context.Context) (map[string]interface{}, error) {
	result, err := r.deps.Coupons.ExpireOldCoupons(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"expired":         len(result.Expired),
		"exhausted":       len(result.Exhausted),
		"expired_codes":   lo.Slice(result.Expired, 0, maxSummaryItems),
		"exhausted_codes": lo.Slice(result.Exhausted, 0, maxSummaryItems),
	}, nil
}
