package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tierbill/pkg/api"
	"github.com/platinummonkey/tierbill/pkg/async"
	"github.com/platinummonkey/tierbill/pkg/audit"
	"github.com/platinummonkey/tierbill/pkg/billing"
	"github.com/platinummonkey/tierbill/pkg/config"
	"github.com/platinummonkey/tierbill/pkg/coupons"
	"github.com/platinummonkey/tierbill/pkg/invoices"
	"github.com/platinummonkey/tierbill/pkg/jobs"
	"github.com/platinummonkey/tierbill/pkg/observability"
	"github.com/platinummonkey/tierbill/pkg/plans"
	"github.com/platinummonkey/tierbill/pkg/reconciliation"
	"github.com/platinummonkey/tierbill/pkg/storage/postgres"
	"github.com/platinummonkey/tierbill/pkg/tiers"
	"github.com/platinummonkey/tierbill/pkg/usage"
	"github.com/platinummonkey/tierbill/pkg/webhooks"
)

// Infra holds the external connections. Redis and S3 are nil when not
// configured.
type Infra struct {
	DB    *sql.DB
	Redis *redis.Client
	S3    *postgres.S3Client
}

// Connect opens every configured connection and, when enabled, applies the
// schema migrations.
func Connect(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Infra, error) {
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	infra := &Infra{DB: db}

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			infra.Close()
			return nil, err
		}
		logger.Info("Database migrations applied")
	}

	infra.Redis, err = postgres.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		infra.Close()
		return nil, err
	}
	if infra.Redis == nil {
		logger.Info("Redis not configured, using Postgres counters and event-log alert dedupe")
	}

	if cfg.S3.Enabled() {
		infra.S3, err = postgres.NewS3Client(ctx, cfg.S3)
		if err != nil {
			infra.Close()
			return nil, err
		}
		logger.Infof("S3 enabled for bucket %s", cfg.S3.Bucket)
	}
	return infra, nil
}

// Close releases the connections.
func (i *Infra) Close() error {
	var errs []error
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close())
	}
	if i.DB != nil {
		errs = append(errs, i.DB.Close())
	}
	return errors.Join(errs...)
}

// Options carries the ambient collaborators. Nil Metrics disables metrics.
type Options struct {
	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// App is the assembled billing engine.
type App struct {
	Config       *config.Config
	Location     *time.Location
	Catalog      *tiers.Catalog
	Recorder     *audit.DBRecorder
	Meter        *usage.Meter
	Plans        *plans.PostgresService
	Coupons      *coupons.PostgresService
	Invoices     *invoices.PostgresService
	Orchestrator *billing.Orchestrator
	Reconciler   *reconciliation.Builder
	// Archiver is nil without S3.
	Archiver *reconciliation.S3Archiver
	// Notifier is nil without a webhook or Slack target.
	Notifier *webhooks.Notifier

	metrics *observability.Metrics
	logger  *observability.Logger
}

// New wires the billing engine over infra.
func New(cfg *config.Config, infra *Infra, opts Options) (*App, error) {
	if infra == nil || infra.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(cfg.Observability.LogLevel, nil)
	}

	catalog, err := loadCatalog(cfg.Billing.CatalogPath)
	if err != nil {
		return nil, err
	}
	recorder, err := audit.NewDBRecorder(infra.DB)
	if err != nil {
		return nil, err
	}

	loc := cfg.Billing.Location()
	batch := async.Options{
		Parallelism: cfg.Billing.BatchParallelism,
		Timeout:     cfg.Billing.BatchItemTimeout,
	}

	meterCfg := usage.MeterConfig{
		Location:  loc,
		CacheSize: cfg.Billing.SnapshotCacheSize,
		CacheTTL:  cfg.Billing.SnapshotCacheTTL,
		Batch:     batch,
		Metrics:   opts.Metrics,
		Logger:    opts.Logger.WithField("component", "usage"),
	}
	if infra.S3 != nil {
		meterCfg.Exports = usage.NewS3ExportSizer(infra.S3, cfg.S3.ExportPrefix)
	}
	var counter usage.APICallCounter = usage.NewPostgresAPICallCounter(infra.DB)
	if infra.Redis != nil {
		counter = usage.NewRedisAPICallCounter(infra.Redis)
	}
	meter := usage.NewMeter(usage.NewPostgresSnapshotStore(infra.DB), usage.NewPostgresInventory(infra.DB), counter, meterCfg)

	planSvc := plans.NewPostgresService(infra.DB, catalog, recorder, opts.Metrics)
	couponSvc := coupons.NewPostgresService(infra.DB, recorder, opts.Metrics)
	invoiceSvc := invoices.NewPostgresService(infra.DB, catalog, planSvc, meter, couponSvc, invoices.Config{
		Location: loc,
		DueDays:  cfg.Billing.InvoiceDueDays,
		Batch:    batch,
		Recorder: recorder,
		Metrics:  opts.Metrics,
		Logger:   opts.Logger.WithField("component", "invoices"),
	})

	a := &App{
		Config:     cfg,
		Location:   loc,
		Catalog:    catalog,
		Recorder:   recorder,
		Meter:      meter,
		Plans:      planSvc,
		Coupons:    couponSvc,
		Invoices:   invoiceSvc,
		Reconciler: reconciliation.NewBuilder(invoiceSvc, loc),
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
	if infra.S3 != nil {
		a.Archiver = reconciliation.NewS3Archiver(a.Reconciler, infra.S3).WithPrefix(cfg.S3.ArchivePrefix)
	}
	if cfg.Notify.Enabled() {
		a.Notifier = webhooks.NewNotifier(webhooks.Config{
			URL:           cfg.Notify.WebhookURL,
			Secret:        cfg.Notify.Secret,
			SlackURL:      cfg.Notify.SlackURL,
			Timeout:       cfg.Notify.Timeout,
			MaxRetries:    cfg.Notify.MaxRetries,
			RatePerSecond: cfg.Billing.AlertNotifyPerSec,
			Burst:         cfg.Billing.AlertNotifyBurst,
		}, opts.Logger.WithField("component", "notifier"))
	}

	deps := billing.Dependencies{
		Catalog:  catalog,
		Plans:    planSvc,
		Usage:    meter,
		Invoices: invoiceSvc,
		Coupons:  couponSvc,
	}
	if infra.Redis != nil {
		deps.Deduper = billing.NewRedisAlertDeduper(infra.Redis)
	} else {
		deps.Deduper = billing.NewEventLogDeduper(recorder)
	}
	if a.Notifier != nil {
		deps.Notifier = a.Notifier
	}
	a.Orchestrator = billing.NewOrchestrator(deps, billing.Config{
		Location:      loc,
		GraceDays:     cfg.Billing.SuspensionGraceDays,
		Batch:         batch,
		NotifyTimeout: cfg.Notify.Timeout,
		Recorder:      recorder,
		Metrics:       opts.Metrics,
		Logger:        opts.Logger.WithField("component", "orchestrator"),
	})
	return a, nil
}

func loadCatalog(path string) (*tiers.Catalog, error) {
	if path == "" {
		return tiers.Default(), nil
	}
	return tiers.LoadFile(path)
}

// Runner builds the scheduled job runner. Archiving and failure
// notifications are wired when S3 and a notification target are configured.
func (a *App) Runner(logger logrus.FieldLogger) *jobs.Runner {
	deps := jobs.Dependencies{
		Orchestrator: a.Orchestrator,
		Snapshots:    a.Meter,
		Coupons:      a.Coupons,
	}
	if a.Archiver != nil {
		deps.Archiver = a.Archiver
	}
	if a.Notifier != nil {
		deps.Notifier = a.Notifier
	}
	return jobs.NewRunner(deps, jobs.Config{
		Location:      a.Location,
		Schedules:     jobs.SchedulesFromConfig(a.Config.Scheduler),
		NotifyTimeout: a.Config.Notify.Timeout,
		Recorder:      a.Recorder,
		Metrics:       a.metrics,
		Logger:        logger,
	})
}

// APIDependencies returns the services behind the HTTP handlers. runner may
// be nil, which disables the manual job route.
func (a *App) APIDependencies(runner *jobs.Runner) api.Dependencies {
	deps := api.Dependencies{
		Catalog:      a.Catalog,
		Orchestrator: a.Orchestrator,
		Usage:        a.Meter,
		Invoices:     a.Invoices,
		Plans:        a.Plans,
		Coupons:      a.Coupons,
		Reconciler:   a.Reconciler,
		APICalls:     a.Meter,
	}
	if runner != nil {
		deps.Jobs = runner
	}
	return deps
}
