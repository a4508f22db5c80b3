package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tierbill/pkg/async"
	"github.com/platinummonkey/tierbill/pkg/money"
	"github.com/platinummonkey/tierbill/pkg/observability"
	"github.com/platinummonkey/tierbill/pkg/tiers"
)

var tracer = otel.Tracer("github.com/platinummonkey/tierbill/pkg/usage")

const (
	bytesPerMiB        = 1024 * 1024
	estimatedJobMiB    = 5
	mibPerGiB          = 1024
	DefaultTrendDays   = 30
	snapshotBatchLabel = "capture_snapshots"
)

var (
	shareJobPhotos  = decimal.NewFromFloat(0.70)
	shareJobReports = decimal.NewFromFloat(0.15)
	shareTimesheets = decimal.NewFromFloat(0.10)
	shareExports    = decimal.NewFromFloat(0.05)
)

// MeterConfig holds the optional collaborators and tuning of a Meter.
type MeterConfig struct {
	// Location decides calendar days and months. Defaults to UTC.
	Location *time.Location
	// Exports overrides the export size read from the inventory.
	Exports   ExportSizer
	CacheSize int
	CacheTTL  time.Duration
	Batch     async.Options
	Metrics   *observability.Metrics
	Logger    *observability.Logger
}

// Meter measures tenant resource consumption.
type Meter struct {
	snapshots SnapshotStore
	inventory Inventory
	counter   APICallCounter
	exports   ExportSizer
	cache     *expirable.LRU[int64, Snapshot]
	loc       *time.Location
	batch     async.Options
	metrics   *observability.Metrics
	logger    *observability.Logger
	now       func() time.Time
}

// NewMeter creates a new Meter
func NewMeter(snapshots SnapshotStore, inventory Inventory, counter APICallCounter, cfg MeterConfig) *Meter {
	m := &Meter{
		snapshots: snapshots,
		inventory: inventory,
		counter:   counter,
		exports:   cfg.Exports,
		loc:       cfg.Location,
		batch:     cfg.Batch,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       time.Now,
	}
	if m.loc == nil {
		m.loc = time.UTC
	}
	if m.logger == nil {
		m.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if cfg.CacheSize > 0 {
		m.cache = expirable.NewLRU[int64, Snapshot](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return m
}

// today is the start of the current day in the billing timezone.
func (m *Meter) today() time.Time {
	now := m.now().In(m.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, m.loc)
}

// MonthStart returns the first instant of t's month in the billing timezone.
func (m *Meter) MonthStart(t time.Time) time.Time {
	t = t.In(m.loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, m.loc)
}

func (m *Meter) latest(ctx context.Context, companyID int64) (*Snapshot, error) {
	if m.cache != nil {
		if snap, ok := m.cache.Get(companyID); ok {
			m.metrics.SnapshotCacheLookup(true)
			return &snap, nil
		}
		m.metrics.SnapshotCacheLookup(false)
	}
	snap, err := m.snapshots.Latest(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if snap != nil && m.cache != nil {
		m.cache.Add(companyID, *snap)
	}
	return snap, nil
}

// CurrentUsage returns the latest snapshot's figures, or live usage when the
// tenant has never been snapshotted. Live usage is not persisted.
func (m *Meter) CurrentUsage(ctx context.Context, companyID int64) (tiers.Usage, error) {
	snap, err := m.latest(ctx, companyID)
	if err != nil {
		return tiers.Usage{}, fmt.Errorf("failed to get current usage: %w", err)
	}
	if snap != nil {
		return snap.Usage(), nil
	}
	live, err := m.live(ctx, companyID)
	if err != nil {
		return tiers.Usage{}, err
	}
	return live.Usage(), nil
}

// PeriodUsage aggregates the current calendar month's snapshots.
func (m *Meter) PeriodUsage(ctx context.Context, companyID int64) (tiers.Usage, error) {
	start := m.MonthStart(m.now())
	return m.UsageBetween(ctx, companyID, start, start.AddDate(0, 1, 0))
}

// UsageBetween aggregates snapshots with from <= date < to. Storage,
// contractors and connections take the peak, API calls the sum. With no
// snapshots in range it falls back to CurrentUsage.
func (m *Meter) UsageBetween(ctx context.Context, companyID int64, from, to time.Time) (tiers.Usage, error) {
	agg, err := m.snapshots.Aggregate(ctx, companyID, from, to)
	if err != nil {
		return tiers.Usage{}, fmt.Errorf("failed to get period usage: %w", err)
	}
	if agg.Snapshots == 0 {
		return m.CurrentUsage(ctx, companyID)
	}
	agg.Usage.StorageGB = money.Round3(agg.Usage.StorageGB)
	return agg.Usage, nil
}

// live computes today's usage from the domain tables without storing it.
func (m *Meter) live(ctx context.Context, companyID int64) (*Snapshot, error) {
	counts, err := m.inventory.Counts(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if m.exports != nil {
		b, err := m.exports.ExportBytes(ctx, companyID)
		if err != nil {
			return nil, err
		}
		counts.ExportBytes = b
	}
	day := m.today()
	calls, err := m.counter.Get(ctx, companyID, day)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		CompanyID:             companyID,
		Date:                  day,
		StorageGB:             EstimateStorageGB(counts.Jobs, counts.ExportBytes),
		APICalls:              calls,
		ActiveContractors:     counts.ActiveContractors,
		ConcurrentConnections: counts.ConcurrentConnections,
		ExportedDataGB:        money.Round3(decimal.NewFromInt(counts.ExportBytes).Div(decimal.NewFromInt(bytesPerMiB * mibPerGiB))),
	}, nil
}

// EstimateStorageGB is (jobs x 5 MiB + export bytes in MiB) / 1024, to 3dp.
func EstimateStorageGB(jobs, exportBytes int64) decimal.Decimal {
	jobMiB := decimal.NewFromInt(jobs * estimatedJobMiB)
	exportMiB := decimal.NewFromInt(exportBytes).Div(decimal.NewFromInt(bytesPerMiB))
	return money.Round3(jobMiB.Add(exportMiB).Div(decimal.NewFromInt(mibPerGiB)))
}

// CaptureSnapshot computes live usage and upserts it as today's snapshot.
// Repeating it on the same day replaces that day's row. The previous day's
// snapshot is then settled with that day's final API call count.
func (m *Meter) CaptureSnapshot(ctx context.Context, companyID int64) (*Snapshot, error) {
	ctx, span := tracer.Start(ctx, "usage.CaptureSnapshot",
		trace.WithAttributes(attribute.Int64("company.id", companyID)))
	defer span.End()

	snap, err := m.live(ctx, companyID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to compute live usage: %w", err)
	}
	if err := m.snapshots.Upsert(ctx, snap); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if m.cache != nil {
		m.cache.Add(companyID, *snap)
	}
	if err := m.settlePreviousDay(ctx, companyID, snap.Date); err != nil {
		m.logger.WithTenant(companyID).WithError(err).Warn("failed to settle previous day's api calls")
	}
	m.metrics.SnapshotCaptured()
	return snap, nil
}

// settlePreviousDay copies the final counter of the day before today into
// that day's snapshot. Calls made after its nightly capture land there.
func (m *Meter) settlePreviousDay(ctx context.Context, companyID int64, today time.Time) error {
	day := today.AddDate(0, 0, -1)
	calls, err := m.counter.Get(ctx, companyID, day)
	if err != nil {
		return err
	}
	_, err = m.snapshots.SettleAPICalls(ctx, companyID, day, calls)
	return err
}

// CaptureAllSnapshots snapshots every active tenant. One tenant's failure is
// recorded in the result and does not stop the others. Only failing to list
// tenants is returned as an error.
func (m *Meter) CaptureAllSnapshots(ctx context.Context) (async.BatchResult, error) {
	ids, err := m.inventory.ActiveCompanyIDs(ctx)
	if err != nil {
		return async.BatchResult{}, fmt.Errorf("failed to fetch companies for snapshot: %w", err)
	}

	result := async.RunIsolated(ctx, ids, m.batch,
		func(id int64) int64 { return id },
		func(ctx context.Context, id int64) error {
			_, err := m.CaptureSnapshot(ctx, id)
			return err
		})

	for _, te := range result.Errors {
		m.logger.WithTenant(te.TenantID).WithField("error", te.Error).Warn("failed to capture usage snapshot")
	}
	m.metrics.ObserveBatch(snapshotBatchLabel, result.Success, result.Failed)
	return result, nil
}

// IncrementAPICalls adds n calls to today's counter.
func (m *Meter) IncrementAPICalls(ctx context.Context, companyID int64, n int64) error {
	if n <= 0 {
		return nil
	}
	return m.counter.Increment(ctx, companyID, m.today(), n)
}

// UsageTrend returns one point per snapshot over the last days days.
func (m *Meter) UsageTrend(ctx context.Context, companyID int64, days int) ([]TrendPoint, error) {
	if days <= 0 {
		days = DefaultTrendDays
	}
	end := m.today()
	snaps, err := m.snapshots.Range(ctx, companyID, end.AddDate(0, 0, -days), end)
	if err != nil {
		return nil, err
	}
	points := make([]TrendPoint, 0, len(snaps))
	for _, s := range snaps {
		points = append(points, TrendPoint{
			Date:        s.Date.Format(dayLayout),
			StorageGB:   s.StorageGB,
			APICalls:    s.APICalls,
			Contractors: s.ActiveContractors,
		})
	}
	return points, nil
}

// StorageBreakdown splits the live storage estimate into fixed shares.
func (m *Meter) StorageBreakdown(ctx context.Context, companyID int64) (StorageBreakdown, error) {
	snap, err := m.live(ctx, companyID)
	if err != nil {
		return StorageBreakdown{}, fmt.Errorf("failed to compute storage: %w", err)
	}
	total := snap.StorageGB
	return StorageBreakdown{
		JobPhotosGB:  money.Round3(total.Mul(shareJobPhotos)),
		JobReportsGB: money.Round3(total.Mul(shareJobReports)),
		TimesheetsGB: money.Round3(total.Mul(shareTimesheets)),
		ExportsGB:    money.Round3(total.Mul(shareExports)),
		TotalGB:      total,
	}, nil
}

// ActiveCompanyIDs exposes the tenant list used by batch passes.
func (m *Meter) ActiveCompanyIDs(ctx context.Context) ([]int64, error) {
	return m.inventory.ActiveCompanyIDs(ctx)
}

// Invalidate drops a tenant's cached latest snapshot.
func (m *Meter) Invalidate(companyID int64) {
	if m.cache != nil {
		m.cache.Remove(companyID)
	}
}
