package usage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/tierbill/pkg/tiers"
)

// Snapshot is one tenant's recorded consumption for one calendar day.
type Snapshot struct {
	ID                    int64           `json:"id"`
	CompanyID             int64           `json:"company_id"`
	Date                  time.Time       `json:"snapshot_date"`
	StorageGB             decimal.Decimal `json:"storage_gb"`
	APICalls              int64           `json:"api_calls"`
	ActiveContractors     int64           `json:"active_contractors"`
	ConcurrentConnections int64           `json:"concurrent_connections"`
	ExportedDataGB        decimal.Decimal `json:"exported_data_gb"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// Usage converts the snapshot into catalog usage figures.
func (s Snapshot) Usage() tiers.Usage {
	return tiers.Usage{
		Contractors:           s.ActiveContractors,
		StorageGB:             s.StorageGB,
		APICalls:              s.APICalls,
		ConcurrentConnections: s.ConcurrentConnections,
	}
}

// PeriodAggregate summarizes the snapshots inside a date range.
type PeriodAggregate struct {
	Snapshots int
	Usage     tiers.Usage
}

// TrendPoint is one day of a usage trend.
type TrendPoint struct {
	Date        string          `json:"date"`
	StorageGB   decimal.Decimal `json:"storage_gb"`
	APICalls    int64           `json:"api_calls"`
	Contractors int64           `json:"contractors"`
}

// StorageBreakdown splits a tenant's storage estimate into categories.
type StorageBreakdown struct {
	JobPhotosGB  decimal.Decimal `json:"job_photos_gb"`
	JobReportsGB decimal.Decimal `json:"job_reports_gb"`
	TimesheetsGB decimal.Decimal `json:"timesheets_gb"`
	ExportsGB    decimal.Decimal `json:"exports_gb"`
	TotalGB      decimal.Decimal `json:"total_gb"`
}

// Counts are the raw domain figures live usage is derived from.
type Counts struct {
	Jobs                  int64
	ActiveContractors     int64
	ConcurrentConnections int64
	ExportBytes           int64
}

// SnapshotStore persists daily snapshots.
type SnapshotStore interface {
	// Latest returns the most recent snapshot, or nil when none exist.
	Latest(ctx context.Context, companyID int64) (*Snapshot, error)
	// Upsert inserts or replaces the snapshot for (company, date) and fills
	// in ID and timestamps.
	Upsert(ctx context.Context, s *Snapshot) error
	// Aggregate folds snapshots with from <= date < to: peak storage,
	// contractors and connections, summed API calls.
	Aggregate(ctx context.Context, companyID int64, from, to time.Time) (PeriodAggregate, error)
	// Range returns snapshots with from <= date <= to, oldest first.
	Range(ctx context.Context, companyID int64, from, to time.Time) ([]Snapshot, error)
	// SettleAPICalls raises an existing snapshot's API call count to calls.
	// It reports whether a row changed; a missing snapshot is left missing.
	SettleAPICalls(ctx context.Context, companyID int64, day time.Time, calls int64) (bool, error)
}

// Inventory reads the domain tables usage is estimated from.
type Inventory interface {
	ActiveCompanyIDs(ctx context.Context) ([]int64, error)
	Counts(ctx context.Context, companyID int64) (Counts, error)
}

// ExportSizer reports the bytes of exported data held for a tenant.
type ExportSizer interface {
	ExportBytes(ctx context.Context, companyID int64) (int64, error)
}

// APICallCounter tracks API calls per tenant per day.
type APICallCounter interface {
	Increment(ctx context.Context, companyID int64, day time.Time, n int64) error
	Get(ctx context.Context, companyID int64, day time.Time) (int64, error)
}
