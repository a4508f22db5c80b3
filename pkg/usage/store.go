package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const snapshotColumns = `id, company_id, snapshot_date, storage_gb, api_calls, active_contractors,
	concurrent_connections, exported_data_gb, created_at, updated_at`

// PostgresSnapshotStore stores snapshots in usage_snapshots.
type PostgresSnapshotStore struct {
	db *sql.DB
}

// NewPostgresSnapshotStore creates a new PostgresSnapshotStore
func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	s := &Snapshot{}
	err := row.Scan(&s.ID, &s.CompanyID, &s.Date, &s.StorageGB, &s.APICalls, &s.ActiveContractors,
		&s.ConcurrentConnections, &s.ExportedDataGB, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Latest returns the newest snapshot for a tenant.
func (s *PostgresSnapshotStore) Latest(ctx context.Context, companyID int64) (*Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM usage_snapshots
		WHERE company_id = $1 ORDER BY snapshot_date DESC LIMIT 1`
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, companyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return snap, nil
}

// Upsert writes the snapshot for its day. Concurrent writers for the same
// day resolve last-write-wins.
func (s *PostgresSnapshotStore) Upsert(ctx context.Context, snap *Snapshot) error {
	query := `
		INSERT INTO usage_snapshots (company_id, snapshot_date, storage_gb, api_calls, active_contractors,
			concurrent_connections, exported_data_gb)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (company_id, snapshot_date) DO UPDATE
		SET storage_gb = EXCLUDED.storage_gb,
		    api_calls = EXCLUDED.api_calls,
		    active_contractors = EXCLUDED.active_contractors,
		    concurrent_connections = EXCLUDED.concurrent_connections,
		    exported_data_gb = EXCLUDED.exported_data_gb,
		    updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, snap.CompanyID, snap.Date.Format(dayLayout), snap.StorageGB, snap.APICalls,
		snap.ActiveContractors, snap.ConcurrentConnections, snap.ExportedDataGB).
		Scan(&snap.ID, &snap.CreatedAt, &snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// SettleAPICalls only ever raises the count, so a late or repeated settle
// cannot undo calls already recorded.
func (s *PostgresSnapshotStore) SettleAPICalls(ctx context.Context, companyID int64, day time.Time, calls int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE usage_snapshots SET api_calls = $3, updated_at = NOW()
		WHERE company_id = $1 AND snapshot_date = $2 AND api_calls < $3`,
		companyID, day.Format(dayLayout), calls)
	if err != nil {
		return false, fmt.Errorf("failed to settle api calls: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to settle api calls: %w", err)
	}
	return n > 0, nil
}

// Aggregate folds a period's snapshots in SQL.
func (s *PostgresSnapshotStore) Aggregate(ctx context.Context, companyID int64, from, to time.Time) (PeriodAggregate, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(MAX(storage_gb), 0),
		       COALESCE(SUM(api_calls), 0),
		       COALESCE(MAX(active_contractors), 0),
		       COALESCE(MAX(concurrent_connections), 0)
		FROM usage_snapshots
		WHERE company_id = $1 AND snapshot_date >= $2 AND snapshot_date < $3
	`
	var (
		agg     PeriodAggregate
		storage decimal.Decimal
	)
	err := s.db.QueryRowContext(ctx, query, companyID, from.Format(dayLayout), to.Format(dayLayout)).Scan(
		&agg.Snapshots, &storage, &agg.Usage.APICalls, &agg.Usage.Contractors, &agg.Usage.ConcurrentConnections)
	if err != nil {
		return PeriodAggregate{}, fmt.Errorf("failed to aggregate snapshots: %w", err)
	}
	agg.Usage.StorageGB = storage
	return agg, nil
}

// Range lists snapshots between two dates inclusive.
func (s *PostgresSnapshotStore) Range(ctx context.Context, companyID int64, from, to time.Time) ([]Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM usage_snapshots
		WHERE company_id = $1 AND snapshot_date >= $2 AND snapshot_date <= $3
		ORDER BY snapshot_date ASC`
	rows, err := s.db.QueryContext(ctx, query, companyID, from.Format(dayLayout), to.Format(dayLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}
