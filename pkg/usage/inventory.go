package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/platinummonkey/tierbill/pkg/storage/postgres"
)

// connectionWindow is how recently a session must have been seen to count
// as a concurrent connection.
const connectionWindow = 5 * time.Minute

// PostgresInventory counts tenant resources in the operational tables.
type PostgresInventory struct {
	db *sql.DB
}

// NewPostgresInventory creates a new PostgresInventory
func NewPostgresInventory(db *sql.DB) *PostgresInventory {
	return &PostgresInventory{db: db}
}

// ActiveCompanyIDs lists every active tenant in id order.
func (i *PostgresInventory) ActiveCompanyIDs(ctx context.Context) ([]int64, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT id FROM companies WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active companies: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan company id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Counts reads the raw resource counts for one tenant in a single round trip.
func (i *PostgresInventory) Counts(ctx context.Context, companyID int64) (Counts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM jobs WHERE company_id = $1),
			(SELECT COUNT(*) FROM contractors WHERE company_id = $1 AND is_active),
			(SELECT COUNT(*) FROM user_sessions WHERE company_id = $1 AND last_seen_at > $2),
			(SELECT COALESCE(SUM(size_bytes), 0) FROM data_exports WHERE company_id = $1)
	`
	var c Counts
	since := time.Now().Add(-connectionWindow)
	err := i.db.QueryRowContext(ctx, query, companyID, since).
		Scan(&c.Jobs, &c.ActiveContractors, &c.ConcurrentConnections, &c.ExportBytes)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count usage for company %d: %w", companyID, err)
	}
	return c, nil
}

// prefixSizer is the part of the S3 client export sizing needs.
type prefixSizer interface {
	PrefixSize(ctx context.Context, prefix string) (int64, error)
}

// S3ExportSizer sizes a tenant's exports from the objects under
// <prefix>/<company id>/ in the export bucket.
type S3ExportSizer struct {
	client prefixSizer
	prefix string
}

// NewS3ExportSizer creates a new S3ExportSizer
func NewS3ExportSizer(client prefixSizer, prefix string) *S3ExportSizer {
	return &S3ExportSizer{client: client, prefix: prefix}
}

// ExportBytes sums the tenant's export objects.
func (e *S3ExportSizer) ExportBytes(ctx context.Context, companyID int64) (int64, error) {
	key := postgres.ObjectKey(e.prefix, strconv.FormatInt(companyID, 10)) + "/"
	size, err := e.client.PrefixSize(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to size exports for company %d: %w", companyID, err)
	}
	return size, nil
}
