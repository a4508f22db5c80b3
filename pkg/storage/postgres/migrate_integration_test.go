//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("billing_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))
	return db
}

func TestMigrateIntegration(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db), "migrations must be re-runnable")

	version, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(5), version)

	var companyID int64
	require.NoError(t, db.QueryRowContext(ctx, `INSERT INTO companies (name) VALUES ('Acme') RETURNING id`).Scan(&companyID))

	t.Run("error - second active plan rejected", func(t *testing.T) {
		_, err := db.ExecContext(ctx, `INSERT INTO company_plans (company_id, tier_id, monthly_cost, status) VALUES ($1, 'starter', 49, 'active')`, companyID)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `INSERT INTO company_plans (company_id, tier_id, monthly_cost, status) VALUES ($1, 'professional', 149, 'active')`, companyID)
		assert.True(t, IsUniqueViolation(err, "company_plans_one_active"))
	})

	t.Run("success - snapshot upsert keeps one row per day", func(t *testing.T) {
		upsert := `INSERT INTO usage_snapshots (company_id, snapshot_date, api_calls) VALUES ($1, '2024-03-01', $2)
			ON CONFLICT (company_id, snapshot_date) DO UPDATE SET api_calls = EXCLUDED.api_calls`
		_, err := db.ExecContext(ctx, upsert, companyID, 10)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, upsert, companyID, 20)
		require.NoError(t, err)

		var n, calls int64
		require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(api_calls) FROM usage_snapshots WHERE company_id = $1`, companyID).Scan(&n, &calls))
		assert.Equal(t, int64(1), n)
		assert.Equal(t, int64(20), calls)
	})
}
