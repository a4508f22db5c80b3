package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const dayLayout = "2006-01-02"

// counterTTL keeps a day's counter long enough for the nightly snapshot to
// read it after midnight in any timezone.
const counterTTL = 48 * time.Hour

// RedisAPICallCounter keeps daily API call counts in Redis.
type RedisAPICallCounter struct {
	client *redis.Client
}

// NewRedisAPICallCounter creates a new RedisAPICallCounter
func NewRedisAPICallCounter(client *redis.Client) *RedisAPICallCounter {
	return &RedisAPICallCounter{client: client}
}

func apiCallKey(companyID int64, day time.Time) string {
	return fmt.Sprintf("billing:api_calls:%d:%s", companyID, day.Format(dayLayout))
}

// Increment adds n to the tenant's counter for day.
func (c *RedisAPICallCounter) Increment(ctx context.Context, companyID int64, day time.Time, n int64) error {
	key := apiCallKey(companyID, day)
	pipe := c.client.TxPipeline()
	pipe.IncrBy(ctx, key, n)
	pipe.Expire(ctx, key, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to increment api calls: %w", err)
	}
	return nil
}

// Get returns the tenant's counter for day; a missing key reads as zero.
func (c *RedisAPICallCounter) Get(ctx context.Context, companyID int64, day time.Time) (int64, error) {
	n, err := c.client.Get(ctx, apiCallKey(companyID, day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read api calls: %w", err)
	}
	return n, nil
}

// PostgresAPICallCounter keeps daily API call counts in api_call_counters.
// It is used when Redis is not configured.
type PostgresAPICallCounter struct {
	db *sql.DB
}

// NewPostgresAPICallCounter creates a new PostgresAPICallCounter
func NewPostgresAPICallCounter(db *sql.DB) *PostgresAPICallCounter {
	return &PostgresAPICallCounter{db: db}
}

// Increment adds n to the tenant's counter for day.
func (c *PostgresAPICallCounter) Increment(ctx context.Context, companyID int64, day time.Time, n int64) error {
	query := `
		INSERT INTO api_call_counters (company_id, day, calls) VALUES ($1, $2, $3)
		ON CONFLICT (company_id, day) DO UPDATE SET calls = api_call_counters.calls + EXCLUDED.calls
	`
	if _, err := c.db.ExecContext(ctx, query, companyID, day.Format(dayLayout), n); err != nil {
		return fmt.Errorf("failed to increment api calls: %w", err)
	}
	return nil
}

// Get returns the tenant's counter for day.
func (c *PostgresAPICallCounter) Get(ctx context.Context, companyID int64, day time.Time) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx,
		`SELECT calls FROM api_call_counters WHERE company_id = $1 AND day = $2`,
		companyID, day.Format(dayLayout)).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read api calls: %w", err)
	}
	return n, nil
}
