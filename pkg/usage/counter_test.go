package usage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisAPICallCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	counter := NewRedisAPICallCounter(client)
	ctx := context.Background()
	day := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)

	n, err := counter.Get(ctx, 7, day)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, counter.Increment(ctx, 7, day, 5))
	require.NoError(t, counter.Increment(ctx, 7, day, 3))
	require.NoError(t, counter.Increment(ctx, 8, day, 1))

	n, err = counter.Get(ctx, 7, day)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)

	key := "billing:api_calls:7:2024-03-14"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, counterTTL, mr.TTL(key))

	mr.FastForward(counterTTL + time.Second)
	n, err = counter.Get(ctx, 7, day)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPostgresAPICallCounter(t *testing.T) {
	day := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)

	t.Run("success - increments with upsert", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(`INSERT INTO api_call_counters .* ON CONFLICT \(company_id, day\) DO UPDATE`).
			WithArgs(int64(7), "2024-03-14", int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, NewPostgresAPICallCounter(db).Increment(context.Background(), 7, day, 4))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("success - missing row reads zero", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`SELECT calls FROM api_call_counters`).
			WithArgs(int64(7), "2024-03-14").
			WillReturnRows(sqlmock.NewRows([]string{"calls"}))

		n, err := NewPostgresAPICallCounter(db).Get(context.Background(), 7, day)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("success - reads count", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`SELECT calls FROM api_call_counters`).
			WillReturnRows(sqlmock.NewRows([]string{"calls"}).AddRow(int64(42)))

		n, err := NewPostgresAPICallCounter(db).Get(context.Background(), 7, day)
		require.NoError(t, err)
		assert.Equal(t, int64(42), n)
	})
}
