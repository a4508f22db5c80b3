package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileRange(t *testing.T) {
	sydney, err := time.LoadLocation("Australia/Sydney")
	require.NoError(t, err)
	// 1 Dec 2025 09:00 in Sydney is still 30 Nov in UTC.
	now := time.Date(2025, 11, 30, 22, 0, 0, 0, time.UTC)

	t.Run("success - defaults to the previous month", func(t *testing.T) {
		from, to, err := reconcileRange("", "", now, sydney)
		require.NoError(t, err)
		assert.Equal(t, "2025-11-01", from.Format("2006-01-02"))
		assert.Equal(t, "2025-11-30", to.Format("2006-01-02"))
	})

	t.Run("success - explicit bounds", func(t *testing.T) {
		from, to, err := reconcileRange("2025-07-01", "2025-09-30", now, sydney)
		require.NoError(t, err)
		assert.Equal(t, "2025-07-01", from.Format("2006-01-02"))
		assert.Equal(t, "2025-09-30", to.Format("2006-01-02"))
	})

	t.Run("error - bad start", func(t *testing.T) {
		_, _, err := reconcileRange("01/07/2025", "", now, sydney)
		require.Error(t, err)
	})

	t.Run("error - end before start", func(t *testing.T) {
		_, _, err := reconcileRange("2025-11-20", "2025-11-10", now, sydney)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "before")
	})
}
