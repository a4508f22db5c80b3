package plans

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tierbill/pkg/audit"
	"github.com/platinummonkey/tierbill/pkg/billingerr"
	"github.com/platinummonkey/tierbill/pkg/tiers"
)

var (
	planCols = []string{"id", "company_id", "tier_id", "monthly_cost", "status", "suspended_reason",
		"active_from", "active_to", "created_at"}
	since = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func planRow(id int64, tier, status, reason string) []driver.Value {
	return []driver.Value{id, int64(7), tier, "199.00", status, reason, since, nil, since}
}

func newService(t *testing.T) (*PostgresService, sqlmock.Sqlmock, *audit.MemoryRecorder) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	rec := audit.NewMemoryRecorder()
	return NewPostgresService(db, tiers.Default(), rec, nil), mock, rec
}

const currentQuery = `SELECT .* FROM company_plans\s+WHERE company_id = \$1 AND active_to IS NULL`

func TestActivePlan(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectQuery(currentQuery).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(planCols).AddRow(planRow(1, "starter", "active", "")...))

		p, err := svc.ActivePlan(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, tiers.Starter, p.TierID)
		assert.Equal(t, "199", p.MonthlyCost.String())
		assert.Nil(t, p.ActiveTo)
	})

	t.Run("error - none", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectQuery(currentQuery).WillReturnRows(sqlmock.NewRows(planCols))

		_, err := svc.ActivePlan(context.Background(), 7)
		var noPlan *NoActivePlanError
		require.ErrorAs(t, err, &noPlan)
		assert.True(t, billingerr.IsNotFound(err))
		assert.Equal(t, "no active plan for company 7", err.Error())
	})

	t.Run("error - suspended plan is not billable", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectQuery(currentQuery).
			WillReturnRows(sqlmock.NewRows(planCols).AddRow(planRow(1, "starter", "suspended", "overdue")...))

		_, err := svc.ActivePlan(context.Background(), 7)
		assert.True(t, billingerr.IsNotFound(err))
	})

	t.Run("success - current plan includes suspended", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectQuery(currentQuery).
			WillReturnRows(sqlmock.NewRows(planCols).AddRow(planRow(1, "starter", "suspended", "overdue")...))

		p, err := svc.CurrentPlan(context.Background(), 7)
		require.NoError(t, err)
		assert.True(t, p.Suspended())
		assert.Equal(t, "overdue", p.SuspendedReason)
	})
}

func TestCreatePlan(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc, mock, rec := newService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(currentQuery + `.*FOR UPDATE`).WithArgs(int64(7)).WillReturnRows(sqlmock.NewRows(planCols))
		mock.ExpectQuery(`INSERT INTO company_plans`).
			WithArgs(int64(7), "starter", "199", "active", "").
			WillReturnRows(sqlmock.NewRows(planCols).AddRow(planRow(3, "starter", "active", "")...))
		mock.ExpectCommit()

		p, err := svc.CreatePlan(context.Background(), 7, tiers.Starter)
		require.NoError(t, err)
		assert.Equal(t, int64(3), p.ID)
		assert.Len(t, rec.OfType(audit.EventPlanCreated), 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error - already has a plan", func(t *testing.T) {
		svc, mock, rec := newService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(currentQuery).WillReturnRows(sqlmock.NewRows(planCols).AddRow(planRow(1, "starter", "active", "")...))
		mock.ExpectRollback()

		_, err := svc.CreatePlan(context.Background(), 7, tiers.Professional)
		assert.True(t, billingerr.IsConflict(err))
		assert.Empty(t, rec.Events())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error - unknown tier", func(t *testing.T) {
		svc, mock, _ := newService(t)
		_, err := svc.CreatePlan(context.Background(), 7, tiers.ID("platinum"))
		assert.True(t, billingerr.IsNotFound(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestChangePlan(t *testing.T) {
	t.Run("success - closes old plan and opens new one", func(t *testing.T) {
		svc, mock, rec := newService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(currentQuery + `.*FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows(planCols).AddRow(planRow(1, "starter", "active", "")...))
		mock.ExpectExec(`UPDATE company_plans SET status = 'cancelled', active_to = NOW\(\) WHERE id = \$1`).
			WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO company_plans`).
			WithArgs(int64(7), "professional", "499", "active", "").
			WillReturnRows(sqlmock.NewRows(planCols).
				AddRow(int64(2), int64(7), "professional", "499.00", "active", "", since, nil, since))
		mock.ExpectCommit()

		change, err := svc.ChangePlan(context.Background(), 7, tiers.Professional)
		require.NoError(t, err)
		assert.Equal(t, tiers.Starter, change.From.TierID)
		assert.Equal(t, StatusCancelled, change.From.Status)
		assert.Equal(t, tiers.Professional, change.To.TierID)

		events := rec.OfType(audit.EventPlanChanged)
		require.Len(t, events, 1)
		assert.Equal(t, "starter", events[0].Metadata["old_tier"])
		assert.Equal(t, "professional", events[0].Metadata["new_tier"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("success - suspended tenant stays suspended", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(currentQuery).
			WillReturnRows(sqlmock.NewRows(planCols).AddRow(planRow(1, "starter", "suspended", "overdue")...))
		mock.ExpectExec(`UPDATE company_plans SET status = 'cancelled'`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO company_plans`).
			WithArgs(int64(7), "professional", "499", "suspended", "overdue").
			WillReturnRows(sqlmock.NewRows(planCols).
				AddRow(int64(2), int64(7), "professional", "499.00", "suspended", "overdue", since, nil, since))
		mock.ExpectCommit()

		change, err := svc.ChangePlan(context.Background(), 7, tiers.Professional)
		require.NoError(t, err)
		assert.True(t, change.To.Suspended())
	})

	t.Run("error - same tier", func(t *testing.T) {
		svc, mock, rec := newService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(currentQuery).
			WillReturnRows(sqlmock.NewRows(planCols).AddRow(planRow(1, "starter", "active", "")...))
		mock.ExpectRollback()

		_, err := svc.ChangePlan(context.Background(), 7, tiers.Starter)
		assert.True(t, billingerr.IsConflict(err))
		assert.Equal(t, "company is already on the starter tier", billingerr.Reason(err))
		assert.Empty(t, rec.Events())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error - insert failure rolls back the close", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(currentQuery).
			WillReturnRows(sqlmock.NewRows(planCols).AddRow(planRow(1, "starter", "active", "")...))
		mock.ExpectExec(`UPDATE company_plans`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO company_plans`).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		_, err := svc.ChangePlan(context.Background(), 7, tiers.Enterprise)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to change plan")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error - concurrent change hits the unique index", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(currentQuery).WillReturnRows(sqlmock.NewRows(planCols))
		mock.ExpectQuery(`INSERT INTO company_plans`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "company_plans_one_active"})
		mock.ExpectRollback()

		_, err := svc.ChangePlan(context.Background(), 7, tiers.Enterprise)
		assert.True(t, billingerr.IsConflict(err))
	})
}

func TestSuspend(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc, mock, rec := newService(t)
		mock.ExpectQuery(`UPDATE company_plans SET status = 'suspended'`).WithArgs(int64(7), "overdue invoice").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

		changed, err := svc.Suspend(context.Background(), 7, "overdue invoice")
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Len(t, rec.OfType(audit.EventAccountSuspended), 1)
	})

	t.Run("success - already suspended is skipped", func(t *testing.T) {
		svc, mock, rec := newService(t)
		mock.ExpectQuery(`UPDATE company_plans SET status = 'suspended'`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery(currentQuery).
			WillReturnRows(sqlmock.NewRows(planCols).AddRow(planRow(1, "starter", "suspended", "overdue")...))

		changed, err := svc.Suspend(context.Background(), 7, "overdue invoice")
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Empty(t, rec.Events())
	})

	t.Run("error - no plan", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectQuery(`UPDATE company_plans SET status = 'suspended'`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery(currentQuery).WillReturnRows(sqlmock.NewRows(planCols))

		_, err := svc.Suspend(context.Background(), 7, "")
		assert.True(t, billingerr.IsNotFound(err))
	})
}

func TestUnsuspend(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc, mock, rec := newService(t)
		mock.ExpectQuery(`UPDATE company_plans SET status = 'active', suspended_reason = NULL`).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

		require.NoError(t, svc.Unsuspend(context.Background(), 7))
		assert.Len(t, rec.OfType(audit.EventAccountUnsuspended), 1)
	})

	t.Run("error - not suspended", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectQuery(`UPDATE company_plans SET status = 'active'`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

		err := svc.Unsuspend(context.Background(), 7)
		assert.True(t, billingerr.IsValidation(err))
	})
}

func TestListCurrent(t *testing.T) {
	svc, mock, _ := newService(t)
	mock.ExpectQuery(`SELECT .* FROM company_plans\s+WHERE active_to IS NULL`).
		WillReturnRows(sqlmock.NewRows(planCols).
			AddRow(planRow(1, "starter", "active", "")...).
			AddRow(int64(2), int64(8), "enterprise", "999.00", "suspended", "overdue", since, nil, since))

	plans, err := svc.ListCurrent(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, int64(8), plans[1].CompanyID)
	assert.True(t, plans[1].Suspended())
}
