package plans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/tierbill/pkg/audit"
	"github.com/platinummonkey/tierbill/pkg/billingerr"
	"github.com/platinummonkey/tierbill/pkg/observability"
	"github.com/platinummonkey/tierbill/pkg/storage/postgres"
	"github.com/platinummonkey/tierbill/pkg/tiers"
)

const planColumns = `id, company_id, tier_id, monthly_cost, status, COALESCE(suspended_reason, ''),
	active_from, active_to, created_at`

// PostgresService implements Service on the company_plans table.
type PostgresService struct {
	db       *sql.DB
	catalog  *tiers.Catalog
	recorder audit.Recorder
	metrics  *observability.Metrics
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB, catalog *tiers.Catalog, recorder audit.Recorder, metrics *observability.Metrics) *PostgresService {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &PostgresService{db: db, catalog: catalog, recorder: recorder, metrics: metrics}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (*Plan, error) {
	p := &Plan{}
	var activeTo sql.NullTime
	err := row.Scan(&p.ID, &p.CompanyID, &p.TierID, &p.MonthlyCost, &p.Status, &p.SuspendedReason,
		&p.ActiveFrom, &activeTo, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if activeTo.Valid {
		t := activeTo.Time
		p.ActiveTo = &t
	}
	return p, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func currentPlan(ctx context.Context, q queryRower, companyID int64, forUpdate bool) (*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM company_plans
		WHERE company_id = $1 AND active_to IS NULL AND status IN ('active', 'suspended')
		ORDER BY active_from DESC LIMIT 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPlan(q.QueryRowContext(ctx, query, companyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return p, nil
}

func (s *PostgresService) record(ctx context.Context, companyID int64, eventType audit.EventType, metadata map[string]interface{}) {
	if err := s.recorder.Record(ctx, audit.NewEvent(companyID, eventType, metadata)); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("event_type", string(eventType)).Warn("failed to record billing event")
	}
}

// ActivePlan returns the tenant's billable plan.
func (s *PostgresService) ActivePlan(ctx context.Context, companyID int64) (*Plan, error) {
	p, err := currentPlan(ctx, s.db, companyID, false)
	if err != nil {
		return nil, err
	}
	if p == nil || p.Status != StatusActive {
		return nil, &NoActivePlanError{CompanyID: companyID}
	}
	return p, nil
}

// CurrentPlan returns the tenant's current plan, active or suspended.
func (s *PostgresService) CurrentPlan(ctx context.Context, companyID int64) (*Plan, error) {
	p, err := currentPlan(ctx, s.db, companyID, false)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &NoActivePlanError{CompanyID: companyID}
	}
	return p, nil
}

func insertPlan(ctx context.Context, tx *sql.Tx, companyID int64, def tiers.Definition, status Status, reason string) (*Plan, error) {
	query := `
		INSERT INTO company_plans (company_id, tier_id, monthly_cost, status, suspended_reason, active_from)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NOW())
		RETURNING ` + planColumns
	p, err := scanPlan(tx.QueryRowContext(ctx, query, companyID, def.ID, def.MonthlyPrice, status, reason))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreatePlan starts a tenant's first plan. A tenant that already has a
// current plan gets a conflict; use ChangePlan instead.
func (s *PostgresService) CreatePlan(ctx context.Context, companyID int64, tier tiers.ID) (*Plan, error) {
	def, err := s.catalog.Get(tier)
	if err != nil {
		return nil, err
	}

	var plan *Plan
	err = postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		existing, err := currentPlan(ctx, tx, companyID, true)
		if err != nil {
			return err
		}
		if existing != nil {
			return billingerr.NewConflict("company %d already has a %s plan", companyID, existing.TierID)
		}
		plan, err = insertPlan(ctx, tx, companyID, def, StatusActive, "")
		return err
	})
	if postgres.IsUniqueViolation(err, "company_plans_one_active") {
		return nil, billingerr.NewConflict("company %d already has an active plan", companyID)
	}
	if err != nil {
		if billingerr.IsConflict(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}

	s.record(ctx, companyID, audit.EventPlanCreated, map[string]interface{}{
		"tier":         string(plan.TierID),
		"monthly_cost": plan.MonthlyCost.String(),
	})
	return plan, nil
}

// ChangePlan closes the current plan and opens one on tier in one
// transaction. A suspended tenant stays suspended on the new tier.
func (s *PostgresService) ChangePlan(ctx context.Context, companyID int64, tier tiers.ID) (*Change, error) {
	def, err := s.catalog.Get(tier)
	if err != nil {
		return nil, err
	}

	change := &Change{}
	err = postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		from, err := currentPlan(ctx, tx, companyID, true)
		if err != nil {
			return err
		}
		status, reason := StatusActive, ""
		if from != nil {
			if from.TierID == tier {
				return billingerr.NewConflict("company is already on the %s tier", tier)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE company_plans SET status = 'cancelled', active_to = NOW() WHERE id = $1`, from.ID); err != nil {
				return fmt.Errorf("failed to close current plan: %w", err)
			}
			if from.Suspended() {
				status, reason = StatusSuspended, from.SuspendedReason
			}
			from.Status = StatusCancelled
		}
		change.From = from

		change.To, err = insertPlan(ctx, tx, companyID, def, status, reason)
		return err
	})
	if postgres.IsUniqueViolation(err, "company_plans_one_active") {
		return nil, billingerr.NewConflict("concurrent plan change for company %d", companyID)
	}
	if err != nil {
		if billingerr.IsConflict(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to change plan: %w", err)
	}

	meta := map[string]interface{}{
		"new_tier":     string(change.To.TierID),
		"monthly_cost": change.To.MonthlyCost.String(),
	}
	if change.From != nil {
		meta["old_tier"] = string(change.From.TierID)
	}
	s.record(ctx, companyID, audit.EventPlanChanged, meta)
	return change, nil
}

// Suspend moves the tenant's active plan to suspended.
func (s *PostgresService) Suspend(ctx context.Context, companyID int64, reason string) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE company_plans SET status = 'suspended', suspended_reason = NULLIF($2, '')
		WHERE company_id = $1 AND status = 'active' AND active_to IS NULL
		RETURNING id`, companyID, reason).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		current, cerr := currentPlan(ctx, s.db, companyID, false)
		if cerr != nil {
			return false, cerr
		}
		if current.Suspended() {
			return false, nil
		}
		return false, &NoActivePlanError{CompanyID: companyID}
	}
	if err != nil {
		return false, fmt.Errorf("failed to suspend account: %w", err)
	}

	s.metrics.AccountSuspended()
	s.record(ctx, companyID, audit.EventAccountSuspended, map[string]interface{}{
		"plan_id": id,
		"reason":  reason,
	})
	return true, nil
}

// Unsuspend reactivates a suspended plan.
func (s *PostgresService) Unsuspend(ctx context.Context, companyID int64) error {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE company_plans SET status = 'active', suspended_reason = NULL
		WHERE company_id = $1 AND status = 'suspended' AND active_to IS NULL
		RETURNING id`, companyID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return billingerr.NewValidation("company %d is not suspended", companyID)
	}
	if err != nil {
		return fmt.Errorf("failed to unsuspend account: %w", err)
	}

	s.record(ctx, companyID, audit.EventAccountUnsuspended, map[string]interface{}{"plan_id": id})
	return nil
}

func (s *PostgresService) list(ctx context.Context, query string, args ...any) ([]*Plan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var out []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListCurrent returns every tenant's current plan.
func (s *PostgresService) ListCurrent(ctx context.Context) ([]*Plan, error) {
	return s.list(ctx, `SELECT `+planColumns+` FROM company_plans
		WHERE active_to IS NULL AND status IN ('active', 'suspended')
		ORDER BY company_id`)
}

// History returns a tenant's plans, newest first.
func (s *PostgresService) History(ctx context.Context, companyID int64) ([]*Plan, error) {
	return s.list(ctx, `SELECT `+planColumns+` FROM company_plans
		WHERE company_id = $1 ORDER BY active_from DESC, id DESC`, companyID)
}

var _ Service = (*PostgresService)(nil)
