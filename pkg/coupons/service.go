package coupons

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/platinummonkey/tierbill/pkg/audit"
	"github.com/platinummonkey/tierbill/pkg/billingerr"
	"github.com/platinummonkey/tierbill/pkg/money"
	"github.com/platinummonkey/tierbill/pkg/observability"
	"github.com/platinummonkey/tierbill/pkg/storage/postgres"
)

const (
	couponColumns = `id, coupon_code, discount_type, discount_value, is_recurring, active_from, expires_at,
		usage_limit, usage_count, status, created_by, notes, created_at, updated_at`
	appliedColumns = `id, company_id, coupon_id, coupon_code, discount_type, discount_value, is_recurring,
		status, expires_at, applied_by, notes, applied_at, removed_at`

	topCouponsLimit = 10
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresService implements Service on the coupons and applied_coupons tables.
type PostgresService struct {
	db       *sql.DB
	recorder audit.Recorder
	metrics  *observability.Metrics
	validate *validator.Validate
	now      func() time.Time
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB, recorder audit.Recorder, metrics *observability.Metrics) *PostgresService {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &PostgresService{
		db:       db,
		recorder: recorder,
		metrics:  metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCoupon(row scanner) (*Coupon, error) {
	c := &Coupon{}
	var (
		expiresAt  sql.NullTime
		usageLimit sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.Code, &c.DiscountType, &c.DiscountValue, &c.Recurring, &c.ActiveFrom, &expiresAt,
		&usageLimit, &c.UsageCount, &c.Status, &c.CreatedBy, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	if usageLimit.Valid {
		n := int(usageLimit.Int64)
		c.UsageLimit = &n
	}
	return c, nil
}

func scanApplied(row scanner) (*AppliedCoupon, error) {
	a := &AppliedCoupon{}
	var expiresAt, removedAt sql.NullTime
	err := row.Scan(&a.ID, &a.CompanyID, &a.CouponID, &a.Code, &a.DiscountType, &a.DiscountValue, &a.Recurring,
		&a.Status, &expiresAt, &a.AppliedBy, &a.Notes, &a.AppliedAt, &removedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		a.ExpiresAt = &t
	}
	if removedAt.Valid {
		t := removedAt.Time
		a.RemovedAt = &t
	}
	return a, nil
}

func (s *PostgresService) record(ctx context.Context, companyID int64, eventType audit.EventType, metadata map[string]interface{}) {
	if err := s.recorder.Record(ctx, audit.NewEvent(companyID, eventType, metadata)); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("event_type", string(eventType)).Warn("failed to record billing event")
	}
}

func (s *PostgresService) checkCreate(req *CreateRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return billingerr.NewValidation("invalid coupon: %s failed %s", verrs[0].Field(), verrs[0].Tag())
		}
		return billingerr.NewValidation("invalid coupon: %v", err)
	}
	if req.DiscountValue.Sign() <= 0 {
		return billingerr.NewValidation("invalid coupon: discount value must be positive")
	}
	if req.DiscountType == DiscountPercentage && req.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		return billingerr.NewValidation("invalid coupon: percentage discount cannot exceed 100")
	}
	if req.ExpiresAt != nil && req.ActiveFrom != nil && !req.ExpiresAt.After(*req.ActiveFrom) {
		return billingerr.NewValidation("invalid coupon: expires_at must be after active_from")
	}
	return nil
}

// CreateCoupon stores a new active coupon. Codes are stored uppercase and
// must be unique.
func (s *PostgresService) CreateCoupon(ctx context.Context, req *CreateRequest) (*Coupon, error) {
	req.Code = NormalizeCode(req.Code)
	if err := s.checkCreate(req); err != nil {
		return nil, err
	}
	activeFrom := s.now()
	if req.ActiveFrom != nil {
		activeFrom = *req.ActiveFrom
	}

	query := `
		INSERT INTO coupons (coupon_code, discount_type, discount_value, is_recurring, active_from, expires_at,
			usage_limit, usage_count, status, created_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 'active', $8, $9)
		RETURNING ` + couponColumns
	c, err := scanCoupon(s.db.QueryRowContext(ctx, query, req.Code, req.DiscountType, money.Round2(req.DiscountValue),
		req.Recurring, activeFrom, req.ExpiresAt, req.UsageLimit, audit.ActorFromContext(ctx), req.Notes))
	if postgres.IsUniqueViolation(err, "coupons_coupon_code_key") {
		return nil, billingerr.NewConflict("coupon code %s already exists", req.Code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create coupon: %w", err)
	}

	s.record(ctx, 0, audit.EventCouponCreated, map[string]interface{}{
		"coupon_code":    c.Code,
		"discount_type":  string(c.DiscountType),
		"discount_value": c.DiscountValue.String(),
	})
	return c, nil
}

func getCoupon(ctx context.Context, q querier, code string, forUpdate bool) (*Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE coupon_code = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanCoupon(q.QueryRowContext(ctx, query, NormalizeCode(code)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return c, nil
}

// GetCouponByCode looks a coupon up case-insensitively.
func (s *PostgresService) GetCouponByCode(ctx context.Context, code string) (*Coupon, error) {
	c, err := getCoupon(ctx, s.db, code, false)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, billingerr.NotFound("coupon", NormalizeCode(code))
	}
	return c, nil
}

// ListCoupons returns coupons newest first.
func (s *PostgresService) ListCoupons(ctx context.Context, activeOnly bool) ([]*Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons`
	if activeOnly {
		query += ` WHERE status = 'active'`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list coupons: %w", err)
	}
	defer rows.Close()

	var out []*Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan coupon: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func activeApplied(ctx context.Context, q querier, companyID int64) (*AppliedCoupon, error) {
	query := `SELECT ` + appliedColumns + ` FROM applied_coupons
		WHERE company_id = $1 AND status = 'active'
		ORDER BY applied_at DESC LIMIT 1`
	a, err := scanApplied(q.QueryRowContext(ctx, query, companyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active coupon: %w", err)
	}
	return a, nil
}

// ActiveCoupon returns the tenant's active applied coupon, or nil.
func (s *PostgresService) ActiveCoupon(ctx context.Context, companyID int64) (*AppliedCoupon, error) {
	return activeApplied(ctx, s.db, companyID)
}

// check runs the validation sequence. A coupon found past its expiry is
// moved to expired through q before the failure is reported.
func (s *PostgresService) check(ctx context.Context, q querier, code string, companyID int64, forUpdate bool) (*Validation, error) {
	c, err := getCoupon(ctx, q, code, forUpdate)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return &Validation{Reason: ReasonNotFound}, nil
	}
	if c.Status != StatusActive {
		return &Validation{Reason: fmt.Sprintf("Coupon is %s", c.Status), Coupon: c}, nil
	}

	now := s.now()
	if now.Before(c.ActiveFrom) {
		return &Validation{Reason: ReasonNotYetActive, Coupon: c}, nil
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		if _, err := expireCoupons(ctx, q, []int64{c.ID}); err != nil {
			return nil, err
		}
		c.Status = StatusExpired
		return &Validation{Reason: ReasonExpired, Coupon: c}, nil
	}
	if c.Exhausted() {
		return &Validation{Reason: ReasonLimitReached, Coupon: c}, nil
	}

	existing, err := activeApplied(ctx, q, companyID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Validation{Reason: ReasonAlreadyActive, Coupon: c}, nil
	}
	return &Validation{Valid: true, Coupon: c}, nil
}

// ValidateCoupon checks whether code can be applied to the tenant.
func (s *PostgresService) ValidateCoupon(ctx context.Context, code string, companyID int64) (*Validation, error) {
	return s.check(ctx, s.db, code, companyID, false)
}

// ApplyCoupon re-validates under a row lock, stores a frozen copy of the
// coupon's terms for the tenant and increments the coupon's usage count.
func (s *PostgresService) ApplyCoupon(ctx context.Context, companyID int64, code string) (*AppliedCoupon, error) {
	var (
		v       *Validation
		applied *AppliedCoupon
	)
	err := postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		v, err = s.check(ctx, tx, code, companyID, true)
		if err != nil || !v.Valid {
			// Commit so a lazy expiry sticks.
			return err
		}
		c := v.Coupon

		query := `
			INSERT INTO applied_coupons (company_id, coupon_id, coupon_code, discount_type, discount_value,
				is_recurring, status, expires_at, applied_by, notes)
			VALUES ($1, $2, $3, $4, $5, $6, 'active', $7, $8, $9)
			RETURNING ` + appliedColumns
		applied, err = scanApplied(tx.QueryRowContext(ctx, query, companyID, c.ID, c.Code, c.DiscountType,
			c.DiscountValue, c.Recurring, c.ExpiresAt, audit.ActorFromContext(ctx), "Applied from coupon: "+c.Code))
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE coupons SET usage_count = usage_count + 1, updated_at = NOW() WHERE id = $1`, c.ID); err != nil {
			return fmt.Errorf("failed to increment coupon usage: %w", err)
		}
		return nil
	})
	if postgres.IsUniqueViolation(err, "applied_coupons_one_active") {
		return nil, billingerr.NewValidation(ReasonAlreadyActive)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply coupon: %w", err)
	}
	if !v.Valid {
		return nil, billingerr.NewValidation("%s", v.Reason)
	}

	s.metrics.CouponApplied()
	s.record(ctx, companyID, audit.EventCouponApplied, map[string]interface{}{
		"coupon_code":    applied.Code,
		"discount_type":  string(applied.DiscountType),
		"discount_value": applied.DiscountValue.String(),
		"recurring":      applied.Recurring,
	})
	return applied, nil
}

// RemoveCoupon marks the tenant's active applied coupon used.
func (s *PostgresService) RemoveCoupon(ctx context.Context, companyID int64) error {
	var code string
	err := s.db.QueryRowContext(ctx, `
		UPDATE applied_coupons SET status = 'used', removed_at = NOW()
		WHERE company_id = $1 AND status = 'active'
		RETURNING coupon_code`, companyID).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return billingerr.NotFound("active coupon for company", companyID)
	}
	if err != nil {
		return fmt.Errorf("failed to remove coupon: %w", err)
	}

	s.record(ctx, companyID, audit.EventCouponRemoved, map[string]interface{}{"coupon_code": code})
	return nil
}

// expireCoupons moves the given active coupons to expired and returns the
// codes that actually changed.
func expireCoupons(ctx context.Context, q querier, ids []int64) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx, `
		UPDATE coupons SET status = 'expired', updated_at = NOW()
		WHERE id = ANY($1) AND status = 'active'
		RETURNING coupon_code`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to expire coupons: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan expired coupon: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *PostgresService) selectIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExpireOldCoupons is the scheduled sweep. Active coupons past expires_at
// become expired; active coupons at their usage limit become used.
func (s *PostgresService) ExpireOldCoupons(ctx context.Context) (*SweepResult, error) {
	ids, err := s.selectIDs(ctx,
		`SELECT id FROM coupons WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1`, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to find expired coupons: %w", err)
	}
	expired, err := expireCoupons(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		UPDATE coupons SET status = 'used', updated_at = NOW()
		WHERE status = 'active' AND usage_limit IS NOT NULL AND usage_count >= usage_limit
		RETURNING coupon_code`)
	if err != nil {
		return nil, fmt.Errorf("failed to close exhausted coupons: %w", err)
	}
	defer rows.Close()
	var exhausted []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan exhausted coupon: %w", err)
		}
		exhausted = append(exhausted, code)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.metrics.CouponsExpired(len(expired))
	return &SweepResult{
		Expired:   lo.Ternary(expired == nil, []string{}, expired),
		Exhausted: lo.Ternary(exhausted == nil, []string{}, exhausted),
	}, nil
}

// Stats summarizes every coupon definition.
func (s *PostgresService) Stats(ctx context.Context) (*Stats, error) {
	all, err := s.ListCoupons(ctx, false)
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		TotalCoupons:  len(all),
		ActiveCoupons: lo.CountBy(all, func(c *Coupon) bool { return c.Status == StatusActive }),
		TotalUsage:    lo.SumBy(all, func(c *Coupon) int { return c.UsageCount }),
	}

	ranked := append([]*Coupon(nil), all...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].UsageCount > ranked[j].UsageCount })
	if len(ranked) > topCouponsLimit {
		ranked = ranked[:topCouponsLimit]
	}
	stats.TopCoupons = lo.Map(ranked, func(c *Coupon, _ int) UsageStat {
		return UsageStat{Code: c.Code, Usage: c.UsageCount}
	})
	return stats, nil
}
