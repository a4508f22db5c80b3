package invoices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tierbill/pkg/async"
	"github.com/platinummonkey/tierbill/pkg/audit"
	"github.com/platinummonkey/tierbill/pkg/billingerr"
	"github.com/platinummonkey/tierbill/pkg/money"
	"github.com/platinummonkey/tierbill/pkg/observability"
	"github.com/platinummonkey/tierbill/pkg/plans"
	"github.com/platinummonkey/tierbill/pkg/storage/postgres"
	"github.com/platinummonkey/tierbill/pkg/tiers"
)

var tracer = otel.Tracer("github.com/platinummonkey/tierbill/pkg/invoices")

const (
	invoiceColumns = `id, company_id, invoice_number, period_start, period_end, tier_id, base_cost,
		storage_overage_gb, storage_overage_cost, api_overage_calls, api_overage_cost,
		contractor_overage_count, contractor_overage_cost, subtotal, coupon_discount, tax_amount, total_due,
		paid_amount, status, applied_coupon_id, notes, due_date, sent_at, paid_date, created_at, updated_at`

	DefaultDueDays      = 5
	DefaultCompanyLimit = 12
	generateBatchLabel  = "generate_invoices"
)

// Config holds the tuning and optional collaborators of a PostgresService.
type Config struct {
	// Location decides calendar days. Defaults to UTC.
	Location *time.Location
	// DueDays is added to the period end to get the due date.
	DueDays  int
	Batch    async.Options
	Recorder audit.Recorder
	Metrics  *observability.Metrics
	Logger   *observability.Logger
}

// PostgresService implements Service on the invoices and payment_history tables.
type PostgresService struct {
	db       *sql.DB
	catalog  *tiers.Catalog
	plans    PlanSource
	usage    UsageSource
	coupons  CouponSource
	loc      *time.Location
	dueDays  int
	batch    async.Options
	recorder audit.Recorder
	metrics  *observability.Metrics
	logger   *observability.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB, catalog *tiers.Catalog, plans PlanSource, usage UsageSource, coupons CouponSource, cfg Config) *PostgresService {
	s := &PostgresService{
		db:       db,
		catalog:  catalog,
		plans:    plans,
		usage:    usage,
		coupons:  coupons,
		loc:      cfg.Location,
		dueDays:  cfg.DueDays,
		batch:    cfg.Batch,
		recorder: cfg.Recorder,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		validate: validator.New(),
		now:      time.Now,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.dueDays <= 0 {
		s.dueDays = DefaultDueDays
	}
	if s.recorder == nil {
		s.recorder = audit.NopRecorder{}
	}
	if s.logger == nil {
		s.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return s
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row scanner) (*Invoice, error) {
	inv := &Invoice{}
	var (
		appliedCouponID  sql.NullInt64
		sentAt, paidDate sql.NullTime
	)
	err := row.Scan(&inv.ID, &inv.CompanyID, &inv.Number, &inv.PeriodStart, &inv.PeriodEnd, &inv.TierID,
		&inv.BaseCost, &inv.StorageOverageGB, &inv.StorageOverageCost, &inv.APIOverageCalls, &inv.APIOverageCost,
		&inv.ContractorOverageCount, &inv.ContractorOverageCost, &inv.Subtotal, &inv.CouponDiscount,
		&inv.TaxAmount, &inv.TotalDue, &inv.PaidAmount, &inv.Status, &appliedCouponID, &inv.Notes,
		&inv.DueDate, &sentAt, &paidDate, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if appliedCouponID.Valid {
		id := appliedCouponID.Int64
		inv.AppliedCouponID = &id
	}
	if sentAt.Valid {
		t := sentAt.Time
		inv.SentAt = &t
	}
	if paidDate.Valid {
		t := paidDate.Time
		inv.PaidDate = &t
	}
	return inv, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryInvoices(ctx context.Context, q querier, query string, args ...any) ([]*Invoice, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *PostgresService) record(ctx context.Context, companyID int64, eventType audit.EventType, metadata map[string]interface{}) {
	if err := s.recorder.Record(ctx, audit.NewEvent(companyID, eventType, metadata)); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("event_type", string(eventType)).Warn("failed to record billing event")
	}
}

// day truncates the instant t to its calendar date in the billing timezone.
func (s *PostgresService) day(t time.Time) time.Time {
	t = t.In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
}

// date reads a period bound as a calendar date. The date is taken from t in
// its own location, so UTC-midnight and local-midnight bounds agree.
func (s *PostgresService) date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

func (s *PostgresService) findForPeriod(ctx context.Context, q querier, companyID int64, start, end time.Time) (*Invoice, error) {
	inv, err := scanInvoice(q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices
		WHERE company_id = $1 AND period_start = $2 AND period_end = $3`,
		companyID, start.Format(dateLayout), end.Format(dateLayout)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up invoice for period: %w", err)
	}
	return inv, nil
}

// draft prices an unsaved invoice for the tenant's active plan.
func (s *PostgresService) draft(ctx context.Context, companyID int64, usage func(context.Context) (tiers.Usage, error)) (*Invoice, error) {
	plan, err := s.plans.ActivePlan(ctx, companyID)
	if err != nil {
		return nil, err
	}
	u, err := usage(ctx)
	if err != nil {
		return nil, err
	}
	applied, err := s.coupons.ActiveCoupon(ctx, companyID)
	if err != nil {
		return nil, err
	}

	inv := &Invoice{CompanyID: companyID, TierID: plan.TierID, Status: StatusDraft, PaidAmount: decimal.Zero}
	if err := Price(s.catalog, inv, u, applied); err != nil {
		return nil, err
	}
	return inv, nil
}

// nextNumber allocates the next invoice number for the month of periodStart.
// The advisory lock serializes allocation per month until tx ends.
func nextNumber(ctx context.Context, tx *sql.Tx, periodStart time.Time) (string, error) {
	year, month := periodStart.Year(), int(periodStart.Month())
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(year*100+month)); err != nil {
		return "", fmt.Errorf("failed to lock invoice sequence: %w", err)
	}
	var count int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices WHERE invoice_number LIKE $1`,
		fmt.Sprintf("INV-%04d-%02d-%%", year, month)).Scan(&count)
	if err != nil {
		return "", fmt.Errorf("failed to count invoices: %w", err)
	}
	return FormatNumber(year, month, count+1), nil
}

// GenerateInvoice bills a tenant for the inclusive period [periodStart,
// periodEnd]. Generating the same period again returns the stored invoice.
func (s *PostgresService) GenerateInvoice(ctx context.Context, companyID int64, periodStart, periodEnd time.Time) (*Invoice, error) {
	ctx, span := tracer.Start(ctx, "invoices.GenerateInvoice",
		trace.WithAttributes(attribute.Int64("company.id", companyID)))
	defer span.End()

	start, end := s.date(periodStart), s.date(periodEnd)
	if end.Before(start) {
		return nil, billingerr.NewValidation("period end %s is before period start %s",
			end.Format(dateLayout), start.Format(dateLayout))
	}

	existing, err := s.findForPeriod(ctx, s.db, companyID, start, end)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	inv, err := s.draft(ctx, companyID, func(ctx context.Context) (tiers.Usage, error) {
		return s.usage.UsageBetween(ctx, companyID, start, end.AddDate(0, 0, 1))
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	inv.PeriodStart, inv.PeriodEnd = start, end
	inv.DueDate = end.AddDate(0, 0, s.dueDays)

	var saved *Invoice
	err = postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		number, err := nextNumber(ctx, tx, start)
		if err != nil {
			return err
		}
		saved, err = scanInvoice(tx.QueryRowContext(ctx, `
			INSERT INTO invoices (company_id, invoice_number, period_start, period_end, tier_id, base_cost,
				storage_overage_gb, storage_overage_cost, api_overage_calls, api_overage_cost,
				contractor_overage_count, contractor_overage_cost, subtotal, coupon_discount, tax_amount, total_due,
				paid_amount, status, applied_coupon_id, notes, due_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 0, 'draft', $17, $18, $19)
			RETURNING `+invoiceColumns,
			inv.CompanyID, number, start.Format(dateLayout), end.Format(dateLayout), inv.TierID, inv.BaseCost,
			inv.StorageOverageGB, inv.StorageOverageCost, inv.APIOverageCalls, inv.APIOverageCost,
			inv.ContractorOverageCount, inv.ContractorOverageCost, inv.Subtotal, inv.CouponDiscount,
			inv.TaxAmount, inv.TotalDue, inv.AppliedCouponID, inv.Notes, inv.DueDate.Format(dateLayout)))
		return err
	})
	if postgres.IsUniqueViolation(err, "invoices_company_period_key") {
		return s.findForPeriod(ctx, s.db, companyID, start, end)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}

	s.metrics.InvoiceGenerated()
	s.record(ctx, companyID, audit.EventInvoiceGenerated, map[string]interface{}{
		"invoice_id":     saved.ID,
		"invoice_number": saved.Number,
		"total_due":      saved.TotalDue.String(),
	})
	return saved, nil
}

// GenerateAll bills every tenant with an active plan. One tenant's failure
// is recorded in the result and does not stop the others.
func (s *PostgresService) GenerateAll(ctx context.Context, periodStart, periodEnd time.Time) (async.BatchResult, error) {
	current, err := s.plans.ListCurrent(ctx)
	if err != nil {
		return async.BatchResult{}, fmt.Errorf("failed to fetch companies for invoice generation: %w", err)
	}
	active := lo.Filter(current, func(p *plans.Plan, _ int) bool { return p.Status == plans.StatusActive })

	result := async.RunIsolated(ctx, active, s.batch,
		func(p *plans.Plan) int64 { return p.CompanyID },
		func(ctx context.Context, p *plans.Plan) error {
			_, err := s.GenerateInvoice(ctx, p.CompanyID, periodStart, periodEnd)
			return err
		})

	for _, te := range result.Errors {
		s.logger.WithTenant(te.TenantID).WithField("error", te.Error).Warn("failed to generate invoice")
	}
	s.metrics.ObserveBatch(generateBatchLabel, result.Success, result.Failed)
	return result, nil
}

// EstimateInvoice prices the current month so far without saving anything.
func (s *PostgresService) EstimateInvoice(ctx context.Context, companyID int64) (*Invoice, error) {
	inv, err := s.draft(ctx, companyID, func(ctx context.Context) (tiers.Usage, error) {
		return s.usage.PeriodUsage(ctx, companyID)
	})
	if err != nil {
		return nil, err
	}
	today := s.day(s.now())
	inv.PeriodStart = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, s.loc)
	inv.PeriodEnd = inv.PeriodStart.AddDate(0, 1, -1)
	inv.DueDate = inv.PeriodEnd.AddDate(0, 0, s.dueDays)
	return inv, nil
}

func (s *PostgresService) getOne(ctx context.Context, what string, key any, query string) (*Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billingerr.NotFound(what, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

// Get returns an invoice by id.
func (s *PostgresService) Get(ctx context.Context, id int64) (*Invoice, error) {
	return s.getOne(ctx, "invoice", id, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`)
}

// GetByNumber returns an invoice by its number.
func (s *PostgresService) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	return s.getOne(ctx, "invoice", number, `SELECT `+invoiceColumns+` FROM invoices WHERE invoice_number = $1`)
}

// GetCompanyInvoices returns a tenant's most recent invoices.
func (s *PostgresService) GetCompanyInvoices(ctx context.Context, companyID int64, limit int) ([]*Invoice, error) {
	if limit <= 0 {
		limit = DefaultCompanyLimit
	}
	return queryInvoices(ctx, s.db, `SELECT `+invoiceColumns+` FROM invoices
		WHERE company_id = $1 ORDER BY period_start DESC, id DESC LIMIT $2`, companyID, limit)
}

// List returns invoices matching filter, newest first.
func (s *PostgresService) List(ctx context.Context, filter ListFilter) ([]*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	var args []any
	if filter.CompanyID != 0 {
		args = append(args, filter.CompanyID)
		query += fmt.Sprintf(" AND company_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY period_start DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return queryInvoices(ctx, s.db, query, args...)
}

// GetOverdue returns sent or overdue invoices whose due date has passed.
func (s *PostgresService) GetOverdue(ctx context.Context) ([]*Invoice, error) {
	return queryInvoices(ctx, s.db, `SELECT `+invoiceColumns+` FROM invoices
		WHERE status IN ('sent', 'overdue') AND due_date < $1
		ORDER BY due_date, id`, s.day(s.now()).Format(dateLayout))
}

// transition moves an invoice between states. When no row matches, an
// invoice already in state already is returned with changed false; any other
// state is a validation error.
func (s *PostgresService) transition(ctx context.Context, id int64, query string, already Status) (*Invoice, bool, error) {
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, query, id))
	if err == nil {
		return inv, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to update invoice: %w", err)
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if already != "" && current.Status == already {
		return current, false, nil
	}
	return nil, false, billingerr.NewValidation("invoice %s is %s", current.Number, current.Status)
}

// MarkAsSent moves a draft invoice to sent.
func (s *PostgresService) MarkAsSent(ctx context.Context, id int64) (*Invoice, error) {
	inv, _, err := s.transition(ctx, id, `
		UPDATE invoices SET status = 'sent', sent_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'draft'
		RETURNING `+invoiceColumns, "")
	if err != nil {
		return nil, err
	}
	s.record(ctx, inv.CompanyID, audit.EventInvoiceSent, map[string]interface{}{
		"invoice_id":     inv.ID,
		"invoice_number": inv.Number,
	})
	return inv, nil
}

// MarkAsOverdue moves a sent invoice to overdue. An invoice already overdue
// is returned unchanged.
func (s *PostgresService) MarkAsOverdue(ctx context.Context, id int64) (*Invoice, error) {
	inv, changed, err := s.transition(ctx, id, `
		UPDATE invoices SET status = 'overdue', updated_at = NOW()
		WHERE id = $1 AND status = 'sent'
		RETURNING `+invoiceColumns, StatusOverdue)
	if err != nil || !changed {
		return inv, err
	}
	s.record(ctx, inv.CompanyID, audit.EventInvoiceOverdue, map[string]interface{}{
		"invoice_id":     inv.ID,
		"invoice_number": inv.Number,
		"days_overdue":   inv.DaysOverdue(s.now()),
	})
	return inv, nil
}

// MarkAsPaid settles an unpaid invoice and records the payment. A one-time
// coupon that discounted the invoice is retired.
func (s *PostgresService) MarkAsPaid(ctx context.Context, id int64, req PaymentRequest) (*Invoice, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, billingerr.NewValidation("invalid payment: %v", err)
	}
	if req.Amount.IsNegative() {
		return nil, billingerr.NewValidation("invalid payment: amount must not be negative")
	}

	var paid *Invoice
	err := postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		inv, err := scanInvoice(tx.QueryRowContext(ctx,
			`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return billingerr.NotFound("invoice", id)
		}
		if err != nil {
			return err
		}
		if !inv.Status.Unpaid() {
			return billingerr.NewValidation("invoice %s is %s", inv.Number, inv.Status)
		}

		amount := money.Round2(req.Amount)
		if amount.IsZero() {
			amount = inv.TotalDue
		}
		paid, err = scanInvoice(tx.QueryRowContext(ctx, `
			UPDATE invoices SET status = 'paid', paid_amount = $2, paid_date = NOW(), updated_at = NOW()
			WHERE id = $1
			RETURNING `+invoiceColumns, id, amount))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO payment_history (invoice_id, company_id, amount, method, reference)
			VALUES ($1, $2, $3, $4, $5)`, id, inv.CompanyID, amount, req.Method, req.Reference)
		return err
	})
	if err != nil {
		if billingerr.IsValidation(err) || billingerr.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to mark invoice paid: %w", err)
	}

	s.record(ctx, paid.CompanyID, audit.EventInvoicePaid, map[string]interface{}{
		"invoice_id":     paid.ID,
		"invoice_number": paid.Number,
		"amount":         paid.PaidAmount.String(),
	})

	if err := s.retireOneTimeCoupon(ctx, paid); err != nil {
		observability.FromContext(ctx).WithTenant(paid.CompanyID).WithError(err).Warn("failed to retire one-time coupon")
	}
	return paid, nil
}

// retireOneTimeCoupon removes the tenant's active coupon only when it is the
// one that discounted inv.
func (s *PostgresService) retireOneTimeCoupon(ctx context.Context, inv *Invoice) error {
	if inv.AppliedCouponID == nil {
		return nil
	}
	applied, err := s.coupons.ActiveCoupon(ctx, inv.CompanyID)
	if err != nil || applied == nil || applied.Recurring || applied.ID != *inv.AppliedCouponID {
		return err
	}
	return s.coupons.RemoveCoupon(ctx, inv.CompanyID)
}

// InvoicesBetween returns invoices whose period starts in [from, to).
func (s *PostgresService) InvoicesBetween(ctx context.Context, from, to time.Time) ([]*Invoice, error) {
	return queryInvoices(ctx, s.db, `SELECT `+invoiceColumns+` FROM invoices
		WHERE period_start >= $1 AND period_start < $2 AND status <> 'cancelled'
		ORDER BY period_start, invoice_number`,
		s.date(from).Format(dateLayout), s.date(to).Format(dateLayout))
}

// Payments returns payments received in [from, to).
func (s *PostgresService) Payments(ctx context.Context, from, to time.Time) ([]*Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.invoice_id, p.company_id, i.invoice_number, p.amount, p.method, p.reference, p.paid_at
		FROM payment_history p JOIN invoices i ON i.id = p.invoice_id
		WHERE p.paid_at >= $1 AND p.paid_at < $2
		ORDER BY p.paid_at, p.id`, s.date(from), s.date(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p := &Payment{}
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.CompanyID, &p.Number, &p.Amount, &p.Method, &p.Reference, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Revenue sums what was paid on invoices whose period starts in [from, to).
func (s *PostgresService) Revenue(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(paid_amount), 0) FROM invoices
		WHERE status = 'paid' AND period_start >= $1 AND period_start < $2`,
		s.date(from).Format(dateLayout), s.date(to).Format(dateLayout)).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum revenue: %w", err)
	}
	return money.Round2(total), nil
}

var _ Service = (*PostgresService)(nil)
