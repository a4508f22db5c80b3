package invoices

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/tierbill/pkg/async"
	"github.com/platinummonkey/tierbill/pkg/coupons"
	"github.com/platinummonkey/tierbill/pkg/plans"
	"github.com/platinummonkey/tierbill/pkg/tiers"
)

// Status is the lifecycle state of an invoice.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// Unpaid reports whether an invoice in this state still expects payment.
func (s Status) Unpaid() bool {
	return s == StatusDraft || s == StatusSent || s == StatusOverdue
}

// Invoice is a priced billing period for one tenant. Every monetary field
// is rounded to cents when computed.
type Invoice struct {
	ID                     int64           `json:"id"`
	CompanyID              int64           `json:"company_id"`
	Number                 string          `json:"invoice_number,omitempty"`
	PeriodStart            time.Time       `json:"period_start"`
	PeriodEnd              time.Time       `json:"period_end"`
	TierID                 tiers.ID        `json:"tier"`
	BaseCost               decimal.Decimal `json:"base_cost"`
	StorageOverageGB       decimal.Decimal `json:"storage_overage_gb"`
	StorageOverageCost     decimal.Decimal `json:"storage_overage_cost"`
	APIOverageCalls        int64           `json:"api_overage_calls"`
	APIOverageCost         decimal.Decimal `json:"api_overage_cost"`
	ContractorOverageCount int64           `json:"contractor_overage_count"`
	ContractorOverageCost  decimal.Decimal `json:"contractor_overage_cost"`
	Subtotal               decimal.Decimal `json:"subtotal"`
	CouponDiscount         decimal.Decimal `json:"coupon_discount"`
	TaxAmount              decimal.Decimal `json:"tax_amount"`
	TotalDue               decimal.Decimal `json:"total_due"`
	PaidAmount             decimal.Decimal `json:"paid_amount"`
	Status                 Status          `json:"status"`
	AppliedCouponID        *int64          `json:"applied_coupon_id,omitempty"`
	Notes                  string          `json:"notes,omitempty"`
	DueDate                time.Time       `json:"due_date"`
	SentAt                 *time.Time      `json:"sent_at,omitempty"`
	PaidDate               *time.Time      `json:"paid_date,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// OverageCost is the sum of the overage lines.
func (inv *Invoice) OverageCost() decimal.Decimal {
	return inv.StorageOverageCost.Add(inv.APIOverageCost).Add(inv.ContractorOverageCost)
}

// DaysOverdue counts whole days past the due date, rounded up, never negative.
func (inv *Invoice) DaysOverdue(now time.Time) int {
	if !now.After(inv.DueDate) {
		return 0
	}
	hours := now.Sub(inv.DueDate).Hours()
	days := int(hours / 24)
	if float64(days*24) < hours {
		days++
	}
	return days
}

// LineItem is one displayable charge on an invoice.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// Payment is one row of payment_history.
type Payment struct {
	ID        int64           `json:"id"`
	InvoiceID int64           `json:"invoice_id"`
	CompanyID int64           `json:"company_id"`
	Number    string          `json:"invoice_number,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method,omitempty"`
	Reference string          `json:"reference,omitempty"`
	PaidAt    time.Time       `json:"paid_at"`
}

// PaymentRequest records a payment against an invoice. A zero amount pays
// the invoice's total due.
type PaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"max=50"`
	Reference string          `json:"reference" validate:"max=200"`
}

// ListFilter narrows ListInvoices. Zero fields are ignored.
type ListFilter struct {
	CompanyID int64
	Status    Status
	Limit     int
}

// PlanSource resolves tenant plans.
type PlanSource interface {
	ActivePlan(ctx context.Context, companyID int64) (*plans.Plan, error)
	ListCurrent(ctx context.Context) ([]*plans.Plan, error)
}

// UsageSource resolves tenant usage.
type UsageSource interface {
	PeriodUsage(ctx context.Context, companyID int64) (tiers.Usage, error)
	UsageBetween(ctx context.Context, companyID int64, from, to time.Time) (tiers.Usage, error)
}

// CouponSource resolves and retires applied coupons.
type CouponSource interface {
	ActiveCoupon(ctx context.Context, companyID int64) (*coupons.AppliedCoupon, error)
	RemoveCoupon(ctx context.Context, companyID int64) error
}

// Service is the invoice generator and store.
type Service interface {
	GenerateInvoice(ctx context.Context, companyID int64, periodStart, periodEnd time.Time) (*Invoice, error)
	GenerateAll(ctx context.Context, periodStart, periodEnd time.Time) (async.BatchResult, error)
	EstimateInvoice(ctx context.Context, companyID int64) (*Invoice, error)
	Get(ctx context.Context, id int64) (*Invoice, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)
	GetCompanyInvoices(ctx context.Context, companyID int64, limit int) ([]*Invoice, error)
	List(ctx context.Context, filter ListFilter) ([]*Invoice, error)
	GetOverdue(ctx context.Context) ([]*Invoice, error)
	MarkAsSent(ctx context.Context, id int64) (*Invoice, error)
	MarkAsPaid(ctx context.Context, id int64, req PaymentRequest) (*Invoice, error)
	MarkAsOverdue(ctx context.Context, id int64) (*Invoice, error)
	Payments(ctx context.Context, from, to time.Time) ([]*Payment, error)
	InvoicesBetween(ctx context.Context, from, to time.Time) ([]*Invoice, error)
	Revenue(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
}
