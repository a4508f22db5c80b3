package coupons

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType is how a coupon reduces a charge.
type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
	DiscountTrialDays   DiscountType = "trial_days"
)

// Status is the lifecycle state of a coupon definition.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusUsed      Status = "used"
	StatusSuspended Status = "suspended"
)

// AppliedStatus is the state of a coupon bound to a tenant.
type AppliedStatus string

const (
	AppliedActive AppliedStatus = "active"
	AppliedUsed   AppliedStatus = "used"
)

// Validation failure reasons, reported verbatim to callers.
const (
	ReasonNotFound      = "Coupon code not found"
	ReasonNotYetActive  = "Coupon not yet active"
	ReasonExpired       = "Coupon has expired"
	ReasonLimitReached  = "Coupon usage limit reached"
	ReasonAlreadyActive = "Company already has an active coupon"
)

// Coupon is a coupon definition.
type Coupon struct {
	ID            int64           `json:"id"`
	Code          string          `json:"coupon_code"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	Recurring     bool            `json:"recurring"`
	ActiveFrom    time.Time       `json:"active_from"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	UsageLimit    *int            `json:"usage_limit,omitempty"`
	UsageCount    int             `json:"usage_count"`
	Status        Status          `json:"status"`
	CreatedBy     string          `json:"created_by,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Exhausted reports whether the usage limit has been reached.
func (c *Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit
}

// AppliedCoupon is a tenant's copy of a coupon's terms, frozen when applied.
type AppliedCoupon struct {
	ID            int64           `json:"id"`
	CompanyID     int64           `json:"company_id"`
	CouponID      int64           `json:"coupon_id"`
	Code          string          `json:"coupon_code"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	Recurring     bool            `json:"recurring"`
	Status        AppliedStatus   `json:"status"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	AppliedBy     string          `json:"applied_by,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	AppliedAt     time.Time       `json:"applied_at"`
	RemovedAt     *time.Time      `json:"removed_at,omitempty"`
}

// Discount computes this coupon's discount against base.
func (a *AppliedCoupon) Discount(base decimal.Decimal) decimal.Decimal {
	if a == nil || a.Status != AppliedActive {
		return decimal.Zero
	}
	return CalculateDiscount(base, a.DiscountType, a.DiscountValue)
}

// Validation is the outcome of checking a code for a tenant.
type Validation struct {
	Valid  bool    `json:"valid"`
	Reason string  `json:"reason,omitempty"`
	Coupon *Coupon `json:"coupon,omitempty"`
}

// CreateRequest describes a new coupon definition.
type CreateRequest struct {
	Code          string          `json:"coupon_code" validate:"required,max=64"`
	DiscountType  DiscountType    `json:"discount_type" validate:"required,oneof=percentage fixed_amount trial_days"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	Recurring     bool            `json:"recurring"`
	ActiveFrom    *time.Time      `json:"active_from,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	UsageLimit    *int            `json:"usage_limit,omitempty" validate:"omitempty,min=1"`
	Notes         string          `json:"notes,omitempty" validate:"max=500"`
}

// UsageStat is one row of the coupon leaderboard.
type UsageStat struct {
	Code  string `json:"code"`
	Usage int    `json:"usage"`
}

// Stats summarizes the coupon catalog.
type Stats struct {
	TotalCoupons  int         `json:"total_coupons"`
	ActiveCoupons int         `json:"active_coupons"`
	TotalUsage    int         `json:"total_usage"`
	TopCoupons    []UsageStat `json:"top_coupons"`
}

// SweepResult reports a scheduled expiry pass.
type SweepResult struct {
	Expired   []string `json:"expired"`
	Exhausted []string `json:"exhausted"`
}

// Service is the discount engine.
type Service interface {
	CreateCoupon(ctx context.Context, req *CreateRequest) (*Coupon, error)
	GetCouponByCode(ctx context.Context, code string) (*Coupon, error)
	ListCoupons(ctx context.Context, activeOnly bool) ([]*Coupon, error)
	ValidateCoupon(ctx context.Context, code string, companyID int64) (*Validation, error)
	ApplyCoupon(ctx context.Context, companyID int64, code string) (*AppliedCoupon, error)
	RemoveCoupon(ctx context.Context, companyID int64) error
	ActiveCoupon(ctx context.Context, companyID int64) (*AppliedCoupon, error)
	ExpireOldCoupons(ctx context.Context) (*SweepResult, error)
	Stats(ctx context.Context) (*Stats, error)
}
