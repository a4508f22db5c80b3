package plans

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/tierbill/pkg/billingerr"
	"github.com/platinummonkey/tierbill/pkg/tiers"
)

// Status is the state of a company plan row.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Plan is one row of a tenant's plan history. The current plan is the row
// with no active_to.
type Plan struct {
	ID              int64           `json:"id"`
	CompanyID       int64           `json:"company_id"`
	TierID          tiers.ID        `json:"tier"`
	MonthlyCost     decimal.Decimal `json:"monthly_cost"`
	Status          Status          `json:"status"`
	SuspendedReason string          `json:"suspended_reason,omitempty"`
	ActiveFrom      time.Time       `json:"active_from"`
	ActiveTo        *time.Time      `json:"active_to,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Suspended reports whether the plan is suspended.
func (p *Plan) Suspended() bool {
	return p != nil && p.Status == StatusSuspended
}

// Change is the result of a plan change.
type Change struct {
	From *Plan `json:"from,omitempty"`
	To   *Plan `json:"to"`
}

// ChangeRequest asks to move a tenant to another tier.
type ChangeRequest struct {
	Tier string `json:"tier" validate:"required,oneof=starter professional enterprise custom"`
}

// SuspendRequest carries an operator's suspension reason.
type SuspendRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// NoActivePlanError is returned when a tenant has no current plan.
type NoActivePlanError struct {
	CompanyID int64
}

func (e *NoActivePlanError) Error() string {
	return fmt.Sprintf("no active plan for company %d", e.CompanyID)
}

func (e *NoActivePlanError) Unwrap() error { return billingerr.ErrNotFound }

// Service manages company plans.
type Service interface {
	// ActivePlan returns the tenant's billable plan. Suspended plans are not
	// billable.
	ActivePlan(ctx context.Context, companyID int64) (*Plan, error)
	// CurrentPlan returns the tenant's current plan, active or suspended.
	CurrentPlan(ctx context.Context, companyID int64) (*Plan, error)
	CreatePlan(ctx context.Context, companyID int64, tier tiers.ID) (*Plan, error)
	ChangePlan(ctx context.Context, companyID int64, tier tiers.ID) (*Change, error)
	// Suspend reports false when the tenant was already suspended.
	Suspend(ctx context.Context, companyID int64, reason string) (bool, error)
	Unsuspend(ctx context.Context, companyID int64) error
	ListCurrent(ctx context.Context) ([]*Plan, error)
	History(ctx context.Context, companyID int64) ([]*Plan, error)
}
