package tiers

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/tierbill/pkg/billingerr"
)

// ID identifies a subscription tier.
type ID string

const (
	Starter      ID = "starter"
	Professional ID = "professional"
	Enterprise   ID = "enterprise"
	Custom       ID = "custom"
)

// Unlimited marks a limit with no ceiling.
const Unlimited int64 = -1

// Metric names one metered resource.
type Metric string

const (
	MetricContractors           Metric = "contractors"
	MetricStorageGB             Metric = "storage_gb"
	MetricAPICalls              Metric = "api_calls"
	MetricConcurrentConnections Metric = "concurrent_connections"
)

// Metrics lists every metered resource in display order.
var Metrics = []Metric{MetricContractors, MetricStorageGB, MetricAPICalls, MetricConcurrentConnections}

// Label returns the human name of a metric.
func (m Metric) Label() string {
	switch m {
	case MetricContractors:
		return "Contractors"
	case MetricStorageGB:
		return "Storage"
	case MetricAPICalls:
		return "API calls"
	case MetricConcurrentConnections:
		return "Concurrent connections"
	default:
		return string(m)
	}
}

// Limits are the inclusions of a tier.
type Limits struct {
	Contractors           int64 `yaml:"contractors" json:"contractors"`
	StorageGB             int64 `yaml:"storage_gb" json:"storage_gb"`
	APICallsPerMonth      int64 `yaml:"api_calls_per_month" json:"api_calls_per_month"`
	ConcurrentConnections int64 `yaml:"concurrent_connections" json:"concurrent_connections"`
}

// For returns the limit for a metric.
func (l Limits) For(m Metric) int64 {
	switch m {
	case MetricContractors:
		return l.Contractors
	case MetricStorageGB:
		return l.StorageGB
	case MetricAPICalls:
		return l.APICallsPerMonth
	case MetricConcurrentConnections:
		return l.ConcurrentConnections
	default:
		return 0
	}
}

// Definition describes one tier.
type Definition struct {
	ID           ID              `yaml:"id" json:"tier"`
	Name         string          `yaml:"name" json:"name"`
	MonthlyPrice decimal.Decimal `yaml:"monthly_price" json:"monthly_price"`
	Limits       Limits          `yaml:"limits" json:"limits"`
	Features     []string        `yaml:"features" json:"features"`
	Recommended  bool            `yaml:"recommended" json:"recommended,omitempty"`
	Public       bool            `yaml:"public" json:"-"`
}

// OveragePricing holds the per-unit prices charged beyond a tier's limits.
type OveragePricing struct {
	StoragePerGB      decimal.Decimal `yaml:"storage_per_gb" json:"storage_per_gb"`
	APICallsPer1000   decimal.Decimal `yaml:"api_calls_per_1000" json:"api_calls_per_1000"`
	ContractorPerSeat decimal.Decimal `yaml:"contractor_per_seat" json:"contractor_per_seat"`
}

// Usage is a tenant's consumption over some window.
type Usage struct {
	Contractors           int64           `json:"contractors"`
	StorageGB             decimal.Decimal `json:"storage_gb"`
	APICalls              int64           `json:"api_calls"`
	ConcurrentConnections int64           `json:"concurrent_connections"`
}

// Value returns the usage for a metric.
func (u Usage) Value(m Metric) decimal.Decimal {
	switch m {
	case MetricContractors:
		return decimal.NewFromInt(u.Contractors)
	case MetricStorageGB:
		return u.StorageGB
	case MetricAPICalls:
		return decimal.NewFromInt(u.APICalls)
	case MetricConcurrentConnections:
		return decimal.NewFromInt(u.ConcurrentConnections)
	default:
		return decimal.Zero
	}
}

// Overage is the billable excess over a tier's limits.
type Overage struct {
	StorageGB      decimal.Decimal `json:"storage_overage_gb"`
	StorageCost    decimal.Decimal `json:"storage_overage_cost"`
	APICalls       int64           `json:"api_overage_calls"`
	APICost        decimal.Decimal `json:"api_overage_cost"`
	Contractors    int64           `json:"contractor_overage_count"`
	ContractorCost decimal.Decimal `json:"contractor_overage_cost"`
	Total          decimal.Decimal `json:"total_overage_cost"`
}

// CostBreakdown is a full monthly price for a tier and usage.
type CostBreakdown struct {
	BaseCost              decimal.Decimal `json:"base_cost"`
	OverageCost           decimal.Decimal `json:"overage_cost"`
	Subtotal              decimal.Decimal `json:"subtotal"`
	Discount              decimal.Decimal `json:"discount"`
	SubtotalAfterDiscount decimal.Decimal `json:"subtotal_after_discount"`
	Tax                   decimal.Decimal `json:"gst"`
	Total                 decimal.Decimal `json:"total"`
}

// AnnualSavings compares twelve monthly payments with an annual prepayment.
type AnnualSavings struct {
	MonthlyTotal         decimal.Decimal `json:"monthly_total"`
	AnnualTotal          decimal.Decimal `json:"annual_total"`
	Savings              decimal.Decimal `json:"savings"`
	EffectiveMonthlyRate decimal.Decimal `json:"effective_monthly_rate"`
}

// Violation is one metric over its limit.
type Violation struct {
	Metric  Metric          `json:"metric"`
	Current decimal.Decimal `json:"current"`
	Limit   int64           `json:"limit"`
	Message string          `json:"message"`
}

// UsageCheck is the outcome of validating usage against a tier.
type UsageCheck struct {
	WithinLimits bool        `json:"within_limits"`
	Violations   []Violation `json:"violations,omitempty"`
}

// AlertLevel grades how close a metric is to its limit.
type AlertLevel string

const (
	AlertNormal   AlertLevel = "normal"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
	AlertExceeded AlertLevel = "exceeded"
)

// Severity orders alert levels; higher is worse.
func (a AlertLevel) Severity() int {
	switch a {
	case AlertWarning:
		return 1
	case AlertCritical:
		return 2
	case AlertExceeded:
		return 3
	default:
		return 0
	}
}

// UnknownTierError is returned for an unregistered tier id.
type UnknownTierError struct {
	ID ID
}

func (e *UnknownTierError) Error() string {
	return fmt.Sprintf("unknown tier: %s", e.ID)
}

func (e *UnknownTierError) Unwrap() error { return billingerr.ErrNotFound }
