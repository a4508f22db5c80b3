package audit

import (
	"time"
)

// EventType names a billing event.
type EventType string

const (
	EventPlanCreated        EventType = "plan_created"
	EventPlanChanged        EventType = "plan_changed"
	EventAccountSuspended   EventType = "account_suspended"
	EventAccountUnsuspended EventType = "account_unsuspended"

	EventCouponCreated  EventType = "coupon_created"
	EventCouponApplied  EventType = "coupon_applied"
	EventCouponRemoved  EventType = "coupon_removed"
	EventCouponsExpired EventType = "coupons_expired"

	EventInvoiceGenerated EventType = "invoice_generated"
	EventInvoiceSent      EventType = "invoice_sent"
	EventInvoicePaid      EventType = "invoice_paid"
	EventInvoiceOverdue   EventType = "invoice_overdue"

	EventUsageAlert EventType = "usage_alert"

	// Scheduled job summaries.
	EventUsageSnapshot     EventType = "usage_snapshot"
	EventMonthlyInvoicing  EventType = "monthly_invoicing"
	EventOverageAlerts     EventType = "overage_alerts"
	EventSuspendOverdueJob EventType = "suspend_overdue_job"

	// Scheduled job failures.
	EventUsageSnapshotFailed    EventType = "usage_snapshot_failed"
	EventMonthlyInvoicingFailed EventType = "monthly_invoicing_failed"
	EventOverageAlertsFailed    EventType = "overage_alerts_failed"
	EventSuspendOverdueFailed   EventType = "suspend_overdue_failed"
	EventExpireCouponsFailed    EventType = "expire_coupons_failed"
)

// Event is one row of the billing event log.
type Event struct {
	ID        int64                  `json:"id"`
	CompanyID *int64                 `json:"company_id,omitempty"`
	Type      EventType              `json:"event_type"`
	Actor     string                 `json:"actor"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewEvent builds an event for a tenant. companyID 0 means a system-wide event.
func NewEvent(companyID int64, eventType EventType, metadata map[string]interface{}) *Event {
	e := &Event{Type: eventType, Metadata: metadata}
	if companyID != 0 {
		id := companyID
		e.CompanyID = &id
	}
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	return e
}

// Filter narrows a search of the event log. Zero fields are ignored.
type Filter struct {
	CompanyID *int64
	Types     []EventType
	Since     *time.Time
	Until     *time.Time
	// Metadata matches events whose metadata contains every key/value given.
	Metadata map[string]interface{}
	Limit    int
	Offset   int
}
