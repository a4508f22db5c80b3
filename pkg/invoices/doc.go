// Package invoices generates and stores tenant invoices.
//
// An invoice prices one billing period: the tier's base price, overage for
// storage, API calls and contractor seats, less the tenant's applied coupon,
// plus GST. Numbers have the form INV-YYYY-MM-NNNNN and run across all
// tenants within the month of the period start. Allocation takes a
// transaction-scoped advisory lock for that month, and the unique
// (company_id, period_start, period_end) constraint makes re-running a
// period return the invoice already stored.
//
// Lifecycle:
//
//	draft -> sent -> paid
//	          |
//	          v
//	       overdue -> paid
package invoices
