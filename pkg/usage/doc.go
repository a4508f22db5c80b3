// Package usage meters tenant resource consumption.
//
// Live usage is estimated from the operational tables (jobs, active
// contractors, recent sessions, export sizes) plus a per-day API call counter
// kept in Redis or, without Redis, in Postgres. A daily snapshot freezes those
// figures per (tenant, day); re-capturing the same day replaces the row.
//
// Billing reads period usage from snapshots: storage, contractors and
// connections take the month's peak while API calls are summed.
package usage
