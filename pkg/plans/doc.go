// Package plans stores each tenant's subscription plan history.
//
// A tenant has at most one current plan (status active or suspended with no
// active_to). Changing tier closes the current row and opens a new one in a
// single transaction; the company_plans_one_active index backs this up.
package plans
