// Package coupons is the discount engine: coupon definitions, validation,
// application to tenants and the scheduled expiry sweep.
//
// A coupon applied to a tenant is copied into applied_coupons so later
// edits to the definition do not change discounts already granted. A tenant
// holds at most one active applied coupon.
package coupons
