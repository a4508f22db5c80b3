// Package tiers is the subscription tier catalog: tier definitions, inclusion
// limits, overage prices and the pure pricing functions built on them.
//
// The catalog ships embedded in the binary (catalog.yaml) and is immutable at
// runtime. Deployments may point BILLING_CATALOG_PATH at a replacement file,
// which is read once at startup.
//
//	cat := tiers.Default()
//	overage, err := cat.CalculateOverage(tiers.Starter, usage)
package tiers
