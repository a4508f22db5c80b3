// Package app assembles the billing engine from configuration: the tier
// catalog, usage meter, plan, coupon and invoice services, the
// orchestrator, reconciliation and the notification hook. The binaries
// under cmd/ share it.
package app
