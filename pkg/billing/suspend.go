package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/platinummonkey/tierbill/pkg/async"
	"github.com/platinummonkey/tierbill/pkg/billingerr"
	"github.com/platinummonkey/tierbill/pkg/invoices"
	"github.com/platinummonkey/tierbill/pkg/webhooks"
)

// calendarDaysOverdue counts calendar days from due to today. Both are dates.
func calendarDaysOverdue(due, today time.Time) int {
	dueDay := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	days := int(today.Sub(dueDay).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// SuspendOverdueAccounts marks every unpaid past-due invoice overdue and
// suspends tenants holding an invoice at least GraceDays past due. Tenants
// already suspended are counted, not suspended again.
func (o *Orchestrator) SuspendOverdueAccounts(ctx context.Context) (*SuspensionResult, error) {
	ctx, span := tracer.Start(ctx, "billing.SuspendOverdueAccounts")
	defer span.End()

	overdue, err := o.invoices.GetOverdue(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to fetch overdue invoices: %w", err)
	}

	byCompany := lo.GroupBy(overdue, func(inv *invoices.Invoice) int64 { return inv.CompanyID })
	companyIDs := lo.Keys(byCompany)
	sort.Slice(companyIDs, func(i, j int) bool { return companyIDs[i] < companyIDs[j] })

	today := o.today()
	var marked, suspended, already atomic.Int64

	batch := async.RunIsolated(ctx, companyIDs, o.batch, func(id int64) int64 { return id },
		func(ctx context.Context, companyID int64) error {
			var (
				errs      []error
				worst     *invoices.Invoice
				worstDays = -1
			)
			for _, inv := range byCompany[companyID] {
				if inv.Status != invoices.StatusOverdue {
					if _, err := o.invoices.MarkAsOverdue(ctx, inv.ID); err != nil {
						errs = append(errs, fmt.Errorf("invoice %s: %w", inv.Number, err))
					} else {
						marked.Add(1)
					}
				}
				if days := calendarDaysOverdue(inv.DueDate, today); days > worstDays {
					worst, worstDays = inv, days
				}
			}
			if worstDays < o.graceDays {
				return errors.Join(errs...)
			}

			reason := fmt.Sprintf("Invoice %s overdue by %d days", worst.Number, worstDays)
			changed, err := o.plans.Suspend(ctx, companyID, reason)
			switch {
			case billingerr.IsNotFound(err):
				o.logger.WithTenant(companyID).Info("Overdue tenant has no current plan; not suspended")
			case err != nil:
				errs = append(errs, fmt.Errorf("suspend: %w", err))
			case changed:
				suspended.Add(1)
				o.notify(ctx, &webhooks.Event{
					Type:      webhooks.EventAccountSuspended,
					CompanyID: companyID,
					Data: map[string]interface{}{
						"invoice_number": worst.Number,
						"days_overdue":   worstDays,
						"total_due":      worst.TotalDue.StringFixed(2),
						"message":        reason,
					},
				})
			default:
				already.Add(1)
			}
			return errors.Join(errs...)
		})

	result := &SuspensionResult{
		OverdueInvoices:  len(overdue),
		MarkedOverdue:    int(marked.Load()),
		Suspended:        int(suspended.Load()),
		AlreadySuspended: int(already.Load()),
		Errors:           batch.Errors,
	}
	o.metrics.ObserveBatch("suspend_overdue", batch.Success, batch.Failed)
	o.logger.WithFields(map[string]interface{}{
		"overdue_invoices":  result.OverdueInvoices,
		"marked_overdue":    result.MarkedOverdue,
		"suspended":         result.Suspended,
		"already_suspended": result.AlreadySuspended,
		"failed":            batch.Failed,
	}).Info("Overdue accounts processed")
	return result, nil
}

// notify hands event to the notifier in the background. Delivery failures
// are logged by async.SafeGo.
func (o *Orchestrator) notify(ctx context.Context, event *webhooks.Event) {
	if o.notifier == nil {
		return
	}
	async.SafeGo(ctx, o.logger, o.notifyTimeout, "notify "+string(event.Type), func(ctx context.Context) error {
		return o.notifier.Notify(ctx, event)
	})
}
