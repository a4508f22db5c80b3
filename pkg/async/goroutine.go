package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tierbill/pkg/observability"
)

// SafeGo runs fn in a goroutine with panic recovery and a timeout. Errors and
// panics are logged, never propagated.
//
// Example:
//
//	SafeGo(ctx, logger, 5*time.Second, "usage alert notify", func(ctx context.Context) error {
//	    return notifier.Notify(ctx, alert)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithField("task", taskName).WithError(err).Warn("background task failed")
		}
	}()
}

// TenantError records one tenant's failure inside a batch.
type TenantError struct {
	TenantID int64  `json:"tenant_id"`
	Error    string `json:"error"`
}

// BatchResult aggregates an isolate-and-continue pass over tenants.
type BatchResult struct {
	Success int           `json:"success"`
	Failed  int           `json:"failed"`
	Errors  []TenantError `json:"errors,omitempty"`
}

// Merge folds other into r.
func (r *BatchResult) Merge(other BatchResult) {
	r.Success += other.Success
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
}

// Options tune RunIsolated.
type Options struct {
	// Parallelism bounds concurrent items. Values below 1 run sequentially.
	Parallelism int
	// Timeout bounds each item. Zero means no per-item timeout.
	Timeout time.Duration
}

// RunIsolated calls fn for every item and never lets one item's failure or
// panic stop the others. Errors are reported in tenant order.
//
// Example:
//
//	result := RunIsolated(ctx, plans, Options{Parallelism: 4},
//	    func(p plans.Plan) int64 { return p.CompanyID },
//	    func(ctx context.Context, p plans.Plan) error {
//	        _, err := gen.GenerateInvoice(ctx, p.CompanyID, start, end)
//	        return err
//	    })
func RunIsolated[T any](ctx context.Context, items []T, opts Options, tenantOf func(T) int64, fn func(context.Context, T) error) BatchResult {
	limit := opts.Parallelism
	if limit < 1 {
		limit = 1
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		result BatchResult
	)
	g.SetLimit(limit)

	for _, item := range items {
		item := item
		g.Go(func() error {
			err := runOne(ctx, opts.Timeout, item, fn)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, TenantError{TenantID: tenantOf(item), Error: err.Error()})
				return nil
			}
			result.Success++
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(result.Errors, func(i, j int) bool {
		return result.Errors[i].TenantID < result.Errors[j].TenantID
	})
	return result
}

func runOne[T any](ctx context.Context, timeout time.Duration, item T, fn func(context.Context, T) error) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, item)
}
