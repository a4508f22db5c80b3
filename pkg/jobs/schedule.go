package jobs

import (
	"context"
	"fmt"
	"sort"

	"github.com/robfig/cron/v3"
)

// Start registers every scheduled job and starts the cron loop. A job that
// is still running when its next tick fires is skipped.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	logger := cron.PrintfLogger(r.logger)
	c := cron.New(
		cron.WithLocation(r.cfg.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	ids := make(map[Name]cron.EntryID, len(r.jobs))
	for _, name := range Names() {
		spec, ok := r.cfg.Schedules[name]
		if !ok || spec == "" {
			r.logger.WithField("job", name).Warn("job has no schedule, not registering")
			continue
		}
		name := name
		id, err := c.AddFunc(spec, func() {
			// The error is logged and recorded by Run.
			_, _ = r.Run(context.Background(), name)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", name, err)
		}
		ids[name] = id
	}

	c.Start()
	r.cron, r.ids = c, ids
	for _, entry := range r.scheduled() {
		r.logger.WithField("job", entry.Name).
			WithField("schedule", entry.Schedule).
			WithField("next", entry.Next).
			Info("job scheduled")
	}
	return nil
}

// Stop halts the cron loop. The returned context is done once running jobs
// finish.
func (r *Runner) Stop() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	ctx := r.cron.Stop()
	r.cron, r.ids = nil, nil
	return ctx
}

// Scheduled lists the registered jobs with their next run time, ordered by
// next run. It is empty before Start.
func (r *Runner) Scheduled() []ScheduledJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scheduled()
}

func (r *Runner) scheduled() []ScheduledJob {
	if r.cron == nil {
		return nil
	}
	out := make([]ScheduledJob, 0, len(r.ids))
	for name, id := range r.ids {
		entry := r.cron.Entry(id)
		out = append(out, ScheduledJob{Name: name, Schedule: r.cfg.Schedules[name], Next: entry.Next})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Next.Equal(out[j].Next) {
			return out[i].Name < out[j].Name
		}
		return out[i].Next.Before(out[j].Next)
	})
	return out
}
