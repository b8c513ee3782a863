package reconcile

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Runner schedules reconciliation passes on a cron spec with a seconds
// field, for example "0 */15 * * * *".
type Runner struct {
	cron    *cron.Cron
	baseCtx context.Context
}

// NewRunner creates a runner whose jobs run under baseCtx.
func NewRunner(baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		baseCtx: baseCtx,
	}
}

// Schedule registers rec to run on spec.
func (r *Runner) Schedule(spec string, rec *Reconciler) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		if _, err := rec.Run(r.baseCtx); err != nil {
			slog.Error("scheduled reconcile failed", "err", err)
		}
	})
}

// Start starts the scheduler in the background.
func (r *Runner) Start() {
	slog.Info("reconcile scheduler started", "jobs", len(r.cron.Entries()))
	r.cron.Start()
}

// Stop stops the scheduler and waits for a running pass to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	slog.Info("reconcile scheduler stopped")
}
