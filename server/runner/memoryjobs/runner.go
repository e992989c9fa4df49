// Package memoryjobs owns the background side of the memory engine: the
// worker queue lifecycle and the periodic sweeps that re-detect work the
// turn-path notifications may have missed.
package memoryjobs

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/haleyard/recall/plugin/memory"
)

type Runner struct {
	svc *memory.Service
}

func NewRunner(svc *memory.Service) *Runner {
	return &Runner{svc: svc}
}

// Run starts the job workers and the sweep schedule, and blocks until ctx
// is canceled.
func (r *Runner) Run(ctx context.Context) {
	c := cron.New()
	sweep := func(name string, fn func(context.Context) error) func() {
		return func() {
			if err := fn(ctx); err != nil {
				slog.Warn("sweep failed", slog.String("sweep", name), slog.Any("err", err))
			}
		}
	}
	if _, err := c.AddFunc("@every 10m", sweep("idle-summaries", r.svc.SweepIdleSummaries)); err != nil {
		slog.Error("failed to schedule sweep", slog.Any("err", err))
	}
	if _, err := c.AddFunc("@every 30m", sweep("reactivations", r.svc.SweepReactivations)); err != nil {
		slog.Error("failed to schedule sweep", slog.Any("err", err))
	}
	if _, err := c.AddFunc("@every 1h", sweep("expired-consents", r.svc.SweepExpiredConsents)); err != nil {
		slog.Error("failed to schedule sweep", slog.Any("err", err))
	}
	c.Start()
	defer func() {
		<-c.Stop().Done()
	}()

	// Blocks until shutdown; workers drain before returning.
	r.svc.Queue().Start(ctx)
}
