// Package watchdog imposes wall-clock deadlines from outside the engine.
// Phases have no implicit timeout of their own; the watchdog periodically
// sweeps non-terminal runs and issues a cancel for any that outlived the
// configured deadline.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukex/devflow/pkg/models"
	"github.com/dukex/devflow/pkg/persistence"
)

// Canceller is the slice of the engine the watchdog needs.
type Canceller interface {
	CancelRun(ctx context.Context, runID, reason string) error
}

type Watchdog struct {
	logger    *slog.Logger
	store     persistence.Persistence
	canceller Canceller
	deadline  time.Duration
	schedule  string
	cron      *cron.Cron
}

// New creates a watchdog that cancels runs whose last state transition is
// older than deadline. The sweep schedule is a standard cron expression.
func New(logger *slog.Logger, store persistence.Persistence, canceller Canceller, deadline time.Duration, schedule string) (*Watchdog, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid watchdog schedule %q: %w", schedule, err)
	}

	return &Watchdog{
		logger:    logger.With(slog.String("module", "watchdog")),
		store:     store,
		canceller: canceller,
		deadline:  deadline,
		schedule:  schedule,
	}, nil
}

func (w *Watchdog) Start(ctx context.Context) error {
	w.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := w.cron.AddFunc(w.schedule, func() {
		if err := w.Sweep(ctx); err != nil {
			w.logger.Error("Sweep failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule watchdog sweep: %w", err)
	}

	w.cron.Start()
	w.logger.Info("Watchdog started",
		slog.String("schedule", w.schedule),
		slog.Duration("deadline", w.deadline))

	return nil
}

func (w *Watchdog) Stop() {
	if w.cron != nil {
		w.cron.Stop()
	}
}

// Sweep cancels every non-terminal run older than the deadline.
func (w *Watchdog) Sweep(ctx context.Context) error {
	pending, err := w.store.Runs().ListPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending runs: %w", err)
	}

	cutoff := time.Now().UTC().Add(-w.deadline)

	for _, run := range pending {
		// Measure from the last transition, not creation, so time spent
		// parked on a gate does not count against the deadline once the run
		// resumes.
		if run.UpdatedAt.After(cutoff) {
			continue
		}

		// Runs parked on a gate are waiting on a human, not stuck.
		if run.Status == models.RunStatusAwaitingApproval {
			continue
		}

		w.logger.Warn("Run exceeded deadline, cancelling",
			slog.String("run_id", run.ID),
			slog.Time("updated_at", run.UpdatedAt))

		reason := fmt.Sprintf("exceeded run deadline of %s", w.deadline)
		if err := w.canceller.CancelRun(ctx, run.ID, reason); err != nil {
			w.logger.Error("Failed to cancel overdue run",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()))
		}
	}

	return nil
}
