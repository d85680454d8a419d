// Package orchestrator sequences a run through its pipeline phases. The
// worker is the single-run state machine; the engine owns the fleet of
// workers, their leases, and the event bus wiring.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/devflow/pkg/approval"
	"github.com/dukex/devflow/pkg/eventbus"
	"github.com/dukex/devflow/pkg/events"
	"github.com/dukex/devflow/pkg/models"
	"github.com/dukex/devflow/pkg/otelhelper"
	"github.com/dukex/devflow/pkg/protocol"
	"github.com/dukex/devflow/pkg/retry"
	"github.com/dukex/devflow/pkg/timing"
)

const (
	persistAttempts = 3
	persistBackoff  = 250 * time.Millisecond
)

// ErrPersistenceFailed signals that state could not be written even after
// retries. The run is left in its last persisted state, which is safe to
// resume; the worker never advances past an unpersisted transition.
var ErrPersistenceFailed = errors.New("failed to persist run state")

// Worker advances exactly one run. It is not safe for concurrent use; the
// engine guarantees one worker per run via leases.
type Worker struct {
	logger    *slog.Logger
	store     persistenceAPI
	executor  protocol.Executor
	publisher eventbus.EventPublisher
	engineID  string

	run     *models.Run
	records []*models.PhaseRecord

	current  *models.PhaseRecord
	recorder *timing.Recorder

	// RetryDelay overrides the pause between retry attempts when positive.
	RetryDelay time.Duration

	// Tracer, when set, records one span per phase execution.
	Tracer trace.Tracer
}

// persistenceAPI is the slice of the storage interface the worker needs.
type persistenceAPI interface {
	Save(ctx context.Context, run *models.Run, records []*models.PhaseRecord) error
	PhaseRecords(ctx context.Context, runID string) ([]*models.PhaseRecord, error)
}

func NewWorker(logger *slog.Logger, store persistenceAPI, executor protocol.Executor, publisher eventbus.EventPublisher, engineID string, run *models.Run) *Worker {
	return &Worker{
		logger: logger.With(
			slog.String("module", "orchestrator"),
			slog.String("run_id", run.ID),
		),
		store:     store,
		executor:  executor,
		publisher: publisher,
		engineID:  engineID,
		run:       run,
	}
}

// LoadHistory pulls the run's phase records from storage. Must be called
// before advancing a run that has prior history.
func (w *Worker) LoadHistory(ctx context.Context) error {
	records, err := w.store.PhaseRecords(ctx, w.run.ID)
	if err != nil {
		return fmt.Errorf("failed to load phase records for run %s: %w", w.run.ID, err)
	}

	w.records = records

	return nil
}

// Advance drives the run forward until it suspends on a gate, reaches a
// terminal status, or the context is cancelled.
func (w *Worker) Advance(ctx context.Context) error {
	if w.run.Status == models.RunStatusPending {
		w.run.Status = models.RunStatusRunning
		if err := w.persist(ctx); err != nil {
			return err
		}
	}

	for w.run.Status == models.RunStatusRunning {
		suspended, err := w.executePhase(ctx)
		if err != nil {
			return err
		}

		if suspended {
			return nil
		}
	}

	return nil
}

// executePhase runs the current phase through the retry supervisor. It
// returns suspended=true when the run parked on an approval gate.
func (w *Worker) executePhase(ctx context.Context) (bool, error) {
	phase := w.run.CurrentPhase

	if w.Tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, w.Tracer, "orchestrator.phase",
			attribute.String(otelhelper.RunIDKey, w.run.ID),
			attribute.String(otelhelper.RunSlugKey, w.run.Slug),
			attribute.String(otelhelper.PhaseKey, string(phase)),
			attribute.String(otelhelper.ExecutorTypeKey, w.run.Pipeline.ExecutorType),
		)

		defer span.End()

		defer func() {
			if w.run.Status == models.RunStatusFailed {
				otelhelper.SetError(span, errors.New(w.run.ErrorSummary))
			}
		}()
	}

	if w.run.Retry == nil || w.run.Retry.Phase != phase {
		w.run.Retry = &models.RetryState{Phase: phase}
	}

	feedback := approval.FeedbackFor(w.run, phase)

	input := &protocol.PhaseInput{
		RunID:             w.run.ID,
		Phase:             phase,
		WorkDescription:   w.run.WorkDescription,
		PriorOutputs:      w.run.PhaseOutputs,
		RejectionFeedback: feedback,
	}

	supervisor := retry.NewSupervisor(w.executor, w.logger)
	if w.RetryDelay > 0 {
		supervisor.RetryDelay = w.RetryDelay
	}

	hooks := retry.Hooks{
		OnStart: func(_ int, handle protocol.ExecutionHandle) {
			w.beginAttempt(ctx, phase, handle, feedback)
		},
		OnProgress: func(event protocol.ProgressEvent) {
			w.logger.Debug("Phase progress",
				slog.String("phase", string(phase)),
				slog.String("message", event.Message))
		},
		OnResult: func(_ int, result *protocol.TerminalResult, err error) {
			w.endAttempt(ctx, phase, result, err)
		},
	}

	result, err := supervisor.Execute(ctx, input, w.run.Retry, w.run.Pipeline.MaxAttempts, hooks)

	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return false, err
	case err != nil && errors.Is(err, protocol.ErrRetriesExhausted):
		return false, w.failRun(ctx, phase, result.Reason)
	case err != nil:
		return false, w.failRun(ctx, phase, err.Error())
	case result.Status == protocol.ResultFailure:
		return false, w.failRun(ctx, phase, result.Reason)
	}

	// Success: feedback consumed by this phase is discarded, the retry
	// counter resets, and the output feeds later phases.
	w.run.RecordOutput(phase, result.Output)
	w.run.Retry = nil

	if w.run.RejectionPhase == phase {
		approval.ClearFeedback(w.run)
	}

	if _, gated := w.run.Pipeline.Gate(phase); gated {
		return true, w.suspendOnGate(ctx, phase)
	}

	return false, w.completePhase(ctx, phase)
}

// beginAttempt opens a fresh phase record. Each retry gets its own record so
// history stays append-only; the attempt number continues across rejection
// re-entries because records are keyed by (run, phase, attempt), even though
// the retry budget resets on re-entry.
func (w *Worker) beginAttempt(ctx context.Context, phase models.Phase, handle protocol.ExecutionHandle, feedback string) {
	attempt := w.phaseAttempts(phase) + 1

	record := &models.PhaseRecord{
		RunID:           w.run.ID,
		Phase:           phase,
		Attempt:         attempt,
		StartedAt:       time.Now().UTC(),
		Outcome:         models.PhaseOutcomeInProgress,
		ExecutionHandle: string(handle),
		Feedback:        feedback,
	}

	w.records = append(w.records, record)
	w.current = record
	w.recorder = timing.NewRecorder(record)
	w.recorder.BeginActive()

	if err := w.persist(ctx); err != nil {
		w.logger.Error("Failed to persist attempt start", slog.String("error", err.Error()))
	}

	w.publish(ctx, events.PhaseStarted{
		BaseEvent: w.baseEvent(events.PhaseStartedEvent),
		Phase:     phase,
		Attempt:   attempt,
	})
}

// endAttempt seals the record of a failed attempt. Successful attempts stay
// open until the gate (if any) resolves.
func (w *Worker) endAttempt(ctx context.Context, phase models.Phase, result *protocol.TerminalResult, err error) {
	if w.recorder != nil {
		w.recorder.EndActive()
	}

	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return
	}

	if w.current == nil {
		return
	}

	var reason string

	switch {
	case err != nil:
		reason = err.Error()
	case result.Status == protocol.ResultFailure:
		reason = result.Reason
	default:
		return
	}

	w.current.ErrorSummary = reason
	w.current.Seal(models.PhaseOutcomeFailed, time.Now().UTC())

	if persistErr := w.persist(ctx); persistErr != nil {
		w.logger.Error("Failed to persist attempt failure", slog.String("error", persistErr.Error()))
	}

	w.publish(ctx, events.PhaseFinished{
		BaseEvent: w.baseEvent(events.PhaseFinishedEvent),
		Phase:     phase,
		Attempt:   w.current.Attempt,
		Outcome:   models.PhaseOutcomeFailed,
		Duration:  w.current.TotalElapsed(),
		Error:     reason,
	})
}

func (w *Worker) suspendOnGate(ctx context.Context, phase models.Phase) error {
	w.recorder.BeginWait()
	w.run.Status = models.RunStatusAwaitingApproval

	if err := w.persist(ctx); err != nil {
		return err
	}

	w.logger.Info("Run awaiting approval", slog.String("phase", string(phase)))

	w.publish(ctx, events.ApprovalRequested{
		BaseEvent: w.baseEvent(events.ApprovalRequestedEvent),
		Phase:     phase,
	})

	return nil
}

func (w *Worker) completePhase(ctx context.Context, phase models.Phase) error {
	now := time.Now().UTC()
	w.current.Seal(models.PhaseOutcomeSucceeded, now)

	w.publish(ctx, events.PhaseFinished{
		BaseEvent: w.baseEvent(events.PhaseFinishedEvent),
		Phase:     phase,
		Attempt:   w.current.Attempt,
		Outcome:   models.PhaseOutcomeSucceeded,
		Duration:  w.current.TotalElapsed(),
	})

	next, ok := w.run.NextPhase(phase)
	if ok {
		w.run.CurrentPhase = next
	} else {
		w.run.Status = models.RunStatusCompleted
	}

	if err := w.persist(ctx); err != nil {
		return err
	}

	if w.run.Status == models.RunStatusCompleted {
		w.logger.Info("Run completed")
		w.publish(ctx, events.RunCompleted{
			BaseEvent: w.baseEvent(events.RunCompletedEvent),
			Duration:  time.Since(w.run.CreatedAt),
		})
	}

	return nil
}

func (w *Worker) failRun(ctx context.Context, phase models.Phase, reason string) error {
	w.run.Status = models.RunStatusFailed
	w.run.ErrorSummary = reason

	if err := w.persist(ctx); err != nil {
		return err
	}

	w.logger.Error("Run failed",
		slog.String("phase", string(phase)),
		slog.String("reason", reason))

	w.publish(ctx, events.RunFailed{
		BaseEvent: w.baseEvent(events.RunFailedEvent),
		Phase:     phase,
		Error:     reason,
	})

	return nil
}

// ApplyResolution consumes an approval decision for the pending gate. On
// approval the gated record seals succeeded and the run moves past the
// phase; on rejection it seals rejected and the run re-enters the gate's
// re-entry target carrying the feedback. The caller resumes Advance
// afterwards when the run returned to Running.
func (w *Worker) ApplyResolution(ctx context.Context, decision *models.ApprovalDecision) error {
	resolution, err := approval.Resolve(w.run, decision)
	if err != nil {
		return err
	}

	phase := w.run.CurrentPhase
	record := w.openRecord(phase)
	now := time.Now().UTC()

	if record != nil {
		timing.NewRecorder(record).EndWait()
	}

	if resolution.Decision == models.DecisionApproved {
		if record != nil {
			record.Seal(models.PhaseOutcomeSucceeded, now)
		}

		if w.run.RejectionPhase == phase {
			approval.ClearFeedback(w.run)
		}

		next, ok := w.run.NextPhase(phase)
		if ok {
			w.run.CurrentPhase = next
			w.run.Status = models.RunStatusRunning
		} else {
			w.run.Status = models.RunStatusCompleted
		}
	} else {
		if record != nil {
			record.Feedback = decision.Feedback
			record.Seal(models.PhaseOutcomeRejected, now)
		}

		w.run.RejectionFeedback = resolution.Feedback
		w.run.RejectionPhase = resolution.ReentryPhase
		w.run.CurrentPhase = resolution.ReentryPhase
		w.run.Status = models.RunStatusRunning
		w.run.Retry = nil
	}

	if err := w.persist(ctx); err != nil {
		return err
	}

	w.logger.Info("Approval resolved",
		slog.String("phase", string(phase)),
		slog.String("decision", string(decision.Decision)))

	if record != nil {
		w.publish(ctx, events.PhaseFinished{
			BaseEvent: w.baseEvent(events.PhaseFinishedEvent),
			Phase:     phase,
			Attempt:   record.Attempt,
			Outcome:   record.Outcome,
			Duration:  record.TotalElapsed(),
		})
	}

	if w.run.Status == models.RunStatusCompleted {
		w.publish(ctx, events.RunCompleted{
			BaseEvent: w.baseEvent(events.RunCompletedEvent),
			Duration:  time.Since(w.run.CreatedAt),
		})
	}

	return nil
}

// Cancel transitions the run to Failed with a cancellation reason and stops
// the underlying execution. Cancelling a terminal run is a no-op.
func (w *Worker) Cancel(ctx context.Context, reason string) error {
	if w.run.Status.Terminal() {
		return nil
	}

	now := time.Now().UTC()

	if record := w.openRecord(w.run.CurrentPhase); record != nil {
		if record.ExecutionHandle != "" {
			if err := w.executor.Stop(ctx, protocol.ExecutionHandle(record.ExecutionHandle)); err != nil {
				w.logger.Warn("Failed to stop execution on cancel", slog.String("error", err.Error()))
			}
		}

		recorder := timing.NewRecorder(record)
		recorder.EndWait()
		record.ErrorSummary = "cancelled"
		record.Seal(models.PhaseOutcomeFailed, now)
	}

	if reason == "" {
		reason = "cancelled by request"
	}

	w.run.Status = models.RunStatusFailed
	w.run.ErrorSummary = reason

	if err := w.persist(ctx); err != nil {
		return err
	}

	w.logger.Info("Run cancelled", slog.String("reason", reason))

	w.publish(ctx, events.RunCancelled{
		BaseEvent: w.baseEvent(events.RunCancelledEvent),
		Reason:    reason,
	})

	return nil
}

// Resume re-derives a Running run's state at startup purely from persisted
// records plus an executor liveness check. An execution that survived the
// restart cannot be re-attached (its stream is gone with the old process),
// so it is stopped and the attempt counts as crashed; time from the orphaned
// active interval is voided rather than guessed.
func (w *Worker) Resume(ctx context.Context) error {
	if w.run.Status != models.RunStatusRunning {
		return nil
	}

	record := w.openRecord(w.run.CurrentPhase)
	if record == nil {
		return nil
	}

	note := "process crashed during restart window"

	if record.ExecutionHandle != "" {
		alive, err := w.executor.IsAlive(ctx, protocol.ExecutionHandle(record.ExecutionHandle))
		if err != nil {
			w.logger.Warn("Liveness check failed, assuming crash", slog.String("error", err.Error()))
		}

		if alive {
			note = "orphaned execution stopped on resume"

			if err := w.executor.Stop(ctx, protocol.ExecutionHandle(record.ExecutionHandle)); err != nil {
				w.logger.Warn("Failed to stop orphaned execution", slog.String("error", err.Error()))
			}
		}
	}

	record.ErrorSummary = note
	record.Seal(models.PhaseOutcomeFailed, time.Now().UTC())

	// When the persisted counter is gone, re-derive the spent budget from the
	// trailing failed records; attempts before a rejection or success do not
	// count against the current cycle.
	if w.run.Retry == nil || w.run.Retry.Phase != w.run.CurrentPhase {
		w.run.Retry = &models.RetryState{Phase: w.run.CurrentPhase, Attempts: w.failedStreak(w.run.CurrentPhase)}
	}

	w.run.Retry.LastErrorClass = string(protocol.FailureClassCrash)
	w.run.Retry.AddDiagnostic(fmt.Sprintf("attempt %d (crash): %s", record.Attempt, note))

	if err := w.persist(ctx); err != nil {
		return err
	}

	w.logger.Info("Resumed run after restart",
		slog.String("phase", string(w.run.CurrentPhase)),
		slog.Int("attempts_spent", w.run.Retry.Attempts))

	if w.run.Retry.Exhausted(w.run.Pipeline.MaxAttempts) {
		return w.failRun(ctx, w.run.CurrentPhase,
			fmt.Sprintf("phase %s failed after %d attempts: %s", w.run.CurrentPhase, w.run.Retry.Attempts, note))
	}

	return nil
}

// Run returns the worker's view of the run.
func (w *Worker) Run() *models.Run {
	return w.run
}

// Records returns the worker's view of the phase history.
func (w *Worker) Records() []*models.PhaseRecord {
	return w.records
}

// phaseAttempts counts how many records exist for a phase, across retries
// and rejection re-entries.
func (w *Worker) phaseAttempts(phase models.Phase) int {
	count := 0

	for _, record := range w.records {
		if record.Phase == phase {
			count++
		}
	}

	return count
}

// failedStreak counts the consecutive failed records at the tail of a
// phase's history.
func (w *Worker) failedStreak(phase models.Phase) int {
	streak := 0

	for i := len(w.records) - 1; i >= 0; i-- {
		if w.records[i].Phase != phase {
			continue
		}

		if w.records[i].Outcome != models.PhaseOutcomeFailed {
			break
		}

		streak++
	}

	return streak
}

func (w *Worker) openRecord(phase models.Phase) *models.PhaseRecord {
	for i := len(w.records) - 1; i >= 0; i-- {
		if w.records[i].Phase == phase && !w.records[i].Sealed() {
			return w.records[i]
		}
	}

	return nil
}

// persist writes the run and its history, retrying transient storage
// failures. The orchestrator never advances past an unpersisted transition.
func (w *Worker) persist(ctx context.Context) error {
	w.run.UpdatedAt = time.Now().UTC()

	var lastErr error

	for attempt := 1; attempt <= persistAttempts; attempt++ {
		lastErr = w.store.Save(ctx, w.run, w.records)
		if lastErr == nil {
			return nil
		}

		w.logger.Warn("Persistence write failed",
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(persistBackoff * time.Duration(attempt)):
		}
	}

	return fmt.Errorf("%w: %s", ErrPersistenceFailed, lastErr.Error())
}

func (w *Worker) baseEvent(eventType events.EventType) events.BaseEvent {
	base := events.NewBaseEvent(eventType, w.run.ID)
	base.EngineID = w.engineID

	return base
}

func (w *Worker) publish(ctx context.Context, event eventbus.Event) {
	if w.publisher == nil {
		return
	}

	if err := w.publisher.Publish(ctx, w.run.ID, event); err != nil {
		w.logger.Warn("Failed to publish event",
			slog.String("event_type", string(event.GetType())),
			slog.String("error", err.Error()))
	}
}
