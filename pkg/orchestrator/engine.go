package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/devflow/pkg/eventbus"
	"github.com/dukex/devflow/pkg/events"
	"github.com/dukex/devflow/pkg/lease"
	"github.com/dukex/devflow/pkg/models"
	"github.com/dukex/devflow/pkg/persistence"
	"github.com/dukex/devflow/pkg/protocol"
	"github.com/dukex/devflow/pkg/registry"
)

const defaultLeaseTTL = 5 * time.Minute

var ErrRunBusy = errors.New("run is owned by another worker")

// Engine owns the fleet of run workers. It is the only entry point the CLI,
// web, and bus layers may call; each run advances under an exclusive lease so
// no two workers touch the same run concurrently.
type Engine struct {
	logger   *slog.Logger
	store    persistence.Persistence
	registry *registry.Registry
	leases   lease.Store
	bus      eventbus.EventBus
	engineID string
	leaseTTL time.Duration
	validate *validator.Validate

	// RetryDelay is forwarded to workers; zero keeps the supervisor default.
	RetryDelay time.Duration

	// Tracer, when set, is forwarded to workers for per-phase spans.
	Tracer trace.Tracer

	mu      sync.Mutex
	active  map[string]*activeWorker
	wg      sync.WaitGroup
	rootCtx context.Context
	cancel  context.CancelFunc
}

type activeWorker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine wires the engine. The bus may be nil for embedded use; lifecycle
// events are then skipped.
func NewEngine(logger *slog.Logger, store persistence.Persistence, reg *registry.Registry, leases lease.Store, bus eventbus.EventBus, engineID string) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		logger:   logger.With(slog.String("module", "engine"), slog.String("engine_id", engineID)),
		store:    store,
		registry: reg,
		leases:   leases,
		bus:      bus,
		engineID: engineID,
		leaseTTL: defaultLeaseTTL,
		validate: validator.New(),
		active:   make(map[string]*activeWorker),
		rootCtx:  ctx,
		cancel:   cancel,
	}
}

// CreateRun accepts a unit of work, persists the new run, and starts
// advancing it in the background.
func (e *Engine) CreateRun(ctx context.Context, slug, workDescription string, pipeline models.PipelineConfig) (*models.Run, error) {
	if err := pipeline.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}

	now := time.Now().UTC()

	run := &models.Run{
		ID:              uuid.New().String(),
		Slug:            slug,
		WorkDescription: workDescription,
		Pipeline:        pipeline,
		CurrentPhase:    pipeline.First(),
		Status:          models.RunStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := e.validate.Struct(run); err != nil {
		return nil, fmt.Errorf("invalid run: %w", err)
	}

	if err := e.store.Runs().Save(ctx, run, nil); err != nil {
		return nil, fmt.Errorf("failed to persist new run: %w", err)
	}

	e.logger.Info("Run created",
		slog.String("run_id", run.ID),
		slog.String("slug", run.Slug))

	e.startWorker(run.ID, false)

	return run, nil
}

// ResolveApproval consumes a human decision for a run's pending gate, then
// resumes the run in the background if it returned to Running.
func (e *Engine) ResolveApproval(ctx context.Context, decision *models.ApprovalDecision) error {
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = time.Now().UTC()
	}

	// A run being actively advanced has no pending gate to resolve, and
	// writing to it here would race its worker.
	e.mu.Lock()
	_, running := e.active[decision.RunID]
	e.mu.Unlock()

	if running {
		return fmt.Errorf("run %s: %w", decision.RunID, ErrRunBusy)
	}

	release, err := e.acquire(ctx, decision.RunID)
	if err != nil {
		return err
	}
	defer release()

	worker, err := e.loadWorker(ctx, decision.RunID)
	if err != nil {
		return err
	}

	if err := worker.ApplyResolution(ctx, decision); err != nil {
		return err
	}

	if err := e.store.Approvals().SaveDecision(ctx, decision); err != nil {
		e.logger.Warn("Failed to record approval decision",
			slog.String("run_id", decision.RunID),
			slog.String("error", err.Error()))
	}

	if worker.Run().Status == models.RunStatusRunning {
		// Hand the lease over before the worker goroutine re-acquires it,
		// otherwise the deferred release would run after the worker's
		// acquisition.
		release()
		e.startWorker(decision.RunID, false)
	}

	return nil
}

// CancelRun transitions a run to Failed with a cancellation reason and stops
// its execution. Cancelling an already terminal run is a no-op.
func (e *Engine) CancelRun(ctx context.Context, runID, reason string) error {
	// Stop the in-flight worker goroutine first so it cannot race the
	// cancellation write.
	e.mu.Lock()
	inFlight, running := e.active[runID]
	e.mu.Unlock()

	if running {
		inFlight.cancel()
		<-inFlight.done
	}

	release, err := e.acquire(ctx, runID)
	if err != nil {
		return err
	}
	defer release()

	worker, err := e.loadWorker(ctx, runID)
	if err != nil {
		return err
	}

	return worker.Cancel(ctx, reason)
}

// GetRunStatus reflects the last successfully persisted state of a run.
func (e *Engine) GetRunStatus(ctx context.Context, runID string) (*RunStatusView, error) {
	run, err := e.store.Runs().Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	records, err := e.store.Runs().PhaseRecords(ctx, runID)
	if err != nil {
		return nil, err
	}

	return NewRunStatusView(run, records), nil
}

// ListRuns returns all runs for status listings.
func (e *Engine) ListRuns(ctx context.Context) ([]*models.Run, error) {
	return e.store.Runs().List(ctx)
}

// Resume restarts work on every non-terminal run found in storage. Runs
// awaiting approval stay suspended; running runs are re-derived from their
// persisted records plus executor liveness checks.
func (e *Engine) Resume(ctx context.Context) error {
	pending, err := e.store.Runs().ListPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending runs: %w", err)
	}

	for _, run := range pending {
		if run.Status == models.RunStatusAwaitingApproval {
			e.logger.Info("Run still awaiting approval",
				slog.String("run_id", run.ID),
				slog.String("phase", string(run.CurrentPhase)))

			continue
		}

		e.logger.Info("Resuming run", slog.String("run_id", run.ID))
		e.startWorker(run.ID, true)
	}

	return nil
}

// RegisterHandlers subscribes the engine to the command events published by
// the API layer.
func (e *Engine) RegisterHandlers() error {
	if e.bus == nil {
		return nil
	}

	if err := e.bus.Handle(events.RunCreatedEvent, func(ctx context.Context, event any) error {
		created, ok := event.(*events.RunCreated)
		if !ok {
			return errors.New("unexpected event payload for run.created")
		}

		e.startWorker(created.RunID, false)

		return nil
	}); err != nil {
		return err
	}

	if err := e.bus.Handle(events.ApprovalResolvedEvent, func(ctx context.Context, event any) error {
		resolved, ok := event.(*events.ApprovalResolved)
		if !ok {
			return errors.New("unexpected event payload for run.approval.resolved")
		}

		return e.ResolveApproval(ctx, &models.ApprovalDecision{
			RunID:     resolved.RunID,
			Phase:     resolved.Phase,
			Decision:  resolved.Decision,
			Feedback:  resolved.Feedback,
			DecidedBy: resolved.DecidedBy,
			DecidedAt: resolved.Timestamp,
		})
	}); err != nil {
		return err
	}

	return e.bus.Handle(events.RunCancellationRequestedEvent, func(ctx context.Context, event any) error {
		requested, ok := event.(*events.RunCancellationRequested)
		if !ok {
			return errors.New("unexpected event payload for run.cancellation.requested")
		}

		return e.CancelRun(ctx, requested.RunID, requested.Reason)
	})
}

// Stop cancels all workers and waits for them to settle.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}

// startWorker advances a run in the background under its lease. Duplicate
// starts for a run already being advanced are dropped.
func (e *Engine) startWorker(runID string, resume bool) {
	e.mu.Lock()

	if _, running := e.active[runID]; running {
		e.mu.Unlock()

		return
	}

	ctx, cancelWorker := context.WithCancel(e.rootCtx)
	entry := &activeWorker{cancel: cancelWorker, done: make(chan struct{})}
	e.active[runID] = entry

	e.mu.Unlock()

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		defer func() {
			cancelWorker()
			e.mu.Lock()
			delete(e.active, runID)
			e.mu.Unlock()
			close(entry.done)
		}()

		if err := e.advanceRun(ctx, runID, resume); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("Worker stopped with error",
				slog.String("run_id", runID),
				slog.String("error", err.Error()))
		}
	}()
}

func (e *Engine) advanceRun(ctx context.Context, runID string, resume bool) error {
	release, err := e.acquire(ctx, runID)
	if err != nil {
		return err
	}
	defer release()

	worker, err := e.loadWorker(ctx, runID)
	if err != nil {
		return err
	}

	if worker.Run().Status.Terminal() {
		return nil
	}

	if resume {
		if err := worker.Resume(ctx); err != nil {
			return err
		}

		if worker.Run().Status.Terminal() {
			return nil
		}
	}

	return worker.Advance(ctx)
}

// loadWorker builds a worker over the run's persisted state.
func (e *Engine) loadWorker(ctx context.Context, runID string) (*Worker, error) {
	run, err := e.store.Runs().Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	executor, err := e.executorFor(run)
	if err != nil {
		return nil, err
	}

	worker := NewWorker(e.logger, e.store.Runs(), executor, e.bus, e.engineID, run)
	worker.RetryDelay = e.RetryDelay
	worker.Tracer = e.Tracer

	if err := worker.LoadHistory(ctx); err != nil {
		return nil, err
	}

	return worker, nil
}

func (e *Engine) executorFor(run *models.Run) (protocol.Executor, error) {
	executor, err := e.registry.CreateExecutor(run.Pipeline.ExecutorType, run.Pipeline.ExecutorConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor for run %s: %w", run.ID, err)
	}

	return executor, nil
}

// acquire takes the run's lease under a per-acquisition owner token, so two
// code paths of the same engine exclude each other just like two engines do,
// and a stale release can never delete a successor's lease. The returned
// release is idempotent.
func (e *Engine) acquire(ctx context.Context, runID string) (func(), error) {
	owner := e.engineID + "-" + uuid.New().String()[:8]

	if err := e.leases.Acquire(ctx, runID, owner, e.leaseTTL); err != nil {
		if errors.Is(err, lease.ErrLeaseHeld) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrRunBusy)
		}

		return nil, err
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			if err := e.leases.Release(context.WithoutCancel(ctx), runID, owner); err != nil {
				e.logger.Warn("Failed to release lease",
					slog.String("run_id", runID),
					slog.String("error", err.Error()))
			}
		})
	}, nil
}
