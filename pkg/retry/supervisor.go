// Package retry wraps executor invocations with bounded, systematic retry.
// Each failed attempt leaves a diagnostic note that rides into the next
// attempt's input context, so a retry debugs the prior failure instead of
// blindly repeating it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/devflow/pkg/models"
	"github.com/dukex/devflow/pkg/protocol"
)

const defaultRetryDelay = 2 * time.Second

// Hooks lets the caller observe attempt boundaries without the supervisor
// knowing about persistence or timing.
type Hooks struct {
	// OnStart fires after an execution starts, with its durable handle.
	OnStart func(attempt int, handle protocol.ExecutionHandle)

	// OnProgress fires for every progress event of every attempt.
	OnProgress func(event protocol.ProgressEvent)

	// OnResult fires when an attempt reaches its terminal state; exactly one
	// of result and err is meaningful. Context cancellation also lands here
	// with the context's error.
	OnResult func(attempt int, result *protocol.TerminalResult, err error)
}

// Supervisor is the only component permitted to increment RetryState.
type Supervisor struct {
	executor protocol.Executor
	logger   *slog.Logger

	// RetryDelay is the pause before re-invoking the executor after a
	// retryable failure.
	RetryDelay time.Duration
}

func NewSupervisor(executor protocol.Executor, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		executor:   executor,
		logger:     logger.With(slog.String("module", "retry")),
		RetryDelay: defaultRetryDelay,
	}
}

// Execute runs one phase through the executor, retrying retryable failures
// until maxAttempts is spent. The retry state is mutated in place so a caller
// persisting it between attempts resumes counting rather than resetting.
//
// It returns the terminal result of the last attempt. The error is non-nil
// only for context cancellation or when the attempt budget is exhausted, in
// which case it wraps protocol.ErrRetriesExhausted and the returned result
// describes the final failure.
func (s *Supervisor) Execute(ctx context.Context, input *protocol.PhaseInput, state *models.RetryState, maxAttempts int, hooks Hooks) (*protocol.TerminalResult, error) {
	if state.Phase != input.Phase {
		*state = models.RetryState{Phase: input.Phase}
	}

	for !state.Exhausted(maxAttempts) {
		if state.Attempts > 0 {
			if err := s.pause(ctx); err != nil {
				return nil, err
			}
		}

		state.Attempts++

		result, err := s.attempt(ctx, input, state, hooks)
		if hooks.OnResult != nil {
			hooks.OnResult(state.Attempts, result, err)
		}

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}

			// Start failures and crashes consume the attempt.
			class := protocol.FailureClassTransient
			if errors.Is(err, protocol.ErrCrashDetected) {
				class = protocol.FailureClassCrash
			}

			s.noteFailure(state, string(class), err.Error())

			continue
		}

		if result.Status == protocol.ResultSuccess {
			return result, nil
		}

		class := result.Class
		if class == "" {
			class = protocol.FailureClassContent
		}

		if !class.Retryable() {
			s.logger.Error("Phase failed with non-retryable error",
				slog.String("run_id", input.RunID),
				slog.String("phase", string(input.Phase)),
				slog.String("class", string(class)))

			return result, nil
		}

		s.noteFailure(state, string(class), result.Reason)
	}

	final := &protocol.TerminalResult{
		Status: protocol.ResultFailure,
		Class:  protocol.FailureClass(state.LastErrorClass),
		Reason: fmt.Sprintf("phase %s failed after %d attempts: %s", input.Phase, state.Attempts, lastDiagnostic(state)),
	}

	return final, fmt.Errorf("phase %s: %w after %d attempts", input.Phase, protocol.ErrRetriesExhausted, state.Attempts)
}

func (s *Supervisor) attempt(ctx context.Context, input *protocol.PhaseInput, state *models.RetryState, hooks Hooks) (*protocol.TerminalResult, error) {
	attemptInput := *input
	attemptInput.Attempt = state.Attempts
	attemptInput.Diagnostics = state.Diagnostics

	s.logger.Info("Starting phase attempt",
		slog.String("run_id", input.RunID),
		slog.String("phase", string(input.Phase)),
		slog.Int("attempt", state.Attempts))

	execution, err := s.executor.Start(ctx, &attemptInput)
	if err != nil {
		return nil, fmt.Errorf("failed to start executor: %w", err)
	}

	if hooks.OnStart != nil {
		hooks.OnStart(state.Attempts, execution.Handle())
	}

	// The drain must stay responsive to cancellation: the stream only closes
	// when the child exits, and a cancelled worker is responsible for taking
	// the child down with it.
	events := execution.Events()

	for events != nil {
		select {
		case <-ctx.Done():
			if stopErr := s.executor.Stop(context.WithoutCancel(ctx), execution.Handle()); stopErr != nil {
				s.logger.Warn("Failed to stop execution after cancellation",
					slog.String("run_id", input.RunID),
					slog.String("error", stopErr.Error()))
			}

			return nil, ctx.Err()
		case event, ok := <-events:
			if !ok {
				events = nil

				continue
			}

			if hooks.OnProgress != nil {
				hooks.OnProgress(event)
			}
		}
	}

	return execution.Wait(ctx)
}

func (s *Supervisor) noteFailure(state *models.RetryState, class, reason string) {
	state.LastErrorClass = class
	state.AddDiagnostic(fmt.Sprintf("attempt %d (%s): %s", state.Attempts, class, reason))

	s.logger.Warn("Phase attempt failed",
		slog.String("phase", string(state.Phase)),
		slog.Int("attempt", state.Attempts),
		slog.String("class", class),
		slog.String("reason", reason))
}

func (s *Supervisor) pause(ctx context.Context) error {
	timer := time.NewTimer(s.RetryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func lastDiagnostic(state *models.RetryState) string {
	if len(state.Diagnostics) == 0 {
		return "no diagnostics recorded"
	}

	return state.Diagnostics[len(state.Diagnostics)-1]
}
