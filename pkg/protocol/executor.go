// Package protocol defines the interfaces and contracts for pluggable phase
// executors.
package protocol

import (
	"context"
	"time"

	"github.com/dukex/devflow/pkg/models"
)

// ExecutionHandle durably identifies a started execution so a restarted
// engine can query its liveness. Handles must stay meaningful across engine
// restarts (e.g. encode PID plus process start time, or a vendor job ID).
type ExecutionHandle string

// ProgressEvent is one entry in an execution's progress stream.
type ProgressEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// ResultStatus is the terminal status of an execution.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
)

// FailureClass classifies a failure for retry decisions.
type FailureClass string

const (
	// FailureClassTransient marks an infrastructure hiccup; retryable as-is.
	FailureClassTransient FailureClass = "transient"
	// FailureClassContent marks a work product that failed validation;
	// retryable with refined input.
	FailureClassContent FailureClass = "content"
	// FailureClassCrash marks a process that died without a terminal
	// result; treated as a retryable failure of the attempt.
	FailureClassCrash FailureClass = "crash"
	// FailureClassFatal marks a failure no retry can fix.
	FailureClassFatal FailureClass = "fatal"
)

// Retryable reports whether a failure of this class may be retried.
func (c FailureClass) Retryable() bool {
	return c == FailureClassTransient || c == FailureClassContent || c == FailureClassCrash
}

// TerminalResult is the single terminal entry of an execution stream.
type TerminalResult struct {
	Status ResultStatus   `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Class  FailureClass   `json:"class,omitempty"`
}

// PhaseInput is the phase-scoped context handed to an executor: prior phase
// outputs, rejection feedback if any, and retry diagnostics if any. The
// orchestrator guarantees rejection feedback for one phase never appears in
// another phase's input.
type PhaseInput struct {
	RunID             string                          `json:"run_id"`
	Phase             models.Phase                    `json:"phase"`
	Attempt           int                             `json:"attempt"`
	WorkDescription   string                          `json:"work_description"`
	PriorOutputs      map[models.Phase]map[string]any `json:"prior_outputs,omitempty"`
	RejectionFeedback string                          `json:"rejection_feedback,omitempty"`
	Diagnostics       []string                        `json:"diagnostics,omitempty"`
}

// Execution is one in-flight run of a phase: a finite, non-restartable
// stream of progress events terminated by exactly one TerminalResult.
type Execution interface {
	// Events returns the progress stream. The channel is closed when the
	// execution reaches its terminal state or dies.
	Events() <-chan ProgressEvent

	// Wait blocks until the terminal result. It returns an error, not a
	// result, when the underlying process died without producing one; the
	// caller treats that as a crash of the attempt.
	Wait(ctx context.Context) (*TerminalResult, error)

	// Handle returns the durable handle of this execution.
	Handle() ExecutionHandle
}

// Executor performs a phase's work by delegating to an external long-running
// process. Implementations exist per agent vendor and are selected by
// configuration at run creation, never by conditional branching in the
// orchestrator.
type Executor interface {
	// Start begins executing a phase. The returned Execution's stream is
	// finite and not restartable; retrying requires a fresh Start.
	Start(ctx context.Context, input *PhaseInput) (Execution, error)

	// IsAlive reports whether the process behind a previously issued handle
	// is still running. Used at startup to distinguish "still running" from
	// "crashed mid-phase".
	IsAlive(ctx context.Context, handle ExecutionHandle) (bool, error)

	// Stop terminates the process behind the handle. Stopping an already
	// finished execution is a no-op.
	Stop(ctx context.Context, handle ExecutionHandle) error
}

// ExecutorFactory creates executor instances and provides metadata about the
// executor type.
type ExecutorFactory interface {
	// Create creates a new executor with the given configuration.
	Create(config map[string]any) (Executor, error)

	// ID returns the unique identifier for this executor type.
	ID() string

	// Schema returns the JSON schema for configuring this executor.
	Schema() map[string]any
}
