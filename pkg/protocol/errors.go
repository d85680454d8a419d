package protocol

import "errors"

// Standard execution error types shared by executors and the retry
// supervisor.
var (
	// ErrCrashDetected indicates the external process died without
	// producing a terminal result.
	ErrCrashDetected = errors.New("execution crashed without terminal result")

	// ErrRetriesExhausted indicates the attempt budget for a phase is
	// spent.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrExecutionNotFound indicates no execution exists for the given
	// handle.
	ErrExecutionNotFound = errors.New("execution not found")
)
