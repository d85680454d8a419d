// Package fake provides a scripted in-memory executor for tests. Each Start
// consumes the next scripted step, which lets tests drive retries, crashes,
// and resume paths deterministically.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/dukex/devflow/pkg/protocol"
)

// Step scripts the outcome of one Start call.
type Step struct {
	// Progress messages emitted before the terminal result.
	Progress []string

	// Result is the terminal result; nil simulates a crash (the stream
	// ends without a result).
	Result *protocol.TerminalResult

	// Block, when set, makes the execution wait for ctx cancellation
	// instead of terminating; used to test cancellation.
	Block bool
}

// Executor is a scripted protocol.Executor.
type Executor struct {
	mu      sync.Mutex
	steps   []Step
	started int

	// Inputs records the PhaseInput of every Start call for assertions.
	Inputs []*protocol.PhaseInput

	// Alive controls IsAlive responses keyed by handle.
	Alive map[protocol.ExecutionHandle]bool

	// Stopped records every handle passed to Stop.
	Stopped []protocol.ExecutionHandle
}

// New creates a scripted executor. Steps are consumed in order; when the
// script is exhausted, further Start calls succeed with an empty output.
func New(steps ...Step) *Executor {
	return &Executor{
		steps: steps,
		Alive: make(map[protocol.ExecutionHandle]bool),
	}
}

// StartCount returns how many executions were started.
func (e *Executor) StartCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.started
}

func (e *Executor) Start(_ context.Context, input *protocol.PhaseInput) (protocol.Execution, error) {
	e.mu.Lock()

	step := Step{Result: &protocol.TerminalResult{Status: protocol.ResultSuccess}}
	if e.started < len(e.steps) {
		step = e.steps[e.started]
	}

	e.started++
	e.Inputs = append(e.Inputs, input)

	handle := protocol.ExecutionHandle("fake-" + input.RunID + "-" + string(input.Phase) + "-" + time.Now().Format("150405.000000000"))
	e.Alive[handle] = step.Block
	e.mu.Unlock()

	return &execution{handle: handle, step: step}, nil
}

func (e *Executor) IsAlive(_ context.Context, handle protocol.ExecutionHandle) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.Alive[handle], nil
}

func (e *Executor) Stop(_ context.Context, handle protocol.ExecutionHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Stopped = append(e.Stopped, handle)
	e.Alive[handle] = false

	return nil
}

type execution struct {
	handle protocol.ExecutionHandle
	step   Step
}

func (x *execution) Events() <-chan protocol.ProgressEvent {
	events := make(chan protocol.ProgressEvent, len(x.step.Progress))
	for _, message := range x.step.Progress {
		events <- protocol.ProgressEvent{Timestamp: time.Now().UTC(), Message: message}
	}

	// A blocked execution mimics a stuck child: its stream stays open, so
	// the caller's drain must be cancellation-aware.
	if !x.step.Block {
		close(events)
	}

	return events
}

func (x *execution) Wait(ctx context.Context) (*protocol.TerminalResult, error) {
	if x.step.Block {
		<-ctx.Done()

		return nil, ctx.Err()
	}

	if x.step.Result == nil {
		return nil, protocol.ErrCrashDetected
	}

	return x.step.Result, nil
}

func (x *execution) Handle() protocol.ExecutionHandle {
	return x.handle
}
