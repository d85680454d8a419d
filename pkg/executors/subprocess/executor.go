// Package subprocess provides an executor that delegates phase work to an
// external command, streaming structured progress over the child's stdout.
//
// The child receives the phase input as JSON on stdin and is expected to
// emit one JSON object per stdout line: any number of
// {"type":"progress",...} lines followed by exactly one {"type":"result",...}
// line. A child that exits without a result line is treated as crashed.
package subprocess

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dukex/devflow/pkg/protocol"
)

const stopGracePeriod = 5 * time.Second

// Config configures the subprocess executor.
type Config struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	WorkDir string            `json:"workdir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Executor runs each phase as one child process.
type Executor struct {
	config Config
	logger *slog.Logger
}

// NewExecutor creates a subprocess executor from its configuration.
func NewExecutor(config Config, logger *slog.Logger) *Executor {
	return &Executor{
		config: config,
		logger: logger.With("module", "subprocess_executor"),
	}
}

// Start launches the configured command for one phase attempt.
func (e *Executor) Start(ctx context.Context, input *protocol.PhaseInput) (protocol.Execution, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal phase input: %w", err)
	}

	args := append([]string{}, e.config.Args...)
	args = append(args, string(input.Phase))

	cmd := exec.Command(e.config.Command, args...)
	cmd.Dir = e.config.WorkDir
	cmd.Stdin = strings.NewReader(string(payload))

	// Own process group so Stop can signal the child and its descendants
	// without touching the engine.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Configured variables extend the engine's environment rather than
	// replace it, so children keep PATH, HOME and friends.
	if len(e.config.Env) > 0 {
		cmd.Env = os.Environ()
		for key, value := range e.config.Env {
			cmd.Env = append(cmd.Env, key+"="+value)
		}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	err = cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", e.config.Command, err)
	}

	startTime, err := readPIDStartTime(cmd.Process.Pid)
	if err != nil {
		// Handle degrades to PID-only; liveness checks then cannot rule
		// out PID reuse.
		startTime = 0
	}

	execution := &execution{
		handle: encodeHandle(cmd.Process.Pid, startTime),
		cmd:    cmd,
		events: make(chan protocol.ProgressEvent, 64),
		done:   make(chan struct{}),
		logger: e.logger.With("run_id", input.RunID, "phase", input.Phase, "pid", cmd.Process.Pid),
	}

	go execution.consume(bufio.NewScanner(stdout))

	return execution, nil
}

// IsAlive reports whether the process behind the handle is still running.
// A recycled PID with a different start time counts as dead.
func (e *Executor) IsAlive(_ context.Context, handle protocol.ExecutionHandle) (bool, error) {
	pid, startTime, err := decodeHandle(handle)
	if err != nil {
		return false, err
	}

	if !pidAlive(pid) {
		return false, nil
	}

	if startTime == 0 {
		return true, nil
	}

	currentStart, err := readPIDStartTime(pid)
	if err != nil {
		return false, nil
	}

	return currentStart == startTime, nil
}

// Stop terminates the process group behind the handle, escalating from
// SIGTERM to SIGKILL after a grace period. Stopping a finished execution is
// a no-op.
func (e *Executor) Stop(ctx context.Context, handle protocol.ExecutionHandle) error {
	pid, _, err := decodeHandle(handle)
	if err != nil {
		return err
	}

	alive, err := e.IsAlive(ctx, handle)
	if err != nil || !alive {
		return err
	}

	// Negative PID signals the whole process group.
	err = syscall.Kill(-pid, syscall.SIGTERM)
	if err != nil {
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}

	deadline := time.After(stopGracePeriod)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			if killErr := syscall.Kill(-pid, syscall.SIGKILL); killErr != nil {
				return fmt.Errorf("failed to kill pid %d: %w", pid, killErr)
			}

			return nil
		case <-tick.C:
			if !pidAlive(pid) {
				return nil
			}
		}
	}
}

func encodeHandle(pid int, startTime uint64) protocol.ExecutionHandle {
	return protocol.ExecutionHandle(fmt.Sprintf("pid:%d:%d", pid, startTime))
}

func decodeHandle(handle protocol.ExecutionHandle) (int, uint64, error) {
	parts := strings.Split(string(handle), ":")
	if len(parts) != 3 || parts[0] != "pid" {
		return 0, 0, fmt.Errorf("malformed execution handle %q: %w", handle, protocol.ErrExecutionNotFound)
	}

	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed execution handle %q: %w", handle, protocol.ErrExecutionNotFound)
	}

	startTime, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed execution handle %q: %w", handle, protocol.ErrExecutionNotFound)
	}

	return pid, startTime, nil
}

// execution is one child-process run of a phase.
type execution struct {
	handle protocol.ExecutionHandle
	cmd    *exec.Cmd
	events chan protocol.ProgressEvent
	logger *slog.Logger

	done   chan struct{}
	result *protocol.TerminalResult
	mu     sync.Mutex
}

// streamLine is the wire format of one child stdout line.
type streamLine struct {
	Type    string         `json:"type"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Status  string         `json:"status,omitempty"`
	Output  map[string]any `json:"output,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Class   string         `json:"class,omitempty"`
}

func (x *execution) consume(scanner *bufio.Scanner) {
	defer close(x.events)
	defer close(x.done)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry streamLine

		err := json.Unmarshal([]byte(line), &entry)
		if err != nil {
			x.logger.Warn("Dropping malformed stream line", "error", err)

			continue
		}

		switch entry.Type {
		case "progress":
			x.events <- protocol.ProgressEvent{
				Timestamp: time.Now().UTC(),
				Message:   entry.Message,
				Data:      entry.Data,
			}
		case "result":
			x.setResult(&protocol.TerminalResult{
				Status: protocol.ResultStatus(entry.Status),
				Output: entry.Output,
				Reason: entry.Reason,
				Class:  protocol.FailureClass(entry.Class),
			})
		default:
			x.logger.Warn("Dropping stream line of unknown type", "type", entry.Type)
		}
	}

	waitErr := x.cmd.Wait()
	if waitErr != nil {
		x.logger.Debug("Child process exited with error", "error", waitErr)
	}
}

func (x *execution) setResult(result *protocol.TerminalResult) {
	x.mu.Lock()
	defer x.mu.Unlock()

	// The stream carries exactly one terminal result; extras are dropped.
	if x.result == nil {
		x.result = result
	}
}

func (x *execution) Events() <-chan protocol.ProgressEvent {
	return x.events
}

func (x *execution) Wait(ctx context.Context) (*protocol.TerminalResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-x.done:
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.result == nil {
		return nil, protocol.ErrCrashDetected
	}

	return x.result, nil
}

func (x *execution) Handle() protocol.ExecutionHandle {
	return x.handle
}
