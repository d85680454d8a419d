package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseRecord_Seal(t *testing.T) {
	record := &PhaseRecord{
		RunID:     "run-1",
		Phase:     PhasePlan,
		Attempt:   1,
		StartedAt: time.Now().UTC(),
		Outcome:   PhaseOutcomeInProgress,
	}

	assert.False(t, record.Sealed())

	end := record.StartedAt.Add(5 * time.Second)
	record.Seal(PhaseOutcomeSucceeded, end)

	require.True(t, record.Sealed())
	assert.Equal(t, PhaseOutcomeSucceeded, record.Outcome)
	require.NotNil(t, record.EndedAt)
	assert.Equal(t, end, *record.EndedAt)

	// Sealed records are immutable: a second seal is a no-op.
	record.Seal(PhaseOutcomeFailed, end.Add(time.Minute))
	assert.Equal(t, PhaseOutcomeSucceeded, record.Outcome)
	assert.Equal(t, end, *record.EndedAt)
}

func TestPhaseRecord_TotalElapsed(t *testing.T) {
	record := &PhaseRecord{
		ActiveDuration: 3 * time.Second,
		WaitDuration:   7 * time.Second,
	}

	assert.Equal(t, 10*time.Second, record.TotalElapsed())
}

func TestRunStatus_Terminal(t *testing.T) {
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
	assert.False(t, RunStatusPending.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
	assert.False(t, RunStatusAwaitingApproval.Terminal())
}

func TestRun_RecordOutput(t *testing.T) {
	run := &Run{ID: "run-1"}

	run.RecordOutput(PhaseAnalysis, map[string]any{"summary": "ok"})

	require.Contains(t, run.PhaseOutputs, PhaseAnalysis)
	assert.Equal(t, "ok", run.PhaseOutputs[PhaseAnalysis]["summary"])
}

func TestRetryState_Exhausted(t *testing.T) {
	state := &RetryState{Phase: PhaseImplement}

	assert.False(t, state.Exhausted(3))

	state.Attempts = 3
	assert.True(t, state.Exhausted(3))
}

func TestRetryState_AddDiagnostic(t *testing.T) {
	state := &RetryState{Phase: PhaseImplement}

	state.AddDiagnostic("compile failed: missing import")
	state.AddDiagnostic("")

	require.Len(t, state.Diagnostics, 1)
	assert.Equal(t, "compile failed: missing import", state.Diagnostics[0])
}
