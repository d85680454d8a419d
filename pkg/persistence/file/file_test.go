package file

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/devflow/pkg/models"
	"github.com/dukex/devflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRun(id string) *models.Run {
	return &models.Run{
		ID:              id,
		Slug:            "add-rate-limiter",
		WorkDescription: "Add a rate limiter to the public API",
		Pipeline:        models.DefaultPipelineConfig("subprocess"),
		CurrentPhase:    models.PhaseAnalysis,
		Status:          models.RunStatusRunning,
	}
}

func TestRunRepository_SaveAndGet(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()

	run := testRun("run-save-get")
	records := []*models.PhaseRecord{
		{
			RunID:     run.ID,
			Phase:     models.PhaseAnalysis,
			Attempt:   1,
			StartedAt: time.Now().UTC(),
			Outcome:   models.PhaseOutcomeInProgress,
		},
	}

	require.NoError(t, p.Runs().Save(ctx, run, records))

	loaded, err := p.Runs().Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, loaded.ID)
	assert.Equal(t, models.PhaseAnalysis, loaded.CurrentPhase)
	assert.Equal(t, models.RunStatusRunning, loaded.Status)
	assert.False(t, loaded.CreatedAt.IsZero())

	loadedRecords, err := p.Runs().PhaseRecords(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, loadedRecords, 1)
	assert.Equal(t, models.PhaseAnalysis, loadedRecords[0].Phase)
	assert.Equal(t, 1, loadedRecords[0].Attempt)
}

func TestRunRepository_GetNotFound(t *testing.T) {
	p := NewPersistence(t.TempDir())

	_, err := p.Runs().Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestRunRepository_SaveIsIdempotent(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()

	run := testRun("run-idempotent")
	records := []*models.PhaseRecord{
		{
			RunID:     run.ID,
			Phase:     models.PhaseAnalysis,
			Attempt:   1,
			StartedAt: time.Now().UTC(),
			Outcome:   models.PhaseOutcomeSucceeded,
		},
	}

	require.NoError(t, p.Runs().Save(ctx, run, records))
	require.NoError(t, p.Runs().Save(ctx, run, records))

	loadedRecords, err := p.Runs().PhaseRecords(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, loadedRecords, 1, "repeated save must not duplicate records")
}

func TestRunRepository_PhaseRecordsOrderedByStartTime(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()

	run := testRun("run-ordering")
	base := time.Now().UTC()
	records := []*models.PhaseRecord{
		{RunID: run.ID, Phase: models.PhaseRequirements, Attempt: 1, StartedAt: base.Add(time.Minute), Outcome: models.PhaseOutcomeSucceeded},
		{RunID: run.ID, Phase: models.PhaseAnalysis, Attempt: 1, StartedAt: base, Outcome: models.PhaseOutcomeSucceeded},
	}

	require.NoError(t, p.Runs().Save(ctx, run, records))

	loaded, err := p.Runs().PhaseRecords(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, models.PhaseAnalysis, loaded[0].Phase)
	assert.Equal(t, models.PhaseRequirements, loaded[1].Phase)
}

func TestRunRepository_ListPending(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()

	running := testRun("run-running")
	running.Status = models.RunStatusRunning

	awaiting := testRun("run-awaiting")
	awaiting.Status = models.RunStatusAwaitingApproval

	completed := testRun("run-completed")
	completed.Status = models.RunStatusCompleted

	failed := testRun("run-failed")
	failed.Status = models.RunStatusFailed

	for _, run := range []*models.Run{running, awaiting, completed, failed} {
		require.NoError(t, p.Runs().Save(ctx, run, nil))
	}

	pending, err := p.Runs().ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	ids := []string{pending[0].ID, pending[1].ID}
	assert.Contains(t, ids, "run-running")
	assert.Contains(t, ids, "run-awaiting")
}

func TestRunRepository_Delete(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()

	run := testRun("run-delete")
	require.NoError(t, p.Runs().Save(ctx, run, nil))
	require.NoError(t, p.Runs().Delete(ctx, run.ID))

	_, err := p.Runs().Get(ctx, run.ID)
	assert.True(t, persistence.IsRunNotFound(err))

	// Deleting an absent run is not an error.
	require.NoError(t, p.Runs().Delete(ctx, run.ID))
}

func TestApprovalRepository_SaveAndList(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()

	run := testRun("run-approvals")
	require.NoError(t, p.Runs().Save(ctx, run, nil))

	decision := &models.ApprovalDecision{
		RunID:     run.ID,
		Phase:     models.PhasePlan,
		Decision:  models.DecisionRejected,
		Feedback:  "missing edge case X",
		DecidedAt: time.Now().UTC(),
	}

	require.NoError(t, p.Approvals().SaveDecision(ctx, decision))

	decisions, err := p.Approvals().ListByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, models.DecisionRejected, decisions[0].Decision)
	assert.Equal(t, "missing edge case X", decisions[0].Feedback)
}

func TestApprovalsSurviveRunSave(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()

	run := testRun("run-approval-survive")
	require.NoError(t, p.Runs().Save(ctx, run, nil))

	decision := &models.ApprovalDecision{
		RunID:     run.ID,
		Phase:     models.PhasePlan,
		Decision:  models.DecisionApproved,
		DecidedAt: time.Now().UTC(),
	}
	require.NoError(t, p.Approvals().SaveDecision(ctx, decision))

	// A later run save must not drop the audit trail.
	run.Status = models.RunStatusCompleted
	require.NoError(t, p.Runs().Save(ctx, run, nil))

	decisions, err := p.Approvals().ListByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, decisions, 1)
}

func TestPersistence_HealthCheck(t *testing.T) {
	dir := t.TempDir()
	p := NewPersistence(dir)

	require.NoError(t, p.HealthCheck(context.Background()))

	missing := NewPersistence(dir + "/does-not-exist")
	assert.Error(t, missing.HealthCheck(context.Background()))
}
