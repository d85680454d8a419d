package approval_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/devflow/pkg/approval"
	"github.com/dukex/devflow/pkg/models"
)

func gatedRun(t *testing.T) *models.Run {
	t.Helper()

	pipeline := models.PipelineConfig{
		Phases: []models.Phase{models.PhasePlan, models.PhaseImplement, models.PhaseReview},
		Gates: []models.GateConfig{
			{Phase: models.PhasePlan},
			{Phase: models.PhaseReview, ReentryPhase: models.PhasePlan},
		},
		MaxAttempts:  3,
		ExecutorType: "subprocess",
	}
	require.NoError(t, pipeline.Validate())

	return &models.Run{
		ID:           "run-1",
		Slug:         "add-auth",
		Pipeline:     pipeline,
		CurrentPhase: models.PhasePlan,
		Status:       models.RunStatusAwaitingApproval,
	}
}

func decision(run *models.Run, phase models.Phase, d models.Decision, feedback string) *models.ApprovalDecision {
	return &models.ApprovalDecision{
		RunID:     run.ID,
		Phase:     phase,
		Decision:  d,
		Feedback:  feedback,
		DecidedAt: time.Now().UTC(),
	}
}

func TestStateFor(t *testing.T) {
	t.Parallel()

	run := gatedRun(t)

	assert.Equal(t, approval.GatePending, approval.StateFor(run, models.PhasePlan))
	assert.Equal(t, approval.GateNotRequired, approval.StateFor(run, models.PhaseImplement))

	run.Status = models.RunStatusRunning
	assert.Equal(t, approval.GateNotRequired, approval.StateFor(run, models.PhasePlan))
}

func TestResolve_Approved(t *testing.T) {
	t.Parallel()

	run := gatedRun(t)

	resolution, err := approval.Resolve(run, decision(run, models.PhasePlan, models.DecisionApproved, ""))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApproved, resolution.Decision)
	assert.Empty(t, resolution.Feedback)
}

func TestResolve_RejectedRequiresFeedback(t *testing.T) {
	t.Parallel()

	run := gatedRun(t)

	_, err := approval.Resolve(run, decision(run, models.PhasePlan, models.DecisionRejected, ""))
	require.ErrorIs(t, err, approval.ErrFeedbackRequired)
}

func TestResolve_RejectedSamePhaseReentry(t *testing.T) {
	t.Parallel()

	run := gatedRun(t)

	resolution, err := approval.Resolve(run, decision(run, models.PhasePlan, models.DecisionRejected, "missing edge case"))
	require.NoError(t, err)
	assert.Equal(t, models.PhasePlan, resolution.ReentryPhase)
	assert.Equal(t, "missing edge case", resolution.Feedback)
}

func TestResolve_RejectedConfiguredPredecessorReentry(t *testing.T) {
	t.Parallel()

	run := gatedRun(t)
	run.CurrentPhase = models.PhaseReview

	resolution, err := approval.Resolve(run, decision(run, models.PhaseReview, models.DecisionRejected, "redo the plan"))
	require.NoError(t, err)
	assert.Equal(t, models.PhasePlan, resolution.ReentryPhase)
}

func TestResolve_NoPendingGate(t *testing.T) {
	t.Parallel()

	run := gatedRun(t)
	run.Status = models.RunStatusRunning

	_, err := approval.Resolve(run, decision(run, models.PhasePlan, models.DecisionApproved, ""))
	require.ErrorIs(t, err, approval.ErrNoPendingGate)
}

func TestResolve_PhaseMismatch(t *testing.T) {
	t.Parallel()

	run := gatedRun(t)

	_, err := approval.Resolve(run, decision(run, models.PhaseReview, models.DecisionApproved, ""))
	require.ErrorIs(t, err, approval.ErrPhaseMismatch)
}

func TestFeedbackIsolation(t *testing.T) {
	t.Parallel()

	run := gatedRun(t)
	run.RejectionFeedback = "missing edge case X"
	run.RejectionPhase = models.PhasePlan

	assert.Equal(t, "missing edge case X", approval.FeedbackFor(run, models.PhasePlan))
	assert.Empty(t, approval.FeedbackFor(run, models.PhaseImplement))

	approval.ClearFeedback(run)
	assert.Empty(t, approval.FeedbackFor(run, models.PhasePlan))
}
