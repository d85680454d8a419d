package watchdog_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/devflow/pkg/models"
	"github.com/dukex/devflow/pkg/persistence/file"
	"github.com/dukex/devflow/pkg/watchdog"
)

type recordingCanceller struct {
	cancelled map[string]string
}

func (c *recordingCanceller) CancelRun(_ context.Context, runID, reason string) error {
	c.cancelled[runID] = reason

	return nil
}

func saveRun(t *testing.T, store *file.Persistence, id string, status models.RunStatus, createdAge, updatedAge time.Duration) {
	t.Helper()

	now := time.Now().UTC()
	run := &models.Run{
		ID:              id,
		Slug:            "run-" + id,
		WorkDescription: "work",
		Pipeline: models.PipelineConfig{
			Phases:       models.DefaultPhases(),
			MaxAttempts:  3,
			ExecutorType: "subprocess",
		},
		CurrentPhase: models.PhaseAnalysis,
		Status:       status,
		CreatedAt:    now.Add(-createdAge),
		UpdatedAt:    now.Add(-updatedAge),
	}
	require.NoError(t, store.Runs().Save(context.Background(), run, nil))
}

func TestSweep_CancelsOverdueRunningRuns(t *testing.T) {
	t.Parallel()

	store := file.NewPersistence(t.TempDir())

	saveRun(t, store, "overdue", models.RunStatusRunning, 3*time.Hour, 3*time.Hour)
	saveRun(t, store, "fresh", models.RunStatusRunning, time.Minute, time.Minute)
	saveRun(t, store, "waiting", models.RunStatusAwaitingApproval, 3*time.Hour, 3*time.Hour)
	saveRun(t, store, "done", models.RunStatusCompleted, 3*time.Hour, 3*time.Hour)
	// An old run that just came off its gate: the deadline restarts at the
	// approval, not at creation.
	saveRun(t, store, "just-approved", models.RunStatusRunning, 72*time.Hour, time.Minute)

	canceller := &recordingCanceller{cancelled: make(map[string]string)}
	dog, err := watchdog.New(slog.Default(), store, canceller, time.Hour, "* * * * *")
	require.NoError(t, err)

	require.NoError(t, dog.Sweep(context.Background()))

	require.Len(t, canceller.cancelled, 1)
	assert.Contains(t, canceller.cancelled["overdue"], "exceeded run deadline")
}

func TestNew_RejectsInvalidSchedule(t *testing.T) {
	t.Parallel()

	store := file.NewPersistence(t.TempDir())

	_, err := watchdog.New(slog.Default(), store, &recordingCanceller{cancelled: map[string]string{}}, time.Hour, "not-a-schedule")
	require.Error(t, err)
}
