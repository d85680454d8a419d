package orchestrator

import (
	"time"

	"github.com/dukex/devflow/pkg/models"
)

// PhaseTiming is the per-attempt timing breakdown exposed by GetRunStatus.
type PhaseTiming struct {
	Phase          models.Phase        `json:"phase"`
	Attempt        int                 `json:"attempt"`
	Outcome        models.PhaseOutcome `json:"outcome"`
	StartedAt      time.Time           `json:"started_at"`
	EndedAt        *time.Time          `json:"ended_at,omitempty"`
	ActiveDuration time.Duration       `json:"active_duration"`
	WaitDuration   time.Duration       `json:"wait_duration"`
	ErrorSummary   string              `json:"error_summary,omitempty"`
	Feedback       string              `json:"feedback,omitempty"`
}

// RunStatusView is the read model served to the CLI and web layers. It always
// reflects the last successfully persisted state.
type RunStatusView struct {
	RunID     string           `json:"run_id"`
	Slug      string           `json:"slug"`
	Phase     models.Phase     `json:"phase"`
	Status    models.RunStatus `json:"status"`
	Timings   []PhaseTiming    `json:"timings"`
	LastError string           `json:"last_error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func NewRunStatusView(run *models.Run, records []*models.PhaseRecord) *RunStatusView {
	timings := make([]PhaseTiming, 0, len(records))
	for _, record := range records {
		timings = append(timings, PhaseTiming{
			Phase:          record.Phase,
			Attempt:        record.Attempt,
			Outcome:        record.Outcome,
			StartedAt:      record.StartedAt,
			EndedAt:        record.EndedAt,
			ActiveDuration: record.ActiveDuration,
			WaitDuration:   record.WaitDuration,
			ErrorSummary:   record.ErrorSummary,
			Feedback:       record.Feedback,
		})
	}

	return &RunStatusView{
		RunID:     run.ID,
		Slug:      run.Slug,
		Phase:     run.CurrentPhase,
		Status:    run.Status,
		Timings:   timings,
		LastError: run.ErrorSummary,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}
}
