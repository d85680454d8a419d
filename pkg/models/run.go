package models

import "time"

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending          RunStatus = "pending"
	RunStatusRunning          RunStatus = "running"
	RunStatusAwaitingApproval RunStatus = "awaiting_approval"
	RunStatusFailed           RunStatus = "failed"
	RunStatusCompleted        RunStatus = "completed"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusFailed || s == RunStatusCompleted
}

// Run is one end-to-end execution of the phase pipeline for a unit of work.
// Exactly one phase is current at any time; only the orchestrator mutates
// Status and CurrentPhase.
type Run struct {
	ID              string         `json:"id"`
	Slug            string         `json:"slug"             validate:"required,min=3"`
	WorkDescription string         `json:"work_description" validate:"required"`
	Pipeline        PipelineConfig `json:"pipeline"         validate:"required"`
	CurrentPhase    Phase          `json:"current_phase"`
	Status          RunStatus      `json:"status"           validate:"required"`

	// PhaseOutputs holds the terminal output of each succeeded phase,
	// fed forward as input context to later phases.
	PhaseOutputs map[Phase]map[string]any `json:"phase_outputs,omitempty"`

	// RejectionFeedback carries the feedback of the most recent rejection
	// and is visible only to the next attempt of RejectionPhase. It is
	// cleared once that attempt is sealed.
	RejectionFeedback string `json:"rejection_feedback,omitempty"`
	RejectionPhase    Phase  `json:"rejection_phase,omitempty"`

	// Retry holds the automated retry counter for the current phase. It is
	// persisted so a resumed process continues counting instead of resetting.
	Retry *RetryState `json:"retry,omitempty"`

	ErrorSummary string    `json:"error_summary,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NextPhase returns the phase after p in the run's pipeline. The second
// return is false when p is the last phase.
func (r *Run) NextPhase(p Phase) (Phase, bool) {
	return r.Pipeline.After(p)
}

// RecordOutput stores the terminal output of a succeeded phase.
func (r *Run) RecordOutput(phase Phase, output map[string]any) {
	if r.PhaseOutputs == nil {
		r.PhaseOutputs = make(map[Phase]map[string]any)
	}

	r.PhaseOutputs[phase] = output
}
