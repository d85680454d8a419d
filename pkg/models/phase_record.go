package models

import "time"

// PhaseRecord is the immutable audit entry for one attempt at one phase.
// A record is sealed when its outcome leaves in_progress; retries and
// rejection re-entries create new records rather than mutating old ones.
type PhaseRecord struct {
	RunID   string `json:"run_id"`
	Phase   Phase  `json:"phase"`
	Attempt int    `json:"attempt"`

	StartedAt time.Time    `json:"started_at"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
	Outcome   PhaseOutcome `json:"outcome"`

	// ActiveDuration and WaitDuration are mutually exclusive accumulations
	// of the same wall-clock interval; their sum is the phase's total
	// elapsed time once sealed.
	ActiveDuration time.Duration `json:"active_duration"`
	WaitDuration   time.Duration `json:"wait_duration"`

	// WaitStartedAt marks an open approval-wait interval. It survives
	// restarts because the suspension itself is persisted state, unlike an
	// open active interval, which is voided on resume.
	WaitStartedAt *time.Time `json:"wait_started_at,omitempty"`

	// ExecutionHandle is the durable handle of the executor run backing
	// this attempt, used for liveness checks at startup.
	ExecutionHandle string `json:"execution_handle,omitempty"`

	ErrorSummary string `json:"error_summary,omitempty"`
	Feedback     string `json:"feedback,omitempty"`
}

// Sealed reports whether the record's outcome is fixed.
func (pr *PhaseRecord) Sealed() bool {
	return pr.Outcome != PhaseOutcomeInProgress
}

// Seal fixes the record's outcome and end time.
func (pr *PhaseRecord) Seal(outcome PhaseOutcome, at time.Time) {
	if pr.Sealed() {
		return
	}

	pr.Outcome = outcome
	pr.EndedAt = &at
}

// TotalElapsed is the sum of the attributed intervals.
func (pr *PhaseRecord) TotalElapsed() time.Duration {
	return pr.ActiveDuration + pr.WaitDuration
}
