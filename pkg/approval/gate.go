// Package approval implements the human-in-the-loop gate resolution logic.
// Each gated phase moves through NotRequired -> Pending -> Approved or
// Rejected. Rejection feedback is scoped to one phase's next attempt and
// never leaks into the input context of a different phase.
package approval

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/dukex/devflow/pkg/models"
)

var (
	ErrNoPendingGate    = errors.New("run has no pending approval gate")
	ErrPhaseMismatch    = errors.New("decision targets a phase other than the pending one")
	ErrFeedbackRequired = errors.New("rejection requires non-empty feedback")
)

// GateState tracks where one gated phase stands.
type GateState string

const (
	GateNotRequired GateState = "not_required"
	GatePending     GateState = "pending"
	GateApproved    GateState = "approved"
	GateRejected    GateState = "rejected"
)

// Resolution tells the orchestrator what an accepted decision means for the
// run: advance past the phase, or re-enter at ReentryPhase with Feedback.
type Resolution struct {
	Decision     models.Decision
	ReentryPhase models.Phase
	Feedback     string
}

var validate = validator.New()

// StateFor reports the gate state of a phase given the run's persisted state.
func StateFor(run *models.Run, phase models.Phase) GateState {
	if _, gated := run.Pipeline.Gate(phase); !gated {
		return GateNotRequired
	}

	if run.Status == models.RunStatusAwaitingApproval && run.CurrentPhase == phase {
		return GatePending
	}

	return GateNotRequired
}

// Resolve validates a decision against the run's pending gate and returns the
// resulting resolution. It does not mutate the run; applying the resolution
// is the orchestrator's job.
func Resolve(run *models.Run, decision *models.ApprovalDecision) (*Resolution, error) {
	if err := validate.Struct(decision); err != nil {
		return nil, fmt.Errorf("invalid approval decision: %w", err)
	}

	if run.Status != models.RunStatusAwaitingApproval {
		return nil, fmt.Errorf("run %s in status %s: %w", run.ID, run.Status, ErrNoPendingGate)
	}

	if decision.Phase != run.CurrentPhase {
		return nil, fmt.Errorf("pending gate is on %s, decision names %s: %w",
			run.CurrentPhase, decision.Phase, ErrPhaseMismatch)
	}

	gate, gated := run.Pipeline.Gate(decision.Phase)
	if !gated {
		return nil, fmt.Errorf("phase %s is not gated: %w", decision.Phase, ErrNoPendingGate)
	}

	switch decision.Decision {
	case models.DecisionApproved:
		return &Resolution{Decision: models.DecisionApproved}, nil
	case models.DecisionRejected:
		if decision.Feedback == "" {
			return nil, ErrFeedbackRequired
		}

		return &Resolution{
			Decision:     models.DecisionRejected,
			ReentryPhase: gate.ReentryTarget(),
			Feedback:     decision.Feedback,
		}, nil
	default:
		return nil, fmt.Errorf("unknown decision %q", decision.Decision)
	}
}

// FeedbackFor returns the rejection feedback visible to an attempt of phase.
// Feedback recorded for one phase is never shown to another.
func FeedbackFor(run *models.Run, phase models.Phase) string {
	if run.RejectionPhase == phase {
		return run.RejectionFeedback
	}

	return ""
}

// ClearFeedback discards any pending rejection feedback. Called once the
// re-entered attempt is sealed so stale feedback cannot accumulate.
func ClearFeedback(run *models.Run) {
	run.RejectionFeedback = ""
	run.RejectionPhase = ""
}
