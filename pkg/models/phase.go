// Package models defines the core domain models for durable phase orchestration.
package models

// Phase is a named, ordered stage of the delivery pipeline.
type Phase string

// Default pipeline phases. Deployments may declare a different sequence
// through PipelineConfig; nothing outside configuration refers to these
// names directly.
const (
	PhaseAnalysis     Phase = "analysis"
	PhaseRequirements Phase = "requirements"
	PhasePlan         Phase = "plan"
	PhaseImplement    Phase = "implement"
	PhaseReview       Phase = "review"
	PhaseDeploy       Phase = "deploy"
)

// DefaultPhases returns the stock phase sequence used when a deployment
// does not declare its own.
func DefaultPhases() []Phase {
	return []Phase{
		PhaseAnalysis,
		PhaseRequirements,
		PhasePlan,
		PhaseImplement,
		PhaseReview,
		PhaseDeploy,
	}
}

// PhaseOutcome is the sealed result of one attempt at one phase.
type PhaseOutcome string

const (
	PhaseOutcomeInProgress PhaseOutcome = "in_progress"
	PhaseOutcomeSucceeded  PhaseOutcome = "succeeded"
	PhaseOutcomeFailed     PhaseOutcome = "failed"
	PhaseOutcomeRejected   PhaseOutcome = "rejected"
)
