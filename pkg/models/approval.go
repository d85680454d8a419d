package models

import "time"

// Decision is the outcome of an approval gate resolution.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ApprovalDecision is a human (or automated policy) response to a pending
// gate. Feedback is required for rejections and is consumed exactly once by
// the next attempt of the phase it applies to.
type ApprovalDecision struct {
	RunID     string    `json:"run_id"    validate:"required"`
	Phase     Phase     `json:"phase"     validate:"required"`
	Decision  Decision  `json:"decision"  validate:"required,oneof=approved rejected"`
	Feedback  string    `json:"feedback,omitempty"`
	DecidedBy string    `json:"decided_by,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}
