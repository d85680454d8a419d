package file

import (
	"context"

	"github.com/dukex/devflow/pkg/models"
)

// ApprovalRepository stores gate resolutions alongside the run document.
type ApprovalRepository struct {
	runs *RunRepository
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(runs *RunRepository) *ApprovalRepository {
	return &ApprovalRepository{runs: runs}
}

// SaveDecision appends a decision to the run's audit trail.
func (ar *ApprovalRepository) SaveDecision(_ context.Context, decision *models.ApprovalDecision) error {
	return ar.runs.appendApproval(decision.RunID, decision)
}

// ListByRun returns all decisions recorded for a run in arrival order.
func (ar *ApprovalRepository) ListByRun(_ context.Context, runID string) ([]*models.ApprovalDecision, error) {
	return ar.runs.approvalsByRun(runID)
}
