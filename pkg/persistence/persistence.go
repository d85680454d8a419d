// Package persistence provides the data storage abstraction for runs and
// their phase history.
package persistence

import (
	"context"

	"github.com/dukex/devflow/pkg/models"
)

// Persistence is the storage boundary of the engine. It is the only
// component allowed to touch the backing store; everything else works on the
// orchestrator's in-memory view.
type Persistence interface {
	Runs() RunRepository
	Approvals() ApprovalRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// RunRepository stores runs together with their append-only phase history.
type RunRepository interface {
	// Get returns the run and fails with ErrRunNotFound when absent.
	Get(ctx context.Context, runID string) (*models.Run, error)

	// Save atomically writes the run and its full phase history. A crash
	// mid-write never leaves a run inconsistent with its records, and
	// repeating a save with identical content yields identical stored
	// state.
	Save(ctx context.Context, run *models.Run, records []*models.PhaseRecord) error

	// PhaseRecords returns the run's records ordered by start time.
	PhaseRecords(ctx context.Context, runID string) ([]*models.PhaseRecord, error)

	// ListPending returns runs whose status is Running or AwaitingApproval,
	// consulted at process startup to resume work.
	ListPending(ctx context.Context) ([]*models.Run, error)

	// List returns all runs.
	List(ctx context.Context) ([]*models.Run, error)

	// Delete removes a run and its history. Never called by the engine
	// itself; removal is an external concern.
	Delete(ctx context.Context, runID string) error
}

// ApprovalRepository keeps the audit trail of gate resolutions.
type ApprovalRepository interface {
	SaveDecision(ctx context.Context, decision *models.ApprovalDecision) error
	ListByRun(ctx context.Context, runID string) ([]*models.ApprovalDecision, error)
}
