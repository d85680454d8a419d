// Package file provides file-based persistence for runs and their phase
// history. Each run is a single JSON document written atomically, which
// gives the all-or-nothing save the orchestrator depends on.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/dukex/devflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the
// file system.
type Persistence struct {
	root         string
	runRepo      *RunRepository
	approvalRepo *ApprovalRepository
}

// NewPersistence creates a new instance of Persistence with the specified
// root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	runRepo := NewRunRepository(cleanRoot)

	return &Persistence{
		root:         cleanRoot,
		runRepo:      runRepo,
		approvalRepo: NewApprovalRepository(runRepo),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is
// nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Runs returns the run repository implementation for file persistence.
func (fp *Persistence) Runs() persistence.RunRepository {
	return fp.runRepo
}

// Approvals returns the approval repository implementation for file
// persistence.
func (fp *Persistence) Approvals() persistence.ApprovalRepository {
	return fp.approvalRepo
}
