package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/devflow/pkg/models"
	"github.com/dukex/devflow/pkg/persistence"
)

// runDocument is the on-disk layout: the run and its append-only history in
// one document so a single rename covers both.
type runDocument struct {
	Run          *models.Run                `json:"run"`
	PhaseRecords []*models.PhaseRecord      `json:"phase_records"`
	Approvals    []*models.ApprovalDecision `json:"approvals,omitempty"`
}

// RunRepository handles run-related file operations.
type RunRepository struct {
	root string

	// mu serializes writes per process; per-run write serialization is the
	// orchestrator's responsibility, this guards directory-level races.
	mu sync.Mutex
}

// NewRunRepository creates a new run repository.
func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

func (rr *RunRepository) runPath(runID string) string {
	return filepath.Clean(path.Join(rr.root, "runs", runID+".json"))
}

func (rr *RunRepository) readDocument(runID string) (*runDocument, error) {
	body, err := os.ReadFile(rr.runPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewRunError("Get", runID, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}

	var doc runDocument

	err = json.Unmarshal(body, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", runID, err)
	}

	return &doc, nil
}

// writeDocument writes the document to a temporary file and renames it into
// place. Rename is atomic on POSIX file systems, so a crash mid-write leaves
// the previous document intact.
func (rr *RunRepository) writeDocument(runID string, doc *runDocument) error {
	dir := path.Join(rr.root, "runs")

	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", runID, err)
	}

	tmp, err := os.CreateTemp(dir, runID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for run %s: %w", runID, err)
	}

	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to write run %s: %w", runID, err)
	}

	err = tmp.Close()
	if err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to close temp file for run %s: %w", runID, err)
	}

	err = os.Rename(tmpName, rr.runPath(runID))
	if err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to commit run %s: %w", runID, err)
	}

	return nil
}

// Get retrieves a run by its ID from the file system.
func (rr *RunRepository) Get(_ context.Context, runID string) (*models.Run, error) {
	doc, err := rr.readDocument(runID)
	if err != nil {
		return nil, err
	}

	return doc.Run, nil
}

// Save writes the run and its full phase history atomically. Approval
// decisions already stored for the run are preserved.
func (rr *RunRepository) Save(_ context.Context, run *models.Run, records []*models.PhaseRecord) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}

	run.UpdatedAt = now

	var approvals []*models.ApprovalDecision

	existing, err := rr.readDocument(run.ID)
	if err == nil {
		approvals = existing.Approvals
	} else if !persistence.IsRunNotFound(err) {
		return err
	}

	return rr.writeDocument(run.ID, &runDocument{
		Run:          run,
		PhaseRecords: records,
		Approvals:    approvals,
	})
}

// PhaseRecords returns the run's records ordered by start time.
func (rr *RunRepository) PhaseRecords(_ context.Context, runID string) ([]*models.PhaseRecord, error) {
	doc, err := rr.readDocument(runID)
	if err != nil {
		return nil, err
	}

	records := doc.PhaseRecords
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})

	return records, nil
}

// List returns all stored runs.
func (rr *RunRepository) List(ctx context.Context) ([]*models.Run, error) {
	root := os.DirFS(path.Join(rr.root, "runs"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*models.Run, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		runID := file[:len(file)-5] // Remove .json extension

		run, err := rr.Get(ctx, runID)
		if err != nil {
			if persistence.IsRunNotFound(err) {
				continue
			}

			return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
		}

		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})

	return runs, nil
}

// ListPending returns runs that need to be resumed at startup.
func (rr *RunRepository) ListPending(ctx context.Context) ([]*models.Run, error) {
	all, err := rr.List(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]*models.Run, 0)

	for _, run := range all {
		if run.Status == models.RunStatusRunning || run.Status == models.RunStatusAwaitingApproval {
			pending = append(pending, run)
		}
	}

	return pending, nil
}

// Delete removes a run and its history.
func (rr *RunRepository) Delete(_ context.Context, runID string) error {
	err := os.Remove(rr.runPath(runID))

	if err != nil && os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}

	return nil
}

// appendApproval stores a gate resolution inside the run's document.
func (rr *RunRepository) appendApproval(runID string, decision *models.ApprovalDecision) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	doc, err := rr.readDocument(runID)
	if err != nil {
		return err
	}

	doc.Approvals = append(doc.Approvals, decision)

	return rr.writeDocument(runID, doc)
}

func (rr *RunRepository) approvalsByRun(runID string) ([]*models.ApprovalDecision, error) {
	doc, err := rr.readDocument(runID)
	if err != nil {
		return nil, err
	}

	return doc.Approvals, nil
}
