package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/devflow/pkg/models"
	"github.com/dukex/devflow/pkg/persistence"
	"github.com/lib/pq"
)

// RunRepository handles run-related database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// Save upserts the run and its phase records in one transaction, so the run
// row can never disagree with its history. Upserts keep the save idempotent.
func (rr *RunRepository) Save(ctx context.Context, run *models.Run, records []*models.PhaseRecord) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}

	run.UpdatedAt = now

	pipelineJSON, err := json.Marshal(run.Pipeline)
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline: %w", err)
	}

	outputsJSON, err := json.Marshal(run.PhaseOutputs)
	if err != nil {
		return fmt.Errorf("failed to marshal phase outputs: %w", err)
	}

	retryJSON, err := json.Marshal(run.Retry)
	if err != nil {
		return fmt.Errorf("failed to marshal retry state: %w", err)
	}

	transaction, err := rr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	runQuery := `
		INSERT INTO runs (
			id, slug, work_description, pipeline, current_phase, status,
			phase_outputs, rejection_feedback, rejection_phase, retry_state,
			error_summary, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			work_description = EXCLUDED.work_description,
			pipeline = EXCLUDED.pipeline,
			current_phase = EXCLUDED.current_phase,
			status = EXCLUDED.status,
			phase_outputs = EXCLUDED.phase_outputs,
			rejection_feedback = EXCLUDED.rejection_feedback,
			rejection_phase = EXCLUDED.rejection_phase,
			retry_state = EXCLUDED.retry_state,
			error_summary = EXCLUDED.error_summary,
			updated_at = EXCLUDED.updated_at
	`

	_, err = transaction.ExecContext(ctx, runQuery,
		run.ID,
		run.Slug,
		run.WorkDescription,
		pipelineJSON,
		string(run.CurrentPhase),
		string(run.Status),
		outputsJSON,
		run.RejectionFeedback,
		string(run.RejectionPhase),
		retryJSON,
		run.ErrorSummary,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		_ = transaction.Rollback()

		return persistence.NewRunError("Save", run.ID, err)
	}

	recordQuery := `
		INSERT INTO phase_records (
			run_id, phase, attempt, started_at, ended_at, outcome,
			active_duration_ns, wait_duration_ns, wait_started_at,
			execution_handle, error_summary, feedback
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id, phase, attempt) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			outcome = EXCLUDED.outcome,
			active_duration_ns = EXCLUDED.active_duration_ns,
			wait_duration_ns = EXCLUDED.wait_duration_ns,
			wait_started_at = EXCLUDED.wait_started_at,
			execution_handle = EXCLUDED.execution_handle,
			error_summary = EXCLUDED.error_summary,
			feedback = EXCLUDED.feedback
	`

	for _, record := range records {
		_, err = transaction.ExecContext(ctx, recordQuery,
			record.RunID,
			string(record.Phase),
			record.Attempt,
			record.StartedAt,
			record.EndedAt,
			string(record.Outcome),
			record.ActiveDuration.Nanoseconds(),
			record.WaitDuration.Nanoseconds(),
			record.WaitStartedAt,
			record.ExecutionHandle,
			record.ErrorSummary,
			record.Feedback,
		)
		if err != nil {
			_ = transaction.Rollback()

			return persistence.NewRunError("Save", run.ID, err)
		}
	}

	err = transaction.Commit()
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	return nil
}

// Get retrieves a run by its ID.
func (rr *RunRepository) Get(ctx context.Context, runID string) (*models.Run, error) {
	query := `
		SELECT id, slug, work_description, pipeline, current_phase, status,
			   phase_outputs, rejection_feedback, rejection_phase, retry_state,
			   error_summary, created_at, updated_at
		FROM runs
		WHERE id = $1
	`

	run, err := rr.scanRun(rr.db.QueryRowContext(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("Get", runID, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to scan run %s: %w", runID, err)
	}

	return run, nil
}

// List returns all runs ordered by creation time.
func (rr *RunRepository) List(ctx context.Context) ([]*models.Run, error) {
	return rr.listWhere(ctx, "", nil)
}

// ListPending returns runs that need to be resumed at startup.
func (rr *RunRepository) ListPending(ctx context.Context) ([]*models.Run, error) {
	return rr.listWhere(ctx, "WHERE status = ANY($1)",
		[]any{pq.Array([]string{string(models.RunStatusRunning), string(models.RunStatusAwaitingApproval)})})
}

func (rr *RunRepository) listWhere(ctx context.Context, where string, args []any) ([]*models.Run, error) {
	query := fmt.Sprintf(`
		SELECT id, slug, work_description, pipeline, current_phase, status,
			   phase_outputs, rejection_feedback, rejection_phase, retry_state,
			   error_summary, created_at, updated_at
		FROM runs
		%s
		ORDER BY created_at ASC
	`, where)

	rows, err := rr.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			rr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var runs []*models.Run

	for rows.Next() {
		run, err := rr.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

// PhaseRecords returns the run's records ordered by start time.
func (rr *RunRepository) PhaseRecords(ctx context.Context, runID string) ([]*models.PhaseRecord, error) {
	query := `
		SELECT run_id, phase, attempt, started_at, ended_at, outcome,
			   active_duration_ns, wait_duration_ns, wait_started_at,
			   execution_handle, error_summary, feedback
		FROM phase_records
		WHERE run_id = $1
		ORDER BY started_at ASC
	`

	rows, err := rr.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query phase records: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			rr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var records []*models.PhaseRecord

	for rows.Next() {
		var (
			record           models.PhaseRecord
			phase            string
			outcome          string
			activeDurationNs int64
			waitDurationNs   int64
		)

		err = rows.Scan(
			&record.RunID,
			&phase,
			&record.Attempt,
			&record.StartedAt,
			&record.EndedAt,
			&outcome,
			&activeDurationNs,
			&waitDurationNs,
			&record.WaitStartedAt,
			&record.ExecutionHandle,
			&record.ErrorSummary,
			&record.Feedback,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan phase record: %w", err)
		}

		record.Phase = models.Phase(phase)
		record.Outcome = models.PhaseOutcome(outcome)
		record.ActiveDuration = time.Duration(activeDurationNs)
		record.WaitDuration = time.Duration(waitDurationNs)

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate phase records: %w", err)
	}

	return records, nil
}

// Delete removes a run; phase records and decisions cascade.
func (rr *RunRepository) Delete(ctx context.Context, runID string) error {
	_, err := rr.db.ExecContext(ctx, "DELETE FROM runs WHERE id = $1", runID)
	if err != nil {
		return persistence.NewRunError("Delete", runID, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (rr *RunRepository) scanRun(row rowScanner) (*models.Run, error) {
	var (
		run            models.Run
		currentPhase   string
		status         string
		rejectionPhase string
		pipelineJSON   []byte
		outputsJSON    []byte
		retryJSON      []byte
	)

	err := row.Scan(
		&run.ID,
		&run.Slug,
		&run.WorkDescription,
		&pipelineJSON,
		&currentPhase,
		&status,
		&outputsJSON,
		&run.RejectionFeedback,
		&rejectionPhase,
		&retryJSON,
		&run.ErrorSummary,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.CurrentPhase = models.Phase(currentPhase)
	run.Status = models.RunStatus(status)
	run.RejectionPhase = models.Phase(rejectionPhase)

	err = json.Unmarshal(pipelineJSON, &run.Pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal pipeline: %w", err)
	}

	if len(outputsJSON) > 0 {
		err = json.Unmarshal(outputsJSON, &run.PhaseOutputs)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal phase outputs: %w", err)
		}
	}

	if len(retryJSON) > 0 && string(retryJSON) != "null" {
		err = json.Unmarshal(retryJSON, &run.Retry)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal retry state: %w", err)
		}
	}

	return &run, nil
}
