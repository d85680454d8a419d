package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/devflow/pkg/models"
)

// ApprovalRepository handles approval-decision database operations.
type ApprovalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(db *sql.DB, logger *slog.Logger) *ApprovalRepository {
	return &ApprovalRepository{db: db, logger: logger}
}

// SaveDecision appends a decision to the run's audit trail.
func (ar *ApprovalRepository) SaveDecision(ctx context.Context, decision *models.ApprovalDecision) error {
	query := `
		INSERT INTO approval_decisions (run_id, phase, decision, feedback, decided_by, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := ar.db.ExecContext(ctx, query,
		decision.RunID,
		string(decision.Phase),
		string(decision.Decision),
		decision.Feedback,
		decision.DecidedBy,
		decision.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save approval decision: %w", err)
	}

	return nil
}

// ListByRun returns all decisions recorded for a run in decision order.
func (ar *ApprovalRepository) ListByRun(ctx context.Context, runID string) ([]*models.ApprovalDecision, error) {
	query := `
		SELECT run_id, phase, decision, feedback, decided_by, decided_at
		FROM approval_decisions
		WHERE run_id = $1
		ORDER BY decided_at ASC
	`

	rows, err := ar.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query approval decisions: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			ar.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var decisions []*models.ApprovalDecision

	for rows.Next() {
		var (
			decision models.ApprovalDecision
			phase    string
			verdict  string
		)

		err = rows.Scan(&decision.RunID, &phase, &verdict, &decision.Feedback, &decision.DecidedBy, &decision.DecidedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval decision: %w", err)
		}

		decision.Phase = models.Phase(phase)
		decision.Decision = models.Decision(verdict)

		decisions = append(decisions, &decision)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate approval decisions: %w", err)
	}

	return decisions, nil
}
