package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/apexfin/invoiceflow/internal/application/port"
	"github.com/apexfin/invoiceflow/internal/infrastructure/persistence/sqlite"
)

// WorkflowRunRepository persists workflow runs and step checkpoints. When the
// context carries a transaction, SaveCheckpoint writes inside it, which is
// what makes a transaction step's writes and its checkpoint atomic.
type WorkflowRunRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowRunRepository creates a new workflow run repository
func NewWorkflowRunRepository(db *sql.DB, logger *zap.Logger) *WorkflowRunRepository {
	return &WorkflowRunRepository{db: db, logger: logger}
}

// GetRun returns the run or nil when the id is unknown.
func (r *WorkflowRunRepository) GetRun(ctx context.Context, runID string) (*port.WorkflowRun, error) {
	query := `SELECT run_id, name, status, output, last_error, created_at, updated_at FROM workflow_runs WHERE run_id = ?`

	var (
		run       port.WorkflowRun
		output    sql.NullString
		lastError sql.NullString
	)
	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, runID).Scan(
		&run.RunID, &run.Name, &run.Status, &output, &lastError, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to get workflow run", zap.String("run_id", runID), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow run: %w", err)
	}

	if output.Valid {
		run.Output = []byte(output.String)
	}
	if lastError.Valid {
		run.LastError = lastError.String
	}
	return &run, nil
}

// CreateRun inserts a run in status running. A second insert for the same id
// is a no-op so concurrent submissions of the same workflow id converge on
// one run.
func (r *WorkflowRunRepository) CreateRun(ctx context.Context, runID, name string) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO workflow_runs (run_id, name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`
	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		runID, name, port.RunStatusRunning, now, now)
	if err != nil {
		r.logger.Error("failed to create workflow run", zap.String("run_id", runID), zap.Error(err))
		return fmt.Errorf("failed to create workflow run: %w", err)
	}
	return nil
}

// CompleteRun stores the final output and marks the run completed.
func (r *WorkflowRunRepository) CompleteRun(ctx context.Context, runID string, output []byte) error {
	query := `UPDATE workflow_runs SET status = ?, output = ?, last_error = '', updated_at = ? WHERE run_id = ?`
	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		port.RunStatusCompleted, string(output), time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to complete workflow run: %w", err)
	}
	return nil
}

// FailRun marks the run failed with its last error. Checkpoints are kept so a
// resubmission resumes after the last completed step.
func (r *WorkflowRunRepository) FailRun(ctx context.Context, runID string, lastError string) error {
	query := `UPDATE workflow_runs SET status = ?, last_error = ?, updated_at = ? WHERE run_id = ?`
	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		port.RunStatusFailed, lastError, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to mark workflow run failed: %w", err)
	}
	return nil
}

// GetCheckpoint returns the stored result for (runID, stepName), or nil if
// the step has not completed.
func (r *WorkflowRunRepository) GetCheckpoint(ctx context.Context, runID, stepName string) ([]byte, error) {
	query := `SELECT result FROM workflow_checkpoints WHERE run_id = ? AND step_name = ?`

	var result string
	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, runID, stepName).Scan(&result)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return []byte(result), nil
}

// SaveCheckpoint records a completed step's result.
func (r *WorkflowRunRepository) SaveCheckpoint(ctx context.Context, runID, stepName string, result []byte) error {
	query := `INSERT INTO workflow_checkpoints (run_id, step_name, result, completed_at) VALUES (?, ?, ?, ?)`
	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		runID, stepName, string(result), time.Now().UTC())
	if err != nil {
		r.logger.Error("failed to save checkpoint",
			zap.String("run_id", runID),
			zap.String("step", stepName),
			zap.Error(err))
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

var _ port.WorkflowRunRepository = (*WorkflowRunRepository)(nil)
