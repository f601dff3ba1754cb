package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orchestra/pkg/models"
)

// CreateWorkflowExecution inserts a new execution row in we.State, first
// assigning we.ID a generated UUID when it is empty.
func (s *Store) CreateWorkflowExecution(ctx context.Context, we *models.WorkflowExecution) error {
	if we.ID == "" {
		we.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	we.CreatedAt, we.UpdatedAt = now, now

	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO workflow_executions
			(id, spec_name, spec_namespace, spec_version, state, input, context, output,
			 error_reason, parent_execution, parent_task_id, project_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		we.ID, we.SpecName, we.SpecNamespace, we.SpecVersion, string(we.State),
		rawJSON(we.Input), rawJSON(we.Context), rawJSON(we.Output), nullString(we.ErrorReason),
		nullString(we.ParentExecution), nullString(we.ParentTaskID), we.ProjectID,
		we.CreatedAt.Format(time.RFC3339), we.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow execution: %w", err)
	}
	return nil
}

func scanWorkflowExecution(row interface {
	Scan(dest ...interface{}) error
}) (*models.WorkflowExecution, error) {
	var we models.WorkflowExecution
	var state string
	var input, context_, output, errorReason, parentExec, parentTask sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&we.ID, &we.SpecName, &we.SpecNamespace, &we.SpecVersion, &state,
		&input, &context_, &output, &errorReason, &parentExec, &parentTask, &we.ProjectID,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	we.State = models.State(state)
	we.Input = bytesFromNull(input)
	we.Context = bytesFromNull(context_)
	we.Output = bytesFromNull(output)
	we.ErrorReason = ptrFromNull(errorReason)
	we.ParentExecution = ptrFromNull(parentExec)
	we.ParentTaskID = ptrFromNull(parentTask)
	we.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	we.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &we, nil
}

const workflowExecutionColumns = `
	id, spec_name, spec_namespace, spec_version, state, input, context, output,
	error_reason, parent_execution, parent_task_id, project_id, created_at, updated_at`

// GetWorkflowExecution reads an execution outside any transaction.
func (s *Store) GetWorkflowExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		"SELECT "+workflowExecutionColumns+" FROM workflow_executions WHERE id = ?", id)
	return scanWorkflowExecution(row)
}

// GetWorkflowExecutionForUpdate reads an execution inside tx (SPEC_FULL
// §4.6's "get-for-update" step). The read itself takes no write lock;
// callers hold the execution's ExecutionLocks entry for exclusivity.
func (s *Store) GetWorkflowExecutionForUpdate(ctx context.Context, tx *Tx, id string) (*models.WorkflowExecution, error) {
	row := tx.tx.QueryRowContext(ctx,
		"SELECT "+workflowExecutionColumns+" FROM workflow_executions WHERE id = ?", id)
	return scanWorkflowExecution(row)
}

// UpdateWorkflowExecution persists the FSM's new state for we inside tx.
func (s *Store) UpdateWorkflowExecution(ctx context.Context, tx *Tx, we *models.WorkflowExecution) error {
	we.UpdatedAt = time.Now().UTC()
	_, err := tx.tx.ExecContext(ctx, `
		UPDATE workflow_executions
		SET state = ?, input = ?, context = ?, output = ?, error_reason = ?, updated_at = ?
		WHERE id = ?`,
		string(we.State), rawJSON(we.Input), rawJSON(we.Context), rawJSON(we.Output),
		nullString(we.ErrorReason), we.UpdatedAt.Format(time.RFC3339), we.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow execution %s: %w", we.ID, err)
	}
	return nil
}

// ListChildren returns every sub-workflow execution spawned by a
// workflow-reference task within parentExecutionID.
func (s *Store) ListChildren(ctx context.Context, parentExecutionID string) ([]*models.WorkflowExecution, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		"SELECT "+workflowExecutionColumns+" FROM workflow_executions WHERE parent_execution = ?", parentExecutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.WorkflowExecution
	for rows.Next() {
		we, err := scanWorkflowExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, we)
	}
	return out, rows.Err()
}

// ListPendingExecutions returns non-terminal executions, used by the
// dispatcher's startup recovery sweep (mirrors the teacher's
// PendingRunProvider).
func (s *Store) ListPendingExecutions(ctx context.Context, limit int64) ([]*models.WorkflowExecution, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		"SELECT "+workflowExecutionColumns+` FROM workflow_executions
		 WHERE state NOT IN (?, ?) ORDER BY created_at ASC LIMIT ?`,
		string(models.StateSuccess), string(models.StateError), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.WorkflowExecution
	for rows.Next() {
		we, err := scanWorkflowExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, we)
	}
	return out, rows.Err()
}
