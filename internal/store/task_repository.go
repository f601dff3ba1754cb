package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orchestra/pkg/models"
)

const taskExecutionColumns = `
	id, workflow_execution_id, task_name, spec_snapshot, state, input, output, error_reason,
	attempt, deadline, join_arrived, join_satisfied, join_total, join_required, join_is_all,
	child_workflow_execution_id, created_at, updated_at`

func scanTaskExecution(row interface {
	Scan(dest ...interface{}) error
}) (*models.TaskExecution, error) {
	var t models.TaskExecution
	var state string
	var input, output, errorReason, deadline, childWf sql.NullString
	var createdAt, updatedAt string
	var joinIsAll int

	err := row.Scan(
		&t.ID, &t.WorkflowExecID, &t.TaskName, &t.Spec, &state, &input, &output, &errorReason,
		&t.Attempt, &deadline, &t.JoinArrived, &t.JoinSatisfied, &t.JoinTotal, &t.JoinRequired, &joinIsAll, &childWf,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.State = models.State(state)
	t.Input = bytesFromNull(input)
	t.Output = bytesFromNull(output)
	t.ErrorReason = ptrFromNull(errorReason)
	t.ChildWorkflow = ptrFromNull(childWf)
	t.JoinIsAll = joinIsAll != 0
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if deadline.Valid {
		d, err := time.Parse(time.RFC3339, deadline.String)
		if err == nil {
			t.Deadline = &d
		}
	}
	return &t, nil
}

// CreateTaskExecution inserts a task row in t.State within tx.
func (s *Store) CreateTaskExecution(ctx context.Context, tx *Tx, t *models.TaskExecution) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	var deadline sql.NullString
	if t.Deadline != nil {
		deadline = sql.NullString{String: t.Deadline.Format(time.RFC3339), Valid: true}
	}

	joinIsAll := 0
	if t.JoinIsAll {
		joinIsAll = 1
	}

	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO task_executions
			(id, workflow_execution_id, task_name, spec_snapshot, state, input, output, error_reason,
			 attempt, deadline, join_arrived, join_satisfied, join_total, join_required, join_is_all,
			 child_workflow_execution_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.WorkflowExecID, t.TaskName, string(t.Spec), string(t.State),
		rawJSON(t.Input), rawJSON(t.Output), nullString(t.ErrorReason),
		t.Attempt, deadline, t.JoinArrived, t.JoinSatisfied, t.JoinTotal, t.JoinRequired, joinIsAll,
		nullString(t.ChildWorkflow), t.CreatedAt.Format(time.RFC3339), t.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create task execution %s: %w", t.TaskName, err)
	}
	return nil
}

// GetTaskExecutionByName looks up a workflow's task by its spec name.
func (s *Store) GetTaskExecutionByName(ctx context.Context, tx *Tx, workflowExecID, taskName string) (*models.TaskExecution, error) {
	row := tx.tx.QueryRowContext(ctx,
		"SELECT "+taskExecutionColumns+" FROM task_executions WHERE workflow_execution_id = ? AND task_name = ?",
		workflowExecID, taskName)
	return scanTaskExecution(row)
}

// GetTaskExecutionForUpdate reads a task row inside tx.
func (s *Store) GetTaskExecutionForUpdate(ctx context.Context, tx *Tx, id string) (*models.TaskExecution, error) {
	row := tx.tx.QueryRowContext(ctx, "SELECT "+taskExecutionColumns+" FROM task_executions WHERE id = ?", id)
	return scanTaskExecution(row)
}

// ListTasksForWorkflow returns every task row for a workflow execution.
func (s *Store) ListTasksForWorkflow(ctx context.Context, tx *Tx, workflowExecID string) ([]*models.TaskExecution, error) {
	rows, err := tx.tx.QueryContext(ctx,
		"SELECT "+taskExecutionColumns+" FROM task_executions WHERE workflow_execution_id = ?", workflowExecID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.TaskExecution
	for rows.Next() {
		t, err := scanTaskExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTaskExecution removes a task row and its action rows inside tx, used
// by rerun to discard a downstream task's prior execution entirely rather
// than leaving a stale terminal row behind.
func (s *Store) DeleteTaskExecution(ctx context.Context, tx *Tx, id string) error {
	if _, err := tx.tx.ExecContext(ctx, "DELETE FROM action_executions WHERE task_execution_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete actions for task execution %s: %w", id, err)
	}
	if _, err := tx.tx.ExecContext(ctx, "DELETE FROM task_executions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete task execution %s: %w", id, err)
	}
	return nil
}

// ListTasksForWorkflowReadOnly is ListTasksForWorkflow without a
// transaction, for read-only callers (the CLI's get/inspect commands) that
// have no reason to take the execution's write lock.
func (s *Store) ListTasksForWorkflowReadOnly(ctx context.Context, workflowExecID string) ([]*models.TaskExecution, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		"SELECT "+taskExecutionColumns+" FROM task_executions WHERE workflow_execution_id = ?", workflowExecID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.TaskExecution
	for rows.Next() {
		t, err := scanTaskExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTaskExecution persists the FSM's new state for t inside tx.
func (s *Store) UpdateTaskExecution(ctx context.Context, tx *Tx, t *models.TaskExecution) error {
	t.UpdatedAt = time.Now().UTC()
	var deadline sql.NullString
	if t.Deadline != nil {
		deadline = sql.NullString{String: t.Deadline.Format(time.RFC3339), Valid: true}
	}

	_, err := tx.tx.ExecContext(ctx, `
		UPDATE task_executions
		SET state = ?, input = ?, output = ?, error_reason = ?, attempt = ?, deadline = ?,
		    join_arrived = ?, join_satisfied = ?, child_workflow_execution_id = ?, updated_at = ?
		WHERE id = ?`,
		string(t.State), rawJSON(t.Input), rawJSON(t.Output), nullString(t.ErrorReason),
		t.Attempt, deadline, t.JoinArrived, t.JoinSatisfied, nullString(t.ChildWorkflow),
		t.UpdatedAt.Format(time.RFC3339), t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task execution %s: %w", t.ID, err)
	}
	return nil
}
