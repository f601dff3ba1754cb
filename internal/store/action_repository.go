package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orchestra/pkg/models"
)

const actionExecutionColumns = `
	id, task_execution_id, action_name, item_index, attempt, idempotency_key, state,
	input, output, error_reason, created_at, updated_at`

func scanActionExecution(row interface {
	Scan(dest ...interface{}) error
}) (*models.ActionExecution, error) {
	var a models.ActionExecution
	var state string
	var input, output, errorReason sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&a.ID, &a.TaskExecID, &a.ActionName, &a.ItemIndex, &a.Attempt, &a.IdempotencyKey, &state,
		&input, &output, &errorReason, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.State = models.State(state)
	a.Input = bytesFromNull(input)
	a.Output = bytesFromNull(output)
	a.ErrorReason = ptrFromNull(errorReason)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}

// FindActionByIdempotencyKey returns the existing action row for key, if
// any (P5: a replayed action_done event must be a no-op).
func (s *Store) FindActionByIdempotencyKey(ctx context.Context, tx *Tx, key string) (*models.ActionExecution, error) {
	row := tx.tx.QueryRowContext(ctx,
		"SELECT "+actionExecutionColumns+" FROM action_executions WHERE idempotency_key = ?", key)
	return scanActionExecution(row)
}

// CreateActionExecution inserts a new action row. Callers must check
// FindActionByIdempotencyKey first to implement idempotent replay.
func (s *Store) CreateActionExecution(ctx context.Context, tx *Tx, a *models.ActionExecution) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO action_executions
			(id, task_execution_id, action_name, item_index, attempt, idempotency_key, state,
			 input, output, error_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TaskExecID, a.ActionName, a.ItemIndex, a.Attempt, a.IdempotencyKey, string(a.State),
		rawJSON(a.Input), rawJSON(a.Output), nullString(a.ErrorReason),
		a.CreatedAt.Format(time.RFC3339), a.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create action execution %s: %w", a.ActionName, err)
	}
	return nil
}

// UpdateActionExecution persists an action's terminal state and output.
func (s *Store) UpdateActionExecution(ctx context.Context, tx *Tx, a *models.ActionExecution) error {
	a.UpdatedAt = time.Now().UTC()
	_, err := tx.tx.ExecContext(ctx, `
		UPDATE action_executions
		SET state = ?, output = ?, error_reason = ?, updated_at = ?
		WHERE id = ?`,
		string(a.State), rawJSON(a.Output), nullString(a.ErrorReason), a.UpdatedAt.Format(time.RFC3339), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update action execution %s: %w", a.ID, err)
	}
	return nil
}

// ListActionsForTask returns every action (one per with-items element) for
// a task, ordered by item index, for aggregation (SPEC_FULL §4.4).
func (s *Store) ListActionsForTask(ctx context.Context, tx *Tx, taskExecID string) ([]*models.ActionExecution, error) {
	rows, err := tx.tx.QueryContext(ctx,
		"SELECT "+actionExecutionColumns+" FROM action_executions WHERE task_execution_id = ? ORDER BY item_index ASC",
		taskExecID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ActionExecution
	for rows.Next() {
		a, err := scanActionExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
