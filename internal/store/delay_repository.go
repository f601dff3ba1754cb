package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orchestra/pkg/models"
)

// CreateDelayedCall schedules a wait-before/wait-after/retry/timeout wakeup
// (SPEC_FULL §4.7), grounded on the teacher's TimerExecutor deadline model.
func (s *Store) CreateDelayedCall(ctx context.Context, tx *Tx, d *models.DelayedCall) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now().UTC()

	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO delayed_calls (id, kind, workflow_execution_id, task_execution_id, deadline, fired, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		d.ID, string(d.Kind), d.WorkflowExecID, nullString(d.TaskExecID),
		d.Deadline.UTC().Format(time.RFC3339), d.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule delayed call: %w", err)
	}
	return nil
}

// FindReadyDelayedCalls returns unfired calls whose deadline has passed,
// polled by the delay worker's cron loop (SPEC_FULL §4.7).
func (s *Store) FindReadyDelayedCalls(ctx context.Context, now time.Time, limit int) ([]*models.DelayedCall, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, kind, workflow_execution_id, task_execution_id, deadline, fired, created_at
		FROM delayed_calls
		WHERE fired = 0 AND deadline <= ?
		ORDER BY deadline ASC
		LIMIT ?`,
		now.UTC().Format(time.RFC3339), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DelayedCall
	for rows.Next() {
		var d models.DelayedCall
		var kind string
		var taskExecID sql.NullString
		var deadline, createdAt string
		var fired int

		if err := rows.Scan(&d.ID, &kind, &d.WorkflowExecID, &taskExecID, &deadline, &fired, &createdAt); err != nil {
			return nil, err
		}
		d.Kind = models.DelayedCallKind(kind)
		d.TaskExecID = ptrFromNull(taskExecID)
		d.Fired = fired != 0
		d.Deadline, _ = time.Parse(time.RFC3339, deadline)
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, &d)
	}
	return out, rows.Err()
}

// MarkDelayedCallFired flips a delayed call to fired so the poll loop will
// not redeliver it. Callers must still handle the case where the process
// crashes between firing and marking: FindReadyDelayedCalls will surface the
// same row again, and downstream task/workflow FSM transitions are
// idempotent (P5).
func (s *Store) MarkDelayedCallFired(ctx context.Context, id string) error {
	_, err := s.db.Conn().ExecContext(ctx, "UPDATE delayed_calls SET fired = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark delayed call %s fired: %w", id, err)
	}
	return nil
}
