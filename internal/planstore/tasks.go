package planstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Task is a unit of work within a plan, optionally nested under a parent
// task (§3 Task).
type Task struct {
	ID            string
	PlanID        string
	ParentTaskID  *string
	Description   string
	AssignedAgent *string
	Status        TaskStatus
	Priority      int
	CreatedAt     int64
	StartedAt     *int64
	CompletedAt   *int64
	Output        *string
	Error         *string
	RetryCount    int
}

// AddTask inserts a task under planID, optionally nested under parentTaskID.
// Depth is bounded at maxTaskDepth (§9 open question resolution) to prevent
// an unbounded parent chain.
func (s *Store) AddTask(ctx context.Context, planID string, parentTaskID *string, description string, priority int) (Task, error) {
	if parentTaskID != nil {
		depth, err := s.taskDepth(ctx, *parentTaskID)
		if err != nil {
			return Task{}, err
		}
		if depth+1 >= maxTaskDepth {
			return Task{}, ErrMaxDepthExceeded
		}
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, plan_id, parent_task_id, description, priority, status)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		id, planID, parentTaskID, description, priority, TaskPending,
	)
	if err != nil {
		return Task{}, fmt.Errorf("planstore: add task: %w", err)
	}
	return s.GetTask(ctx, id)
}

// taskDepth returns the number of ancestors above taskID (0 for a root
// task).
func (s *Store) taskDepth(ctx context.Context, taskID string) (int, error) {
	depth := 0
	current := taskID
	for {
		var parent sql.NullString
		err := s.db.QueryRowContext(ctx, `SELECT parent_task_id FROM tasks WHERE id = ?`, current).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("planstore: task depth: %w", err)
		}
		if !parent.Valid {
			return depth, nil
		}
		depth++
		if depth >= maxTaskDepth {
			return depth, ErrMaxDepthExceeded
		}
		current = parent.String
	}
}

// GetTask returns a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)
	return scanTask(row)
}

const taskSelect = `SELECT id, plan_id, parent_task_id, description, assigned_agent, status,
	priority, created_at, started_at, completed_at, output, error, retry_count FROM tasks`

func scanTask(row *sql.Row) (Task, error) {
	var t Task
	var parentTaskID, assignedAgent, output, taskErr sql.NullString
	var startedAt, completedAt sql.NullInt64
	err := row.Scan(&t.ID, &t.PlanID, &parentTaskID, &t.Description, &assignedAgent, &t.Status,
		&t.Priority, &t.CreatedAt, &startedAt, &completedAt, &output, &taskErr, &t.RetryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("planstore: scan task: %w", err)
	}
	t.ParentTaskID = stringPtr(parentTaskID)
	t.AssignedAgent = stringPtr(assignedAgent)
	t.Output = stringPtr(output)
	t.Error = stringPtr(taskErr)
	if startedAt.Valid {
		v := startedAt.Int64
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Int64
		t.CompletedAt = &v
	}
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	var out []Task
	for rows.Next() {
		var t Task
		var parentTaskID, assignedAgent, output, taskErr sql.NullString
		var startedAt, completedAt sql.NullInt64
		err := rows.Scan(&t.ID, &t.PlanID, &parentTaskID, &t.Description, &assignedAgent, &t.Status,
			&t.Priority, &t.CreatedAt, &startedAt, &completedAt, &output, &taskErr, &t.RetryCount)
		if err != nil {
			return nil, fmt.Errorf("planstore: scan task: %w", err)
		}
		t.ParentTaskID = stringPtr(parentTaskID)
		t.AssignedAgent = stringPtr(assignedAgent)
		t.Output = stringPtr(output)
		t.Error = stringPtr(taskErr)
		if startedAt.Valid {
			v := startedAt.Int64
			t.StartedAt = &v
		}
		if completedAt.Valid {
			v := completedAt.Int64
			t.CompletedAt = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTasks returns every task belonging to a plan, ordered by creation.
func (s *Store) ListTasks(ctx context.Context, planID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+` WHERE plan_id = ? ORDER BY created_at ASC`, planID)
	if err != nil {
		return nil, fmt.Errorf("planstore: list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// GetSubtasks returns the direct children of a task.
func (s *Store) GetSubtasks(ctx context.Context, parentTaskID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+` WHERE parent_task_id = ? ORDER BY created_at ASC`, parentTaskID)
	if err != nil {
		return nil, fmt.Errorf("planstore: get subtasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ClaimTask atomically transitions a pending task to in_progress, assigning
// it to agent. This is the critical compare-and-swap of §4.4: exactly one
// concurrent caller among any number racing on the same task id succeeds,
// determined by the single UPDATE's WHERE clause and RowsAffected, not by an
// application-level lock. Callers that lose the race receive ErrBusy.
func (s *Store) ClaimTask(ctx context.Context, taskID, agent string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, assigned_agent = ?, started_at = strftime('%s','now')
		 WHERE id = ? AND status = ?`,
		TaskInProgress, agent, taskID, TaskPending,
	)
	if err != nil {
		return fmt.Errorf("planstore: claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("planstore: claim task: %w", err)
	}
	if n == 0 {
		if _, getErr := s.GetTask(ctx, taskID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrBusy
	}
	return nil
}

// NextTask selects the next pending task to hand to agent for planID (§4.4
// "for a given plan and candidate agent, return the oldest, highest-priority
// pending row, preferring rows already assigned to that agent, then
// unassigned, then others"): rows already assigned to agent sort first,
// then unassigned rows, then rows assigned to a different agent, each tier
// broken by priority descending then created_at ascending. Prerequisite
// gating, if any, is the decomposer's DAG concern, not tracked at this
// layer. Returns nil, nil when there is no pending task.
func (s *Store) NextTask(ctx context.Context, planID, agent string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		taskSelect+`
		 WHERE plan_id = ? AND status = ?
		 ORDER BY
		   CASE
		     WHEN assigned_agent = ? THEN 0
		     WHEN assigned_agent IS NULL THEN 1
		     ELSE 2
		   END,
		   priority DESC, created_at ASC
		 LIMIT 1`,
		planID, TaskPending, agent,
	)
	t, err := scanTask(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CompleteTask marks a task completed and records its output.
func (s *Store) CompleteTask(ctx context.Context, id, output string) error {
	return s.setTerminal(ctx, id, TaskCompleted, &output, nil)
}

// FailTask marks a task failed and records the error, incrementing
// retry_count so callers can decide whether to re-claim it.
func (s *Store) FailTask(ctx context.Context, id, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, error = ?, completed_at = strftime('%s','now'), retry_count = retry_count + 1
		 WHERE id = ?`,
		TaskFailed, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("planstore: fail task: %w", err)
	}
	return checkRowsAffected(res)
}

// BlockTask marks a task blocked, pending an external condition (e.g. an
// unmet prerequisite or a human-review hold from the guardrails layer).
func (s *Store) BlockTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, TaskBlocked, id)
	if err != nil {
		return fmt.Errorf("planstore: block task: %w", err)
	}
	return checkRowsAffected(res)
}

// SkipTask marks a task skipped. Progress counts a skipped task in Total but
// not in Completed; RefreshPlanStatus treats it as finished.
func (s *Store) SkipTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_at = strftime('%s','now') WHERE id = ?`, TaskSkipped, id)
	if err != nil {
		return fmt.Errorf("planstore: skip task: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *Store) setTerminal(ctx context.Context, id string, status TaskStatus, output, errMsg *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, output = ?, error = ?, completed_at = strftime('%s','now') WHERE id = ?`,
		status, output, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("planstore: set terminal: %w", err)
	}
	return checkRowsAffected(res)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("planstore: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
