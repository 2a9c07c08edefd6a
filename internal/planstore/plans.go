package planstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Plan is a top-level unit of work (§3 Plan).
type Plan struct {
	ID          string
	Description string
	Context     *string
	Status      PlanStatus
	CreatedAt   int64
	UpdatedAt   int64
	CompletedAt *int64
}

// CreatePlan inserts a new plan in PlanPending status and returns it.
func (s *Store) CreatePlan(ctx context.Context, description string, planContext *string) (Plan, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plans(id, description, context, status) VALUES(?, ?, ?, ?)`,
		id, description, planContext, PlanPending,
	)
	if err != nil {
		return Plan{}, fmt.Errorf("planstore: create plan: %w", err)
	}
	return s.GetPlan(ctx, id)
}

// GetPlan returns a plan by id.
func (s *Store) GetPlan(ctx context.Context, id string) (Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, description, context, status, created_at, updated_at, completed_at
		 FROM plans WHERE id = ?`, id)
	return scanPlan(row)
}

func scanPlan(row *sql.Row) (Plan, error) {
	var p Plan
	var planContext sql.NullString
	var completedAt sql.NullInt64
	err := row.Scan(&p.ID, &p.Description, &planContext, &p.Status, &p.CreatedAt, &p.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Plan{}, ErrNotFound
	}
	if err != nil {
		return Plan{}, fmt.Errorf("planstore: scan plan: %w", err)
	}
	p.Context = stringPtr(planContext)
	if completedAt.Valid {
		v := completedAt.Int64
		p.CompletedAt = &v
	}
	return p, nil
}

// ListPlans returns all plans, newest first.
func (s *Store) ListPlans(ctx context.Context) ([]Plan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, description, context, status, created_at, updated_at, completed_at
		 FROM plans ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("planstore: list plans: %w", err)
	}
	defer rows.Close()

	var out []Plan
	for rows.Next() {
		var p Plan
		var planContext sql.NullString
		var completedAt sql.NullInt64
		if err := rows.Scan(&p.ID, &p.Description, &planContext, &p.Status, &p.CreatedAt, &p.UpdatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("planstore: scan plan: %w", err)
		}
		p.Context = stringPtr(planContext)
		if completedAt.Valid {
			v := completedAt.Int64
			p.CompletedAt = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePlanStatus sets a plan's status directly, stamping completed_at when
// transitioning into a terminal status.
func (s *Store) UpdatePlanStatus(ctx context.Context, id string, status PlanStatus) error {
	var res sql.Result
	var err error
	if status == PlanCompleted || status == PlanFailed || status == PlanCancelled {
		res, err = s.db.ExecContext(ctx,
			`UPDATE plans SET status = ?, completed_at = strftime('%s','now') WHERE id = ?`, status, id)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE plans SET status = ? WHERE id = ?`, status, id)
	}
	if err != nil {
		return fmt.Errorf("planstore: update plan status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("planstore: update plan status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePlan removes a plan; ON DELETE CASCADE removes its tasks.
func (s *Store) DeletePlan(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("planstore: delete plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("planstore: delete plan: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Progress is the aggregated completion state of a plan's tasks (§4.4
// "progress aggregation").
type Progress struct {
	Total      int
	Completed  int
	Failed     int
	InProgress int
	Pending    int
	Blocked    int
	Skipped    int
	Percent    int // 100 * Completed / Total, 0 when Total == 0
}

// Progress aggregates task counts for a plan.
func (s *Store) Progress(ctx context.Context, planID string) (Progress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE plan_id = ? GROUP BY status`, planID)
	if err != nil {
		return Progress{}, fmt.Errorf("planstore: progress: %w", err)
	}
	defer rows.Close()

	var p Progress
	for rows.Next() {
		var status TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Progress{}, fmt.Errorf("planstore: progress: %w", err)
		}
		p.Total += count
		switch status {
		case TaskCompleted:
			p.Completed = count
		case TaskFailed:
			p.Failed = count
		case TaskInProgress:
			p.InProgress = count
		case TaskPending:
			p.Pending = count
		case TaskBlocked:
			p.Blocked = count
		case TaskSkipped:
			p.Skipped = count
		}
	}
	if err := rows.Err(); err != nil {
		return Progress{}, err
	}
	if p.Total > 0 {
		p.Percent = 100 * p.Completed / p.Total
	}
	return p, nil
}

// RefreshPlanStatus derives and stores a plan's status from its tasks'
// aggregate state: completed when every task is completed or skipped, failed
// when any task has failed, active otherwise. A plan with no tasks is left
// untouched.
func (s *Store) RefreshPlanStatus(ctx context.Context, planID string) error {
	progress, err := s.Progress(ctx, planID)
	if err != nil {
		return err
	}
	if progress.Total == 0 {
		return nil
	}
	switch {
	case progress.Failed > 0:
		return s.UpdatePlanStatus(ctx, planID, PlanFailed)
	case progress.Completed+progress.Skipped == progress.Total:
		return s.UpdatePlanStatus(ctx, planID, PlanCompleted)
	default:
		return s.UpdatePlanStatus(ctx, planID, PlanActive)
	}
}

// Cleanup deletes plans in a terminal status whose updated_at is older than
// cutoffUnix, returning the number of plans removed.
func (s *Store) Cleanup(ctx context.Context, cutoffUnix int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM plans WHERE status IN ('completed','failed','cancelled') AND updated_at < ?`,
		cutoffUnix,
	)
	if err != nil {
		return 0, fmt.Errorf("planstore: cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("planstore: cleanup: %w", err)
	}
	return n, nil
}
