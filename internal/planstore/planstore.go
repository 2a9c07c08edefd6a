// Package planstore implements the plan/task store (§4.4): a persistent
// tree of plans and hierarchical tasks with atomic claim semantics, backed
// by SQLite the way _examples/nevindra-oasis/store/sqlite opens and
// configures its database handle (single shared connection, WAL, busy
// timeout) — adapted here to the bit-exact schema of spec §6.1.
package planstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// PlanStatus is a plan's lifecycle state (§3 Plan).
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
	PlanCancelled PlanStatus = "cancelled"
)

// TaskStatus is a task's lifecycle state (§3 Task).
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskBlocked    TaskStatus = "blocked"
	TaskSkipped    TaskStatus = "skipped"
)

// maxTaskDepth bounds the parent_task_id chain (§9 open question, resolved
// explicitly: the schema does not itself limit tree depth, so AddTask
// enforces this guard rather than allowing unbounded recursion).
const maxTaskDepth = 32

// ErrNotFound is returned when a plan or task lookup does not resolve.
var ErrNotFound = errors.New("planstore: not found")

// ErrBusy is returned by ClaimTask when the task is not pending (§4.4
// "Critical: atomic task claim").
var ErrBusy = errors.New("planstore: task is not pending")

// ErrMaxDepthExceeded is returned by AddTask when the parent chain would
// exceed maxTaskDepth.
var ErrMaxDepthExceeded = fmt.Errorf("planstore: task tree depth exceeds %d", maxTaskDepth)

// Store wraps a single SQLite connection configured per §4.4 ("open with WAL
// journaling, foreign_keys=ON, 5s busy timeout, synchronous=NORMAL").
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and applies
// schema migrations. A single connection is used, following the teacher's
// rationale: serializing all access through one connection avoids
// SQLITE_BUSY errors from independent connections contending for the write
// lock, which matters more here than statement-level parallelism.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("planstore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("planstore: %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates every table, index, and trigger this package needs. The
// plans/tasks DDL below is the bit-exact schema from spec §6.1; checkpoints
// and cost aggregates are this module's own additions sharing the same
// handle per SPEC_FULL's "one persistence backend per concern" choice.
func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS plans(
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			context TEXT,
			status TEXT DEFAULT 'pending'
				CHECK(status IN ('pending','active','completed','failed','cancelled')),
			created_at INTEGER DEFAULT (strftime('%s','now')),
			updated_at INTEGER DEFAULT (strftime('%s','now')),
			completed_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS tasks(
			id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
			parent_task_id TEXT REFERENCES tasks(id) ON DELETE CASCADE,
			description TEXT NOT NULL,
			assigned_agent TEXT,
			status TEXT DEFAULT 'pending'
				CHECK(status IN ('pending','in_progress','completed','failed','blocked','skipped')),
			priority INTEGER DEFAULT 50 CHECK(priority BETWEEN 0 AND 100),
			created_at INTEGER DEFAULT (strftime('%s','now')),
			started_at INTEGER, completed_at INTEGER,
			output TEXT, error TEXT,
			retry_count INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_plan_id ON tasks(plan_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_plan_status ON tasks(plan_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_assigned_agent ON tasks(assigned_agent)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_parent_task_id ON tasks(parent_task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status)`,
		`CREATE TRIGGER IF NOT EXISTS trg_plans_updated_at
			AFTER UPDATE ON plans
			BEGIN
				UPDATE plans SET updated_at = strftime('%s','now') WHERE id = NEW.id;
			END`,
		`CREATE TABLE IF NOT EXISTS workflow_checkpoints(
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			node_id INTEGER NOT NULL,
			state_json TEXT NOT NULL,
			created_at INTEGER DEFAULT (strftime('%s','now')),
			metadata_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_workflow_id ON workflow_checkpoints(workflow_id)`,
		`CREATE TABLE IF NOT EXISTS cost_daily_totals(
			date TEXT PRIMARY KEY,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			calls INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("planstore: migrate: %w", err)
		}
	}
	return nil
}

func unixToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func timeToUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
