package planstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Checkpoint is a persisted workflow execution snapshot (§4.7.6), keyed by
// workflow run and the node it was taken at.
type Checkpoint struct {
	ID           string
	WorkflowID   string
	NodeID       int
	StateJSON    string
	CreatedAt    int64
	MetadataJSON *string
}

// SaveCheckpoint persists a workflow checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, workflowID string, nodeID int, stateJSON string, metadataJSON *string) (Checkpoint, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_checkpoints(id, workflow_id, node_id, state_json, metadata_json)
		 VALUES(?, ?, ?, ?, ?)`,
		id, workflowID, nodeID, stateJSON, metadataJSON,
	)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("planstore: save checkpoint: %w", err)
	}
	return s.GetCheckpoint(ctx, id)
}

// GetCheckpoint returns a checkpoint by id.
func (s *Store) GetCheckpoint(ctx context.Context, id string) (Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, node_id, state_json, created_at, metadata_json
		 FROM workflow_checkpoints WHERE id = ?`, id)
	return scanCheckpoint(row)
}

func scanCheckpoint(row *sql.Row) (Checkpoint, error) {
	var c Checkpoint
	var metadata sql.NullString
	err := row.Scan(&c.ID, &c.WorkflowID, &c.NodeID, &c.StateJSON, &c.CreatedAt, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("planstore: scan checkpoint: %w", err)
	}
	c.MetadataJSON = stringPtr(metadata)
	return c, nil
}

// LatestCheckpoint returns the most recently created checkpoint for a
// workflow run, used to restore execution after a crash or pause (§4.7.6
// "restore resumes from the last checkpoint").
func (s *Store) LatestCheckpoint(ctx context.Context, workflowID string) (Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, node_id, state_json, created_at, metadata_json
		 FROM workflow_checkpoints WHERE workflow_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		workflowID)
	return scanCheckpoint(row)
}

// ListCheckpoints returns every checkpoint for a workflow run, oldest first.
func (s *Store) ListCheckpoints(ctx context.Context, workflowID string) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, node_id, state_json, created_at, metadata_json
		 FROM workflow_checkpoints WHERE workflow_id = ? ORDER BY created_at ASC, rowid ASC`,
		workflowID)
	if err != nil {
		return nil, fmt.Errorf("planstore: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var c Checkpoint
		var metadata sql.NullString
		if err := rows.Scan(&c.ID, &c.WorkflowID, &c.NodeID, &c.StateJSON, &c.CreatedAt, &metadata); err != nil {
			return nil, fmt.Errorf("planstore: scan checkpoint: %w", err)
		}
		c.MetadataJSON = stringPtr(metadata)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCheckpoints removes every checkpoint for a workflow run, called once
// a run reaches a terminal state and no longer needs to be resumable.
func (s *Store) DeleteCheckpoints(ctx context.Context, workflowID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflow_checkpoints WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return fmt.Errorf("planstore: delete checkpoints: %w", err)
	}
	return nil
}
