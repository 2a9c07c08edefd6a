// Package engine implements the workflow engine of §4.7: a run-to-completion
// loop over a graph.Workflow, node execution dispatched by type, exponential
// backoff retry, error classification, and checkpoint/restore. The
// interfaces here are intentionally small: internal/workflow/engine/inmem is
// the single-process implementation, grounded on the teacher's
// runtime/agent/engine/inmem.Engine (map-of-runs plus a mutex);
// internal/workflow/engine/temporal is the durable alternative, grounded on
// runtime/agent/engine/temporal, for deployments that need workflow
// execution to survive a process restart. Both implement Backend.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"goa.design/convergio/internal/planstore"
	"goa.design/convergio/internal/workflow/graph"
)

// Status is a workflow run's lifecycle state (§4.7.1, §4.7.7).
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// DefaultNodeTimeout is the default per-node execution timeout (§4.7.2,
// §6.6), overridable per run via the "node_timeout" state key (seconds).
const DefaultNodeTimeout = 300 * time.Second

// DefaultRetryBaseDelay is the default base delay for §4.7.4's backoff
// formula (§6.6).
const DefaultRetryBaseDelay = 1 * time.Second

// DefaultMaxRetries bounds retry attempts absent an explicit override.
const DefaultMaxRetries = 3

// Instance is one workflow run's mutable state.
type Instance struct {
	WorkflowID       string
	Workflow         *graph.Workflow
	State            *graph.State
	CurrentNodeID    int
	Status           Status
	ErrorMessage     string
	LastCheckpointAt int64
}

// NodeExecutor executes an action node's work: composing the model call,
// invoking the provider, and recording cost against the resolved agent. The
// engine handles guardrails, timeouts, and state bookkeeping around it;
// pre-checks for network reachability and provider availability are the
// executor's concern, surfaced as classified errors (§errs) the engine's
// retry logic then interprets.
type NodeExecutor interface {
	ExecuteAction(ctx context.Context, node graph.Node, carried string) (output string, err error)
}

// BudgetChecker is consulted before executing an action node (§4.7.2
// "budget available").
type BudgetChecker interface {
	CheckBudget() bool
}

// Backend is the workflow-execution capability a caller (cmd/convergio)
// drives: start a graph to completion or a pause point, observe it, and
// checkpoint/restore its state. inmem.Engine and temporal.Engine are its two
// implementations.
type Backend interface {
	Start(ctx context.Context, workflowID string, wf *graph.Workflow, input string) (*Instance, error)
	Get(workflowID string) (*Instance, bool)
	Pause(workflowID string) error
	Cancel(workflowID string) error
	Resume(ctx context.Context, workflowID string, checkpointID *string) (*Instance, error)
	Checkpoint(ctx context.Context, inst *Instance) (string, error)
	ListCheckpoints(ctx context.Context, workflowID string) ([]planstore.Checkpoint, error)
}

// CheckpointEntry is the JSON shape persisted for each state entry (§4.7.6
// "serialize state.entries as [{key, value, updated_at}]"), shared by every
// Backend so checkpoints written by one are restorable by another.
type CheckpointEntry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updated_at"`
}

// EncodeCheckpointState serializes a state's entries for SaveCheckpoint.
func EncodeCheckpointState(entries []graph.Entry) ([]byte, error) {
	payload := make([]CheckpointEntry, len(entries))
	for i, e := range entries {
		payload[i] = CheckpointEntry{Key: e.Key, Value: e.Value, UpdatedAt: e.UpdatedAt}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal checkpoint state: %w", err)
	}
	return b, nil
}

// DecodeCheckpointState reverses EncodeCheckpointState for restore.
func DecodeCheckpointState(data []byte) ([]graph.Entry, error) {
	var payload []CheckpointEntry
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("engine: unmarshal checkpoint state: %w", err)
	}
	entries := make([]graph.Entry, len(payload))
	for i, p := range payload {
		entries[i] = graph.Entry{Key: p.Key, Value: p.Value, UpdatedAt: p.UpdatedAt}
	}
	return entries, nil
}

// ListCheckpointsNewestFirst reverses Store.ListCheckpoints's oldest-first
// order (§4.7.6), shared by every Backend's ListCheckpoints method.
func ListCheckpointsNewestFirst(ctx context.Context, store *planstore.Store, workflowID string) ([]planstore.Checkpoint, error) {
	all, err := store.ListCheckpoints(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}
