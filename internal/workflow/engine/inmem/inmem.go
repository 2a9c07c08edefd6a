// Package inmem is the single-process workflow engine (§4.7), grounded on
// the teacher's runtime/agent/engine/inmem.Engine: a mutex-protected map of
// runs. internal/workflow/engine/temporal is the durable alternative for
// deployments that need a run to survive a process restart.
package inmem

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"goa.design/convergio/internal/errs"
	"goa.design/convergio/internal/guardrails"
	"goa.design/convergio/internal/planstore"
	"goa.design/convergio/internal/telemetry"
	"goa.design/convergio/internal/workflow/engine"
	"goa.design/convergio/internal/workflow/graph"
)

// Engine runs workflow instances to completion, in-process.
type Engine struct {
	mu        sync.Mutex
	instances map[string]*engine.Instance

	executor   engine.NodeExecutor
	checkpoint *planstore.Store
	guard      *guardrails.Guardrails
	budget     engine.BudgetChecker
	logger     telemetry.Logger

	maxRetries int
	baseDelay  time.Duration
	sleep      func(time.Duration)
	now        func() int64
}

// Option configures an Engine.
type Option func(*Engine)

func WithBudgetChecker(b engine.BudgetChecker) Option { return func(e *Engine) { e.budget = b } }
func WithGuardrails(g *guardrails.Guardrails) Option  { return func(e *Engine) { e.guard = g } }
func WithLogger(l telemetry.Logger) Option            { return func(e *Engine) { e.logger = l } }
func WithRetryPolicy(maxRetries int, baseDelay time.Duration) Option {
	return func(e *Engine) { e.maxRetries = maxRetries; e.baseDelay = baseDelay }
}
func WithSleepFunc(f func(time.Duration)) Option { return func(e *Engine) { e.sleep = f } }
func WithClock(f func() int64) Option            { return func(e *Engine) { e.now = f } }

// New constructs an Engine. checkpoint may be nil to disable persistence
// (checkpoint/restore calls then fail).
func New(executor engine.NodeExecutor, checkpoint *planstore.Store, opts ...Option) *Engine {
	e := &Engine{
		instances:  make(map[string]*engine.Instance),
		executor:   executor,
		checkpoint: checkpoint,
		guard:      guardrails.New(nil),
		logger:     telemetry.NoopLogger{},
		maxRetries: engine.DefaultMaxRetries,
		baseDelay:  engine.DefaultRetryBaseDelay,
		sleep:      time.Sleep,
		now:        func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ engine.Backend = (*Engine)(nil)

// Start refuses a workflow with no entry node (§4.7.1 step 1), otherwise
// begins execution and runs to completion, a pause point, or failure.
func (e *Engine) Start(ctx context.Context, workflowID string, wf *graph.Workflow, input string) (*engine.Instance, error) {
	if wf.EntryNode == nil {
		return nil, errs.New(errs.KindUnknown, "workflow has no entry node")
	}
	inst := &engine.Instance{
		WorkflowID:    workflowID,
		Workflow:      wf,
		State:         graph.NewState(),
		CurrentNodeID: *wf.EntryNode,
		Status:        engine.StatusRunning,
	}
	if err := inst.State.Set("input", input, e.now()); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.instances[workflowID] = inst
	e.mu.Unlock()

	e.run(ctx, inst, input)
	return inst, nil
}

// Get returns the current instance for a workflow id.
func (e *Engine) Get(workflowID string) (*engine.Instance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[workflowID]
	return inst, ok
}

// run executes nodes until the workflow pauses, completes, or fails (§4.7.1
// step 3-4).
func (e *Engine) run(ctx context.Context, inst *engine.Instance, initialCarried string) {
	carried := initialCarried
	for {
		node, err := inst.Workflow.Node(inst.CurrentNodeID)
		if err != nil {
			e.fail(inst, err)
			return
		}

		start := time.Now()
		output, execErr := e.executeNode(ctx, inst, node, carried)
		e.logger.Debug(ctx, "node executed",
			"node_id", node.ID, "node_name", node.Name, "latency_ms", time.Since(start).Milliseconds())

		if execErr != nil {
			e.fail(inst, execErr)
			return
		}
		if inst.Status == engine.StatusPaused {
			return
		}

		_ = inst.State.Set(fmt.Sprintf("node_%d_result", node.ID), output, e.now())

		next, err := inst.Workflow.Next(node.ID, inst.State)
		if err != nil {
			e.fail(inst, err)
			return
		}
		if next == nil {
			inst.Status = engine.StatusCompleted
			return
		}
		inst.CurrentNodeID = *next
		carried = output
	}
}

// executeNode dispatches by node type (§4.7.2).
func (e *Engine) executeNode(ctx context.Context, inst *engine.Instance, node graph.Node, carried string) (string, error) {
	switch node.Type {
	case graph.NodeAction:
		return e.executeActionNode(ctx, inst, node, carried)
	case graph.NodeDecision:
		return carried, nil
	case graph.NodeHumanInput:
		inst.Status = engine.StatusPaused
		return carried, nil
	default:
		return "", errs.New(errs.KindToolFailed, fmt.Sprintf("node type %q is not implemented", node.Type))
	}
}

func (e *Engine) executeActionNode(ctx context.Context, inst *engine.Instance, node graph.Node, carried string) (string, error) {
	prompt := node.ActionPrompt + "\n\nInput: " + carried

	verdict, allowed := e.guard.Check(node.Name, prompt, nil)
	if verdict == guardrails.VerdictBlock || (verdict == guardrails.VerdictHumanReview && !allowed) {
		return "", errs.New(errs.KindToolFailed, fmt.Sprintf("node %q blocked by guardrails (%s)", node.Name, verdict))
	}

	if e.budget != nil && !e.budget.CheckBudget() {
		return "", errs.New(errs.KindCreditExhausted, "budget exceeded")
	}

	timeout := engine.DefaultNodeTimeout
	if v, ok := inst.State.Get("node_timeout"); ok {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}
	nodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var output string
	err := engine.ExecuteWithRetry(nodeCtx, e.sleep, e.maxRetries, e.baseDelay, func(int) error {
		out, execErr := e.executor.ExecuteAction(nodeCtx, node, carried)
		if execErr != nil {
			return execErr
		}
		output = out
		return nil
	})
	if err != nil {
		if nodeCtx.Err() != nil {
			return "", errs.New(errs.KindTimeout, fmt.Sprintf("node %q exceeded %s", node.Name, timeout))
		}
		return "", err
	}
	return output, nil
}

func (e *Engine) fail(inst *engine.Instance, err error) {
	inst.Status = engine.StatusFailed
	inst.ErrorMessage = err.Error()
}

// Pause transitions a running instance to paused (§4.7.7).
func (e *Engine) Pause(workflowID string) error {
	inst, ok := e.Get(workflowID)
	if !ok {
		return errs.New(errs.KindUnknown, "workflow not found")
	}
	if inst.Status != engine.StatusRunning {
		return errs.New(errs.KindUnknown, "pause requires status=running")
	}
	inst.Status = engine.StatusPaused
	return nil
}

// Cancel transitions any non-terminal instance to cancelled (§4.7.7
// "forbidden if terminal").
func (e *Engine) Cancel(workflowID string) error {
	inst, ok := e.Get(workflowID)
	if !ok {
		return errs.New(errs.KindUnknown, "workflow not found")
	}
	if isTerminal(inst.Status) {
		return errs.New(errs.KindUnknown, "cannot cancel a terminal workflow")
	}
	inst.Status = engine.StatusCancelled
	return nil
}

func isTerminal(s engine.Status) bool {
	return s == engine.StatusCompleted || s == engine.StatusFailed || s == engine.StatusCancelled
}

// Resume transitions a paused instance to running and continues execution
// from CurrentNodeID (§4.7.7). If checkpointID is non-nil, the instance's
// state is first restored from that checkpoint (§4.7.6).
func (e *Engine) Resume(ctx context.Context, workflowID string, checkpointID *string) (*engine.Instance, error) {
	inst, ok := e.Get(workflowID)
	if !ok {
		return nil, errs.New(errs.KindUnknown, "workflow not found")
	}
	if inst.Status != engine.StatusPaused {
		return nil, errs.New(errs.KindUnknown, "resume requires status=paused")
	}
	if checkpointID != nil {
		if err := e.restore(ctx, inst, *checkpointID); err != nil {
			return nil, err
		}
	}
	inst.Status = engine.StatusRunning
	carried, ok := inst.State.Get(fmt.Sprintf("node_%d_result", inst.CurrentNodeID))
	if !ok {
		carried, _ = inst.State.Get("input")
	}
	e.run(ctx, inst, carried)
	return inst, nil
}

// Checkpoint persists the instance's current state (§4.7.6).
func (e *Engine) Checkpoint(ctx context.Context, inst *engine.Instance) (string, error) {
	if e.checkpoint == nil {
		return "", errs.New(errs.KindUnknown, "no checkpoint store configured")
	}
	stateJSON, err := engine.EncodeCheckpointState(inst.State.Entries())
	if err != nil {
		return "", err
	}
	cp, err := e.checkpoint.SaveCheckpoint(ctx, inst.WorkflowID, inst.CurrentNodeID, string(stateJSON), nil)
	if err != nil {
		return "", err
	}
	inst.LastCheckpointAt = e.now()
	return cp.ID, nil
}

// restore loads a checkpoint record, requires it belongs to inst's workflow,
// clears the current state, replays the checkpoint's entries, and sets
// CurrentNodeID — then leaves the instance paused (§4.7.6: "restored
// workflows do not auto-run").
func (e *Engine) restore(ctx context.Context, inst *engine.Instance, checkpointID string) error {
	if e.checkpoint == nil {
		return errs.New(errs.KindUnknown, "no checkpoint store configured")
	}
	cp, err := e.checkpoint.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return err
	}
	if cp.WorkflowID != inst.WorkflowID {
		return errs.New(errs.KindUnknown, "checkpoint belongs to a different workflow")
	}
	entries, err := engine.DecodeCheckpointState([]byte(cp.StateJSON))
	if err != nil {
		return err
	}
	inst.State.Clear()
	inst.State.LoadEntries(entries)
	inst.CurrentNodeID = cp.NodeID
	inst.Status = engine.StatusPaused
	return nil
}

// ListCheckpoints returns a workflow's checkpoints newest-first (§4.7.6).
func (e *Engine) ListCheckpoints(ctx context.Context, workflowID string) ([]planstore.Checkpoint, error) {
	if e.checkpoint == nil {
		return nil, errs.New(errs.KindUnknown, "no checkpoint store configured")
	}
	return engine.ListCheckpointsNewestFirst(ctx, e.checkpoint, workflowID)
}
