// Package temporal is the durable workflow engine (§4.7): a Backend that
// runs a graph.Workflow instance on Temporal instead of in-process, so a run
// survives a process restart. Grounded on the teacher's
// runtime/agent/engine/temporal.Engine, trimmed to this module's scope: one
// fixed workflow type (the node-by-node graph walk inmem.Engine also runs)
// and one activity (action-node execution), rather than the teacher's
// generic multi-workflow/activity registration surface, which this module
// has no use for.
//
// Start/Get/Pause/Resume/Cancel/Checkpoint/ListCheckpoints mirror
// engine/inmem's method set (engine.Backend), but Temporal's execution model
// is asynchronous: Start returns once the workflow is accepted, not once it
// reaches a pause point, completion, or failure. Get queries the workflow's
// current status instead of reading a local map.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"goa.design/convergio/internal/errs"
	"goa.design/convergio/internal/guardrails"
	"goa.design/convergio/internal/planstore"
	"goa.design/convergio/internal/workflow/engine"
	"goa.design/convergio/internal/workflow/graph"
)

const (
	// WorkflowName is the Temporal workflow type every run is started under.
	WorkflowName = "ConvergioGraphWorkflow"
	// ActivityName is the Temporal activity type action nodes execute under.
	ActivityName = "ConvergioExecuteActionNode"

	signalPause  = "convergio.pause"
	signalResume = "convergio.resume"
	queryStatus  = "convergio.status"
)

// Options configures the Temporal engine adapter.
type Options struct {
	// Client is a pre-configured Temporal client. If nil, New dials
	// HostPort/Namespace lazily via client.NewLazyClient, matching the
	// teacher's adapter: the connection is deferred until first use.
	Client    client.Client
	HostPort  string
	Namespace string

	// TaskQueue is the queue the worker polls and workflows are started on.
	// Required.
	TaskQueue string
}

// Engine runs graph.Workflow instances on Temporal.
type Engine struct {
	client      client.Client
	closeClient bool
	taskQueue   string
	worker      worker.Worker

	executor   engine.NodeExecutor
	checkpoint *planstore.Store
	guard      *guardrails.Guardrails
	budget     engine.BudgetChecker

	mu   sync.Mutex
	runs map[string]*runRecord
}

type runRecord struct {
	workflow *graph.Workflow
	run      client.WorkflowRun
}

var _ engine.Backend = (*Engine)(nil)

// New dials a Temporal client (unless Options.Client is set), registers the
// graph workflow and its action-node activity on a worker for
// opts.TaskQueue, and starts the worker. guard may be nil (defaults to
// guardrails.New(nil)); budget may be nil to skip budget checks.
func New(opts Options, executor engine.NodeExecutor, checkpoint *planstore.Store, guard *guardrails.Guardrails, budget engine.BudgetChecker) (*Engine, error) {
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal engine: task queue is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("temporal engine: node executor is required")
	}
	if guard == nil {
		guard = guardrails.New(nil)
	}

	cli := opts.Client
	closeClient := false
	if cli == nil {
		c, err := client.NewLazyClient(client.Options{HostPort: opts.HostPort, Namespace: opts.Namespace})
		if err != nil {
			return nil, fmt.Errorf("temporal engine: dial client: %w", err)
		}
		cli = c
		closeClient = true
	}

	e := &Engine{
		client:      cli,
		closeClient: closeClient,
		taskQueue:   opts.TaskQueue,
		executor:    executor,
		checkpoint:  checkpoint,
		guard:       guard,
		budget:      budget,
		runs:        make(map[string]*runRecord),
	}

	w := worker.New(cli, opts.TaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(e.runGraph, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivityWithOptions(e.executeActionActivity, activity.RegisterOptions{Name: ActivityName})
	if err := w.Start(); err != nil {
		if closeClient {
			cli.Close()
		}
		return nil, fmt.Errorf("temporal engine: start worker: %w", err)
	}
	e.worker = w
	return e, nil
}

// Close stops the worker and, if New dialed the client itself, closes it.
func (e *Engine) Close() {
	if e.worker != nil {
		e.worker.Stop()
	}
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
}

// workflowInput is the Temporal workflow's argument. graph.Workflow and
// graph.Node are plain exported-field structs, so the SDK's default JSON
// data converter round-trips them without custom (de)serialization.
type workflowInput struct {
	Workflow *graph.Workflow
	Input    string
}

// workflowSnapshot is both the query handler's return value and the shape
// Get()/Start() convert into an *engine.Instance.
type workflowSnapshot struct {
	Status        engine.Status
	ErrorMessage  string
	CurrentNodeID int
	StateEntries  []graph.Entry
}

type actionActivityInput struct {
	Node    graph.Node
	Carried string
}

type actionActivityOutput struct {
	Output string
}

// Start launches wf as a new Temporal workflow execution under workflowID
// and returns immediately once Temporal has accepted it (status running);
// unlike inmem.Engine.Start, it does not block until a pause point,
// completion, or failure — call Get to observe those.
func (e *Engine) Start(ctx context.Context, workflowID string, wf *graph.Workflow, input string) (*engine.Instance, error) {
	if wf.EntryNode == nil {
		return nil, errs.New(errs.KindUnknown, "workflow has no entry node")
	}
	run, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: e.taskQueue,
	}, WorkflowName, workflowInput{Workflow: wf, Input: input})
	if err != nil {
		return nil, fmt.Errorf("temporal engine: start workflow: %w", err)
	}

	e.mu.Lock()
	e.runs[workflowID] = &runRecord{workflow: wf, run: run}
	e.mu.Unlock()

	return &engine.Instance{
		WorkflowID:    workflowID,
		Workflow:      wf,
		State:         graph.NewState(),
		CurrentNodeID: *wf.EntryNode,
		Status:        engine.StatusRunning,
	}, nil
}

// Get queries the workflow's current status from Temporal and rebuilds an
// *engine.Instance from the snapshot plus the graph.Workflow recorded at
// Start.
func (e *Engine) Get(workflowID string) (*engine.Instance, bool) {
	e.mu.Lock()
	rec, ok := e.runs[workflowID]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}

	var snap workflowSnapshot
	val, err := e.client.QueryWorkflow(context.Background(), workflowID, "", queryStatus)
	if err != nil {
		// The query handler is torn down once the workflow closes; fall back
		// to the run's final return value for a completed/failed workflow.
		if getErr := rec.run.Get(context.Background(), &snap); getErr != nil {
			return nil, false
		}
	} else if err := val.Get(&snap); err != nil {
		return nil, false
	}

	inst := &engine.Instance{
		WorkflowID:    workflowID,
		Workflow:      rec.workflow,
		State:         graph.NewState(),
		CurrentNodeID: snap.CurrentNodeID,
		Status:        snap.Status,
		ErrorMessage:  snap.ErrorMessage,
	}
	inst.State.LoadEntries(snap.StateEntries)
	return inst, true
}

// Pause signals the workflow to stop at the next node boundary (§4.7.7).
func (e *Engine) Pause(workflowID string) error {
	if err := e.client.SignalWorkflow(context.Background(), workflowID, "", signalPause, nil); err != nil {
		return mapTemporalError(err)
	}
	return nil
}

// Cancel requests Temporal cancel the workflow execution (§4.7.7).
func (e *Engine) Cancel(workflowID string) error {
	if err := e.client.CancelWorkflow(context.Background(), workflowID, ""); err != nil {
		return mapTemporalError(err)
	}
	return nil
}

// Resume restores checkpointID (if non-nil) via the engine's checkpoint
// store, then signals the workflow to continue from CurrentNodeID (§4.7.7).
// Restore happens here, in the host process, not inside the workflow:
// workflow code may not perform its own I/O, only activities and signals
// may cross that boundary.
func (e *Engine) Resume(ctx context.Context, workflowID string, checkpointID *string) (*engine.Instance, error) {
	if checkpointID != nil {
		if e.checkpoint == nil {
			return nil, errs.New(errs.KindUnknown, "no checkpoint store configured")
		}
		cp, err := e.checkpoint.GetCheckpoint(ctx, *checkpointID)
		if err != nil {
			return nil, err
		}
		if cp.WorkflowID != workflowID {
			return nil, errs.New(errs.KindUnknown, "checkpoint belongs to a different workflow")
		}
		entries, err := engine.DecodeCheckpointState([]byte(cp.StateJSON))
		if err != nil {
			return nil, err
		}
		if err := e.client.SignalWorkflow(ctx, workflowID, "", signalResume, resumeSignal{
			NodeID:  &cp.NodeID,
			Entries: entries,
		}); err != nil {
			return nil, mapTemporalError(err)
		}
	} else {
		if err := e.client.SignalWorkflow(ctx, workflowID, "", signalResume, resumeSignal{}); err != nil {
			return nil, mapTemporalError(err)
		}
	}

	inst, ok := e.Get(workflowID)
	if !ok {
		return nil, errs.New(errs.KindUnknown, "workflow not found")
	}
	return inst, nil
}

// Checkpoint persists inst's current state to the checkpoint store (§4.7.6),
// identical to inmem.Engine.Checkpoint: checkpointing is a host-process
// operation against planstore, independent of Temporal's own history.
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
	inst.LastCheckpointAt = time.Now().Unix()
	return cp.ID, nil
}

// ListCheckpoints returns a workflow's checkpoints newest-first (§4.7.6).
func (e *Engine) ListCheckpoints(ctx context.Context, workflowID string) ([]planstore.Checkpoint, error) {
	if e.checkpoint == nil {
		return nil, errs.New(errs.KindUnknown, "no checkpoint store configured")
	}
	return engine.ListCheckpointsNewestFirst(ctx, e.checkpoint, workflowID)
}

// resumeSignal is the payload delivered by the signalResume signal. NodeID
// and Entries are both nil/empty for a plain resume (no checkpoint restore).
type resumeSignal struct {
	NodeID  *int
	Entries []graph.Entry
}

// runGraph is the Temporal workflow function: it walks wf one node at a time
// exactly as inmem.Engine.run does, dispatching action nodes to
// executeActionActivity, pausing at human_input nodes and on a pause signal,
// and exposing its live status via a query handler.
func (e *Engine) runGraph(ctx workflow.Context, in workflowInput) (workflowSnapshot, error) {
	wf := in.Workflow
	state := graph.NewState()
	if err := state.Set("input", in.Input, workflow.Now(ctx).Unix()); err != nil {
		return workflowSnapshot{}, err
	}
	currentNodeID := *wf.EntryNode
	status := engine.StatusRunning
	errMessage := ""
	carried := in.Input

	pauseSignal := workflow.GetSignalChannel(ctx, signalPause)
	resumeSignalCh := workflow.GetSignalChannel(ctx, signalResume)

	snapshot := func() workflowSnapshot {
		return workflowSnapshot{
			Status:        status,
			ErrorMessage:  errMessage,
			CurrentNodeID: currentNodeID,
			StateEntries:  state.Entries(),
		}
	}
	if err := workflow.SetQueryHandler(ctx, queryStatus, func() (workflowSnapshot, error) {
		return snapshot(), nil
	}); err != nil {
		return workflowSnapshot{}, err
	}

	waitForResume := func() {
		var sig resumeSignal
		resumeSignalCh.Receive(ctx, &sig)
		if sig.NodeID != nil {
			state.Clear()
			state.LoadEntries(sig.Entries)
			currentNodeID = *sig.NodeID
			carried, _ = state.Get(fmt.Sprintf("node_%d_result", currentNodeID))
			if carried == "" {
				carried, _ = state.Get("input")
			}
		}
		status = engine.StatusRunning
	}

	for {
		var paused struct{}
		for pauseSignal.ReceiveAsync(&paused) {
			status = engine.StatusPaused
		}
		if status == engine.StatusPaused {
			waitForResume()
		}

		node, err := wf.Node(currentNodeID)
		if err != nil {
			status, errMessage = engine.StatusFailed, err.Error()
			break
		}

		var output string
		switch node.Type {
		case graph.NodeAction:
			out, err := e.executeActionActivityCall(ctx, node, carried, state)
			if err != nil {
				status, errMessage = engine.StatusFailed, err.Error()
				return snapshot(), nil
			}
			output = out
		case graph.NodeDecision:
			output = carried
		case graph.NodeHumanInput:
			status = engine.StatusPaused
			waitForResume()
			output = carried
		default:
			status, errMessage = engine.StatusFailed, fmt.Sprintf("node type %q is not implemented", node.Type)
			return snapshot(), nil
		}

		if err := state.Set(fmt.Sprintf("node_%d_result", node.ID), output, workflow.Now(ctx).Unix()); err != nil {
			status, errMessage = engine.StatusFailed, err.Error()
			break
		}

		next, err := wf.Next(node.ID, state)
		if err != nil {
			status, errMessage = engine.StatusFailed, err.Error()
			break
		}
		if next == nil {
			status = engine.StatusCompleted
			break
		}
		currentNodeID = *next
		carried = output
	}
	return snapshot(), nil
}

// executeActionActivityCall builds per-node activity options (timeout from
// state's "node_timeout" override, retries via Temporal's own RetryPolicy
// rather than engine.ExecuteWithRetry's manual backoff) and runs the action
// node as a Temporal activity.
func (e *Engine) executeActionActivityCall(ctx workflow.Context, node graph.Node, carried string, state *graph.State) (string, error) {
	timeout := engine.DefaultNodeTimeout
	if v, ok := state.Get("node_timeout"); ok {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval: engine.DefaultRetryBaseDelay,
			MaximumAttempts: int32(engine.DefaultMaxRetries) + 1,
		},
	}
	actx := workflow.WithActivityOptions(ctx, ao)
	var out actionActivityOutput
	if err := workflow.ExecuteActivity(actx, ActivityName, actionActivityInput{Node: node, Carried: carried}).Get(ctx, &out); err != nil {
		return "", err
	}
	return out.Output, nil
}

// executeActionActivity is the Temporal activity backing action nodes: the
// guardrails and budget checks inmem.Engine.executeActionNode runs inline
// belong here instead, since activities (not workflow code) are where side
// effects and external calls are allowed.
func (e *Engine) executeActionActivity(ctx context.Context, in actionActivityInput) (actionActivityOutput, error) {
	prompt := in.Node.ActionPrompt + "\n\nInput: " + in.Carried

	verdict, allowed := e.guard.Check(in.Node.Name, prompt, nil)
	if verdict == guardrails.VerdictBlock || (verdict == guardrails.VerdictHumanReview && !allowed) {
		return actionActivityOutput{}, sdktemporal.NewNonRetryableApplicationError(
			fmt.Sprintf("node %q blocked by guardrails (%s)", in.Node.Name, verdict), "GuardrailsBlocked", nil)
	}
	if e.budget != nil && !e.budget.CheckBudget() {
		return actionActivityOutput{}, sdktemporal.NewNonRetryableApplicationError("budget exceeded", "BudgetExceeded", nil)
	}

	out, err := e.executor.ExecuteAction(ctx, in.Node, in.Carried)
	if err != nil {
		return actionActivityOutput{}, err
	}
	return actionActivityOutput{Output: out}, nil
}

// mapTemporalError normalizes the handful of Temporal service errors this
// engine's callers need to distinguish into the shared errs taxonomy, the
// way the teacher's signal_error.go maps serviceerror.NotFound.
func mapTemporalError(err error) error {
	if err == nil {
		return nil
	}
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return errs.New(errs.KindUnknown, "workflow not found")
	}
	return err
}
