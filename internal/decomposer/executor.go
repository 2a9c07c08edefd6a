package decomposer

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// StatusBlocked marks a task whose prerequisite failed: it can never become
// ready, a case §4.9 does not name explicitly — resolved here rather than
// left pending forever (an Open Question decision, see DESIGN.md).
const StatusBlocked Status = "blocked"

// TaskExecutor runs one decomposed task to completion: resolving or
// spawning an agent matching the task's role, composing a prompt, calling
// the LLM, and recording cost (§4.9 "Each task execution"). The decomposer
// package only sequences readiness; task-level work is the executor's
// concern, mirroring the engine/NodeExecutor split in C7.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, task DecomposedTask) (result string, err error)
}

// ExecuteParallel dispatches ready tasks concurrently, wave by wave, until
// no task is pending or no further task can become ready (§4.9
// "execute_parallel dispatches ready tasks concurrently"). Concurrency
// within a wave equals the wave's ready-task count. tasks is mutated in
// place: Status/Result/Error are updated as tasks complete.
func ExecuteParallel(ctx context.Context, tasks []DecomposedTask, exec TaskExecutor) error {
	for {
		ready := GetReady(tasks)
		if len(ready) == 0 {
			break
		}

		outcomes := make([]struct {
			out string
			err error
		}, len(ready))

		var g errgroup.Group
		g.SetLimit(len(ready))
		for i, id := range ready {
			i, id := i, id
			g.Go(func() error {
				out, err := exec.ExecuteTask(ctx, tasks[id])
				outcomes[i] = struct {
					out string
					err error
				}{out, err}
				return nil
			})
		}
		_ = g.Wait()

		for i, id := range ready {
			if outcomes[i].err != nil {
				tasks[id].Status = StatusFailed
				tasks[id].Error = outcomes[i].err.Error()
			} else {
				tasks[id].Status = StatusCompleted
				tasks[id].Result = outcomes[i].out
			}
		}
	}

	blockDownstreamOfFailures(tasks)
	return nil
}

// blockDownstreamOfFailures marks every still-pending task transitively
// depending on a failed prerequisite as blocked, so ExecuteParallel's loop
// termination leaves no task silently stuck at pending.
func blockDownstreamOfFailures(tasks []DecomposedTask) {
	changed := true
	for changed {
		changed = false
		for i := range tasks {
			if tasks[i].Status != StatusPending {
				continue
			}
			for _, p := range tasks[i].Prerequisites {
				if tasks[p].Status == StatusFailed || tasks[p].Status == StatusBlocked {
					tasks[i].Status = StatusBlocked
					changed = true
					break
				}
			}
		}
	}
}
