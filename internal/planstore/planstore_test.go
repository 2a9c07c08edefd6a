package planstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/convergio/internal/cost"
	"goa.design/convergio/internal/planstore"
)

func dailyAgg(date string, in, out int, costUSD float64) cost.DailyAggregate {
	return cost.DailyAggregate{Date: date, InputTokens: in, OutputTokens: out, CostUSD: costUSD, Calls: 1}
}

func newStore(t *testing.T) *planstore.Store {
	t.Helper()
	s, err := planstore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreatePlanDefaultsToPending(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	p, err := s.CreatePlan(ctx, "ship the release", nil)
	require.NoError(t, err)
	require.Equal(t, planstore.PlanPending, p.Status)
	require.NotEmpty(t, p.ID)
}

func TestAddTaskEnforcesMaxDepth(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p, err := s.CreatePlan(ctx, "deep tree", nil)
	require.NoError(t, err)

	var parentID *string
	for i := 0; i < 32; i++ {
		task, err := s.AddTask(ctx, p.ID, parentID, fmt.Sprintf("level %d", i), 50)
		require.NoError(t, err)
		parentID = &task.ID
	}

	_, err = s.AddTask(ctx, p.ID, parentID, "one too deep", 50)
	require.ErrorIs(t, err, planstore.ErrMaxDepthExceeded)
}

func TestClaimTaskExactlyOneWinnerAmongConcurrentCallers(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p, err := s.CreatePlan(ctx, "race", nil)
	require.NoError(t, err)
	task, err := s.AddTask(ctx, p.ID, nil, "contested task", 50)
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i] = s.ClaimTask(ctx, task.ID, fmt.Sprintf("agent-%d", i))
		}()
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			require.ErrorIs(t, err, planstore.ErrBusy)
		}
	}
	require.Equal(t, 1, successes, "exactly one concurrent claim should succeed")

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, planstore.TaskInProgress, got.Status)
}

func TestClaimTaskAlreadyClaimedReturnsBusy(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p, _ := s.CreatePlan(ctx, "plan", nil)
	task, _ := s.AddTask(ctx, p.ID, nil, "task", 50)

	require.NoError(t, s.ClaimTask(ctx, task.ID, "agent-a"))
	err := s.ClaimTask(ctx, task.ID, "agent-b")
	require.ErrorIs(t, err, planstore.ErrBusy)
}

func TestProgressComputesPercentAndHandlesEmptyPlan(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p, _ := s.CreatePlan(ctx, "plan", nil)

	empty, err := s.Progress(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 0, empty.Percent)

	t1, _ := s.AddTask(ctx, p.ID, nil, "task one", 50)
	t2, _ := s.AddTask(ctx, p.ID, nil, "task two", 50)
	require.NoError(t, s.ClaimTask(ctx, t1.ID, "agent"))
	require.NoError(t, s.CompleteTask(ctx, t1.ID, "done"))
	_ = t2

	progress, err := s.Progress(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 2, progress.Total)
	require.Equal(t, 1, progress.Completed)
	require.Equal(t, 50, progress.Percent)
}

func TestRefreshPlanStatusReflectsTaskOutcome(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p, _ := s.CreatePlan(ctx, "plan", nil)
	task, _ := s.AddTask(ctx, p.ID, nil, "only task", 50)

	require.NoError(t, s.RefreshPlanStatus(ctx, p.ID))
	got, _ := s.GetPlan(ctx, p.ID)
	require.Equal(t, planstore.PlanActive, got.Status)

	require.NoError(t, s.ClaimTask(ctx, task.ID, "agent"))
	require.NoError(t, s.CompleteTask(ctx, task.ID, "result"))
	require.NoError(t, s.RefreshPlanStatus(ctx, p.ID))

	got, _ = s.GetPlan(ctx, p.ID)
	require.Equal(t, planstore.PlanCompleted, got.Status)
}

func TestDeletePlanCascadesTasks(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p, _ := s.CreatePlan(ctx, "plan", nil)
	task, _ := s.AddTask(ctx, p.ID, nil, "task", 50)

	require.NoError(t, s.DeletePlan(ctx, p.ID))
	_, err := s.GetTask(ctx, task.ID)
	require.ErrorIs(t, err, planstore.ErrNotFound)
}

func TestExportMarkdownIncludesNestedTasks(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p, _ := s.CreatePlan(ctx, "build the thing", nil)
	parent, _ := s.AddTask(ctx, p.ID, nil, "parent task", 50)
	_, _ = s.AddTask(ctx, p.ID, &parent.ID, "child task", 50)

	md, err := s.ExportMarkdown(ctx, p.ID)
	require.NoError(t, err)
	require.Contains(t, md, "parent task")
	require.Contains(t, md, "child task")
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.SaveCheckpoint(ctx, "wf-1", 3, `{"x":1}`, nil)
	require.NoError(t, err)
	_, err = s.SaveCheckpoint(ctx, "wf-1", 5, `{"x":2}`, nil)
	require.NoError(t, err)

	latest, err := s.LatestCheckpoint(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, 5, latest.NodeID)

	all, err := s.ListCheckpoints(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestAddDailyAccumulatesAcrossCalls(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddDaily(ctx, dailyAgg("2026-07-31", 100, 50, 0.01)))
	require.NoError(t, s.AddDaily(ctx, dailyAgg("2026-07-31", 200, 75, 0.02)))

	total, err := s.DailyTotal(ctx, "2026-07-31")
	require.NoError(t, err)
	require.Equal(t, 300, total.InputTokens)
	require.Equal(t, 125, total.OutputTokens)
	require.InDelta(t, 0.03, total.CostUSD, 0.0001)
	require.Equal(t, 2, total.Calls)
}
