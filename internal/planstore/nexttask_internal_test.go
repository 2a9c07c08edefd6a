package planstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// assignPending stamps assigned_agent onto a still-pending task, simulating
// a task pre-assigned to an agent (e.g. by role match) that hasn't been
// claimed yet — the one state ClaimTask's pending->in_progress transition
// can't produce, needed to exercise NextTask's agent-preference tiering.
func assignPending(t *testing.T, s *Store, taskID, agent string) {
	t.Helper()
	_, err := s.db.ExecContext(context.Background(),
		`UPDATE tasks SET assigned_agent = ? WHERE id = ?`, agent, taskID)
	require.NoError(t, err)
}

func TestNextTaskPrefersRowsAssignedToTheCandidateAgent(t *testing.T) {
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	p, err := s.CreatePlan(ctx, "plan", nil)
	require.NoError(t, err)

	other, err := s.AddTask(ctx, p.ID, nil, "assigned to someone else", 50)
	require.NoError(t, err)
	assignPending(t, s, other.ID, "writer-1")

	unassigned, err := s.AddTask(ctx, p.ID, nil, "unassigned", 50)
	require.NoError(t, err)

	mine, err := s.AddTask(ctx, p.ID, nil, "assigned to me", 50)
	require.NoError(t, err)
	assignPending(t, s, mine.ID, "coder-1")

	got, err := s.NextTask(ctx, p.ID, "coder-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, mine.ID, got.ID, "a row already assigned to the candidate agent must win regardless of creation order")

	require.NoError(t, s.ClaimTask(ctx, mine.ID, "coder-1"))
	got, err = s.NextTask(ctx, p.ID, "coder-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, unassigned.ID, got.ID, "an unassigned row must win over a row assigned to a different agent")

	require.NoError(t, s.ClaimTask(ctx, unassigned.ID, "coder-1"))
	got, err = s.NextTask(ctx, p.ID, "coder-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, other.ID, got.ID, "falls back to a row assigned to a different agent once nothing better is pending")
}

func TestNextTaskBreaksTiesByPriorityThenCreationOrder(t *testing.T) {
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	p, err := s.CreatePlan(ctx, "plan", nil)
	require.NoError(t, err)

	low, err := s.AddTask(ctx, p.ID, nil, "low priority", 10)
	require.NoError(t, err)
	first, err := s.AddTask(ctx, p.ID, nil, "same high priority, created first", 90)
	require.NoError(t, err)
	_, err = s.AddTask(ctx, p.ID, nil, "high priority, created second", 90)
	require.NoError(t, err)

	got, err := s.NextTask(ctx, p.ID, "any-agent")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotEqual(t, low.ID, got.ID)
	require.Equal(t, first.ID, got.ID, "among equal priority, the earliest-created row wins")
}
