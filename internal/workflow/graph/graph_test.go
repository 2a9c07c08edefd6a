package graph_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/convergio/internal/workflow/graph"
)

func TestValidateNameRejectsInvalidChars(t *testing.T) {
	require.NoError(t, graph.ValidateName("Step 1 - Fetch_Data.v2"))
	require.Error(t, graph.ValidateName(""))
	require.Error(t, graph.ValidateName("bad@name"))
}

func TestValidateConditionExprRejectsBlockedSubstrings(t *testing.T) {
	require.NoError(t, graph.ValidateConditionExpr("mode == fast"))
	require.Error(t, graph.ValidateConditionExpr("eval(danger)"))
	require.Error(t, graph.ValidateConditionExpr("<script>alert(1)</script>"))
}

func TestStateSetGetRoundTripsThroughSanitize(t *testing.T) {
	s := graph.NewState()
	require.NoError(t, s.Set("greeting", "hello \"world\"\tand\nmore", 100))
	got, ok := s.Get("greeting")
	require.True(t, ok)
	require.Equal(t, graph.Sanitize("hello \"world\"\tand\nmore"), got)
}

func TestStateSetRejectsInvalidKeyWithoutMutating(t *testing.T) {
	s := graph.NewState()
	err := s.Set("bad key!", "value", 1)
	require.Error(t, err)
	_, ok := s.Get("bad key!")
	require.False(t, ok)
}

func TestRouterLinearPathWithNoCondition(t *testing.T) {
	w := graph.NewWorkflow("wf")
	a, _ := w.AddNode(graph.Node{Name: "A", Type: graph.NodeAction})
	b, _ := w.AddNode(graph.Node{Name: "B", Type: graph.NodeAction})
	w.Nodes[a].NextNodes = []int{b}

	next, err := w.Next(a, graph.NewState())
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, b, *next)
}

func TestRouterConditionalRoutingMatchesS4Scenario(t *testing.T) {
	w := graph.NewWorkflow("wf")
	decision, _ := w.AddNode(graph.Node{Name: "Decide", Type: graph.NodeDecision, ConditionExpr: "mode == fast"})
	a, _ := w.AddNode(graph.Node{Name: "A", Type: graph.NodeAction})
	b, _ := w.AddNode(graph.Node{Name: "B", Type: graph.NodeAction})
	w.Nodes[decision].NextNodes = []int{a}
	w.Nodes[decision].FallbackNode = &b

	fastState := graph.NewState()
	require.NoError(t, fastState.Set("mode", "fast", 1))
	next, err := w.Next(decision, fastState)
	require.NoError(t, err)
	require.Equal(t, a, *next)

	slowState := graph.NewState()
	require.NoError(t, slowState.Set("mode", "slow", 1))
	next, err = w.Next(decision, slowState)
	require.NoError(t, err)
	require.Equal(t, b, *next)

	emptyState := graph.NewState()
	next, err = w.Next(decision, emptyState)
	require.NoError(t, err)
	require.Equal(t, b, *next)
}

func TestRouterEmptyNextNodesTerminates(t *testing.T) {
	w := graph.NewWorkflow("wf")
	a, _ := w.AddNode(graph.Node{Name: "A", Type: graph.NodeAction})
	next, err := w.Next(a, graph.NewState())
	require.NoError(t, err)
	require.Nil(t, next)
}

func TestExportMermaidIncludesStartAndShapes(t *testing.T) {
	w := graph.NewWorkflow("wf")
	action, _ := w.AddNode(graph.Node{Name: "Fetch", Type: graph.NodeAction})
	decision, _ := w.AddNode(graph.Node{Name: "Check", Type: graph.NodeDecision, ConditionExpr: "mode == fast"})
	human, _ := w.AddNode(graph.Node{Name: "Review", Type: graph.NodeHumanInput})
	w.Nodes[action].NextNodes = []int{decision}
	w.Nodes[decision].NextNodes = []int{human}
	w.Nodes[decision].FallbackNode = &human
	require.NoError(t, w.SetEntry(action))

	out := w.ExportMermaid()
	require.Contains(t, out, "flowchart TD")
	require.Contains(t, out, "Start([Start])")
	require.Contains(t, out, "Start --> N0")
	require.Contains(t, out, "[Fetch]")
	require.Contains(t, out, "{Check}")
	require.Contains(t, out, "([Review])")
	require.Contains(t, out, "-->|mode == fast|")
	require.Contains(t, out, "-->|fallback|")
}
