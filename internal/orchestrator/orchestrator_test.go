package orchestrator_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/convergio/internal/bus"
	"goa.design/convergio/internal/cost"
	"goa.design/convergio/internal/llm"
	"goa.design/convergio/internal/orchestrator"
	"goa.design/convergio/internal/registry"
)

type stubProvider struct {
	mu     sync.Mutex
	calls  int
	onChat func(call int, req llm.Request) (llm.Response, error)
	kind   llm.Kind
	free   bool
}

func (p *stubProvider) Kind() llm.Kind { return p.kind }
func (p *stubProvider) Free() bool     { return p.free }

func (p *stubProvider) Chat(_ context.Context, req llm.Request) (llm.Response, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()
	return p.onChat(call, req)
}

func (p *stubProvider) ChatStream(_ context.Context, req llm.Request, emit func(llm.StreamChunk) error) (llm.Response, error) {
	resp, err := p.onChat(0, req)
	if err != nil {
		return llm.Response{}, err
	}
	if err := emit(llm.StreamChunk{TextDelta: resp.Text, Done: true}); err != nil {
		return llm.Response{}, err
	}
	return resp, nil
}

type noopTools struct{}

func (noopTools) Manifest() []llm.ToolDefinition { return nil }
func (noopTools) Execute(context.Context, llm.ToolCall) (string, error) {
	panic("tool execution not expected in this test")
}

func newHarness(t *testing.T, onChat func(call int, req llm.Request) (llm.Response, error)) (*orchestrator.Orchestrator, *stubProvider) {
	t.Helper()
	reg := registry.New()
	chief, err := reg.Spawn(context.Background(), registry.RoleOrchestrator, "chief", "")
	require.NoError(t, err)

	provider := &stubProvider{onChat: onChat}
	b := bus.New(bus.WithActiveAgents(reg.ActiveIDs))
	cc := cost.New(0)
	o := orchestrator.New(provider, "claude-sonnet", noopTools{}, reg, b, cc, chief.ID)
	return o, provider
}

func TestAssemblePromptExactHeaderOrder(t *testing.T) {
	text := orchestrator.AssemblePrompt(orchestrator.PromptInputs{
		Project:        &orchestrator.Project{Name: "Atlas"},
		Memories:       []string{"m1"},
		ContextMatches: []orchestrator.ContextMatch{{Text: "c1", Similarity: 0.9}},
		RecentTurns:    []orchestrator.Turn{{Speaker: "user", Content: "hi"}},
		UserInput:      "do the thing",
	})

	order := []string{
		"## Active Project: Atlas",
		"## Important Memories",
		"## Relevant Context",
		"## Recent Conversation (this session)",
		"## Current Request",
	}
	last := -1
	for _, h := range order {
		idx := strings.Index(text, h)
		require.GreaterOrEqual(t, idx, 0, "missing header %q", h)
		require.Greater(t, idx, last, "header %q out of order", h)
		last = idx
	}
	require.True(t, strings.HasSuffix(text, "do the thing"))
}

func TestAssemblePromptCapsContextMatchesByThresholdAndCount(t *testing.T) {
	text := orchestrator.AssemblePrompt(orchestrator.PromptInputs{
		ContextMatches: []orchestrator.ContextMatch{
			{Text: "below-threshold", Similarity: 0.1},
			{Text: "a", Similarity: 0.9},
			{Text: "b", Similarity: 0.8},
			{Text: "c", Similarity: 0.7},
			{Text: "d", Similarity: 0.6},
		},
		UserInput: "x",
	})
	require.NotContains(t, text, "below-threshold")
	require.Contains(t, text, "- a")
	require.Contains(t, text, "- b")
	require.Contains(t, text, "- c")
	require.NotContains(t, text, "- d")
}

func TestParseDelegationsMatchesS1Scenario(t *testing.T) {
	input := "Analyze plan.\n[DELEGATE: baccio] architecture\n[DELEGATE: luca] security"
	got := orchestrator.ParseDelegations(input)
	require.Equal(t, []orchestrator.Delegation{
		{Name: "baccio", Reason: "architecture"},
		{Name: "luca", Reason: "security"},
	}, got)
}

func TestParseDelegationsRejectsOversizedAndEmptyNames(t *testing.T) {
	longName := strings.Repeat("a", 300)
	input := "[DELEGATE: ] ignored\n[DELEGATE: " + longName + "] also ignored\n[DELEGATE: ok] kept"
	got := orchestrator.ParseDelegations(input)
	require.Equal(t, []orchestrator.Delegation{{Name: "ok", Reason: "kept"}}, got)
}

func TestProcessRequestNoToolsNoDelegationReturnsText(t *testing.T) {
	o, _ := newHarness(t, func(call int, req llm.Request) (llm.Response, error) {
		require.Equal(t, 1, call)
		return llm.Response{Text: "plain answer", Reported: true}, nil
	})
	out, err := o.ProcessRequest(context.Background(), "sess", orchestrator.PromptInputs{UserInput: "hi"})
	require.NoError(t, err)
	require.Equal(t, "plain answer", out)
}

func TestProcessRequestBudgetExceededRefusesWithoutInvokingProvider(t *testing.T) {
	reg := registry.New()
	chief, err := reg.Spawn(context.Background(), registry.RoleOrchestrator, "chief", "")
	require.NoError(t, err)
	provider := &stubProvider{onChat: func(int, llm.Request) (llm.Response, error) {
		t.Fatal("provider must not be invoked when budget is already exceeded")
		return llm.Response{}, nil
	}}
	cc := cost.New(1.00)
	cc.RecordUsage(context.Background(), uint64(chief.ID), 10_000_000, 0, "claude-sonnet", false)
	require.False(t, cc.CheckBudget())

	o := orchestrator.New(provider, "claude-sonnet", noopTools{}, reg, bus.New(), cc, chief.ID)
	_, err = o.ProcessRequest(context.Background(), "sess", orchestrator.PromptInputs{UserInput: "hi"})
	require.EqualError(t, err, "Budget exceeded. Use 'cost set <amount>' to increase budget.")
}

func TestProcessRequestToolUseLoopAppendsResultAndContinues(t *testing.T) {
	reg := registry.New()
	chief, err := reg.Spawn(context.Background(), registry.RoleOrchestrator, "chief", "")
	require.NoError(t, err)

	tools := &fakeTools{result: "42"}
	provider := &stubProvider{onChat: func(call int, req llm.Request) (llm.Response, error) {
		switch call {
		case 1:
			return llm.Response{ToolCalls: []llm.ToolCall{{ID: "t1", Name: "calc", Payload: json.RawMessage(`{}`)}}}, nil
		case 2:
			last := req.Messages[len(req.Messages)-1]
			require.Equal(t, llm.RoleTool, last.Role)
			require.Contains(t, last.Text, "[Tool: calc]\nResult: 42")
			return llm.Response{Text: "final"}, nil
		}
		t.Fatalf("unexpected round %d", call)
		return llm.Response{}, nil
	}}
	o := orchestrator.New(provider, "claude-sonnet", tools, reg, bus.New(), cost.New(0), chief.ID)
	out, err := o.ProcessRequest(context.Background(), "sess", orchestrator.PromptInputs{UserInput: "compute"})
	require.NoError(t, err)
	require.Equal(t, "final", out)
}

type fakeTools struct{ result string }

func (f *fakeTools) Manifest() []llm.ToolDefinition { return nil }
func (f *fakeTools) Execute(context.Context, llm.ToolCall) (string, error) { return f.result, nil }

func TestProcessRequestFanOutConvergenceMatchesS1Scenario(t *testing.T) {
	var convergencePrompt string
	o, _ := newHarness(t, func(call int, req llm.Request) (llm.Response, error) {
		switch call {
		case 1:
			return llm.Response{Text: "Analyze plan.\n[DELEGATE: baccio] architecture\n[DELEGATE: luca] security"}, nil
		case 2, 3:
			// worker calls, order not guaranteed under concurrency
			_ = req
			return llm.Response{Text: "worker response"}, nil
		case 4:
			convergencePrompt = req.Messages[0].Text
			return llm.Response{Text: "synthesized"}, nil
		}
		t.Fatalf("unexpected call %d", call)
		return llm.Response{}, nil
	})

	out, err := o.ProcessRequest(context.Background(), "sess", orchestrator.PromptInputs{UserInput: "Analyze plan."})
	require.NoError(t, err)
	require.Equal(t, "synthesized", out)

	baccioIdx := strings.Index(convergencePrompt, "## Baccio's Response")
	lucaIdx := strings.Index(convergencePrompt, "## Luca's Response")
	require.GreaterOrEqual(t, baccioIdx, 0)
	require.GreaterOrEqual(t, lucaIdx, 0)
	require.Less(t, baccioIdx, lucaIdx, "convergence must preserve parse order, not completion order")
}
