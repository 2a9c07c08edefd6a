package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"goa.design/convergio/internal/bus"
	"goa.design/convergio/internal/cost"
	"goa.design/convergio/internal/llm"
	"goa.design/convergio/internal/registry"
	"goa.design/convergio/internal/telemetry"
)

// MaxToolIterations bounds the tool-use loop of §4.5.2.
const MaxToolIterations = 10

// DefaultLocalConcurrencyCap is the fan-out semaphore width used when the
// chief's provider reports a local/limited-resource model (§4.5.4).
const DefaultLocalConcurrencyCap = 2

// ErrDelegationFailed is returned when convergence synthesis yields no
// response (§4.5.7 "Delegation synthesis returning null").
var ErrDelegationFailed = errors.New("orchestrator: delegation failed")

// ToolRegistry dispatches model-requested tool calls (§4.5.2).
type ToolRegistry interface {
	Manifest() []llm.ToolDefinition
	Execute(ctx context.Context, call llm.ToolCall) (output string, err error)
}

// Orchestrator runs the chief's per-request loop: prompt assembly, tool-use
// iteration, delegation parsing, and bounded fan-out/convergence.
type Orchestrator struct {
	provider llm.Provider
	model    string
	tools    ToolRegistry
	registry *registry.Registry
	bus      *bus.Bus
	cost     *cost.Controller
	chiefID  registry.AgentID

	version           string
	workspacePath     string
	maxToolIterations int
	localConcurrency  int
	logger            telemetry.Logger
	now               func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithVersion sets the version string substituted into the chief's prompt.
func WithVersion(v string) Option { return func(o *Orchestrator) { o.version = v } }

// WithWorkspacePath sets the workspace path substituted into the chief's prompt.
func WithWorkspacePath(p string) Option { return func(o *Orchestrator) { o.workspacePath = p } }

// WithMaxToolIterations overrides the default 10-round tool-use cap.
func WithMaxToolIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxToolIterations = n
		}
	}
}

// WithLocalConcurrencyCap overrides the default fan-out semaphore width.
func WithLocalConcurrencyCap(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.localConcurrency = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l telemetry.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithClock overrides the time source (tests only).
func WithClock(f func() time.Time) Option { return func(o *Orchestrator) { o.now = f } }

// New constructs an Orchestrator. provider/model are the chief's; fan-out
// workers share the same provider (§9 "dynamic dispatch... capability set",
// a single capability set is the whole deployment's provider surface here).
func New(provider llm.Provider, model string, tools ToolRegistry, reg *registry.Registry, b *bus.Bus, cc *cost.Controller, chiefID registry.AgentID, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:          provider,
		model:             model,
		tools:             tools,
		registry:          reg,
		bus:               b,
		cost:              cc,
		chiefID:           chiefID,
		version:           "dev",
		workspacePath:     ".",
		maxToolIterations: MaxToolIterations,
		localConcurrency:  DefaultLocalConcurrencyCap,
		logger:            telemetry.NoopLogger{},
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) systemPrompt() string {
	agents := o.registry.ActiveIDs()
	names := make([]string, 0, len(agents))
	for _, id := range agents {
		a, err := o.registry.FindByID(context.Background(), registry.AgentID(id))
		if err == nil {
			names = append(names, a.Name)
		}
	}
	return SystemPrompt(o.now().Format("2006-01-02"), o.version, o.workspacePath, len(names), names)
}

// recordCost meters a single LLM call against agentID, estimating tokens via
// chars/4 when the provider does not report usage (§4.5.2).
func (o *Orchestrator) recordCost(ctx context.Context, agentID registry.AgentID, promptText, outputText string, usage llm.Usage, reported, free bool) {
	in, out := usage.InputTokens, usage.OutputTokens
	if !reported {
		in = llm.EstimateTokens(promptText)
		out = llm.EstimateTokens(outputText)
	}
	o.cost.RecordUsage(ctx, uint64(agentID), in, out, o.model, free)
}

// ProcessRequest runs one full request through the state machine of §4.5.6
// and returns the chief's final response text.
func (o *Orchestrator) ProcessRequest(ctx context.Context, sessionID string, in PromptInputs) (string, error) {
	if !o.cost.CheckBudget() {
		return "", errors.New(cost.ErrorMessage())
	}

	state := NewRunState()
	state.toAssemblingContext()
	conversation := AssemblePrompt(in)
	system := o.systemPrompt()

	messages := []llm.Message{{Role: llm.RoleUser, Text: conversation}}

	var finalText string
	for k := 1; k <= o.maxToolIterations; k++ {
		state.toLLMRound(k)

		req := llm.Request{System: system, Messages: messages, Tools: o.tools.Manifest()}
		resp, err := o.provider.Chat(ctx, req)
		if err != nil {
			return "", fmt.Errorf("orchestrator: llm round %d failed: %w", k, err)
		}
		o.recordCost(ctx, o.chiefID, conversation, resp.Text, resp.Usage, resp.Reported, o.provider.Free())

		if len(resp.ToolCalls) == 0 {
			finalText = resp.Text
			break
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			out, execErr := o.tools.Execute(ctx, call)
			var block string
			if execErr != nil {
				block = fmt.Sprintf("[Tool: %s]\nResult: Error: %s", call.Name, execErr)
			} else {
				block = fmt.Sprintf("[Tool: %s]\nResult: %s", call.Name, out)
			}
			messages = append(messages, llm.Message{Role: llm.RoleTool, Text: block, ToolCallID: call.ID, IsError: execErr != nil})
		}
		if k == o.maxToolIterations {
			finalText = resp.Text
		}
	}

	state.toParsingDelegations()
	delegations := ParseDelegations(finalText)
	if len(delegations) == 0 {
		return o.finalize(ctx, sessionID, in, state, finalText)
	}

	state.toFanOut()
	results := o.fanOut(ctx, delegations)

	state.toConverging()
	synthesis, err := o.converge(ctx, in.UserInput, delegations, results)
	if err != nil {
		return "", err
	}
	return o.finalize(ctx, sessionID, in, state, synthesis)
}

// finalize persists the response to the bus as an agent_response message
// (§4.5.6) and returns it.
func (o *Orchestrator) finalize(ctx context.Context, _ string, _ PromptInputs, state *RunState, text string) (string, error) {
	state.toFinalize()
	if o.bus != nil {
		o.bus.Send(ctx, bus.TypeAgentResponse, uint64(o.chiefID), bus.BroadcastRecipient, text, nil, nil)
	}
	return text, nil
}
