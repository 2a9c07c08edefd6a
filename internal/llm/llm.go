// Package llm defines the provider-agnostic message and chat types used by
// the orchestrator loop (C5), the task decomposer (C9), and the workflow
// engine's action nodes (C7). Providers are modeled as a capability/tagged
// union per SPEC_FULL §9 ("Dynamic dispatch... is modeled as a capability
// set... Variants for provider kind are tagged unions, not inheritance
// chains"), not as an interface hierarchy with optional methods.
package llm

import (
	"context"
	"encoding/json"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Kind tags which concrete backend a Provider wraps.
type Kind string

const (
	KindAnthropic Kind = "anthropic"
	KindOpenAI    Kind = "openai"
	KindBedrock   Kind = "bedrock"
	KindLocal     Kind = "local"
)

type (
	// ToolDefinition describes a tool exposed to the model.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema any
	}

	// ToolCall is a tool invocation requested by the model.
	ToolCall struct {
		ID      string
		Name    string
		Payload json.RawMessage
	}

	// Message is a single chat turn. Tool results are attached as a message
	// with Role RoleTool and ToolCallID set, mirroring the synthetic
	// "[Tool: <name>]\nResult: <output>" block described in §4.5.2 — the text
	// form is what the conversation string carries; this struct is the
	// provider-facing equivalent used by Chat.
	Message struct {
		Role       Role
		Text       string
		ToolCalls  []ToolCall // set on assistant messages requesting tool use
		ToolCallID string     // set on tool-result messages
		IsError    bool       // set on tool-result messages representing a failure
	}

	// Usage tracks token counts for a single call, used by the cost
	// controller (C1) to meter spend.
	Usage struct {
		InputTokens  int
		OutputTokens int
	}

	// Request bundles a call to a Provider.
	Request struct {
		System      string
		Messages    []Message
		Tools       []ToolDefinition
		MaxTokens   int
		Temperature float64
	}

	// Response is a single, non-streaming completion.
	Response struct {
		Text      string
		ToolCalls []ToolCall
		Usage     Usage
		// Reported indicates the provider returned real token counts (as
		// opposed to the chars/4 estimate applied by callers per §4.5.2 when
		// the provider is silent about usage).
		Reported bool
	}

	// StreamChunk is a fragment of a streaming completion.
	StreamChunk struct {
		TextDelta string
		Done      bool
		Usage     Usage
		Reported  bool
	}

	// Provider is the capability every model backend exposes. Free providers
	// (local/offline inference) set Free() true so the cost controller can
	// record zero-cost usage without tripping the budget, making the Open
	// Question in SPEC_FULL/§9 ("whether budget_exceeded should ever trip in
	// local mode") explicit rather than implicit.
	Provider interface {
		Kind() Kind
		Free() bool
		Chat(ctx context.Context, req Request) (Response, error)
		ChatStream(ctx context.Context, req Request, emit func(StreamChunk) error) (Response, error)
	}
)

// EstimateTokens approximates a token count from character length using the
// chars/4 heuristic specified in §4.5.2 for providers that don't report
// usage.
func EstimateTokens(s string) int {
	n := len(s) / 4
	if n == 0 && s != "" {
		n = 1
	}
	return n
}
