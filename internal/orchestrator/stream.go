package orchestrator

import (
	"context"
	"errors"
	"strings"

	"goa.design/convergio/internal/cost"
	"goa.design/convergio/internal/llm"
)

// StreamCallback receives each streamed chunk of chief output (§4.5.5).
type StreamCallback func(chunk llm.StreamChunk) error

// ProcessStream runs the same context assembly as ProcessRequest but
// disables tool use and streams the chief's tokens to callback. Cost is
// estimated from the concatenated output (§4.5.5).
func (o *Orchestrator) ProcessStream(ctx context.Context, in PromptInputs, callback StreamCallback) (string, error) {
	if !o.cost.CheckBudget() {
		return "", errors.New(cost.ErrorMessage())
	}

	conversation := AssemblePrompt(in)
	system := o.systemPrompt()
	req := llm.Request{System: system, Messages: []llm.Message{{Role: llm.RoleUser, Text: conversation}}}

	var out strings.Builder
	resp, err := o.provider.ChatStream(ctx, req, func(chunk llm.StreamChunk) error {
		out.WriteString(chunk.TextDelta)
		return callback(chunk)
	})
	if err != nil {
		return "", err
	}

	final := out.String()
	if final == "" {
		final = resp.Text
	}
	o.recordCost(ctx, o.chiefID, conversation, final, resp.Usage, resp.Reported, o.provider.Free())
	return final, nil
}
