// Package llm: Anthropic adapter. Translates Request/Response into Claude
// Messages API calls using github.com/anthropics/anthropic-sdk-go, the way
// features/model/anthropic does in the teacher repo.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient captures the subset of the Anthropic SDK used here so tests
// can substitute a mock instead of a real HTTP client.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicProvider implements Provider on top of Anthropic Claude Messages.
type AnthropicProvider struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

// NewAnthropic builds a Provider from an Anthropic Messages client.
func NewAnthropic(msg MessagesClient, model string, maxTokens int) (*AnthropicProvider, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicProvider{msg: msg, model: model, maxTokens: maxTokens}, nil
}

// NewAnthropicFromAPIKey constructs a provider using the default Anthropic
// HTTP client, authenticated with apiKey; an empty apiKey is rejected.
func NewAnthropicFromAPIKey(apiKey, model string, maxTokens int) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropic(&c.Messages, model, maxTokens)
}

// Kind reports KindAnthropic.
func (p *AnthropicProvider) Kind() Kind { return KindAnthropic }

// Free reports false: Anthropic calls are metered.
func (p *AnthropicProvider) Free() bool { return false }

// Chat issues a non-streaming Messages.New call.
func (p *AnthropicProvider) Chat(ctx context.Context, req Request) (Response, error) {
	params, err := p.prepare(req)
	if err != nil {
		return Response{}, err
	}
	msg, err := p.msg.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateMessage(msg), nil
}

// ChatStream is not supported by this minimal adapter; callers fall back to
// Chat when the provider does not offer true streaming, which is a valid
// degenerate case of the §4.5.5 streaming variant.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req Request, emit func(StreamChunk) error) (Response, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if emitErr := emit(StreamChunk{TextDelta: resp.Text, Done: true, Usage: resp.Usage, Reported: resp.Reported}); emitErr != nil {
		return Response{}, emitErr
	}
	return resp, nil
}

func (p *AnthropicProvider) prepare(req Request) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: messages are required")
	}
	conversation := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Text)))
		case RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Text)))
		case RoleTool:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Text, m.IsError)))
		case RoleSystem:
			// folded into params.System below
		}
	}
	if len(conversation) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: at least one user/assistant message is required")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tdefs := make([]sdk.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			schema, err := toolInputSchema(t.InputSchema)
			if err != nil {
				return sdk.MessageNewParams{}, fmt.Errorf("anthropic: tool %q: %w", t.Name, err)
			}
			tdefs = append(tdefs, sdk.ToolUnionParamOfTool(schema, t.Name))
		}
		params.Tools = tdefs
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	return params, nil
}

func toolInputSchema(schema any) (sdk.ToolInputSchemaParam, error) {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func translateMessage(msg *sdk.Message) Response {
	var out Response
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case sdk.TextBlock:
			out.Text += v.Text
		case sdk.ToolUseBlock:
			payload, _ := json.Marshal(v.Input)
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: v.ID, Name: v.Name, Payload: payload})
		}
	}
	out.Usage = Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	out.Reported = true
	return out
}
