// Package llm: OpenAI adapter, translating Request/Response into Chat
// Completions calls using github.com/openai/openai-go, the direct
// counterpart of the teacher's features/model/openai package (which targets
// an older SDK) updated to the go.mod-pinned openai-go client.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatClient captures the subset of openai-go used by the adapter.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIProvider implements Provider via OpenAI Chat Completions.
type OpenAIProvider struct {
	chat  ChatClient
	model string
}

// NewOpenAI builds a Provider from an openai-go chat-completions client.
func NewOpenAI(chat ChatClient, model string) (*OpenAIProvider, error) {
	if chat == nil {
		return nil, errors.New("openai: client is required")
	}
	if model == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	return &OpenAIProvider{chat: chat, model: model}, nil
}

// NewOpenAIFromAPIKey constructs a provider using the default OpenAI HTTP
// client, authenticated with apiKey; an empty apiKey is rejected.
func NewOpenAIFromAPIKey(apiKey, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAI(&c.Chat.Completions, model)
}

// Kind reports KindOpenAI.
func (p *OpenAIProvider) Kind() Kind { return KindOpenAI }

// Free reports false: OpenAI calls are metered.
func (p *OpenAIProvider) Free() bool { return false }

// Chat issues a non-streaming chat completion call.
func (p *OpenAIProvider) Chat(ctx context.Context, req Request) (Response, error) {
	params, err := p.prepare(req)
	if err != nil {
		return Response{}, err
	}
	resp, err := p.chat.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	return translateCompletion(resp), nil
}

// ChatStream degrades to a single Chat call followed by one final chunk;
// true token streaming is left to a future provider-specific enhancement.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req Request, emit func(StreamChunk) error) (Response, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if emitErr := emit(StreamChunk{TextDelta: resp.Text, Done: true, Usage: resp.Usage, Reported: resp.Reported}); emitErr != nil {
		return Response{}, emitErr
	}
	return resp, nil
}

func (p *OpenAIProvider) prepare(req Request) (openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("openai: messages are required")
	}
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Text))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Text))
		case RoleTool:
			msgs = append(msgs, openai.ToolMessage(m.Text, m.ToolCallID))
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Text))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			data, err := json.Marshal(t.InputSchema)
			if err != nil {
				return openai.ChatCompletionNewParams{}, fmt.Errorf("openai: tool %q schema: %w", t.Name, err)
			}
			var params map[string]any
			if err := json.Unmarshal(data, &params); err != nil {
				return openai.ChatCompletionNewParams{}, fmt.Errorf("openai: tool %q schema: %w", t.Name, err)
			}
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  params,
				},
			})
		}
		params.Tools = tools
	}
	return params, nil
}

func translateCompletion(resp *openai.ChatCompletion) Response {
	var out Response
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		out.Text = choice.Message.Content
		for _, tc := range choice.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:      tc.ID,
				Name:    tc.Function.Name,
				Payload: json.RawMessage(tc.Function.Arguments),
			})
		}
	}
	out.Usage = Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	out.Reported = true
	return out
}
