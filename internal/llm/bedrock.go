// Package llm: AWS Bedrock adapter. Translates Request/Response into Converse
// API calls, the way features/model/bedrock does in the teacher repo, trimmed
// to this package's simpler Message/Request shape (no thinking budgets, cache
// checkpoints, or Nova-specific tool-cache restrictions).
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
)

// RuntimeClient captures the subset of the Bedrock runtime client used here.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockProvider implements Provider on top of the AWS Bedrock Converse API.
type BedrockProvider struct {
	runtime   RuntimeClient
	modelID   string
	maxTokens int
}

// NewBedrock builds a Provider from a Bedrock runtime client and model ID.
func NewBedrock(runtime RuntimeClient, modelID string, maxTokens int) (*BedrockProvider, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if modelID == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}
	return &BedrockProvider{runtime: runtime, modelID: modelID, maxTokens: maxTokens}, nil
}

// Kind reports KindBedrock.
func (p *BedrockProvider) Kind() Kind { return KindBedrock }

// Free reports false: Bedrock calls are metered.
func (p *BedrockProvider) Free() bool { return false }

// Chat issues a Converse call.
func (p *BedrockProvider) Chat(ctx context.Context, req Request) (Response, error) {
	input, err := p.prepare(req)
	if err != nil {
		return Response{}, err
	}
	out, err := p.runtime.Converse(ctx, input)
	if err != nil {
		if isRateLimited(err) {
			return Response{}, fmt.Errorf("bedrock: rate limited: %w", err)
		}
		return Response{}, fmt.Errorf("bedrock converse: %w", err)
	}
	return translateConverse(out)
}

// ChatStream degenerates to a single Chat call, as with the other adapters.
func (p *BedrockProvider) ChatStream(ctx context.Context, req Request, emit func(StreamChunk) error) (Response, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if emitErr := emit(StreamChunk{TextDelta: resp.Text, Done: true, Usage: resp.Usage, Reported: resp.Reported}); emitErr != nil {
		return Response{}, emitErr
	}
	return resp, nil
}

func (p *BedrockProvider) prepare(req Request) (*bedrockruntime.ConverseInput, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	messages := make([]brtypes.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleUser:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Text}},
			})
		case RoleAssistant:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Text}},
			})
		case RoleTool:
			status := brtypes.ToolResultStatusSuccess
			if m.IsError {
				status = brtypes.ToolResultStatusError
			}
			messages = append(messages, brtypes.Message{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{
					Value: brtypes.ToolResultBlock{
						ToolUseId: aws.String(m.ToolCallID),
						Status:    status,
						Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: m.Text}},
					},
				}},
			})
		case RoleSystem:
			// folded into the System field below
		}
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(p.modelID),
		Messages: messages,
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}
	if len(req.Tools) > 0 {
		toolConfig, err := encodeToolConfig(req.Tools)
		if err != nil {
			return nil, err
		}
		input.ToolConfig = toolConfig
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens > 0 || req.Temperature > 0 {
		cfg := &brtypes.InferenceConfiguration{}
		if maxTokens > 0 {
			v := int32(maxTokens)
			cfg.MaxTokens = &v
		}
		if req.Temperature > 0 {
			v := float32(req.Temperature)
			cfg.Temperature = &v
		}
		input.InferenceConfig = cfg
	}
	return input, nil
}

func encodeToolConfig(defs []ToolDefinition) (*brtypes.ToolConfiguration, error) {
	tools := make([]brtypes.Tool, 0, len(defs))
	for _, t := range defs {
		data, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("bedrock: tool %q schema: %w", t.Name, err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("bedrock: tool %q schema: %w", t.Name, err)
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(m)},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}, nil
}

func translateConverse(out *bedrockruntime.ConverseOutput) (Response, error) {
	if out == nil {
		return Response{}, errors.New("bedrock: response is nil")
	}
	var resp Response
	if msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				resp.Text += v.Value
			case *brtypes.ContentBlockMemberToolUse:
				var name, id string
				if v.Value.Name != nil {
					name = *v.Value.Name
				}
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				payload, _ := json.Marshal(v.Value.Input)
				resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: id, Name: name, Payload: payload})
			}
		}
	}
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			resp.Usage.InputTokens = int(*out.Usage.InputTokens)
		}
		if out.Usage.OutputTokens != nil {
			resp.Usage.OutputTokens = int(*out.Usage.OutputTokens)
		}
		resp.Reported = true
	}
	return resp, nil
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	return false
}
