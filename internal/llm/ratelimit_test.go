package llm_test

import (
	"context"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"goa.design/convergio/internal/llm"
)

type throttleErr struct{}

func (throttleErr) Error() string                 { return "throttled" }
func (throttleErr) ErrorCode() string             { return "ThrottlingException" }
func (throttleErr) ErrorMessage() string          { return "throttled" }
func (throttleErr) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

type scriptedProvider struct {
	responses []error
	calls     int
}

func (p *scriptedProvider) Kind() llm.Kind { return llm.KindLocal }
func (p *scriptedProvider) Free() bool     { return true }

func (p *scriptedProvider) Chat(context.Context, llm.Request) (llm.Response, error) {
	err := p.responses[p.calls]
	p.calls++
	return llm.Response{Text: "ok"}, err
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req llm.Request, _ func(llm.StreamChunk) error) (llm.Response, error) {
	return p.Chat(ctx, req)
}

func TestRateLimiterBacksOffOnThrottling(t *testing.T) {
	inner := &scriptedProvider{responses: []error{throttleErr{}, nil}}
	rl := llm.NewRateLimiter(600, 600) // 10 tokens/sec, burst 600
	wrapped := rl.Wrap(inner)

	_, err := wrapped.Chat(context.Background(), llm.Request{Messages: []llm.Message{{Text: "hi"}}})
	require.Error(t, err)

	_, err = wrapped.Chat(context.Background(), llm.Request{Messages: []llm.Message{{Text: "hi"}}})
	require.NoError(t, err)
	require.Equal(t, 2, inner.calls)
}

func TestRateLimiterPassesThroughKindAndFree(t *testing.T) {
	inner := &scriptedProvider{responses: []error{nil}}
	rl := llm.NewRateLimiter(0, 0)
	wrapped := rl.Wrap(inner)
	require.Equal(t, llm.KindLocal, wrapped.Kind())
	require.True(t, wrapped.Free())
}
