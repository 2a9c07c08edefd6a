package llm

import (
	"context"
	"errors"
)

// Responder is a local/offline completion function, e.g. a wrapper around an
// in-process model runtime or a rule-based stub used in tests and demos.
type Responder func(ctx context.Context, req Request) (string, error)

// LocalProvider implements Provider for free, offline inference. It never
// reports real usage, letting callers fall back to EstimateTokens, and Free()
// true tells the cost controller (C1) this provider never needs budget
// enforcement.
type LocalProvider struct {
	respond Responder
}

// NewLocal builds a Provider around a local Responder function.
func NewLocal(respond Responder) (*LocalProvider, error) {
	if respond == nil {
		return nil, errors.New("local: responder function is required")
	}
	return &LocalProvider{respond: respond}, nil
}

// Kind reports KindLocal.
func (p *LocalProvider) Kind() Kind { return KindLocal }

// Free reports true: local inference never costs anything.
func (p *LocalProvider) Free() bool { return true }

// Chat invokes the local responder and estimates usage from text length
// since local runtimes rarely report exact token counts.
func (p *LocalProvider) Chat(ctx context.Context, req Request) (Response, error) {
	text, err := p.respond(ctx, req)
	if err != nil {
		return Response{}, err
	}
	var inputChars int
	inputChars += len(req.System)
	for _, m := range req.Messages {
		inputChars += len(m.Text)
	}
	return Response{
		Text: text,
		Usage: Usage{
			InputTokens:  EstimateTokens(req.System) + estimateMessages(req.Messages),
			OutputTokens: EstimateTokens(text),
		},
		Reported: false,
	}, nil
}

// ChatStream emits the full response as a single chunk; local responders in
// this adapter do not produce incremental output.
func (p *LocalProvider) ChatStream(ctx context.Context, req Request, emit func(StreamChunk) error) (Response, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if emitErr := emit(StreamChunk{TextDelta: resp.Text, Done: true, Usage: resp.Usage, Reported: resp.Reported}); emitErr != nil {
		return Response{}, emitErr
	}
	return resp, nil
}

func estimateMessages(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += EstimateTokens(m.Text)
	}
	return n
}
