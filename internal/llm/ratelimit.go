package llm

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter applies an AIMD-style adaptive token bucket in front of a
// Provider: it estimates the token cost of each call, blocks the caller
// until capacity is available, and backs off its tokens-per-minute budget
// whenever the wrapped provider reports rate limiting, recovering gradually
// on successful calls. Grounded on the teacher's
// features/model/middleware/ratelimit.go AdaptiveRateLimiter, with the
// Pulse-backed cluster coordination dropped: this module runs one
// orchestrator process per deployment, so only the process-local limiter
// applies.
type RateLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM float64
	minTPM     float64
	maxTPM     float64

	recoveryRate float64
}

// NewRateLimiter constructs a RateLimiter budgeted at initialTPM tokens per
// minute, growing no further than maxTPM. initialTPM <= 0 defaults to a
// conservative 60000 TPM; maxTPM < initialTPM is clamped to initialTPM.
func NewRateLimiter(initialTPM, maxTPM float64) *RateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &RateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wrap returns a Provider that enforces this limiter before every Chat/
// ChatStream call to next.
func (l *RateLimiter) Wrap(next Provider) Provider {
	return &limitedProvider{next: next, limiter: l}
}

type limitedProvider struct {
	next    Provider
	limiter *RateLimiter
}

func (p *limitedProvider) Kind() Kind { return p.next.Kind() }
func (p *limitedProvider) Free() bool { return p.next.Free() }

func (p *limitedProvider) Chat(ctx context.Context, req Request) (Response, error) {
	if err := p.limiter.wait(ctx, req); err != nil {
		return Response{}, err
	}
	resp, err := p.next.Chat(ctx, req)
	p.limiter.observe(err)
	return resp, err
}

func (p *limitedProvider) ChatStream(ctx context.Context, req Request, emit func(StreamChunk) error) (Response, error) {
	if err := p.limiter.wait(ctx, req); err != nil {
		return Response{}, err
	}
	resp, err := p.next.ChatStream(ctx, req, emit)
	p.limiter.observe(err)
	return resp, err
}

func (l *RateLimiter) wait(ctx context.Context, req Request) error {
	return l.limiter.WaitN(ctx, estimateRequestTokens(req))
}

func (l *RateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if isRateLimited(err) {
		l.backoff()
	}
}

func (l *RateLimiter) backoff() {
	l.mu.Lock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
	l.mu.Unlock()
}

func (l *RateLimiter) probe() {
	l.mu.Lock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
	l.mu.Unlock()
}

// estimateRequestTokens sums the chars/4 estimate (EstimateTokens) over the
// system prompt and every message's text, the same heuristic callers apply
// to provider responses that don't report usage.
func estimateRequestTokens(req Request) int {
	total := EstimateTokens(req.System)
	for _, m := range req.Messages {
		total += EstimateTokens(m.Text)
	}
	if total == 0 {
		total = 1
	}
	return total
}
