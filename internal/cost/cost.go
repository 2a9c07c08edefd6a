// Package cost implements the cost controller (§4.1): it meters token usage
// per call, per agent, and per session, and enforces a budget across a
// process's lifetime. Its locking discipline follows the teacher's rate
// limiter (features/model/middleware.AdaptiveRateLimiter): a single mutex
// guards the counters, and the change callback is always invoked outside the
// lock.
package cost

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Direction distinguishes input (prompt) from output (completion) text when
// estimating cost from raw text.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

// Usage tracks accumulated token counts.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// AgentUsage is the per-agent running total.
type AgentUsage struct {
	Usage
	CostUSD float64
}

// ModelPricing is USD per million tokens for a given model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// PricingTable resolves a model identifier to its pricing, falling back to a
// default entry for unknown models.
type PricingTable interface {
	Price(model string) ModelPricing
}

// staticPricing is a pluggable map-backed PricingTable.
type staticPricing struct {
	byModel map[string]ModelPricing
	def     ModelPricing
}

// DefaultPricing approximates a "Sonnet"-class model's published per-token
// rates (§4.1 "default pricing is taken from a Sonnet-class table"), used
// when the caller does not supply its own PricingTable.
func DefaultPricing() PricingTable {
	def := ModelPricing{InputPerMillion: 3.0, OutputPerMillion: 15.0}
	return &staticPricing{
		byModel: map[string]ModelPricing{
			"claude-sonnet":   def,
			"claude-haiku":    {InputPerMillion: 0.8, OutputPerMillion: 4.0},
			"claude-opus":     {InputPerMillion: 15.0, OutputPerMillion: 75.0},
			"gpt-4o":          {InputPerMillion: 2.5, OutputPerMillion: 10.0},
			"gpt-4o-mini":     {InputPerMillion: 0.15, OutputPerMillion: 0.6},
			"bedrock-default": def,
		},
		def: def,
	}
}

func (t *staticPricing) Price(model string) ModelPricing {
	if p, ok := t.byModel[model]; ok {
		return p
	}
	return t.def
}

// DailyAggregate is a per-day rollup persisted by the caller's store (§4.1
// "persists daily aggregate (date, input, output, cost, calls=+1)").
type DailyAggregate struct {
	Date         string // YYYY-MM-DD
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Calls        int
}

// DailyStore persists daily aggregates. The plan store's SQLite handle backs
// this in the full deployment (cost_daily_totals table); nil means no
// persistence and in-memory counters remain authoritative, matching §4.1's
// failure semantics ("if persistence is unavailable, in-memory counters
// remain authoritative").
type DailyStore interface {
	AddDaily(ctx context.Context, agg DailyAggregate) error
}

// ChangeFunc is invoked after every successful RecordUsage, outside the
// controller's lock.
type ChangeFunc func(sessionTotalUSD, grandTotalUSD float64, budgetExceeded bool)

// Controller meters usage and enforces a budget. Zero value is not usable;
// construct with New.
type Controller struct {
	mu sync.Mutex

	pricing  PricingTable
	store    DailyStore
	onChange ChangeFunc

	budgetLimitUSD float64
	budgetExceeded bool

	sessionTotalUSD float64
	grandTotalUSD   float64
	sessionUsage    Usage
	grandUsage      Usage
	perAgent        map[uint64]*AgentUsage
}

// Option configures a Controller.
type Option func(*Controller)

// WithPricing overrides the default Sonnet-class pricing table.
func WithPricing(t PricingTable) Option {
	return func(c *Controller) { c.pricing = t }
}

// WithDailyStore enables daily aggregate persistence.
func WithDailyStore(s DailyStore) Option {
	return func(c *Controller) { c.store = s }
}

// WithChangeFunc registers a callback invoked after each RecordUsage.
func WithChangeFunc(f ChangeFunc) Option {
	return func(c *Controller) { c.onChange = f }
}

// New constructs a Controller. budgetLimitUSD of 0 means unlimited.
func New(budgetLimitUSD float64, opts ...Option) *Controller {
	c := &Controller{
		pricing:        DefaultPricing(),
		budgetLimitUSD: budgetLimitUSD,
		perAgent:       make(map[uint64]*AgentUsage),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.budgetExceeded = c.budgetLimitUSD > 0 && c.grandTotalUSD >= c.budgetLimitUSD
	return c
}

// RecordUsage atomically updates session, grand, and per-agent counters and
// returns the new session total, grand total, and whether the budget is now
// exceeded. free indicates a local/no-cost provider (§9 open question,
// resolved explicitly): tokens still accumulate but cost is recorded as zero
// and can never trip the budget.
func (c *Controller) RecordUsage(ctx context.Context, agentID uint64, inputTokens, outputTokens int, model string, free bool) (sessionTotal, grandTotal float64, budgetExceeded bool) {
	costUSD := 0.0
	if !free {
		costUSD = c.priceFor(model, inputTokens, outputTokens)
	}

	c.mu.Lock()
	c.sessionUsage.InputTokens += inputTokens
	c.sessionUsage.OutputTokens += outputTokens
	c.grandUsage.InputTokens += inputTokens
	c.grandUsage.OutputTokens += outputTokens
	c.sessionTotalUSD += costUSD
	c.grandTotalUSD += costUSD

	au := c.perAgent[agentID]
	if au == nil {
		au = &AgentUsage{}
		c.perAgent[agentID] = au
	}
	au.InputTokens += inputTokens
	au.OutputTokens += outputTokens
	au.CostUSD += costUSD

	if !free && c.budgetLimitUSD > 0 && c.grandTotalUSD >= c.budgetLimitUSD {
		c.budgetExceeded = true
	}

	sessionTotal = c.sessionTotalUSD
	grandTotal = c.grandTotalUSD
	budgetExceeded = c.budgetExceeded
	cb := c.onChange
	store := c.store
	c.mu.Unlock()

	if store != nil {
		agg := DailyAggregate{
			Date:         time.Now().UTC().Format("2006-01-02"),
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			CostUSD:      costUSD,
			Calls:        1,
		}
		// Persistence failure does not affect in-memory counters; the
		// controller's own totals remain authoritative per §4.1.
		_ = store.AddDaily(ctx, agg)
	}
	if cb != nil {
		cb(sessionTotal, grandTotal, budgetExceeded)
	}
	return sessionTotal, grandTotal, budgetExceeded
}

func (c *Controller) priceFor(model string, inputTokens, outputTokens int) float64 {
	p := c.pricing.Price(model)
	return float64(inputTokens)/1_000_000*p.InputPerMillion + float64(outputTokens)/1_000_000*p.OutputPerMillion
}

// SetBudget changes the limit. A grand total already at or beyond the new
// limit immediately trips budgetExceeded; raising the limit above the
// current total clears it.
func (c *Controller) SetBudget(limitUSD float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budgetLimitUSD = limitUSD
	c.budgetExceeded = limitUSD > 0 && c.grandTotalUSD >= limitUSD
}

// ResetSession zeroes session counters. budgetExceeded is preserved iff the
// grand total still meets or exceeds the limit (§4.1).
func (c *Controller) ResetSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionTotalUSD = 0
	c.sessionUsage = Usage{}
	c.budgetExceeded = c.budgetLimitUSD > 0 && c.grandTotalUSD >= c.budgetLimitUSD
}

// CheckBudget reports whether the controller is currently within budget.
func (c *Controller) CheckBudget() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.budgetExceeded
}

// Estimate approximates the USD cost of a piece of text using the chars/3
// heuristic named in §4.1 (distinct from the orchestrator's chars/4 token
// estimate in §4.5.2, which estimates tokens rather than dollars).
func (c *Controller) Estimate(model, text string, direction Direction) float64 {
	tokens := len(text) / 3
	if tokens == 0 && text != "" {
		tokens = 1
	}
	c.mu.Lock()
	p := c.pricing.Price(model)
	c.mu.Unlock()
	if direction == DirectionOutput {
		return float64(tokens) / 1_000_000 * p.OutputPerMillion
	}
	return float64(tokens) / 1_000_000 * p.InputPerMillion
}

// CanAfford reports whether turns more round-trips, averaging avgIn input
// and avgOut output tokens each, fit within the remaining budget (the limit
// minus the grand total).
// Unlimited budgets (limit 0) always afford.
func (c *Controller) CanAfford(model string, turns, avgIn, avgOut int) bool {
	c.mu.Lock()
	limit := c.budgetLimitUSD
	grand := c.grandTotalUSD
	c.mu.Unlock()
	if limit <= 0 {
		return true
	}
	projected := c.priceFor(model, turns*avgIn, turns*avgOut)
	return grand+projected <= limit
}

// Snapshot is a point-in-time read of the controller's counters.
type Snapshot struct {
	SessionTotalUSD float64
	GrandTotalUSD   float64
	SessionUsage    Usage
	GrandUsage      Usage
	BudgetLimitUSD  float64
	BudgetExceeded  bool
}

func (c *Controller) snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		SessionTotalUSD: c.sessionTotalUSD,
		GrandTotalUSD:   c.grandTotalUSD,
		SessionUsage:    c.sessionUsage,
		GrandUsage:      c.grandUsage,
		BudgetLimitUSD:  c.budgetLimitUSD,
		BudgetExceeded:  c.budgetExceeded,
	}
}

// AgentSnapshot returns a copy of the given agent's running totals.
func (c *Controller) AgentSnapshot(agentID uint64) AgentUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if au, ok := c.perAgent[agentID]; ok {
		return *au
	}
	return AgentUsage{}
}

// Report formats the controller's state for display. When local is true it
// uses the local-free report shape (no dollar figures, tokens only); metered
// mode shows dollar totals and the budget line (§4.1 "two shapes: local-free
// mode and metered mode").
func (c *Controller) Report(local bool) string {
	s := c.snapshot()
	if local {
		return fmt.Sprintf(
			"Local mode (free inference)\nSession tokens: %d in / %d out\nTotal tokens: %d in / %d out",
			s.SessionUsage.InputTokens, s.SessionUsage.OutputTokens,
			s.GrandUsage.InputTokens, s.GrandUsage.OutputTokens,
		)
	}
	budgetLine := "Budget: unlimited"
	if s.BudgetLimitUSD > 0 {
		status := "OK"
		if s.BudgetExceeded {
			status = "EXCEEDED"
		}
		budgetLine = fmt.Sprintf("Budget: $%.2f / $%.2f (%s)", s.GrandTotalUSD, s.BudgetLimitUSD, status)
	}
	return fmt.Sprintf(
		"Session: $%.4f (%d in / %d out)\nTotal: $%.4f (%d in / %d out)\n%s",
		s.SessionTotalUSD, s.SessionUsage.InputTokens, s.SessionUsage.OutputTokens,
		s.GrandTotalUSD, s.GrandUsage.InputTokens, s.GrandUsage.OutputTokens,
		budgetLine,
	)
}

// ErrorMessage returns the literal refusal string from §8 S6/§7 used by the
// orchestrator when a request is refused at entry.
func ErrorMessage() string {
	return "Budget exceeded. Use 'cost set <amount>' to increase budget."
}
