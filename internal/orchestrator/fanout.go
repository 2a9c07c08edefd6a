package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"

	"goa.design/convergio/internal/llm"
	"goa.design/convergio/internal/registry"
)

// workerResult is one delegation's outcome; failed workers are omitted from
// convergence, not aborting the run (§4.5.4 "no partial-failure abortion").
type workerResult struct {
	delegation Delegation
	agent      *registry.Agent
	text       string
	ok         bool
}

// fanOut resolves or spawns an agent per delegation and runs them
// concurrently, capped by a counting semaphore when the provider reports a
// local/limited-resource model (§4.5.4). Results preserve delegations' index
// so convergence can rebuild parse order.
func (o *Orchestrator) fanOut(ctx context.Context, delegations []Delegation) []workerResult {
	results := make([]workerResult, len(delegations))
	if len(delegations) == 0 {
		return results
	}

	width := len(delegations)
	if o.provider.Kind() == llm.KindLocal {
		width = o.localConcurrency
	}
	if width < 1 {
		width = 1
	}

	var g errgroup.Group
	g.SetLimit(width)
	for i, d := range delegations {
		i, d := i, d
		g.Go(func() error {
			results[i] = o.runWorker(ctx, d)
			return nil
		})
	}
	_ = g.Wait() // runWorker never returns an error; failures are recorded per-result
	return results
}

// runWorker spawns (or resolves) the named agent, marks it thinking, calls
// the LLM with its system prompt plus the chief's delegation reason, records
// cost against the worker, and marks it idle again (§4.5.4).
func (o *Orchestrator) runWorker(ctx context.Context, d Delegation) workerResult {
	agent, err := o.registry.Spawn(ctx, registry.RoleExecutor, d.Name, "")
	if err != nil {
		o.logger.Warn(ctx, "orchestrator: delegation target could not be resolved", "name", d.Name, "error", err.Error())
		return workerResult{delegation: d}
	}

	_ = o.registry.SetWorkState(ctx, agent.ID, registry.WorkState{Kind: registry.WorkThinking})
	defer func() { _ = o.registry.SetWorkState(ctx, agent.ID, registry.WorkState{Kind: registry.WorkIdle}) }()

	prompt := agent.SystemPrompt + "\n\nContext from chief: " + d.Reason
	resp, err := o.provider.Chat(ctx, llm.Request{System: Constitution, Messages: []llm.Message{{Role: llm.RoleUser, Text: prompt}}})
	if err != nil {
		o.logger.Warn(ctx, "orchestrator: worker call failed", "name", d.Name, "error", err.Error())
		return workerResult{delegation: d, agent: agent}
	}
	o.recordCost(ctx, agent.ID, prompt, resp.Text, resp.Usage, resp.Reported, o.provider.Free())
	return workerResult{delegation: d, agent: agent, text: resp.Text, ok: true}
}

// converge builds the synthesis prompt preserving delegation parse order
// (§4.5.4, testable property 4) and calls the LLM once more with the chief's
// system prompt, recording cost against the chief.
func (o *Orchestrator) converge(ctx context.Context, userRequest string, delegations []Delegation, results []workerResult) (string, error) {
	n := 0
	for _, r := range results {
		if r.ok {
			n++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You delegated to %d specialist agents. Their responses:\n\n", n)
	for _, r := range results {
		if !r.ok {
			continue
		}
		fmt.Fprintf(&b, "## %s's Response\n%s\n\n", capitalize(r.delegation.Name), r.text)
	}
	b.WriteString("Original request:\n")
	b.WriteString(userRequest)
	b.WriteString("\n\nSynthesize the above into a single coherent answer.")

	system := o.systemPrompt()
	resp, err := o.provider.Chat(ctx, llm.Request{System: system, Messages: []llm.Message{{Role: llm.RoleUser, Text: b.String()}}})
	if err != nil || resp.Text == "" {
		return "", ErrDelegationFailed
	}
	o.recordCost(ctx, o.chiefID, b.String(), resp.Text, resp.Usage, resp.Reported, o.provider.Free())
	return resp.Text, nil
}

// capitalize upper-cases the first rune of a canonical (lowercased) name for
// the "## <Name>'s Response" header (§4.5.4).
func capitalize(name string) string {
	if name == "" {
		return name
	}
	r := []rune(name)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
