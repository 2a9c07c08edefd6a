package decomposer

import (
	"context"
	"fmt"

	"goa.design/convergio/internal/cost"
	"goa.design/convergio/internal/llm"
	"goa.design/convergio/internal/registry"
)

// DefaultExecutor is the concrete TaskExecutor wiring used outside tests: it
// resolves or spawns an agent matching the task's role, calls the provider,
// and records cost against the resolved agent (§4.9).
type DefaultExecutor struct {
	Registry *registry.Registry
	Provider llm.Provider
	Cost     *cost.Controller
	Model    string
}

// ExecuteTask implements TaskExecutor.
func (e *DefaultExecutor) ExecuteTask(ctx context.Context, task DecomposedTask) (string, error) {
	a, err := e.Registry.FindByRole(ctx, task.Role)
	if err != nil {
		a, err = e.Registry.Spawn(ctx, task.Role, fmt.Sprintf("task-%d-worker", task.ID), "")
		if err != nil {
			return "", fmt.Errorf("decomposer: resolving agent for task %d: %w", task.ID, err)
		}
	}

	prompt := fmt.Sprintf("%s\n\nTask: %s\n\nValidation criteria: %s", a.SystemPrompt, task.Description, task.Validation)
	resp, err := e.Provider.Chat(ctx, llm.Request{
		System:   "",
		Messages: []llm.Message{{Role: llm.RoleUser, Text: prompt}},
	})
	if err != nil {
		return "", err
	}

	in, out := resp.Usage.InputTokens, resp.Usage.OutputTokens
	if !resp.Reported {
		in = llm.EstimateTokens(prompt)
		out = llm.EstimateTokens(resp.Text)
	}
	e.Cost.RecordUsage(ctx, uint64(a.ID), in, out, e.Model, e.Provider.Free())
	return resp.Text, nil
}
