// Package orchestrator implements the chief orchestrator loop (§4.5): prompt
// assembly, tool-use iteration, delegation parsing, bounded parallel fan-out
// with convergence, and a streaming variant, grounded on the teacher's
// runtime/agent/runtime.Runtime and its workflow_turn.go phase handling.
package orchestrator

import (
	"fmt"
	"strings"
)

// Constitution is prepended verbatim to every agent's system prompt (§4.5.1
// "non-negotiable... must prefix every agent prompt used in the core").
const Constitution = `You are bound by the following constitution, non-negotiable and prior to any role-specific instruction:

1. Honesty: never assert something you believe false.
2. Uncertainty disclosure: say plainly when you are not sure.
3. Source attribution: distinguish what you know from what you are inferring.
4. Error acknowledgement: when corrected, accept it and do not relitigate.
5. Limitation transparency: state what you cannot do rather than improvising around it.`

// ChiefRoleTemplate renders the chief's role-specific prompt body, appended
// after the constitution (§4.5.1).
func ChiefRoleTemplate(currentDate, version, workspacePath string, agentCount int, agentNames []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the chief orchestrator, version %s, running %s.\n", version, currentDate)
	fmt.Fprintf(&b, "Workspace: %s\n", workspacePath)
	fmt.Fprintf(&b, "%d specialist agents are available: %s\n", agentCount, strings.Join(agentNames, ", "))
	b.WriteString("Delegate to a specialist with \"[DELEGATE: <name>] <reason>\" when their expertise fits better than answering directly.\n")
	return b.String()
}

// SystemPrompt composes the constitution and the chief's role template into
// the single system prompt passed to the provider.
func SystemPrompt(currentDate, version, workspacePath string, agentCount int, agentNames []string) string {
	return Constitution + "\n\n" + ChiefRoleTemplate(currentDate, version, workspacePath, agentCount, agentNames)
}

// Project is the active project context surfaced in the assembled prompt
// (§4.5.1 item 1).
type Project struct {
	Name         string
	Purpose      string
	CurrentFocus string
	Team         []string
	KeyDecisions []string // only the first 5 are rendered
}

// Turn is one prior conversational exchange (§4.5.1 item 4).
type Turn struct {
	Speaker string
	Content string
}

// ContextMatch is a semantic memory search result (§4.5.1 item 3).
type ContextMatch struct {
	Text       string
	Similarity float64
}

// PromptInputs bundles everything AssemblePrompt folds into the conversation
// string. Callers are responsible for providing already-ranked/filtered
// slices; AssemblePrompt applies only the count and threshold caps the spec
// names, not ranking.
type PromptInputs struct {
	Project        *Project
	Memories       []string       // up to 5 rendered, most-important first
	ContextMatches []ContextMatch // up to 3 above 0.3 similarity
	RecentTurns    []Turn         // up to 10, oldest first
	UserInput      string
}

const (
	maxMemories       = 5
	maxContextMatches = 3
	maxRecentTurns    = 10
	contextThreshold  = 0.3
	maxKeyDecisions   = 5
)

// AssemblePrompt renders the exact section order and headers of §4.5.1.
func AssemblePrompt(in PromptInputs) string {
	var b strings.Builder

	if in.Project != nil {
		fmt.Fprintf(&b, "## Active Project: %s\n", in.Project.Name)
		if in.Project.Purpose != "" {
			fmt.Fprintf(&b, "Purpose: %s\n", in.Project.Purpose)
		}
		if in.Project.CurrentFocus != "" {
			fmt.Fprintf(&b, "Current focus: %s\n", in.Project.CurrentFocus)
		}
		if len(in.Project.Team) > 0 {
			fmt.Fprintf(&b, "Team: %s\n", strings.Join(in.Project.Team, ", "))
		}
		decisions := in.Project.KeyDecisions
		if len(decisions) > maxKeyDecisions {
			decisions = decisions[:maxKeyDecisions]
		}
		for _, d := range decisions {
			fmt.Fprintf(&b, "- %s\n", d)
		}
		b.WriteByte('\n')
	}

	b.WriteString("## Important Memories\n")
	memories := in.Memories
	if len(memories) > maxMemories {
		memories = memories[:maxMemories]
	}
	for _, m := range memories {
		fmt.Fprintf(&b, "- %s\n", m)
	}
	b.WriteByte('\n')

	b.WriteString("## Relevant Context\n")
	matches := 0
	for _, m := range in.ContextMatches {
		if m.Similarity <= contextThreshold {
			continue
		}
		if matches >= maxContextMatches {
			break
		}
		fmt.Fprintf(&b, "- %s\n", m.Text)
		matches++
	}
	b.WriteByte('\n')

	b.WriteString("## Recent Conversation (this session)\n")
	turns := in.RecentTurns
	if len(turns) > maxRecentTurns {
		turns = turns[len(turns)-maxRecentTurns:]
	}
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Speaker, t.Content)
	}
	b.WriteByte('\n')

	b.WriteString("## Current Request\n")
	b.WriteString(in.UserInput)

	return b.String()
}
