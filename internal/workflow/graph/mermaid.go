package graph

import (
	"fmt"
	"strings"
)

func shapeFor(t NodeType, label string) string {
	switch t {
	case NodeAction:
		return fmt.Sprintf("[%s]", label)
	case NodeDecision:
		return fmt.Sprintf("{%s}", label)
	case NodeHumanInput, NodeParallel, NodeConverge:
		return fmt.Sprintf("([%s])", label)
	case NodeSubgraph:
		return fmt.Sprintf("[[%s]]", label)
	default:
		return fmt.Sprintf("[%s]", label)
	}
}

func sanitizeLabel(s string) string {
	return strings.NewReplacer("[", "(", "]", ")", "{", "(", "}", ")", "\"", "'", "\n", " ").Replace(s)
}

// ExportMermaid renders the workflow as a Mermaid `flowchart TD` block
// (§6.3): each node labeled N<node_id> with a shape per its type, edges via
// `-->`, conditional edges labeled `-->|<condition>|`, fallback edges
// `-->|fallback|`, and an artificial `Start([Start])` node edging into the
// entry node.
func (w *Workflow) ExportMermaid() string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	b.WriteString("  Start([Start])\n")

	for _, n := range w.Nodes {
		label := sanitizeLabel(n.Name)
		fmt.Fprintf(&b, "  N%d%s\n", n.ID, shapeFor(n.Type, label))
	}

	if w.EntryNode != nil {
		fmt.Fprintf(&b, "  Start --> N%d\n", *w.EntryNode)
	}

	for _, n := range w.Nodes {
		if len(n.NextNodes) == 0 {
			continue
		}
		if n.ConditionExpr != "" {
			fmt.Fprintf(&b, "  N%d -->|%s| N%d\n", n.ID, sanitizeLabel(n.ConditionExpr), n.NextNodes[0])
			if n.FallbackNode != nil {
				fmt.Fprintf(&b, "  N%d -->|fallback| N%d\n", n.ID, *n.FallbackNode)
			}
			continue
		}
		for _, next := range n.NextNodes {
			fmt.Fprintf(&b, "  N%d --> N%d\n", n.ID, next)
		}
	}
	return b.String()
}
