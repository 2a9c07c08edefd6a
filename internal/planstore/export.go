package planstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// PlanExport is the full exportable view of a plan and its tasks.
type PlanExport struct {
	Plan     Plan     `json:"plan"`
	Tasks    []Task   `json:"tasks"`
	Progress Progress `json:"progress"`
}

func (s *Store) loadExport(ctx context.Context, planID string) (PlanExport, error) {
	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return PlanExport{}, err
	}
	tasks, err := s.ListTasks(ctx, planID)
	if err != nil {
		return PlanExport{}, err
	}
	progress, err := s.Progress(ctx, planID)
	if err != nil {
		return PlanExport{}, err
	}
	return PlanExport{Plan: plan, Tasks: tasks, Progress: progress}, nil
}

// ExportJSON renders a plan and its tasks as indented JSON.
func (s *Store) ExportJSON(ctx context.Context, planID string) (string, error) {
	export, err := s.loadExport(ctx, planID)
	if err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", fmt.Errorf("planstore: export json: %w", err)
	}
	return string(out), nil
}

// ExportMarkdown renders a plan as a checklist-style Markdown document:
// a heading, the plan description, a progress line, and one line per task
// indented by nesting depth.
func (s *Store) ExportMarkdown(ctx context.Context, planID string) (string, error) {
	export, err := s.loadExport(ctx, planID)
	if err != nil {
		return "", err
	}
	byParent := groupByParent(export.Tasks)

	var b strings.Builder
	fmt.Fprintf(&b, "# Plan: %s\n\n", export.Plan.Description)
	fmt.Fprintf(&b, "Status: **%s** — %d%% complete (%d/%d tasks)\n\n",
		export.Plan.Status, export.Progress.Percent, export.Progress.Completed, export.Progress.Total)

	var writeLevel func(parentID *string, depth int)
	writeLevel = func(parentID *string, depth int) {
		for _, t := range byParent[parentKey(parentID)] {
			box := " "
			if t.Status == TaskCompleted || t.Status == TaskSkipped {
				box = "x"
			}
			fmt.Fprintf(&b, "%s- [%s] %s _(status: %s)_\n", strings.Repeat("  ", depth), box, t.Description, t.Status)
			writeLevel(&t.ID, depth+1)
		}
	}
	writeLevel(nil, 0)
	return b.String(), nil
}

// ExportMermaid renders a plan's tasks as a Mermaid timeline: one node per
// task in creation order, connected sequentially, labeled by status.
func (s *Store) ExportMermaid(ctx context.Context, planID string) (string, error) {
	export, err := s.loadExport(ctx, planID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	if len(export.Tasks) == 0 {
		b.WriteString("  Empty[No tasks]\n")
		return b.String(), nil
	}
	for i, t := range export.Tasks {
		nodeID := fmt.Sprintf("T%d", i)
		label := fmt.Sprintf("%s (%s)", sanitizeMermaidLabel(t.Description), t.Status)
		switch t.Status {
		case TaskCompleted:
			fmt.Fprintf(&b, "  %s([%s])\n", nodeID, label)
		case TaskFailed:
			fmt.Fprintf(&b, "  %s{{%s}}\n", nodeID, label)
		default:
			fmt.Fprintf(&b, "  %s[%s]\n", nodeID, label)
		}
	}
	for i := 1; i < len(export.Tasks); i++ {
		fmt.Fprintf(&b, "  T%d --> T%d\n", i-1, i)
	}
	return b.String(), nil
}

func sanitizeMermaidLabel(s string) string {
	replacer := strings.NewReplacer("[", "(", "]", ")", "\"", "'", "\n", " ")
	return replacer.Replace(s)
}

func parentKey(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}

func groupByParent(tasks []Task) map[string][]Task {
	out := make(map[string][]Task)
	for _, t := range tasks {
		key := parentKey(t.ParentTaskID)
		out[key] = append(out[key], t)
	}
	return out
}
