// Package decomposer implements the task decomposer (§4.9): it parses an
// LLM's JSON task-graph response under strict security limits, validates the
// prerequisite graph is a DAG, and executes it in topologically-ready
// waves.
package decomposer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/convergio/internal/registry"
)

// Size and count limits enforced by ParseLLMOutput (§4.9 "Parsing rules
// (security)").
const (
	MaxInputBytes     = 1 << 20 // 1 MiB
	MaxTasks          = 50
	MaxPrerequisites  = 20
	MaxDescriptionLen = 512
	MaxValidationLen  = 256
)

// blockedSubstrings reject a description/validation string outright
// (§4.9), checked case-insensitively like the graph package's condition
// blocklist (internal/workflow/graph.blockedConditionSubstrings).
var blockedSubstrings = []string{"<script", "javascript:", "eval(", "exec("}

// validRoles is the closed role set of §3; unrecognized roles fall back to
// executor rather than being rejected (§4.9).
var validRoles = map[registry.Role]bool{
	registry.RoleOrchestrator: true,
	registry.RoleAnalyst:      true,
	registry.RoleCoder:        true,
	registry.RoleWriter:       true,
	registry.RoleCritic:       true,
	registry.RolePlanner:      true,
	registry.RoleExecutor:     true,
	registry.RoleMemory:       true,
}

// Status is a decomposed task's execution state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// DecomposedTask is one node of the decomposition's prerequisite DAG. ID is
// the task's index in the parsed array, doubling as the prerequisite
// reference used by the source JSON (§3 "DecomposedTask").
type DecomposedTask struct {
	ID            int
	Description   string
	Role          registry.Role
	Prerequisites []int
	Validation    string
	Status        Status
	Result        string
	Error         string
	MaxRetries    int
}

// rawTask mirrors the LLM's JSON task shape before validation.
type rawTask struct {
	Description   string `json:"description"`
	Role          string `json:"role"`
	Prerequisites []int  `json:"prerequisites"`
	Validation    string `json:"validation"`
}

type rawDocument struct {
	Tasks []rawTask `json:"tasks"`
}

// taskGraphSchema is the structural shape ParseLLMOutput requires before it
// even looks at individual field limits: a JSON object with a "tasks" array
// of objects carrying the four expected fields with the right JSON types.
const taskGraphSchema = `{
	"type": "object",
	"required": ["tasks"],
	"properties": {
		"tasks": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["description", "role"],
				"properties": {
					"description": {"type": "string"},
					"role": {"type": "string"},
					"prerequisites": {"type": "array", "items": {"type": "integer"}},
					"validation": {"type": "string"}
				}
			}
		}
	}
}`

var compiledTaskGraphSchema = compileTaskGraphSchema()

func compileTaskGraphSchema() *jsonschema.Schema {
	var schemaDoc any
	if err := json.Unmarshal([]byte(taskGraphSchema), &schemaDoc); err != nil {
		panic(fmt.Sprintf("decomposer: invalid embedded schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("task-graph.json", schemaDoc); err != nil {
		panic(fmt.Sprintf("decomposer: add schema resource: %v", err))
	}
	schema, err := c.Compile("task-graph.json")
	if err != nil {
		panic(fmt.Sprintf("decomposer: compile embedded schema: %v", err))
	}
	return schema
}

// ParseLLMOutput validates and decodes the LLM's `{"tasks":[...]}` response
// per §4.9's security rules. Every rule is a hard rejection: oversized
// input, a non-object root, a missing tasks array, too many tasks, too many
// prerequisites on any one task, oversized description/validation strings,
// blocked substrings, and out-of-range or self-referential prerequisite
// indices all return a descriptive error rather than best-effort recovery.
func ParseLLMOutput(raw []byte) ([]DecomposedTask, error) {
	if len(raw) > MaxInputBytes {
		return nil, fmt.Errorf("decomposer: input exceeds %d bytes", MaxInputBytes)
	}

	var schemaInstance any
	if err := json.Unmarshal(raw, &schemaInstance); err != nil {
		return nil, fmt.Errorf("decomposer: root must be a JSON object with a tasks array: %w", err)
	}
	if err := compiledTaskGraphSchema.Validate(schemaInstance); err != nil {
		return nil, fmt.Errorf("decomposer: schema validation: %w", err)
	}

	var doc rawDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decomposer: root must be a JSON object with a tasks array: %w", err)
	}
	if doc.Tasks == nil {
		return nil, fmt.Errorf("decomposer: missing tasks array")
	}
	if len(doc.Tasks) > MaxTasks {
		return nil, fmt.Errorf("decomposer: %d tasks exceeds the limit of %d", len(doc.Tasks), MaxTasks)
	}

	tasks := make([]DecomposedTask, len(doc.Tasks))
	for i, rt := range doc.Tasks {
		if len(rt.Prerequisites) > MaxPrerequisites {
			return nil, fmt.Errorf("decomposer: task %d has %d prerequisites, exceeds limit %d", i, len(rt.Prerequisites), MaxPrerequisites)
		}
		if len(rt.Description) > MaxDescriptionLen {
			return nil, fmt.Errorf("decomposer: task %d description exceeds %d chars", i, MaxDescriptionLen)
		}
		if len(rt.Validation) > MaxValidationLen {
			return nil, fmt.Errorf("decomposer: task %d validation exceeds %d chars", i, MaxValidationLen)
		}
		if err := checkBlocked(rt.Description); err != nil {
			return nil, fmt.Errorf("decomposer: task %d description: %w", i, err)
		}
		if err := checkBlocked(rt.Validation); err != nil {
			return nil, fmt.Errorf("decomposer: task %d validation: %w", i, err)
		}
		for _, p := range rt.Prerequisites {
			if p < 0 || p >= len(doc.Tasks) {
				return nil, fmt.Errorf("decomposer: task %d has out-of-range prerequisite %d", i, p)
			}
			if p == i {
				return nil, fmt.Errorf("decomposer: task %d is self-referential", i)
			}
		}

		role := registry.Role(strings.ToLower(strings.TrimSpace(rt.Role)))
		if !validRoles[role] {
			role = registry.RoleExecutor
		}

		tasks[i] = DecomposedTask{
			ID:            i,
			Description:   rt.Description,
			Role:          role,
			Prerequisites: append([]int(nil), rt.Prerequisites...),
			Validation:    rt.Validation,
			Status:        StatusPending,
		}
	}
	return tasks, nil
}

func checkBlocked(s string) error {
	lower := strings.ToLower(s)
	for _, sub := range blockedSubstrings {
		if strings.Contains(lower, sub) {
			return fmt.Errorf("contains blocked substring %q", sub)
		}
	}
	return nil
}
