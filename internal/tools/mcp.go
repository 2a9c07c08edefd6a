// Package tools adapts Model Context Protocol servers into the orchestrator's
// ToolRegistry capability, grounded on runtime/mcp's transport-agnostic
// Caller interface and features/mcp/runtime/httpcaller.go's JSON-RPC dial.
package tools

import (
	"context"
	"errors"
	"fmt"

	"goa.design/convergio/internal/llm"
	"goa.design/convergio/runtime/mcp"
)

// ToolSpec describes one MCP tool the manifest advertises to the model: the
// Suite groups it under an MCP server, matching CallRequest.Suite.
type ToolSpec struct {
	Suite       string
	Tool        string
	Description string
	InputSchema any
}

// Registry is an orchestrator.ToolRegistry backed by one or more MCP
// callers. It does not perform live tool discovery (MCP's tools/list); the
// manifest is supplied up front, the way a project's config would declare
// which toolsets a chief may delegate tool calls to.
type Registry struct {
	callers map[string]mcp.Caller
	specs   []ToolSpec
}

// New builds a Registry. callers maps a ToolSpec.Suite to the Caller that
// serves it; specs is the full advertised manifest.
func New(callers map[string]mcp.Caller, specs []ToolSpec) *Registry {
	return &Registry{callers: callers, specs: specs}
}

// Manifest implements orchestrator.ToolRegistry.
func (r *Registry) Manifest() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, len(r.specs))
	for i, s := range r.specs {
		defs[i] = llm.ToolDefinition{
			Name:        qualifiedName(s.Suite, s.Tool),
			Description: s.Description,
			InputSchema: s.InputSchema,
		}
	}
	return defs
}

// Execute implements orchestrator.ToolRegistry. call.Name must be one of the
// qualified names returned by Manifest.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	suite, tool, err := splitQualifiedName(call.Name)
	if err != nil {
		return "", err
	}
	caller, ok := r.callers[suite]
	if !ok {
		return "", fmt.Errorf("tools: no MCP caller registered for suite %q", suite)
	}
	req := mcp.CallRequest{Suite: suite, Tool: tool, Payload: call.Payload}
	resp, err := caller.CallTool(ctx, req)
	if err != nil && retryable(err) {
		resp, err = caller.CallTool(ctx, req)
	}
	if err != nil {
		return "", fmt.Errorf("tools: mcp call %s/%s: %w", suite, tool, err)
	}
	if resp.Structured != nil {
		return string(resp.Structured), nil
	}
	return string(resp.Result), nil
}

// retryable reports whether a single retry of the same call is worth
// attempting: only a JSON-RPC error the server itself marks as transient
// (parse/internal), per mcp.Error.Retryable, qualifies. A malformed-request
// error would just fail again with the same arguments.
func retryable(err error) bool {
	var mcpErr *mcp.Error
	return errors.As(err, &mcpErr) && mcpErr.Retryable()
}

func qualifiedName(suite, tool string) string {
	return suite + "::" + tool
}

func splitQualifiedName(name string) (suite, tool string, err error) {
	for i := 0; i+1 < len(name); i++ {
		if name[i] == ':' && name[i+1] == ':' {
			return name[:i], name[i+2:], nil
		}
	}
	return "", "", fmt.Errorf("tools: malformed tool name %q, expected suite::tool", name)
}
