// Package mcp adapts MCP (Model Context Protocol) tool servers to the
// internal/tools registry (§4.6 ToolRegistry): whatever transport a caller
// dials (HTTP JSON-RPC today; stdio/SSE are plausible future adapters), it
// speaks the same Caller interface so the orchestrator's tool execution path
// never branches on transport.
package mcp

import (
	"context"
	"encoding/json"
)

const (
	// JSON-RPC canonical error codes per spec, used by Error.Retryable to
	// classify a failed tool call for internal/tools's retry policy:
	// transport/transient failures (parse, internal) are worth a retry,
	// request-shape failures (method/params) are not.
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// Caller invokes MCP tools on behalf of the orchestration core's tool
// registry. It is implemented by transport-specific clients (HTTPCaller
// today; stdio/streaming adapters would implement it the same way).
type Caller interface {
	CallTool(ctx context.Context, req CallRequest) (CallResponse, error)
}

// Error represents a JSON-RPC error returned by the MCP server.
type Error struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Retryable reports whether the failure is worth retrying: a parse or
// internal-error response suggests a transient server-side hiccup, while
// invalid-request/method/params responses mean the call itself is malformed
// and retrying with the same arguments would fail identically.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case JSONRPCParseError, JSONRPCInternalError:
		return true
	default:
		return false
	}
}

// CallRequest describes the toolset/tool invocation issued by the runtime.
type CallRequest struct {
	// Suite identifies the MCP toolset (server name) associated with the tool.
	Suite string
	// Tool is the MCP-local tool identifier (without the suite prefix).
	Tool string
	// Payload is the JSON-encoded tool arguments produced by the runtime.
	Payload json.RawMessage
}

// CallResponse captures the MCP tool result returned by the caller.
type CallResponse struct {
	// Result is the JSON payload returned by the MCP server.
	Result json.RawMessage
	// Structured carries optional structured content blobs emitted by MCP tools.
	Structured json.RawMessage
}
