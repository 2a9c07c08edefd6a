package tools_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/convergio/internal/llm"
	"goa.design/convergio/internal/tools"
	"goa.design/convergio/runtime/mcp"
)

type fakeCaller struct {
	lastReq mcp.CallRequest
	result  json.RawMessage
	err     error

	// failFirstN, if set, returns err for the first N calls then succeeds.
	failFirstN int
	calls      int
}

func (f *fakeCaller) CallTool(_ context.Context, req mcp.CallRequest) (mcp.CallResponse, error) {
	f.lastReq = req
	f.calls++
	if f.failFirstN > 0 && f.calls <= f.failFirstN {
		return mcp.CallResponse{}, f.err
	}
	if f.failFirstN == 0 && f.err != nil {
		return mcp.CallResponse{}, f.err
	}
	return mcp.CallResponse{Result: f.result}, nil
}

func TestManifestAdvertisesQualifiedToolNames(t *testing.T) {
	reg := tools.New(nil, []tools.ToolSpec{
		{Suite: "fs", Tool: "read_file", Description: "reads a file"},
		{Suite: "fs", Tool: "write_file", Description: "writes a file"},
	})
	manifest := reg.Manifest()
	require.Len(t, manifest, 2)
	require.Equal(t, "fs::read_file", manifest[0].Name)
	require.Equal(t, "fs::write_file", manifest[1].Name)
}

func TestExecuteRoutesToTheSuiteCaller(t *testing.T) {
	caller := &fakeCaller{result: json.RawMessage(`{"ok":true}`)}
	reg := tools.New(map[string]mcp.Caller{"fs": caller}, []tools.ToolSpec{
		{Suite: "fs", Tool: "read_file"},
	})
	out, err := reg.Execute(context.Background(), llm.ToolCall{
		Name:    "fs::read_file",
		Payload: json.RawMessage(`{"path":"a.txt"}`),
	})
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, out)
	require.Equal(t, "fs", caller.lastReq.Suite)
	require.Equal(t, "read_file", caller.lastReq.Tool)
}

func TestExecuteRejectsMalformedToolName(t *testing.T) {
	reg := tools.New(nil, nil)
	_, err := reg.Execute(context.Background(), llm.ToolCall{Name: "not-qualified"})
	require.Error(t, err)
}

func TestExecuteRejectsUnknownSuite(t *testing.T) {
	reg := tools.New(map[string]mcp.Caller{}, nil)
	_, err := reg.Execute(context.Background(), llm.ToolCall{Name: "missing::tool"})
	require.Error(t, err)
}

func TestExecuteRetriesOnceOnATransientMCPError(t *testing.T) {
	caller := &fakeCaller{
		result:     json.RawMessage(`{"ok":true}`),
		err:        &mcp.Error{Code: mcp.JSONRPCInternalError, Message: "temporary hiccup"},
		failFirstN: 1,
	}
	reg := tools.New(map[string]mcp.Caller{"fs": caller}, []tools.ToolSpec{{Suite: "fs", Tool: "read_file"}})

	out, err := reg.Execute(context.Background(), llm.ToolCall{Name: "fs::read_file"})
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, out)
	require.Equal(t, 2, caller.calls, "one failed attempt plus one retry")
}

func TestExecuteDoesNotRetryANonTransientMCPError(t *testing.T) {
	caller := &fakeCaller{
		err:        &mcp.Error{Code: mcp.JSONRPCInvalidParams, Message: "bad arguments"},
		failFirstN: 999,
	}
	reg := tools.New(map[string]mcp.Caller{"fs": caller}, []tools.ToolSpec{{Suite: "fs", Tool: "read_file"}})

	_, err := reg.Execute(context.Background(), llm.ToolCall{Name: "fs::read_file"})
	require.Error(t, err)
	require.Equal(t, 1, caller.calls, "invalid-params is not retryable")
}
