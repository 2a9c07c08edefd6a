package tools_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/convergio/internal/tools"
	"goa.design/convergio/runtime/mcp"
)

type rpcEnvelope struct {
	Method string          `json:"method"`
	ID     uint64          `json:"id"`
	Params json.RawMessage `json:"params"`
}

func newFakeMCPServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env rpcEnvelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		w.Header().Set("Content-Type", "application/json")
		switch env.Method {
		case "initialize":
			writeRPC(w, `{"jsonrpc":"2.0","id":%d,"result":{}}`, env.ID)
		case "tools/call":
			writeRPC(w, `{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":"{\"sum\":7}","mimeType":"application/json"}]}}`, env.ID)
		default:
			writeRPC(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, env.ID)
		}
	}))
}

func writeRPC(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

func TestHTTPCallerCallToolReturnsStructuredResult(t *testing.T) {
	srv := newFakeMCPServer(t)
	defer srv.Close()

	caller, err := tools.NewHTTPCaller(context.Background(), tools.HTTPCallerOptions{Endpoint: srv.URL})
	require.NoError(t, err)

	resp, err := caller.CallTool(context.Background(), mcp.CallRequest{
		Suite:   "calc",
		Tool:    "add",
		Payload: json.RawMessage(`{"a":3,"b":4}`),
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"sum":7}`, string(resp.Result))
	require.JSONEq(t, `{"sum":7}`, string(resp.Structured))
}

func TestHTTPCallerCallToolPropagatesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env rpcEnvelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		w.Header().Set("Content-Type", "application/json")
		if env.Method == "initialize" {
			writeRPC(w, `{"jsonrpc":"2.0","id":%d,"result":{}}`, env.ID)
			return
		}
		writeRPC(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"unknown tool"}}`, env.ID)
	}))
	defer srv.Close()

	caller, err := tools.NewHTTPCaller(context.Background(), tools.HTTPCallerOptions{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = caller.CallTool(context.Background(), mcp.CallRequest{Suite: "calc", Tool: "missing"})
	require.Error(t, err)
}
