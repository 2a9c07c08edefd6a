package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"goa.design/convergio/runtime/mcp"
)

// DefaultProtocolVersion is the MCP protocol version used when none is
// configured, matching the wire version the pack's MCP clients negotiate.
const DefaultProtocolVersion = "2024-11-05"

// HTTPCallerOptions configures an HTTPCaller.
type HTTPCallerOptions struct {
	Endpoint        string
	Client          *http.Client
	ProtocolVersion string
	ClientName      string
	ClientVersion   string
	InitTimeout     time.Duration
}

// HTTPCaller implements mcp.Caller over JSON-RPC HTTP, grounded on
// features/mcp/runtime/httpcaller.go's transport (trace propagation
// dropped: that concern belongs to internal/telemetry's tracer, not this
// adapter, and nothing here yet threads a span through it).
type HTTPCaller struct {
	endpoint string
	client   *http.Client
	nextID   uint64
}

// NewHTTPCaller dials endpoint and performs the MCP initialize handshake.
func NewHTTPCaller(ctx context.Context, opts HTTPCallerOptions) (*HTTPCaller, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8080/rpc"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	c := &HTTPCaller{endpoint: endpoint, client: client}

	initCtx := ctx
	if opts.InitTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, opts.InitTimeout)
		defer cancel()
	}
	protocol := opts.ProtocolVersion
	if protocol == "" {
		protocol = DefaultProtocolVersion
	}
	clientName := opts.ClientName
	if clientName == "" {
		clientName = "convergio"
	}
	clientVersion := opts.ClientVersion
	if clientVersion == "" {
		clientVersion = "dev"
	}
	payload := map[string]any{
		"protocolVersion": protocol,
		"clientInfo":      map[string]any{"name": clientName, "version": clientVersion},
	}
	if err := c.call(initCtx, "initialize", payload, nil); err != nil {
		return nil, fmt.Errorf("tools: mcp initialize: %w", err)
	}
	return c, nil
}

// Compile-time check that HTTPCaller implements mcp.Caller.
var _ mcp.Caller = (*HTTPCaller)(nil)

// CallTool implements mcp.Caller.
func (c *HTTPCaller) CallTool(ctx context.Context, req mcp.CallRequest) (mcp.CallResponse, error) {
	params := map[string]any{
		"name":      req.Tool,
		"arguments": req.Payload,
	}
	var result toolsCallResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return mcp.CallResponse{}, err
	}
	return normalizeToolResult(result)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      uint64 `json:"id"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      uint64          `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) callerError() *mcp.Error {
	if e == nil {
		return nil
	}
	return &mcp.Error{Code: e.Code, Message: e.Message}
}

type toolsCallResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError"`
}

type contentItem struct {
	Type     string  `json:"type"`
	Text     *string `json:"text"`
	MimeType *string `json:"mimeType"`
}

func (c contentItem) text() string {
	if c.Text == nil {
		return ""
	}
	return *c.Text
}

func (c *HTTPCaller) call(ctx context.Context, method string, params any, result any) error {
	id := atomic.AddUint64(&c.nextID, 1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, ID: id, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tools: mcp rpc status %d", resp.StatusCode)
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return rpcResp.Error.callerError()
	}
	if result != nil && rpcResp.Result != nil {
		return json.Unmarshal(rpcResp.Result, result)
	}
	return nil
}

// normalizeToolResult flattens an MCP tools/call result's first content item
// into the Result/Structured shape mcp.CallResponse expects.
func normalizeToolResult(result toolsCallResult) (mcp.CallResponse, error) {
	if len(result.Content) == 0 {
		return mcp.CallResponse{}, errors.New("tools: empty MCP response")
	}
	item := result.Content[0]
	var payload, structured json.RawMessage
	if item.Text != nil {
		textBytes := []byte(*item.Text)
		if json.Valid(textBytes) {
			payload = append(json.RawMessage(nil), textBytes...)
		} else {
			marshaled, err := json.Marshal(*item.Text)
			if err != nil {
				return mcp.CallResponse{}, err
			}
			payload = marshaled
		}
		if item.MimeType != nil && *item.MimeType == "application/json" && json.Valid(textBytes) {
			structured = append(json.RawMessage(nil), textBytes...)
		}
	}
	if len(payload) == 0 {
		text := item.text()
		if text == "" {
			return mcp.CallResponse{}, errors.New("tools: tool returned no content")
		}
		marshaled, err := json.Marshal(text)
		if err != nil {
			return mcp.CallResponse{}, err
		}
		payload = marshaled
	}
	if structured == nil && json.Valid(payload) {
		structured = append(json.RawMessage(nil), payload...)
	}
	return mcp.CallResponse{Result: payload, Structured: structured}, nil
}
