package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Caller sends one JSON-RPC call to path and decodes its result into result.
// A nil result discards the response value.
type Caller interface {
	Call(ctx context.Context, path string, params, result any) error
}

// RPCError is returned when the shop answers with a JSON-RPC error member or a
// non-2xx HTTP status.
type RPCError struct {
	HTTPStatus int
	Code       int
	Message    string
	Detail     string
}

func (e *RPCError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("rpc %d: %s (%s)", e.Code, e.Message, e.Detail)
	}
	if e.HTTPStatus != 0 && e.Code == 0 {
		return fmt.Sprintf("rpc http %d: %s", e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("rpc %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      string `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Name    string `json:"name"`
			Message string `json:"message"`
		} `json:"data"`
	} `json:"error"`
}

// RPCClient calls the shop's JSON routes over HTTP.
type RPCClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Headers    http.Header
}

// Option configures the client.
type Option func(*RPCClient)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *RPCClient) { c.HTTPClient = hc }
}

// WithHeader adds a header sent with every call.
func WithHeader(key, value string) Option {
	return func(c *RPCClient) { c.Headers.Add(key, value) }
}

// NewRPCClient creates a client for the shop at baseURL. The default HTTP client
// has no timeout; calls are bounded by their context only.
func NewRPCClient(baseURL string, opts ...Option) *RPCClient {
	c := &RPCClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
		Headers:    make(http.Header),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Call implements Caller.
func (c *RPCClient) Call(ctx context.Context, path string, params, result any) error {
	if params == nil {
		params = struct{}{}
	}
	b, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  params,
		ID:      uuid.New().String(),
	})
	if err != nil {
		return fmt.Errorf("encode rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	for k, vs := range c.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &RPCError{HTTPStatus: resp.StatusCode, Message: msg}
	}

	var envelope rpcResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	if envelope.Error != nil {
		return &RPCError{
			HTTPStatus: resp.StatusCode,
			Code:       envelope.Error.Code,
			Message:    envelope.Error.Message,
			Detail:     envelope.Error.Data.Message,
		}
	}

	if result == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", path, err)
	}
	return nil
}
