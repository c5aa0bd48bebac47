// Package mcp provides an MCP (Model Context Protocol) client that speaks
// JSON-RPC 2.0 over HTTP. It is how the protocol reaches the durable
// memory server.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ArnBdev/OneAgent-sub002/transport"
)

// Header names.
const (
	HeaderSessionID       = "Mcp-Session-Id"
	HeaderProtocolVersion = "MCP-Protocol-Version"
)

// DefaultProtocolVersion is sent when Config.ProtocolVersion is empty.
const DefaultProtocolVersion = "2025-06-18"

// Errors returned by the client.
var (
	ErrSessionExpired = errors.New("mcp session expired")
	ErrNoResponse     = errors.New("mcp stream ended without a response")
)

// StatusError is a non-2xx HTTP answer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mcp http status %d: %s", e.StatusCode, e.Body)
}

// Tool represents an MCP tool definition.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolsListResult is the result of tools/list.
type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

// ToolCallParams are the parameters for tools/call.
type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ToolCallResult is the result of tools/call.
type ToolCallResult struct {
	Content           []Content       `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError"`
}

// Content represents content in a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Text joins the text content items.
func (r *ToolCallResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Decode unmarshals the structured result into v, falling back to the
// first text item parsed as JSON.
func (r *ToolCallResult) Decode(v interface{}) error {
	if len(r.StructuredContent) > 0 && string(r.StructuredContent) != "null" {
		return json.Unmarshal(r.StructuredContent, v)
	}
	for _, c := range r.Content {
		if c.Type == "text" {
			return json.Unmarshal([]byte(c.Text), v)
		}
	}
	return errors.New("tool result has no decodable content")
}

// Config configures an HTTPClient.
type Config struct {
	// URL of the MCP endpoint, e.g. http://localhost:8010/mcp.
	URL string

	// Token is sent as a bearer token when set.
	Token string

	// ProtocolVersion is negotiated during initialize. Default: 2025-06-18
	ProtocolVersion string

	// Timeout bounds each HTTP exchange. Default: 30 seconds
	Timeout time.Duration

	ClientName    string
	ClientVersion string

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// HTTPClient is an MCP client over HTTP. It remembers the session id a
// stateful server hands out and echoes it on later requests.
type HTTPClient struct {
	cfg  Config
	http *http.Client
	id   atomic.Int64

	mu          sync.Mutex
	sessionID   string
	version     string
	initialized bool
	tools       []Tool
}

// NewHTTPClient creates a client. No request is sent until the first call.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("mcp: url is required")
	}
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = DefaultProtocolVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "oneagent"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "1.0.0"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPClient{cfg: cfg, http: hc, version: cfg.ProtocolVersion}, nil
}

// SessionID returns the current session id, if the server issued one.
func (c *HTTPClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Initialize performs the MCP initialization handshake.
func (c *HTTPClient) Initialize(ctx context.Context) error {
	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	err := c.Call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": c.cfg.ProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    c.cfg.ClientName,
			"version": c.cfg.ClientVersion,
		},
	}, &result)
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	c.mu.Lock()
	if result.ProtocolVersion != "" {
		c.version = result.ProtocolVersion
	}
	c.initialized = true
	c.mu.Unlock()

	return c.Notify(ctx, "notifications/initialized", nil)
}

func (c *HTTPClient) ensureInitialized(ctx context.Context) error {
	c.mu.Lock()
	ready := c.initialized
	c.mu.Unlock()
	if ready {
		return nil
	}
	return c.Initialize(ctx)
}

// ListTools fetches available tools from the server.
func (c *HTTPClient) ListTools(ctx context.Context) ([]Tool, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	var result ToolsListResult
	if err := c.Call(ctx, "tools/list", nil, &result); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.tools = result.Tools
	c.mu.Unlock()
	return result.Tools, nil
}

// Tools returns the tools from the last ListTools.
func (c *HTTPClient) Tools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tool(nil), c.tools...)
}

// CallTool invokes a tool, initializing the session first if needed. An
// expired session is re-initialized once.
func (c *HTTPClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolCallResult, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	params := ToolCallParams{Name: name, Arguments: args}
	var result ToolCallResult
	err := c.Call(ctx, "tools/call", params, &result)
	if errors.Is(err, ErrSessionExpired) {
		if err = c.Initialize(ctx); err == nil {
			err = c.Call(ctx, "tools/call", params, &result)
		}
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Call sends a request and decodes its result into result (which may be
// nil). JSON-RPC errors come back as *transport.Error.
func (c *HTTPClient) Call(ctx context.Context, method string, params, result interface{}) error {
	id := c.id.Add(1)
	req, err := transport.NewRequest(id, method, params)
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := readResponse(resp, strconv.FormatInt(id, 10))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if raw.Error != nil {
		return raw.Error
	}
	if result != nil && len(raw.Result) > 0 {
		if err := json.Unmarshal(raw.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// Notify sends a notification; the server's answer body is ignored.
func (c *HTTPClient) Notify(ctx context.Context, method string, params interface{}) error {
	req, err := transport.NewRequest(nil, method, params)
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// Close ends the server session, if any. Servers that do not support
// explicit termination answer 405, which is not an error.
func (c *HTTPClient) Close(ctx context.Context) error {
	c.mu.Lock()
	session := c.sessionID
	c.sessionID = ""
	c.initialized = false
	c.mu.Unlock()
	if session == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderSessionID, session)
	c.setCommonHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusMethodNotAllowed && resp.StatusCode != http.StatusNotFound {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *HTTPClient) setCommonHeaders(req *http.Request) {
	c.mu.Lock()
	version := c.version
	c.mu.Unlock()
	req.Header.Set(HeaderProtocolVersion, version)
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

func (c *HTTPClient) post(ctx context.Context, rpcReq *transport.Request) (*http.Response, error) {
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	c.setCommonHeaders(req)

	c.mu.Lock()
	session := c.sessionID
	c.mu.Unlock()
	if session != "" {
		req.Header.Set(HeaderSessionID, session)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp request %s: %w", rpcReq.Method, err)
	}

	if sid := resp.Header.Get(HeaderSessionID); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}

	if resp.StatusCode == http.StatusNotFound && session != "" {
		resp.Body.Close()
		c.mu.Lock()
		c.sessionID = ""
		c.initialized = false
		c.mu.Unlock()
		return nil, ErrSessionExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return resp, nil
}

var errFound = errors.New("found")

// readResponse extracts the response with the given id from a JSON or
// event-stream body.
func readResponse(resp *http.Response, id string) (*transport.RawResponse, error) {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/event-stream" {
		var raw transport.RawResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, transport.MaxBodySize)).Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &raw, nil
	}

	var found *transport.RawResponse
	err := transport.ReadEvents(resp.Body, func(ev transport.Event) error {
		if ev.Event != "" && ev.Event != "message" {
			return nil
		}
		var raw transport.RawResponse
		if json.Unmarshal([]byte(ev.Data), &raw) != nil || raw.IsNotification() {
			return nil
		}
		if string(raw.ID) != id {
			return nil
		}
		found = &raw
		return errFound
	})
	if found != nil {
		return found, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, ErrNoResponse
}
