package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Version is the only JSON-RPC version spoken.
const Version = "2.0"

// MaxBodySize limits a single request body.
const MaxBodySize = 1 << 20

// ErrClosed is returned by operations on a closed hub or client.
var ErrClosed = errors.New("transport closed")

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest encodes params into a request.
func NewRequest(id interface{}, method string, params interface{}) (*Request, error) {
	req := &Request{JSONRPC: Version, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params for %s: %w", method, err)
		}
		req.Params = raw
	}
	return req, nil
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// RawResponse is a response whose result is decoded later.
type RawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsNotification reports whether the message is a server notification
// rather than a response.
func (r *RawResponse) IsNotification() bool {
	return r.Method != "" && (len(r.ID) == 0 || string(r.ID) == "null")
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Standard error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Notification represents a JSON-RPC 2.0 notification (no ID).
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Handler handles JSON-RPC requests. Returning an *Error sends it
// unchanged; any other error becomes InternalError.
type Handler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, method string, params json.RawMessage) (interface{}, error)

func (f HandlerFunc) Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	return f(ctx, method, params)
}

// ParseRequest decodes and checks a request body.
func ParseRequest(data []byte) (*Request, *Error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &Error{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}
	if req.JSONRPC != Version {
		return nil, &Error{Code: InvalidRequest, Message: "Invalid Request", Data: "jsonrpc must be 2.0"}
	}
	if req.Method == "" {
		return nil, &Error{Code: InvalidRequest, Message: "Invalid Request", Data: "method is required"}
	}
	return &req, nil
}

// Server serves JSON-RPC 2.0 over HTTP POST, one request per body.
type Server struct {
	handler Handler
}

// NewServer creates a new JSON-RPC server.
func NewServer(handler Handler) *Server {
	return &Server{handler: handler}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize))
	if err != nil {
		http.Error(w, "Read error", http.StatusBadRequest)
		return
	}

	req, rpcErr := ParseRequest(body)
	if rpcErr != nil {
		writeJSON(w, Response{JSONRPC: Version, Error: rpcErr})
		return
	}

	result, err := s.call(r.Context(), req)

	// Notifications get no body.
	if req.ID == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err != nil {
		writeJSON(w, Response{JSONRPC: Version, ID: req.ID, Error: asError(err)})
		return
	}
	writeJSON(w, Response{JSONRPC: Version, ID: req.ID, Result: result})
}

func (s *Server) call(ctx context.Context, req *Request) (result interface{}, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &Error{Code: InternalError, Message: "Internal error", Data: fmt.Sprint(v)}
		}
	}()
	return s.handler.Handle(ctx, req.Method, req.Params)
}

func asError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &Error{Code: InternalError, Message: "Internal error", Data: err.Error()}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
