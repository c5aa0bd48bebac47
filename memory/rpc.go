package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ArnBdev/OneAgent-sub002/mcp"
)

// Tool names on the memory server.
const (
	ToolAdd    = "add_memory"
	ToolSearch = "search_memories"
	ToolDelete = "delete_memory"
)

// ToolCaller is the part of mcp.HTTPClient the store needs.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.ToolCallResult, error)
	Close(ctx context.Context) error
}

// RPCStore talks to a remote memory server through MCP tool calls.
type RPCStore struct {
	client ToolCaller
}

// NewRPCStore wraps an MCP client.
func NewRPCStore(client ToolCaller) *RPCStore {
	return &RPCStore{client: client}
}

// toolReply is the envelope every memory tool answers with.
type toolReply struct {
	Success  bool         `json:"success"`
	Error    string       `json:"error,omitempty"`
	MemoryID string       `json:"memory_id,omitempty"`
	ID       string       `json:"id,omitempty"`
	Results  []remoteItem `json:"results,omitempty"`
}

type remoteItem struct {
	ID        string                 `json:"id"`
	Memory    string                 `json:"memory"`
	Content   string                 `json:"content"`
	Score     float64                `json:"score"`
	UserID    string                 `json:"user_id"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedAt string                 `json:"created_at"`
}

func (s *RPCStore) call(ctx context.Context, tool string, args map[string]interface{}) (*toolReply, error) {
	res, err := s.client.CallTool(ctx, tool, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tool, err)
	}
	if res.IsError {
		return nil, fmt.Errorf("%s: %s", tool, res.Text())
	}
	var reply toolReply
	if err := res.Decode(&reply); err != nil {
		return nil, fmt.Errorf("%s: decode reply: %w", tool, err)
	}
	if !reply.Success {
		msg := reply.Error
		if msg == "" {
			msg = "server reported failure"
		}
		return nil, fmt.Errorf("%s: %s", tool, msg)
	}
	return &reply, nil
}

func (s *RPCStore) Remember(ctx context.Context, rec Record) (string, error) {
	rec, err := prepare(rec, time.Now(), func() string { return "" })
	if err != nil {
		return "", err
	}
	meta := make(map[string]interface{}, len(rec.Metadata)+1)
	for k, v := range rec.Metadata {
		meta[k] = v
	}
	if rec.ID != "" {
		meta["id"] = rec.ID
	}

	reply, err := s.call(ctx, ToolAdd, map[string]interface{}{
		"content":  rec.Content,
		"user_id":  rec.UserID,
		"metadata": meta,
	})
	if err != nil {
		return "", err
	}
	switch {
	case reply.MemoryID != "":
		return reply.MemoryID, nil
	case reply.ID != "":
		return reply.ID, nil
	case rec.ID != "":
		return rec.ID, nil
	}
	return "", errors.New("add_memory: server returned no id")
}

func (s *RPCStore) Search(ctx context.Context, query string, opts SearchOpts) ([]Result, error) {
	opts = opts.normalized()
	reply, err := s.call(ctx, ToolSearch, map[string]interface{}{
		"query":   query,
		"user_id": opts.UserID,
		"limit":   opts.Limit,
	})
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(reply.Results))
	for _, item := range reply.Results {
		results = append(results, Result{Record: item.record(opts.UserID), Score: item.Score})
	}
	return results, nil
}

func (it remoteItem) record(user string) Record {
	rec := Record{ID: it.ID, Content: it.Memory, UserID: it.UserID}
	if rec.Content == "" {
		rec.Content = it.Content
	}
	if rec.UserID == "" {
		rec.UserID = user
	}
	if len(it.Metadata) > 0 {
		rec.Metadata = make(map[string]string, len(it.Metadata))
		for k, v := range it.Metadata {
			rec.Metadata[k] = fmt.Sprint(v)
		}
	}
	if it.CreatedAt != "" {
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, it.CreatedAt)
	}
	return rec
}

func (s *RPCStore) Forget(ctx context.Context, id string) (bool, error) {
	res, err := s.client.CallTool(ctx, ToolDelete, map[string]interface{}{"memory_id": id})
	if err != nil {
		return false, fmt.Errorf("%s: %w", ToolDelete, err)
	}
	var reply toolReply
	if res.IsError || res.Decode(&reply) != nil {
		return false, fmt.Errorf("%s: %s", ToolDelete, res.Text())
	}
	return reply.Success, nil
}

func (s *RPCStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Close(ctx)
}
