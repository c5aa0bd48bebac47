// Package rpc exposes the coordination protocol as JSON-RPC 2.0 methods.
// Mount a transport.Server wrapping a Handler at /rpc. Protocol errors come
// back as JSON-RPC errors whose data is the structured error, so clients
// can branch on data.code.
package rpc

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ArnBdev/OneAgent-sub002/conversation"
	"github.com/ArnBdev/OneAgent-sub002/discovery"
	"github.com/ArnBdev/OneAgent-sub002/errors"
	"github.com/ArnBdev/OneAgent-sub002/logging"
	"github.com/ArnBdev/OneAgent-sub002/message"
	"github.com/ArnBdev/OneAgent-sub002/protocol"
	"github.com/ArnBdev/OneAgent-sub002/registry"
	"github.com/ArnBdev/OneAgent-sub002/transport"
	"github.com/ArnBdev/OneAgent-sub002/workflow"
)

// Application error codes, in the range JSON-RPC reserves for servers.
const (
	CodeProtocolError = -32000
	CodeNotFound      = -32001
	CodeRejected      = -32002
	CodeUnavailable   = -32003
)

// Config wires a Handler. Protocol is required; methods backed by a nil
// Discovery or Workflow answer UNAVAILABLE.
type Config struct {
	Protocol  *protocol.Service
	Discovery *discovery.Service
	Workflow  *workflow.Engine
	Logger    *logging.Logger
}

type method func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Handler dispatches JSON-RPC methods. It implements transport.Handler.
type Handler struct {
	proto     *protocol.Service
	discovery *discovery.Service
	workflow  *workflow.Engine
	logger    *logging.Logger
	methods   map[string]method
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Protocol == nil {
		return nil, fmt.Errorf("rpc: protocol service is required")
	}
	h := &Handler{
		proto:     cfg.Protocol,
		discovery: cfg.Discovery,
		workflow:  cfg.Workflow,
		logger:    cfg.Logger,
	}
	if h.logger == nil {
		h.logger = logging.Nop()
	}
	h.logger = h.logger.WithComponent("rpc")

	h.methods = map[string]method{
		"registerAgent":            h.registerAgent,
		"unregisterAgent":          h.unregisterAgent,
		"recordHeartbeat":          h.recordHeartbeat,
		"updateStatus":             h.updateStatus,
		"drainInbox":               h.drainInbox,
		"sendMessage":              h.sendMessage,
		"queryCapabilities":        h.queryCapabilities,
		"coordinateAgents":         h.coordinateAgents,
		"getNetworkHealth":         h.networkHealth,
		"clearPhantomAgents":       h.clearPhantomAgents,
		"discoverAgents":           h.discoverAgents,
		"respondToDiscovery":       h.respondToDiscovery,
		"startConversation":        h.startConversation,
		"logConversationExchange":  h.logConversationExchange,
		"endConversation":          h.endConversation,
		"getConversation":          h.getConversation,
		"getConversationAnalytics": h.conversationAnalytics,
		"registerWorkflowTrigger":  h.registerTrigger,
		"checkWorkflowTriggers":    h.checkTriggers,
	}
	return h, nil
}

// Methods lists the supported method names, sorted.
func (h *Handler) Methods() []string {
	names := make([]string, 0, len(h.methods))
	for name := range h.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle implements transport.Handler.
func (h *Handler) Handle(ctx context.Context, name string, params json.RawMessage) (interface{}, error) {
	m, ok := h.methods[name]
	if !ok {
		return nil, &transport.Error{Code: transport.MethodNotFound, Message: "Method not found", Data: name}
	}
	result, err := m(ctx, params)
	if err != nil {
		rpcErr := toRPCError(err)
		h.logger.Debug("rpc_error", map[string]interface{}{
			"method": name,
			"code":   rpcErr.Code,
			"error":  err.Error(),
		})
		return nil, rpcErr
	}
	return result, nil
}

// toRPCError maps structured errors onto JSON-RPC errors. Errors that are
// already JSON-RPC errors pass through.
func toRPCError(err error) *transport.Error {
	var rpcErr *transport.Error
	if stderrors.As(err, &rpcErr) {
		return rpcErr
	}
	e := errors.As(err)
	if e == nil {
		e = errors.Wrap(err, "request failed")
	}
	code := CodeProtocolError
	switch e.Code() {
	case errors.ErrCodeValidationFailed:
		code = transport.InvalidParams
	case errors.ErrCodeNotFound:
		code = CodeNotFound
	case errors.ErrCodeSecurityRejected, errors.ErrCodeQualityBelowThreshold:
		code = CodeRejected
	case errors.ErrCodeUnavailable:
		code = CodeUnavailable
	}
	return &transport.Error{Code: code, Message: e.Error(), Data: e}
}

// decode unmarshals params into v. Absent params leave v untouched.
func decode(params json.RawMessage, v interface{}) error {
	trimmed := strings.TrimSpace(string(params))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &transport.Error{Code: transport.InvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	return nil
}

func unavailable(what string) error {
	return errors.New(errors.ErrCodeUnavailable, what+" is not configured")
}

// --- Registry and routing ---

func (h *Handler) registerAgent(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var reg registry.AgentRegistration
	if err := decode(params, &reg); err != nil {
		return nil, err
	}
	if err := h.proto.RegisterAgent(ctx, reg); err != nil {
		return nil, err
	}
	return map[string]interface{}{"registered": true, "agentId": reg.AgentID}, nil
}

type agentParams struct {
	AgentID string `json:"agentId"`
}

func (h *Handler) unregisterAgent(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p agentParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.AgentID == "" {
		return nil, errors.ValidationFailed("agentId is required")
	}
	return map[string]interface{}{"removed": h.proto.UnregisterAgent(ctx, p.AgentID)}, nil
}

type heartbeatParams struct {
	AgentID   string  `json:"agentId"`
	LoadLevel float64 `json:"loadLevel"`
}

func (h *Handler) recordHeartbeat(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p heartbeatParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := h.proto.RecordHeartbeat(ctx, p.AgentID, p.LoadLevel); err != nil {
		return nil, err
	}
	return map[string]interface{}{"recorded": true}, nil
}

type statusParams struct {
	AgentID string          `json:"agentId"`
	Status  registry.Status `json:"status"`
}

func (h *Handler) updateStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p statusParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := h.proto.UpdateStatus(ctx, p.AgentID, p.Status); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": p.Status}, nil
}

type inboxResult struct {
	Messages []message.Message `json:"messages"`
}

// drainInbox hands an agent the messages delivered to it and clears them.
func (h *Handler) drainInbox(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p agentParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.AgentID == "" {
		return nil, errors.ValidationFailed("agentId is required")
	}
	msgs := h.proto.Drain(p.AgentID)
	if msgs == nil {
		msgs = []message.Message{}
	}
	return inboxResult{Messages: msgs}, nil
}

// sendMessage returns the routing response even when delivery failed; the
// failure is carried in the response's error field.
func (h *Handler) sendMessage(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var msg message.Message
	if err := decode(params, &msg); err != nil {
		return nil, err
	}
	return h.proto.SendMessage(ctx, msg), nil
}

type queryParams struct {
	Query string `json:"query"`
}

type agentsResult struct {
	Agents []registry.AgentRegistration `json:"agents"`
}

func (h *Handler) queryCapabilities(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p queryParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	agents := h.proto.QueryCapabilities(ctx, p.Query)
	if agents == nil {
		agents = []registry.AgentRegistration{}
	}
	return agentsResult{Agents: agents}, nil
}

type coordinateParams struct {
	Task                 string            `json:"task"`
	RequiredCapabilities []string          `json:"requiredCapabilities"`
	Context              map[string]string `json:"context"`
}

type coordinateResult struct {
	protocol.Coordination
	Unfilled []string `json:"unfilled,omitempty"`
}

func (h *Handler) coordinateAgents(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p coordinateParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Task) == "" {
		return nil, errors.ValidationFailed("task is required")
	}
	c := h.proto.CoordinateAgents(ctx, p.Task, p.RequiredCapabilities, p.Context)
	res := coordinateResult{Coordination: c}
	if c.Plan != nil {
		res.Unfilled = c.Plan.Unfilled()
	}
	return res, nil
}

func (h *Handler) networkHealth(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return h.proto.NetworkHealth(ctx)
}

func (h *Handler) clearPhantomAgents(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return h.proto.ClearPhantomAgents(ctx)
}

// --- Discovery ---

func (h *Handler) discoverAgents(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	if h.discovery == nil {
		return nil, unavailable("discovery")
	}
	return agentsResult{Agents: h.discovery.DiscoverAgents(ctx)}, nil
}

type respondParams struct {
	Capabilities []registry.Capability `json:"capabilities"`
}

func (h *Handler) respondToDiscovery(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if h.discovery == nil {
		return nil, unavailable("discovery")
	}
	var p respondParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	// The responder outlives this request.
	err := h.discovery.RespondToDiscovery(context.WithoutCancel(ctx), p.Capabilities)
	if stderrors.Is(err, discovery.ErrAlreadyResponding) {
		if len(p.Capabilities) == 0 {
			return map[string]interface{}{"responding": true, "updated": false}, nil
		}
		h.discovery.SetCapabilities(p.Capabilities)
		return map[string]interface{}{"responding": true, "updated": true}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"responding": true, "updated": true}, nil
}

// --- Conversations ---

type startParams struct {
	SessionID    string   `json:"sessionId"`
	Participants []string `json:"participants"`
}

func (h *Handler) startConversation(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p startParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if len(p.Participants) == 0 {
		return nil, errors.ValidationFailed("participants are required")
	}
	id := h.proto.Conversations().Start(p.SessionID, p.Participants)
	return map[string]interface{}{"conversationId": id}, nil
}

type exchangeParams struct {
	ConversationID string           `json:"conversationId"`
	Message        message.Message  `json:"message"`
	Response       message.Response `json:"response"`
}

func (h *Handler) logConversationExchange(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p exchangeParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := h.proto.Conversations().LogExchange(p.ConversationID, p.Message, p.Response); err != nil {
		return nil, err
	}
	return map[string]interface{}{"logged": true}, nil
}

type endParams struct {
	ConversationID string                `json:"conversationId"`
	Outcome        *conversation.Outcome `json:"outcome"`
}

func (h *Handler) endConversation(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p endParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return h.proto.Conversations().End(ctx, p.ConversationID, p.Outcome)
}

type conversationParams struct {
	ConversationID string `json:"conversationId"`
}

func (h *Handler) getConversation(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p conversationParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return h.proto.Conversations().Get(p.ConversationID)
}

func (h *Handler) conversationAnalytics(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return h.proto.Conversations().Analytics(), nil
}

// --- Workflow triggers ---

func (h *Handler) registerTrigger(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if h.workflow == nil {
		return nil, unavailable("workflow engine")
	}
	var t workflow.Trigger
	if err := decode(params, &t); err != nil {
		return nil, err
	}
	return h.workflow.Register(t)
}

type checkParams struct {
	Message message.Message `json:"message"`
}

type checkResult struct {
	Triggered []workflow.Trigger `json:"triggered"`
}

func (h *Handler) checkTriggers(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if h.workflow == nil {
		return nil, unavailable("workflow engine")
	}
	var p checkParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return checkResult{Triggered: h.workflow.Check(ctx, p.Message)}, nil
}
