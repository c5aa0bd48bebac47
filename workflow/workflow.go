// Package workflow evaluates registered triggers against delivered
// messages and, for auto-executing triggers, starts a coordination
// conversation with a matching agent.
package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ArnBdev/OneAgent-sub002/conversation"
	"github.com/ArnBdev/OneAgent-sub002/errors"
	"github.com/ArnBdev/OneAgent-sub002/logging"
	"github.com/ArnBdev/OneAgent-sub002/message"
	"github.com/ArnBdev/OneAgent-sub002/registry"
	"github.com/ArnBdev/OneAgent-sub002/telemetry"
)

// EngineAgentID is the source agent of messages sent by triggers.
const EngineAgentID = "workflow-engine"

// MaxDepth bounds trigger-caused messages that themselves fire triggers.
const MaxDepth = 3

// maxQuoted caps how much of the triggering message is quoted.
const maxQuoted = 2000

// Trigger is a registered condition.
type Trigger struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Condition is a natural-language fragment. Any of its whitespace
	// separated tokens appearing in a message's content is a match.
	Condition string `json:"condition"`

	// AgentTypes names who to coordinate with. Only the first entry is
	// used; it is matched against agent types first, then agent ids.
	AgentTypes []string `json:"agentTypes"`

	AutoExecute bool `json:"autoExecute"`
}

// Router is the part of the protocol service the engine drives.
type Router interface {
	SendMessage(ctx context.Context, msg message.Message) *message.Response
	Registry() registry.Store
	Conversations() *conversation.Manager
}

// Execution is the outcome of running one trigger.
type Execution struct {
	TriggerID      string            `json:"triggerId"`
	ConversationID string            `json:"conversationId"`
	TargetAgent    string            `json:"targetAgent"`
	Response       *message.Response `json:"response"`
}

// Config configures an Engine.
type Config struct {
	Logger  *logging.Logger
	Metrics *telemetry.Metrics
}

// Engine holds triggers in registration order.
type Engine struct {
	router  Router
	logger  *logging.Logger
	metrics *telemetry.Metrics

	mu       sync.RWMutex
	order    []string
	triggers map[string]Trigger
}

// New creates an engine that delivers through router.
func New(router Router, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New()
	}
	return &Engine{
		router:   router,
		logger:   logger.WithComponent("workflow"),
		metrics:  cfg.Metrics,
		triggers: make(map[string]Trigger),
	}
}

// Register adds or replaces a trigger and returns it with its ID set.
func (e *Engine) Register(t Trigger) (Trigger, error) {
	t.Condition = strings.TrimSpace(t.Condition)
	if t.Condition == "" {
		return Trigger{}, errors.ValidationFailed("trigger condition is required")
	}
	if t.AutoExecute && len(t.AgentTypes) == 0 {
		return Trigger{}, errors.ValidationFailed("auto-executing trigger needs an agent type")
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.AgentTypes = append([]string(nil), t.AgentTypes...)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.triggers[t.ID]; !ok {
		e.order = append(e.order, t.ID)
	}
	e.triggers[t.ID] = t
	return t, nil
}

// Remove deletes a trigger and reports whether it existed.
func (e *Engine) Remove(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.triggers[id]; !ok {
		return false
	}
	delete(e.triggers, id)
	for i, tid := range e.order {
		if tid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return true
}

// Triggers returns the registered triggers in registration order.
func (e *Engine) Triggers() []Trigger {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Trigger, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.triggers[id])
	}
	return out
}

// Reset removes every trigger.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.order = nil
	e.triggers = make(map[string]Trigger)
	e.mu.Unlock()
}

// Matches reports whether any whitespace token of condition occurs in
// content, ignoring case.
func Matches(condition, content string) bool {
	content = strings.ToLower(content)
	for _, tok := range strings.Fields(strings.ToLower(condition)) {
		if strings.Contains(content, tok) {
			return true
		}
	}
	return false
}

// Check returns the triggers matching msg, in registration order, and
// runs the auto-executing ones. Execution failures are logged, not
// returned. Requests sent by the engine itself and messages already
// MaxDepth trigger hops deep only match.
func (e *Engine) Check(ctx context.Context, msg message.Message) []Trigger {
	matched := []Trigger{}
	for _, t := range e.Triggers() {
		if Matches(t.Condition, msg.Content) {
			matched = append(matched, t)
		}
	}

	for _, t := range matched {
		e.logger.TriggerFired(t.ID, msg.ID, t.AutoExecute)
		if !t.AutoExecute {
			continue
		}
		// A request quotes the content that fired it and would re-match.
		if msg.SourceAgent == EngineAgentID {
			continue
		}
		if msg.Metadata.TriggerDepth >= MaxDepth {
			e.count("depth_exceeded")
			e.logger.Warn("trigger_depth_exceeded", map[string]interface{}{
				"trigger": t.ID,
				"message": msg.ID,
				"depth":   msg.Metadata.TriggerDepth,
			})
			continue
		}
		if _, err := e.Execute(ctx, t, msg); err != nil {
			e.logger.Warn("trigger_failed", map[string]interface{}{
				"trigger": t.ID,
				"message": msg.ID,
				"code":    string(errors.Code(err)),
				"error":   err.Error(),
			})
		}
	}
	return matched
}

// Execute starts a conversation between the engine and the trigger's
// target agent and sends it a coordination_request quoting msg. The
// exchange is logged into that conversation only.
func (e *Engine) Execute(ctx context.Context, t Trigger, msg message.Message) (*Execution, error) {
	if len(t.AgentTypes) == 0 {
		e.count("no_target")
		return nil, errors.ValidationFailed(fmt.Sprintf("trigger %s has no agent type", t.ID))
	}
	target, err := e.resolve(t.AgentTypes[0])
	if err != nil {
		e.count("no_target")
		return nil, err
	}

	convID := e.router.Conversations().Start(msg.SessionID, []string{EngineAgentID, target})
	req := message.Message{
		Type:        message.TypeCoordinationRequest,
		SourceAgent: EngineAgentID,
		TargetAgent: target,
		Content:     requestContent(t, msg),
		SessionID:   msg.SessionID,
		Metadata: message.Metadata{
			Priority:         message.PriorityHigh,
			RequiresResponse: true,
			TriggerDepth:     msg.Metadata.TriggerDepth + 1,
			ConversationID:   convID,
		},
	}
	resp := e.router.SendMessage(ctx, req)

	exec := &Execution{TriggerID: t.ID, ConversationID: convID, TargetAgent: target, Response: resp}
	if !resp.Success {
		e.count(string(resp.ErrorCode()))
		return exec, resp.Error
	}
	e.count("ok")
	return exec, nil
}

// resolve picks the first agent, by id, whose type is want, falling back
// to an agent whose id is want.
func (e *Engine) resolve(want string) (string, error) {
	store := e.router.Registry()
	all, err := store.List()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrCodeProcessingError, "listing agents")
	}
	sort.Slice(all, func(i, j int) bool { return all[i].AgentID < all[j].AgentID })
	for _, reg := range all {
		if reg.AgentType == want {
			return reg.AgentID, nil
		}
	}
	for _, reg := range all {
		if reg.AgentID == want {
			return reg.AgentID, nil
		}
	}
	return "", errors.NotFound(fmt.Sprintf("no agent of type or id %q", want), errors.WithAgentID(want))
}

func requestContent(t Trigger, msg message.Message) string {
	quoted := []rune(msg.Content)
	if len(quoted) > maxQuoted {
		quoted = quoted[:maxQuoted]
	}
	name := t.Name
	if name == "" {
		name = t.ID
	}
	return fmt.Sprintf("Workflow trigger %q matched a message from %s: %s", name, msg.SourceAgent, string(quoted))
}

func (e *Engine) count(result string) {
	if e.metrics != nil {
		e.metrics.TriggerExecutions.WithLabelValues(result).Inc()
	}
}

// OnDelivered checks every delivered message against the triggers.
func (e *Engine) OnDelivered(ctx context.Context, msg message.Message, _ message.Response) {
	e.Check(ctx, msg)
}
