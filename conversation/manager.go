package conversation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ArnBdev/OneAgent-sub002/errors"
	"github.com/ArnBdev/OneAgent-sub002/logging"
	"github.com/ArnBdev/OneAgent-sub002/message"
)

// TopParticipantCount is the length of Analytics.TopParticipants.
const TopParticipantCount = 5

// Archiver persists ended conversations. Failures are logged, never
// returned to the caller of End.
type Archiver interface {
	Archive(ctx context.Context, log Log) error
}

// ParticipantStat counts the messages in conversations an agent took part in.
type ParticipantStat struct {
	AgentID  string `json:"agentId"`
	Messages int    `json:"messages"`
}

// Analytics aggregates every tracked conversation.
type Analytics struct {
	TotalConversations     int               `json:"totalConversations"`
	ActiveConversations    int               `json:"activeConversations"`
	AverageQuality         float64           `json:"averageQuality"`
	TotalActionableOutputs int               `json:"totalActionableOutputs"`
	TopParticipants        []ParticipantStat `json:"topParticipants"`
}

// entry guards one log. Appends to a log are serialised by its own lock so
// messages and responses stay index-aligned.
type entry struct {
	mu  sync.Mutex
	log Log
}

// Manager owns all conversation logs for one protocol instance.
type Manager struct {
	mu    sync.RWMutex
	logs  map[string]*entry
	order []string

	archiver Archiver
	logger   *logging.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithArchiver persists ended conversations.
func WithArchiver(a Archiver) Option {
	return func(m *Manager) { m.archiver = a }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l.WithComponent("conversation") }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logs:   make(map[string]*entry),
		logger: logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a conversation and returns its id.
func (m *Manager) Start(sessionID string, participants []string) string {
	id := uuid.New().String()
	e := &entry{log: Log{
		ID:           id,
		SessionID:    sessionID,
		Participants: append([]string(nil), participants...),
		Messages:     []message.Message{},
		Responses:    []message.Response{},
		Outcome:      Outcome{Type: OutcomeOngoing},
		StartedAt:    m.now(),
	}}

	m.mu.Lock()
	m.logs[id] = e
	m.order = append(m.order, id)
	m.mu.Unlock()

	m.logger.Debug("conversation_started", map[string]interface{}{
		"conversation": id,
		"participants": strings.Join(participants, ","),
	})
	return id
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.logs[id]
	if !ok {
		return nil, errors.ConversationNotFound(id)
	}
	return e, nil
}

// LogExchange appends a message and its response and recomputes quality.
func (m *Manager) LogExchange(id string, msg message.Message, resp message.Response) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.log.Ongoing() {
		return errors.ValidationFailed("conversation has ended", errors.WithConversationID(id))
	}
	e.log.Messages = append(e.log.Messages, msg)
	e.log.Responses = append(e.log.Responses, resp)
	e.log.recomputeQuality()
	return nil
}

// End closes a conversation. Non-empty fields of override replace the
// default completed outcome. Actionable outputs are extracted from the
// concatenated message content.
func (m *Manager) End(ctx context.Context, id string, override *Outcome) (*Log, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if !e.log.Ongoing() {
		e.mu.Unlock()
		return nil, errors.ValidationFailed("conversation already ended", errors.WithConversationID(id))
	}

	ended := m.now()
	e.log.EndedAt = &ended
	e.log.Outcome = mergeOutcome(e.log.Outcome, override)

	contents := make([]string, 0, len(e.log.Messages))
	for _, msg := range e.log.Messages {
		contents = append(contents, msg.Content)
	}
	e.log.ActionableOutputs = ExtractActionableOutputs(strings.Join(contents, "\n"))

	snapshot := e.log.clone()
	e.mu.Unlock()

	if m.archiver != nil {
		if err := m.archiver.Archive(ctx, snapshot); err != nil {
			m.logger.Warn("archive_failed", map[string]interface{}{
				"conversation": id,
				"error":        err.Error(),
			})
		}
	}
	return &snapshot, nil
}

func mergeOutcome(current Outcome, override *Outcome) Outcome {
	out := current
	out.Type = OutcomeCompleted
	if override == nil {
		return out
	}
	if override.Type != "" {
		out.Type = override.Type
	}
	if override.Summary != "" {
		out.Summary = override.Summary
	}
	if len(override.Decisions) > 0 {
		out.Decisions = append([]string(nil), override.Decisions...)
	}
	if len(override.NextSteps) > 0 {
		out.NextSteps = append([]string(nil), override.NextSteps...)
	}
	if override.RequiresHumanIntervention {
		out.RequiresHumanIntervention = true
	}
	return out
}

// Get returns a copy of a log.
func (m *Manager) Get(id string) (*Log, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.log.clone()
	return &out, nil
}

func (m *Manager) entries() []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.logs[id])
	}
	return out
}

// OpenFor returns the ids of ongoing conversations in which every given
// agent participates, in start order.
func (m *Manager) OpenFor(agentIDs ...string) []string {
	var ids []string
	for _, e := range m.entries() {
		e.mu.Lock()
		if e.log.Ongoing() && e.log.HasParticipants(agentIDs...) {
			ids = append(ids, e.log.ID)
		}
		e.mu.Unlock()
	}
	return ids
}

// MessagesSince counts logged messages with timestamps at or after t.
func (m *Manager) MessagesSince(t time.Time) int {
	n := 0
	for _, e := range m.entries() {
		e.mu.Lock()
		for _, msg := range e.log.Messages {
			if !msg.Timestamp.Before(t) {
				n++
			}
		}
		e.mu.Unlock()
	}
	return n
}

// Analytics aggregates all logs. AverageQuality is the mean of per-log
// averages over logs with at least one response.
func (m *Manager) Analytics() Analytics {
	a := Analytics{TopParticipants: []ParticipantStat{}}
	counts := make(map[string]int)

	var qualitySum float64
	var rated int
	for _, e := range m.entries() {
		e.mu.Lock()
		a.TotalConversations++
		if e.log.Ongoing() {
			a.ActiveConversations++
		}
		if len(e.log.Responses) > 0 {
			qualitySum += e.log.Quality.AverageQualityScore
			rated++
		}
		a.TotalActionableOutputs += len(e.log.ActionableOutputs)
		for _, p := range e.log.Participants {
			counts[p] += len(e.log.Messages)
		}
		e.mu.Unlock()
	}
	if rated > 0 {
		a.AverageQuality = qualitySum / float64(rated)
	}

	for id, n := range counts {
		a.TopParticipants = append(a.TopParticipants, ParticipantStat{AgentID: id, Messages: n})
	}
	sort.Slice(a.TopParticipants, func(i, j int) bool {
		pi, pj := a.TopParticipants[i], a.TopParticipants[j]
		if pi.Messages != pj.Messages {
			return pi.Messages > pj.Messages
		}
		return pi.AgentID < pj.AgentID
	})
	if len(a.TopParticipants) > TopParticipantCount {
		a.TopParticipants = a.TopParticipants[:TopParticipantCount]
	}
	return a
}

// Reset drops every log.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = make(map[string]*entry)
	m.order = nil
}
