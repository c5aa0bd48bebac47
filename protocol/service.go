package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/ArnBdev/OneAgent-sub002/conversation"
	"github.com/ArnBdev/OneAgent-sub002/llm"
	"github.com/ArnBdev/OneAgent-sub002/logging"
	"github.com/ArnBdev/OneAgent-sub002/matching"
	"github.com/ArnBdev/OneAgent-sub002/message"
	"github.com/ArnBdev/OneAgent-sub002/policy"
	"github.com/ArnBdev/OneAgent-sub002/registry"
	"github.com/ArnBdev/OneAgent-sub002/telemetry"
)

// Defaults.
const (
	DefaultQualityThreshold = 85.0

	// BusyLoad is the load level at and above which an agent is busy and
	// excluded from coordination plans.
	BusyLoad = 0.8

	// BaseStepDuration is the per-capability time estimate for plans.
	BaseStepDuration = 30 * time.Second

	// ThroughputWindow bounds NetworkHealth.MessagesThroughput.
	ThroughputWindow = 60 * time.Second

	// DefaultInboxLimit is the per-agent queue length past which the
	// oldest delivered messages are dropped.
	DefaultInboxLimit = 1000
)

// DeliveryObserver is notified after every successfully delivered message.
type DeliveryObserver interface {
	OnDelivered(ctx context.Context, msg message.Message, resp message.Response)
}

// Options configures a Service. Nil fields get defaults: an in-memory
// registry, keyword matching, heuristic analysis, default policies, the
// deterministic stub generator and a fresh conversation manager.
type Options struct {
	Store              registry.Store
	Matcher            matching.Matcher
	Analyzer           matching.Analyzer
	ContentPolicy      policy.ContentPolicy
	RegistrationPolicy policy.RegistrationPolicy
	Generator          llm.Generator
	Conversations      *conversation.Manager
	Logger             *logging.Logger
	Metrics            *telemetry.Metrics
	Tracer             *telemetry.Tracer

	// QualityThreshold is the minimum registration quality. Default: 85
	QualityThreshold float64

	// NarrateAnalysis asks the generator for a narrative appended to the
	// extended analysis rationale.
	NarrateAnalysis bool

	// InboxLimit caps each agent's queue of delivered messages.
	// Default: 1000
	InboxLimit int

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Service is the coordination protocol.
type Service struct {
	store     registry.Store
	matcher   matching.Matcher
	analyzer  matching.Analyzer
	content   policy.ContentPolicy
	regPolicy policy.RegistrationPolicy
	gen       llm.Generator
	convs     *conversation.Manager
	logger    *logging.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
	threshold float64
	narrate   bool
	inboxCap  int
	now       func() time.Time

	locks sync.Map // agentID -> *sync.Mutex

	mu        sync.Mutex
	inboxes   map[string][]message.Message
	observers []DeliveryObserver
}

// New creates a Service.
func New(opts Options) *Service {
	s := &Service{
		store:     opts.Store,
		matcher:   opts.Matcher,
		analyzer:  opts.Analyzer,
		content:   opts.ContentPolicy,
		regPolicy: opts.RegistrationPolicy,
		gen:       opts.Generator,
		convs:     opts.Conversations,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		threshold: opts.QualityThreshold,
		narrate:   opts.NarrateAnalysis,
		inboxCap:  opts.InboxLimit,
		now:       opts.Clock,
		inboxes:   make(map[string][]message.Message),
	}

	if s.store == nil {
		s.store = registry.NewMemoryStore()
	}
	if s.matcher == nil {
		s.matcher = matching.Keyword{}
	}
	if s.analyzer == nil {
		s.analyzer = matching.Heuristic{}
	}
	if s.content == nil || s.regPolicy == nil {
		p := policy.New()
		if s.content == nil {
			s.content = p.Content
		}
		if s.regPolicy == nil {
			s.regPolicy = p.Registration
		}
	}
	if s.gen == nil {
		s.gen = llm.Stub{}
	}
	if s.inboxCap <= 0 {
		s.inboxCap = DefaultInboxLimit
	}
	if s.logger == nil {
		s.logger = logging.New()
	}
	s.logger = s.logger.WithComponent("protocol")
	if s.convs == nil {
		s.convs = conversation.NewManager(conversation.WithLogger(s.logger))
	}
	if s.tracer == nil {
		s.tracer = telemetry.GetTracer()
	}
	if s.threshold <= 0 {
		s.threshold = DefaultQualityThreshold
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Registry returns the backing registry store.
func (s *Service) Registry() registry.Store { return s.store }

// Conversations returns the conversation manager.
func (s *Service) Conversations() *conversation.Manager { return s.convs }

// QualityThreshold returns the active registration threshold.
func (s *Service) QualityThreshold() float64 { return s.threshold }

// Observe adds a delivery observer.
func (s *Service) Observe(o DeliveryObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Reset clears the registry, conversations and inboxes. Observers stay.
func (s *Service) Reset() {
	if _, err := s.store.Reset(); err != nil {
		s.logger.Error("reset_failed", map[string]interface{}{"error": err.Error()})
	}
	s.convs.Reset()

	s.mu.Lock()
	s.inboxes = make(map[string][]message.Message)
	s.mu.Unlock()
	s.locks.Range(func(k, _ interface{}) bool {
		s.locks.Delete(k)
		return true
	})
}

// lock serialises mutations for one agent id.
func (s *Service) lock(agentID string) func() {
	v, _ := s.locks.LoadOrStore(agentID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Inbox returns a copy of the messages queued for an agent.
func (s *Service) Inbox(agentID string) []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message.Message(nil), s.inboxes[agentID]...)
}

// Drain returns and clears the messages queued for an agent.
func (s *Service) Drain(agentID string) []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.inboxes[agentID]
	delete(s.inboxes, agentID)
	return out
}

func (s *Service) enqueue(msg message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := append(s.inboxes[msg.TargetAgent], msg)
	if over := len(q) - s.inboxCap; over > 0 {
		q = append([]message.Message(nil), q[over:]...)
		s.logger.Debug("inbox_overflow", map[string]interface{}{
			"agent":   msg.TargetAgent,
			"dropped": over,
		})
	}
	s.inboxes[msg.TargetAgent] = q
}

func (s *Service) dropInbox(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inboxes, agentID)
}

func (s *Service) observersSnapshot() []DeliveryObserver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeliveryObserver(nil), s.observers...)
}
