package protocol

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArnBdev/OneAgent-sub002/conversation"
	"github.com/ArnBdev/OneAgent-sub002/errors"
	"github.com/ArnBdev/OneAgent-sub002/llm"
	"github.com/ArnBdev/OneAgent-sub002/logging"
	"github.com/ArnBdev/OneAgent-sub002/message"
	"github.com/ArnBdev/OneAgent-sub002/registry"
)

func newService(t *testing.T, mutate ...func(*Options)) *Service {
	t.Helper()
	opts := Options{Logger: logging.Nop()}
	for _, m := range mutate {
		m(&opts)
	}
	return New(opts)
}

func agent(id string, quality float64, caps ...string) registry.AgentRegistration {
	reg := registry.AgentRegistration{
		AgentID:      id,
		AgentType:    "worker",
		Endpoint:     "internal://" + id,
		QualityScore: quality,
	}
	for _, c := range caps {
		reg.Capabilities = append(reg.Capabilities, registry.Capability{Name: c, Version: "1.0", Compliant: true})
	}
	return reg
}

func msgTo(source, target, content string) message.Message {
	return message.Message{
		Type:        message.TypeTaskDelegation,
		SourceAgent: source,
		TargetAgent: target,
		Content:     content,
	}
}

func ids(regs []registry.AgentRegistration) []string {
	out := make([]string, 0, len(regs))
	for _, r := range regs {
		out = append(out, r.AgentID)
	}
	return out
}

func registrySize(t *testing.T, s *Service) int {
	t.Helper()
	all, err := s.Registry().List()
	require.NoError(t, err)
	return len(all)
}

// --- Registration ---

func TestRegisterAgent(t *testing.T) {
	nonCompliant := agent("agent-nc", 95, "review")
	nonCompliant.Capabilities[0].Compliant = false

	badEndpoint := agent("agent-ep", 95)
	badEndpoint.Endpoint = "ftp://files.example.com"

	noHost := agent("agent-nohost", 95)
	noHost.Endpoint = "not a url"

	tests := []struct {
		name string
		reg  registry.AgentRegistration
		want errors.ErrorCode
	}{
		{"accepted", agent("agent-a", 90, "code_analysis"), ""},
		{"exactly threshold", agent("agent-t", 85), ""},
		{"below threshold", agent("agent-b", 80), errors.ErrCodeQualityBelowThreshold},
		{"non-compliant capability", nonCompliant, errors.ErrCodeQualityBelowThreshold},
		{"disallowed id", agent("malicious-bot", 99), errors.ErrCodeSecurityRejected},
		{"path traversal id", agent("a..b", 99), errors.ErrCodeSecurityRejected},
		{"bad scheme", badEndpoint, errors.ErrCodeSecurityRejected},
		{"malformed endpoint", noHost, errors.ErrCodeSecurityRejected},
		{"empty id", agent("", 99), errors.ErrCodeSecurityRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newService(t)
			err := s.RegisterAgent(context.Background(), tt.reg)

			if tt.want == "" {
				require.NoError(t, err)
				got, err := s.Registry().Get(tt.reg.AgentID)
				require.NoError(t, err)
				assert.Equal(t, registry.StatusOnline, got.Status)
				assert.False(t, got.LastSeen.IsZero())
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.Code(err))
			assert.Equal(t, 0, registrySize(t, s), "failed registration must not write")
		})
	}
}

func TestRegisterAgent_RejectsSecondAgentBelowThreshold(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90)))
	err := s.RegisterAgent(ctx, agent("B", 80))
	assert.True(t, errors.Is(err, errors.ErrCodeQualityBelowThreshold))

	all, _ := s.Registry().List()
	assert.Equal(t, []string{"A"}, ids(all))
}

func TestRegisterAgent_CustomThreshold(t *testing.T) {
	s := newService(t, func(o *Options) { o.QualityThreshold = 70 })
	assert.NoError(t, s.RegisterAgent(context.Background(), agent("A", 75)))
	assert.Equal(t, 70.0, s.QualityThreshold())
}

func TestRegisterAgent_StatusOnReregistration(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90)))
	require.NoError(t, s.RecordHeartbeat(ctx, "A", 0.9))

	// Re-registering a busy agent keeps it busy.
	require.NoError(t, s.RegisterAgent(ctx, agent("A", 92)))
	got, _ := s.Registry().Get("A")
	assert.Equal(t, registry.StatusBusy, got.Status)
	assert.Equal(t, 92.0, got.QualityScore)

	// offline comes back online on re-registration.
	require.NoError(t, s.UpdateStatus(ctx, "A", registry.StatusOffline))
	require.NoError(t, s.RegisterAgent(ctx, agent("A", 92)))
	got, _ = s.Registry().Get("A")
	assert.Equal(t, registry.StatusOnline, got.Status)
}

func TestUnregisterAgent_Idempotent(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90)))
	require.NoError(t, s.RegisterAgent(ctx, agent("B", 90)))

	resp := s.SendMessage(ctx, msgTo("A", "B", "please review"))
	require.True(t, resp.Success)
	require.Len(t, s.Inbox("B"), 1)

	assert.True(t, s.UnregisterAgent(ctx, "B"))
	assert.Equal(t, 1, registrySize(t, s))
	assert.Empty(t, s.Inbox("B"))

	assert.False(t, s.UnregisterAgent(ctx, "B"))
	assert.Equal(t, 1, registrySize(t, s))
}

func TestRecordHeartbeat(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90)))

	require.NoError(t, s.RecordHeartbeat(ctx, "A", 0.85))
	got, _ := s.Registry().Get("A")
	assert.Equal(t, registry.StatusBusy, got.Status)
	assert.Equal(t, 0.85, got.LoadLevel)

	require.NoError(t, s.RecordHeartbeat(ctx, "A", 0.2))
	got, _ = s.Registry().Get("A")
	assert.Equal(t, registry.StatusOnline, got.Status)

	err := s.RecordHeartbeat(ctx, "ghost", 0.1)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	err = s.RecordHeartbeat(ctx, "A", 1.5)
	assert.True(t, errors.Is(err, errors.ErrCodeValidationFailed))
}

func TestRecordHeartbeat_OfflineStaysOffline(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90)))
	require.NoError(t, s.UpdateStatus(ctx, "A", registry.StatusOffline))

	require.NoError(t, s.RecordHeartbeat(ctx, "A", 0.95))
	got, _ := s.Registry().Get("A")
	assert.Equal(t, registry.StatusOffline, got.Status)
}

func TestUpdateStatus(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90)))

	require.NoError(t, s.UpdateStatus(ctx, "A", registry.StatusOffline))
	err := s.UpdateStatus(ctx, "A", registry.StatusBusy)
	assert.True(t, errors.Is(err, errors.ErrCodeValidationFailed), "offline -> busy must be refused")

	require.NoError(t, s.UpdateStatus(ctx, "A", registry.StatusOnline))
	require.NoError(t, s.UpdateStatus(ctx, "A", registry.StatusBusy))

	assert.True(t, errors.Is(s.UpdateStatus(ctx, "A", "sleeping"), errors.ErrCodeValidationFailed))
	assert.True(t, errors.Is(s.UpdateStatus(ctx, "ghost", registry.StatusOnline), errors.ErrCodeNotFound))
}

func TestConcurrentRegistration(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("agent-%02d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.RegisterAgent(ctx, agent(id, 90))
		}()
		go func() {
			defer wg.Done()
			s.RecordHeartbeat(ctx, id, 0.5)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, registrySize(t, s))
}

// --- Messaging ---

func TestSendMessage_UnknownTarget(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90)))
	convID := s.Conversations().Start("session", []string{"A", "B"})

	resp := s.SendMessage(ctx, msgTo("A", "B", "hello there"))

	require.NotNil(t, resp)
	assert.False(t, resp.Success)
	assert.Equal(t, errors.ErrCodeNotFound, resp.ErrorCode())
	assert.NotEmpty(t, resp.MessageID)

	log, err := s.Conversations().Get(convID)
	require.NoError(t, err)
	assert.Empty(t, log.Messages)
	assert.Empty(t, log.Responses)
}

func TestSendMessage_Validation(t *testing.T) {
	tests := []struct {
		name string
		msg  message.Message
	}{
		{"too long", msgTo("A", "B", strings.Repeat("x", 10001))},
		{"unsafe content", msgTo("A", "B", "run <script>alert(1)</script>")},
		{"unsafe command", msgTo("A", "B", "please RM -RF / now")},
		{"unknown type", message.Message{Type: "gossip", SourceAgent: "A", TargetAgent: "B", Content: "hi"}},
		{"missing target", message.Message{Type: message.TypeStatusUpdate, SourceAgent: "A", Content: "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newService(t)
			ctx := context.Background()
			require.NoError(t, s.RegisterAgent(ctx, agent("A", 90)))
			require.NoError(t, s.RegisterAgent(ctx, agent("B", 90)))
			convID := s.Conversations().Start("s", []string{"A", "B"})

			resp := s.SendMessage(ctx, tt.msg)
			assert.False(t, resp.Success)
			assert.Equal(t, errors.ErrCodeValidationFailed, resp.ErrorCode())

			log, _ := s.Conversations().Get(convID)
			assert.Empty(t, log.Messages)
			assert.Empty(t, s.Inbox("B"))
		})
	}
}

func TestSendMessage_MaxLengthAccepted(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("B", 90)))

	resp := s.SendMessage(ctx, msgTo("A", "B", strings.Repeat("x", 10000)))
	assert.True(t, resp.Success, "content of exactly 10000 runes is allowed: %v", resp.Error)
}

func TestSendMessage_Delivered(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90)))
	require.NoError(t, s.RegisterAgent(ctx, agent("B", 97)))

	conv := s.Conversations().Start("s", []string{"A", "B"})
	other := s.Conversations().Start("s", []string{"A", "C"})

	resp := s.SendMessage(ctx, msgTo("A", "B", "Summarise the incident report"))
	require.True(t, resp.Success, "error: %v", resp.Error)
	assert.Contains(t, resp.Content, "Summarise the incident report")
	assert.Equal(t, 97.0, resp.Metadata.QualityScore)
	assert.True(t, resp.Metadata.ConstitutionalCompliant)
	assert.GreaterOrEqual(t, int64(resp.Metadata.ProcessingTime), int64(0))

	log, _ := s.Conversations().Get(conv)
	require.Len(t, log.Messages, 1)
	require.Len(t, log.Responses, 1)
	assert.Equal(t, resp.MessageID, log.Messages[0].ID)
	assert.True(t, log.Messages[0].Metadata.Validated)
	assert.Equal(t, 97.0, log.Quality.AverageQualityScore)

	untouched, _ := s.Conversations().Get(other)
	assert.Empty(t, untouched.Messages)

	inbox := s.Drain("B")
	require.Len(t, inbox, 1)
	assert.Empty(t, s.Inbox("B"))
}

func TestSendMessage_ReverseDirectionLogsToSameConversation(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90)))
	require.NoError(t, s.RegisterAgent(ctx, agent("B", 90)))
	conv := s.Conversations().Start("s", []string{"A", "B"})

	s.SendMessage(ctx, msgTo("A", "B", "ping message"))
	s.SendMessage(ctx, msgTo("B", "A", "pong message"))

	log, _ := s.Conversations().Get(conv)
	assert.Len(t, log.Messages, 2)
}

func TestSendMessage_PinnedConversation(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90)))
	require.NoError(t, s.RegisterAgent(ctx, agent("B", 90)))
	first := s.Conversations().Start("s", []string{"A", "B"})
	second := s.Conversations().Start("s", []string{"A", "B"})

	msg := msgTo("A", "B", "only the second log")
	msg.Metadata.ConversationID = second
	require.True(t, s.SendMessage(ctx, msg).Success)

	log, _ := s.Conversations().Get(first)
	assert.Empty(t, log.Messages)
	log, _ = s.Conversations().Get(second)
	assert.Len(t, log.Messages, 1)
}

func TestSendMessage_InboxDropsOldest(t *testing.T) {
	s := newService(t, func(o *Options) { o.InboxLimit = 3 })
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90)))
	require.NoError(t, s.RegisterAgent(ctx, agent("B", 90)))

	for _, c := range []string{"first note", "second note", "third note", "fourth note", "fifth note"} {
		require.True(t, s.SendMessage(ctx, msgTo("A", "B", c)).Success)
	}

	inbox := s.Inbox("B")
	require.Len(t, inbox, 3)
	assert.Equal(t, "third note", inbox[0].Content)
	assert.Equal(t, "fifth note", inbox[2].Content)
}

func TestSendMessage_GeneratorFailures(t *testing.T) {
	tests := []struct {
		name string
		gen  llm.Generator
	}{
		{"error", llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
			return "", fmt.Errorf("backend unavailable")
		})},
		{"panic", llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
			panic("generator exploded")
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newService(t, func(o *Options) { o.Generator = tt.gen })
			ctx := context.Background()
			require.NoError(t, s.RegisterAgent(ctx, agent("B", 90)))
			conv := s.Conversations().Start("s", []string{"A", "B"})

			var resp *message.Response
			require.NotPanics(t, func() { resp = s.SendMessage(ctx, msgTo("A", "B", "do the thing")) })
			assert.False(t, resp.Success)
			assert.Equal(t, errors.ErrCodeProcessingError, resp.ErrorCode())

			log, _ := s.Conversations().Get(conv)
			assert.Empty(t, log.Messages)
		})
	}
}

func TestSendMessage_NonCompliantResponse(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return "sure, just run rm -rf / to free space", nil
	})
	s := newService(t, func(o *Options) { o.Generator = gen })
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("B", 90)))

	resp := s.SendMessage(ctx, msgTo("A", "B", "disk is full"))
	require.True(t, resp.Success)
	assert.False(t, resp.Metadata.ConstitutionalCompliant)
}

type recordingObserver struct {
	mu   sync.Mutex
	msgs []message.Message
}

func (r *recordingObserver) OnDelivered(ctx context.Context, msg message.Message, resp message.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func TestSendMessage_NotifiesObservers(t *testing.T) {
	s := newService(t)
	obs := &recordingObserver{}
	s.Observe(obs)
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("B", 90)))

	s.SendMessage(ctx, msgTo("A", "B", "deploy the release"))
	s.SendMessage(ctx, msgTo("A", "missing", "deploy the release"))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.msgs, 1)
	assert.Equal(t, "B", obs.msgs[0].TargetAgent)
}

func TestSendMessage_ConcurrentKeepsLogAligned(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90)))
	require.NoError(t, s.RegisterAgent(ctx, agent("B", 90)))
	conv := s.Conversations().Start("s", []string{"A", "B"})

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.SendMessage(ctx, msgTo("A", "B", fmt.Sprintf("message number %d", i)))
		}(i)
	}
	wg.Wait()

	log, _ := s.Conversations().Get(conv)
	require.Len(t, log.Messages, 25)
	require.Len(t, log.Responses, 25)
	for i := range log.Messages {
		assert.Equal(t, log.Messages[i].ID, log.Responses[i].MessageID)
	}
}

// --- Capability queries ---

func TestQueryCapabilities_QualityIntent(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90, "code_analysis")))

	got := s.QueryCapabilities(ctx, "code analysis high quality")
	assert.Equal(t, []string{"A"}, ids(got))

	// Bypass registration to plant a below-threshold entry.
	low := agent("L", 60, "code_analysis")
	low.Status = registry.StatusOnline
	_, err := s.Registry().Put(low)
	require.NoError(t, err)

	assert.Equal(t, []string{"A"}, ids(s.QueryCapabilities(ctx, "reliable code analysis")))
	assert.Equal(t, []string{"A", "L"}, ids(s.QueryCapabilities(ctx, "code analysis")))
}

func TestQueryCapabilities_ShortTokensIgnored(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90, "api_ops")))

	assert.Empty(t, s.QueryCapabilities(ctx, "api ops"))
	assert.Empty(t, s.QueryCapabilities(ctx, ""))
}

func TestQueryCapabilities_MatchesDescription(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	reg := agent("A", 90)
	reg.Capabilities = []registry.Capability{{Name: "review", Description: "Security Auditing of Go services", Compliant: true}}
	require.NoError(t, s.RegisterAgent(ctx, reg))

	assert.Equal(t, []string{"A"}, ids(s.QueryCapabilities(ctx, "auditing")))
}

func TestQueryCapabilities_OrderingIndependentOfInsertion(t *testing.T) {
	regs := []registry.AgentRegistration{
		{AgentID: "d", QualityScore: 95, LoadLevel: 0.5}, // 90
		{AgentID: "b", QualityScore: 92, LoadLevel: 0.2}, // 90
		{AgentID: "a", QualityScore: 99, LoadLevel: 0.0}, // 99
		{AgentID: "c", QualityScore: 90, LoadLevel: 0.0}, // 90
		{AgentID: "e", QualityScore: 86, LoadLevel: 0.1}, // 85
	}
	for i := range regs {
		regs[i].Status = registry.StatusOnline
		regs[i].Capabilities = []registry.Capability{{Name: "testing", Compliant: true}}
	}

	orders := [][]int{{0, 1, 2, 3, 4}, {4, 3, 2, 1, 0}, {2, 0, 4, 1, 3}}
	want := []string{"a", "b", "c", "d", "e"}

	for _, order := range orders {
		s := newService(t)
		for _, i := range order {
			_, err := s.Registry().Put(regs[i])
			require.NoError(t, err)
		}
		assert.Equal(t, want, ids(s.QueryCapabilities(context.Background(), "testing")), "order %v", order)
	}
}

// --- Coordination ---

func TestCoordinateAgents_SoftGap(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90, "code_analysis")))

	c := s.CoordinateAgents(ctx, "build X", []string{"code_analysis", "testing"}, nil)

	require.NotNil(t, c.Plan)
	assert.Equal(t, map[string]string{"code_analysis": "A"}, c.Plan.SelectedAgents)
	assert.Equal(t, []string{"testing"}, c.Plan.Unfilled())
	assert.Equal(t, []Step{{Order: 1, Capability: "code_analysis", AgentID: "A"}}, c.Plan.ExecutionOrder)
	assert.Equal(t, 30*time.Second, c.Plan.EstimatedDuration)
	assert.Equal(t, 90.0, c.PlanQuality)
	assert.Nil(t, c.Analysis)
	assert.NotEmpty(t, c.Plan.TaskID)
}

func TestCoordinateAgents_ExcludesUnavailable(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	offline := agent("offline", 99, "testing")
	offline.Status = registry.StatusOffline
	busy := agent("busy", 98, "testing")
	busy.Status = registry.StatusOnline
	busy.LoadLevel = 0.8
	maint := agent("maint", 97, "testing")
	maint.Status = registry.StatusMaintenance
	for _, r := range []registry.AgentRegistration{offline, busy, maint} {
		_, err := s.Registry().Put(r)
		require.NoError(t, err)
	}

	c := s.CoordinateAgents(ctx, "run tests", []string{"testing"}, nil)
	assert.Empty(t, c.Plan.SelectedAgents)
	assert.Equal(t, 0.0, c.PlanQuality)

	require.NoError(t, s.RegisterAgent(ctx, agent("ready", 86, "testing")))
	c = s.CoordinateAgents(ctx, "run tests", []string{"testing"}, nil)
	assert.Equal(t, map[string]string{"testing": "ready"}, c.Plan.SelectedAgents)
}

func TestCoordinateAgents_ExtendedAnalysis(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90, "code_analysis")))
	require.NoError(t, s.RegisterAgent(ctx, agent("B", 96, "testing")))
	require.NoError(t, s.RegisterAgent(ctx, agent("C", 94, "deployment")))

	caps := []string{"code_analysis", "testing", "deployment", "monitoring"}
	c := s.CoordinateAgents(ctx, "ship it", caps, map[string]string{"env": "prod"})

	require.NotNil(t, c.Analysis)
	assert.Len(t, c.Analysis.Dependencies, 3)
	assert.NotEmpty(t, c.Analysis.Risks)
	assert.GreaterOrEqual(t, c.Analysis.Confidence, 0.0)
	assert.LessOrEqual(t, c.Analysis.Confidence, 1.0)

	assert.Len(t, c.Plan.SelectedAgents, 3)
	assert.Equal(t, []string{"monitoring"}, c.Plan.Unfilled())
	assert.Equal(t, 40*time.Second, c.Plan.EstimatedDuration)
	// mean(90, 96, 94) - 2*2
	assert.InDelta(t, 89.3333, c.PlanQuality, 1e-3)
	assert.Equal(t, "prod", c.Plan.Context["env"])

	long := s.CoordinateAgents(ctx, strings.Repeat("a", 201), []string{"testing"}, nil)
	assert.NotNil(t, long.Analysis)
}

func TestCoordinateAgents_Narrative(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return "Monitoring is unstaffed.", nil
	})
	s := newService(t, func(o *Options) {
		o.Generator = gen
		o.NarrateAnalysis = true
	})

	c := s.CoordinateAgents(context.Background(), "ship it", []string{"a_cap", "b_cap", "c_cap"}, nil)
	require.NotNil(t, c.Analysis)
	assert.Contains(t, c.Analysis.Rationale, "Monitoring is unstaffed.")
}

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, 30 * time.Second},
		{2, 30 * time.Second},
		{3, 30 * time.Second},
		{6, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := estimateDuration(tt.n); got != tt.want {
			t.Errorf("estimateDuration(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestPlanQualityFloor(t *testing.T) {
	var regs []registry.AgentRegistration
	for i := 0; i < 60; i++ {
		regs = append(regs, registry.AgentRegistration{QualityScore: 100})
	}
	assert.Equal(t, 0.0, planQuality(regs))
}

// --- Health ---

func TestNetworkHealth(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	h, err := s.NetworkHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, Health{}, h)

	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90)))
	require.NoError(t, s.RegisterAgent(ctx, agent("B", 100)))
	require.NoError(t, s.RecordHeartbeat(ctx, "A", 0.4))
	require.NoError(t, s.RecordHeartbeat(ctx, "B", 0.9)) // busy

	s.Conversations().Start("s", []string{"A", "B"})
	s.SendMessage(ctx, msgTo("A", "B", "status please"))
	s.SendMessage(ctx, msgTo("B", "A", "all green here"))

	h, err = s.NetworkHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, registrySize(t, s), h.TotalAgents)
	assert.Equal(t, 1, h.OnlineAgents)
	assert.Equal(t, 95.0, h.AverageQuality)
	assert.InDelta(t, 0.4, h.AverageLoad, 1e-9)
	assert.Equal(t, 2, h.MessagesThroughput)
}

func TestNetworkHealth_ThroughputWindow(t *testing.T) {
	now := time.Now()
	s := newService(t, func(o *Options) {
		o.Clock = func() time.Time { return now }
	})
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("B", 90)))
	s.Conversations().Start("s", []string{"A", "B"})

	old := msgTo("A", "B", "stale message")
	old.Timestamp = now.Add(-2 * time.Minute)
	s.SendMessage(ctx, old)
	s.SendMessage(ctx, msgTo("A", "B", "fresh message"))

	h, _ := s.NetworkHealth(ctx)
	assert.Equal(t, 1, h.MessagesThroughput)
}

func TestClearPhantomAgents(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, s.RegisterAgent(ctx, agent(id, 90)))
	}
	s.SendMessage(ctx, msgTo("A", "B", "queued work"))

	res, err := s.ClearPhantomAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, ClearResult{Cleared: 3, Remaining: 0}, res)
	assert.Equal(t, 0, registrySize(t, s))
	assert.Empty(t, s.Inbox("B"))
}

func TestReset(t *testing.T) {
	convs := conversation.NewManager()
	s := newService(t, func(o *Options) { o.Conversations = convs })
	ctx := context.Background()
	require.NoError(t, s.RegisterAgent(ctx, agent("A", 90)))
	convs.Start("s", []string{"A"})

	s.Reset()
	assert.Equal(t, 0, registrySize(t, s))
	assert.Equal(t, 0, convs.Analytics().TotalConversations)
}
