package workflow

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArnBdev/OneAgent-sub002/errors"
	"github.com/ArnBdev/OneAgent-sub002/logging"
	"github.com/ArnBdev/OneAgent-sub002/message"
	"github.com/ArnBdev/OneAgent-sub002/protocol"
	"github.com/ArnBdev/OneAgent-sub002/registry"
	"github.com/ArnBdev/OneAgent-sub002/telemetry"
)

func setup(t *testing.T) (*protocol.Service, *Engine, *telemetry.Metrics) {
	t.Helper()
	svc := protocol.New(protocol.Options{Logger: logging.Nop()})
	metrics := telemetry.NewMetrics()
	eng := New(svc, Config{Logger: logging.Nop(), Metrics: metrics})
	return svc, eng, metrics
}

func register(t *testing.T, svc *protocol.Service, id, agentType string) {
	t.Helper()
	require.NoError(t, svc.RegisterAgent(context.Background(), registry.AgentRegistration{
		AgentID:      id,
		AgentType:    agentType,
		Endpoint:     "internal://" + id,
		QualityScore: 90,
		Capabilities: []registry.Capability{{Name: "review", Version: "1.0", Compliant: true}},
	}))
}

func TestMatches(t *testing.T) {
	tests := []struct {
		condition string
		content   string
		want      bool
	}{
		{"security breach", "Possible BREACH in module", true},
		{"security breach", "all quiet", false},
		{"deploy", "redeployment scheduled", true},
		{"   ", "anything", false},
		{"urgent", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Matches(tt.condition, tt.content), "%q in %q", tt.condition, tt.content)
	}
}

func TestRegister(t *testing.T) {
	_, eng, _ := setup(t)

	_, err := eng.Register(Trigger{Name: "empty"})
	assert.True(t, errors.Is(err, errors.ErrCodeValidationFailed))

	_, err = eng.Register(Trigger{Condition: "x", AutoExecute: true})
	assert.True(t, errors.Is(err, errors.ErrCodeValidationFailed))

	a, err := eng.Register(Trigger{Name: "a", Condition: " alpha "})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "alpha", a.Condition)

	_, err = eng.Register(Trigger{ID: "b", Condition: "beta"})
	require.NoError(t, err)
	_, err = eng.Register(Trigger{ID: "b", Condition: "gamma"})
	require.NoError(t, err)

	all := eng.Triggers()
	require.Len(t, all, 2)
	assert.Equal(t, a.ID, all[0].ID)
	assert.Equal(t, "gamma", all[1].Condition)

	assert.True(t, eng.Remove("b"))
	assert.False(t, eng.Remove("b"))
	eng.Reset()
	assert.Empty(t, eng.Triggers())
}

func TestCheck_MatchOnly(t *testing.T) {
	svc, eng, _ := setup(t)
	register(t, svc, "agent-sec", "security")

	_, err := eng.Register(Trigger{ID: "t1", Condition: "breach", AgentTypes: []string{"security"}})
	require.NoError(t, err)
	_, err = eng.Register(Trigger{ID: "t2", Condition: "invoice"})
	require.NoError(t, err)

	got := eng.Check(context.Background(), message.Message{Content: "a breach was found"})
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].ID)

	// Not auto-executing: nothing was started.
	assert.Equal(t, 0, svc.Conversations().Analytics().TotalConversations)

	none := eng.Check(context.Background(), message.Message{Content: "weather report"})
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestExecute_ResolvesByTypeThenID(t *testing.T) {
	svc, eng, metrics := setup(t)
	register(t, svc, "agent-z", "security")
	register(t, svc, "agent-b", "security")
	register(t, svc, "reviewer-1", "review")

	trig := Trigger{ID: "t", Name: "breach", Condition: "breach", AgentTypes: []string{"security"}}
	src := message.Message{ID: "m1", SourceAgent: "agent-x", Content: "breach detected", SessionID: "s1"}

	exec, err := eng.Execute(context.Background(), trig, src)
	require.NoError(t, err)
	assert.Equal(t, "agent-b", exec.TargetAgent)
	assert.True(t, exec.Response.Success)

	log, err := svc.Conversations().Get(exec.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "s1", log.SessionID)
	assert.ElementsMatch(t, []string{EngineAgentID, "agent-b"}, log.Participants)
	require.Len(t, log.Messages, 1)
	assert.Equal(t, message.TypeCoordinationRequest, log.Messages[0].Type)
	assert.Equal(t, 1, log.Messages[0].Metadata.TriggerDepth)
	assert.Contains(t, log.Messages[0].Content, "breach detected")

	trig.AgentTypes = []string{"reviewer-1"}
	exec, err = eng.Execute(context.Background(), trig, src)
	require.NoError(t, err)
	assert.Equal(t, "reviewer-1", exec.TargetAgent)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.TriggerExecutions.WithLabelValues("ok")))
}

func TestExecute_NoTarget(t *testing.T) {
	svc, eng, metrics := setup(t)

	_, err := eng.Execute(context.Background(), Trigger{ID: "t", Condition: "x", AgentTypes: []string{"ghost"}}, message.Message{Content: "x"})
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	_, err = eng.Execute(context.Background(), Trigger{ID: "t", Condition: "x"}, message.Message{Content: "x"})
	assert.True(t, errors.Is(err, errors.ErrCodeValidationFailed))

	assert.Equal(t, 0, svc.Conversations().Analytics().TotalConversations)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.TriggerExecutions.WithLabelValues("no_target")))
}

func TestDeliveredMessagesFireTriggers(t *testing.T) {
	svc, eng, metrics := setup(t)
	svc.Observe(eng)
	register(t, svc, "agent-a", "worker")
	register(t, svc, "agent-sec", "security")

	_, err := eng.Register(Trigger{ID: "t", Name: "breach", Condition: "breach", AgentTypes: []string{"security"}, AutoExecute: true})
	require.NoError(t, err)

	resp := svc.SendMessage(context.Background(), message.Message{
		Type:        message.TypeStatusUpdate,
		SourceAgent: "agent-a",
		TargetAgent: "agent-a",
		Content:     "breach in the payment service",
	})
	require.True(t, resp.Success)

	// The request quotes the breach but comes from the engine, so it does
	// not fire the trigger again.
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TriggerExecutions.WithLabelValues("ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.TriggerExecutions.WithLabelValues("depth_exceeded")))
	assert.Equal(t, 1, svc.Conversations().Analytics().TotalConversations)
	assert.Len(t, svc.Inbox("agent-sec"), 1)
}

func TestDeliveredMessagesFireEachTriggerOnce(t *testing.T) {
	svc, eng, metrics := setup(t)
	svc.Observe(eng)
	register(t, svc, "agent-a", "worker")
	register(t, svc, "agent-sec", "security")

	for _, id := range []string{"t1", "t2"} {
		_, err := eng.Register(Trigger{ID: id, Condition: "breach", AgentTypes: []string{"security"}, AutoExecute: true})
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		resp := svc.SendMessage(context.Background(), message.Message{
			Type:        message.TypeStatusUpdate,
			SourceAgent: "agent-a",
			TargetAgent: "agent-a",
			Content:     "breach detected in billing",
		})
		require.True(t, resp.Success)
	}

	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.TriggerExecutions.WithLabelValues("ok")))
	assert.Len(t, svc.Inbox("agent-sec"), 4)

	ids := svc.Conversations().OpenFor(EngineAgentID, "agent-sec")
	require.Len(t, ids, 4)
	for _, id := range ids {
		log, err := svc.Conversations().Get(id)
		require.NoError(t, err)
		require.Len(t, log.Messages, 1, id)
		assert.Equal(t, id, log.Messages[0].Metadata.ConversationID)
	}
}

func TestCheck_DepthCap(t *testing.T) {
	svc, eng, _ := setup(t)
	register(t, svc, "agent-sec", "security")

	_, err := eng.Register(Trigger{ID: "t", Condition: "breach", AgentTypes: []string{"security"}, AutoExecute: true})
	require.NoError(t, err)

	msg := message.Message{Content: "breach", Metadata: message.Metadata{TriggerDepth: MaxDepth}}
	got := eng.Check(context.Background(), msg)
	assert.Len(t, got, 1)
	assert.Equal(t, 0, svc.Conversations().Analytics().TotalConversations)
}
