package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArnBdev/OneAgent-sub002/bus"
	"github.com/ArnBdev/OneAgent-sub002/config"
	"github.com/ArnBdev/OneAgent-sub002/logging"
	"github.com/ArnBdev/OneAgent-sub002/message"
	"github.com/ArnBdev/OneAgent-sub002/registry"
	"github.com/ArnBdev/OneAgent-sub002/transport"
)

func testServer(t *testing.T, mutate func(*config.Config)) (*server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Protocol.Listen = "127.0.0.1:0"
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	s, err := newServer(context.Background(), cfg, nil, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.coord.Shutdown(context.Background()) })

	hs := httptest.NewServer(s.handler)
	t.Cleanup(hs.Close)
	return s, hs
}

func rpcCall(t *testing.T, url, method string, params, out interface{}) {
	t.Helper()
	req, err := transport.NewRequest(1, method, params)
	require.NoError(t, err)
	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp, err := http.Post(url+"/rpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw transport.RawResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	require.Nil(t, raw.Error, "%s failed: %+v", method, raw.Error)
	if out != nil {
		require.NoError(t, json.Unmarshal(raw.Result, out))
	}
}

func worker(id string) registry.AgentRegistration {
	return registry.AgentRegistration{
		AgentID:      id,
		AgentType:    "worker",
		Endpoint:     "internal://" + id,
		QualityScore: 92,
		Capabilities: []registry.Capability{{Name: "summarise", Version: "1.0", Compliant: true}},
	}
}

func TestServer_RoutesThroughRPC(t *testing.T) {
	_, hs := testServer(t, nil)

	rpcCall(t, hs.URL, "registerAgent", worker("agent-a"), nil)
	rpcCall(t, hs.URL, "registerAgent", worker("agent-b"), nil)

	var resp message.Response
	rpcCall(t, hs.URL, "sendMessage", message.Message{
		Type:        message.TypeTaskDelegation,
		SourceAgent: "agent-a",
		TargetAgent: "agent-b",
		Content:     "summarise the release notes",
	}, &resp)
	assert.True(t, resp.Success)

	var health map[string]interface{}
	rpcCall(t, hs.URL, "getNetworkHealth", nil, &health)
	assert.EqualValues(t, 2, health["totalAgents"])
}

func TestServer_HealthAndMetrics(t *testing.T) {
	_, hs := testServer(t, nil)

	resp, err := http.Get(hs.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])

	mresp, err := http.Get(hs.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	text, _ := io.ReadAll(mresp.Body)
	assert.Contains(t, string(text), "oneagent_")
}

func TestServer_MetricsDisabled(t *testing.T) {
	_, hs := testServer(t, func(c *config.Config) {
		c.Telemetry.Metrics = false
		c.Protocol.Events = false
	})

	resp, err := http.Get(hs.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Backends(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"memory archive with bleve matcher", func(c *config.Config) {
			c.Memory.Backend = config.BackendMemory
			c.Protocol.Matcher = config.MatcherBleve
		}},
		{"sqlite archive", func(c *config.Config) {
			c.Memory.Backend = config.BackendSQLite
			c.Memory.Path = filepath.Join(dir, "memory.db")
		}},
		{"throttled generator", func(c *config.Config) {
			c.LLM.RequestsPerMinute = 600
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, hs := testServer(t, tt.mutate)
			rpcCall(t, hs.URL, "registerAgent", worker("agent-a"), nil)
			rpcCall(t, hs.URL, "registerAgent", worker("agent-b"), nil)

			var started map[string]string
			rpcCall(t, hs.URL, "startConversation", map[string]interface{}{
				"sessionId":    "s1",
				"participants": []string{"agent-a", "agent-b"},
			}, &started)
			require.NotEmpty(t, started["conversationId"])

			var resp message.Response
			rpcCall(t, hs.URL, "sendMessage", message.Message{
				Type:        message.TypeTaskDelegation,
				SourceAgent: "agent-a",
				TargetAgent: "agent-b",
				Content:     "summarise the incident",
			}, &resp)
			assert.True(t, resp.Success)

			rpcCall(t, hs.URL, "endConversation", map[string]interface{}{
				"conversationId": started["conversationId"],
			}, nil)
		})
	}
}

func TestServer_HeartbeatsRefreshRegistry(t *testing.T) {
	s, hs := testServer(t, nil)
	rpcCall(t, hs.URL, "registerAgent", worker("agent-a"), nil)

	require.NoError(t, bus.PublishEvent(s.bus, "", bus.Event{Type: bus.EventHeartbeat, AgentID: "agent-a", Load: 0.9}))
	require.Eventually(t, func() bool {
		reg, err := s.proto.Registry().Get("agent-a")
		return err == nil && reg.Status == registry.StatusBusy
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.PublishEvent(s.bus, "", bus.Event{Type: bus.EventHeartbeat, AgentID: "agent-a", Load: 0.1}))
	require.Eventually(t, func() bool {
		reg, err := s.proto.Registry().Get("agent-a")
		return err == nil && reg.Status == registry.StatusOnline && reg.LoadLevel == 0.1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewServer_BadPolicyFile(t *testing.T) {
	cfg := config.Default()
	cfg.Policy.File = filepath.Join(t.TempDir(), "missing.toml")
	_, err := newServer(context.Background(), cfg, nil, logging.Nop())
	assert.ErrorContains(t, err, "loading policy")
}

func TestServe_StopsOnCancel(t *testing.T) {
	s, _ := testServer(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	select {
	case <-s.coord.Done():
	default:
		t.Error("shutdown should have completed")
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "oneagent-core", cfg.Protocol.AgentID)

	path := filepath.Join(t.TempDir(), "oneagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("protocol:\n  agent_id: edge-1\n"), 0o600))
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "edge-1", cfg.Protocol.AgentID)

	_, err = loadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorContains(t, err, "loading config")
}

func TestAdvertised(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{":8083", "localhost:8083"},
		{"0.0.0.0:9000", "localhost:9000"},
		{"10.0.0.5:8083", "10.0.0.5:8083"},
		{"garbage", "garbage"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, advertised(tt.in), tt.in)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newVersionCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "oneagent dev\n", out.String())
}
