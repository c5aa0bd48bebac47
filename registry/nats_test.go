package registry

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// getNATSConn returns a NATS connection for testing, or skips the test.
func getNATSConn(t *testing.T) *nats.Conn {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}

	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}

	conn, err := nats.Connect(url,
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(0),
	)
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", url, err)
	}
	return conn
}

func uniqueBucket() string {
	return fmt.Sprintf("test-registry-%d", time.Now().UnixNano()%1000000000)
}

func newTestNATSStore(t *testing.T) *NATSStore {
	conn := getNATSConn(t)
	t.Cleanup(conn.Close)

	cfg := DefaultNATSStoreConfig()
	cfg.BucketName = uniqueBucket()

	s, err := NewNATSStore(conn, cfg)
	if err != nil {
		t.Fatalf("NewNATSStore error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// --- Unit Tests ---

func TestKeyEncoding(t *testing.T) {
	for _, id := range []string{"agent-1", "ns:agent.2", "A_b-c"} {
		key := encodeKey(id)
		for _, r := range key {
			if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'V') {
				t.Errorf("encodeKey(%q) = %q contains %q", id, key, r)
			}
		}
		if got := decodeKey(key); got != id {
			t.Errorf("decodeKey(encodeKey(%q)) = %q", id, got)
		}
	}
}

func TestNewNATSStore_NilConn(t *testing.T) {
	if _, err := NewNATSStore(nil, DefaultNATSStoreConfig()); err == nil {
		t.Error("expected error for nil connection")
	}
}

// --- Integration Tests ---

func TestNATSStore_PutGetDelete(t *testing.T) {
	s := newTestNATSStore(t)

	created, err := s.Put(testReg("ns:agent-1", 90))
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if !created {
		t.Error("first Put should report created")
	}
	created, _ = s.Put(testReg("ns:agent-1", 92))
	if created {
		t.Error("second Put should report update")
	}

	got, err := s.Get("ns:agent-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.QualityScore != 92 {
		t.Errorf("QualityScore = %v, want 92", got.QualityScore)
	}

	existed, _ := s.Delete("ns:agent-1")
	if !existed {
		t.Error("Delete should report existed")
	}
	existed, _ = s.Delete("ns:agent-1")
	if existed {
		t.Error("second Delete should report not existed")
	}
	if _, err := s.Get("ns:agent-1"); err != ErrNotFound {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestNATSStore_ListReset(t *testing.T) {
	s := newTestNATSStore(t)

	s.Put(testReg("b", 90))
	s.Put(testReg("a", 90))

	list, err := s.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(list) != 2 || list[0].AgentID != "a" {
		t.Errorf("List() = %v", list)
	}

	n, err := s.Reset()
	if err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if n != 2 {
		t.Errorf("Reset() = %d, want 2", n)
	}
	list, _ = s.List()
	if len(list) != 0 {
		t.Errorf("List() after reset = %d entries", len(list))
	}
}

func TestNATSStore_Watch(t *testing.T) {
	s := newTestNATSStore(t)

	events, err := s.Watch()
	if err != nil {
		t.Fatalf("Watch error: %v", err)
	}

	s.Put(testReg("w1", 90))

	select {
	case ev := <-events:
		if ev.Type != EventAdded || ev.Agent.AgentID != "w1" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for watch event")
	}
}
