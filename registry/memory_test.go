package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func testReg(id string, quality float64) AgentRegistration {
	return AgentRegistration{
		AgentID:   id,
		AgentType: "analyst",
		Capabilities: []Capability{
			{Name: "code_analysis", Description: "static review", Compliant: true},
		},
		Endpoint:     "internal://" + id,
		Status:       StatusOnline,
		QualityScore: quality,
		LastSeen:     time.Now(),
	}
}

// --- Unit Tests ---

func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	created, err := s.Put(testReg("agent-1", 90))
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if !created {
		t.Error("first Put should report created")
	}

	got, err := s.Get("agent-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.QualityScore != 90 {
		t.Errorf("QualityScore = %v, want 90", got.QualityScore)
	}

	created, _ = s.Put(testReg("agent-1", 95))
	if created {
		t.Error("second Put should report update")
	}
	got, _ = s.Get("agent-1")
	if got.QualityScore != 95 {
		t.Errorf("QualityScore = %v, want 95", got.QualityScore)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	s.Put(testReg("agent-1", 90))
	got, _ := s.Get("agent-1")
	got.Capabilities[0].Name = "mutated"

	again, _ := s.Get("agent-1")
	if again.Capabilities[0].Name != "code_analysis" {
		t.Error("Get should return an independent copy")
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	s.Put(testReg("agent-1", 90))

	existed, err := s.Delete("agent-1")
	if err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if !existed {
		t.Error("first Delete should report existed")
	}

	existed, _ = s.Delete("agent-1")
	if existed {
		t.Error("second Delete should report not existed")
	}

	if _, err := s.Get("agent-1"); err != ErrNotFound {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_InvalidID(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	if _, err := s.Put(AgentRegistration{}); err != ErrInvalidID {
		t.Errorf("Put empty id = %v, want ErrInvalidID", err)
	}
	if _, err := s.Get(""); err != ErrInvalidID {
		t.Errorf("Get empty id = %v, want ErrInvalidID", err)
	}
	if _, err := s.Delete(""); err != ErrInvalidID {
		t.Errorf("Delete empty id = %v, want ErrInvalidID", err)
	}
}

func TestMemoryStore_ListSorted(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		s.Put(testReg(id, 90))
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	want := []string{"alpha", "bravo", "charlie"}
	for i, reg := range list {
		if reg.AgentID != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, reg.AgentID, want[i])
		}
	}
}

func TestMemoryStore_Reset(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	s.Put(testReg("a", 90))
	s.Put(testReg("b", 90))

	n, err := s.Reset()
	if err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if n != 2 {
		t.Errorf("Reset() = %d, want 2", n)
	}
	list, _ := s.List()
	if len(list) != 0 {
		t.Errorf("List() after reset = %d entries, want 0", len(list))
	}
}

func TestMemoryStore_Watch(t *testing.T) {
	s := NewMemoryStore()

	events, err := s.Watch()
	if err != nil {
		t.Fatalf("Watch error: %v", err)
	}

	s.Put(testReg("a", 90))
	s.Put(testReg("a", 91))
	s.Delete("a")

	want := []EventType{EventAdded, EventUpdated, EventRemoved}
	for i, w := range want {
		select {
		case ev := <-events:
			if ev.Type != w {
				t.Errorf("event %d = %v, want %v", i, ev.Type, w)
			}
			if ev.Agent.AgentID != "a" {
				t.Errorf("event %d agent = %q", i, ev.Agent.AgentID)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}

	s.Close()
	if _, ok := <-events; ok {
		t.Error("watch channel should be closed after Close")
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	s.Close()

	if _, err := s.Put(testReg("a", 90)); err != ErrClosed {
		t.Errorf("Put after close = %v, want ErrClosed", err)
	}
	if _, err := s.List(); err != ErrClosed {
		t.Errorf("List after close = %v, want ErrClosed", err)
	}
	if _, err := s.Watch(); err != ErrClosed {
		t.Errorf("Watch after close = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("agent-%d", i%10)
			s.Put(testReg(id, 90))
			s.Get(id)
			s.List()
		}(i)
	}
	wg.Wait()

	list, _ := s.List()
	if len(list) != 10 {
		t.Errorf("List() = %d entries, want 10", len(list))
	}
}
