package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/ArnBdev/OneAgent-sub002/bus"
)

// --- Unit Tests ---

func TestSenderConfig_Validate(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	tests := []struct {
		name    string
		cfg     SenderConfig
		wantErr bool
	}{
		{"valid", SenderConfig{Bus: b, AgentID: "agent-a"}, false},
		{"missing bus", SenderConfig{AgentID: "agent-a"}, true},
		{"missing agent", SenderConfig{Bus: b}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSender(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSender() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSender_SetLoadClamps(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	sub, _ := b.Subscribe(bus.SubjectHeartbeat)

	s, _ := NewSender(SenderConfig{Bus: b, AgentID: "agent-a"})

	for _, tt := range []struct{ in, want float64 }{{-1, 0}, {0.5, 0.5}, {7, 1}} {
		s.SetLoad(tt.in)
		if err := s.Beat(); err != nil {
			t.Fatalf("Beat error: %v", err)
		}
		ev, err := bus.DecodeEvent((<-sub.Messages()).Data)
		if err != nil {
			t.Fatalf("DecodeEvent error: %v", err)
		}
		if ev.Load != tt.want {
			t.Errorf("SetLoad(%v): load = %v, want %v", tt.in, ev.Load, tt.want)
		}
	}
}

// --- Integration Tests ---

func TestSender_StartStop(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	sub, _ := b.Subscribe(bus.SubjectHeartbeat)

	s, _ := NewSender(SenderConfig{Bus: b, AgentID: "agent-a", Interval: 10 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := s.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
	}

	for i := 0; i < 3; i++ {
		select {
		case msg := <-sub.Messages():
			ev, _ := bus.DecodeEvent(msg.Data)
			if ev.Type != bus.EventHeartbeat || ev.AgentID != "agent-a" {
				t.Errorf("event = %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for heartbeat %d", i)
		}
	}

	if err := s.Stop(); err != nil {
		t.Errorf("Stop error: %v", err)
	}
	if s.Running() {
		t.Error("sender still running after Stop")
	}
	if err := s.Stop(); err != ErrNotStarted {
		t.Errorf("second Stop() = %v, want ErrNotStarted", err)
	}
}

func TestSender_ContextCancel(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	s, _ := NewSender(SenderConfig{Bus: b, AgentID: "agent-a", Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	deadline := time.Now().Add(time.Second)
	for s.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Running() {
		t.Error("sender should stop when its context ends")
	}
}

func TestSenderToMonitor(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	m, _ := NewMonitor(MonitorConfig{Bus: b, Interval: time.Hour})
	m.Start(context.Background())
	defer m.Stop()

	s, _ := NewSender(SenderConfig{Bus: b, AgentID: "agent-a", Interval: time.Hour})
	s.SetLoad(0.25)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool {
		_, ok := m.LastSeen("agent-a")
		return ok
	})
	if load, _ := m.Load("agent-a"); load != 0.25 {
		t.Errorf("load = %v, want 0.25", load)
	}
}
