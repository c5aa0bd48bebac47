package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ArnBdev/OneAgent-sub002/bus"
)

// Sender publishes AGENT_HEARTBEAT events for one agent.
type Sender struct {
	bus      bus.MessageBus
	agentID  string
	interval time.Duration

	mu   sync.RWMutex
	load float64

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSender creates a heartbeat sender.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sender{
		bus:      cfg.Bus,
		agentID:  cfg.AgentID,
		interval: interval,
	}, nil
}

// Start sends a heartbeat immediately and then every interval until Stop
// or ctx is done.
func (s *Sender) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrAlreadyStarted
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(ctx)
	return nil
}

func (s *Sender) run(ctx context.Context) {
	defer close(s.doneCh)

	s.Beat()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.running.Store(false)
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Beat()
		}
	}
}

// Beat publishes one heartbeat now.
func (s *Sender) Beat() error {
	s.mu.RLock()
	load := s.load
	s.mu.RUnlock()
	return bus.PublishEvent(s.bus, "", bus.Event{
		Type:    bus.EventHeartbeat,
		AgentID: s.agentID,
		Load:    load,
	})
}

// SetLoad updates the load reported in heartbeats, clamped to [0,1].
func (s *Sender) SetLoad(load float64) {
	if load < 0 {
		load = 0
	}
	if load > 1 {
		load = 1
	}
	s.mu.Lock()
	s.load = load
	s.mu.Unlock()
}

// Running reports whether the heartbeat loop is active.
func (s *Sender) Running() bool {
	return s.running.Load()
}

// Stop stops sending heartbeats. A sender stopped by its context reports
// ErrNotStarted.
func (s *Sender) Stop() error {
	if !s.running.Swap(false) {
		return ErrNotStarted
	}
	close(s.stopCh)
	<-s.doneCh
	return nil
}

// AgentID returns the sender's agent ID.
func (s *Sender) AgentID() string {
	return s.agentID
}
