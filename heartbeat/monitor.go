package heartbeat

import (
	"context"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ArnBdev/OneAgent-sub002/bus"
)

// Monitor tracks heartbeats in its own last-seen map and sweeps out agents
// that fall silent.
type Monitor struct {
	cfg MonitorConfig

	mu       sync.RWMutex
	lastSeen map[string]time.Time
	load     map[string]float64
	deadCBs  []func(DeadEvent)
	beatCBs  []func(agentID string, load float64)

	running atomic.Bool
	sub     bus.Subscription
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a liveness monitor.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	cfg.applyDefaults()
	return &Monitor{
		cfg:      cfg,
		lastSeen: make(map[string]time.Time),
		load:     make(map[string]float64),
	}, nil
}

// Timeout returns the silence after which an agent is dead.
func (m *Monitor) Timeout() time.Duration {
	return m.cfg.Timeout()
}

// OnDead registers a callback invoked once per dead agent.
func (m *Monitor) OnDead(cb func(DeadEvent)) {
	m.mu.Lock()
	m.deadCBs = append(m.deadCBs, cb)
	m.mu.Unlock()
}

// OnHeartbeat registers a callback invoked for every AGENT_HEARTBEAT seen
// on the bus, with the reported load.
func (m *Monitor) OnHeartbeat(cb func(agentID string, load float64)) {
	m.mu.Lock()
	m.beatCBs = append(m.beatCBs, cb)
	m.mu.Unlock()
}

// Receive records a heartbeat from agentID at the given time. A zero time
// means now.
func (m *Monitor) Receive(agentID string, at time.Time) {
	if agentID == "" {
		return
	}
	if at.IsZero() {
		at = m.cfg.Clock()
	}
	m.mu.Lock()
	if prev, ok := m.lastSeen[agentID]; !ok || at.After(prev) {
		m.lastSeen[agentID] = at
	}
	m.mu.Unlock()
}

// Forget drops an agent without reporting it dead.
func (m *Monitor) Forget(agentID string) {
	m.mu.Lock()
	delete(m.lastSeen, agentID)
	delete(m.load, agentID)
	m.mu.Unlock()
}

// LastSeen returns when the agent was last heard from.
func (m *Monitor) LastSeen(agentID string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.lastSeen[agentID]
	return t, ok
}

// Load returns the last load an agent reported.
func (m *Monitor) Load(agentID string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.load[agentID]
	return l, ok
}

// Tracked lists the agents currently considered alive, sorted.
func (m *Monitor) Tracked() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.lastSeen))
	for id := range m.lastSeen {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Sweep reports every agent silent for longer than Timeout at now, removes
// it from the last-seen map, and returns the reports in agent order.
func (m *Monitor) Sweep(now time.Time) []DeadEvent {
	timeout := m.cfg.Timeout()

	m.mu.Lock()
	var dead []DeadEvent
	for id, seen := range m.lastSeen {
		if silence := now.Sub(seen); silence > timeout {
			dead = append(dead, DeadEvent{AgentID: id, LastSeen: seen, Silence: silence})
			delete(m.lastSeen, id)
			delete(m.load, id)
		}
	}
	callbacks := slices.Clone(m.deadCBs)
	m.mu.Unlock()

	sort.Slice(dead, func(i, j int) bool { return dead[i].AgentID < dead[j].AgentID })
	for _, ev := range dead {
		m.report(ev, callbacks)
	}
	return dead
}

func (m *Monitor) report(ev DeadEvent, callbacks []func(DeadEvent)) {
	m.cfg.Logger.AgentDead(ev.AgentID, ev.Silence)
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.DeadAgents.Inc()
	}
	if m.cfg.Bus != nil {
		err := bus.PublishEvent(m.cfg.Bus, "", bus.Event{
			Type:      bus.EventDead,
			AgentID:   ev.AgentID,
			Timestamp: m.cfg.Clock(),
		})
		if err != nil {
			m.cfg.Logger.Warn("dead_event_publish_failed", map[string]interface{}{
				"agent": ev.AgentID,
				"error": err.Error(),
			})
		}
	}
	for _, cb := range callbacks {
		cb(ev)
	}
}

// Start subscribes to membership traffic and sweeps every Interval until
// Stop or ctx is done. Heartbeats and availability replies count as
// liveness; AGENT_SHUTDOWN forgets the agent.
func (m *Monitor) Start(ctx context.Context) error {
	if m.cfg.Bus == nil {
		return ErrInvalidConfig
	}
	if m.running.Swap(true) {
		return ErrAlreadyStarted
	}

	sub, err := m.cfg.Bus.Subscribe(bus.SubjectMembership)
	if err != nil {
		m.running.Store(false)
		return err
	}
	m.sub = sub
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.run(ctx)
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case msg, ok := <-m.sub.Messages():
			if !ok {
				return
			}
			m.handle(msg)
		case <-ticker.C:
			m.Sweep(m.cfg.Clock())
		}
	}
}

func (m *Monitor) handle(msg *bus.Message) {
	ev, err := bus.DecodeEvent(msg.Data)
	if err != nil {
		m.cfg.Logger.Debug("membership_event_dropped", map[string]interface{}{
			"subject": msg.Subject,
			"error":   err.Error(),
		})
		return
	}

	switch ev.Type {
	case bus.EventHeartbeat:
		m.Receive(ev.AgentID, m.cfg.Clock())
		m.mu.Lock()
		if _, ok := m.lastSeen[ev.AgentID]; ok {
			m.load[ev.AgentID] = ev.Load
		}
		callbacks := slices.Clone(m.beatCBs)
		m.mu.Unlock()
		if ev.AgentID == "" {
			return
		}
		for _, cb := range callbacks {
			cb(ev.AgentID, ev.Load)
		}
	case bus.EventAvailable:
		m.Receive(ev.AgentID, m.cfg.Clock())
	case bus.EventShutdown:
		m.Forget(ev.AgentID)
	}
}

// Stop stops the monitor loop and unsubscribes.
func (m *Monitor) Stop() error {
	if !m.running.Swap(false) {
		return ErrNotStarted
	}
	close(m.stopCh)
	<-m.doneCh
	return m.sub.Unsubscribe()
}
