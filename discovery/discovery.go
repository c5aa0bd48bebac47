// Package discovery finds peer agents, either from a shared registry or by
// broadcasting on the membership bus, and answers other agents' discovery
// broadcasts.
package discovery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ArnBdev/OneAgent-sub002/bus"
	"github.com/ArnBdev/OneAgent-sub002/heartbeat"
	"github.com/ArnBdev/OneAgent-sub002/logging"
	"github.com/ArnBdev/OneAgent-sub002/registry"
)

// DefaultTimeout bounds a broadcast discovery.
const DefaultTimeout = 5 * time.Second

// ErrAlreadyResponding is returned by a second RespondToDiscovery.
var ErrAlreadyResponding = errors.New("already responding to discovery")

// Config configures a discovery Service.
type Config struct {
	// Self identifies the local agent. Only AgentID is required.
	Self registry.AgentRegistration

	Bus bus.MessageBus

	// Directory, when set, is read directly instead of broadcasting.
	Directory registry.Store

	// Timeout bounds a broadcast discovery. Default: 5 seconds
	Timeout time.Duration

	// HeartbeatInterval for the sender started by RespondToDiscovery.
	// Default: 30 seconds
	HeartbeatInterval time.Duration

	Logger *logging.Logger
}

// Service runs discovery for one agent.
type Service struct {
	cfg    Config
	logger *logging.Logger

	mu     sync.Mutex
	caps   []registry.Capability
	sub    bus.Subscription
	sender *heartbeat.Sender
	done   chan struct{}
}

// New creates a discovery service.
func New(cfg Config) (*Service, error) {
	if cfg.Self.AgentID == "" {
		return nil, errors.New("discovery: self agent id is required")
	}
	if cfg.Bus == nil && cfg.Directory == nil {
		return nil, errors.New("discovery: a bus or a directory is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = heartbeat.DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Service{cfg: cfg, logger: cfg.Logger.WithComponent("discovery")}, nil
}

// DiscoverAgents returns every known agent except self, sorted by id.
//
// With a Directory the result is a complete snapshot. Otherwise a
// DISCOVER_AGENTS broadcast collects AGENT_AVAILABLE replies until the
// timeout or ctx ends; the result is best-effort and never an error.
func (s *Service) DiscoverAgents(ctx context.Context) []registry.AgentRegistration {
	if s.cfg.Directory != nil {
		all, err := s.cfg.Directory.List()
		if err == nil {
			return s.excludeSelf(all)
		}
		s.logger.Warn("directory_unavailable", map[string]interface{}{"error": err.Error()})
		if s.cfg.Bus == nil {
			return []registry.AgentRegistration{}
		}
	}
	return s.broadcast(ctx)
}

func (s *Service) excludeSelf(all []registry.AgentRegistration) []registry.AgentRegistration {
	out := make([]registry.AgentRegistration, 0, len(all))
	for _, r := range all {
		if r.AgentID != s.cfg.Self.AgentID {
			out = append(out, r)
		}
	}
	return out
}

func (s *Service) broadcast(ctx context.Context) []registry.AgentRegistration {
	replyTo := "membership.reply." + uuid.New().String()
	sub, err := s.cfg.Bus.Subscribe(replyTo)
	if err != nil {
		s.logger.Warn("discovery_subscribe_failed", map[string]interface{}{"error": err.Error()})
		return []registry.AgentRegistration{}
	}
	defer sub.Unsubscribe()

	err = bus.PublishEvent(s.cfg.Bus, "", bus.Event{
		Type:    bus.EventDiscover,
		AgentID: s.cfg.Self.AgentID,
		ReplyTo: replyTo,
	})
	if err != nil {
		s.logger.Warn("discovery_broadcast_failed", map[string]interface{}{"error": err.Error()})
		return []registry.AgentRegistration{}
	}

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	found := make(map[string]registry.AgentRegistration)
collect:
	for {
		select {
		case <-ctx.Done():
			break collect
		case <-timer.C:
			break collect
		case msg, ok := <-sub.Messages():
			if !ok {
				break collect
			}
			if reg, ok := s.decodeAvailable(msg); ok {
				found[reg.AgentID] = reg
			}
		}
	}

	out := make([]registry.AgentRegistration, 0, len(found))
	for _, reg := range found {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func (s *Service) decodeAvailable(msg *bus.Message) (registry.AgentRegistration, bool) {
	ev, err := bus.DecodeEvent(msg.Data)
	if err != nil || ev.Type != bus.EventAvailable || ev.AgentID == "" || ev.AgentID == s.cfg.Self.AgentID {
		return registry.AgentRegistration{}, false
	}
	if ev.Agent != nil {
		reg := ev.Agent.Clone()
		reg.AgentID = ev.AgentID
		return reg, true
	}
	return registry.AgentRegistration{
		AgentID:      ev.AgentID,
		Capabilities: ev.Capabilities,
		Status:       registry.StatusOnline,
		LastSeen:     ev.Timestamp,
	}, true
}

// RespondToDiscovery answers DISCOVER_AGENTS broadcasts with an
// AGENT_AVAILABLE snapshot advertising caps, and starts the heartbeat
// sender. It runs until Shutdown or ctx ends.
func (s *Service) RespondToDiscovery(ctx context.Context, caps []registry.Capability) error {
	if s.cfg.Bus == nil {
		return errors.New("discovery: responding requires a bus")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return ErrAlreadyResponding
	}

	sub, err := s.cfg.Bus.Subscribe(bus.SubjectDiscover)
	if err != nil {
		return err
	}
	sender, err := heartbeat.NewSender(heartbeat.SenderConfig{
		Bus:      s.cfg.Bus,
		AgentID:  s.cfg.Self.AgentID,
		Interval: s.cfg.HeartbeatInterval,
	})
	if err != nil {
		sub.Unsubscribe()
		return err
	}
	sender.SetLoad(s.cfg.Self.LoadLevel)
	if err := sender.Start(ctx); err != nil {
		sub.Unsubscribe()
		return err
	}

	s.caps = append([]registry.Capability(nil), caps...)
	s.sub = sub
	s.sender = sender
	s.done = make(chan struct{})
	go s.respond(ctx, sub, s.done)
	return nil
}

func (s *Service) respond(ctx context.Context, sub bus.Subscription, done chan struct{}) {
	defer close(done)
	defer s.release(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			ev, err := bus.DecodeEvent(msg.Data)
			if err != nil || ev.Type != bus.EventDiscover || ev.AgentID == s.cfg.Self.AgentID {
				continue
			}
			if err := bus.PublishEvent(s.cfg.Bus, ev.ReplyTo, s.available()); err != nil {
				s.logger.Warn("discovery_reply_failed", map[string]interface{}{
					"requester": ev.AgentID,
					"error":     err.Error(),
				})
			}
		}
	}
}

// release clears the responder state left by a loop that ended on its own,
// so RespondToDiscovery can be called again. Shutdown clears it first.
func (s *Service) release(done chan struct{}) {
	s.mu.Lock()
	if s.done != done {
		s.mu.Unlock()
		return
	}
	sub, sender := s.sub, s.sender
	s.sub, s.sender, s.done = nil, nil, nil
	s.mu.Unlock()

	sender.Stop()
	sub.Unsubscribe()
}

// SetCapabilities replaces the capabilities advertised in replies.
func (s *Service) SetCapabilities(caps []registry.Capability) {
	s.mu.Lock()
	s.caps = append([]registry.Capability(nil), caps...)
	s.mu.Unlock()
}

// Responding reports whether discovery broadcasts are being answered.
func (s *Service) Responding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub != nil
}

func (s *Service) available() bus.Event {
	s.mu.Lock()
	caps := append([]registry.Capability(nil), s.caps...)
	s.mu.Unlock()

	self := s.cfg.Self.Clone()
	self.Capabilities = caps
	self.Status = registry.StatusOnline
	self.LastSeen = time.Now()
	return bus.Event{
		Type:         bus.EventAvailable,
		AgentID:      self.AgentID,
		Capabilities: caps,
		Agent:        &self,
	}
}

// SetLoad updates the load reported by heartbeats.
func (s *Service) SetLoad(load float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Self.LoadLevel = load
	if s.sender != nil {
		s.sender.SetLoad(load)
	}
}

// Shutdown stops heartbeating and responding, then broadcasts
// AGENT_SHUTDOWN. It is best-effort: the broadcast error, if any, is
// returned after everything has been stopped.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sub, sender, done := s.sub, s.sender, s.done
	s.sub, s.sender, s.done = nil, nil, nil
	s.mu.Unlock()

	if sender != nil {
		sender.Stop()
	}
	if sub != nil {
		sub.Unsubscribe()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	var err error
	if s.cfg.Bus != nil {
		err = bus.PublishEvent(s.cfg.Bus, "", bus.Event{
			Type:    bus.EventShutdown,
			AgentID: s.cfg.Self.AgentID,
		})
	}
	s.logger.Info("agent_shutdown", map[string]interface{}{"agent": s.cfg.Self.AgentID})
	return err
}
