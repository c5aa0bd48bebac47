package ratelimit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ArnBdev/OneAgent-sub002/bus"
	"github.com/ArnBdev/OneAgent-sub002/logging"
)

// SubjectCapacity carries capacity reductions between nodes.
const SubjectCapacity = "ratelimit.capacity"

// CapacityUpdate is broadcast when a node reduces a resource.
type CapacityUpdate struct {
	Resource    string    `json:"resource"`
	AgentID     string    `json:"agent_id"`
	NewCapacity int       `json:"new_capacity"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// SharedConfig configures a Shared limiter.
type SharedConfig struct {
	Bus     bus.MessageBus
	AgentID string

	// ReduceFactor scales capacity on pushback. Default: 0.5
	ReduceFactor float64

	// RecoveryInterval is how often reduced capacity grows back.
	// Default: 30 seconds
	RecoveryInterval time.Duration

	// RecoveryFactor scales capacity on each recovery tick, up to the
	// original. Default: 1.1
	RecoveryFactor float64

	Logger *logging.Logger
}

// Shared is a Limiter whose reductions propagate over the bus.
type Shared struct {
	*Limiter
	cfg    SharedConfig
	logger *logging.Logger
	sub    bus.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewShared subscribes to capacity updates and starts recovery.
func NewShared(cfg SharedConfig) (*Shared, error) {
	if cfg.Bus == nil || cfg.AgentID == "" {
		return nil, ErrInvalidConfig
	}
	if cfg.ReduceFactor <= 0 || cfg.ReduceFactor >= 1 {
		cfg.ReduceFactor = 0.5
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = 30 * time.Second
	}
	if cfg.RecoveryFactor <= 1 {
		cfg.RecoveryFactor = 1.1
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	sub, err := cfg.Bus.Subscribe(SubjectCapacity)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Shared{
		Limiter: NewLimiter(),
		cfg:     cfg,
		logger:  cfg.Logger.WithComponent("ratelimit"),
		sub:     sub,
		cancel:  cancel,
	}
	s.wg.Add(2)
	go s.listen(ctx)
	go s.recoverLoop(ctx)
	return s, nil
}

// Reduce scales the resource down locally and announces the new capacity.
func (s *Shared) Reduce(resource, reason string) {
	n := s.scale(resource, s.cfg.ReduceFactor)
	if n == 0 {
		return
	}
	s.logger.Warn("capacity_reduced", map[string]interface{}{"resource": resource, "capacity": n, "reason": reason})

	data, err := json.Marshal(CapacityUpdate{
		Resource:    resource,
		AgentID:     s.cfg.AgentID,
		NewCapacity: n,
		Reason:      reason,
		Timestamp:   time.Now(),
	})
	if err != nil {
		return
	}
	if err := s.cfg.Bus.Publish(SubjectCapacity, data); err != nil {
		s.logger.Debug("capacity_announce_failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Shared) listen(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.sub.Messages():
			if !ok {
				return
			}
			var u CapacityUpdate
			if err := json.Unmarshal(msg.Data, &u); err != nil || u.AgentID == s.cfg.AgentID {
				continue
			}
			// Only ever lower capacity on a peer's word.
			if c := s.Capacity(u.Resource); c != nil && u.NewCapacity < c.Total {
				s.apply(u.Resource, u.NewCapacity)
			}
		}
	}
}

func (s *Shared) recoverLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.RecoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, r := range s.resources() {
				if c := s.Capacity(r); c != nil && c.Total < c.Original {
					grown := int(float64(c.Total) * s.cfg.RecoveryFactor)
					if grown == c.Total {
						grown++
					}
					s.apply(r, grown)
				}
			}
		}
	}
}

// Close stops background work and the underlying limiter.
func (s *Shared) Close() error {
	s.cancel()
	s.sub.Unsubscribe()
	s.wg.Wait()
	return s.Limiter.Close()
}
