package protocol

import (
	"context"

	"github.com/ArnBdev/OneAgent-sub002/errors"
	"github.com/ArnBdev/OneAgent-sub002/message"
	"github.com/ArnBdev/OneAgent-sub002/registry"
)

// Health is a point-in-time view of the network.
type Health struct {
	TotalAgents        int     `json:"totalAgents"`
	OnlineAgents       int     `json:"onlineAgents"`
	AverageQuality     float64 `json:"averageQuality"`
	AverageLoad        float64 `json:"averageLoad"`
	MessagesThroughput int     `json:"messagesThroughput"`
}

// NetworkHealth summarises the registry. AverageQuality is taken over all
// agents and AverageLoad over online agents; both are 0 for empty sets.
// MessagesThroughput counts logged messages in the last ThroughputWindow.
func (s *Service) NetworkHealth(ctx context.Context) (Health, error) {
	_, span := s.tracer.StartSpan(ctx, "protocol.network_health")
	defer span.End()

	all, err := s.store.List()
	if err != nil {
		return Health{}, errors.Wrap(err, "listing registry")
	}

	h := Health{TotalAgents: len(all)}
	var quality, load float64
	for _, r := range all {
		quality += r.QualityScore
		if r.Status == registry.StatusOnline {
			h.OnlineAgents++
			load += r.LoadLevel
		}
	}
	if h.TotalAgents > 0 {
		h.AverageQuality = quality / float64(h.TotalAgents)
	}
	if h.OnlineAgents > 0 {
		h.AverageLoad = load / float64(h.OnlineAgents)
	}
	h.MessagesThroughput = s.convs.MessagesSince(s.now().Add(-ThroughputWindow))

	if s.metrics != nil {
		s.metrics.TotalAgents.Set(float64(h.TotalAgents))
		s.metrics.OnlineAgents.Set(float64(h.OnlineAgents))
		s.metrics.AverageQuality.Set(h.AverageQuality)
		s.metrics.AverageLoad.Set(h.AverageLoad)
		s.metrics.MessagesThroughput.Set(float64(h.MessagesThroughput))
	}
	return h, nil
}

// ClearResult reports a phantom-agent purge. Remaining is always 0.
type ClearResult struct {
	Cleared   int `json:"cleared"`
	Remaining int `json:"remaining"`
}

// ClearPhantomAgents empties the registry and every inbox.
func (s *Service) ClearPhantomAgents(ctx context.Context) (ClearResult, error) {
	_, span := s.tracer.StartSpan(ctx, "protocol.clear_phantom_agents")
	defer span.End()

	n, err := s.store.Reset()
	if err != nil {
		return ClearResult{}, errors.Wrap(err, "resetting registry")
	}
	s.mu.Lock()
	s.inboxes = make(map[string][]message.Message)
	s.mu.Unlock()

	s.logger.Warn("phantom_agents_cleared", map[string]interface{}{"cleared": n})
	return ClearResult{Cleared: n}, nil
}
