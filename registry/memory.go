package registry

import (
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store guarded by a single mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	agents   map[string]AgentRegistration
	watchers []chan Event
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:   make(map[string]AgentRegistration),
		watchers: make([]chan Event, 0),
	}
}

func (s *MemoryStore) Put(reg AgentRegistration) (bool, error) {
	if reg.AgentID == "" {
		return false, ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	_, exists := s.agents[reg.AgentID]
	stored := reg.Clone()
	s.agents[reg.AgentID] = stored

	eventType := EventAdded
	if exists {
		eventType = EventUpdated
	}
	s.notifyWatchers(Event{Type: eventType, Agent: stored.Clone()})

	return !exists, nil
}

func (s *MemoryStore) Get(id string) (*AgentRegistration, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	reg, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := reg.Clone()
	return &out, nil
}

func (s *MemoryStore) Delete(id string) (bool, error) {
	if id == "" {
		return false, ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	reg, ok := s.agents[id]
	if !ok {
		return false, nil
	}
	delete(s.agents, id)
	s.notifyWatchers(Event{Type: EventRemoved, Agent: reg})
	return true, nil
}

func (s *MemoryStore) List() ([]AgentRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	result := make([]AgentRegistration, 0, len(s.agents))
	for _, reg := range s.agents {
		result = append(result, reg.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AgentID < result[j].AgentID
	})
	return result, nil
}

func (s *MemoryStore) Reset() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	n := len(s.agents)
	for _, reg := range s.agents {
		s.notifyWatchers(Event{Type: EventRemoved, Agent: reg})
	}
	s.agents = make(map[string]AgentRegistration)
	return n, nil
}

func (s *MemoryStore) Watch() (<-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, 64)
	s.watchers = append(s.watchers, ch)
	return ch, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, ch := range s.watchers {
		close(ch)
	}
	s.watchers = nil
	return nil
}

// notifyWatchers must be called with the lock held. Full channels drop the event.
func (s *MemoryStore) notifyWatchers(event Event) {
	for _, ch := range s.watchers {
		select {
		case ch <- event:
		default:
		}
	}
}
