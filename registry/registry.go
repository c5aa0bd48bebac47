package registry

import (
	"errors"
	"fmt"
	"time"
)

// Common errors.
var (
	ErrNotFound  = errors.New("agent not found")
	ErrClosed    = errors.New("registry closed")
	ErrInvalidID = errors.New("invalid agent ID")
)

// Status represents an agent's operational state.
type Status string

const (
	StatusOnline      Status = "online"
	StatusBusy        Status = "busy"
	StatusOffline     Status = "offline"
	StatusMaintenance Status = "maintenance"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusBusy, StatusOffline, StatusMaintenance:
		return true
	}
	return false
}

// CanTransition reports whether an agent may move from one status to another.
// Staying in the same state is always allowed. offline agents must come back
// online before they can be busy.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusOnline:
		return to == StatusBusy || to == StatusOffline || to == StatusMaintenance
	case StatusBusy:
		return to == StatusOnline || to == StatusOffline || to == StatusMaintenance
	case StatusOffline:
		return to == StatusOnline
	case StatusMaintenance:
		return to == StatusOnline || to == StatusOffline
	}
	return false
}

// AgentRegistration is the identity and advertised capability of one agent.
type AgentRegistration struct {
	AgentID      string       `json:"agentId"`
	AgentType    string       `json:"agentType"`
	Capabilities []Capability `json:"capabilities"`
	Endpoint     string       `json:"endpoint"`
	Status       Status       `json:"status"`

	// LoadLevel is the agent's current load (0.0-1.0).
	LoadLevel float64 `json:"loadLevel"`

	// QualityScore is the agent's baseline quality (0-100).
	QualityScore float64 `json:"qualityScore"`

	LastSeen time.Time `json:"lastSeen"`
}

// Clone returns a deep copy.
func (r AgentRegistration) Clone() AgentRegistration {
	out := r
	if r.Capabilities != nil {
		out.Capabilities = make([]Capability, len(r.Capabilities))
		copy(out.Capabilities, r.Capabilities)
	}
	return out
}

// EventType represents the type of registry event.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event represents a change in the registry.
type Event struct {
	Type EventType

	// Agent holds the new state, or the last known state for removals.
	Agent AgentRegistration
}

// Store holds agent registrations. Implementations serialise their own
// mutations; callers that need read-modify-write atomicity per agent
// must add their own locking.
type Store interface {
	// Put inserts or replaces a registration, reporting whether it was new.
	Put(reg AgentRegistration) (created bool, err error)

	// Get returns a copy of the registration or ErrNotFound.
	Get(id string) (*AgentRegistration, error)

	// Delete removes a registration, reporting whether it existed.
	Delete(id string) (existed bool, err error)

	// List returns all registrations sorted by AgentID.
	List() ([]AgentRegistration, error)

	// Reset removes every registration and returns how many were removed.
	Reset() (int, error)

	// Watch returns a channel of registry events.
	// The channel is closed when the store is closed.
	Watch() (<-chan Event, error)

	Close() error
}

// Validate checks structural invariants of a registration.
func Validate(reg AgentRegistration) error {
	if reg.AgentID == "" {
		return ErrInvalidID
	}
	if reg.LoadLevel < 0 || reg.LoadLevel > 1 {
		return fmt.Errorf("load level %v outside [0,1]", reg.LoadLevel)
	}
	if reg.QualityScore < 0 || reg.QualityScore > 100 {
		return fmt.Errorf("quality score %v outside [0,100]", reg.QualityScore)
	}
	if reg.Status != "" && !reg.Status.Valid() {
		return fmt.Errorf("unknown status %q", reg.Status)
	}
	for _, c := range reg.Capabilities {
		if c.Name == "" {
			return errors.New("capability name is required")
		}
	}
	return nil
}
