package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ArnBdev/OneAgent-sub002/registry"
)

// Membership subjects.
const (
	SubjectDiscover  = "membership.discover"
	SubjectAvailable = "membership.available"
	SubjectHeartbeat = "membership.heartbeat"
	SubjectShutdown  = "membership.shutdown"
	SubjectDead      = "membership.dead"

	// SubjectMembership matches every membership subject.
	SubjectMembership = "membership.>"
)

// EventType names a membership event.
type EventType string

const (
	EventDiscover  EventType = "DISCOVER_AGENTS"
	EventAvailable EventType = "AGENT_AVAILABLE"
	EventHeartbeat EventType = "AGENT_HEARTBEAT"
	EventShutdown  EventType = "AGENT_SHUTDOWN"
	EventDead      EventType = "agent_dead"
)

// Subject returns the subject an event type is published on.
func (t EventType) Subject() string {
	switch t {
	case EventDiscover:
		return SubjectDiscover
	case EventAvailable:
		return SubjectAvailable
	case EventHeartbeat:
		return SubjectHeartbeat
	case EventShutdown:
		return SubjectShutdown
	case EventDead:
		return SubjectDead
	}
	return ""
}

// Event is the JSON envelope for membership traffic.
type Event struct {
	Type    EventType `json:"type"`
	AgentID string    `json:"agentId"`

	// ReplyTo is set on DISCOVER_AGENTS: responders publish their
	// AGENT_AVAILABLE there instead of the shared subject.
	ReplyTo string `json:"replyTo,omitempty"`

	Capabilities []registry.Capability      `json:"capabilities,omitempty"`
	Agent        *registry.AgentRegistration `json:"agent,omitempty"`

	// Load is reported by heartbeats.
	Load float64 `json:"load,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// DecodeEvent parses an event envelope.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode membership event: %w", err)
	}
	if e.Type.Subject() == "" {
		return Event{}, fmt.Errorf("unknown membership event type %q", e.Type)
	}
	return e, nil
}

// PublishEvent encodes e and publishes it on subject, or on the subject of
// its type when subject is empty. A zero Timestamp is set to now.
func PublishEvent(b MessageBus, subject string, e Event) error {
	if subject == "" {
		subject = e.Type.Subject()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode membership event: %w", err)
	}
	return b.Publish(subject, data)
}
