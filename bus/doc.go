// Package bus provides the message bus that carries membership traffic
// between agents: discovery broadcasts, availability replies, heartbeats
// and shutdown notices.
//
// The MessageBus interface enables pub/sub and request/reply patterns over
// NATS or an in-process implementation. Subscriptions deliver on channels.
//
// # Implementations
//
//   - NATSBus: membership traffic between processes over NATS
//   - MemoryBus: the same contract in process, for tests and single-node use
//
// # Membership
//
// Membership events travel as JSON Event envelopes on the membership.*
// subjects:
//
//	bus.PublishEvent(b, "", bus.Event{Type: bus.EventHeartbeat, AgentID: "agent-a"})
//
//	sub, _ := b.Subscribe(bus.SubjectMembership)
//	for msg := range sub.Messages() {
//	    ev, err := bus.DecodeEvent(msg.Data)
//	    ...
//	}
//
// Discovery replies go to the ReplyTo subject carried by the
// DISCOVER_AGENTS event, so concurrent discoveries do not see each other's
// answers.
package bus
