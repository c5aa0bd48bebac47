// Package registry stores agent registrations for the coordination protocol.
//
// # Implementations
//
//   - MemoryStore: a mutex-guarded map for single-process deployments and tests
//   - NATSStore: a NATS JetStream KV bucket shared by several processes
//
// Stores only persist and watch. Admission rules (security checks, quality
// threshold, status transitions) live in the protocol package.
//
// # Usage
//
//	store := registry.NewMemoryStore()
//	created, err := store.Put(registry.AgentRegistration{
//	    AgentID:      "analyst-1",
//	    AgentType:    "analyst",
//	    Capabilities: []registry.Capability{{Name: "code_analysis", Compliant: true}},
//	    Endpoint:     "internal://analyst-1",
//	    Status:       registry.StatusOnline,
//	    QualityScore: 90,
//	})
//
// Watch for changes:
//
//	events, _ := store.Watch()
//	for event := range events {
//	    fmt.Println(event.Type, event.Agent.AgentID)
//	}
//
// Registrations are never expired by the store. Liveness is tracked
// separately by the heartbeat package.
package registry
