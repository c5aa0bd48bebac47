// Package heartbeat provides agent liveness detection.
//
// # Overview
//
// Agents periodically broadcast AGENT_HEARTBEAT events on the membership
// bus. A Monitor keeps its own last-seen map and reports an agent dead once
// it has been silent for Multiplier x Interval (3 x 30s by default).
//
//	┌─────────────┐  membership.heartbeat  ┌─────────────┐
//	│   Sender    │ ─────────────────────> │   Monitor   │
//	│  (agent A)  │                        │             │
//	└─────────────┘                        └─────────────┘
//	                                              │ membership.dead
//	                                              ▼
//
// # Liveness is not registration
//
// The Monitor never reads or writes the agent registry. A dead agent is
// removed from the Monitor's map only; its registry entry keeps whatever
// status it last had until it is explicitly unregistered. Callers that want
// to reconcile the two react to OnDead themselves.
//
// # Usage
//
//	sender, _ := heartbeat.NewSender(heartbeat.SenderConfig{
//	    Bus:     b,
//	    AgentID: "agent-a",
//	})
//	sender.SetLoad(0.4)
//	sender.Start(ctx)
//
//	monitor, _ := heartbeat.NewMonitor(heartbeat.MonitorConfig{Bus: b})
//	monitor.OnDead(func(ev heartbeat.DeadEvent) { ... })
//	monitor.Start(ctx)
package heartbeat
