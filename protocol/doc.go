// Package protocol implements the agent coordination service: registration,
// point-to-point message routing, capability queries, coordination planning
// and network health.
//
// A Service is constructed explicitly and passed to its collaborators.
// There is no package-level state; tests call Reset between cases.
//
// # Result codes
//
// Every public operation reports failures as *errors.Error values carrying
// one of VALIDATION_FAILED, SECURITY_REJECTED, QUALITY_BELOW_THRESHOLD,
// NOT_FOUND or PROCESSING_ERROR. SendMessage never returns a nil Response;
// failures are encoded in Response.Error instead.
//
// # Status
//
// Agents enter the registry online. Heartbeat load moves them between
// online and busy. An offline agent must come back online before it can be
// busy.
package protocol
