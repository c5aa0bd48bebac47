// Package errors provides the structured result kinds returned at every
// public boundary of the coordination protocol.
//
// # Codes
//
//   - VALIDATION_FAILED: malformed or unsafe input
//   - SECURITY_REJECTED: a registration failed the safety check
//   - QUALITY_BELOW_THRESHOLD: a registration or message below minimum quality
//   - NOT_FOUND: unknown target agent or conversation
//   - PROCESSING_ERROR: unexpected failure during delivery
//
// TIMEOUT, UNAVAILABLE, CANCELED and INTERNAL cover transport and
// collaborator failures.
//
// # Usage
//
//	if errors.Is(err, errors.ErrCodeNotFound) {
//	    // caller-side retry policy
//	}
//
// Errors serialize to JSON so they can travel inside responses and
// JSON-RPC error data.
package errors
