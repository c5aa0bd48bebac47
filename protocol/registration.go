package protocol

import (
	"context"
	"fmt"

	"github.com/ArnBdev/OneAgent-sub002/errors"
	"github.com/ArnBdev/OneAgent-sub002/registry"
	"github.com/ArnBdev/OneAgent-sub002/telemetry"
)

// RegisterAgent admits an agent into the registry. It fails with
// SECURITY_REJECTED when the id or endpoint is refused by the registration
// policy, and with QUALITY_BELOW_THRESHOLD when the quality score is under
// the threshold or any capability is non-compliant. Nothing is written on
// failure.
func (s *Service) RegisterAgent(ctx context.Context, reg registry.AgentRegistration) error {
	ctx, span := s.tracer.StartSpan(ctx, "protocol.register_agent", telemetry.AttrAgent.String(reg.AgentID))
	err := s.register(ctx, reg)
	s.tracer.EndSpan(span, string(errors.Code(err)), err)

	if err != nil {
		s.logger.AgentRejected(reg.AgentID, string(errors.Code(err)), err.Error())
		s.countRegistration(string(errors.Code(err)))
		return err
	}
	s.logger.AgentRegistered(reg.AgentID, reg.AgentType, reg.QualityScore)
	s.countRegistration("ok")
	return nil
}

func (s *Service) register(ctx context.Context, reg registry.AgentRegistration) error {
	if err := s.regPolicy.Check(reg.AgentID, reg.Endpoint); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeSecurityRejected, "registration refused",
			errors.WithAgentID(reg.AgentID))
	}
	if err := registry.Validate(reg); err != nil {
		return errors.ValidationFailed(err.Error(), errors.WithAgentID(reg.AgentID))
	}
	if reg.QualityScore < s.threshold {
		return errors.QualityBelowThreshold(
			fmt.Sprintf("quality score %.1f below threshold %.1f", reg.QualityScore, s.threshold),
			errors.WithAgentID(reg.AgentID),
			errors.WithMetadata("score", fmt.Sprintf("%.1f", reg.QualityScore)))
	}
	for _, c := range reg.Capabilities {
		if !c.Compliant {
			return errors.QualityBelowThreshold(
				fmt.Sprintf("capability %q is not compliant", c.Name),
				errors.WithAgentID(reg.AgentID),
				errors.WithMetadata("capability", c.Name))
		}
	}

	unlock := s.lock(reg.AgentID)
	defer unlock()

	existing, err := s.store.Get(reg.AgentID)
	switch {
	case err == nil:
	case err == registry.ErrNotFound:
		existing = nil
	default:
		return errors.Wrap(err, "reading registration", errors.WithAgentID(reg.AgentID))
	}

	entry := reg.Clone()
	entry.Status = registry.StatusOnline
	if existing != nil && existing.Status != registry.StatusOffline {
		entry.Status = existing.Status
	}
	entry.LastSeen = s.now()

	if _, err := s.store.Put(entry); err != nil {
		return errors.Wrap(err, "storing registration", errors.WithAgentID(reg.AgentID))
	}
	return nil
}

// UnregisterAgent removes an agent and its pending inbox. It is idempotent
// and reports whether an entry existed.
func (s *Service) UnregisterAgent(ctx context.Context, agentID string) bool {
	_, span := s.tracer.StartSpan(ctx, "protocol.unregister_agent", telemetry.AttrAgent.String(agentID))

	unlock := s.lock(agentID)
	existed, err := s.store.Delete(agentID)
	s.dropInbox(agentID)
	unlock()

	s.tracer.EndSpan(span, "", err)
	if err != nil {
		s.logger.Error("unregister_failed", map[string]interface{}{
			"agent": agentID,
			"error": err.Error(),
		})
		return false
	}
	s.logger.AgentUnregistered(agentID, existed)
	return existed
}

// RecordHeartbeat refreshes an agent's LastSeen and load. Crossing BusyLoad
// moves an online agent to busy and back.
func (s *Service) RecordHeartbeat(ctx context.Context, agentID string, load float64) error {
	if load < 0 || load > 1 {
		return errors.ValidationFailed(fmt.Sprintf("load level %v outside [0,1]", load), errors.WithAgentID(agentID))
	}

	unlock := s.lock(agentID)
	defer unlock()

	reg, err := s.getAgent(agentID)
	if err != nil {
		return err
	}
	reg.LoadLevel = load
	reg.LastSeen = s.now()
	switch {
	case reg.Status == registry.StatusOnline && load >= BusyLoad:
		reg.Status = registry.StatusBusy
	case reg.Status == registry.StatusBusy && load < BusyLoad:
		reg.Status = registry.StatusOnline
	}
	if _, err := s.store.Put(*reg); err != nil {
		return errors.Wrap(err, "storing heartbeat", errors.WithAgentID(agentID))
	}
	return nil
}

// UpdateStatus sets an agent's status subject to registry.CanTransition.
func (s *Service) UpdateStatus(ctx context.Context, agentID string, status registry.Status) error {
	if !status.Valid() {
		return errors.ValidationFailed(fmt.Sprintf("unknown status %q", status), errors.WithAgentID(agentID))
	}

	unlock := s.lock(agentID)
	defer unlock()

	reg, err := s.getAgent(agentID)
	if err != nil {
		return err
	}
	if !registry.CanTransition(reg.Status, status) {
		return errors.ValidationFailed(
			fmt.Sprintf("status transition %s -> %s not allowed", reg.Status, status),
			errors.WithAgentID(agentID))
	}
	reg.Status = status
	reg.LastSeen = s.now()
	if _, err := s.store.Put(*reg); err != nil {
		return errors.Wrap(err, "storing status", errors.WithAgentID(agentID))
	}
	return nil
}

func (s *Service) getAgent(agentID string) (*registry.AgentRegistration, error) {
	reg, err := s.store.Get(agentID)
	if err == registry.ErrNotFound || err == registry.ErrInvalidID {
		return nil, errors.AgentNotFound(agentID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading registration", errors.WithAgentID(agentID))
	}
	return reg, nil
}

func (s *Service) countRegistration(result string) {
	if s.metrics != nil {
		s.metrics.Registrations.WithLabelValues(result).Inc()
	}
}
