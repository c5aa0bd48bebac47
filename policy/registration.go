package policy

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ArnBdev/OneAgent-sub002/errors"
)

var agentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

// RegistrationPolicy is the safety check run before an agent is admitted.
// Failures are SECURITY_REJECTED errors.
type RegistrationPolicy interface {
	Check(agentID, endpoint string) error
}

// RegistrationRules rejects malformed or disallowed agent identifiers and
// endpoints that are not well-formed URLs.
type RegistrationRules struct {
	disallowed []string
	schemes    map[string]bool
}

// NewRegistrationRules creates registration rules.
func NewRegistrationRules(disallowed, schemes []string) *RegistrationRules {
	r := &RegistrationRules{schemes: make(map[string]bool, len(schemes))}
	for _, d := range disallowed {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			r.disallowed = append(r.disallowed, d)
		}
	}
	for _, s := range schemes {
		r.schemes[strings.ToLower(s)] = true
	}
	return r
}

// Check implements RegistrationPolicy.
func (r *RegistrationRules) Check(agentID, endpoint string) error {
	if !agentIDPattern.MatchString(agentID) {
		return errors.SecurityRejected(fmt.Sprintf("agent id %q is malformed", agentID),
			errors.WithAgentID(agentID))
	}

	lower := strings.ToLower(agentID)
	for _, d := range r.disallowed {
		if strings.Contains(lower, d) {
			return errors.SecurityRejected(fmt.Sprintf("agent id matches disallowed pattern %q", d),
				errors.WithAgentID(agentID))
		}
	}

	if err := r.checkEndpoint(endpoint); err != nil {
		return errors.SecurityRejected(err.Error(), errors.WithAgentID(agentID),
			errors.WithMetadata("endpoint", endpoint))
	}
	return nil
}

func (r *RegistrationRules) checkEndpoint(endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return fmt.Errorf("endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("endpoint is not a valid URL: %v", err)
	}
	if !r.schemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("endpoint scheme %q not allowed", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint has no host")
	}
	return nil
}
