package registry

import "strings"

// Capability is a named, versioned unit of functionality an agent advertises.
type Capability struct {
	Name             string  `json:"name"`
	Description      string  `json:"description,omitempty"`
	Version          string  `json:"version,omitempty"`
	QualityThreshold float64 `json:"qualityThreshold,omitempty"`
	Compliant        bool    `json:"compliant"`
}

// Text returns the searchable text of a capability. Underscores and dashes
// in the name are spaced out so "code_analysis" reads as "code analysis".
func (c Capability) Text() string {
	name := strings.NewReplacer("_", " ", "-", " ").Replace(c.Name)
	return name + " " + c.Description
}

// AllCompliant reports whether every capability is compliant.
// An empty set is trivially compliant.
func AllCompliant(caps []Capability) bool {
	for _, c := range caps {
		if !c.Compliant {
			return false
		}
	}
	return true
}

// HasCapability reports whether the registration advertises a capability
// with the given name (case-insensitive).
func HasCapability(reg AgentRegistration, name string) bool {
	for _, c := range reg.Capabilities {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// CapabilityNames lists the advertised capability names in order.
func CapabilityNames(reg AgentRegistration) []string {
	names := make([]string, 0, len(reg.Capabilities))
	for _, c := range reg.Capabilities {
		names = append(names, c.Name)
	}
	return names
}
