// Package policy provides the pluggable content and registration checks
// applied by the protocol router.
package policy

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// DefaultMaxContentLength is the longest message content accepted, in runes.
const DefaultMaxContentLength = 10000

// DefaultUnsafePatterns are substrings that mark message content unsafe.
var DefaultUnsafePatterns = []string{
	"<script",
	"javascript:",
	"rm -rf /",
	"drop table",
	"ignore previous instructions",
	"ignore all previous instructions",
}

// DefaultDisallowedIDPatterns are substrings rejected in agent identifiers.
var DefaultDisallowedIDPatterns = []string{
	"..",
	"malicious",
	"exploit",
	"backdoor",
}

// DefaultEndpointSchemes are the endpoint URL schemes accepted at registration.
var DefaultEndpointSchemes = []string{
	"http", "https", "ws", "wss", "grpc", "nats", "tcp", "internal",
}

// Policy bundles the content and registration checks.
type Policy struct {
	Content      *ContentRules
	Registration *RegistrationRules
}

// New creates a policy with default rules.
func New() *Policy {
	return &Policy{
		Content:      NewContentRules(DefaultMaxContentLength, DefaultUnsafePatterns),
		Registration: NewRegistrationRules(DefaultDisallowedIDPatterns, DefaultEndpointSchemes),
	}
}

type tomlPolicy struct {
	Content *struct {
		MaxLength int      `toml:"max_length"`
		Unsafe    []string `toml:"unsafe"`
		Extra     []string `toml:"extra_unsafe"`
	} `toml:"content"`
	Registration *struct {
		Disallowed []string `toml:"disallowed"`
		Schemes    []string `toml:"schemes"`
	} `toml:"registration"`
}

// LoadFile loads a policy from a TOML file.
func LoadFile(path string) (*Policy, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(string(content))
}

// Parse parses a policy from TOML content. Missing sections and keys keep
// their defaults. unsafe replaces the default pattern list; extra_unsafe
// appends to it.
//
//	[content]
//	max_length = 4000
//	extra_unsafe = ["wire transfer"]
//
//	[registration]
//	disallowed = ["test-"]
//	schemes = ["https", "nats"]
func Parse(content string) (*Policy, error) {
	var raw tomlPolicy
	if _, err := toml.Decode(content, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	pol := New()

	if c := raw.Content; c != nil {
		maxLen := DefaultMaxContentLength
		if c.MaxLength > 0 {
			maxLen = c.MaxLength
		}
		patterns := DefaultUnsafePatterns
		if c.Unsafe != nil {
			patterns = c.Unsafe
		}
		patterns = append(append([]string{}, patterns...), c.Extra...)
		pol.Content = NewContentRules(maxLen, patterns)
	}

	if r := raw.Registration; r != nil {
		disallowed := DefaultDisallowedIDPatterns
		if r.Disallowed != nil {
			disallowed = r.Disallowed
		}
		schemes := DefaultEndpointSchemes
		if len(r.Schemes) > 0 {
			schemes = r.Schemes
		}
		pol.Registration = NewRegistrationRules(disallowed, schemes)
	}

	return pol, nil
}
