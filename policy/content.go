package policy

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Verdict is the outcome of a content check.
type Verdict struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// ContentPolicy decides whether message content may be delivered.
type ContentPolicy interface {
	Validate(content string) Verdict
}

// ContentFunc adapts a function to ContentPolicy.
type ContentFunc func(content string) Verdict

func (f ContentFunc) Validate(content string) Verdict { return f(content) }

// ContentRules rejects over-long content and content containing unsafe
// substrings (case-insensitive).
type ContentRules struct {
	MaxLength int
	unsafe    []string
}

// NewContentRules creates content rules. A non-positive maxLength disables
// the length check.
func NewContentRules(maxLength int, unsafe []string) *ContentRules {
	lowered := make([]string, 0, len(unsafe))
	for _, p := range unsafe {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	return &ContentRules{MaxLength: maxLength, unsafe: lowered}
}

// Validate implements ContentPolicy.
func (r *ContentRules) Validate(content string) Verdict {
	if r.MaxLength > 0 {
		if n := utf8.RuneCountInString(content); n > r.MaxLength {
			return Verdict{Reason: fmt.Sprintf("content length %d exceeds %d", n, r.MaxLength)}
		}
	}
	lower := strings.ToLower(content)
	for _, p := range r.unsafe {
		if strings.Contains(lower, p) {
			return Verdict{Reason: fmt.Sprintf("content matches unsafe pattern %q", p)}
		}
	}
	return Verdict{Valid: true}
}

// UnsafePatterns returns the active patterns, lowercased.
func (r *ContentRules) UnsafePatterns() []string {
	return append([]string{}, r.unsafe...)
}
