// Package matching provides the replaceable strategies the protocol uses to
// match capability queries and to analyse coordination tasks.
package matching

import (
	"strings"
	"unicode/utf8"

	"github.com/ArnBdev/OneAgent-sub002/registry"
)

// MinTokenLength is the shortest query token, in runes, that takes part in
// matching. Shorter tokens ("a", "the", "for") are dropped.
const MinTokenLength = 4

// Matcher scores how well a capability answers a query. A zero score means
// no match.
type Matcher interface {
	Score(query string, c registry.Capability) float64
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(query string, c registry.Capability) float64

func (f MatcherFunc) Score(query string, c registry.Capability) float64 { return f(query, c) }

// Tokens splits a query on whitespace and drops tokens shorter than
// MinTokenLength. Tokens are lowercased.
func Tokens(query string) []string {
	var out []string
	for _, f := range strings.Fields(query) {
		if utf8.RuneCountInString(f) < MinTokenLength {
			continue
		}
		out = append(out, strings.ToLower(f))
	}
	return out
}

// Keyword counts query tokens that occur, case-insensitively, as substrings
// of the capability's name and description.
type Keyword struct{}

// Score implements Matcher.
func (Keyword) Score(query string, c registry.Capability) float64 {
	text := strings.ToLower(c.Text())
	var score float64
	for _, tok := range Tokens(query) {
		if strings.Contains(text, tok) {
			score++
		}
	}
	return score
}

// BestScore returns the highest score of any capability in reg.
func BestScore(m Matcher, query string, reg registry.AgentRegistration) float64 {
	var best float64
	for _, c := range reg.Capabilities {
		if s := m.Score(query, c); s > best {
			best = s
		}
	}
	return best
}
