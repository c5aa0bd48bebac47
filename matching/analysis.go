package matching

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/ArnBdev/OneAgent-sub002/registry"
)

// Thresholds above which coordination runs the extended analysis.
const (
	ExtendedCapabilityCount = 2
	ExtendedTaskLength      = 200
)

// NeedsExtendedAnalysis reports whether a task warrants the extended analysis.
func NeedsExtendedAnalysis(task string, required []string) bool {
	return len(required) > ExtendedCapabilityCount || utf8.RuneCountInString(task) > ExtendedTaskLength
}

// Analysis is the structured rationale surfaced alongside a coordination plan.
type Analysis struct {
	Dependencies []string `json:"dependencies"`
	Risks        []string `json:"risks"`
	Confidence   float64  `json:"confidence"`
	Rationale    string   `json:"rationale"`
}

// Analyzer produces an Analysis for a task given the candidate pool for
// each required capability.
type Analyzer interface {
	Analyze(task string, required []string, pool map[string][]registry.AgentRegistration) Analysis
}

// Heuristic is the default Analyzer. It treats the required capabilities as
// a pipeline and derives risks from pool sizes and task shape.
type Heuristic struct{}

// Analyze implements Analyzer.
func (Heuristic) Analyze(task string, required []string, pool map[string][]registry.AgentRegistration) Analysis {
	a := Analysis{Dependencies: []string{}, Risks: []string{}}

	for i := 1; i < len(required); i++ {
		a.Dependencies = append(a.Dependencies, fmt.Sprintf("%s depends on %s", required[i], required[i-1]))
	}

	filled := 0
	for _, capName := range required {
		switch n := len(pool[capName]); {
		case n == 0:
			a.Risks = append(a.Risks, fmt.Sprintf("no available agent for %s", capName))
		case n == 1:
			filled++
			a.Risks = append(a.Risks, fmt.Sprintf("single candidate for %s", capName))
		default:
			filled++
		}
	}
	if utf8.RuneCountInString(task) > ExtendedTaskLength {
		a.Risks = append(a.Risks, "long task description, scope may be underspecified")
	}
	if len(required) > 3 {
		a.Risks = append(a.Risks, fmt.Sprintf("coordination overhead across %d capabilities", len(required)))
	}

	if len(required) > 0 {
		coverage := float64(filled) / float64(len(required))
		penalty := 0.05 * math.Max(0, float64(len(required)-1))
		a.Confidence = math.Max(0, math.Min(1, coverage*(1-penalty)))
	}

	a.Rationale = fmt.Sprintf("%d of %d capabilities have candidates; %d risks identified",
		filled, len(required), len(a.Risks))
	if len(a.Risks) > 0 {
		a.Rationale += ": " + strings.Join(a.Risks, "; ")
	}
	return a
}
