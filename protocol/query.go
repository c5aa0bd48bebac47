package protocol

import (
	"context"
	"sort"
	"strings"

	"github.com/ArnBdev/OneAgent-sub002/matching"
	"github.com/ArnBdev/OneAgent-sub002/registry"
)

// qualityIntent phrases restrict query results to agents at or above the
// quality threshold. "high quality" is covered by "quality".
var qualityIntent = []string{"quality", "reliable"}

// QueryCapabilities returns agents with at least one capability matching
// the query, ranked by QualityScore - 10*LoadLevel descending with ties
// broken by AgentID. Registry read failures yield an empty result.
func (s *Service) QueryCapabilities(ctx context.Context, query string) []registry.AgentRegistration {
	_, span := s.tracer.StartSpan(ctx, "protocol.query_capabilities")
	defer span.End()

	all, err := s.store.List()
	if err != nil {
		s.logger.Error("registry_list_failed", map[string]interface{}{"error": err.Error()})
		return []registry.AgentRegistration{}
	}

	wantQuality := hasQualityIntent(query)
	out := []registry.AgentRegistration{}
	for _, reg := range all {
		if matching.BestScore(s.matcher, query, reg) <= 0 {
			continue
		}
		if wantQuality && reg.QualityScore < s.threshold {
			continue
		}
		out = append(out, reg)
	}
	rank(out)
	return out
}

func hasQualityIntent(query string) bool {
	lower := strings.ToLower(query)
	for _, p := range qualityIntent {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func rankScore(reg registry.AgentRegistration) float64 {
	return reg.QualityScore - 10*reg.LoadLevel
}

// rank orders agents by rankScore descending, then AgentID ascending.
func rank(regs []registry.AgentRegistration) {
	sort.SliceStable(regs, func(i, j int) bool {
		si, sj := rankScore(regs[i]), rankScore(regs[j])
		if si != sj {
			return si > sj
		}
		return regs[i].AgentID < regs[j].AgentID
	})
}
