package protocol

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ArnBdev/OneAgent-sub002/matching"
	"github.com/ArnBdev/OneAgent-sub002/registry"
)

// Step is one entry of a plan's execution order.
type Step struct {
	Order      int    `json:"order"`
	Capability string `json:"capability"`
	AgentID    string `json:"agentId"`
}

// Plan maps required capabilities to selected agents. Capabilities with no
// available agent are absent from SelectedAgents; see Unfilled.
type Plan struct {
	TaskID               string            `json:"taskId"`
	Task                 string            `json:"task"`
	RequiredCapabilities []string          `json:"requiredCapabilities"`
	SelectedAgents       map[string]string `json:"selectedAgents"`
	ExecutionOrder       []Step            `json:"executionOrder"`
	EstimatedDuration    time.Duration     `json:"estimatedDuration"`
	QualityTarget        float64           `json:"qualityTarget"`
	Context              map[string]string `json:"context,omitempty"`
}

// Unfilled lists required capabilities with no selected agent, in order.
func (p *Plan) Unfilled() []string {
	var out []string
	for _, c := range p.RequiredCapabilities {
		if _, ok := p.SelectedAgents[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// Coordination is the full result of CoordinateAgents.
type Coordination struct {
	Plan *Plan `json:"plan"`

	// Analysis is set when the task warranted extended analysis.
	Analysis *matching.Analysis `json:"analysis,omitempty"`

	PlanQuality float64 `json:"planQuality"`
}

// CoordinateAgents builds an execution plan for task. For each required
// capability the top-ranked online agent with load under BusyLoad is
// selected. Unfilled capabilities are omitted without error.
func (s *Service) CoordinateAgents(ctx context.Context, task string, required []string, taskContext map[string]string) Coordination {
	ctx, span := s.tracer.StartSpan(ctx, "protocol.coordinate_agents")
	defer span.End()

	plan := &Plan{
		TaskID:               uuid.New().String(),
		Task:                 task,
		RequiredCapabilities: append([]string(nil), required...),
		SelectedAgents:       make(map[string]string),
		ExecutionOrder:       []Step{},
		EstimatedDuration:    estimateDuration(len(required)),
		QualityTarget:        s.threshold,
		Context:              taskContext,
	}

	pool := make(map[string][]registry.AgentRegistration, len(required))
	var selected []registry.AgentRegistration
	for _, capName := range required {
		candidates := available(s.QueryCapabilities(ctx, capabilityQuery(capName)))
		pool[capName] = candidates
		if len(candidates) == 0 {
			continue
		}
		top := candidates[0]
		plan.SelectedAgents[capName] = top.AgentID
		plan.ExecutionOrder = append(plan.ExecutionOrder, Step{
			Order:      len(plan.ExecutionOrder) + 1,
			Capability: capName,
			AgentID:    top.AgentID,
		})
		selected = append(selected, top)
	}

	out := Coordination{Plan: plan, PlanQuality: planQuality(selected)}
	if matching.NeedsExtendedAnalysis(task, required) {
		a := s.analyzer.Analyze(task, required, pool)
		if s.narrate {
			s.appendNarrative(ctx, &a, task)
		}
		out.Analysis = &a
	}

	if missing := plan.Unfilled(); len(missing) > 0 {
		s.logger.Info("plan_unfilled", map[string]interface{}{
			"task":    plan.TaskID,
			"missing": strings.Join(missing, ","),
		})
	}
	return out
}

func (s *Service) appendNarrative(ctx context.Context, a *matching.Analysis, task string) {
	p := fmt.Sprintf("Summarise the execution risks for this task in two sentences.\nTask: %s\nRisks: %s",
		task, strings.Join(a.Risks, "; "))
	text, err := s.generate(ctx, p)
	if err != nil {
		s.logger.Warn("analysis_narrative_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	a.Rationale += "\n" + text
}

// capabilityQuery turns a capability name into query text.
func capabilityQuery(name string) string {
	return strings.NewReplacer("_", " ", "-", " ").Replace(name)
}

// available keeps online agents under BusyLoad, preserving rank order.
func available(regs []registry.AgentRegistration) []registry.AgentRegistration {
	out := regs[:0:0]
	for _, r := range regs {
		if r.Status == registry.StatusOnline && r.LoadLevel < BusyLoad {
			out = append(out, r)
		}
	}
	return out
}

// estimateDuration is BaseStepDuration * n / min(n, 3).
func estimateDuration(n int) time.Duration {
	if n == 0 {
		return 0
	}
	parallel := n
	if parallel > 3 {
		parallel = 3
	}
	return BaseStepDuration * time.Duration(n) / time.Duration(parallel)
}

// planQuality is the mean selected quality less 2 per extra agent, floored at 0.
func planQuality(selected []registry.AgentRegistration) float64 {
	if len(selected) == 0 {
		return 0
	}
	var sum float64
	for _, r := range selected {
		sum += r.QualityScore
	}
	mean := sum / float64(len(selected))
	return math.Max(0, mean-2*math.Max(0, float64(len(selected)-1)))
}
