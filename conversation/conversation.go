// Package conversation keeps append-only logs of message/response exchanges
// between agents and derives quality metrics and actionable outputs from them.
package conversation

import (
	"time"

	"github.com/ArnBdev/OneAgent-sub002/message"
)

// OutcomeType is the state of a conversation.
type OutcomeType string

const (
	OutcomeOngoing   OutcomeType = "ongoing"
	OutcomeCompleted OutcomeType = "completed"
	OutcomeFailed    OutcomeType = "failed"
	OutcomeEscalated OutcomeType = "escalated"
)

// Outcome summarises how a conversation ended.
type Outcome struct {
	Type                      OutcomeType `json:"type"`
	Summary                   string      `json:"summary,omitempty"`
	Decisions                 []string    `json:"decisions,omitempty"`
	NextSteps                 []string    `json:"nextSteps,omitempty"`
	RequiresHumanIntervention bool        `json:"requiresHumanIntervention"`
}

// Quality holds the rolling metrics recomputed on every exchange.
type Quality struct {
	AverageQualityScore float64 `json:"averageQualityScore"`

	// ConstitutionalCompliance is the percentage of compliant responses.
	ConstitutionalCompliance float64 `json:"constitutionalCompliance"`

	// SuccessRate is the percentage of successful responses.
	SuccessRate float64 `json:"successRate"`

	AverageProcessingTime time.Duration `json:"averageProcessingTime"`
}

// OutputKind classifies an actionable output.
type OutputKind string

const (
	KindRecommendation OutputKind = "recommendation"
	KindTask           OutputKind = "task"
	KindDocument       OutputKind = "document"
	KindCode           OutputKind = "code"
)

// ActionableOutput is a classified fragment extracted from a conversation.
type ActionableOutput struct {
	Kind    OutputKind `json:"kind"`
	Content string     `json:"content"`
}

// Log is the record of one conversation. Messages and Responses are
// index-aligned.
type Log struct {
	ID                string             `json:"id"`
	SessionID         string             `json:"sessionId"`
	Participants      []string           `json:"participants"`
	Messages          []message.Message  `json:"messages"`
	Responses         []message.Response `json:"responses"`
	Outcome           Outcome            `json:"outcome"`
	Quality           Quality            `json:"quality"`
	ActionableOutputs []ActionableOutput `json:"actionableOutputs"`
	StartedAt         time.Time          `json:"startedAt"`
	EndedAt           *time.Time         `json:"endedAt,omitempty"`
}

// Ongoing reports whether the log still accepts exchanges.
func (l *Log) Ongoing() bool {
	return l.EndedAt == nil
}

// HasParticipants reports whether every id is a participant.
func (l *Log) HasParticipants(ids ...string) bool {
	for _, id := range ids {
		found := false
		for _, p := range l.Participants {
			if p == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (l *Log) clone() Log {
	out := *l
	out.Participants = append([]string(nil), l.Participants...)
	out.Messages = append([]message.Message(nil), l.Messages...)
	out.Responses = append([]message.Response(nil), l.Responses...)
	out.ActionableOutputs = append([]ActionableOutput(nil), l.ActionableOutputs...)
	out.Outcome.Decisions = append([]string(nil), l.Outcome.Decisions...)
	out.Outcome.NextSteps = append([]string(nil), l.Outcome.NextSteps...)
	if l.EndedAt != nil {
		t := *l.EndedAt
		out.EndedAt = &t
	}
	return out
}

func (l *Log) recomputeQuality() {
	n := len(l.Responses)
	if n == 0 {
		l.Quality = Quality{}
		return
	}

	var score float64
	var compliant, succeeded int
	var elapsed time.Duration
	for _, r := range l.Responses {
		score += r.Metadata.QualityScore
		elapsed += r.Metadata.ProcessingTime
		if r.Metadata.ConstitutionalCompliant {
			compliant++
		}
		if r.Success {
			succeeded++
		}
	}

	l.Quality = Quality{
		AverageQualityScore:      score / float64(n),
		ConstitutionalCompliance: 100 * float64(compliant) / float64(n),
		SuccessRate:              100 * float64(succeeded) / float64(n),
		AverageProcessingTime:    elapsed / time.Duration(n),
	}
}
