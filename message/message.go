// Package message defines the point-to-point message and response records
// exchanged between agents.
package message

import (
	"fmt"
	"time"

	"github.com/ArnBdev/OneAgent-sub002/errors"
)

// Type classifies a message.
type Type string

const (
	TypeCoordinationRequest Type = "coordination_request"
	TypeCapabilityQuery     Type = "capability_query"
	TypeTaskDelegation      Type = "task_delegation"
	TypeStatusUpdate        Type = "status_update"
	TypeResourceShare       Type = "resource_share"
	TypeCollaborationInvite Type = "collaboration_invite"
	TypeEmergencySignal     Type = "emergency_signal"
)

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	switch t {
	case TypeCoordinationRequest, TypeCapabilityQuery, TypeTaskDelegation, TypeStatusUpdate,
		TypeResourceShare, TypeCollaborationInvite, TypeEmergencySignal:
		return true
	}
	return false
}

// Priority levels.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Metadata carries routing hints.
type Metadata struct {
	Priority         string  `json:"priority,omitempty"`
	RequiresResponse bool    `json:"requiresResponse"`
	ConfidenceLevel  float64 `json:"confidenceLevel,omitempty"`
	Validated        bool    `json:"validated"`

	// TriggerDepth counts workflow-trigger hops that produced this message.
	TriggerDepth int `json:"triggerDepth,omitempty"`

	// ConversationID pins the exchange to one conversation instead of
	// every open conversation between source and target.
	ConversationID string `json:"conversationId,omitempty"`
}

// Message is immutable once sent.
type Message struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	SourceAgent string    `json:"sourceAgent"`
	TargetAgent string    `json:"targetAgent"`
	Content     string    `json:"content"`
	Metadata    Metadata  `json:"metadata"`
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"sessionId,omitempty"`
}

// Validate checks the structural fields of a message. Content safety is
// a separate policy decision.
func (m Message) Validate() error {
	if !m.Type.Valid() {
		return errors.ValidationFailed(fmt.Sprintf("unknown message type %q", m.Type))
	}
	if m.SourceAgent == "" {
		return errors.ValidationFailed("source agent is required")
	}
	if m.TargetAgent == "" {
		return errors.ValidationFailed("target agent is required")
	}
	if m.Metadata.ConfidenceLevel < 0 || m.Metadata.ConfidenceLevel > 1 {
		return errors.ValidationFailed("confidence level must be between 0 and 1")
	}
	return nil
}

// ResponseMetadata describes how a response was produced.
type ResponseMetadata struct {
	ProcessingTime          time.Duration `json:"processingTime"`
	QualityScore            float64       `json:"qualityScore"`
	ConstitutionalCompliant bool          `json:"constitutionalCompliant"`
}

// Response answers exactly one Message. Failed deliveries carry Error.
type Response struct {
	MessageID string           `json:"messageId"`
	Success   bool             `json:"success"`
	Content   string           `json:"content"`
	Metadata  ResponseMetadata `json:"metadata"`
	Timestamp time.Time        `json:"timestamp"`
	Error     *errors.Error    `json:"error,omitempty"`
}

// Failed builds an unsuccessful response for messageID.
func Failed(messageID string, err *errors.Error) *Response {
	return &Response{
		MessageID: messageID,
		Success:   false,
		Content:   err.Error(),
		Timestamp: time.Now(),
		Error:     err,
	}
}

// ErrorCode returns the failure code, or "" for successful responses.
func (r *Response) ErrorCode() errors.ErrorCode {
	if r == nil || r.Error == nil {
		return ""
	}
	return r.Error.Code()
}
