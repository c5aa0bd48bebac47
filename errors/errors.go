package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// Error is a structured protocol error. Operations return it instead of
// panicking so callers can branch on Code without recovery machinery.
type Error struct {
	code           ErrorCode
	category       ErrorCategory
	message        string
	cause          error
	metadata       map[string]string
	timestamp      time.Time
	agentID        string
	conversationID string
}

var (
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the result kind.
func (e *Error) Code() ErrorCode { return e.code }

// Category returns the retry category.
func (e *Error) Category() ErrorCategory { return e.category }

// Retryable reports whether a caller retry may succeed.
func (e *Error) Retryable() bool { return e.category.IsRetryable() }

// Message returns the message without the cause.
func (e *Error) Message() string { return e.message }

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// Timestamp returns when the error was created.
func (e *Error) Timestamp() time.Time { return e.timestamp }

// AgentID returns the agent the error concerns, if any.
func (e *Error) AgentID() string { return e.agentID }

// ConversationID returns the conversation the error concerns, if any.
func (e *Error) ConversationID() string { return e.conversationID }

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

type errorJSON struct {
	Code           ErrorCode         `json:"code"`
	Category       ErrorCategory     `json:"category"`
	Message        string            `json:"message"`
	Cause          string            `json:"cause,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Timestamp      string            `json:"timestamp,omitempty"`
	AgentID        string            `json:"agentId,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:           e.code,
		Category:       e.category,
		Message:        e.message,
		Metadata:       e.metadata,
		AgentID:        e.agentID,
		ConversationID: e.conversationID,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	if e.category == "" {
		e.category = j.Code.DefaultCategory()
	}
	e.message = j.Message
	e.metadata = j.Metadata
	e.agentID = j.AgentID
	e.conversationID = j.ConversationID
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option configures an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) { e.category = cat }
}

// WithMetadata adds a metadata pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithAgentID records the agent the error concerns.
func WithAgentID(id string) Option {
	return func(e *Error) { e.agentID = id }
}

// WithConversationID records the conversation the error concerns.
func WithConversationID(id string) Option {
	return func(e *Error) { e.conversationID = id }
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// New creates an Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error carrying the code's default description.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

func ValidationFailed(message string, opts ...Option) *Error {
	return New(ErrCodeValidationFailed, message, opts...)
}

func SecurityRejected(message string, opts ...Option) *Error {
	return New(ErrCodeSecurityRejected, message, opts...)
}

func QualityBelowThreshold(message string, opts ...Option) *Error {
	return New(ErrCodeQualityBelowThreshold, message, opts...)
}

func NotFound(message string, opts ...Option) *Error {
	return New(ErrCodeNotFound, message, opts...)
}

func ProcessingError(message string, opts ...Option) *Error {
	return New(ErrCodeProcessingError, message, opts...)
}

// AgentNotFound creates a NotFound error for an unknown agent.
func AgentNotFound(agentID string) *Error {
	return New(ErrCodeNotFound, fmt.Sprintf("agent %s not found", agentID), WithAgentID(agentID))
}

// ConversationNotFound creates a NotFound error for an unknown conversation.
func ConversationNotFound(id string) *Error {
	return New(ErrCodeNotFound, fmt.Sprintf("conversation %s not found", id), WithConversationID(id))
}
