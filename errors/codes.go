package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where a caller retry may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help,
	// such as rejected registrations or unsafe message content.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates exhaustion of a bounded resource.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected failures during delivery.
	CategoryInternal ErrorCategory = "internal"
)

func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
// The protocol never retries on its own; this is advice for callers.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies a result kind at a public protocol boundary.
type ErrorCode string

const (
	// ErrCodeValidationFailed marks malformed or unsafe input.
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrCodeSecurityRejected marks a registration that failed the safety check.
	ErrCodeSecurityRejected ErrorCode = "SECURITY_REJECTED"
	// ErrCodeQualityBelowThreshold marks a registration or message under the minimum quality.
	ErrCodeQualityBelowThreshold ErrorCode = "QUALITY_BELOW_THRESHOLD"
	// ErrCodeNotFound marks an unknown agent, conversation or trigger.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeProcessingError marks an unexpected failure during delivery.
	ErrCodeProcessingError ErrorCode = "PROCESSING_ERROR"

	ErrCodeTimeout     ErrorCode = "TIMEOUT"
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"
	ErrCodeCanceled    ErrorCode = "CANCELED"
	ErrCodeInternal    ErrorCode = "INTERNAL"
)

func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the category assigned to a code when none is given.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable:
		return CategoryTransient
	case ErrCodeValidationFailed, ErrCodeSecurityRejected, ErrCodeQualityBelowThreshold,
		ErrCodeNotFound, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeValidationFailed:      "validation failed",
	ErrCodeSecurityRejected:      "rejected by security check",
	ErrCodeQualityBelowThreshold: "quality below threshold",
	ErrCodeNotFound:              "not found",
	ErrCodeProcessingError:       "processing error",
	ErrCodeTimeout:               "operation timed out",
	ErrCodeUnavailable:           "service temporarily unavailable",
	ErrCodeCanceled:              "operation canceled",
	ErrCodeInternal:              "internal error",
}

// Description returns a human-readable description for the code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
