package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap adds context to err while keeping its code. Context errors become
// TIMEOUT or CANCELED; anything else becomes PROCESSING_ERROR.
// Wrap returns nil for a nil err.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var protoErr *Error
	if errors.As(err, &protoErr) {
		wrapped := &Error{
			code:           protoErr.code,
			category:       protoErr.category,
			message:        message,
			cause:          err,
			metadata:       protoErr.Metadata(),
			timestamp:      protoErr.timestamp,
			agentID:        protoErr.agentID,
			conversationID: protoErr.conversationID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	case errors.Is(err, context.Canceled):
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}
	return New(ErrCodeProcessingError, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps err under a specific code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// As extracts an *Error from the chain, or nil.
func As(err error) *Error {
	var protoErr *Error
	if errors.As(err, &protoErr) {
		return protoErr
	}
	return nil
}

// Is checks whether the outermost *Error in the chain has the given code.
func Is(err error, code ErrorCode) bool {
	if e := As(err); e != nil {
		return e.code == code
	}
	return false
}

// Code extracts the code from an error chain, or "" for foreign errors.
func Code(err error) ErrorCode {
	if e := As(err); e != nil {
		return e.code
	}
	return ""
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	if e := As(err); e != nil {
		return e.Retryable()
	}
	return false
}

// Join combines errors, skipping nils.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Recover turns a recovered panic value into a PROCESSING_ERROR.
// It returns nil when recovered is nil.
//
//	defer func() {
//	    if e := errors.Recover(recover()); e != nil {
//	        err = e
//	    }
//	}()
func Recover(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodeProcessingError, "recovered: "+message,
		WithCategory(CategoryInternal),
		WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
