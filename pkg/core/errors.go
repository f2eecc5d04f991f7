package core

import (
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: element_not_found, visibility_timeout, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an ExecutionError with the same code.
// Copies made by WithCause/WithMessage/WithDetails still match their sentinel.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

func (e *ExecutionError) clone() *ExecutionError {
	c := *e
	return &c
}

// WithCause returns a copy wrapping cause.
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	c := e.clone()
	c.Cause = cause
	return c
}

// WithMessage returns a copy with msg replacing the message.
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	c := e.clone()
	c.Message = msg
	return c
}

// WithMessagef is WithMessage with formatting.
func (e *ExecutionError) WithMessagef(format string, args ...interface{}) *ExecutionError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetails returns a copy with details merged over the existing ones.
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	c := e.clone()
	c.Details = make(map[string]interface{}, len(e.Details)+len(details))
	for k, v := range e.Details {
		c.Details[k] = v
	}
	for k, v := range details {
		c.Details[k] = v
	}
	return c
}

// Predefined errors
var (
	// Matcher compilation errors
	ErrUnsupportedMatcher = &ExecutionError{
		Category: ErrCategoryMatcher,
		Code:     "unsupported_matcher",
		Message:  "unsupported matcher combination",
	}

	// Assertion errors
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "element_not_found",
		Message:  "element not found",
	}
	ErrAssertionFailed = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "assertion_failed",
		Message:  "assertion failed",
	}
	ErrInvalidResult = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "invalid_result",
		Message:  "invalid result",
	}

	// Action errors
	ErrActionNotPerformed = &ExecutionError{
		Category: ErrCategoryAction,
		Code:     "action_not_performed",
		Message:  "action not performed",
	}
	ErrActionNotSupported = &ExecutionError{
		Category: ErrCategoryAction,
		Code:     "action_not_supported",
		Message:  "action not supported on this element",
	}

	// Timeout errors
	ErrVisibilityTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "visibility_timeout",
		Message:  "element did not become visible",
	}

	// Connection errors
	ErrBrowserClosed = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "browser_closed",
		Message:  "browser is not running",
	}
	ErrChannelClosed = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "channel_closed",
		Message:  "message channel closed",
	}

	// Protocol errors
	ErrUnknownMethod = &ExecutionError{
		Category: ErrCategoryProtocol,
		Code:     "unknown_method",
		Message:  "unknown method",
	}
	ErrMalformedCall = &ExecutionError{
		Category: ErrCategoryProtocol,
		Code:     "malformed_call",
		Message:  "malformed call",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrMissingRequired = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "missing_required",
		Message:  "missing required field",
	}
)

// CategoryOf returns the category of err, or ErrCategoryNone for plain errors.
func CategoryOf(err error) ErrorCategory {
	for err != nil {
		if e, ok := err.(*ExecutionError); ok {
			return e.Category
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ErrCategoryNone
		}
		err = u.Unwrap()
	}
	return ErrCategoryNone
}
