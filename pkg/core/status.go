package core

// ActionState tracks an action through the executor.
type ActionState int

const (
	ActionIdle      ActionState = iota // Not yet started
	ActionExecuting                    // Dispatching input to the page
	ActionSucceeded                    // Completed successfully
	ActionFailed                       // Failed; no retries inside the executor
)

// String returns the string representation of ActionState
func (s ActionState) String() string {
	switch s {
	case ActionIdle:
		return "idle"
	case ActionExecuting:
		return "executing"
	case ActionSucceeded:
		return "succeeded"
	case ActionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryAssertion                       // Element not found, assertion predicate false
	ErrCategoryTimeout                         // Operation timed out
	ErrCategoryConnection                      // Browser or channel connection lost
	ErrCategoryApp                             // Page crashed, navigation failed
	ErrCategoryConfig                          // Invalid configuration, missing required field
	ErrCategoryMatcher                         // Unsupported matcher combination
	ErrCategoryAction                          // Unknown or unsupported action verb
	ErrCategoryProtocol                        // Malformed call or unknown method
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryAssertion:
		return "assertion"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryApp:
		return "app"
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryMatcher:
		return "matcher"
	case ErrCategoryAction:
		return "action"
	case ErrCategoryProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// IsFatal returns true for categories that invalidate the browser session.
func (c ErrorCategory) IsFatal() bool {
	return c == ErrCategoryConnection
}
