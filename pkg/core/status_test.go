package core

import "testing"

func TestActionState_String(t *testing.T) {
	tests := []struct {
		state    ActionState
		expected string
	}{
		{ActionIdle, "idle"},
		{ActionExecuting, "executing"},
		{ActionSucceeded, "succeeded"},
		{ActionFailed, "failed"},
		{ActionState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("ActionState(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}

func TestErrorCategory_String(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		expected string
	}{
		{ErrCategoryNone, "none"},
		{ErrCategoryAssertion, "assertion"},
		{ErrCategoryTimeout, "timeout"},
		{ErrCategoryConnection, "connection"},
		{ErrCategoryApp, "app"},
		{ErrCategoryConfig, "config"},
		{ErrCategoryMatcher, "matcher"},
		{ErrCategoryAction, "action"},
		{ErrCategoryProtocol, "protocol"},
		{ErrorCategory(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.category.String(); got != tt.expected {
			t.Errorf("ErrorCategory(%d).String() = %q, want %q", tt.category, got, tt.expected)
		}
	}
}

func TestErrorCategory_IsFatal(t *testing.T) {
	if !ErrCategoryConnection.IsFatal() {
		t.Error("connection errors should be fatal")
	}
	for _, c := range []ErrorCategory{ErrCategoryAssertion, ErrCategoryTimeout, ErrCategoryMatcher, ErrCategoryAction} {
		if c.IsFatal() {
			t.Errorf("%s errors should not be fatal", c)
		}
	}
}
