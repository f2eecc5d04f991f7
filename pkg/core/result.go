// Package core provides the shared execution types for web-testee.
package core

import (
	"time"
)

// CommandResult represents the outcome of executing a single action
type CommandResult struct {
	// Core outcome
	Success  bool          `json:"success"`
	State    ActionState   `json:"state"`
	Error    error         `json:"-"`
	Duration time.Duration `json:"duration"`

	// Human-readable output
	Message string `json:"message,omitempty"`

	// Element information (for tap, scroll, etc.)
	Element *ElementInfo `json:"element,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded(msg string) *CommandResult {
	return &CommandResult{Success: true, State: ActionSucceeded, Message: msg}
}

// Failed builds a failed result.
func Failed(err error, msg string) *CommandResult {
	return &CommandResult{Success: false, State: ActionFailed, Error: err, Message: msg}
}

// ElementInfo represents information about a DOM element
type ElementInfo struct {
	TestID  string `json:"testId,omitempty"`
	Tag     string `json:"tag,omitempty"`
	Text    string `json:"text,omitempty"`
	Bounds  Bounds `json:"bounds"`
	Visible bool   `json:"visible"`
}

// Bounds represents element position and size in CSS pixels
type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// At returns the point at the given fractions of the width and height.
func (b Bounds) At(fx, fy float64) (float64, float64) {
	return b.X + b.Width*fx, b.Y + b.Height*fy
}
