// File: internal/policy/policy.go

// Package policy produces the Decisions that drive the application loop.
// The core treats a Policy as opaque; this package provides the
// LLM-backed implementation plus the validation boundary every decision
// must cross before it is trusted.
package policy

import "fmt"

// ValidationError marks a decision that failed schema validation. It is
// never retried: a malformed decision cannot be trusted to retry safely,
// so the caller escalates immediately.
type ValidationError struct {
	Reason string
	Raw    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("policy decision rejected: %s", e.Reason)
}
