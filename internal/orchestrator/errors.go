// File: internal/orchestrator/errors.go
package orchestrator

import "fmt"

// SafetyAbortError is the terminal error produced when the iteration cap is
// reached without the task settling into a terminal state. It is how an
// adversarial or oscillating decision stream is forced to terminate.
type SafetyAbortError struct {
	Iterations int
}

func (e *SafetyAbortError) Error() string {
	return fmt.Sprintf("safety abort: iteration cap %d reached without a terminal state", e.Iterations)
}

// staleRefError marks a decision that targeted a ref the policy was never
// shown, or one issued under an older action epoch. It is handled inside the
// loop (fresh snapshot, re-query) and never escapes Run.
type staleRefError struct {
	Ref    string
	Reason string
}

func (e *staleRefError) Error() string {
	return fmt.Sprintf("stale ref %q: %s", e.Ref, e.Reason)
}
