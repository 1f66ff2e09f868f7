// File: api/schemas/interfaces.go
package schemas

import "context"

// Policy is the external decision maker. Given the latest triaged snapshot
// and the task context, it returns the next Decision. The core places no
// constraints on how the decision is produced (LLM, human console, script);
// it only validates the result before applying it.
type Policy interface {
	Decide(ctx context.Context, snapshot TriagedSnapshot, tc TaskContext) (Decision, error)
}

// DecisionSink receives the append-only stream of step records. Write-once;
// the core never queries it back.
type DecisionSink interface {
	Record(ctx context.Context, rec StepRecord) error
}

// DriverClient is the subset of the protocol client the orchestrator uses.
// Declared here so the orchestrator can be tested against a fake driver.
type DriverClient interface {
	// Snapshot captures the current page description. Non-mutating.
	Snapshot(ctx context.Context) (Snapshot, error)
	// Navigate, Click, Type, SelectOption, UploadFile and Scroll are mutating:
	// each bumps the action epoch on success.
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, ref string) error
	Type(ctx context.Context, ref, text string) error
	SelectOption(ctx context.Context, ref, value string) error
	UploadFile(ctx context.Context, ref, path string) error
	Scroll(ctx context.Context, direction string) error
	// Epoch returns the current action epoch.
	Epoch() uint64
}

// ManualGate models the human-paced control points: resuming from a pause
// and confirming a submit. Both block until the signal arrives or the
// context is cancelled.
type ManualGate interface {
	AwaitResume(ctx context.Context, reason string) error
	ConfirmSubmit(ctx context.Context, summary string) error
}
