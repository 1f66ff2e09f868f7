// File: api/schemas/schemas.go
package schemas

import (
	"time"
)

// PageState classifies what phase of the application flow a raw snapshot
// shows. Classification is heuristic (marker keywords), performed by the
// triage package.
type PageState string

const (
	// PageInitial means the task has not begun; the job posting itself is
	// visible and the entry-point control (the apply button) must be found.
	PageInitial PageState = "INITIAL"
	// PageForm means an application modal/dialog is open with fields to fill.
	PageForm PageState = "FORM"
	// PageReview means the final confirmation view of the modal is showing.
	PageReview PageState = "REVIEW"
)

// TaskState is the orchestrator's finite state machine position.
type TaskState string

const (
	TaskInit      TaskState = "INIT"
	TaskDiscover  TaskState = "DISCOVER"
	TaskFormStep  TaskState = "FORM_STEP"
	TaskReview    TaskState = "REVIEW"
	TaskSubmitted TaskState = "SUBMITTED"
	TaskPaused    TaskState = "PAUSED"
	TaskFailed    TaskState = "FAILED"
)

// Terminal reports whether the state ends the task.
func (s TaskState) Terminal() bool {
	return s == TaskSubmitted || s == TaskPaused || s == TaskFailed
}

// Snapshot is one raw capture of the driven page. It is immutable once
// captured and superseded by the next capture after any mutating action.
type Snapshot struct {
	ID         string    `json:"id"`
	RawText    string    `json:"raw_text"`
	CapturedAt time.Time `json:"captured_at"`
	// Epoch is the driver's action epoch at capture time. Any mutating driver
	// call bumps the epoch, invalidating every ref issued under older epochs.
	Epoch uint64 `json:"epoch"`
}

// TriagedSnapshot is the bounded, actionable summary derived from a Snapshot.
// It is a pure function of (Snapshot, budget) and never mutated.
type TriagedSnapshot struct {
	Text          string    `json:"text"`
	TokenEstimate int       `json:"token_estimate"`
	Truncated     bool      `json:"truncated"`
	State         PageState `json:"state"`
	// Refs are the element references surviving triage. A Decision may only
	// target refs from this set.
	Refs     []string `json:"refs"`
	SourceID string   `json:"source_id"`
	Epoch    uint64   `json:"epoch"`
}

// HasRef reports whether ref survived triage of the source snapshot.
func (t TriagedSnapshot) HasRef(ref string) bool {
	for _, r := range t.Refs {
		if r == ref {
			return true
		}
	}
	return false
}

// StepRecord is the append-only log entry produced for every decision the
// orchestrator applies (or rejects). Consumed by a DecisionSink.
type StepRecord struct {
	TaskID     string    `json:"task_id"`
	Iteration  int       `json:"iteration"`
	State      TaskState `json:"state"`
	Decision   Decision  `json:"decision"`
	TokenUsage int       `json:"token_usage"`
	Timestamp  time.Time `json:"timestamp"`
}

// ApplicantProfile holds the data used to answer form fields. Loaded from a
// YAML file by the profile package.
type ApplicantProfile struct {
	FullName   string            `yaml:"full_name" json:"full_name"`
	Email      string            `yaml:"email" json:"email"`
	Phone      string            `yaml:"phone" json:"phone"`
	Location   string            `yaml:"location" json:"location"`
	ResumePath string            `yaml:"resume_path" json:"resume_path"`
	LinkedIn   string            `yaml:"linkedin_url" json:"linkedin_url"`
	// Answers maps normalized question keywords to canned answers
	// (e.g. "years_of_experience" -> "6").
	Answers map[string]string `yaml:"answers" json:"answers"`
}

// TaskContext is everything the Policy sees besides the triaged snapshot.
type TaskContext struct {
	TaskID      string           `json:"task_id"`
	JobURL      string           `json:"job_url"`
	JobTitle    string           `json:"job_title,omitempty"`
	Company     string           `json:"company,omitempty"`
	Profile     ApplicantProfile `json:"profile"`
	CoverLetter string           `json:"cover_letter,omitempty"`
	// History is the bounded window of recent exchanges maintained by the
	// orchestrator's StepContext.
	History []HistoryEntry `json:"history,omitempty"`
}

// HistoryEntry is one compressed (decision, outcome) exchange.
type HistoryEntry struct {
	Iteration int            `json:"iteration"`
	State     PageState      `json:"state"`
	Action    DecisionAction `json:"action"`
	Ref       string         `json:"ref,omitempty"`
	Outcome   string         `json:"outcome"`
}

// ApplicationStatus is the lifecycle of a tracked job application.
type ApplicationStatus string

const (
	StatusEligible  ApplicationStatus = "eligible"
	StatusPending   ApplicationStatus = "pending"
	StatusSubmitted ApplicationStatus = "submitted"
	StatusPaused    ApplicationStatus = "paused"
	StatusWithdrawn ApplicationStatus = "withdrawn"
	StatusError     ApplicationStatus = "error"
)

// ApplicationRecord is one tracked job application.
type ApplicationRecord struct {
	ID          string            `json:"id"`
	ProfileID   string            `json:"profile_id"`
	JobURL      string            `json:"job_url"`
	JobTitle    string            `json:"job_title,omitempty"`
	Company     string            `json:"company,omitempty"`
	Status      ApplicationStatus `json:"status"`
	CoverLetter string            `json:"cover_letter,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	FailReason  string            `json:"fail_reason,omitempty"`
	AppliedAt   *time.Time        `json:"applied_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// SafetyEventType enumerates recordable safety incidents.
type SafetyEventType string

const (
	EventEmergencyStop        SafetyEventType = "emergency_stop"
	EventRateLimitHit         SafetyEventType = "rate_limit_hit"
	EventDuplicateApplication SafetyEventType = "duplicate_application"
	EventFailureCooldown      SafetyEventType = "failure_cooldown"
	EventUserIntervention     SafetyEventType = "user_intervention"
)

// SafetyEvent is an audit record of a safety incident.
type SafetyEvent struct {
	ID          string          `json:"id"`
	Type        SafetyEventType `json:"type"`
	Severity    string          `json:"severity"` // low, medium, high, critical
	Description string          `json:"description"`
	SessionID   string          `json:"session_id,omitempty"`
	JobURL      string          `json:"job_url,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}
