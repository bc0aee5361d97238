// Package task defines the Task entity driven by the orchestrator.
package task

import (
	"time"

	"github.com/cordonlabs/sentra/internal/domain/plan"
)

// Status represents the current phase of a task's lifecycle.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusStarting        Status = "STARTING"
	StatusCheckingHalt    Status = "CHECKING_HALT"
	StatusPlanning        Status = "PLANNING"
	StatusValidatingPlan  Status = "VALIDATING_PLAN"
	StatusExecutingStep   Status = "EXECUTING_STEP"
	StatusCompleted       Status = "COMPLETED"
	StatusPausedDeviation Status = "PAUSED_DEVIATION"
	StatusPausedReview    Status = "PAUSED_REVIEW"
	StatusRejected        Status = "REJECTED"
	StatusFailed          Status = "FAILED"
	StatusResuming        Status = "RESUMING"
	StatusReplanning      Status = "REPLANNING"
)

// IsTerminal reports whether no further transitions happen without an
// operator approve/replan call.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPausedDeviation, StatusPausedReview,
		StatusRejected, StatusFailed:
		return true
	}
	return false
}

// Resumable reports whether an approve call may move the task to RESUMING.
// Completed tasks are done; pending/running tasks have nothing to approve.
func (s Status) Resumable() bool {
	switch s {
	case StatusPausedDeviation, StatusPausedReview, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// Task is a unit of goal-driven work. It is owned by the orchestrator and
// mutated only by the single background worker executing it; tasks are
// never deleted and double as the audit trail.
type Task struct {
	TaskID           string         `json:"task_id"`
	Goal             string         `json:"goal"`
	Context          map[string]any `json:"context,omitempty"`
	Status           Status         `json:"status"`
	Plan             *plan.Plan     `json:"plan,omitempty"`
	CurrentStepIndex int            `json:"current_step_index"`
	Reason           string         `json:"reason,omitempty"`
	DeviationDetails map[string]any `json:"deviation_details,omitempty"`
	Result           string         `json:"result,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
