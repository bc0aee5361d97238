// Package worker defines the port for the agent that executes plan steps.
package worker

import (
	"context"

	"github.com/cordonlabs/sentra/internal/domain/plan"
)

// Step outcome statuses reported by a worker. Anything outside this set is
// treated as a failure by the orchestrator.
const (
	StatusStepCompleted     = "STEP_COMPLETED"
	StatusDeviationDetected = "DEVIATION_DETECTED"
	StatusActionRejected    = "ACTION_REJECTED"
)

// StepRequest identifies the single step a worker should execute. The full
// approved plan rides along so the worker can forward it into the guardian's
// plan-conformance check for each action it proposes.
type StepRequest struct {
	TaskID       string         `json:"task_id"`
	StepID       int            `json:"step_id"`
	Goal         string         `json:"goal"`
	ApprovedPlan *plan.Plan     `json:"approved_plan,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	Resumed      bool           `json:"resumed,omitempty"`
	Approved     bool           `json:"approved,omitempty"`
}

// StepResult is the worker's report for one step.
type StepResult struct {
	Status  string         `json:"status"`
	Output  string         `json:"output,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Worker executes exactly one plan step per call. A call covers the
// worker's full inner loop (think, propose, validate, act); the
// orchestrator only sees the final status.
type Worker interface {
	ExecuteStep(ctx context.Context, req StepRequest) (StepResult, error)
}
