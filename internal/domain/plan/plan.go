// Package plan defines execution plans: the ordered step sequences a task
// is broken into before anything runs.
package plan

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/cordonlabs/sentra/internal/domain/guard"
)

// MaxSteps is the complexity ceiling. Plans above it are rejected
// regardless of content.
const MaxSteps = 10

// Step is a single unit of a plan.
type Step struct {
	StepID int    `json:"step_id"`
	Goal   string `json:"goal"`
}

// Plan is an ordered sequence of steps produced by the planner and
// validated before execution.
type Plan struct {
	PlanID string `json:"plan_id"`
	Steps  []Step `json:"steps"`
}

// Validate checks structural well-formedness: an id, at least the steps
// slice present, and every step carrying a goal.
func (p *Plan) Validate() error {
	if p == nil {
		return fmt.Errorf("plan is nil")
	}
	if p.Steps == nil {
		return fmt.Errorf("plan has no steps field")
	}
	for i, s := range p.Steps {
		if s.Goal == "" {
			return fmt.Errorf("step %d: goal is required", i)
		}
	}
	return nil
}

// TooComplex reports whether the plan exceeds the step ceiling.
func (p *Plan) TooComplex() bool {
	return len(p.Steps) > MaxSteps
}

// Fallback builds a deterministic single-step plan describing a planner
// failure, so validation and execution always have a well-formed object to
// work with instead of a crash path.
func Fallback(goal string) *Plan {
	return &Plan{
		PlanID: "auto-" + uuid.NewString()[:8],
		Steps: []Step{
			{StepID: 1, Goal: fmt.Sprintf("Could not generate plan for '%s'", goal)},
		},
	}
}

// BestMatch returns the highest token-overlap score between actionText and
// any step goal, with the matching step id (-1 when the plan is empty).
func (p *Plan) BestMatch(actionText string) (float64, int) {
	if p == nil {
		return 0, -1
	}
	best := 0.0
	bestID := -1
	for _, s := range p.Steps {
		if score := guard.TokenOverlapScore(actionText, s.Goal); score > best {
			best = score
			bestID = s.StepID
		}
	}
	return best, bestID
}
