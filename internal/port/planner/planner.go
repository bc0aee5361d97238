// Package planner defines the port for turning a task goal into a plan.
package planner

import (
	"context"

	"github.com/cordonlabs/sentra/internal/domain/plan"
)

// Planner produces an execution plan for a goal. Implementations must
// return a structurally valid plan or an error; the caller substitutes a
// fallback plan on failure.
type Planner interface {
	GeneratePlan(ctx context.Context, goal string, taskContext map[string]any) (*plan.Plan, error)
}
