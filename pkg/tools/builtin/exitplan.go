package builtin

import (
	"context"
	"fmt"

	"github.com/writeflow-dev/writeflow/pkg/plan"
	"github.com/writeflow-dev/writeflow/pkg/tools"
)

// ExitPlanModeTool submits the assistant's finished plan for user review.
// Calling it does not leave plan mode by itself: the plan becomes pending on
// the controller, and only the user's accept decision switches the mode.
type ExitPlanModeTool struct {
	plans *plan.Controller
}

func NewExitPlanModeTool(plans *plan.Controller) *ExitPlanModeTool {
	return &ExitPlanModeTool{plans: plans}
}

func (t *ExitPlanModeTool) Meta() tools.Meta {
	return tools.Meta{
		Name: plan.ExitPlanModeTool,
		Description: "Present your finished plan to the user for review. Call this only when " +
			"the plan is complete. The user will accept it (execution starts), accept the plan " +
			"text only, or reject it with feedback, in which case you stay in plan mode.",
		Parameters: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"plan": {Type: "string", Description: "The complete plan, in markdown"},
			},
			Required: []string{"plan"},
		}),
		// Submitting a plan mutates nothing; the gate exempts it from the
		// plan-mode restriction by name.
		ReadOnly:        true,
		ConcurrencySafe: true,
		Category:        CategoryTask,
	}
}

func (t *ExitPlanModeTool) Execute(_ context.Context, _ string, params map[string]any, _ tools.UpdateFn) (tools.Result, error) {
	planText := strParam(params, "plan")
	if planText == "" {
		return tools.ErrorResult(fmt.Errorf("plan is required")), nil
	}
	if err := t.plans.SubmitPlan(planText); err != nil {
		return tools.ErrorResult(fmt.Errorf("cannot submit plan: %w", err)), nil
	}
	return tools.TextResult("Plan submitted for user review. Waiting for the user's decision."), nil
}
