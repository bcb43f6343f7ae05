package builtin_test

import (
	"context"
	"strings"
	"testing"

	"github.com/writeflow-dev/writeflow/pkg/plan"
	"github.com/writeflow-dev/writeflow/pkg/tools/builtin"
)

func TestExitPlanModeTool_SubmitsPendingPlan(t *testing.T) {
	ctl := plan.NewController(nil)
	ctl.Enter()
	tool := builtin.NewExitPlanModeTool(ctl)

	result, err := tool.Execute(context.Background(), "c1", map[string]any{
		"plan": "1. Outline\n2. Draft",
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(resultText(result), "review") {
		t.Errorf("out = %q", resultText(result))
	}

	pending, ok := ctl.Pending()
	if !ok {
		t.Fatal("plan not pending on controller")
	}
	if pending != "1. Outline\n2. Draft" {
		t.Errorf("pending = %q", pending)
	}
	// Submitting must not leave plan mode on its own.
	if ctl.Mode() != plan.ModePlan {
		t.Errorf("mode = %v, want plan", ctl.Mode())
	}
}

func TestExitPlanModeTool_OutsidePlanMode(t *testing.T) {
	ctl := plan.NewController(nil)
	tool := builtin.NewExitPlanModeTool(ctl)

	result, _ := tool.Execute(context.Background(), "c1", map[string]any{"plan": "x"}, nil)
	if !strings.Contains(strings.ToLower(resultText(result)), "error") {
		t.Errorf("out = %q", resultText(result))
	}
}

func TestExitPlanModeTool_MissingPlan(t *testing.T) {
	ctl := plan.NewController(nil)
	ctl.Enter()
	tool := builtin.NewExitPlanModeTool(ctl)

	result, _ := tool.Execute(context.Background(), "c1", map[string]any{}, nil)
	if !strings.Contains(strings.ToLower(resultText(result)), "error") {
		t.Errorf("out = %q", resultText(result))
	}
}

func TestExitPlanModeTool_Meta(t *testing.T) {
	m := builtin.NewExitPlanModeTool(plan.NewController(nil)).Meta()
	if m.Name != plan.ExitPlanModeTool {
		t.Errorf("name = %q", m.Name)
	}
	if !m.ReadOnly {
		t.Error("ExitPlanMode must be read-only so it is usable in plan mode")
	}
}
