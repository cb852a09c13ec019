package engine

import (
	"context"
	"testing"

	"toolmesh.dev/engine/internal/testtool"
)

var sampleCatalog = []ToolDescriptor{
	{Name: "get_weather", Description: "fetch current weather for a city"},
	{Name: "send_message", Description: "send a chat message"},
}

// TestPlanBuilderDropsDanglingDependsOn verifies testable property 1: a
// built plan never references a depends_on id that wasn't declared as a
// step, because sanitizeDependsOn strips unknown ids.
func TestPlanBuilderDropsDanglingDependsOn(t *testing.T) {
	t.Parallel()

	fakeGateway := testtool.NewFakeGateway(
		`["get_weather"]`,
		`{"steps":[{"step_id":"s1","tool_name":"get_weather","tool_args":{"city":"武汉"},"depends_on":["does-not-exist"]}]}`,
	)
	builder := NewPlanBuilder(fakeGateway, nil)

	plan := builder.Build(context.Background(), "what's the weather in wuhan", nil, sampleCatalog)

	step, ok := plan.Steps["s1"]
	if !ok {
		t.Fatalf("expected step s1 in plan, got %+v", plan.Steps)
	}
	if len(step.DependsOn) != 0 {
		t.Errorf("expected dangling depends_on to be dropped, got %v", step.DependsOn)
	}
}

func TestPlanBuilderKeepsValidDependsOn(t *testing.T) {
	t.Parallel()

	fakeGateway := testtool.NewFakeGateway(
		`["get_weather","send_message"]`,
		`{"steps":[{"step_id":"s1","tool_name":"get_weather","tool_args":{}},{"step_id":"s2","tool_name":"send_message","tool_args":{},"depends_on":["s1"]}]}`,
	)
	builder := NewPlanBuilder(fakeGateway, nil)

	plan := builder.Build(context.Background(), "weather then notify", nil, sampleCatalog)

	s2, ok := plan.Steps["s2"]
	if !ok {
		t.Fatalf("expected step s2 in plan")
	}
	if len(s2.DependsOn) != 1 || s2.DependsOn[0] != "s1" {
		t.Errorf("expected depends_on=[s1] to survive sanitization, got %v", s2.DependsOn)
	}
}

// TestPlanBuilderBreaksDependsOnCycle verifies testable property 1's cycle
// clause: a synthesized plan whose steps depend on each other in a cycle has
// the back-edge dropped rather than reaching the Scheduler intact.
func TestPlanBuilderBreaksDependsOnCycle(t *testing.T) {
	t.Parallel()

	fakeGateway := testtool.NewFakeGateway(
		`["get_weather","send_message"]`,
		`{"steps":[{"step_id":"s1","tool_name":"get_weather","tool_args":{},"depends_on":["s2"]},{"step_id":"s2","tool_name":"send_message","tool_args":{},"depends_on":["s1"]}]}`,
	)
	builder := NewPlanBuilder(fakeGateway, nil)

	plan := builder.Build(context.Background(), "weather then notify", nil, sampleCatalog)

	s1, ok := plan.Steps["s1"]
	if !ok {
		t.Fatalf("expected step s1 in plan")
	}
	s2, ok := plan.Steps["s2"]
	if !ok {
		t.Fatalf("expected step s2 in plan")
	}

	if len(s1.DependsOn) > 0 && len(s2.DependsOn) > 0 {
		t.Fatalf("expected the cycle to be broken by dropping one back-edge, got s1.DependsOn=%v s2.DependsOn=%v", s1.DependsOn, s2.DependsOn)
	}

	ready := plan.GetReadySteps()
	if len(ready) == 0 {
		t.Errorf("expected at least one step to be immediately ready once the cycle is broken, got none")
	}
}

// TestPlanBuilderFallsBackToFullCatalogOnUnparseableFilter verifies that a
// relevance-filter response that isn't a JSON array degrades to using the
// full catalog rather than dropping every tool.
func TestPlanBuilderFallsBackToFullCatalogOnUnparseableFilter(t *testing.T) {
	t.Parallel()

	fakeGateway := testtool.NewFakeGateway(
		"not a json array at all",
		`{"steps":[{"step_id":"s1","tool_name":"get_weather","tool_args":{}}]}`,
	)
	builder := NewPlanBuilder(fakeGateway, nil)

	plan := builder.Build(context.Background(), "weather please", nil, sampleCatalog)

	if _, ok := plan.Steps["s1"]; !ok {
		t.Fatalf("expected plan to still be built using the full catalog, got %+v", plan.Steps)
	}
}

func TestPlanBuilderEmptyCatalogYieldsEmptyPlan(t *testing.T) {
	t.Parallel()

	fakeGateway := testtool.NewFakeGateway("should never be called")
	builder := NewPlanBuilder(fakeGateway, nil)

	plan := builder.Build(context.Background(), "anything", nil, nil)

	if len(plan.Steps) != 0 {
		t.Errorf("expected an empty plan for an empty catalog, got %+v", plan.Steps)
	}
	if fakeGateway.CallCount() != 0 {
		t.Errorf("expected no LLM calls for an empty catalog, got %d", fakeGateway.CallCount())
	}
}
