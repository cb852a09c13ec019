package engine

import (
	"context"
	"testing"

	"toolmesh.dev/engine/internal/testtool"
)

func TestAssessToolResultIsErrorTrueOverridesLLM(t *testing.T) {
	t.Parallel()

	// The LLM claims the problem is solved, but the result text carries the
	// isError=True marker, which must win regardless of what the LLM says.
	fakeGateway := testtool.NewFakeGateway(`{"satisfaction_level":"全部","confidence":0.9,"reason":"looks fine","problem_solved":true,"need_more_tools":false,"next_tool_suggestion":""}`)
	assessor := NewAssessor(fakeGateway)

	rec := assessor.AssessToolResult(context.Background(), "what's the weather", "get_weather", map[string]any{"city": "武汉"}, "isError=True: upstream timeout", nil)

	if rec.ProblemSolved {
		t.Errorf("expected ProblemSolved=false since isError=True is ground truth, got true")
	}
	if !rec.ToolFailed {
		t.Errorf("expected ToolFailed=true")
	}
}

func TestAssessToolResultDefaultsOnUnparseableResponse(t *testing.T) {
	t.Parallel()

	fakeGateway := testtool.NewFakeGateway("this is not json at all")
	assessor := NewAssessor(fakeGateway)

	rec := assessor.AssessToolResult(context.Background(), "q", "get_weather", nil, "sunny", nil)

	if rec.ProblemSolved {
		t.Errorf("expected ProblemSolved=false when the response can't be parsed")
	}
	if !rec.NeedMoreTools {
		t.Errorf("expected NeedMoreTools=true when the response can't be parsed")
	}
}

// TestAssessFinalStateAsyncOverride verifies testable property 6: when the
// LLM says the problem isn't solved and no more tools are needed, but the
// latest result carries an async-task marker, need_more_tools must be forced
// to true.
func TestAssessFinalStateAsyncOverride(t *testing.T) {
	t.Parallel()

	fakeGateway := testtool.NewFakeGateway(`{"problem_solved":false,"solution_level":"部分解决","confidence":0.5,"reason":"waiting on generation","need_more_tools":false,"generate_final":false,"remaining_tasks":[]}`)
	assessor := NewAssessor(fakeGateway)

	results := []ToolResult{
		{StepID: "s1", ToolName: "generate_image", Result: `{"任务ID":"abc123","进度":"10%"}`, Success: true},
	}

	rec := assessor.AssessFinalState(context.Background(), "generate me a picture of a cat", results)

	if !rec.NeedMoreTools {
		t.Errorf("expected the async-task marker to force NeedMoreTools=true")
	}
}

func TestAssessFinalStateNoOverrideWithoutAsyncMarker(t *testing.T) {
	t.Parallel()

	fakeGateway := testtool.NewFakeGateway(`{"problem_solved":false,"solution_level":"未解决","confidence":0.5,"reason":"nothing usable yet","need_more_tools":false,"generate_final":false,"remaining_tasks":[]}`)
	assessor := NewAssessor(fakeGateway)

	results := []ToolResult{
		{StepID: "s1", ToolName: "get_weather", Result: `{"status":"done"}`, Success: true},
	}

	rec := assessor.AssessFinalState(context.Background(), "what's the weather", results)

	if rec.NeedMoreTools {
		t.Errorf("expected NeedMoreTools to remain false without an async-task marker")
	}
}
