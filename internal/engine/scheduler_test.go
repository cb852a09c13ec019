package engine

import (
	"context"
	"testing"

	"toolmesh.dev/engine/internal/testtool"
)

func newTestScheduler(invoker ToolInvoker, gateway *testtool.FakeGateway) *Scheduler {
	resolver := NewPlaceholderResolver(gateway)
	assessor := NewAssessor(gateway)
	poller := NewPollingDriver(invoker, gateway, DefaultMaxIterations)
	return NewScheduler(invoker, resolver, assessor, poller, gateway)
}

func noopEmit(Event) {}

// TestSchedulerSingleToolSuccess covers E2: a single-step flat plan whose
// tool succeeds and whose assessment reports the query solved.
func TestSchedulerSingleToolSuccess(t *testing.T) {
	t.Parallel()

	registry := testtool.NewRegistry()
	registry.RegisterConstant("get_weather", "sunny, 24C", nil)

	fakeGateway := testtool.NewFakeGateway(
		`{"satisfaction_level":"全部","confidence":0.9,"reason":"done","problem_solved":true,"need_more_tools":false,"next_tool_suggestion":""}`,
		`{"problem_solved":true,"solution_level":"已解决","confidence":0.9,"reason":"done","need_more_tools":false,"generate_final":true,"remaining_tasks":[]}`,
	)

	scheduler := newTestScheduler(registry, fakeGateway)

	plan := NewExecutionPlan("what's the weather in wuhan")
	plan.AddStep(&ExecutionStep{StepID: "s1", ToolName: "get_weather", ToolArgs: map[string]any{"city": "武汉"}})

	final := scheduler.Run(context.Background(), "what's the weather in wuhan", plan, noopEmit)

	if !final.ProblemSolved {
		t.Errorf("expected ProblemSolved=true, got %+v", final)
	}
	if final.SolutionLevel != SolutionSolved {
		t.Errorf("expected SolutionSolved, got %v", final.SolutionLevel)
	}
	if registry.CallCount("get_weather") != 1 {
		t.Errorf("expected exactly one tool invocation, got %d", registry.CallCount("get_weather"))
	}
}

// TestSchedulerDependentTwoStepWithPlaceholder covers E3: a two-step DAG
// where the second step's argument is a mechanical ${step_id} reference to
// the first step's result, resolved before the tool is invoked.
func TestSchedulerDependentTwoStepWithPlaceholder(t *testing.T) {
	t.Parallel()

	registry := testtool.NewRegistry()
	registry.RegisterConstant("get_weather", "sunny, 24C", nil)
	registry.RegisterConstant("send_message", "message delivered", nil)

	fakeGateway := testtool.NewFakeGateway(
		`{"satisfaction_level":"部分","confidence":0.6,"reason":"need to notify","problem_solved":false,"need_more_tools":true,"next_tool_suggestion":"send_message"}`,
		`{"satisfaction_level":"全部","confidence":0.9,"reason":"done","problem_solved":true,"need_more_tools":false,"next_tool_suggestion":""}`,
		`{"problem_solved":true,"solution_level":"已解决","confidence":0.9,"reason":"done","need_more_tools":false,"generate_final":true,"remaining_tasks":[]}`,
	)

	scheduler := newTestScheduler(registry, fakeGateway)

	plan := NewExecutionPlan("tell me the weather and message it to the team")
	plan.AddStep(&ExecutionStep{StepID: "s1", ToolName: "get_weather", ToolArgs: map[string]any{"city": "武汉"}})
	plan.AddStep(&ExecutionStep{
		StepID:    "s2",
		ToolName:  "send_message",
		ToolArgs:  map[string]any{"message": "${s1}"},
		DependsOn: []string{"s1"},
	})

	final := scheduler.Run(context.Background(), "tell me the weather and message it to the team", plan, noopEmit)

	if !final.ProblemSolved {
		t.Errorf("expected ProblemSolved=true, got %+v", final)
	}

	calls := registry.Calls()
	var sawResolvedMessage bool
	for _, c := range calls {
		if c.ToolName == "send_message" && c.Args["message"] == "sunny, 24C" {
			sawResolvedMessage = true
		}
	}
	if !sawResolvedMessage {
		t.Errorf("expected send_message to receive the resolved ${s1} value, got calls: %+v", calls)
	}
}

// TestSchedulerRollbackThenSucceeds covers E5's recovery sub-case and
// testable properties 2-4: a step fails once, the cursor rolls back exactly
// one position onto the prior step, whose cached result is reused without
// invoking it again, then the failed step is retried and succeeds.
func TestSchedulerRollbackThenSucceeds(t *testing.T) {
	t.Parallel()

	registry := testtool.NewRegistry()
	registry.RegisterConstant("get_weather", "sunny, 24C", nil)
	registry.RegisterSequence("send_message", []string{
		"isError=True: upstream unavailable",
		"message delivered",
	})

	fakeGateway := testtool.NewFakeGateway(
		`{"problem_solved":false,"need_more_tools":true}`,
		`{"problem_solved":false,"need_more_tools":true}`,
		`{"problem_solved":true,"need_more_tools":false}`,
		`{"problem_solved":true,"solution_level":"已解决","need_more_tools":false,"generate_final":true}`,
	)

	scheduler := newTestScheduler(registry, fakeGateway)

	plan := NewExecutionPlan("weather then notify")
	plan.AddStep(&ExecutionStep{StepID: "s1", ToolName: "get_weather", ToolArgs: map[string]any{"city": "武汉"}})
	plan.AddStep(&ExecutionStep{StepID: "s2", ToolName: "send_message", ToolArgs: map[string]any{"message": "go"}})

	final := scheduler.Run(context.Background(), "weather then notify", plan, noopEmit)

	if !final.ProblemSolved {
		t.Errorf("expected eventual success after one retry, got %+v", final)
	}
	if registry.CallCount("get_weather") != 1 {
		t.Errorf("expected get_weather to run once and its cached result reused on rollback (not re-invoked), got %d", registry.CallCount("get_weather"))
	}
	if registry.CallCount("send_message") != 2 {
		t.Errorf("expected send_message to be attempted twice, got %d", registry.CallCount("send_message"))
	}
}

// TestSchedulerWorkflowPairCapTerminates covers E5's terminal-failure
// sub-case and testable property 4: an ordered tool pair that keeps failing
// is abandoned after DefaultMaxToolRetries attempts rather than retried
// forever.
func TestSchedulerWorkflowPairCapTerminates(t *testing.T) {
	t.Parallel()

	registry := testtool.NewRegistry()
	registry.RegisterConstant("get_weather", "sunny, 24C", nil)
	registry.RegisterConstant("send_message", "isError=True: permanently down", nil)

	fakeGateway := testtool.NewFakeGateway() // every Complete call falls back to the safe not-solved default

	scheduler := newTestScheduler(registry, fakeGateway)

	plan := NewExecutionPlan("weather then notify")
	plan.AddStep(&ExecutionStep{StepID: "s1", ToolName: "get_weather", ToolArgs: map[string]any{"city": "武汉"}})
	plan.AddStep(&ExecutionStep{StepID: "s2", ToolName: "send_message", ToolArgs: map[string]any{"message": "go"}})

	final := scheduler.Run(context.Background(), "weather then notify", plan, noopEmit)

	if final.ProblemSolved {
		t.Errorf("expected the query to remain unsolved, got %+v", final)
	}
	if !final.GenerateFinal {
		t.Errorf("expected GenerateFinal=true once the pair retry cap terminates the run")
	}
	if registry.CallCount("send_message") != DefaultMaxToolRetries {
		t.Errorf("expected send_message to be attempted exactly %d times (the pair cap), got %d", DefaultMaxToolRetries, registry.CallCount("send_message"))
	}
}

// TestSchedulerIterationCapBounds covers testable property 2: the scheduler
// never runs more than maxIterations outer loop passes, even when the
// workflow-pair retry cap is configured high enough that it would never
// trigger on its own.
func TestSchedulerIterationCapBounds(t *testing.T) {
	t.Parallel()

	registry := testtool.NewRegistry()
	registry.RegisterConstant("get_weather", "sunny, 24C", nil)
	registry.RegisterConstant("send_message", "isError=True: permanently down", nil)

	fakeGateway := testtool.NewFakeGateway()

	scheduler := newTestScheduler(registry, fakeGateway)
	scheduler.maxIterations = 4
	scheduler.maxToolRetries = 1000

	plan := NewExecutionPlan("weather then notify")
	plan.AddStep(&ExecutionStep{StepID: "s1", ToolName: "get_weather", ToolArgs: map[string]any{"city": "武汉"}})
	plan.AddStep(&ExecutionStep{StepID: "s2", ToolName: "send_message", ToolArgs: map[string]any{"message": "go"}})

	final := scheduler.Run(context.Background(), "weather then notify", plan, noopEmit)

	if final.ProblemSolved {
		t.Errorf("expected no resolution within the iteration cap, got %+v", final)
	}
	// 4 iterations alternate s1 (forward) / s2 (rollback): s1, s2, s1, s2.
	// The second visit to s1 lands on an already-succeeded step, so its
	// cached result is reused instead of invoking the tool again.
	if registry.CallCount("get_weather") != 1 {
		t.Errorf("expected get_weather invoked once, with its second (rolled-back-onto) visit reusing the cached result, got %d", registry.CallCount("get_weather"))
	}
	if registry.CallCount("send_message") != 2 {
		t.Errorf("expected send_message invoked twice within the 4-iteration cap, got %d", registry.CallCount("send_message"))
	}
}
