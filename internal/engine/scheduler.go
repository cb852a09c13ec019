package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"toolmesh.dev/engine/common/logger"
	"toolmesh.dev/engine/internal/llmgateway"
)

const (
	// DefaultMaxIterations bounds the Scheduler's outer loop and the Polling
	// Driver's per-step loop (§6).
	DefaultMaxIterations = 15
	// DefaultMaxToolRetries bounds re-attempts of any one ordered
	// (prev tool -> next tool) pair within a plan (§6).
	DefaultMaxToolRetries = 3
	// DefaultToolExecutionTimeout is the single fixed per-invocation
	// timeout this module picks, per the Design Notes instruction to
	// settle on one constant instead of the legacy 30s/120s split.
	DefaultToolExecutionTimeout = 60 * time.Second
	// DefaultMaxParallelTools bounds concurrent invocations within one
	// parallel batch (§4.4.2), grounded on the teacher's
	// executeToolsParallel semaphore.
	DefaultMaxParallelTools = 8
)

// Scheduler drives an ExecutionPlan to completion (§4.4).
type Scheduler struct {
	invoker   ToolInvoker
	resolver  *PlaceholderResolver
	assessor  *Assessor
	poller    *PollingDriver
	gateway   llmgateway.Gateway

	maxIterations        int
	maxToolRetries       int
	toolExecutionTimeout time.Duration
	maxParallelTools     int
}

func NewScheduler(invoker ToolInvoker, resolver *PlaceholderResolver, assessor *Assessor, poller *PollingDriver, gateway llmgateway.Gateway) *Scheduler {
	return &Scheduler{
		invoker:              invoker,
		resolver:             resolver,
		assessor:             assessor,
		poller:               poller,
		gateway:              gateway,
		maxIterations:        DefaultMaxIterations,
		maxToolRetries:       DefaultMaxToolRetries,
		toolExecutionTimeout: DefaultToolExecutionTimeout,
		maxParallelTools:     DefaultMaxParallelTools,
	}
}

// stepOutcome is the result of running one step, used to drive both the
// cursor loop and the DAG-batch loop through the same assessment path.
type stepOutcome struct {
	step       *ExecutionStep
	assessment AssessmentRecord
}

// Run drives plan to completion, emitting progress Events on emit as it
// goes. It returns the final-state assessment once the plan terminates.
func (s *Scheduler) Run(ctx context.Context, query string, plan *ExecutionPlan, emit func(Event)) FinalStateRecord {
	ctx = logger.WithLogFields(ctx, logger.LogFields{PlanID: logger.Ptr(plan.PlanID), Component: "engine.scheduler"})

	if plan.HasDAGStructure() {
		return s.dagLoop(ctx, query, plan, emit)
	}
	return s.cursorLoop(ctx, query, plan, emit)
}

// dagLoop drives the plan via the ready-step/parallel-group traversal, the
// common path when the Plan Builder returned a full DAG (§4.4, §4.4.2).
func (s *Scheduler) dagLoop(ctx context.Context, query string, plan *ExecutionPlan, emit func(Event)) FinalStateRecord {
	for iter := 0; iter < s.maxIterations; iter++ {
		iterCtx := logger.WithLogFields(ctx, logger.LogFields{Iteration: logger.Ptr(iter)})

		batches := plan.GetParallelReadyGroups()
		if len(batches) == 0 {
			break
		}

		for _, batch := range batches {
			outcomes := s.runBatch(iterCtx, query, plan, batch, emit)
			for _, o := range outcomes {
				if o.assessment.ProblemSolved {
					plan.Completed = true
					final := s.assessor.AssessFinalState(ctx, query, plan.GetExecutionResults())
					plan.FinalResult = &final
					return final
				}
			}
		}

		if plan.IsCompleted() {
			break
		}
	}

	plan.Completed = true
	final := s.assessor.AssessFinalState(ctx, query, plan.GetExecutionResults())
	plan.FinalResult = &final
	return final
}

func (s *Scheduler) runBatch(ctx context.Context, query string, plan *ExecutionPlan, batch []*ExecutionStep, emit func(Event)) []stepOutcome {
	prior := plan.GetExecutionResults()
	if len(batch) == 1 {
		return []stepOutcome{s.runStep(ctx, query, plan, batch[0], prior, emit)}
	}

	outcomes := make([]stepOutcome, len(batch))
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.maxParallelTools)

	for i, step := range batch {
		wg.Add(1)
		go func(i int, step *ExecutionStep) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = s.runStep(ctx, query, plan, step, prior, emit)
		}(i, step)
	}
	wg.Wait()

	return outcomes
}

// runStep executes §4.4.1 for one step. prior is collected by the caller
// before a batch starts, so batch goroutines never read each other's steps.
func (s *Scheduler) runStep(ctx context.Context, query string, plan *ExecutionPlan, step *ExecutionStep, prior []ToolResult, emit func(Event)) stepOutcome {
	ctx = logger.WithLogFields(ctx, logger.LogFields{StepID: logger.Ptr(step.StepID), ToolName: logger.Ptr(step.ToolName)})

	resolvedArgs, err := s.resolver.Resolve(ctx, query, step.ToolArgs, prior)
	if err != nil {
		slog.WarnContext(ctx, "placeholder resolution failed, using original args", "step_id", step.StepID, "error", err)
	} else {
		step.ToolArgs = resolvedArgs
	}

	emit(Event{Kind: EventMessage, Message: ptr(fmt.Sprintf("执行工具: %s", step.ToolName))})

	step.StartTime = time.Now()

	var resultText, errText string
	var success bool

	if step.PollingRequired {
		success, resultText, errText = s.poller.Poll(ctx, step)
	} else {
		success, resultText, errText = s.invokeOnce(ctx, step)
	}

	plan.UpdateStepResult(step.StepID, success, resultText, errText)

	resultForAssessment := resultText
	if !success {
		resultForAssessment = errText
	}

	assessment := s.assessor.AssessToolResult(ctx, query, step.ToolName, step.ToolArgs, resultForAssessment, prior)

	emit(Event{
		Kind:       EventAssessment,
		ToolName:   ptr(step.ToolName),
		Message:    ptr(resultForAssessment),
		Assessment: &assessment,
	})

	return stepOutcome{step: step, assessment: assessment}
}

func (s *Scheduler) invokeOnce(ctx context.Context, step *ExecutionStep) (success bool, result, errText string) {
	invokeCtx, cancel := context.WithTimeout(ctx, s.toolExecutionTimeout)
	defer cancel()

	result, err := s.invoker.Invoke(invokeCtx, step.ToolName, step.ToolArgs)
	if err != nil {
		if invokeCtx.Err() == context.DeadlineExceeded {
			return false, "", fmt.Sprintf("工具执行超时(>%ds)", int(s.toolExecutionTimeout.Seconds()))
		}
		return false, "", fmt.Sprintf("执行出错: %s", err.Error())
	}

	if contains(result, "isError=True") {
		return false, "", result
	}

	return true, result, ""
}

// cursorLoop drives a flat, dependency-free sequence of steps one at a time
// with retry/rollback, used whenever the plan carries no depends_on or
// parallel_group structure (including the empty plan case) (§4.4 main
// pseudocode). Unlike dagLoop it retries a failed step by stepping the
// cursor back to the previous position rather than marking the step
// terminal on first failure.
func (s *Scheduler) cursorLoop(ctx context.Context, query string, plan *ExecutionPlan, emit func(Event)) FinalStateRecord {
	order := plan.StepOrder
	workflowRepeatCount := make(map[string]int)
	lastFailedIndex := -1
	cursor := 0

	for iter := 0; iter < s.maxIterations; iter++ {
		iterCtx := logger.WithLogFields(ctx, logger.LogFields{Iteration: logger.Ptr(iter)})

		if cursor >= len(order) {
			break
		}

		stepID := order[cursor]
		step := plan.Steps[stepID]

		var outcome stepOutcome
		if step.Executed && step.Success {
			// Cursor rolled back onto a step that already succeeded. §4.4
			// (scenario E5) requires reusing its cached plan.tool_results
			// entry rather than re-executing it as a fresh step, so
			// runStep (and the tool call / placeholder re-resolution /
			// reassessment it would trigger) is skipped entirely here. A
			// step that previously failed still needs a genuine retry, so
			// it falls through to runStep below.
			outcome = stepOutcome{
				step:       step,
				assessment: AssessmentRecord{ProblemSolved: false, NeedMoreTools: true},
			}
		} else {
			outcome = s.runStep(iterCtx, query, plan, step, plan.GetExecutionResults(), emit)
		}

		if outcome.assessment.ProblemSolved {
			plan.Completed = true
			final := s.assessor.AssessFinalState(ctx, query, plan.GetExecutionResults())
			plan.FinalResult = &final
			return final
		}

		if !outcome.assessment.ToolFailed && step.Success {
			cursor++
			lastFailedIndex = -1
			continue
		}

		if cursor > 0 {
			pairKey := fmt.Sprintf("%s -> %s", plan.Steps[order[cursor-1]].ToolName, step.ToolName)
			workflowRepeatCount[pairKey]++
			if workflowRepeatCount[pairKey] >= s.maxToolRetries {
				break
			}
		}

		if cursor == lastFailedIndex {
			break
		}
		lastFailedIndex = cursor

		if cursor > 0 {
			cursor--
		} else {
			break
		}
	}

	plan.Completed = true
	final := s.assessor.AssessFinalState(ctx, query, plan.GetExecutionResults())
	final.GenerateFinal = true
	plan.FinalResult = &final
	return final
}

func ptr[T any](v T) *T { return &v }
