// Package engine implements the planner + executor subsystem: plan
// construction, the dependency/parallel DAG scheduler, placeholder
// resolution, the polling driver, the retry/roll-back state machine,
// per-step assessment, and final-answer generation.
package engine

import (
	"strconv"
	"time"

	"toolmesh.dev/engine/common"
	"toolmesh.dev/engine/common/id"
)

// ToolDescriptor is an immutable, catalog-provided description of one
// invokable tool. The catalog loader and tool-server transport that produce
// and back these values are external collaborators of this package.
type ToolDescriptor struct {
	Name            string
	Description     string
	ParameterSchema map[string]any
}

// ExecutionStep is a single node in an ExecutionPlan's DAG. It is created by
// the Plan Builder and mutated only by the Scheduler as it runs.
type ExecutionStep struct {
	StepID      string
	ToolName    string
	ToolArgs    map[string]any
	Description string

	DependsOn     []string
	ParallelGroup string

	PollingRequired       bool
	PollingIntervalSecs   int
	PollingConditionHint  string

	// Runtime state, mutated by the Scheduler.
	Executed         bool
	Success          bool
	Result           string
	Error            string
	StartTime        time.Time
	EndTime          time.Time
	PollingIteration int
}

// terminal reports whether the step has run to completion (successfully or
// not) and therefore satisfies other steps' depends_on requirements.
func (s *ExecutionStep) terminal() bool {
	return s.Executed
}

// ExecutionPlan is the mutable collection of steps built for one query. It is
// built once by the Plan Builder, driven to completion by the Scheduler, and
// frozen thereafter. One plan is exclusively owned by one Orchestrator.Run
// call; plans never share state across queries.
type ExecutionPlan struct {
	PlanID         string
	Name           string // slug derived from the user query, stored in plan snapshots
	UserQuery      string
	Steps          map[string]*ExecutionStep
	StepOrder      []string // insertion order, for deterministic iteration
	ParallelGroups map[string][]string
	CreationTime   time.Time
	Completed      bool
	FinalResult    *FinalStateRecord
}

// NewExecutionPlan returns an empty plan ready to accept steps. PlanID is a
// Snowflake-generated identifier (common/id); Name is a best-effort slug of
// the user query (common.Slugify), falling back to the plan id itself when
// the query slugifies to nothing (e.g. a query that is pure punctuation).
func NewExecutionPlan(userQuery string) *ExecutionPlan {
	planID := strconv.FormatInt(id.New(), 10)
	name, err := common.Slugify(userQuery, planID)
	if err != nil {
		name = planID
	}
	return &ExecutionPlan{
		PlanID:         planID,
		Name:           name,
		UserQuery:      userQuery,
		Steps:          make(map[string]*ExecutionStep),
		ParallelGroups: make(map[string][]string),
		CreationTime:   time.Now(),
	}
}

// AddStep inserts a step into the plan, indexing its parallel group if set.
func (p *ExecutionPlan) AddStep(step *ExecutionStep) {
	p.Steps[step.StepID] = step
	p.StepOrder = append(p.StepOrder, step.StepID)
	if step.ParallelGroup != "" {
		p.ParallelGroups[step.ParallelGroup] = append(p.ParallelGroups[step.ParallelGroup], step.StepID)
	}
}

// HasDAGStructure reports whether the plan declares any cross-step
// dependency or parallel grouping. Flat plans (and empty ones) drive through
// the Scheduler's cursor/rollback path instead of the DAG batch traversal.
func (p *ExecutionPlan) HasDAGStructure() bool {
	for _, id := range p.StepOrder {
		step := p.Steps[id]
		if len(step.DependsOn) > 0 || step.ParallelGroup != "" {
			return true
		}
	}
	return false
}

// IsCompleted reports whether every step in the plan has executed.
func (p *ExecutionPlan) IsCompleted() bool {
	if p.Completed {
		return true
	}
	for _, id := range p.StepOrder {
		if !p.Steps[id].terminal() {
			return false
		}
	}
	return len(p.StepOrder) > 0
}

// GetReadySteps returns every non-executed step whose dependencies have all
// executed.
func (p *ExecutionPlan) GetReadySteps() []*ExecutionStep {
	var ready []*ExecutionStep
	for _, id := range p.StepOrder {
		step := p.Steps[id]
		if step.Executed {
			continue
		}
		if p.dependenciesSatisfied(step) {
			ready = append(ready, step)
		}
	}
	return ready
}

func (p *ExecutionPlan) dependenciesSatisfied(step *ExecutionStep) bool {
	for _, dep := range step.DependsOn {
		depStep, ok := p.Steps[dep]
		if !ok {
			continue // unknown ids are sanitized away at build time
		}
		if !depStep.terminal() {
			return false
		}
	}
	return true
}

// GetParallelReadyGroups groups the currently-ready steps into batches: steps
// that share a parallel_group tag are only emitted once every member of that
// group is ready, forming one batch; ready steps with no group (or whose
// group is not yet fully ready) each form their own singleton batch.
func (p *ExecutionPlan) GetParallelReadyGroups() [][]*ExecutionStep {
	ready := p.GetReadySteps()
	if len(ready) == 0 {
		return nil
	}

	readyByID := make(map[string]*ExecutionStep, len(ready))
	for _, s := range ready {
		readyByID[s.StepID] = s
	}

	var batches [][]*ExecutionStep
	seen := make(map[string]bool)

	for _, step := range ready {
		if seen[step.StepID] {
			continue
		}
		if step.ParallelGroup == "" {
			batches = append(batches, []*ExecutionStep{step})
			seen[step.StepID] = true
			continue
		}

		groupIDs := p.ParallelGroups[step.ParallelGroup]
		fullyReady := true
		for _, id := range groupIDs {
			member := p.Steps[id]
			if member.Executed {
				continue
			}
			if _, ok := readyByID[id]; !ok {
				fullyReady = false
				break
			}
		}
		if !fullyReady {
			// Group not fully ready yet: this member waits for its peers.
			continue
		}

		var batch []*ExecutionStep
		for _, id := range groupIDs {
			member := p.Steps[id]
			if member.Executed {
				continue
			}
			batch = append(batch, member)
			seen[id] = true
		}
		if len(batch) > 0 {
			batches = append(batches, batch)
		}
	}

	return batches
}

// UpdateStepResult records the outcome of running a step.
func (p *ExecutionPlan) UpdateStepResult(stepID string, success bool, result, errText string) {
	step, ok := p.Steps[stepID]
	if !ok {
		return
	}
	step.Executed = true
	step.Success = success
	step.EndTime = time.Now()
	if success {
		step.Result = result
	} else {
		step.Error = errText
	}
}

// GetExecutionResults returns (tool_name, result_text) pairs for every step
// that has executed so far, in the order they were added to the plan.
func (p *ExecutionPlan) GetExecutionResults() []ToolResult {
	var results []ToolResult
	for _, id := range p.StepOrder {
		step := p.Steps[id]
		if !step.Executed {
			continue
		}
		text := step.Result
		if !step.Success {
			text = step.Error
		}
		results = append(results, ToolResult{
			StepID:   step.StepID,
			ToolName: step.ToolName,
			Result:   text,
			Success:  step.Success,
		})
	}
	return results
}

// ToolResult is one entry of the ordered prior-results list consumed by the
// Placeholder Resolver, the Assessor, and the Final Answer Generator.
type ToolResult struct {
	StepID   string
	ToolName string
	Result   string
	Success  bool
}

// SatisfactionLevel mirrors the assessor's three Chinese-phrase levels.
type SatisfactionLevel string

const (
	SatisfactionFull    SatisfactionLevel = "全部"
	SatisfactionPartial SatisfactionLevel = "部分"
	SatisfactionNone    SatisfactionLevel = "不满足"
)

// SolutionLevel mirrors the final-state assessor's three-way outcome.
type SolutionLevel string

const (
	SolutionSolved    SolutionLevel = "已解决"
	SolutionPartial   SolutionLevel = "部分解决"
	SolutionUnsolved  SolutionLevel = "未解决"
)

// AssessmentRecord is the Assessor's immutable per-step judgment.
type AssessmentRecord struct {
	SatisfactionLevel   SatisfactionLevel
	Confidence          float64
	Reason              string
	ProblemSolved       bool
	NeedMoreTools       bool
	ToolFailed          bool
	NextToolSuggestion  string
}

// FinalStateRecord is the Assessor's judgment over an entire plan.
type FinalStateRecord struct {
	ProblemSolved   bool
	SolutionLevel   SolutionLevel
	Confidence      float64
	Reason          string
	NeedMoreTools   bool
	GenerateFinal   bool
	RemainingTasks  []string
}

// asyncTaskMarkers are result substrings that signal an asynchronous tool
// server is still working (queued/running), forcing the scheduler to keep
// going even when the assessor would otherwise stop. See §4.6.2.
var asyncTaskMarkers = []string{"任务ID", "进度", "生成中", "处理中", "等待", "排队中"}

func containsAsyncTaskMarker(text string) bool {
	for _, marker := range asyncTaskMarkers {
		if contains(text, marker) {
			return true
		}
	}
	return false
}
