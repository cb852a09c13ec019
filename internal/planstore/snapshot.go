package planstore

import (
	"time"

	"toolmesh.dev/engine/internal/engine"
)

// planSnapshot mirrors the JSON shape in §6, plus a step_order list, independent of
// engine.ExecutionPlan's in-memory field names, so the wire format is
// stable even if the in-memory struct is refactored.
type planSnapshot struct {
	PlanID         string                    `json:"plan_id"`
	Name           string                    `json:"name"`
	UserQuery      string                    `json:"user_query"`
	CreationTime   time.Time                 `json:"creation_time"`
	Completed      bool                      `json:"completed"`
	ParallelGroups map[string][]string       `json:"parallel_groups"`
	Steps          map[string]stepSnapshot   `json:"steps"`
	StepOrder      []string                  `json:"step_order"`
}

type stepSnapshot struct {
	StepID               string         `json:"step_id"`
	ToolName             string         `json:"tool_name"`
	ToolArgs             map[string]any `json:"tool_args"`
	Description          string         `json:"description"`
	DependsOn            []string       `json:"depends_on"`
	ParallelGroup        string         `json:"parallel_group"`
	Executed             bool           `json:"executed"`
	Success              bool           `json:"success"`
	Result               string         `json:"result"`
	Error                string         `json:"error"`
	StartTime            time.Time      `json:"start_time"`
	EndTime              time.Time      `json:"end_time"`
	PollingRequired      bool           `json:"polling_required"`
	PollingIntervalSecs  int            `json:"polling_interval"`
	PollingConditionHint string         `json:"polling_condition"`
	PollingIteration     int            `json:"polling_iteration"`
}

func fromPlan(p *engine.ExecutionPlan) planSnapshot {
	snapshot := planSnapshot{
		PlanID:         p.PlanID,
		Name:           p.Name,
		UserQuery:      p.UserQuery,
		CreationTime:   p.CreationTime,
		Completed:      p.Completed,
		ParallelGroups: p.ParallelGroups,
		Steps:          make(map[string]stepSnapshot, len(p.Steps)),
		StepOrder:      p.StepOrder,
	}
	for id, step := range p.Steps {
		snapshot.Steps[id] = stepSnapshot{
			StepID:               step.StepID,
			ToolName:             step.ToolName,
			ToolArgs:             step.ToolArgs,
			Description:          step.Description,
			DependsOn:            step.DependsOn,
			ParallelGroup:        step.ParallelGroup,
			Executed:             step.Executed,
			Success:              step.Success,
			Result:               step.Result,
			Error:                step.Error,
			StartTime:            step.StartTime,
			EndTime:              step.EndTime,
			PollingRequired:      step.PollingRequired,
			PollingIntervalSecs:  step.PollingIntervalSecs,
			PollingConditionHint: step.PollingConditionHint,
			PollingIteration:     step.PollingIteration,
		}
	}
	return snapshot
}

func (s planSnapshot) toPlan() *engine.ExecutionPlan {
	plan := &engine.ExecutionPlan{
		PlanID:         s.PlanID,
		Name:           s.Name,
		UserQuery:      s.UserQuery,
		Steps:          make(map[string]*engine.ExecutionStep, len(s.Steps)),
		StepOrder:      s.StepOrder,
		ParallelGroups: s.ParallelGroups,
		CreationTime:   s.CreationTime,
		Completed:      s.Completed,
	}
	for id, step := range s.Steps {
		plan.Steps[id] = &engine.ExecutionStep{
			StepID:               step.StepID,
			ToolName:             step.ToolName,
			ToolArgs:             step.ToolArgs,
			Description:          step.Description,
			DependsOn:            step.DependsOn,
			ParallelGroup:        step.ParallelGroup,
			Executed:             step.Executed,
			Success:              step.Success,
			Result:               step.Result,
			Error:                step.Error,
			StartTime:            step.StartTime,
			EndTime:              step.EndTime,
			PollingRequired:      step.PollingRequired,
			PollingIntervalSecs:  step.PollingIntervalSecs,
			PollingConditionHint: step.PollingConditionHint,
			PollingIteration:     step.PollingIteration,
		}
	}
	return plan
}
