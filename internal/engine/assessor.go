package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"toolmesh.dev/engine/common/logger"
	"toolmesh.dev/engine/internal/llmgateway"
)

// Assessor judges whether a single tool result or an entire plan's worth of
// results solve the user's query (§4.6).
type Assessor struct {
	gateway llmgateway.Gateway
}

func NewAssessor(gateway llmgateway.Gateway) *Assessor {
	return &Assessor{gateway: gateway}
}

type stepAssessmentJSON struct {
	SatisfactionLevel  string  `json:"satisfaction_level"`
	Confidence         float64 `json:"confidence"`
	Reason             string  `json:"reason"`
	ProblemSolved      bool    `json:"problem_solved"`
	NeedMoreTools      bool    `json:"need_more_tools"`
	NextToolSuggestion string  `json:"next_tool_suggestion"`
}

// AssessToolResult judges the outcome of one executed step (§4.6.1). The
// isError=True substring is ground truth for tool failure regardless of what
// the LLM says.
func (a *Assessor) AssessToolResult(ctx context.Context, query, toolName string, args map[string]any, resultText string, prior []ToolResult) AssessmentRecord {
	ctx = logger.WithLogFields(ctx, logger.LogFields{ToolName: logger.Ptr(toolName), Component: "engine.assessor"})

	toolFailed := contains(resultText, "isError=True")

	prompt := a.stepPrompt(query, toolName, args, resultText, prior)
	resp, err := a.gateway.Complete(ctx, llmgateway.CompletionRequest{
		Messages: []llmgateway.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		slog.WarnContext(ctx, "assessor completion failed, defaulting to not-solved", "error", err)
		return AssessmentRecord{
			SatisfactionLevel: SatisfactionNone,
			ToolFailed:        toolFailed,
			ProblemSolved:     false,
			NeedMoreTools:     true,
			Reason:            "assessment unavailable: " + err.Error(),
		}
	}

	var parsed stepAssessmentJSON
	if !extractJSON(stripThinkBlock(resp.Content), &parsed) {
		// §4.6.1: parsing yields no need-more-tools field -> default to
		// not-solved, need more tools.
		return AssessmentRecord{
			SatisfactionLevel: SatisfactionNone,
			ToolFailed:        toolFailed,
			ProblemSolved:     false,
			NeedMoreTools:     true,
			Reason:            "could not parse assessor response",
		}
	}

	return AssessmentRecord{
		SatisfactionLevel:  mapSatisfaction(parsed.SatisfactionLevel),
		Confidence:         parsed.Confidence,
		Reason:             parsed.Reason,
		ProblemSolved:      parsed.ProblemSolved && !toolFailed,
		NeedMoreTools:      parsed.NeedMoreTools,
		ToolFailed:         toolFailed,
		NextToolSuggestion: parsed.NextToolSuggestion,
	}
}

func (a *Assessor) stepPrompt(query, toolName string, args map[string]any, resultText string, prior []ToolResult) string {
	argsJSON, _ := json.Marshal(args)

	var priorText strings.Builder
	for _, r := range prior {
		fmt.Fprintf(&priorText, "- %s: %s\n", r.ToolName, truncate(r.Result, 1000))
	}

	return fmt.Sprintf(`User query: %s

Tool invoked: %s
Arguments: %s
Result: %s

Prior results so far:
%s

Judge this tool result. Respond with ONLY a JSON object:
{"satisfaction_level": "全部|部分|不满足", "confidence": 0.0-1.0, "reason": "...", "problem_solved": true|false, "need_more_tools": true|false, "next_tool_suggestion": "tool name or empty"}`,
		query, toolName, string(argsJSON), truncate(resultText, 4000), priorText.String())
}

type finalAssessmentJSON struct {
	ProblemSolved  bool     `json:"problem_solved"`
	SolutionLevel  string   `json:"solution_level"`
	Confidence     float64  `json:"confidence"`
	Reason         string   `json:"reason"`
	NeedMoreTools  bool     `json:"need_more_tools"`
	GenerateFinal  bool     `json:"generate_final"`
	RemainingTasks []string `json:"remaining_tasks"`
}

// AssessFinalState judges an entire plan's results (§4.6.2), applying the
// async-task-marker override rule.
func (a *Assessor) AssessFinalState(ctx context.Context, query string, results []ToolResult) FinalStateRecord {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "engine.assessor"})

	var resultText strings.Builder
	for _, r := range results {
		fmt.Fprintf(&resultText, "- %s: %s\n", r.ToolName, truncate(r.Result, 1500))
	}

	prompt := fmt.Sprintf(`User query: %s

All executed tool results, in order:
%s

Judge whether the user's query is fully solved. Respond with ONLY a JSON object:
{"problem_solved": true|false, "solution_level": "已解决|部分解决|未解决", "confidence": 0.0-1.0, "reason": "...", "need_more_tools": true|false, "generate_final": true|false, "remaining_tasks": []}`,
		query, resultText.String())

	resp, err := a.gateway.Complete(ctx, llmgateway.CompletionRequest{
		Messages: []llmgateway.Message{{Role: "user", Content: prompt}},
	})

	var record FinalStateRecord
	if err != nil {
		slog.WarnContext(ctx, "final-state assessment completion failed", "error", err)
		record = FinalStateRecord{
			ProblemSolved: false,
			SolutionLevel: SolutionUnsolved,
			NeedMoreTools: true,
			GenerateFinal: true,
			Reason:        "assessment unavailable: " + err.Error(),
		}
	} else {
		var parsed finalAssessmentJSON
		if !extractJSON(stripThinkBlock(resp.Content), &parsed) {
			record = FinalStateRecord{
				ProblemSolved: false,
				SolutionLevel: SolutionUnsolved,
				NeedMoreTools: true,
				GenerateFinal: true,
				Reason:        "could not parse final-state assessor response",
			}
		} else {
			record = FinalStateRecord{
				ProblemSolved:  parsed.ProblemSolved,
				SolutionLevel:  mapSolutionLevel(parsed.SolutionLevel),
				Confidence:     parsed.Confidence,
				Reason:         parsed.Reason,
				NeedMoreTools:  parsed.NeedMoreTools,
				GenerateFinal:  parsed.GenerateFinal,
				RemainingTasks: parsed.RemainingTasks,
			}
		}
	}

	if !record.ProblemSolved && !record.NeedMoreTools && len(results) > 0 {
		last := results[len(results)-1]
		if containsAsyncTaskMarker(last.Result) {
			record.NeedMoreTools = true
			record.Reason = record.Reason + " (overridden: latest result carries an async-task-in-progress marker)"
		}
	}

	return record
}

func mapSatisfaction(s string) SatisfactionLevel {
	switch s {
	case string(SatisfactionFull), "full":
		return SatisfactionFull
	case string(SatisfactionPartial), "partial":
		return SatisfactionPartial
	default:
		return SatisfactionNone
	}
}

func mapSolutionLevel(s string) SolutionLevel {
	switch s {
	case string(SolutionSolved), "solved":
		return SolutionSolved
	case string(SolutionPartial), "partially_solved":
		return SolutionPartial
	default:
		return SolutionUnsolved
	}
}
