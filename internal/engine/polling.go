package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"toolmesh.dev/engine/common/logger"
	"toolmesh.dev/engine/internal/llmgateway"
)

var completionKeywords = []string{
	"completed", "finished", "done", "success", "complete",
	"完成", "成功", "结束", "就绪", "100%",
}

var completionStatusValues = []string{
	"completed", "finished", "done", "success", "complete", "完成", "成功",
}

// PollingDriver repeatedly re-invokes an asynchronous tool until its result
// signals completion, via a heuristic check and (absent a condition hint) an
// LLM fallback judgement (§4.5).
type PollingDriver struct {
	invoker ToolInvoker
	gateway llmgateway.Gateway

	maxIterations int
}

func NewPollingDriver(invoker ToolInvoker, gateway llmgateway.Gateway, maxIterations int) *PollingDriver {
	return &PollingDriver{invoker: invoker, gateway: gateway, maxIterations: maxIterations}
}

// Poll drives step until the tool reports completion, the iteration cap is
// hit, or invocation fails outright.
func (d *PollingDriver) Poll(ctx context.Context, step *ExecutionStep) (success bool, result string, errText string) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		StepID:   logger.Ptr(step.StepID),
		ToolName: logger.Ptr(step.ToolName),
		Component: "engine.polling",
	})

	interval := time.Duration(step.PollingIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	var lastResult string
	for iter := 1; iter <= d.maxIterations; iter++ {
		step.PollingIteration = iter
		iterCtx := logger.WithLogFields(ctx, logger.LogFields{Iteration: logger.Ptr(iter)})

		res, err := d.invoker.Invoke(iterCtx, step.ToolName, step.ToolArgs)
		if err != nil {
			return false, "", fmt.Sprintf("执行出错: %s", err.Error())
		}
		lastResult = res

		complete, err := d.isComplete(iterCtx, step, res, iter)
		if err != nil {
			slog.WarnContext(iterCtx, "polling completion check failed, continuing to poll", "error", err)
		}
		if complete {
			return true, res, ""
		}

		if iter == d.maxIterations {
			break
		}

		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false, "", "工具执行超时(polling cancelled)"
		}
	}

	if lastResult != "" {
		return true, lastResult, ""
	}
	return false, "", "polling exhausted with no result"
}

func (d *PollingDriver) isComplete(ctx context.Context, step *ExecutionStep, resultText string, iteration int) (bool, error) {
	if heuristicComplete(resultText) {
		return true, nil
	}

	if step.PollingConditionHint != "" {
		return false, nil
	}

	// No explicit hint: fall back to an LLM judgement.
	prompt := fmt.Sprintf(`Step: %s
Tool: %s
Iteration: %d
Current result: %s

Has this asynchronous task finished? Respond with exactly one word: 已完成, 完成, done, or completed if finished; otherwise respond with exactly: 未完成`,
		step.StepID, step.ToolName, iteration, truncate(resultText, 2000))

	resp, err := d.gateway.Complete(ctx, llmgateway.CompletionRequest{
		Messages: []llmgateway.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return false, err
	}

	verdict := strings.ToLower(strings.TrimSpace(stripThinkBlock(resp.Content)))
	if strings.Contains(verdict, "未完成") {
		return false, nil
	}
	for _, marker := range []string{"已完成", "完成", "done", "completed"} {
		if strings.Contains(verdict, strings.ToLower(marker)) {
			return true, nil
		}
	}
	return false, nil
}

func heuristicComplete(resultText string) bool {
	for _, kw := range completionKeywords {
		if contains(resultText, kw) {
			return true
		}
	}

	var asJSON map[string]any
	if json.Unmarshal([]byte(strings.TrimSpace(resultText)), &asJSON) != nil {
		return false
	}

	for _, field := range []string{"status", "state"} {
		if v, ok := asJSON[field].(string); ok {
			for _, kw := range completionStatusValues {
				if strings.Contains(strings.ToLower(v), strings.ToLower(kw)) {
					return true
				}
			}
		}
	}

	if progress, ok := asJSON["progress"]; ok {
		switch p := progress.(type) {
		case string:
			if p == "100%" || p == "100" {
				return true
			}
		case float64:
			if p == 100 {
				return true
			}
		}
	}

	return false
}
