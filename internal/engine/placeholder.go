package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"toolmesh.dev/engine/common/logger"
	"toolmesh.dev/engine/internal/llmgateway"
)

// tokenPattern matches an LLM-guided placeholder, e.g. "[previous city]".
var tokenPattern = regexp.MustCompile(`\[([^\[\]]+)\]`)

// stepRefPattern matches a mechanical reference to a prior step's result,
// e.g. "${step_1}".
var stepRefPattern = regexp.MustCompile(`\$\{([a-zA-Z0-9_-]+)\}`)

// PlaceholderResolver fills in "[token]" and "${step_id}" placeholders in a
// step's tool arguments using the results of previously executed steps (§4.3).
type PlaceholderResolver struct {
	gateway llmgateway.Gateway
}

func NewPlaceholderResolver(gateway llmgateway.Gateway) *PlaceholderResolver {
	return &PlaceholderResolver{gateway: gateway}
}

// Resolve returns a copy of args with every placeholder substituted. If args
// contains no placeholders at all, it is returned unchanged without touching
// the LLM.
func (r *PlaceholderResolver) Resolve(ctx context.Context, query string, args map[string]any, results []ToolResult) (map[string]any, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "engine.placeholder"})

	resolved := make(map[string]any, len(args))
	for key, value := range args {
		resolved[key] = r.resolveMechanical(value, results)
	}

	if !r.hasPlaceholders(resolved) {
		return resolved, nil
	}

	llmResolved, err := r.resolveTokens(ctx, query, resolved, results)
	if err != nil {
		// §4.3: on any failure, return the original args unchanged. The
		// step will likely fail downstream; that is acceptable.
		return args, nil
	}
	return llmResolved, nil
}

// resolveMechanical substitutes "${step_id}" references from the step
// results map without an LLM call (§4.3's purely mechanical form).
func (r *PlaceholderResolver) resolveMechanical(value any, results []ToolResult) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	return stepRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		id := stepRefPattern.FindStringSubmatch(match)[1]
		for _, res := range results {
			if res.StepID == id {
				return res.Result
			}
		}
		return match
	})
}

func (r *PlaceholderResolver) hasPlaceholders(args map[string]any) bool {
	for _, v := range args {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if tokenPattern.MatchString(s) || stepRefPattern.MatchString(s) {
			return true
		}
	}
	return false
}

// resolveTokens asks the LLM to fill in every "[token]" occurrence across all
// of args in a single completion, given the user query and prior step
// results, and parses the reply through the same robust extraction path used
// by the Plan Builder (§4.2 step 3, §4.3).
func (r *PlaceholderResolver) resolveTokens(ctx context.Context, query string, args map[string]any, results []ToolResult) (map[string]any, error) {
	var priorResults strings.Builder
	for _, res := range results {
		if !res.Success {
			continue
		}
		fmt.Fprintf(&priorResults, "- step %s (%s): %s\n", res.StepID, res.ToolName, truncate(res.Result, 2000))
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal args for placeholder resolution: %w", err)
	}

	prompt := fmt.Sprintf(`User query: %s

Successful prior step results:
%s

Current step arguments, with placeholders written as [description]:
%s

Replace every [placeholder] with the concrete value it describes, drawn from the prior step results above. Respond with ONLY a single JSON object using the exact same keys as the argument object above, with placeholders replaced by their resolved values.`, query, priorResults.String(), string(argsJSON))

	resp, err := r.gateway.Complete(ctx, llmgateway.CompletionRequest{
		Messages: []llmgateway.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("placeholder resolution completion: %w", err)
	}

	var resolved map[string]any
	if !extractJSON(stripThinkBlock(resp.Content), &resolved) {
		return nil, fmt.Errorf("could not extract JSON from placeholder resolution response")
	}

	merged := make(map[string]any, len(args))
	for key, value := range args {
		if v, ok := resolved[key]; ok {
			merged[key] = v
		} else {
			merged[key] = value
		}
	}
	return merged, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
