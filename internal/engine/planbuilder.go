package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"toolmesh.dev/engine/common/logger"
	"toolmesh.dev/engine/internal/llmgateway"
)

// CatalogCache is the read-through cache of relevance-filter decisions
// (§10.4). A noopCache implementation must always report ok=false so the
// Plan Builder degrades to calling the LLM every time when no cache is
// configured.
type CatalogCache interface {
	Get(ctx context.Context, key string) (selected []string, ok bool)
	Set(ctx context.Context, key string, selected []string, ttl time.Duration)
}

// noopCache satisfies CatalogCache without external dependencies, used when
// no Redis URL is configured.
type noopCache struct{}

func (noopCache) Get(context.Context, string) ([]string, bool)  { return nil, false }
func (noopCache) Set(context.Context, string, []string, time.Duration) {}

// PlanBuilder synthesizes an ExecutionPlan DAG from a user query and a tool
// catalog (§4.2).
type PlanBuilder struct {
	gateway llmgateway.Gateway
	cache   CatalogCache
}

func NewPlanBuilder(gateway llmgateway.Gateway, cache CatalogCache) *PlanBuilder {
	if cache == nil {
		cache = noopCache{}
	}
	return &PlanBuilder{gateway: gateway, cache: cache}
}

// Build returns an ExecutionPlan. A plan with zero steps signals that
// synthesis failed or genuinely found nothing to do; the caller proceeds to
// the Final Answer Generator regardless.
func (b *PlanBuilder) Build(ctx context.Context, query string, history []llmgateway.Message, catalog []ToolDescriptor) *ExecutionPlan {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "engine.planbuilder"})

	plan := NewExecutionPlan(query)
	ctx = logger.WithLogFields(ctx, logger.LogFields{PlanID: logger.Ptr(plan.PlanID)})

	filtered := b.relevanceFilter(ctx, query, catalog)
	if len(filtered) == 0 {
		return plan
	}

	steps := b.synthesize(ctx, query, history, filtered)
	for _, step := range steps {
		plan.AddStep(step)
	}
	sanitizeDependsOn(plan)

	return plan
}

type catalogEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (b *PlanBuilder) relevanceFilter(ctx context.Context, query string, catalog []ToolDescriptor) []ToolDescriptor {
	if len(catalog) == 0 {
		return nil
	}

	key := b.cacheKey(query, catalog)
	if names, ok := b.cache.Get(ctx, key); ok {
		return filterByNames(catalog, names)
	}

	entries := make([]catalogEntry, len(catalog))
	for i, t := range catalog {
		entries[i] = catalogEntry{Name: t.Name, Description: t.Description}
	}
	entriesJSON, _ := json.Marshal(entries)

	prompt := fmt.Sprintf(`User query: %s

Available tools:
%s

Return a JSON array of the tool names relevant to answering this query. Respond with ONLY the JSON array, e.g. ["tool_a", "tool_b"].`, query, string(entriesJSON))

	resp, err := b.gateway.Complete(ctx, llmgateway.CompletionRequest{
		Messages: []llmgateway.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		slog.WarnContext(ctx, "relevance filter completion failed, using full catalog", "error", err)
		return catalog
	}

	var names []string
	if !extractJSON(stripThinkBlock(resp.Content), &names) || len(names) == 0 {
		return catalog
	}

	b.cache.Set(ctx, key, names, 10*time.Minute)
	return filterByNames(catalog, names)
}

func filterByNames(catalog []ToolDescriptor, names []string) []ToolDescriptor {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []ToolDescriptor
	for _, t := range catalog {
		if wanted[t.Name] {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return catalog
	}
	return out
}

func (b *PlanBuilder) cacheKey(query string, catalog []ToolDescriptor) string {
	h := sha256.New()
	h.Write([]byte(query))
	for _, t := range catalog {
		h.Write([]byte(t.Name))
	}
	return hex.EncodeToString(h.Sum(nil))
}

type planStepJSON struct {
	StepID              string         `json:"step_id"`
	ToolName            string         `json:"tool_name"`
	ToolArgs            map[string]any `json:"tool_args"`
	Description         string         `json:"description"`
	DependsOn           []string       `json:"depends_on"`
	ParallelGroup       string         `json:"parallel_group"`
	PollingRequired     bool           `json:"polling_required"`
	PollingInterval     int            `json:"polling_interval"`
	PollingConditionHint string        `json:"polling_condition"`
}

type planSynthesisJSON struct {
	Steps []planStepJSON `json:"steps"`
}

func (b *PlanBuilder) synthesize(ctx context.Context, query string, history []llmgateway.Message, tools []ToolDescriptor) []*ExecutionStep {
	toolsJSON, _ := json.Marshal(tools)

	var historyText strings.Builder
	for _, m := range history {
		fmt.Fprintf(&historyText, "%s: %s\n", m.Role, m.Content)
	}

	prompt := fmt.Sprintf(`User query: %s

Conversation history:
%s

Available tools (with parameter schemas):
%s

Build a directed execution plan to answer the query using these tools. Respond with ONLY a JSON object of this exact shape:
{"steps": [{"step_id": "s1", "tool_name": "...", "tool_args": {...}, "description": "...", "depends_on": [], "parallel_group": "", "polling_required": false, "polling_interval": 5, "polling_condition": ""}]}

You may use a bracketed placeholder like "[the city from step s1]" inside any tool_args string value to mean "fill this in later from a named prior result". Steps that can run concurrently should share the same non-empty parallel_group.`,
		query, historyText.String(), string(toolsJSON))

	resp, err := b.gateway.Complete(ctx, llmgateway.CompletionRequest{
		Messages: []llmgateway.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		slog.WarnContext(ctx, "plan synthesis completion failed, returning empty plan", "error", err)
		return nil
	}

	var parsed planSynthesisJSON
	if !extractJSON(stripThinkBlock(resp.Content), &parsed) {
		slog.WarnContext(ctx, "plan synthesis response could not be parsed, returning empty plan")
		return nil
	}

	steps := make([]*ExecutionStep, 0, len(parsed.Steps))
	for _, s := range parsed.Steps {
		if s.StepID == "" || s.ToolName == "" {
			continue
		}
		steps = append(steps, &ExecutionStep{
			StepID:               s.StepID,
			ToolName:             s.ToolName,
			ToolArgs:             s.ToolArgs,
			Description:          s.Description,
			DependsOn:            s.DependsOn,
			ParallelGroup:        s.ParallelGroup,
			PollingRequired:      s.PollingRequired,
			PollingIntervalSecs:  s.PollingInterval,
			PollingConditionHint: s.PollingConditionHint,
		})
	}
	return steps
}

// sanitizeDependsOn drops any depends_on id that does not refer to a
// declared step, then breaks any dependency cycle the LLM synthesized so the
// Plan Builder guarantees an acyclic depends_on graph before the plan ever
// reaches the Scheduler (§4.2 step 4; testable property 1).
func sanitizeDependsOn(plan *ExecutionPlan) {
	for _, step := range plan.Steps {
		var valid []string
		for _, dep := range step.DependsOn {
			if _, ok := plan.Steps[dep]; ok {
				valid = append(valid, dep)
			}
		}
		step.DependsOn = valid
	}

	breakCycles(plan)
}

// breakCycles runs a DFS over the depends_on graph, dropping the back-edge
// whenever following one would close a cycle back to a step still on the
// current path.
func breakCycles(plan *ExecutionPlan) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(plan.StepOrder))

	var visit func(stepID string)
	visit = func(stepID string) {
		if state[stepID] == done {
			return
		}
		state[stepID] = visiting

		step, ok := plan.Steps[stepID]
		if !ok {
			return
		}

		var kept []string
		for _, dep := range step.DependsOn {
			if state[dep] == visiting {
				// Back-edge to a step still on this DFS path: keeping it
				// would close a cycle, so it is dropped.
				continue
			}
			kept = append(kept, dep)
			visit(dep)
		}
		step.DependsOn = kept

		state[stepID] = done
	}

	for _, id := range plan.StepOrder {
		visit(id)
	}
}
