package engine

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"toolmesh.dev/engine/common/id"
	"toolmesh.dev/engine/common/logger"
	"toolmesh.dev/engine/internal/llmgateway"
)

const eventChannelCapacity = 256

// PlanStore persists and reloads plan snapshots (§6, §10.5). Declared in
// this package, not internal/planstore, so that the concrete store
// implementations can depend on *ExecutionPlan without an import cycle.
type PlanStore interface {
	Load(ctx context.Context, id string) (*ExecutionPlan, bool, error)
	Save(ctx context.Context, id string, plan *ExecutionPlan) error
}

// Orchestrator is the top-level, single-shot entry point for one query
// (§4.1). A value is constructed once at startup and is safe for concurrent
// Run calls; it owns no per-query mutable state.
type Orchestrator struct {
	gateway      llmgateway.Gateway
	planBuilder  *PlanBuilder
	scheduler    *Scheduler
	finalAnswer  *FinalAnswerGenerator
	store        PlanStore
	catalog      func() []ToolDescriptor
}

// NewOrchestrator wires the full planner + executor subsystem together.
// catalog is called fresh on each Run so catalog changes are picked up
// without restarting the process.
func NewOrchestrator(gateway llmgateway.Gateway, planBuilder *PlanBuilder, scheduler *Scheduler, finalAnswer *FinalAnswerGenerator, store PlanStore, catalog func() []ToolDescriptor) *Orchestrator {
	return &Orchestrator{
		gateway:     gateway,
		planBuilder: planBuilder,
		scheduler:   scheduler,
		finalAnswer: finalAnswer,
		store:       store,
		catalog:     catalog,
	}
}

// RunRequest is the input to one Run call.
type RunRequest struct {
	Query        string
	SystemPrompt string
	Temperature  float64
	History      []llmgateway.Message
	SessionID    string
}

// Run streams progress and final-answer Events for one query. The returned
// channel is closed when the query is fully handled; callers should drain it
// until closed or ctx is done.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (<-chan Event, error) {
	out := make(chan Event, eventChannelCapacity)

	go func() {
		defer close(out)
		o.run(ctx, req, out)
	}()

	return out, nil
}

func (o *Orchestrator) emit(ctx context.Context, out chan<- Event, ev Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	default:
		// Channel momentarily full: drop rather than block the scheduler's
		// concurrent execution, per the non-blocking emit contract.
		slog.WarnContext(ctx, "event channel full, dropping progress event")
	}
}

func (o *Orchestrator) run(ctx context.Context, req RunRequest, out chan<- Event) {
	queryID := strconv.FormatInt(id.New(), 10)
	ctx = logger.WithLogFields(ctx, logger.LogFields{QueryID: logger.Ptr(queryID), Component: "engine.orchestrator"})

	if !isToolCallingAssistant(req.SystemPrompt) {
		o.streamPlainCompletion(ctx, req, out, req.SystemPrompt)
		return
	}

	needsTools := o.classifyNeedForTools(ctx, req.Query)
	if !needsTools {
		o.streamPlainCompletion(ctx, req, out, req.SystemPrompt+"\n\n"+o.catalogSummary())
		return
	}

	plan := o.loadOrBuildPlan(ctx, req)

	o.scheduler.Run(ctx, req.Query, plan, func(ev Event) {
		o.emit(ctx, out, ev)
	})

	if o.store != nil {
		snapshotKey := req.SessionID
		if snapshotKey == "" {
			snapshotKey = queryID
		}
		if err := o.store.Save(ctx, snapshotKey, plan); err != nil {
			slog.WarnContext(ctx, "failed to save plan snapshot", "error", err)
		}
	}

	results := plan.GetExecutionResults()
	stream, err := o.finalAnswer.Stream(ctx, req.Query, req.History, results, req.Temperature)
	if err != nil {
		msg := err.Error()
		o.emit(ctx, out, Event{Kind: EventError, Error: &msg})
		return
	}

	var final string
	for chunk := range stream {
		if chunk.Err != nil {
			msg := chunk.Err.Error()
			o.emit(ctx, out, Event{Kind: EventError, Error: &msg})
			return
		}
		if chunk.Done {
			break
		}
		final += chunk.Content
		content := chunk.Content
		o.emit(ctx, out, Event{Kind: EventFinalChunk, FinalSummary: &content})
	}
}

func (o *Orchestrator) loadOrBuildPlan(ctx context.Context, req RunRequest) *ExecutionPlan {
	if o.store != nil && req.SessionID != "" {
		if existing, ok, err := o.store.Load(ctx, req.SessionID); err != nil {
			slog.WarnContext(ctx, "failed to load plan snapshot, building fresh", "error", err)
		} else if ok {
			return existing
		}
	}

	catalog := o.catalog()
	plan := o.planBuilder.Build(ctx, req.Query, req.History, catalog)

	if o.store != nil && req.SessionID != "" {
		if err := o.store.Save(ctx, req.SessionID, plan); err != nil {
			slog.WarnContext(ctx, "failed to save freshly built plan", "error", err)
		}
	}

	return plan
}

func isToolCallingAssistant(systemPrompt string) bool {
	return contains(systemPrompt, "tool-calling assistant") || contains(systemPrompt, "工具调用")
}

// classifyNeedForTools asks the LLM a fixed yes/no question. Any form of
// "需要" in the stripped response signals tools are needed (§4.1 step 2).
func (o *Orchestrator) classifyNeedForTools(ctx context.Context, query string) bool {
	resp, err := o.gateway.Complete(ctx, llmgateway.CompletionRequest{
		Messages: []llmgateway.Message{
			{Role: "system", Content: "You decide whether answering the user's message requires invoking an external tool. Respond with exactly one word: 需要 if a tool is required, otherwise None."},
			{Role: "user", Content: query},
		},
	})
	if err != nil {
		slog.WarnContext(ctx, "need-for-tools classification failed, defaulting to no tools", "error", err)
		return false
	}

	stripped := stripThinkBlock(resp.Content)
	return strings.Contains(stripped, "需要")
}

func (o *Orchestrator) streamPlainCompletion(ctx context.Context, req RunRequest, out chan<- Event, systemPrompt string) {
	messages := make([]llmgateway.Message, 0, len(req.History)+2)
	if systemPrompt != "" {
		messages = append(messages, llmgateway.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, req.History...)
	messages = append(messages, llmgateway.Message{Role: "user", Content: req.Query})

	temp := req.Temperature
	stream, err := o.gateway.Stream(ctx, llmgateway.CompletionRequest{Messages: messages, Temperature: &temp})
	if err != nil {
		msg := err.Error()
		o.emit(ctx, out, Event{Kind: EventError, Error: &msg})
		return
	}

	for chunk := range stream {
		if chunk.Err != nil {
			msg := chunk.Err.Error()
			o.emit(ctx, out, Event{Kind: EventError, Error: &msg})
			return
		}
		if chunk.Done {
			return
		}
		content := chunk.Content
		o.emit(ctx, out, Event{Kind: EventFinalChunk, FinalSummary: &content})
	}
}

func (o *Orchestrator) catalogSummary() string {
	catalog := o.catalog()
	if len(catalog) == 0 {
		return "No tools are currently available."
	}
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, t := range catalog {
		b.WriteString("- " + t.Name + ": " + t.Description + "\n")
	}
	return b.String()
}
