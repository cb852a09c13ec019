package engine

import (
	"context"
	"fmt"
	"strings"

	"toolmesh.dev/engine/common/logger"
	"toolmesh.dev/engine/internal/llmgateway"
)

const refusalText = "I can't help with that request."

// FinalAnswerGenerator streams the caller-facing natural-language answer
// from the query and the ordered tool results (§4.7).
type FinalAnswerGenerator struct {
	gateway llmgateway.Gateway
}

func NewFinalAnswerGenerator(gateway llmgateway.Gateway) *FinalAnswerGenerator {
	return &FinalAnswerGenerator{gateway: gateway}
}

// Stream produces final-answer text chunks on the returned channel, with any
// "<think>...</think>" block stripped before the caller ever sees it.
func (g *FinalAnswerGenerator) Stream(ctx context.Context, query string, history []llmgateway.Message, results []ToolResult, temperature float64) (<-chan llmgateway.StreamChunk, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "engine.finalanswer"})

	messages := make([]llmgateway.Message, 0, len(history)+2)
	messages = append(messages, llmgateway.Message{Role: "system", Content: g.systemPrompt()})
	messages = append(messages, history...)
	messages = append(messages, llmgateway.Message{Role: "user", Content: g.userPrompt(query, results)})

	temp := temperature
	raw, err := g.gateway.Stream(ctx, llmgateway.CompletionRequest{
		Messages:    messages,
		Temperature: &temp,
	})
	if err != nil {
		return nil, fmt.Errorf("final answer stream: %w", err)
	}

	out := make(chan llmgateway.StreamChunk, 64)
	go g.pipeThroughThinkStripper(ctx, raw, out)
	return out, nil
}

func (g *FinalAnswerGenerator) systemPrompt() string {
	return fmt.Sprintf(`You are producing the final answer to a user's query given the results of any tools that were run.

Rules:
- If the last successful tool result directly and completely answers the query, prefer to use its content nearly verbatim.
- Never fabricate information beyond what the tool results and conversation contain.
- If the request is unsafe to fulfill, respond with exactly: %q
- You may think step by step inside a single <think>...</think> block before your answer; only the text after </think> is shown to the user.`, refusalText)
}

func (g *FinalAnswerGenerator) userPrompt(query string, results []ToolResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User query: %s\n\nTool results:\n", query)
	for _, r := range results {
		status := "succeeded"
		if !r.Success {
			status = "failed"
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", r.ToolName, status, r.Result)
	}
	return b.String()
}

// pipeThroughThinkStripper buffers incoming chunks and suppresses anything
// between a leading "<think>" and its matching "</think>", since the
// boundary markers can themselves be split across chunk boundaries. This is
// a small buffering state machine rather than a one-shot regex because
// input arrives incrementally (§4.7).
func (g *FinalAnswerGenerator) pipeThroughThinkStripper(ctx context.Context, in <-chan llmgateway.StreamChunk, out chan<- llmgateway.StreamChunk) {
	defer close(out)

	const (
		stateBeforeThink = iota
		stateInsideThink
		stateAfterThink
	)
	state := stateBeforeThink
	var pending strings.Builder

	emit := func(s string) bool {
		if s == "" {
			return true
		}
		select {
		case out <- llmgateway.StreamChunk{Content: s}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for chunk := range in {
		if chunk.Err != nil {
			select {
			case out <- chunk:
			case <-ctx.Done():
			}
			return
		}
		if chunk.Done {
			if state != stateInsideThink && pending.Len() > 0 {
				if !emit(pending.String()) {
					return
				}
				pending.Reset()
			}
			select {
			case out <- llmgateway.StreamChunk{Done: true}:
			case <-ctx.Done():
			}
			return
		}

		pending.WriteString(chunk.Content)

		for {
			buf := pending.String()
			switch state {
			case stateBeforeThink:
				idx := strings.Index(buf, "<think>")
				if idx == -1 {
					// No open tag seen yet; hold back a small tail in case
					// "<think>" straddles the next chunk boundary.
					safe := holdBackTail(buf, len("<think>"))
					if !emit(buf[:safe]) {
						return
					}
					pending.Reset()
					pending.WriteString(buf[safe:])
					goto nextChunk
				}
				if !emit(buf[:idx]) {
					return
				}
				pending.Reset()
				pending.WriteString(buf[idx+len("<think>"):])
				state = stateInsideThink

			case stateInsideThink:
				idx := strings.Index(buf, "</think>")
				if idx == -1 {
					// Drop the thinking text but keep a small tail in case
					// "</think>" straddles the next chunk boundary.
					safe := holdBackTail(buf, len("</think>"))
					pending.Reset()
					pending.WriteString(buf[safe:])
					goto nextChunk
				}
				pending.Reset()
				pending.WriteString(buf[idx+len("</think>"):])
				state = stateAfterThink

			case stateAfterThink:
				if !emit(buf) {
					return
				}
				pending.Reset()
				goto nextChunk
			}
		}
	nextChunk:
	}

	if state != stateInsideThink && pending.Len() > 0 {
		emit(pending.String())
	}
}

func holdBackTail(s string, n int) int {
	if len(s) <= n {
		return 0
	}
	return len(s) - n + 1
}
