package engine

import (
	"context"
	"testing"

	"toolmesh.dev/engine/internal/testtool"
)

// TestPlaceholderResolverIdempotentWithoutTokens verifies testable property
// 5: if a step's args contain no "[...]" tokens, Resolve must return them
// unchanged without ever calling the LLM.
func TestPlaceholderResolverIdempotentWithoutTokens(t *testing.T) {
	t.Parallel()

	fakeGateway := testtool.NewFakeGateway("should never be used")
	resolver := NewPlaceholderResolver(fakeGateway)

	args := map[string]any{"city": "武汉", "count": 3}
	resolved, err := resolver.Resolve(context.Background(), "what's the weather", args, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resolved["city"] != "武汉" || resolved["count"] != 3 {
		t.Errorf("args mutated unexpectedly: %+v", resolved)
	}
	if fakeGateway.CallCount() != 0 {
		t.Errorf("expected no LLM call for placeholder-free args, got %d calls", fakeGateway.CallCount())
	}
}

func TestPlaceholderResolverMechanicalStepRef(t *testing.T) {
	t.Parallel()

	fakeGateway := testtool.NewFakeGateway("should never be used")
	resolver := NewPlaceholderResolver(fakeGateway)

	args := map[string]any{"message": "${s1}"}
	prior := []ToolResult{{StepID: "s1", ToolName: "get_weather", Result: "sunny, 24C", Success: true}}

	resolved, err := resolver.Resolve(context.Background(), "tell me the weather and notify", args, prior)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved["message"] != "sunny, 24C" {
		t.Errorf("expected mechanical substitution, got %v", resolved["message"])
	}
	if fakeGateway.CallCount() != 0 {
		t.Errorf("expected no LLM call for a purely mechanical ${...} reference, got %d calls", fakeGateway.CallCount())
	}
}

func TestPlaceholderResolverLLMGuidedToken(t *testing.T) {
	t.Parallel()

	fakeGateway := testtool.NewFakeGateway(`{"city": "武汉"}`)
	resolver := NewPlaceholderResolver(fakeGateway)

	args := map[string]any{"city": "[the city mentioned in step s1]"}
	prior := []ToolResult{{StepID: "s1", ToolName: "get_weather", Result: "武汉 is sunny", Success: true}}

	resolved, err := resolver.Resolve(context.Background(), "what's the weather there", args, prior)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved["city"] != "武汉" {
		t.Errorf("expected LLM-resolved city, got %v", resolved["city"])
	}
	if fakeGateway.CallCount() != 1 {
		t.Errorf("expected exactly one LLM call, got %d", fakeGateway.CallCount())
	}
}

// TestPlaceholderResolverFallsBackToOriginalArgsOnUnparseableReply verifies
// §4.3's "on any failure, return the original args unchanged" rule: a reply
// that extractJSON can't parse must not corrupt the step's args.
func TestPlaceholderResolverFallsBackToOriginalArgsOnUnparseableReply(t *testing.T) {
	t.Parallel()

	fakeGateway := testtool.NewFakeGateway("not json at all, sorry")
	resolver := NewPlaceholderResolver(fakeGateway)

	args := map[string]any{"city": "[the city mentioned in step s1]"}
	prior := []ToolResult{{StepID: "s1", ToolName: "get_weather", Result: "武汉 is sunny", Success: true}}

	resolved, err := resolver.Resolve(context.Background(), "what's the weather there", args, prior)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved["city"] != "[the city mentioned in step s1]" {
		t.Errorf("expected the unresolved placeholder to survive unchanged, got %v", resolved["city"])
	}
}
