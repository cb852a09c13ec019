package testtool

import (
	"context"
	"sync"

	"toolmesh.dev/engine/internal/llmgateway"
)

// ResponseFunc computes a fake completion for a given request, indexed by
// how many completions have been requested so far (0-based).
type ResponseFunc func(req llmgateway.CompletionRequest, callIndex int) (string, error)

// FakeGateway is a deterministic llmgateway.Gateway for tests: every
// Complete/Stream call is answered from an ordered queue of responses (or a
// ResponseFunc when queued responses are exhausted).
type FakeGateway struct {
	mu        sync.Mutex
	responses []string
	fn        ResponseFunc
	calls     int
}

func NewFakeGateway(responses ...string) *FakeGateway {
	return &FakeGateway{responses: responses}
}

// WithFunc installs a fallback response function used once the queued
// responses are exhausted.
func (g *FakeGateway) WithFunc(fn ResponseFunc) *FakeGateway {
	g.fn = fn
	return g
}

func (g *FakeGateway) Model() string { return "fake-model" }

func (g *FakeGateway) next(req llmgateway.CompletionRequest) (string, error) {
	g.mu.Lock()
	idx := g.calls
	g.calls++
	g.mu.Unlock()

	if idx < len(g.responses) {
		return g.responses[idx], nil
	}
	if g.fn != nil {
		return g.fn(req, idx)
	}
	return "", nil
}

func (g *FakeGateway) Complete(ctx context.Context, req llmgateway.CompletionRequest) (*llmgateway.CompletionResponse, error) {
	content, err := g.next(req)
	if err != nil {
		return nil, err
	}
	return &llmgateway.CompletionResponse{Content: content, FinishReason: "stop"}, nil
}

func (g *FakeGateway) Stream(ctx context.Context, req llmgateway.CompletionRequest) (<-chan llmgateway.StreamChunk, error) {
	content, err := g.next(req)
	if err != nil {
		return nil, err
	}

	out := make(chan llmgateway.StreamChunk, 2)
	out <- llmgateway.StreamChunk{Content: content}
	out <- llmgateway.StreamChunk{Done: true}
	close(out)
	return out, nil
}

// CallCount reports how many Complete/Stream calls have been served.
func (g *FakeGateway) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
