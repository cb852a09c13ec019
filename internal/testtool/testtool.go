// Package testtool provides in-memory fake tools for exercising the engine
// in tests, since real subprocess tool-server implementations are out of
// scope for this module.
package testtool

import (
	"context"
	"fmt"
	"sync"
)

// Handler computes a fake tool's result for one invocation.
type Handler func(args map[string]any, callCount int) (string, error)

// Registry is a ToolInvoker backed by in-memory handlers, keyed by tool
// name. It records every call for assertions in tests.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    map[string]int
	log      []Call
}

// Call records one observed invocation.
type Call struct {
	ToolName string
	Args     map[string]any
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		calls:    make(map[string]int),
	}
}

// Register installs a handler for toolName, replacing any existing one.
func (r *Registry) Register(toolName string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[toolName] = handler
}

// RegisterConstant installs a handler that always returns result, err on
// every invocation regardless of arguments.
func (r *Registry) RegisterConstant(toolName, result string, err error) {
	r.Register(toolName, func(map[string]any, int) (string, error) {
		return result, err
	})
}

// RegisterSequence installs a handler that returns successive results from
// the given list on each call, repeating the last one once exhausted. Used
// to simulate a polling tool that flips from "running" to "completed".
func (r *Registry) RegisterSequence(toolName string, results []string) {
	r.Register(toolName, func(_ map[string]any, callCount int) (string, error) {
		idx := callCount - 1
		if idx >= len(results) {
			idx = len(results) - 1
		}
		if idx < 0 {
			return "", fmt.Errorf("testtool: no results configured for %s", toolName)
		}
		return results[idx], nil
	})
}

func (r *Registry) Invoke(ctx context.Context, toolName string, args map[string]any) (string, error) {
	r.mu.Lock()
	handler, ok := r.handlers[toolName]
	r.calls[toolName]++
	callCount := r.calls[toolName]
	r.log = append(r.log, Call{ToolName: toolName, Args: args})
	r.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("testtool: no handler registered for %q", toolName)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	return handler(args, callCount)
}

// CallCount reports how many times toolName has been invoked.
func (r *Registry) CallCount(toolName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[toolName]
}

// Calls returns every invocation observed so far, in order.
func (r *Registry) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.log))
	copy(out, r.log)
	return out
}
