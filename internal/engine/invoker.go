package engine

import "context"

// ToolInvoker is the external collaborator that actually executes a tool
// call against its subprocess tool server. Implementations raise on timeout
// or transport error; they never interpret the result text themselves.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolName string, args map[string]any) (string, error)
}
