package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, enabling zero-touch logging where the current
// plan/step is automatically included in every log statement emitted beneath it.
type LogFields struct {
	QueryID   *string // Orchestrator.Run request id (snowflake-generated)
	PlanID    *string // Execution plan id
	StepID    *string // Execution step id currently being processed
	ToolName  *string // Tool name currently being invoked
	Iteration *int    // Scheduler iteration count
	Component string  // Component name (OTel semantic convention style, e.g., "engine.scheduler")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.QueryID != nil {
		result.QueryID = new.QueryID
	}
	if new.PlanID != nil {
		result.PlanID = new.PlanID
	}
	if new.StepID != nil {
		result.StepID = new.StepID
	}
	if new.ToolName != nil {
		result.ToolName = new.ToolName
	}
	if new.Iteration != nil {
		result.Iteration = new.Iteration
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{StepID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like queries or tool results.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
