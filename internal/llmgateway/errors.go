package llmgateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// IsRetryable classifies an error returned by a Gateway call. Context
// cancellation and deadline errors are never retryable. Rate limiting and
// server errors from either provider are retryable; other client errors are
// not. Anything else (network errors with no API response) is treated as
// retryable.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.DebugContext(ctx, "llm error not retryable: context cancelled or deadline exceeded")
		return false
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return retryableStatus(ctx, openaiErr.StatusCode, openaiErr.Type)
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return retryableStatus(ctx, anthropicErr.StatusCode, "")
	}

	slog.WarnContext(ctx, "llm network error, will retry", "error", err)
	return true
}

func retryableStatus(ctx context.Context, statusCode int, errType string) bool {
	switch {
	case statusCode == 429:
		slog.WarnContext(ctx, "llm rate limited, will retry", "status_code", statusCode)
		return true
	case statusCode >= 500:
		slog.WarnContext(ctx, "llm server error, will retry", "status_code", statusCode)
		return true
	default:
		slog.ErrorContext(ctx, "llm client error, not retryable",
			"status_code", statusCode, "error_type", errType)
		return false
	}
}
