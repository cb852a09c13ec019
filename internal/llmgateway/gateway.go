// Package llmgateway provides a provider-agnostic chat completion client used
// by every component of the orchestration engine that needs to talk to an LLM:
// the need-for-tools classifier, the Plan Builder, the Placeholder Resolver,
// the Assessor, and the Final Answer Generator.
package llmgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/invopop/jsonschema"
)

// Config selects and configures a concrete Gateway implementation.
type Config struct {
	Provider string // "openai" | "anthropic"
	APIKey   string
	BaseURL  string
	Model    string
}

// Message represents one turn of a chat conversation.
type Message struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Tool describes a function the LLM may call.
type Tool struct {
	Name        string
	Description string
	Parameters  any // JSON Schema
}

// ToolCall is a tool invocation requested by the LLM.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded
}

// CompletionRequest is shared by both blocking and streaming completions.
type CompletionRequest struct {
	Messages     []Message
	Tools        []Tool
	MaxTokens    int
	Temperature  *float64
	ResponseJSON *JSONSchemaFormat // if set, request structured-output JSON mode
}

// JSONSchemaFormat requests a schema-constrained JSON response. The OpenAI
// gateway honors it; the Anthropic gateway ignores it. No engine component
// sets it: the Plan Builder and Assessor parse free text through the robust
// JSON extractor.
type JSONSchemaFormat struct {
	Name   string
	Schema any
}

// CompletionResponse is the result of a blocking Complete call.
type CompletionResponse struct {
	Content          string
	ToolCalls        []ToolCall
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// StreamChunk is one delta from a streaming completion.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// Gateway is the LLM Gateway external interface required by §6 of the spec,
// extended with a streaming method used by the Orchestrator and the Final
// Answer Generator.
type Gateway interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
	Model() string
}

// New constructs a Gateway from Config, selecting the OpenAI or Anthropic
// backend.
func New(cfg Config) (Gateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llmgateway: API key is required")
	}

	switch cfg.Provider {
	case "anthropic":
		return newAnthropicGateway(cfg)
	case "openai", "":
		return newOpenAIGateway(cfg)
	default:
		return nil, fmt.Errorf("llmgateway: unknown provider %q", cfg.Provider)
	}
}

var nameInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeName converts a username to a valid OpenAI "name" field value: it
// must match ^[a-zA-Z0-9_-]{1,64}$. Invalid characters become underscores and
// the result is truncated to 64 characters.
func SanitizeName(username string) string {
	sanitized := nameInvalidChars.ReplaceAllString(username, "_")
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	return sanitized
}

// ParseToolArguments unmarshals a tool call's JSON-encoded arguments into T.
func ParseToolArguments[T any](arguments string) (T, error) {
	var result T
	if err := json.Unmarshal([]byte(arguments), &result); err != nil {
		return result, fmt.Errorf("parse tool arguments: %w", err)
	}
	return result, nil
}

// GenerateSchema produces a JSON Schema for T, suitable for use as
// CompletionRequest.ResponseJSON.Schema or Tool.Parameters.
func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}
