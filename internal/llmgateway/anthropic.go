package llmgateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicGateway struct {
	client anthropic.Client
	model  string
}

func newAnthropicGateway(cfg Config) (Gateway, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-5-20250514"
	}

	return &anthropicGateway{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

func (g *anthropicGateway) Model() string { return g.model }

func (g *anthropicGateway) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	params := g.buildParams(req)

	start := time.Now()
	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	slog.DebugContext(ctx, "anthropic completion finished",
		"model", g.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)

	out := &CompletionResponse{
		FinishReason:     g.mapStopReason(resp.StopReason),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	return out, nil
}

func (g *anthropicGateway) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	params := g.buildParams(req)
	stream := g.client.Messages.NewStreaming(ctx, params)

	out := make(chan StreamChunk, 64)
	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text := delta.Delta.Text
			if text == "" {
				continue
			}
			select {
			case out <- StreamChunk{Content: text}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case out <- StreamChunk{Err: fmt.Errorf("anthropic stream: %w", err)}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- StreamChunk{Done: true}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

func (g *anthropicGateway) buildParams(req CompletionRequest) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	systemContent, messages := g.convertMessages(req.Messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if len(systemContent) > 0 {
		params.System = systemContent
	}
	if tools := g.convertTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	return params
}

// convertMessages extracts system content and converts messages to Anthropic
// format (Anthropic requires system content outside the messages array).
func (g *anthropicGateway) convertMessages(msgs []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var systemContent []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(msgs))

	for _, msg := range msgs {
		switch msg.Role {
		case "system":
			systemContent = append(systemContent, anthropic.TextBlockParam{Type: "text", Text: msg.Content})

		case "user":
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
			})

		case "assistant":
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						Type:  "tool_use",
						ID:    tc.ID,
						Name:  tc.Name,
						Input: []byte(tc.Arguments),
					},
				})
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: content,
			})

		case "tool":
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)},
			})
		}
	}

	return systemContent, messages
}

func (g *anthropicGateway) convertTools(tools []Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	result := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: "object"}
		if t.Parameters != nil {
			schema.Properties = t.Parameters
		}
		result[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		}
	}
	return result
}

func (g *anthropicGateway) mapStopReason(reason anthropic.StopReason) string {
	switch reason {
	case anthropic.StopReasonEndTurn:
		return "stop"
	case anthropic.StopReasonToolUse:
		return "tool_calls"
	case anthropic.StopReasonMaxTokens:
		return "length"
	case anthropic.StopReasonStopSequence:
		return "stop"
	default:
		return string(reason)
	}
}
