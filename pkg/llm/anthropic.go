package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicBackend implements the Anthropic messages convention.
type anthropicBackend struct {
	client anthropic.Client
}

func newAnthropicBackend(profile Profile) *anthropicBackend {
	opts := []option.RequestOption{option.WithAPIKey(profile.APIKey)}
	if profile.URL != "" {
		opts = append(opts, option.WithBaseURL(profile.URL))
	}
	return &anthropicBackend{client: anthropic.NewClient(opts...)}
}

func (b *anthropicBackend) Convention() Convention {
	return ConventionAnthropic
}

func (b *anthropicBackend) Call(ctx context.Context, req Request) (*Response, error) {
	params := b.buildParams(req)

	if req.OnDelta != nil {
		return b.callStreaming(ctx, params, req.OnDelta)
	}

	message, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}
	return b.normalize(message)
}

func (b *anthropicBackend) callStreaming(ctx context.Context, params anthropic.MessageNewParams, onDelta func(string)) (*Response, error) {
	stream := b.client.Messages.NewStreaming(ctx, params)

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("failed to accumulate stream event: %w", err)
		}
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
				onDelta(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return b.normalize(&message)
}

func (b *anthropicBackend) buildParams(req Request) anthropic.MessageNewParams {
	var msgs []anthropic.MessageParam
	for _, msg := range req.Transcript {
		switch {
		case msg.Role == "system":
			// System text travels in the dedicated field below.
		case msg.Role == "tool":
			msgs = append(msgs, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		case msg.Role == "assistant" && len(msg.ToolCalls) > 0:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			msgs = append(msgs, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		case msg.Role == "assistant":
			msgs = append(msgs, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(msg.Content),
				},
			})
		default:
			msgs = append(msgs, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  msgs,
		MaxTokens: int64(maxTokens),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(req.Tools) > 0 {
		var tools []anthropic.ToolUnionParam
		for _, t := range req.Tools {
			toolParam := anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.InputSchema["properties"],
				},
			}
			if required, ok := t.InputSchema["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}
	return params
}

func (b *anthropicBackend) normalize(message *anthropic.Message) (*Response, error) {
	resp := &Response{StopReason: string(message.StopReason)}
	for _, block := range message.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += v.Text
		case anthropic.ToolUseBlock:
			var args map[string]interface{}
			if err := json.Unmarshal([]byte(v.JSON.Input.Raw()), &args); err != nil {
				return nil, fmt.Errorf("failed to parse tool input: %w", err)
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        v.ID,
				Name:      v.Name,
				Arguments: args,
			})
		}
	}
	return resp, nil
}
