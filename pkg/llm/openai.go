package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openaiBackend implements the OpenAI chat-completions convention.
type openaiBackend struct {
	client openai.Client
}

func newOpenAIBackend(profile Profile) *openaiBackend {
	opts := []option.RequestOption{option.WithAPIKey(profile.APIKey)}
	if profile.URL != "" {
		opts = append(opts, option.WithBaseURL(profile.URL))
	}
	return &openaiBackend{client: openai.NewClient(opts...)}
}

func (b *openaiBackend) Convention() Convention {
	return ConventionOpenAI
}

func (b *openaiBackend) Call(ctx context.Context, req Request) (*Response, error) {
	params, err := b.buildParams(req)
	if err != nil {
		return nil, err
	}

	if req.OnDelta != nil {
		return b.callStreaming(ctx, params, req.OnDelta)
	}

	completion, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}
	return b.normalize(completion.Choices[0])
}

func (b *openaiBackend) callStreaming(ctx context.Context, params openai.ChatCompletionNewParams, onDelta func(string)) (*Response, error) {
	stream := b.client.Chat.Completions.NewStreaming(ctx, params)

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			onDelta(chunk.Choices[0].Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	if len(acc.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}
	return b.normalize(acc.Choices[0])
}

func (b *openaiBackend) buildParams(req Request) (openai.ChatCompletionNewParams, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}

	for _, msg := range req.Transcript {
		switch msg.Role {
		case "system":
			// Already carried above.
		case "user":
			msgs = append(msgs, openai.UserMessage(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				var toolCalls []openai.ChatCompletionMessageToolCall
				for _, tc := range msg.ToolCalls {
					args, err := json.Marshal(tc.Arguments)
					if err != nil {
						return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to marshal tool arguments: %w", err)
					}
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunction{
							Name:      tc.Name,
							Arguments: string(args),
						},
					})
				}
				assistantMsg := openai.ChatCompletionMessage{
					Role:      "assistant",
					Content:   msg.Content,
					ToolCalls: toolCalls,
				}
				msgs = append(msgs, assistantMsg.ToParam())
			} else {
				msgs = append(msgs, openai.AssistantMessage(msg.Content))
			}
		case "tool":
			msgs = append(msgs, openai.ToolMessage(msg.ToolCallID, msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		var tools []openai.ChatCompletionToolParam
		for _, t := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  openai.FunctionParameters(t.InputSchema),
				},
			})
		}
		params.Tools = tools
	}
	return params, nil
}

func (b *openaiBackend) normalize(choice openai.ChatCompletionChoice) (*Response, error) {
	resp := &Response{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return resp, nil
}
