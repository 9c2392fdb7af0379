// Package llm presents one call shape over multiple LLM backend protocols
// and hides each backend's request/response format. Model ids select a
// default convention; a per-URL fallback cache self-heals mislabeled
// endpoints.
package llm

import (
	"context"
	"strings"
)

// Convention identifies one wire protocol shape understood by the gateway.
type Convention string

const (
	// ConventionAnthropic is the Anthropic messages protocol (tool schema A).
	ConventionAnthropic Convention = "anthropic"
	// ConventionOpenAI is the OpenAI chat-completions protocol (tool schema B).
	ConventionOpenAI Convention = "openai"
	// ConventionCLI shells out to an installed non-interactive CLI. No
	// tool-calling support; only the last user turn is forwarded.
	ConventionCLI Convention = "cli"
)

// Message is one role-tagged turn of a transcript. Role is one of
// "user", "assistant", "system" or "tool".
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a structured action request emitted by a model response.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolSchema declares one callable tool to the model.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Request is the uniform gateway call shape.
type Request struct {
	Model        string
	SystemPrompt string
	Transcript   []Message
	Tools        []ToolSchema
	MaxTokens    int
	// OnDelta, when set, selects the streaming variant: it is invoked for
	// every text delta while the normalized aggregate is still returned.
	OnDelta func(delta string)
}

// Response is the normalized result of any backend call.
type Response struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason string
}

// Profile is the active credential set supplied by the profile provider.
// The gateway reads it and never mutates it.
type Profile struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

// backend is the small capability set each protocol variant implements.
type backend interface {
	Call(ctx context.Context, req Request) (*Response, error)
	Convention() Convention
}

// cliModelPrefixes route to the subprocess backend.
var cliModelPrefixes = []string{"cli:", "claude-cli"}

// openaiModelPrefixes route to convention B by default.
var openaiModelPrefixes = []string{
	"gpt", "o1", "o3", "o4",
	"deepseek", "qwen", "llama", "mistral", "mixtral", "gemini", "glm", "kimi",
}

// ConventionForModel returns the default protocol convention for a model
// id. Unrecognized ids default to the Anthropic convention.
func ConventionForModel(model string) Convention {
	m := strings.ToLower(model)
	for _, p := range cliModelPrefixes {
		if strings.HasPrefix(m, p) {
			return ConventionCLI
		}
	}
	for _, p := range openaiModelPrefixes {
		if strings.HasPrefix(m, p) {
			return ConventionOpenAI
		}
	}
	return ConventionAnthropic
}

// LastUserContent returns the content of the final user turn, used by the
// CLI backend, which cannot carry a full transcript.
func LastUserContent(transcript []Message) string {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == "user" {
			return transcript[i].Content
		}
	}
	return ""
}
