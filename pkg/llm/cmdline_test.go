package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLIBackendForwardsLastUserTurn(t *testing.T) {
	b := newCLIBackend("echo", []string{})

	var streamed string
	resp, err := b.Call(context.Background(), Request{
		SystemPrompt: "You are terse.",
		Transcript: []Message{
			{Role: "user", Content: "first"},
			{Role: "assistant", Content: "ignored"},
			{Role: "user", Content: "say hi"},
		},
		// Tool schemas are ignored by this backend.
		Tools:   []ToolSchema{{Name: "self"}},
		OnDelta: func(delta string) { streamed += delta },
	})
	require.NoError(t, err)

	assert.Contains(t, resp.Content, "say hi")
	assert.Contains(t, resp.Content, "You are terse.")
	assert.Equal(t, resp.Content, streamed)
	assert.Equal(t, "end_turn", resp.StopReason)
}

func TestCLIBackendRequiresUserTurn(t *testing.T) {
	b := newCLIBackend("echo", []string{})

	_, err := b.Call(context.Background(), Request{Transcript: []Message{{Role: "assistant", Content: "x"}}})
	assert.Error(t, err)
}

func TestCLIBackendReportsCommandFailure(t *testing.T) {
	b := newCLIBackend("false", []string{})

	_, err := b.Call(context.Background(), Request{Transcript: []Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cli backend failed")
}
