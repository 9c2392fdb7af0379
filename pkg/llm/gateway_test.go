package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	conv  Convention
	calls int
	err   error
	resp  *Response
}

func (s *stubBackend) Call(ctx context.Context, req Request) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *stubBackend) Convention() Convention { return s.conv }

func newStubbedGateway(a, o backend) *Gateway {
	g := NewGateway(Profile{Name: "test", URL: "http://localhost:9999/v1"})
	g.anthropic = a
	g.openai = o
	return g
}

func TestConventionForModel(t *testing.T) {
	assert.Equal(t, ConventionOpenAI, ConventionForModel("gpt-4o"))
	assert.Equal(t, ConventionOpenAI, ConventionForModel("deepseek-chat"))
	assert.Equal(t, ConventionAnthropic, ConventionForModel("claude-sonnet-4-20250514"))
	assert.Equal(t, ConventionAnthropic, ConventionForModel("totally-unknown-model"))
	assert.Equal(t, ConventionCLI, ConventionForModel("cli:claude"))
}

func TestGatewayFallbackOnShapedError(t *testing.T) {
	anthropicStub := &stubBackend{
		conv: ConventionAnthropic,
		err:  &anthropic.Error{StatusCode: 404},
	}
	openaiStub := &stubBackend{
		conv: ConventionOpenAI,
		resp: &Response{Content: "hello"},
	}
	g := newStubbedGateway(anthropicStub, openaiStub)

	req := Request{Model: "claude-sonnet-4-20250514", Transcript: []Message{{Role: "user", Content: "hi"}}}

	resp, err := g.Call(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 1, anthropicStub.calls)
	assert.Equal(t, 1, openaiStub.calls)

	// The winning convention is cached per URL: the second call goes
	// straight to the alternate backend.
	_, err = g.Call(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, anthropicStub.calls)
	assert.Equal(t, 2, openaiStub.calls)
}

func TestGatewayNoRetryOnCredentialRejection(t *testing.T) {
	anthropicStub := &stubBackend{
		conv: ConventionAnthropic,
		err:  &anthropic.Error{StatusCode: 401},
	}
	openaiStub := &stubBackend{conv: ConventionOpenAI, resp: &Response{}}
	g := newStubbedGateway(anthropicStub, openaiStub)

	_, err := g.Call(context.Background(), Request{Model: "claude-sonnet-4-20250514"})
	require.Error(t, err)
	assert.Equal(t, 0, openaiStub.calls)
}

func TestGatewayNoRetryOnTransportError(t *testing.T) {
	anthropicStub := &stubBackend{
		conv: ConventionAnthropic,
		err:  errors.New("dial tcp: connection refused"),
	}
	openaiStub := &stubBackend{conv: ConventionOpenAI, resp: &Response{}}
	g := newStubbedGateway(anthropicStub, openaiStub)

	_, err := g.Call(context.Background(), Request{Model: "claude-sonnet-4-20250514"})
	require.Error(t, err)
	assert.Equal(t, 0, openaiStub.calls)
}

func TestGatewaySuccessCachesConvention(t *testing.T) {
	anthropicStub := &stubBackend{conv: ConventionAnthropic, resp: &Response{Content: "ok"}}
	openaiStub := &stubBackend{conv: ConventionOpenAI, resp: &Response{}}
	g := newStubbedGateway(anthropicStub, openaiStub)

	_, err := g.Call(context.Background(), Request{Model: "claude-sonnet-4-20250514"})
	require.NoError(t, err)

	conv, ok := g.cachedConvention()
	require.True(t, ok)
	assert.Equal(t, ConventionAnthropic, conv)
}

func TestLastUserContent(t *testing.T) {
	transcript := []Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
		{Role: "tool", Content: "{}"},
	}
	assert.Equal(t, "second", LastUserContent(transcript))
	assert.Equal(t, "", LastUserContent(nil))
}
