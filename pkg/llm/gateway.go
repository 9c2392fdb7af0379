package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/rs/zerolog"

	"github.com/forgehive/colony/internal/metrics"
)

const (
	// DefaultCallTimeout bounds one cloud gateway call.
	DefaultCallTimeout = 5 * time.Minute
	// DefaultCLITimeout bounds one CLI-backend invocation; subprocess
	// startup and local inference are slower than a cloud round trip.
	DefaultCLITimeout = 10 * time.Minute
)

// Gateway routes uniform requests to protocol backends. Because many
// self-hosted and proxy endpoints mislabel which convention they speak,
// the gateway remembers per base URL the convention that last succeeded
// and retries a response-shaped failure once on the other network
// convention before surfacing it.
type Gateway struct {
	profile    Profile
	logger     zerolog.Logger
	timeout    time.Duration
	cliTimeout time.Duration

	anthropic backend
	openai    backend
	cli       backend

	mu             sync.Mutex
	urlConventions map[string]Convention
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(logger zerolog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logger }
}

// WithCallTimeout overrides the cloud call timeout.
func WithCallTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.timeout = d }
}

// WithCLIBackend overrides the CLI backend command and its leading args.
func WithCLIBackend(command string, args []string) GatewayOption {
	return func(g *Gateway) { g.cli = newCLIBackend(command, args) }
}

// NewGateway creates a Gateway bound to one credential profile.
func NewGateway(profile Profile, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		profile:        profile,
		logger:         zerolog.Nop(),
		timeout:        DefaultCallTimeout,
		cliTimeout:     DefaultCLITimeout,
		anthropic:      newAnthropicBackend(profile),
		openai:         newOpenAIBackend(profile),
		cli:            newCLIBackend("", nil),
		urlConventions: make(map[string]Convention),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Call executes the request against the backend selected by the model id
// and the fallback cache, normalizing the response.
func (g *Gateway) Call(ctx context.Context, req Request) (*Response, error) {
	conv := ConventionForModel(req.Model)

	if conv == ConventionCLI {
		callCtx, cancel := context.WithTimeout(ctx, g.cliTimeout)
		defer cancel()
		return g.callBackend(callCtx, g.cli, req)
	}

	if cached, ok := g.cachedConvention(); ok {
		conv = cached
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.callBackend(callCtx, g.networkBackend(conv), req)
	if err == nil {
		g.rememberConvention(conv)
		return resp, nil
	}

	status, shaped := httpStatus(err)
	if !shaped || status == 401 || status == 403 {
		return nil, err
	}

	other := flipConvention(conv)
	g.logger.Warn().
		Str("url", g.profile.URL).
		Str("tried", string(conv)).
		Str("retrying", string(other)).
		Int("status", status).
		Msg("Gateway call failed, retrying with other protocol convention")

	resp, retryErr := g.callBackend(callCtx, g.networkBackend(other), req)
	if retryErr != nil {
		return nil, fmt.Errorf("both protocol conventions failed (%s then %s): %w", conv, other, retryErr)
	}
	g.rememberConvention(other)
	return resp, nil
}

func (g *Gateway) callBackend(ctx context.Context, b backend, req Request) (*Response, error) {
	start := time.Now()
	resp, err := b.Call(ctx, req)
	metrics.RecordGatewayCall(string(b.Convention()), time.Since(start), err == nil)
	return resp, err
}

func (g *Gateway) networkBackend(conv Convention) backend {
	g.mu.Lock()
	defer g.mu.Unlock()
	if conv == ConventionOpenAI {
		return g.openai
	}
	return g.anthropic
}

// SetProfile swaps the credential profile at runtime, rebuilding the
// network backends. The per-URL convention cache survives so an already
// learned endpoint keeps its convention.
func (g *Gateway) SetProfile(profile Profile) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.profile = profile
	g.anthropic = newAnthropicBackend(profile)
	g.openai = newOpenAIBackend(profile)
}

func flipConvention(conv Convention) Convention {
	if conv == ConventionAnthropic {
		return ConventionOpenAI
	}
	return ConventionAnthropic
}

func (g *Gateway) cachedConvention() (Convention, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	conv, ok := g.urlConventions[g.profile.URL]
	return conv, ok
}

func (g *Gateway) rememberConvention(conv Convention) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.urlConventions[g.profile.URL] = conv
}

// httpStatus extracts the HTTP status of a response-shaped SDK error. A
// pure transport error (timeout, refused connection) is not response
// shaped and must not trigger a protocol retry.
func httpStatus(err error) (int, bool) {
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode, true
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return openaiErr.StatusCode, true
	}
	return 0, false
}
