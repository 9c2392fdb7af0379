// Package runner drives one goroutine per agent: wait for a wake signal,
// drain unread messages group by group, hold a bounded tool-calling
// conversation with the model, and persist the resulting transcript. The
// registry in this package owns runner lifecycles for a workspace.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/forgehive/colony/internal/metrics"
	"github.com/forgehive/colony/pkg/events"
	"github.com/forgehive/colony/pkg/llm"
	"github.com/forgehive/colony/pkg/store"
	"github.com/forgehive/colony/pkg/tools"
)

const (
	// DefaultMaxRounds caps the model/tool back-and-forth per wake.
	DefaultMaxRounds = 5
	// DefaultTailWindow is how much prior group history seeds a transcript.
	DefaultTailWindow = 20
	// DefaultMaxTokens bounds one model response.
	DefaultMaxTokens = 4096
)

// Gateway is the slice of the LLM gateway the runner calls. Satisfied by
// *llm.Gateway in production and by stubs in tests.
type Gateway interface {
	Call(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Waker propagates wake signals to other agents when this one speaks.
// Satisfied by the Registry.
type Waker interface {
	Wake(agentID string)
}

// Runner owns the processing loop of a single agent.
type Runner struct {
	agentID string
	st      *store.Store
	gw      Gateway
	exec    *tools.Executor
	bus     *events.Bus
	waker   Waker
	logger  zerolog.Logger

	maxRounds  int
	tailWindow int
	maxTokens  int

	// wake is buffered with capacity 1 so that any number of signals
	// arriving while the agent is busy coalesce into one pending wake.
	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithMaxRounds overrides the per-wake round cap.
func WithMaxRounds(n int) Option {
	return func(r *Runner) { r.maxRounds = n }
}

// WithTailWindow overrides the seeded history window.
func WithTailWindow(n int) Option {
	return func(r *Runner) { r.tailWindow = n }
}

// WithWaker sets the wake propagation target.
func WithWaker(w Waker) Option {
	return func(r *Runner) { r.waker = w }
}

// New creates a runner for the agent. Start must be called to begin the
// loop.
func New(agentID string, st *store.Store, gw Gateway, exec *tools.Executor, bus *events.Bus, opts ...Option) *Runner {
	r := &Runner{
		agentID:    agentID,
		st:         st,
		gw:         gw,
		exec:       exec,
		bus:        bus,
		logger:     zerolog.Nop(),
		maxRounds:  DefaultMaxRounds,
		tailWindow: DefaultTailWindow,
		maxTokens:  DefaultMaxTokens,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the loop goroutine.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx)
}

// Wake signals the runner that new messages may be waiting. Non-blocking;
// signals arriving while one is already pending are coalesced.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Stop ends the loop. Cooperative: an in-flight cycle finishes first.
// Idempotent.
func (r *Runner) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.done
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	agent, ok := r.st.GetAgent(r.agentID)
	if !ok {
		r.logger.Error().Str("agent", r.agentID).Msg("Runner started for unknown agent")
		return
	}

	r.bus.Emit(events.AgentStarted{
		AgentID:     agent.ID,
		WorkspaceID: agent.WorkspaceID,
		Role:        agent.Role,
		At:          time.Now(),
	})
	defer r.bus.Emit(events.AgentStopped{
		AgentID:     agent.ID,
		WorkspaceID: agent.WorkspaceID,
		At:          time.Now(),
	})

	for {
		select {
		case <-r.stop:
			r.st.UpdateAgentStatus(r.agentID, store.AgentIdle)
			return
		case <-ctx.Done():
			r.st.UpdateAgentStatus(r.agentID, store.AgentIdle)
			return
		case <-r.wake:
			r.processWake(ctx)
		}
	}
}

// processWake drains every group the agent belongs to. A failure in one
// group flips the agent to error status but never stops the loop; the
// status recovers to idle on the next clean cycle.
func (r *Runner) processWake(ctx context.Context) {
	start := time.Now()
	status := "ok"
	defer func() {
		if rec := recover(); rec != nil {
			status = "panic"
			r.logger.Error().
				Str("agent", r.agentID).
				Interface("panic", rec).
				Msg("Recovered panic in agent cycle")
			r.st.UpdateAgentStatus(r.agentID, store.AgentError)
		}
		metrics.RecordAgentCycle(status, time.Since(start))
	}()

	r.st.UpdateAgentStatus(r.agentID, store.AgentBusy)

	failed := false
	for _, group := range r.st.ListGroupsByAgent(r.agentID) {
		if err := r.processGroup(ctx, group); err != nil {
			failed = true
			r.logger.Error().
				Str("agent", r.agentID).
				Str("group", group.ID).
				Err(err).
				Msg("Failed to process group")
		}
	}

	if failed {
		status = "error"
		r.st.UpdateAgentStatus(r.agentID, store.AgentError)
		return
	}
	r.st.UpdateAgentStatus(r.agentID, store.AgentIdle)
}

// processGroup drains one group's unread messages. The cursor is
// advanced before the gateway loop runs, so a batch whose gateway call
// fails is not retried on the next wake; recovery takes a fresh message
// to the agent.
func (r *Runner) processGroup(ctx context.Context, group *store.Group) error {
	cursor, _ := r.st.GetLastReadMessageID(r.agentID, group.ID)
	unread := r.st.GetUnreadMessages(group.ID, cursor)
	if len(unread) == 0 {
		return nil
	}

	// The cursor moves before the reply is appended, so the agent's own
	// speech never counts as unread for itself.
	last := unread[len(unread)-1]
	r.st.MarkAsRead(r.agentID, group.ID, last.ID)

	foreign := false
	for _, m := range unread {
		if m.SenderID != r.agentID {
			foreign = true
			break
		}
	}
	if !foreign {
		return nil
	}

	agent, ok := r.st.GetAgent(r.agentID)
	if !ok {
		return fmt.Errorf("agent %s disappeared", r.agentID)
	}

	transcript := r.buildTranscript(group, len(unread))
	history, err := r.converse(ctx, agent, group, transcript)
	r.st.ReplaceAgentHistory(r.agentID, toTurns(history))
	return err
}

// buildTranscript linearizes the group's recent history into role-tagged
// turns: the agent's own messages become assistant turns, everyone else's
// become user turns prefixed with the sender's role name.
func (r *Runner) buildTranscript(group *store.Group, unreadCount int) []llm.Message {
	n := r.tailWindow
	if unreadCount > n {
		n = unreadCount
	}

	roles := make(map[string]string)
	for _, memberID := range group.MemberIDs {
		if a, ok := r.st.GetAgent(memberID); ok {
			roles[memberID] = a.Role
		}
	}

	var transcript []llm.Message
	for _, m := range r.st.GetMessages(group.ID, n) {
		if m.SenderID == r.agentID {
			transcript = append(transcript, llm.Message{Role: "assistant", Content: m.Content})
			continue
		}
		sender := roles[m.SenderID]
		if sender == "" {
			sender = m.SenderID
		}
		transcript = append(transcript, llm.Message{
			Role:    "user",
			Content: fmt.Sprintf("%s: %s", sender, m.Content),
		})
	}

	if len(transcript) == 0 || transcript[len(transcript)-1].Role != "user" {
		transcript = append(transcript, llm.Message{
			Role:    "user",
			Content: "System: there is new activity in this conversation. Respond or act as appropriate.",
		})
	}
	return transcript
}

// converse drives the bounded model/tool loop and returns the accumulated
// transcript, including partial progress when the gateway fails mid-loop.
func (r *Runner) converse(ctx context.Context, agent *store.Agent, group *store.Group, transcript []llm.Message) ([]llm.Message, error) {
	history := transcript

	for round := 0; round < r.maxRounds; round++ {
		resp, err := r.gw.Call(ctx, llm.Request{
			Model:        agent.Model,
			SystemPrompt: agent.SystemPrompt,
			Transcript:   history,
			Tools:        r.exec.Schemas(),
			MaxTokens:    r.maxTokens,
		})
		if err != nil {
			return history, fmt.Errorf("gateway call failed: %w", err)
		}

		if resp.Content != "" {
			r.speak(group, resp.Content)
		}
		history = append(history, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			break
		}
		for _, tc := range resp.ToolCalls {
			result := r.exec.Execute(ctx, r.agentID, tc)
			payload, err := json.Marshal(result)
			if err != nil {
				payload = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
			}
			history = append(history, llm.Message{
				Role:       "tool",
				Content:    string(payload),
				ToolCallID: tc.ID,
			})
		}
	}
	return history, nil
}

// speak appends the agent's visible reply to the group and wakes the other
// members.
func (r *Runner) speak(group *store.Group, content string) {
	msg, ok := r.st.AppendMessage(group.ID, r.agentID, content, store.MessageText)
	if !ok {
		return
	}
	r.bus.Emit(events.MessageCreated{
		MessageID: msg.ID,
		GroupID:   group.ID,
		SenderID:  r.agentID,
		Content:   content,
		At:        time.Now(),
	})
	if r.waker != nil {
		for _, memberID := range group.MemberIDs {
			if memberID != r.agentID {
				r.waker.Wake(memberID)
			}
		}
	}
}

func toTurns(msgs []llm.Message) []store.Turn {
	turns := make([]store.Turn, 0, len(msgs))
	for _, m := range msgs {
		turn := store.Turn{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			turn.ToolCalls = append(turn.ToolCalls, store.ToolCall{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
			})
		}
		turns = append(turns, turn)
	}
	return turns
}
