package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgehive/colony/pkg/events"
	"github.com/forgehive/colony/pkg/llm"
	"github.com/forgehive/colony/pkg/store"
	"github.com/forgehive/colony/pkg/tools"
)

// stubGateway returns canned responses keyed by nothing in particular:
// the reply function decides per request.
type stubGateway struct {
	mu    sync.Mutex
	calls int
	reply func(req llm.Request) (*llm.Response, error)
}

func (s *stubGateway) Call(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.reply(req)
}

func (s *stubGateway) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixture struct {
	st  *store.Store
	gw  *stubGateway
	reg *Registry
	ws  *store.Workspace
}

func newFixture(t *testing.T, reply func(req llm.Request) (*llm.Response, error)) *fixture {
	t.Helper()

	backend, err := store.NewSnapshotBackend(filepath.Join(t.TempDir(), "colony.json.db"))
	require.NoError(t, err)
	st, err := store.Open(backend, store.WithFlushDelay(time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	bus := events.NewBus()
	exec, err := tools.New(st, bus)
	require.NoError(t, err)

	gw := &stubGateway{reply: reply}
	reg := NewRegistry(st, gw, exec, bus)
	exec.SetOrchestrator(reg)
	t.Cleanup(reg.StopAll)

	ws := st.CreateWorkspace("Acme", "build a widget", "")
	return &fixture{st: st, gw: gw, reg: reg, ws: ws}
}

func waitForIdle(t *testing.T, st *store.Store, agentID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		a, ok := st.GetAgent(agentID)
		return ok && a.Status == store.AgentIdle
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRunnerRepliesToHumanMessage(t *testing.T) {
	f := newFixture(t, func(req llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "On it.", StopReason: "end_turn"}, nil
	})

	human := f.st.CreateAgent(store.AgentParams{WorkspaceID: f.ws.ID, Role: "Human"})
	ceo := f.st.CreateAgent(store.AgentParams{WorkspaceID: f.ws.ID, Role: "CEO", Model: "claude-sonnet-4-20250514"})
	group := f.st.GetOrCreateP2P(f.ws.ID, human.ID, ceo.ID)

	require.NoError(t, f.reg.StartAgent(ceo.ID))

	msg, ok := f.st.AppendMessage(group.ID, human.ID, "please start", store.MessageText)
	require.True(t, ok)
	f.reg.Wake(ceo.ID)

	require.Eventually(t, func() bool {
		return len(f.st.GetMessages(group.ID, 0)) == 2
	}, 2*time.Second, 5*time.Millisecond)
	waitForIdle(t, f.st, ceo.ID)

	msgs := f.st.GetMessages(group.ID, 0)
	assert.Equal(t, "On it.", msgs[1].Content)
	assert.Equal(t, ceo.ID, msgs[1].SenderID)

	// The cursor sits on the human's message, not the reply: the agent's
	// own speech never becomes unread work for itself.
	cursor, ok := f.st.GetLastReadMessageID(ceo.ID, group.ID)
	require.True(t, ok)
	assert.Equal(t, msg.ID, cursor)

	// History was replaced with this invocation's trace.
	got, _ := f.st.GetAgent(ceo.ID)
	require.NotEmpty(t, got.History)
	assert.Equal(t, "assistant", got.History[len(got.History)-1].Role)
}

func TestRunnerDrainsTwoAgents(t *testing.T) {
	f := newFixture(t, func(req llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "ack: " + llm.LastUserContent(req.Transcript)}, nil
	})

	human := f.st.CreateAgent(store.AgentParams{WorkspaceID: f.ws.ID, Role: "Human"})
	a := f.st.CreateAgent(store.AgentParams{WorkspaceID: f.ws.ID, Role: "Alpha", Model: "claude-sonnet-4-20250514"})
	b := f.st.CreateAgent(store.AgentParams{WorkspaceID: f.ws.ID, Role: "Beta", Model: "claude-sonnet-4-20250514"})

	ga := f.st.GetOrCreateP2P(f.ws.ID, human.ID, a.ID)
	gb := f.st.GetOrCreateP2P(f.ws.ID, human.ID, b.ID)

	require.NoError(t, f.reg.StartAgent(a.ID))
	require.NoError(t, f.reg.StartAgent(b.ID))

	ma, ok := f.st.AppendMessage(ga.ID, human.ID, "task for alpha", store.MessageText)
	require.True(t, ok)
	mb, ok := f.st.AppendMessage(gb.ID, human.ID, "task for beta", store.MessageText)
	require.True(t, ok)
	f.reg.Wake(a.ID)
	f.reg.Wake(b.ID)

	require.Eventually(t, func() bool {
		return len(f.st.GetMessages(ga.ID, 0)) == 2 && len(f.st.GetMessages(gb.ID, 0)) == 2
	}, 2*time.Second, 5*time.Millisecond)
	waitForIdle(t, f.st, a.ID)
	waitForIdle(t, f.st, b.ID)

	assert.Contains(t, f.st.GetMessages(ga.ID, 0)[1].Content, "task for alpha")
	assert.Contains(t, f.st.GetMessages(gb.ID, 0)[1].Content, "task for beta")

	ca, _ := f.st.GetLastReadMessageID(a.ID, ga.ID)
	cb, _ := f.st.GetLastReadMessageID(b.ID, gb.ID)
	assert.Equal(t, ma.ID, ca)
	assert.Equal(t, mb.ID, cb)
}

func TestRunnerRoundCap(t *testing.T) {
	// A model that always asks for another tool call would loop forever
	// without the cap.
	f := newFixture(t, func(req llm.Request) (*llm.Response, error) {
		return &llm.Response{
			ToolCalls: []llm.ToolCall{{ID: "tc", Name: "self", Arguments: map[string]interface{}{}}},
		}, nil
	})

	human := f.st.CreateAgent(store.AgentParams{WorkspaceID: f.ws.ID, Role: "Human"})
	agent := f.st.CreateAgent(store.AgentParams{WorkspaceID: f.ws.ID, Role: "Looper", Model: "claude-sonnet-4-20250514"})
	group := f.st.GetOrCreateP2P(f.ws.ID, human.ID, agent.ID)

	require.NoError(t, f.reg.StartAgent(agent.ID))
	_, ok := f.st.AppendMessage(group.ID, human.ID, "go", store.MessageText)
	require.True(t, ok)
	f.reg.Wake(agent.ID)

	require.Eventually(t, func() bool {
		return f.gw.callCount() == DefaultMaxRounds
	}, 2*time.Second, 5*time.Millisecond)
	waitForIdle(t, f.st, agent.ID)

	// The cap held: no further calls after the loop ended.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, DefaultMaxRounds, f.gw.callCount())
}

func TestRunnerGatewayErrorKeepsServing(t *testing.T) {
	var mu sync.Mutex
	fail := true
	f := newFixture(t, func(req llm.Request) (*llm.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, fmt.Errorf("backend unavailable")
		}
		return &llm.Response{Content: "recovered"}, nil
	})

	human := f.st.CreateAgent(store.AgentParams{WorkspaceID: f.ws.ID, Role: "Human"})
	agent := f.st.CreateAgent(store.AgentParams{WorkspaceID: f.ws.ID, Role: "Worker", Model: "claude-sonnet-4-20250514"})
	group := f.st.GetOrCreateP2P(f.ws.ID, human.ID, agent.ID)

	require.NoError(t, f.reg.StartAgent(agent.ID))
	_, ok := f.st.AppendMessage(group.ID, human.ID, "first", store.MessageText)
	require.True(t, ok)
	f.reg.Wake(agent.ID)

	require.Eventually(t, func() bool {
		a, _ := f.st.GetAgent(agent.ID)
		return a.Status == store.AgentError
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	fail = false
	mu.Unlock()

	_, ok = f.st.AppendMessage(group.ID, human.ID, "second", store.MessageText)
	require.True(t, ok)
	f.reg.Wake(agent.ID)

	require.Eventually(t, func() bool {
		msgs := f.st.GetMessages(group.ID, 0)
		return len(msgs) == 3 && msgs[2].Content == "recovered"
	}, 2*time.Second, 5*time.Millisecond)
	waitForIdle(t, f.st, agent.ID)
}

func TestRegistryLifecycle(t *testing.T) {
	f := newFixture(t, func(req llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "ok"}, nil
	})

	agent := f.st.CreateAgent(store.AgentParams{WorkspaceID: f.ws.ID, Role: "Worker", Model: "m"})

	require.Error(t, f.reg.StartAgent("unknown"))

	require.NoError(t, f.reg.StartAgent(agent.ID))
	assert.True(t, f.reg.Running(agent.ID))
	assert.Equal(t, 1, f.reg.RunningCount())

	// Idempotent start.
	require.NoError(t, f.reg.StartAgent(agent.ID))
	assert.Equal(t, 1, f.reg.RunningCount())

	f.reg.Stop(agent.ID)
	assert.False(t, f.reg.Running(agent.ID))

	// Stop leaves the agent idle; "stopped" is a runner state, not an
	// agent status.
	got, _ := f.st.GetAgent(agent.ID)
	assert.Equal(t, store.AgentIdle, got.Status)

	// Waking a stopped agent is a no-op, not a panic.
	f.reg.Wake(agent.ID)
}
