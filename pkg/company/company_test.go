package company

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgehive/colony/pkg/events"
	"github.com/forgehive/colony/pkg/llm"
	"github.com/forgehive/colony/pkg/runner"
	"github.com/forgehive/colony/pkg/store"
	"github.com/forgehive/colony/pkg/tools"
)

type silentGateway struct{}

func (silentGateway) Call(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{}, nil
}

func newLauncher(t *testing.T) (*Launcher, *store.Store, *runner.Registry) {
	t.Helper()

	backend, err := store.NewSnapshotBackend(filepath.Join(t.TempDir(), "colony.json.db"))
	require.NoError(t, err)
	st, err := store.Open(backend, store.WithFlushDelay(time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	bus := events.NewBus()
	exec, err := tools.New(st, bus)
	require.NoError(t, err)
	reg := runner.NewRegistry(st, silentGateway{}, exec, bus)
	exec.SetOrchestrator(reg)
	t.Cleanup(reg.StopAll)

	return NewLauncher(st, reg, bus), st, reg
}

func sampleStructure() Structure {
	return Structure{
		Name: "Acme",
		Agents: []PlannedAgent{
			{ID: "ceo", Role: "CEO", Model: "claude-sonnet-4-20250514", CanDelegate: true, CanApprove: true},
			{ID: "eng", Role: "Engineer", Model: "claude-sonnet-4-20250514", ParentID: "ceo",
				Responsibilities: []string{"Build the product"}},
		},
	}
}

func TestLaunch(t *testing.T) {
	launcher, st, reg := newLauncher(t)

	c, err := launcher.Launch(sampleStructure(), "build a widget", "{}")
	require.NoError(t, err)

	assert.Equal(t, "Acme", c.Workspace.Name)
	assert.Equal(t, "build a widget", c.Workspace.Task)
	assert.Equal(t, HumanRole, c.Human.Role)
	require.Len(t, c.Agents, 2)

	// Parent links: top-level seats report to the human, children to
	// their planned parent.
	ceoID, ok := c.AgentID("ceo")
	require.True(t, ok)
	engID, ok := c.AgentID("eng")
	require.True(t, ok)

	ceo, _ := st.GetAgent(ceoID)
	eng, _ := st.GetAgent(engID)
	assert.Equal(t, c.Human.ID, ceo.ParentID)
	assert.Equal(t, ceoID, eng.ParentID)
	assert.Contains(t, eng.SystemPrompt, "You report to CEO.")
	assert.Contains(t, eng.SystemPrompt, "Build the product")

	// All-hands includes everyone, human first.
	allHands, ok := st.GetGroup(c.AllHandsID)
	require.True(t, ok)
	assert.Len(t, allHands.MemberIDs, 3)
	assert.True(t, allHands.HasMember(c.Human.ID))

	// Every planned agent has a live runner; the human does not.
	assert.True(t, reg.Running(ceoID))
	assert.True(t, reg.Running(engID))
	assert.False(t, reg.Running(c.Human.ID))
}

func TestLaunchRejectsBadStructures(t *testing.T) {
	launcher, _, _ := newLauncher(t)

	_, err := launcher.Launch(Structure{Name: "Empty"}, "task", "{}")
	assert.Error(t, err)

	_, err = launcher.Launch(Structure{
		Name:   "Orphan",
		Agents: []PlannedAgent{{ID: "a", Role: "Worker", ParentID: "missing"}},
	}, "task", "{}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown parent")
}

func TestShutdown(t *testing.T) {
	launcher, st, reg := newLauncher(t)

	c, err := launcher.Launch(sampleStructure(), "task", "{}")
	require.NoError(t, err)

	require.NoError(t, launcher.Shutdown(c.Workspace.ID))

	ws, ok := st.GetWorkspace(c.Workspace.ID)
	require.True(t, ok)
	assert.Equal(t, store.WorkspaceArchived, ws.Status)
	assert.Equal(t, 0, reg.RunningCount())

	assert.Error(t, launcher.Shutdown("nope"))
}
