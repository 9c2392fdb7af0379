package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	backend, err := NewSnapshotBackend(filepath.Join(t.TempDir(), "colony.json.db"))
	require.NoError(t, err)

	s, err := Open(backend, WithFlushDelay(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWorkspaceLifecycle(t *testing.T) {
	s := newTestStore(t)

	ws := s.CreateWorkspace("Acme", "build a widget", "")
	require.NotEmpty(t, ws.ID)
	assert.Equal(t, WorkspaceActive, ws.Status)

	got, ok := s.GetWorkspace(ws.ID)
	require.True(t, ok)
	assert.Equal(t, "Acme", got.Name)

	require.True(t, s.ArchiveWorkspace(ws.ID))
	got, ok = s.GetWorkspace(ws.ID)
	require.True(t, ok)
	assert.Equal(t, WorkspaceArchived, got.Status)

	_, ok = s.GetWorkspace("nope")
	assert.False(t, ok)
}

func TestDeleteWorkspaceCascadeIsolation(t *testing.T) {
	s := newTestStore(t)

	ws1 := s.CreateWorkspace("One", "task", "")
	ws2 := s.CreateWorkspace("Two", "task", "")

	a1 := s.CreateAgent(AgentParams{WorkspaceID: ws1.ID, Role: "CEO"})
	b1 := s.CreateAgent(AgentParams{WorkspaceID: ws1.ID, Role: "Engineer"})
	a2 := s.CreateAgent(AgentParams{WorkspaceID: ws2.ID, Role: "CEO"})

	g1 := s.CreateGroup(ws1.ID, "all", []string{a1.ID, b1.ID})
	g2 := s.CreateGroup(ws2.ID, "all", []string{a2.ID})

	m1, ok := s.AppendMessage(g1.ID, a1.ID, "hello one", MessageText)
	require.True(t, ok)
	m2, ok := s.AppendMessage(g2.ID, a2.ID, "hello two", MessageText)
	require.True(t, ok)
	s.MarkAsRead(b1.ID, g1.ID, m1.ID)
	s.MarkAsRead(a2.ID, g2.ID, m2.ID)

	require.True(t, s.DeleteWorkspace(ws1.ID))

	// Everything belonging to ws1 is gone.
	_, ok = s.GetAgent(a1.ID)
	assert.False(t, ok)
	_, ok = s.GetGroup(g1.ID)
	assert.False(t, ok)
	assert.Empty(t, s.GetMessages(g1.ID, 10))
	_, ok = s.GetLastReadMessageID(b1.ID, g1.ID)
	assert.False(t, ok)

	// ws2 is untouched.
	_, ok = s.GetAgent(a2.ID)
	assert.True(t, ok)
	msgs := s.GetMessages(g2.ID, 10)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello two", msgs[0].Content)
	cursor, ok := s.GetLastReadMessageID(a2.ID, g2.ID)
	require.True(t, ok)
	assert.Equal(t, m2.ID, cursor)
}

func TestGetOrCreateP2PIdempotent(t *testing.T) {
	s := newTestStore(t)

	ws := s.CreateWorkspace("Acme", "task", "")
	a := s.CreateAgent(AgentParams{WorkspaceID: ws.ID, Role: "CEO"})
	b := s.CreateAgent(AgentParams{WorkspaceID: ws.ID, Role: "Engineer"})

	g1 := s.GetOrCreateP2P(ws.ID, a.ID, b.ID)
	g2 := s.GetOrCreateP2P(ws.ID, b.ID, a.ID)
	g3 := s.GetOrCreateP2P(ws.ID, a.ID, b.ID)

	assert.Equal(t, g1.ID, g2.ID)
	assert.Equal(t, g1.ID, g3.ID)
	assert.Len(t, s.ListGroupsByAgent(a.ID), 1)
	assert.True(t, g1.HasMember(a.ID))
	assert.True(t, g1.HasMember(b.ID))
}

func TestAppendMessageCapRetention(t *testing.T) {
	s := newTestStore(t)

	ws := s.CreateWorkspace("Acme", "task", "")
	a := s.CreateAgent(AgentParams{WorkspaceID: ws.ID, Role: "CEO"})
	g := s.CreateGroup(ws.ID, "all", []string{a.ID})

	total := MaxMessagesPerGroup + 50
	for i := 0; i < total; i++ {
		_, ok := s.AppendMessage(g.ID, a.ID, fmt.Sprintf("msg-%d", i), MessageText)
		require.True(t, ok)
	}

	msgs := s.GetMessages(g.ID, 0)
	require.Len(t, msgs, MaxMessagesPerGroup)
	// Oldest were truncated; the newest survive in order.
	assert.Equal(t, fmt.Sprintf("msg-%d", total-MaxMessagesPerGroup), msgs[0].Content)
	assert.Equal(t, fmt.Sprintf("msg-%d", total-1), msgs[len(msgs)-1].Content)
}

func TestAppendMessageUnknownGroup(t *testing.T) {
	s := newTestStore(t)

	_, ok := s.AppendMessage("nope", "sender", "content", MessageText)
	assert.False(t, ok)
}

func TestUnreadMessages(t *testing.T) {
	s := newTestStore(t)

	ws := s.CreateWorkspace("Acme", "task", "")
	a := s.CreateAgent(AgentParams{WorkspaceID: ws.ID, Role: "CEO"})
	b := s.CreateAgent(AgentParams{WorkspaceID: ws.ID, Role: "Engineer"})
	g := s.CreateGroup(ws.ID, "all", []string{a.ID, b.ID})

	var ids []string
	for i := 0; i < 5; i++ {
		m, ok := s.AppendMessage(g.ID, a.ID, fmt.Sprintf("msg-%d", i), MessageText)
		require.True(t, ok)
		ids = append(ids, m.ID)
	}

	t.Run("empty cursor returns everything", func(t *testing.T) {
		unread := s.GetUnreadMessages(g.ID, "")
		assert.Len(t, unread, 5)
	})

	t.Run("cursor returns strict suffix", func(t *testing.T) {
		unread := s.GetUnreadMessages(g.ID, ids[2])
		require.Len(t, unread, 2)
		assert.Equal(t, "msg-3", unread[0].Content)
		assert.Equal(t, "msg-4", unread[1].Content)
	})

	t.Run("cursor at tail returns nothing", func(t *testing.T) {
		assert.Empty(t, s.GetUnreadMessages(g.ID, ids[4]))
	})

	t.Run("unknown cursor falls back to everything", func(t *testing.T) {
		// A truncated-away cursor id behaves like no cursor.
		unread := s.GetUnreadMessages(g.ID, "long-gone")
		assert.Len(t, unread, 5)
	})
}

func TestMarkAsReadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	ws := s.CreateWorkspace("Acme", "task", "")
	a := s.CreateAgent(AgentParams{WorkspaceID: ws.ID, Role: "CEO"})
	b := s.CreateAgent(AgentParams{WorkspaceID: ws.ID, Role: "Engineer"})
	g := s.CreateGroup(ws.ID, "all", []string{a.ID, b.ID})

	m, ok := s.AppendMessage(g.ID, a.ID, "hello", MessageText)
	require.True(t, ok)

	_, ok = s.GetLastReadMessageID(b.ID, g.ID)
	assert.False(t, ok)

	s.MarkAsRead(b.ID, g.ID, m.ID)
	cursor, ok := s.GetLastReadMessageID(b.ID, g.ID)
	require.True(t, ok)
	assert.Equal(t, m.ID, cursor)
	assert.Empty(t, s.GetUnreadMessages(g.ID, cursor))
}

func TestAgentStatusAndHistory(t *testing.T) {
	s := newTestStore(t)

	ws := s.CreateWorkspace("Acme", "task", "")
	a := s.CreateAgent(AgentParams{WorkspaceID: ws.ID, Role: "CEO", Model: "m"})
	assert.Equal(t, AgentIdle, a.Status)

	require.True(t, s.UpdateAgentStatus(a.ID, AgentBusy))
	got, ok := s.GetAgent(a.ID)
	require.True(t, ok)
	assert.Equal(t, AgentBusy, got.Status)

	history := []Turn{
		{Role: "user", Content: "CEO: do it"},
		{Role: "assistant", Content: "on it"},
	}
	require.True(t, s.ReplaceAgentHistory(a.ID, history))
	got, _ = s.GetAgent(a.ID)
	require.Len(t, got.History, 2)
	assert.Equal(t, "on it", got.History[1].Content)

	// Replacement is wholesale, not append.
	require.True(t, s.ReplaceAgentHistory(a.ID, history[1:]))
	got, _ = s.GetAgent(a.ID)
	assert.Len(t, got.History, 1)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colony.json.db")

	backend, err := NewSnapshotBackend(path)
	require.NoError(t, err)
	s, err := Open(backend, WithFlushDelay(time.Millisecond))
	require.NoError(t, err)

	ws := s.CreateWorkspace("Acme", "task", "")
	a := s.CreateAgent(AgentParams{WorkspaceID: ws.ID, Role: "CEO"})
	g := s.CreateGroup(ws.ID, "all", []string{a.ID})
	m, ok := s.AppendMessage(g.ID, a.ID, "hello", MessageText)
	require.True(t, ok)
	s.MarkAsRead(a.ID, g.ID, m.ID)
	require.NoError(t, s.Close())

	backend2, err := NewSnapshotBackend(path)
	require.NoError(t, err)
	s2, err := Open(backend2)
	require.NoError(t, err)
	defer s2.Close()

	got, ok := s2.GetWorkspace(ws.ID)
	require.True(t, ok)
	assert.Equal(t, "Acme", got.Name)
	msgs := s2.GetMessages(g.ID, 0)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
	cursor, ok := s2.GetLastReadMessageID(a.ID, g.ID)
	require.True(t, ok)
	assert.Equal(t, m.ID, cursor)
}

func TestDebouncedFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colony.json.db")
	backend, err := NewSnapshotBackend(path)
	require.NoError(t, err)
	s, err := Open(backend, WithFlushDelay(20*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	s.CreateWorkspace("Acme", "task", "")

	// The trailing edge fires once after the delay.
	require.Eventually(t, func() bool {
		backend2, err := NewSnapshotBackend(path)
		if err != nil {
			return false
		}
		snap, err := backend2.Load()
		return err == nil && len(snap.Workspaces) == 1
	}, time.Second, 10*time.Millisecond)
}
