package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/forgehive/colony/internal/metrics"
)

// DefaultFlushDelay is the trailing-edge debounce window for durable
// flushes. Any mutation inside the window resets the timer.
const DefaultFlushDelay = 500 * time.Millisecond

// Store is the single source of truth for workspaces, agents, groups,
// messages and read cursors. Every mutation updates the in-memory mirror
// synchronously, so readers in the same process never observe
// read-after-write lag, and schedules a debounced flush to the backend.
//
// All operations are synchronous and never block on I/O; each one is a
// complete critical section, which is what keeps interleaved writers from
// dozens of agent goroutines free of lost updates.
type Store struct {
	mu      sync.Mutex
	backend Backend
	logger  zerolog.Logger

	workspaces map[string]*Workspace
	wsOrder    []string
	agents     map[string]*Agent
	agentOrder []string
	groups     map[string]*Group
	groupOrder []string
	messages   map[string][]*Message
	lastReads  map[string]string

	flushDelay time.Duration
	flushTimer *time.Timer
	closed     bool
}

// Option configures a Store.
type Option func(*Store)

// WithFlushDelay overrides the debounce window.
func WithFlushDelay(d time.Duration) Option {
	return func(s *Store) { s.flushDelay = d }
}

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open creates a Store backed by the given Backend, loading any previous
// snapshot into the mirror.
func Open(backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend:    backend,
		logger:     zerolog.Nop(),
		workspaces: make(map[string]*Workspace),
		agents:     make(map[string]*Agent),
		groups:     make(map[string]*Group),
		messages:   make(map[string][]*Message),
		lastReads:  make(map[string]string),
		flushDelay: DefaultFlushDelay,
	}
	for _, opt := range opts {
		opt(s)
	}

	snap, err := backend.Load()
	if err != nil {
		return nil, err
	}
	for _, ws := range snap.Workspaces {
		s.workspaces[ws.ID] = ws
		s.wsOrder = append(s.wsOrder, ws.ID)
	}
	for _, a := range snap.Agents {
		s.agents[a.ID] = a
		s.agentOrder = append(s.agentOrder, a.ID)
	}
	for _, g := range snap.Groups {
		s.groups[g.ID] = g
		s.groupOrder = append(s.groupOrder, g.ID)
	}
	for groupID, msgs := range snap.Messages {
		s.messages[groupID] = msgs
	}
	for key, msgID := range snap.LastReads {
		s.lastReads[key] = msgID
	}

	return s, nil
}

// Close flushes pending state and releases the backend.
func (s *Store) Close() error {
	s.Flush()
	s.mu.Lock()
	s.closed = true
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.mu.Unlock()
	return s.backend.Close()
}

// Flush writes the current mirror to the backend immediately. Part of the
// orderly-shutdown sequence; flush failures are logged, never surfaced to
// agents, since the mirror stays authoritative for the life of the process.
func (s *Store) Flush() {
	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.backend.Save(snap); err != nil {
		metrics.RecordStoreFlush(false)
		s.logger.Error().Err(err).Msg("Store flush failed")
		return
	}
	metrics.RecordStoreFlush(true)
}

// scheduleFlush arms (or re-arms) the trailing-edge debounce timer.
// Callers must hold s.mu.
func (s *Store) scheduleFlush() {
	if s.closed {
		return
	}
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.flushTimer = time.AfterFunc(s.flushDelay, s.Flush)
}

// snapshotLocked builds a deep copy of the mirror. Callers must hold s.mu.
func (s *Store) snapshotLocked() *Snapshot {
	snap := emptySnapshot()
	for _, id := range s.wsOrder {
		ws := *s.workspaces[id]
		snap.Workspaces = append(snap.Workspaces, &ws)
	}
	for _, id := range s.agentOrder {
		snap.Agents = append(snap.Agents, copyAgent(s.agents[id]))
	}
	for _, id := range s.groupOrder {
		snap.Groups = append(snap.Groups, copyGroup(s.groups[id]))
	}
	for groupID, msgs := range s.messages {
		snap.Messages[groupID] = copyMessages(msgs)
	}
	for key, msgID := range s.lastReads {
		snap.LastReads[key] = msgID
	}
	return snap
}

// --- Workspaces ---

// CreateWorkspace creates an active workspace.
func (s *Store) CreateWorkspace(name, task, structure string) *Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	ws := &Workspace{
		ID:        uuid.New().String(),
		Name:      name,
		Task:      task,
		Structure: structure,
		Status:    WorkspaceActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.workspaces[ws.ID] = ws
	s.wsOrder = append(s.wsOrder, ws.ID)
	s.scheduleFlush()

	out := *ws
	return &out
}

// GetWorkspace returns the workspace, or nil and false if unknown.
func (s *Store) GetWorkspace(id string) (*Workspace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.workspaces[id]
	if !ok {
		return nil, false
	}
	out := *ws
	return &out, true
}

// ListWorkspaces returns all workspaces in insertion order.
func (s *Store) ListWorkspaces() []*Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Workspace, 0, len(s.wsOrder))
	for _, id := range s.wsOrder {
		ws := *s.workspaces[id]
		out = append(out, &ws)
	}
	return out
}

// ArchiveWorkspace marks the workspace archived. Returns false if unknown.
func (s *Store) ArchiveWorkspace(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.workspaces[id]
	if !ok {
		return false
	}
	ws.Status = WorkspaceArchived
	ws.UpdatedAt = time.Now()
	s.scheduleFlush()
	return true
}

// DeleteWorkspace removes the workspace and cascades to exactly its own
// agents, groups, messages and read cursors; other workspaces' data is
// untouched.
func (s *Store) DeleteWorkspace(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workspaces[id]; !ok {
		return false
	}
	delete(s.workspaces, id)
	s.wsOrder = removeString(s.wsOrder, id)

	removedAgents := make(map[string]bool)
	for agentID, a := range s.agents {
		if a.WorkspaceID == id {
			removedAgents[agentID] = true
			delete(s.agents, agentID)
			s.agentOrder = removeString(s.agentOrder, agentID)
		}
	}
	removedGroups := make(map[string]bool)
	for groupID, g := range s.groups {
		if g.WorkspaceID == id {
			removedGroups[groupID] = true
			delete(s.groups, groupID)
			s.groupOrder = removeString(s.groupOrder, groupID)
			delete(s.messages, groupID)
		}
	}
	for key := range s.lastReads {
		agentID, groupID, ok := splitCursorKey(key)
		if !ok {
			continue
		}
		if removedAgents[agentID] || removedGroups[groupID] {
			delete(s.lastReads, key)
		}
	}

	s.scheduleFlush()
	return true
}

// --- Agents ---

// CreateAgent creates an agent in idle status and returns it.
func (s *Store) CreateAgent(params AgentParams) *Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, _ := gonanoid.New()
	a := &Agent{
		ID:               id,
		WorkspaceID:      params.WorkspaceID,
		Role:             params.Role,
		RoleKey:          roleKey(params.Role),
		Model:            params.Model,
		ParentID:         params.ParentID,
		SystemPrompt:     params.SystemPrompt,
		Responsibilities: append([]string(nil), params.Responsibilities...),
		CanDelegate:      params.CanDelegate,
		CanApprove:       params.CanApprove,
		Status:           AgentIdle,
		CreatedAt:        time.Now(),
	}
	s.agents[a.ID] = a
	s.agentOrder = append(s.agentOrder, a.ID)
	s.scheduleFlush()

	return copyAgent(a)
}

// GetAgent returns the agent, or nil and false if unknown.
func (s *Store) GetAgent(id string) (*Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, false
	}
	return copyAgent(a), true
}

// ListAgents returns all agents of the workspace in insertion order.
func (s *Store) ListAgents(workspaceID string) []*Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Agent
	for _, id := range s.agentOrder {
		if a := s.agents[id]; a.WorkspaceID == workspaceID {
			out = append(out, copyAgent(a))
		}
	}
	return out
}

// UpdateAgentStatus sets the agent's status. Returns false if unknown.
func (s *Store) UpdateAgentStatus(id string, status AgentStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return false
	}
	a.Status = status
	s.scheduleFlush()
	return true
}

// ReplaceAgentHistory replaces the agent's transcript wholesale; each
// processing cycle persists only that cycle's reasoning trace plus the
// seeded context window.
func (s *Store) ReplaceAgentHistory(id string, history []Turn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return false
	}
	a.History = append([]Turn(nil), history...)
	s.scheduleFlush()
	return true
}

// --- Groups ---

// CreateGroup creates a group with the given unique members in insertion
// order. Duplicate member ids are dropped.
func (s *Store) CreateGroup(workspaceID, name string, memberIDs []string) *Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createGroupLocked(workspaceID, name, memberIDs)
}

func (s *Store) createGroupLocked(workspaceID, name string, memberIDs []string) *Group {
	id, _ := gonanoid.New()
	g := &Group{
		ID:          id,
		WorkspaceID: workspaceID,
		Name:        name,
		CreatedAt:   time.Now(),
	}
	seen := make(map[string]bool)
	for _, m := range memberIDs {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		g.MemberIDs = append(g.MemberIDs, m)
	}
	s.groups[g.ID] = g
	s.groupOrder = append(s.groupOrder, g.ID)
	s.scheduleFlush()
	return copyGroup(g)
}

// GetGroup returns the group, or nil and false if unknown.
func (s *Store) GetGroup(id string) (*Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, false
	}
	return copyGroup(g), true
}

// ListGroupsByAgent returns all groups the agent belongs to, in insertion
// order.
func (s *Store) ListGroupsByAgent(agentID string) []*Group {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Group
	for _, id := range s.groupOrder {
		if g := s.groups[id]; g.HasMember(agentID) {
			out = append(out, copyGroup(g))
		}
	}
	return out
}

// GetOrCreateP2P returns the canonical peer channel between two agents,
// creating it on first use. At most one 2-member group exists per
// unordered pair per workspace; argument order is irrelevant.
func (s *Store) GetOrCreateP2P(workspaceID, a, b string) *Group {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.groupOrder {
		g := s.groups[id]
		if g.WorkspaceID != workspaceID || len(g.MemberIDs) != 2 {
			continue
		}
		if (g.MemberIDs[0] == a && g.MemberIDs[1] == b) ||
			(g.MemberIDs[0] == b && g.MemberIDs[1] == a) {
			return copyGroup(g)
		}
	}

	return s.createGroupLocked(workspaceID, s.p2pNameLocked(a, b), []string{a, b})
}

// p2pNameLocked derives a stable peer-channel name from the member roles.
func (s *Store) p2pNameLocked(a, b string) string {
	names := []string{a, b}
	for i, id := range names {
		if agent, ok := s.agents[id]; ok {
			names[i] = agent.Role
		}
	}
	sort.Strings(names)
	return names[0] + " <> " + names[1]
}

// --- Messages ---

// AppendMessage appends a message to the group, truncating the oldest
// entries past MaxMessagesPerGroup. Returns nil and false if the group is
// unknown.
func (s *Store) AppendMessage(groupID, senderID, content string, typ MessageType) (*Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupID]; !ok {
		return nil, false
	}

	id, _ := gonanoid.New()
	m := &Message{
		ID:        id,
		GroupID:   groupID,
		SenderID:  senderID,
		Content:   content,
		Type:      typ,
		CreatedAt: time.Now(),
	}
	msgs := append(s.messages[groupID], m)
	if len(msgs) > MaxMessagesPerGroup {
		msgs = msgs[len(msgs)-MaxMessagesPerGroup:]
	}
	s.messages[groupID] = msgs
	s.scheduleFlush()

	out := *m
	return &out, true
}

// GetMessages returns the last limit messages of the group in order.
// limit <= 0 returns the full retained history.
func (s *Store) GetMessages(groupID string, limit int) []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[groupID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return copyMessages(msgs)
}

// GetUnreadMessages returns the suffix strictly after sinceMessageID, in
// order. An empty or unknown cursor id (including one trimmed by the
// retention cap) returns the entire retained list.
func (s *Store) GetUnreadMessages(groupID, sinceMessageID string) []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[groupID]
	if sinceMessageID == "" {
		return copyMessages(msgs)
	}
	for i, m := range msgs {
		if m.ID == sinceMessageID {
			return copyMessages(msgs[i+1:])
		}
	}
	return copyMessages(msgs)
}

// --- Read cursors ---

// MarkAsRead records the last-seen message id for the agent in the group.
func (s *Store) MarkAsRead(agentID, groupID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastReads[cursorKey(agentID, groupID)] = messageID
	s.scheduleFlush()
}

// GetLastReadMessageID returns the agent's cursor in the group. Absence
// means the entire history is unread.
func (s *Store) GetLastReadMessageID(agentID, groupID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.lastReads[cursorKey(agentID, groupID)]
	return id, ok
}

// --- helpers ---

func cursorKey(agentID, groupID string) string {
	return agentID + ":" + groupID
}

func splitCursorKey(key string) (agentID, groupID string, ok bool) {
	i := strings.IndexByte(key, ':')
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

func roleKey(role string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(role)), " ", "_")
}

func removeString(list []string, v string) []string {
	for i, s := range list {
		if s == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func copyAgent(a *Agent) *Agent {
	out := *a
	out.Responsibilities = append([]string(nil), a.Responsibilities...)
	out.History = append([]Turn(nil), a.History...)
	return &out
}

func copyGroup(g *Group) *Group {
	out := *g
	out.MemberIDs = append([]string(nil), g.MemberIDs...)
	return &out
}

func copyMessages(msgs []*Message) []*Message {
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		c := *m
		out = append(out, &c)
	}
	return out
}
