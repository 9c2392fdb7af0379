package store

import "time"

// WorkspaceStatus is the lifecycle status of a workspace.
type WorkspaceStatus string

const (
	WorkspaceActive   WorkspaceStatus = "active"
	WorkspaceArchived WorkspaceStatus = "archived"
)

// AgentStatus is the runtime status of an agent.
type AgentStatus string

const (
	AgentIdle  AgentStatus = "idle"
	AgentBusy  AgentStatus = "busy"
	AgentError AgentStatus = "error"
)

// MessageType tags a message as ordinary chat or a system notification.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
)

// MaxMessagesPerGroup caps the retained history per group. Older messages
// are truncated from the head and are irrecoverable past this bound.
const MaxMessagesPerGroup = 200

// Workspace is one company instance grouping agents, groups and messages.
type Workspace struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Task      string          `json:"task"`
	Structure string          `json:"structure,omitempty"`
	Status    WorkspaceStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Agent is one worker identity with a role, model binding and a position
// in the reporting tree. ParentID empty means top-level.
type Agent struct {
	ID               string      `json:"id"`
	WorkspaceID      string      `json:"workspace_id"`
	Role             string      `json:"role"`
	RoleKey          string      `json:"role_key"`
	Model            string      `json:"model"`
	ParentID         string      `json:"parent_id,omitempty"`
	SystemPrompt     string      `json:"system_prompt,omitempty"`
	Responsibilities []string    `json:"responsibilities,omitempty"`
	CanDelegate      bool        `json:"can_delegate"`
	CanApprove       bool        `json:"can_approve"`
	Status           AgentStatus `json:"status"`
	History          []Turn      `json:"history,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Turn is one role-tagged entry of an agent's accumulated LLM transcript.
// The history is replaced wholesale after each processing cycle.
type Turn struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall records a structured tool invocation inside a transcript turn.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// Group is a chat channel. MemberIDs preserve insertion order; the
// 2-member case is the canonical peer channel between two agents.
type Group struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	MemberIDs   []string  `json:"member_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasMember reports whether the agent belongs to the group.
func (g *Group) HasMember(agentID string) bool {
	for _, id := range g.MemberIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// Message is one append-only entry in a group's history.
type Message struct {
	ID        string      `json:"id"`
	GroupID   string      `json:"group_id"`
	SenderID  string      `json:"sender_id"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
}

// AgentParams carries the caller-supplied fields for CreateAgent.
type AgentParams struct {
	WorkspaceID      string
	Role             string
	Model            string
	ParentID         string
	SystemPrompt     string
	Responsibilities []string
	CanDelegate      bool
	CanApprove       bool
}
