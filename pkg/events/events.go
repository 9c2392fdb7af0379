// Package events carries runtime notifications from the orchestration core
// to UI layers and other subscribers. Events form a closed set of typed
// variants; subscribers switch on the concrete type instead of matching
// string keys.
package events

import "time"

// Event is the sealed union of notification variants.
type Event interface {
	isEvent()
}

// AgentStarted is emitted when an agent's runner enters its wait loop.
type AgentStarted struct {
	AgentID     string
	WorkspaceID string
	Role        string
	At          time.Time
}

// AgentStopped is emitted when a runner exits its loop for good.
type AgentStopped struct {
	AgentID     string
	WorkspaceID string
	At          time.Time
}

// AgentCreated is emitted when a new agent is spawned, either by the
// launch flow or by another agent's create tool.
type AgentCreated struct {
	AgentID     string
	WorkspaceID string
	Role        string
	ParentID    string
	At          time.Time
}

// AgentDone is emitted when an agent reports task completion to its parent.
type AgentDone struct {
	AgentID     string
	WorkspaceID string
	Summary     string
	At          time.Time
}

// MessageCreated is emitted for every message appended to a group.
type MessageCreated struct {
	MessageID string
	GroupID   string
	SenderID  string
	Content   string
	At        time.Time
}

// GroupCreated is emitted when a new group channel opens.
type GroupCreated struct {
	GroupID     string
	WorkspaceID string
	Name        string
	MemberIDs   []string
	At          time.Time
}

func (AgentStarted) isEvent()   {}
func (AgentStopped) isEvent()   {}
func (AgentCreated) isEvent()   {}
func (AgentDone) isEvent()      {}
func (MessageCreated) isEvent() {}
func (GroupCreated) isEvent()   {}

// Name returns the wire name of an event variant, used by feed encoders.
func Name(e Event) string {
	switch e.(type) {
	case AgentStarted:
		return "agent.started"
	case AgentStopped:
		return "agent.stopped"
	case AgentCreated:
		return "agent.created"
	case AgentDone:
		return "agent.done"
	case MessageCreated:
		return "message.created"
	case GroupCreated:
		return "group.created"
	default:
		return "unknown"
	}
}
