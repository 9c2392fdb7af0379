// Package company turns a planned organizational structure into a running
// workspace: it creates the agents and their channels, wires the human
// seat in, and starts every runner.
package company

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/forgehive/colony/pkg/events"
	"github.com/forgehive/colony/pkg/prompt"
	"github.com/forgehive/colony/pkg/runner"
	"github.com/forgehive/colony/pkg/store"
)

// HumanRole is the role name of the synthetic agent that represents the
// human operator. Its runner is never started; the chat surface sends and
// reads on its behalf.
const HumanRole = "Human"

// PlannedAgent is one seat in a structure document. ID and ParentID are
// structure-local labels resolved to store ids during launch; an empty
// ParentID makes the seat report to the human.
type PlannedAgent struct {
	ID               string   `json:"id"`
	Role             string   `json:"role"`
	Model            string   `json:"model"`
	ParentID         string   `json:"parent_id,omitempty"`
	Responsibilities []string `json:"responsibilities,omitempty"`
	CanDelegate      bool     `json:"can_delegate"`
	CanApprove       bool     `json:"can_approve"`
}

// Structure is the planner's output describing one company.
type Structure struct {
	Name   string         `json:"name"`
	Agents []PlannedAgent `json:"agents"`
}

// Company is the launched result handed back to the caller.
type Company struct {
	Workspace    *store.Workspace
	Human        *store.Agent
	Agents       []*store.Agent
	AllHandsID   string
	structureIDs map[string]string
}

// AgentID resolves a structure-local id to the launched agent's store id.
func (c *Company) AgentID(structureID string) (string, bool) {
	id, ok := c.structureIDs[structureID]
	return id, ok
}

// Launcher builds and tears down companies.
type Launcher struct {
	st     *store.Store
	reg    *runner.Registry
	bus    *events.Bus
	logger zerolog.Logger
}

// LauncherOption configures a Launcher.
type LauncherOption func(*Launcher)

// WithLogger sets the launcher logger.
func WithLogger(logger zerolog.Logger) LauncherOption {
	return func(l *Launcher) { l.logger = logger }
}

// NewLauncher creates a Launcher.
func NewLauncher(st *store.Store, reg *runner.Registry, bus *events.Bus, opts ...LauncherOption) *Launcher {
	l := &Launcher{st: st, reg: reg, bus: bus, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch materializes the structure: workspace, human seat, every planned
// agent with parent links resolved, an all-hands group, and a running
// runner per agent. Planned agents without a parent report to the human.
func (l *Launcher) Launch(structure Structure, task, structureJSON string) (*Company, error) {
	if structure.Name == "" {
		return nil, fmt.Errorf("structure has no company name")
	}
	if len(structure.Agents) == 0 {
		return nil, fmt.Errorf("structure has no agents")
	}

	ws := l.st.CreateWorkspace(structure.Name, task, structureJSON)

	human := l.st.CreateAgent(store.AgentParams{
		WorkspaceID: ws.ID,
		Role:        HumanRole,
	})

	roleByStructureID := make(map[string]string, len(structure.Agents))
	for _, planned := range structure.Agents {
		roleByStructureID[planned.ID] = planned.Role
	}

	ids := map[string]string{}
	agents := make([]*store.Agent, 0, len(structure.Agents))
	memberIDs := []string{human.ID}

	for _, planned := range structure.Agents {
		reportsTo := HumanRole
		parentID := human.ID
		if planned.ParentID != "" {
			resolved, ok := ids[planned.ParentID]
			if !ok {
				return nil, fmt.Errorf("agent %s references unknown parent %s (parents must precede children)", planned.ID, planned.ParentID)
			}
			parentID = resolved
			reportsTo = roleByStructureID[planned.ParentID]
		}

		systemPrompt := prompt.Spec{
			Role:             planned.Role,
			CompanyName:      structure.Name,
			Task:             task,
			Responsibilities: planned.Responsibilities,
			ReportsTo:        reportsTo,
			CanDelegate:      planned.CanDelegate,
			CanApprove:       planned.CanApprove,
		}.Render()

		agent := l.st.CreateAgent(store.AgentParams{
			WorkspaceID:      ws.ID,
			Role:             planned.Role,
			Model:            planned.Model,
			ParentID:         parentID,
			SystemPrompt:     systemPrompt,
			Responsibilities: planned.Responsibilities,
			CanDelegate:      planned.CanDelegate,
			CanApprove:       planned.CanApprove,
		})
		ids[planned.ID] = agent.ID
		agents = append(agents, agent)
		memberIDs = append(memberIDs, agent.ID)

		l.bus.Emit(events.AgentCreated{
			AgentID:     agent.ID,
			WorkspaceID: ws.ID,
			Role:        agent.Role,
			ParentID:    parentID,
			At:          time.Now(),
		})
	}

	allHands := l.st.CreateGroup(ws.ID, "All Hands", memberIDs)
	l.bus.Emit(events.GroupCreated{
		GroupID:     allHands.ID,
		WorkspaceID: ws.ID,
		Name:        allHands.Name,
		MemberIDs:   allHands.MemberIDs,
		At:          time.Now(),
	})

	for _, agent := range agents {
		if err := l.reg.StartAgent(agent.ID); err != nil {
			return nil, fmt.Errorf("failed to start agent %s: %w", agent.Role, err)
		}
	}

	l.logger.Info().
		Str("workspace", ws.ID).
		Str("company", structure.Name).
		Int("agents", len(agents)).
		Msg("Company launched")

	return &Company{
		Workspace:    ws,
		Human:        human,
		Agents:       agents,
		AllHandsID:   allHands.ID,
		structureIDs: ids,
	}, nil
}

// Shutdown stops every runner of the workspace, archives it and flushes
// the store so nothing is left to the debounce timer.
func (l *Launcher) Shutdown(workspaceID string) error {
	ws, ok := l.st.GetWorkspace(workspaceID)
	if !ok {
		return fmt.Errorf("unknown workspace: %s", workspaceID)
	}

	for _, agent := range l.st.ListAgents(workspaceID) {
		l.reg.Stop(agent.ID)
	}
	l.st.ArchiveWorkspace(workspaceID)
	l.st.Flush()

	l.logger.Info().
		Str("workspace", ws.ID).
		Str("company", ws.Name).
		Msg("Company shut down")
	return nil
}
