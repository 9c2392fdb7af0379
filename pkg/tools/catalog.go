package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/forgehive/colony/pkg/events"
	"github.com/forgehive/colony/pkg/prompt"
	"github.com/forgehive/colony/pkg/store"
)

func (e *Executor) catalog() []*Definition {
	return []*Definition{
		{
			Name:        "self",
			Description: "Return your own identity: agent id, role, parent and workspace.",
			Handler:     e.toolSelf,
		},
		{
			Name:        "create",
			Description: "Spawn a new agent reporting to you and open a direct channel with it. Use this to delegate a distinct area of responsibility.",
			Parameters: []Parameter{
				{Name: "role", Type: "string", Description: "Role name of the new agent, e.g. 'Backend Engineer'", Required: true},
				{Name: "guidance", Type: "string", Description: "Extra instructions baked into the new agent's system prompt"},
			},
			Handler: e.toolCreate,
		},
		{
			Name:        "send",
			Description: "Send a direct message to another agent. A private channel between the two of you is created on first use.",
			Parameters: []Parameter{
				{Name: "target_agent_id", Type: "string", Description: "Id of the receiving agent", Required: true},
				{Name: "content", Type: "string", Description: "Message text", Required: true},
			},
			Handler: e.toolSend,
		},
		{
			Name:        "send_group_message",
			Description: "Post a message to a group you belong to. Every other member is notified.",
			Parameters: []Parameter{
				{Name: "group_id", Type: "string", Description: "Id of the target group", Required: true},
				{Name: "content", Type: "string", Description: "Message text", Required: true},
			},
			Handler: e.toolSendGroupMessage,
		},
		{
			Name:        "create_group",
			Description: "Create a named group channel. You are always included as a member.",
			Parameters: []Parameter{
				{Name: "name", Type: "string", Description: "Group name", Required: true},
				{Name: "member_ids", Type: "array", Description: "Agent ids to include besides yourself", Required: true},
			},
			Handler: e.toolCreateGroup,
		},
		{
			Name:        "list_agents",
			Description: "List every agent in your workspace with id, role, status and parent.",
			Handler:     e.toolListAgents,
		},
		{
			Name:        "list_groups",
			Description: "List the groups you belong to.",
			Handler:     e.toolListGroups,
		},
		{
			Name:        "get_group_messages",
			Description: "Read the most recent messages of a group, with sender role names resolved.",
			Parameters: []Parameter{
				{Name: "group_id", Type: "string", Description: "Id of the group to read", Required: true},
				{Name: "limit", Type: "integer", Description: "Maximum number of messages, newest kept (default 20)"},
			},
			Handler: e.toolGetGroupMessages,
		},
		{
			Name:        "bash",
			Description: "Run a shell command. Destructive commands are blocked; output is truncated and the command is killed after a timeout.",
			Parameters: []Parameter{
				{Name: "command", Type: "string", Description: "Command to run with sh -c", Required: true},
			},
			Handler: e.toolBash,
		},
		{
			Name:        "report_done",
			Description: "Report to your parent that your current task is finished, with a short summary.",
			Parameters: []Parameter{
				{Name: "summary", Type: "string", Description: "What was accomplished", Required: true},
			},
			Handler: e.toolReportDone,
		},
	}
}

func (e *Executor) toolSelf(ctx context.Context, caller *store.Agent, args map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"agent_id":     caller.ID,
		"role":         caller.Role,
		"parent_id":    caller.ParentID,
		"workspace_id": caller.WorkspaceID,
	}, nil
}

func (e *Executor) toolCreate(ctx context.Context, caller *store.Agent, args map[string]interface{}) (map[string]interface{}, error) {
	role := stringArg(args, "role")
	guidance := stringArg(args, "guidance")

	ws, ok := e.st.GetWorkspace(caller.WorkspaceID)
	if !ok {
		return nil, fmt.Errorf("workspace %s not found", caller.WorkspaceID)
	}

	systemPrompt := prompt.Spec{
		Role:        role,
		CompanyName: ws.Name,
		Task:        ws.Task,
		ReportsTo:   caller.Role,
		CanDelegate: caller.CanDelegate,
		Guidance:    guidance,
	}.Render()

	child := e.st.CreateAgent(store.AgentParams{
		WorkspaceID:  caller.WorkspaceID,
		Role:         role,
		Model:        caller.Model,
		ParentID:     caller.ID,
		SystemPrompt: systemPrompt,
		CanDelegate:  caller.CanDelegate,
	})
	group := e.st.GetOrCreateP2P(caller.WorkspaceID, caller.ID, child.ID)

	e.bus.Emit(events.AgentCreated{
		AgentID:     child.ID,
		WorkspaceID: child.WorkspaceID,
		Role:        child.Role,
		ParentID:    caller.ID,
		At:          time.Now(),
	})
	e.bus.Emit(events.GroupCreated{
		GroupID:     group.ID,
		WorkspaceID: group.WorkspaceID,
		Name:        group.Name,
		MemberIDs:   group.MemberIDs,
		At:          time.Now(),
	})

	if e.orch != nil {
		if err := e.orch.StartAgent(child.ID); err != nil {
			e.logger.Warn().
				Str("agent", child.ID).
				Err(err).
				Msg("Failed to start runner for created agent")
		}
	}

	return map[string]interface{}{
		"agent_id": child.ID,
		"role":     child.Role,
		"group_id": group.ID,
	}, nil
}

func (e *Executor) toolSend(ctx context.Context, caller *store.Agent, args map[string]interface{}) (map[string]interface{}, error) {
	targetID := stringArg(args, "target_agent_id")
	content := stringArg(args, "content")

	target, ok := e.st.GetAgent(targetID)
	if !ok {
		return nil, fmt.Errorf("unknown target agent: %s", targetID)
	}
	if target.WorkspaceID != caller.WorkspaceID {
		return nil, fmt.Errorf("agent %s is not in your workspace", targetID)
	}

	group := e.st.GetOrCreateP2P(caller.WorkspaceID, caller.ID, targetID)
	msg, ok := e.st.AppendMessage(group.ID, caller.ID, content, store.MessageText)
	if !ok {
		return nil, fmt.Errorf("failed to append message to group %s", group.ID)
	}

	e.bus.Emit(events.MessageCreated{
		MessageID: msg.ID,
		GroupID:   group.ID,
		SenderID:  caller.ID,
		Content:   content,
		At:        time.Now(),
	})
	if e.orch != nil {
		e.orch.Wake(targetID)
	}

	return map[string]interface{}{
		"message_id": msg.ID,
		"group_id":   group.ID,
	}, nil
}

func (e *Executor) toolSendGroupMessage(ctx context.Context, caller *store.Agent, args map[string]interface{}) (map[string]interface{}, error) {
	groupID := stringArg(args, "group_id")
	content := stringArg(args, "content")

	group, ok := e.st.GetGroup(groupID)
	if !ok {
		return nil, fmt.Errorf("unknown group: %s", groupID)
	}
	if !group.HasMember(caller.ID) {
		return nil, fmt.Errorf("you are not a member of group %s", groupID)
	}

	msg, ok := e.st.AppendMessage(groupID, caller.ID, content, store.MessageText)
	if !ok {
		return nil, fmt.Errorf("failed to append message to group %s", groupID)
	}

	e.bus.Emit(events.MessageCreated{
		MessageID: msg.ID,
		GroupID:   groupID,
		SenderID:  caller.ID,
		Content:   content,
		At:        time.Now(),
	})
	if e.orch != nil {
		for _, memberID := range group.MemberIDs {
			if memberID != caller.ID {
				e.orch.Wake(memberID)
			}
		}
	}

	return map[string]interface{}{"message_id": msg.ID}, nil
}

func (e *Executor) toolCreateGroup(ctx context.Context, caller *store.Agent, args map[string]interface{}) (map[string]interface{}, error) {
	name := stringArg(args, "name")

	var memberIDs []string
	if raw, ok := args["member_ids"].([]interface{}); ok {
		for _, v := range raw {
			if id, ok := v.(string); ok {
				memberIDs = append(memberIDs, id)
			}
		}
	}
	for _, id := range memberIDs {
		if _, ok := e.st.GetAgent(id); !ok {
			return nil, fmt.Errorf("unknown member agent: %s", id)
		}
	}

	members := append([]string{caller.ID}, memberIDs...)
	group := e.st.CreateGroup(caller.WorkspaceID, name, members)

	e.bus.Emit(events.GroupCreated{
		GroupID:     group.ID,
		WorkspaceID: group.WorkspaceID,
		Name:        group.Name,
		MemberIDs:   group.MemberIDs,
		At:          time.Now(),
	})

	return map[string]interface{}{
		"group_id":     group.ID,
		"member_count": len(group.MemberIDs),
	}, nil
}

func (e *Executor) toolListAgents(ctx context.Context, caller *store.Agent, args map[string]interface{}) (map[string]interface{}, error) {
	agents := e.st.ListAgents(caller.WorkspaceID)
	out := make([]map[string]interface{}, 0, len(agents))
	for _, a := range agents {
		out = append(out, map[string]interface{}{
			"agent_id":  a.ID,
			"role":      a.Role,
			"status":    string(a.Status),
			"parent_id": a.ParentID,
		})
	}
	return map[string]interface{}{"agents": out}, nil
}

func (e *Executor) toolListGroups(ctx context.Context, caller *store.Agent, args map[string]interface{}) (map[string]interface{}, error) {
	groups := e.st.ListGroupsByAgent(caller.ID)
	out := make([]map[string]interface{}, 0, len(groups))
	for _, g := range groups {
		out = append(out, map[string]interface{}{
			"group_id":     g.ID,
			"name":         g.Name,
			"member_count": len(g.MemberIDs),
		})
	}
	return map[string]interface{}{"groups": out}, nil
}

func (e *Executor) toolGetGroupMessages(ctx context.Context, caller *store.Agent, args map[string]interface{}) (map[string]interface{}, error) {
	groupID := stringArg(args, "group_id")

	group, ok := e.st.GetGroup(groupID)
	if !ok {
		return nil, fmt.Errorf("unknown group: %s", groupID)
	}
	if !group.HasMember(caller.ID) {
		return nil, fmt.Errorf("you are not a member of group %s", groupID)
	}

	limit := 20
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	msgs := e.st.GetMessages(groupID, limit)
	out := make([]map[string]interface{}, 0, len(msgs))
	for _, m := range msgs {
		sender := m.SenderID
		if a, ok := e.st.GetAgent(m.SenderID); ok {
			sender = a.Role
		}
		out = append(out, map[string]interface{}{
			"message_id": m.ID,
			"sender":     sender,
			"content":    m.Content,
			"type":       string(m.Type),
			"created_at": m.CreatedAt.Format(time.RFC3339),
		})
	}
	return map[string]interface{}{"messages": out}, nil
}

func (e *Executor) toolReportDone(ctx context.Context, caller *store.Agent, args map[string]interface{}) (map[string]interface{}, error) {
	summary := stringArg(args, "summary")

	e.bus.Emit(events.AgentDone{
		AgentID:     caller.ID,
		WorkspaceID: caller.WorkspaceID,
		Summary:     summary,
		At:          time.Now(),
	})

	if caller.ParentID == "" {
		return map[string]interface{}{
			"status":  "done",
			"summary": summary,
		}, nil
	}

	group := e.st.GetOrCreateP2P(caller.WorkspaceID, caller.ID, caller.ParentID)
	content := fmt.Sprintf("[%s reports done] %s", caller.Role, summary)
	msg, ok := e.st.AppendMessage(group.ID, caller.ID, content, store.MessageSystem)
	if ok {
		e.bus.Emit(events.MessageCreated{
			MessageID: msg.ID,
			GroupID:   group.ID,
			SenderID:  caller.ID,
			Content:   content,
			At:        time.Now(),
		})
	}
	if e.orch != nil {
		e.orch.Wake(caller.ParentID)
	}

	return map[string]interface{}{
		"status":   "reported",
		"summary":  summary,
		"group_id": group.ID,
	}, nil
}
