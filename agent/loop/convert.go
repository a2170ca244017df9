package loop

import (
	"github.com/agentkit/runtime/agent/chat"
	"github.com/agentkit/runtime/agent/model"
)

// toModelMessages renders persisted chat messages into the provider-agnostic
// model.Message shape the loop composes into a request, filtering out system
// role messages per the compose-request step (the current systemPrompt
// supplies the system turn instead). Tool-role messages — the role=tool
// message the loop itself appends after executing a pending tool call — are
// rendered as a user turn carrying a ToolResultPart, the wire convention
// most model providers expect for tool results.
func toModelMessages(msgs []chat.Message) []*model.Message {
	out := make([]*model.Message, 0, len(msgs))
	for _, m := range msgs {
		role, ok := modelRole(m.Role)
		if !ok {
			continue
		}
		out = append(out, &model.Message{Role: role, Parts: toModelParts(m.Parts)})
	}
	return out
}

func modelRole(role string) (model.ConversationRole, bool) {
	switch role {
	case chat.RoleUser:
		return model.ConversationRoleUser, true
	case chat.RoleAssistant:
		return model.ConversationRoleAssistant, true
	case chat.RoleTool:
		return model.ConversationRoleUser, true
	default:
		return "", false
	}
}

func toModelParts(parts []chat.Part) []model.Part {
	out := make([]model.Part, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case chat.PartTypeText:
			out = append(out, model.TextPart{Text: p.Text})
		case chat.PartTypeToolInvocation:
			if p.State == chat.StateOutputAvailable {
				out = append(out, model.ToolResultPart{ToolUseID: p.ToolCallID, Content: p.Output})
			} else {
				out = append(out, model.ToolUsePart{ID: p.ToolCallID, Name: p.ToolName, Input: p.Input})
			}
		}
	}
	return out
}
