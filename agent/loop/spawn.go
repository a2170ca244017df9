package loop

import (
	"context"
	"encoding/json"

	"github.com/agentkit/runtime/agent/chat"
	"github.com/agentkit/runtime/agent/eventlog"
	"github.com/agentkit/runtime/agent/ident"
	"github.com/agentkit/runtime/internal/agenterr"
)

// SpawnIntent is what a tool handler returns to request a sub-agent rather
// than a plain result: {"__spawn": {description, subagent_type, timeoutMs?}}.
// Token and ChildThreadID are allocated by the loop once the intent is
// recognized; ToolCallID identifies the originating call.
type SpawnIntent struct {
	ToolCallID    string `json:"toolCallId"`
	Token         string `json:"token"`
	ChildThreadID string `json:"childThreadId"`
	Description   string `json:"description"`
	SubagentType  string `json:"subagentType"`
	TimeoutMs     int    `json:"timeoutMs,omitempty"`
}

type spawnEnvelope struct {
	Spawn *spawnFields `json:"__spawn"`
}

type spawnFields struct {
	Description  string `json:"description"`
	SubagentType string `json:"subagent_type"`
	TimeoutMs    int    `json:"timeoutMs,omitempty"`
}

// parseSpawnIntent reports whether a tool handler's raw output is a spawn
// directive rather than a plain result.
func parseSpawnIntent(output []byte) (SpawnIntent, bool) {
	var env spawnEnvelope
	if err := json.Unmarshal(output, &env); err != nil || env.Spawn == nil {
		return SpawnIntent{}, false
	}
	return SpawnIntent{
		Description:  env.Spawn.Description,
		SubagentType: env.Spawn.SubagentType,
		TimeoutMs:    env.Spawn.TimeoutMs,
	}, true
}

// ApplyChildResult implements /child_result: it validates token against the
// parent's waiters, appends a role=tool message bound to the waiter's
// toolCallId with report as content, emits subagent.completed, removes the
// waiter, and — only once the last waiter clears — transitions the parent
// back to running. The returned bool reports whether the caller should
// reschedule a tick (true exactly when the last waiter just cleared).
func (l *Loop) ApplyChildResult(ctx context.Context, id ident.ID, token, childThreadID string, report json.RawMessage) (Run, bool, error) {
	persisted, _, err := l.backend.LoadPersist(ctx, id)
	if err != nil {
		return Run{}, false, err
	}
	run, err := DecodeRun(persisted.Run)
	if err != nil {
		return Run{}, false, err
	}

	idx := run.waiterIndex(token)
	if idx < 0 {
		return Run{}, false, agenterr.New(agenterr.InvalidApproval, "unknown sub-agent token")
	}
	waiter := run.Waiters[idx]
	if waiter.ChildThreadID != childThreadID {
		return Run{}, false, agenterr.New(agenterr.InvalidApproval, "child thread id does not match waiter")
	}

	msg := chat.Message{
		ID:   "subagent-result-" + token,
		Role: chat.RoleTool,
		Parts: []chat.Part{{
			Type:       chat.PartTypeToolInvocation,
			ToolCallID: waiter.ToolCallID,
			State:      chat.StateOutputAvailable,
			Output:     report,
		}},
	}
	if err := l.chat.Persist(ctx, id, []chat.Message{msg}); err != nil {
		return Run{}, false, err
	}

	l.events.Append(ctx, eventlog.TypeSubagentCompleted, id.String(), mustJSON(map[string]any{
		"token": token, "childThreadId": childThreadID,
	}))

	run.Waiters = append(run.Waiters[:idx], run.Waiters[idx+1:]...)

	resumed := false
	if len(run.Waiters) == 0 {
		run.Status = StatusRunning
		run.PauseReason = ""
		resumed = true
		l.events.Append(ctx, eventlog.TypeRunResumed, id.String(), nil)
	}
	if err := l.checkpoint(ctx, id, &persisted, run); err != nil {
		return Run{}, false, err
	}
	return run, resumed, nil
}
