package instance

import (
	"context"
	"encoding/json"

	"github.com/agentkit/runtime/agent/chat"
	"github.com/agentkit/runtime/agent/connreg"
	"github.com/agentkit/runtime/agent/eventlog"
	"github.com/agentkit/runtime/agent/loop"
	"github.com/agentkit/runtime/agent/storage"
)

// Invoke implements POST /{class}/{name}/invoke: it persists any supplied
// messages, ensures a Run exists and is running, and returns immediately
// (202 Accepted semantics) while the tick loop drives to completion, a
// pause, or an error asynchronously.
func (i *Instance) Invoke(ctx context.Context, messages []chat.Message) (loop.Run, error) {
	var result loop.Run
	var outErr error

	i.submit(func(ctx context.Context) {
		if len(messages) > 0 {
			if err := i.chat.Persist(ctx, i.ID, messages); err != nil {
				outErr = err
				return
			}
		}
		result, outErr = i.ensureRunning(ctx)
	})
	if outErr != nil {
		return loop.Run{}, outErr
	}

	i.submitAsync(func(ctx context.Context) { i.driveTickLoop(ctx) })
	return result, nil
}

// ensureRunning transitions the instance's persisted Run to running,
// creating one at step 0 if none exists yet. Must only be called from
// within the actor.
func (i *Instance) ensureRunning(ctx context.Context) (loop.Run, error) {
	persisted, ok, err := i.backend.LoadPersist(ctx, i.ID)
	if err != nil {
		return loop.Run{}, err
	}
	if !ok {
		persisted.State = json.RawMessage(`{}`)
	}
	var run loop.Run
	if len(persisted.Run) > 0 {
		run, err = loop.DecodeRun(persisted.Run)
		if err != nil {
			return loop.Run{}, err
		}
	} else {
		run = loop.NewRun()
	}
	if run.Status != loop.StatusRunning {
		run.Status = loop.StatusRunning
		run.PauseReason = ""
	}
	encoded, err := run.Encode()
	if err != nil {
		return loop.Run{}, err
	}
	persisted.Run = encoded
	if err := i.backend.SavePersist(ctx, i.ID, persisted); err != nil {
		return loop.Run{}, err
	}
	i.events.Append(ctx, eventlog.TypeRunStarted, i.ID.String(), nil)
	return run, nil
}

// Approve implements POST /{class}/{name}/approve.
func (i *Instance) Approve(ctx context.Context, approved bool, modifiedToolCalls []loop.ToolCall) (loop.Run, error) {
	var result loop.Run
	var outErr error
	i.submit(func(ctx context.Context) {
		result, outErr = i.loop.Approve(ctx, i.ID, approved, modifiedToolCalls)
	})
	if outErr != nil {
		return loop.Run{}, outErr
	}
	if approved {
		i.submitAsync(func(ctx context.Context) { i.driveTickLoop(ctx) })
	}
	return result, nil
}

// Cancel implements POST /{class}/{name}/cancel.
func (i *Instance) Cancel(ctx context.Context) (loop.Run, error) {
	var result loop.Run
	var outErr error
	i.submit(func(ctx context.Context) {
		result, outErr = i.loop.Cancel(ctx, i.ID)
	})
	return result, outErr
}

// driveTickLoop runs Tick repeatedly while it reports Reschedule, dispatches
// any sub-agent spawns it produces, and reports a terminal run back to a
// parent waiter if this instance was itself spawned. Must only be called
// from within the actor (already holding the single-writer slot).
func (i *Instance) driveTickLoop(ctx context.Context) {
	for {
		result, err := i.loop.Tick(ctx, i.ID)
		if err != nil {
			return
		}
		for _, spawn := range result.Spawns {
			i.registry.dispatchSpawn(ctx, i.ID, spawn)
		}
		i.maybeNotifyParent(ctx, result.Run)
		if !result.Reschedule {
			return
		}
	}
}

func (i *Instance) setParentLink(p *parentLink) {
	i.mu.Lock()
	i.parent = p
	i.mu.Unlock()
}

// maybeNotifyParent reports this instance's terminal run status to its
// parent exactly once, as the report content for the waiter the parent is
// blocked on.
func (i *Instance) maybeNotifyParent(ctx context.Context, run loop.Run) {
	i.mu.Lock()
	p := i.parent
	already := i.notifiedParent
	i.mu.Unlock()
	if p == nil || already {
		return
	}
	terminal := run.Status == loop.StatusCompleted || run.Status == loop.StatusError || run.Status == loop.StatusCanceled
	if !terminal {
		return
	}

	report := i.buildChildReport(ctx, run)
	i.mu.Lock()
	i.notifiedParent = true
	i.mu.Unlock()
	i.registry.notifyParent(p.ParentID, p.Token, i.ID.String(), report)
}

// buildChildReport summarizes this instance's final output for its parent:
// the text of the last assistant message, or the run's error.
func (i *Instance) buildChildReport(ctx context.Context, run loop.Run) json.RawMessage {
	if run.Status == loop.StatusError {
		raw, _ := json.Marshal(map[string]string{"error": run.Error})
		return raw
	}
	text, err := i.lastAssistantText(ctx)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	raw, _ := json.Marshal(map[string]string{"text": text})
	return raw
}

// State implements GET /{class}/{name}/state.
func (i *Instance) State(ctx context.Context) (json.RawMessage, error) {
	persisted, ok, err := i.backend.LoadPersist(ctx, i.ID)
	if err != nil {
		return nil, err
	}
	if !ok || len(persisted.State) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return persisted.State, nil
}

// UpdateState overwrites the instance's durable state blob and broadcasts
// the change to protocol-enabled connections. readonly callers must call
// Conn.RejectIfReadonly before invoking this.
func (i *Instance) UpdateState(ctx context.Context, raw json.RawMessage) error {
	var outErr error
	i.submit(func(ctx context.Context) {
		persisted, ok, err := i.backend.LoadPersist(ctx, i.ID)
		if err != nil {
			outErr = err
			return
		}
		if !ok {
			persisted = storage.Persisted{}
		}
		persisted.State = raw
		if err := i.backend.SavePersist(ctx, i.ID, persisted); err != nil {
			outErr = err
			return
		}
		if frame, err := connreg.Encode(connreg.TypeState, connreg.StatePayload{State: raw}); err == nil {
			i.conns.Broadcast(i.ID, frame)
		}
	})
	return outErr
}

// Events returns the retained event ring for GET /{class}/{name}/events.
func (i *Instance) Events() []eventlog.Event { return i.events.Snapshot() }

// ListMessages implements GET /{class}/{name}/messages.
func (i *Instance) ListMessages(ctx context.Context) ([]chat.Message, error) {
	return i.chat.List(ctx, i.ID)
}

// ClearHistory implements DELETE /{class}/{name}/messages: clears messages
// and streams so subsequent /stream/* calls 404.
func (i *Instance) ClearHistory(ctx context.Context) error {
	var outErr error
	i.submit(func(ctx context.Context) { outErr = i.chat.ClearHistory(ctx, i.ID) })
	return outErr
}

// ApplyToolResult implements the cf_agent_tool_result protocol message
// outside the WebSocket dispatch path (e.g. from an HTTP variant), flipping
// the matching tool part to output-available without creating a new
// message.
func (i *Instance) ApplyToolResult(ctx context.Context, toolCallID, toolName string, output json.RawMessage) error {
	var outErr error
	i.submit(func(ctx context.Context) {
		_, _, err := i.chat.ApplyToolResult(ctx, i.ID, toolCallID, toolName, output)
		outErr = err
	})
	return outErr
}
