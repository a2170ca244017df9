package loop

import (
	"context"

	"github.com/agentkit/runtime/agent/eventlog"
	"github.com/agentkit/runtime/agent/ident"
	"github.com/agentkit/runtime/internal/agenterr"
)

// Approve implements approve(body): when approved, pending tool calls are
// replaced with modifiedToolCalls (or left as-is if nil) and the Run
// transitions back to running. Rejection is recorded as an event but does
// not by itself clear the pending calls — the caller must pass an empty or
// modified list to actually drop them, per the approve/resume contract.
func (l *Loop) Approve(ctx context.Context, id ident.ID, approved bool, modifiedToolCalls []ToolCall) (Run, error) {
	persisted, ok, err := l.backend.LoadPersist(ctx, id)
	if err != nil {
		return Run{}, err
	}
	if !ok {
		return Run{}, agenterr.New(agenterr.InvalidApproval, "no run to approve")
	}
	run, err := DecodeRun(persisted.Run)
	if err != nil {
		return Run{}, err
	}
	if run.Status != StatusPaused || run.PauseReason != PauseReasonHITL {
		return Run{}, agenterr.New(agenterr.InvalidApproval, "run has no pending hitl approval")
	}

	if !approved {
		l.events.Append(ctx, eventlog.TypeHITLResume, id.String(), mustJSON(map[string]any{"approved": false}))
		if err := l.checkpoint(ctx, id, &persisted, run); err != nil {
			return Run{}, err
		}
		return run, nil
	}

	if modifiedToolCalls != nil {
		run.PendingToolCalls = modifiedToolCalls
	}
	run.Status = StatusRunning
	run.PauseReason = ""
	l.events.Append(ctx, eventlog.TypeHITLResume, id.String(), mustJSON(map[string]any{"approved": true}))
	l.events.Append(ctx, eventlog.TypeRunResumed, id.String(), nil)
	if err := l.checkpoint(ctx, id, &persisted, run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Cancel transitions the current Run to canceled immediately; the next Tick
// call short-circuits as a no-op. In-flight tool handlers are not
// interrupted mid-call — callers that need that propagate ctx cancellation
// themselves.
func (l *Loop) Cancel(ctx context.Context, id ident.ID) (Run, error) {
	persisted, ok, err := l.backend.LoadPersist(ctx, id)
	if err != nil {
		return Run{}, err
	}
	if !ok {
		return Run{}, agenterr.New(agenterr.NotFound, "no run to cancel")
	}
	run, err := DecodeRun(persisted.Run)
	if err != nil {
		return Run{}, err
	}
	if run.Status == StatusCompleted || run.Status == StatusError || run.Status == StatusCanceled {
		return run, nil
	}
	run.Status = StatusCanceled
	l.events.Append(ctx, eventlog.TypeRunCanceled, id.String(), nil)
	if err := l.checkpoint(ctx, id, &persisted, run); err != nil {
		return Run{}, err
	}
	return run, nil
}
