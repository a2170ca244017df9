package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/agentkit/runtime/agent/chat"
	"github.com/agentkit/runtime/agent/eventlog"
	"github.com/agentkit/runtime/agent/ident"
	"github.com/agentkit/runtime/agent/model"
	"github.com/agentkit/runtime/agent/storage"
	"github.com/agentkit/runtime/agent/tools"
)

// DefaultToolsPerTick bounds how many pending tool calls a single tick
// drains before yielding back to the scheduler.
const DefaultToolsPerTick = 4

// Loop drives one instance's Run through bounded ticks. A Loop is stateless
// between calls: every Tick reloads persisted state, so one Loop value may
// be shared across instances as long as the caller serializes calls per
// instance (the single-writer discipline lives one layer up, in
// agent/instance).
type Loop struct {
	backend      storage.Store
	chat         *chat.Store
	tools        *tools.Registry
	modelClient  model.Client
	events       *eventlog.Log
	middlewares  []Middleware
	systemPrompt string
	toolsPerTick int
}

// Option configures a Loop at construction.
type Option func(*Loop)

// WithSystemPrompt sets the base system prompt composed into every request.
func WithSystemPrompt(prompt string) Option {
	return func(l *Loop) { l.systemPrompt = prompt }
}

// WithToolsPerTick overrides DefaultToolsPerTick.
func WithToolsPerTick(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.toolsPerTick = n
		}
	}
}

// WithMiddleware appends middleware to the beforeModel/modifyModelRequest/
// afterModel chain, in the order supplied.
func WithMiddleware(mws ...Middleware) Option {
	return func(l *Loop) { l.middlewares = append(l.middlewares, mws...) }
}

// New constructs a Loop over the given storage, chat persistence, tool
// registry, model client, and event log.
func New(backend storage.Store, chatStore *chat.Store, toolRegistry *tools.Registry, modelClient model.Client, events *eventlog.Log, opts ...Option) *Loop {
	l := &Loop{
		backend:      backend,
		chat:         chatStore,
		tools:        toolRegistry,
		modelClient:  modelClient,
		events:       events,
		toolsPerTick: DefaultToolsPerTick,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TickResult reports what a single Tick call did, for the caller (the
// per-instance actor in agent/instance) to decide whether to reschedule
// immediately, wait for external input, or invoke a newly spawned child.
type TickResult struct {
	Run        Run
	Reschedule bool
	Spawns     []SpawnIntent
}

// Tick executes at most one pending-tool drain batch, one middleware chain,
// and one model invocation, then checkpoints. Calling Tick on a Run that is
// not currently running is a no-op: it returns the unchanged Run.
func (l *Loop) Tick(ctx context.Context, id ident.ID) (TickResult, error) {
	persisted, _, err := l.backend.LoadPersist(ctx, id)
	if err != nil {
		return TickResult{}, err
	}
	run, err := DecodeRun(persisted.Run)
	if err != nil {
		return TickResult{}, err
	}
	if run.Status != StatusRunning {
		return TickResult{Run: run}, nil
	}

	run.Step++
	l.events.Append(ctx, eventlog.TypeRunTick, id.String(), mustJSON(map[string]any{"step": run.Step}))

	if len(run.PendingToolCalls) > 0 {
		return l.tickDrainPending(ctx, id, &persisted, run)
	}
	return l.tickInvokeModel(ctx, id, &persisted, run)
}

// tickDrainPending executes up to toolsPerTick pending tool calls in
// parallel, appends their results as tool-role chat messages, and either
// pauses for a sub-agent spawn, reschedules immediately if calls remain, or
// falls through to model invocation once the queue is empty.
func (l *Loop) tickDrainPending(ctx context.Context, id ident.ID, persisted *storage.Persisted, run Run) (TickResult, error) {
	n := l.toolsPerTick
	if n <= 0 || n > len(run.PendingToolCalls) {
		n = len(run.PendingToolCalls)
	}
	batch := run.PendingToolCalls[:n]
	remaining := append([]ToolCall(nil), run.PendingToolCalls[n:]...)

	spawns, err := l.executeBatch(ctx, id, &run, batch)
	if err != nil {
		return TickResult{}, err
	}
	run.PendingToolCalls = remaining

	if len(spawns) > 0 {
		run.Status = StatusPaused
		run.PauseReason = PauseReasonSubagent
		l.events.Append(ctx, eventlog.TypeRunPaused, id.String(), mustJSON(map[string]any{"reason": PauseReasonSubagent}))
		if err := l.checkpoint(ctx, id, persisted, run); err != nil {
			return TickResult{}, err
		}
		return TickResult{Run: run, Spawns: spawns}, nil
	}

	if len(remaining) > 0 {
		if err := l.checkpoint(ctx, id, persisted, run); err != nil {
			return TickResult{}, err
		}
		return TickResult{Run: run, Reschedule: true}, nil
	}

	return l.tickInvokeModel(ctx, id, persisted, run)
}

// executeBatch runs every call in batch concurrently, validating input
// against its tool spec, invoking the handler, and appending a tool-role
// chat message bound to the originating toolCallId. Handler output of the
// form {"__spawn": {...}} is collected as a SpawnIntent rather than
// appended as a result.
func (l *Loop) executeBatch(ctx context.Context, id ident.ID, run *Run, batch []ToolCall) ([]SpawnIntent, error) {
	type outcome struct {
		call   ToolCall
		output []byte
		toolErr error
		spawn  *SpawnIntent
	}
	results := make([]outcome, len(batch))

	var wg sync.WaitGroup
	for i, call := range batch {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			l.events.Append(ctx, eventlog.TypeToolStarted, id.String(), mustJSON(map[string]any{
				"toolCallId": call.ID, "name": call.Name,
			}))

			spec, ok := l.tools.Lookup(call.Name)
			if !ok {
				results[i] = outcome{call: call, toolErr: fmt.Errorf("loop: unknown tool %q", call.Name)}
				return
			}
			if err := spec.Validate(call.Input); err != nil {
				results[i] = outcome{call: call, toolErr: err}
				return
			}
			out, err := spec.Handler(ctx, call.Input)
			if err != nil {
				results[i] = outcome{call: call, toolErr: err}
				return
			}
			if intent, ok := parseSpawnIntent(out); ok {
				intent.ToolCallID = call.ID
				results[i] = outcome{call: call, spawn: &intent}
				return
			}
			results[i] = outcome{call: call, output: out}
		}(i, call)
	}
	wg.Wait()

	var spawns []SpawnIntent
	for _, r := range results {
		switch {
		case r.spawn != nil:
			intent := *r.spawn
			intent.Token = uuid.NewString()
			intent.ChildThreadID = uuid.NewString()
			run.Waiters = append(run.Waiters, Waiter{Token: intent.Token, ChildThreadID: intent.ChildThreadID, ToolCallID: r.call.ID})
			l.events.Append(ctx, eventlog.TypeSubagentSpawned, id.String(), mustJSON(intent))
			spawns = append(spawns, intent)
		case r.toolErr != nil:
			te := tools.Wrap(r.toolErr, tools.RetryNone)
			l.events.Append(ctx, eventlog.TypeToolError, id.String(), mustJSON(map[string]any{
				"toolCallId": r.call.ID, "error": te.Error(), "retryHint": te.Hint,
			}))
			if err := l.appendToolResult(ctx, id, r.call, json.RawMessage(fmt.Sprintf(`{"error":%q}`, te.Error()))); err != nil {
				return nil, err
			}
		default:
			l.events.Append(ctx, eventlog.TypeToolOutput, id.String(), mustJSON(map[string]any{
				"toolCallId": r.call.ID,
			}))
			if err := l.appendToolResult(ctx, id, r.call, r.output); err != nil {
				return nil, err
			}
		}
	}
	return spawns, nil
}

func (l *Loop) appendToolResult(ctx context.Context, id ident.ID, call ToolCall, output json.RawMessage) error {
	msg := chat.Message{
		ID:   uuid.NewString(),
		Role: chat.RoleTool,
		Parts: []chat.Part{{
			Type:       chat.PartTypeToolInvocation,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			State:      chat.StateOutputAvailable,
			Output:     output,
		}},
	}
	return l.chat.Persist(ctx, id, []chat.Message{msg})
}

// tickInvokeModel runs the middleware chain, invokes the model, applies the
// verdict, and checkpoints.
func (l *Loop) tickInvokeModel(ctx context.Context, id ident.ID, persisted *storage.Persisted, run Run) (TickResult, error) {
	msgs, err := l.chat.List(ctx, id)
	if err != nil {
		return TickResult{}, err
	}
	st := &State{ThreadID: id.String(), SystemPrompt: l.systemPrompt, Messages: toModelMessages(msgs), Meta: map[string]any{}}

	jump, err := runBeforeModel(ctx, l.middlewares, st)
	if err != nil {
		return l.fail(ctx, id, persisted, run, err)
	}
	switch jump {
	case JumpEnd:
		run.Status = StatusCompleted
		l.events.Append(ctx, eventlog.TypeAgentCompleted, id.String(), nil)
		if err := l.checkpoint(ctx, id, persisted, run); err != nil {
			return TickResult{}, err
		}
		return TickResult{Run: run}, nil
	case JumpTools:
		if err := l.checkpoint(ctx, id, persisted, run); err != nil {
			return TickResult{}, err
		}
		return TickResult{Run: run, Reschedule: true}, nil
	}

	toolDefs, err := collectToolDefs(l.middlewares)
	if err != nil {
		return l.fail(ctx, id, persisted, run, err)
	}

	req := &model.Request{
		RunID:    id.String(),
		Messages: composeSystemPrompt(st.SystemPrompt, st.Messages),
		Tools:    toolDefs,
	}
	if err := runModifyModelRequest(ctx, l.middlewares, st, req); err != nil {
		return l.fail(ctx, id, persisted, run, err)
	}

	l.events.Append(ctx, eventlog.TypeModelStarted, id.String(), nil)
	resp, err := l.modelClient.Complete(ctx, req)
	if err != nil {
		return l.fail(ctx, id, persisted, run, err)
	}
	l.events.Append(ctx, eventlog.TypeModelCompleted, id.String(), mustJSON(map[string]any{"usage": resp.Usage}))

	if err := runAfterModel(ctx, l.middlewares, st, resp); err != nil {
		return l.fail(ctx, id, persisted, run, err)
	}

	if err := l.persistAssistantResponse(ctx, id, run.Step, resp); err != nil {
		return TickResult{}, err
	}

	if pending, ok := st.Meta["pendingToolCalls"].([]ToolCall); ok && len(pending) > 0 {
		run.PendingToolCalls = pending
		run.Status = StatusPaused
		run.PauseReason = PauseReasonHITL
		l.events.Append(ctx, eventlog.TypeHITLInterrupt, id.String(), mustJSON(map[string]any{"count": len(pending)}))
		l.events.Append(ctx, eventlog.TypeRunPaused, id.String(), mustJSON(map[string]any{"reason": PauseReasonHITL}))
		if err := l.checkpoint(ctx, id, persisted, run); err != nil {
			return TickResult{}, err
		}
		return TickResult{Run: run}, nil
	}

	if len(resp.ToolCalls) == 0 {
		run.Status = StatusCompleted
		l.events.Append(ctx, eventlog.TypeAgentCompleted, id.String(), nil)
		if err := l.checkpoint(ctx, id, persisted, run); err != nil {
			return TickResult{}, err
		}
		return TickResult{Run: run}, nil
	}

	calls := make([]ToolCall, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		calls[i] = ToolCall{ID: fmt.Sprintf("call_%d", i), Name: tc.Name, Input: tc.Payload}
	}
	run.PendingToolCalls = calls
	if err := l.checkpoint(ctx, id, persisted, run); err != nil {
		return TickResult{}, err
	}
	return TickResult{Run: run, Reschedule: true}, nil
}

func (l *Loop) fail(ctx context.Context, id ident.ID, persisted *storage.Persisted, run Run, cause error) (TickResult, error) {
	run.Status = StatusError
	run.Error = cause.Error()
	l.events.Append(ctx, eventlog.TypeAgentError, id.String(), mustJSON(map[string]any{"error": cause.Error()}))
	if err := l.checkpoint(ctx, id, persisted, run); err != nil {
		return TickResult{}, err
	}
	return TickResult{Run: run}, nil
}

// persistAssistantResponse writes the model's reply as chat messages,
// assigning stable call_N ids to any proposed tool calls so they match on
// resume (the assistant message carries input-available tool-invocation
// parts; results are appended separately once each call executes).
func (l *Loop) persistAssistantResponse(ctx context.Context, id ident.ID, step int, resp *model.Response) error {
	parts := make([]chat.Part, 0, len(resp.Content)+len(resp.ToolCalls))
	for _, m := range resp.Content {
		for _, p := range m.Parts {
			if tp, ok := p.(model.TextPart); ok {
				parts = append(parts, chat.Part{Type: chat.PartTypeText, Text: tp.Text})
			}
		}
	}
	for i, tc := range resp.ToolCalls {
		parts = append(parts, chat.Part{
			Type:       chat.PartTypeToolInvocation,
			ToolCallID: fmt.Sprintf("call_%d", i),
			ToolName:   tc.Name,
			State:      chat.StateInputAvailable,
			Input:      tc.Payload,
		})
	}
	if len(parts) == 0 {
		return nil
	}
	msg := chat.Message{ID: fmt.Sprintf("assistant-%s-%d", id.String(), step), Role: chat.RoleAssistant, Parts: parts}
	return l.chat.Persist(ctx, id, []chat.Message{msg})
}

// composeSystemPrompt prepends prompt as a system message, when non-empty,
// ahead of the already-filtered message history.
func composeSystemPrompt(prompt string, msgs []*model.Message) []*model.Message {
	if prompt == "" {
		return msgs
	}
	sys := &model.Message{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: prompt}}}
	return append([]*model.Message{sys}, msgs...)
}
