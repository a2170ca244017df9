package loop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentkit/runtime/agent/chat"
	"github.com/agentkit/runtime/agent/eventlog"
	"github.com/agentkit/runtime/agent/ident"
	"github.com/agentkit/runtime/agent/model"
	"github.com/agentkit/runtime/agent/storage"
	"github.com/agentkit/runtime/agent/tools"
)

type fakeClient struct {
	responses []*model.Response
	calls     int
}

func (f *fakeClient) Complete(_ context.Context, _ *model.Request) (*model.Response, error) {
	if f.calls >= len(f.responses) {
		return &model.Response{}, nil
	}
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

func (f *fakeClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func newFixture(t *testing.T, client model.Client, registry *tools.Registry, opts ...Option) (*Loop, storage.Store, ident.ID) {
	t.Helper()
	back := storage.NewMemoryStore()
	chatStore := chat.New(back)
	events := eventlog.New(100)
	if registry == nil {
		registry = tools.NewRegistry()
	}
	l := New(back, chatStore, registry, client, events, opts...)
	id := ident.New("worker", "alice")
	require.NoError(t, chatStore.Persist(context.Background(), id, []chat.Message{
		{ID: "u1", Role: chat.RoleUser, Parts: []chat.Part{{Type: chat.PartTypeText, Text: "hello"}}},
	}))
	return l, back, id
}

func TestTickCompletesWhenModelProposesNoToolCalls(t *testing.T) {
	client := &fakeClient{responses: []*model.Response{{
		Content: []model.Message{{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: "hi there"}}}},
	}}}
	l, back, id := newFixture(t, client, nil)

	result, err := l.Tick(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Run.Status)
	require.False(t, result.Reschedule)

	persisted, ok, err := back.LoadPersist(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	run, err := DecodeRun(persisted.Run)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status)
}

func TestTickProposesToolCallsAndReschedules(t *testing.T) {
	client := &fakeClient{responses: []*model.Response{{
		ToolCalls: []model.ToolCall{{Name: "search", Payload: json.RawMessage(`{"q":"x"}`)}},
	}}}
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(&tools.Spec{
		Name:    "search",
		Handler: func(context.Context, []byte) ([]byte, error) { return []byte(`{"hits":1}`), nil },
	}))
	l, _, id := newFixture(t, client, registry)

	result, err := l.Tick(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, result.Run.Status)
	require.True(t, result.Reschedule)
	require.Len(t, result.Run.PendingToolCalls, 1)
	require.Equal(t, "call_0", result.Run.PendingToolCalls[0].ID)
}

func TestTickDrainsPendingToolCallsThenInvokesModel(t *testing.T) {
	client := &fakeClient{responses: []*model.Response{
		{ToolCalls: []model.ToolCall{{Name: "search", Payload: json.RawMessage(`{}`)}}},
		{Content: []model.Message{{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: "done"}}}}},
	}}
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(&tools.Spec{
		Name:    "search",
		Handler: func(context.Context, []byte) ([]byte, error) { return []byte(`{"hits":1}`), nil },
	}))
	l, back, id := newFixture(t, client, registry)

	first, err := l.Tick(context.Background(), id)
	require.NoError(t, err)
	require.True(t, first.Reschedule)
	require.Len(t, first.Run.PendingToolCalls, 1)

	second, err := l.Tick(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, second.Run.Status)
	require.Empty(t, second.Run.PendingToolCalls)

	chatStore := chat.New(back)
	msgs, err := chatStore.List(context.Background(), id)
	require.NoError(t, err)

	foundToolResult := false
	for _, m := range msgs {
		if m.Role == chat.RoleTool {
			foundToolResult = true
		}
	}
	require.True(t, foundToolResult, "tool result message must be persisted")
}

func TestTickOnUnknownToolRecordsErrorResultAndContinues(t *testing.T) {
	client := &fakeClient{responses: []*model.Response{
		{ToolCalls: []model.ToolCall{{Name: "missing", Payload: json.RawMessage(`{}`)}}},
		{Content: []model.Message{{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: "ok"}}}}},
	}}
	l, _, id := newFixture(t, client, nil)

	first, err := l.Tick(context.Background(), id)
	require.NoError(t, err)
	require.True(t, first.Reschedule)

	second, err := l.Tick(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, second.Run.Status)
}

func seedRunning(t *testing.T, back storage.Store, id ident.ID) {
	t.Helper()
	encoded, err := NewRun().Encode()
	require.NoError(t, err)
	require.NoError(t, back.SavePersist(context.Background(), id, storage.Persisted{Run: encoded}))
}

func TestTickIsNoopWhenRunIsNotRunning(t *testing.T) {
	client := &fakeClient{}
	l, back, id := newFixture(t, client, nil)
	seedRunning(t, back, id)

	_, err := l.Cancel(context.Background(), id)
	require.NoError(t, err)

	result, err := l.Tick(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, result.Run.Status)
	require.Equal(t, 0, client.calls, "a canceled run must never invoke the model")
}

func TestCancelTransitionsRunningToCanceled(t *testing.T) {
	l, back, id := newFixture(t, &fakeClient{}, nil)
	seedRunning(t, back, id)

	run, err := l.Cancel(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, run.Status)
}

func TestApproveWithoutPendingHitlFails(t *testing.T) {
	l, _, id := newFixture(t, &fakeClient{}, nil)

	_, err := l.Approve(context.Background(), id, true, nil)
	require.Error(t, err)
}

func TestApproveRejectionDoesNotClearPendingCalls(t *testing.T) {
	l, back, id := newFixture(t, &fakeClient{}, nil)

	run := Run{Status: StatusPaused, PauseReason: PauseReasonHITL, PendingToolCalls: []ToolCall{{ID: "call_0", Name: "search"}}}
	encoded, err := run.Encode()
	require.NoError(t, err)
	require.NoError(t, back.SavePersist(context.Background(), id, storage.Persisted{Run: encoded}))

	updated, err := l.Approve(context.Background(), id, false, nil)
	require.NoError(t, err)
	require.Len(t, updated.PendingToolCalls, 1, "rejection alone must not clear pending calls")
	require.Equal(t, StatusPaused, updated.Status)
}

func TestApproveReplacesPendingCallsAndResumes(t *testing.T) {
	l, back, id := newFixture(t, &fakeClient{}, nil)

	run := Run{Status: StatusPaused, PauseReason: PauseReasonHITL, PendingToolCalls: []ToolCall{{ID: "call_0", Name: "search"}}}
	encoded, err := run.Encode()
	require.NoError(t, err)
	require.NoError(t, back.SavePersist(context.Background(), id, storage.Persisted{Run: encoded}))

	updated, err := l.Approve(context.Background(), id, true, []ToolCall{{ID: "call_0", Name: "search", Input: json.RawMessage(`{"q":"y"}`)}})
	require.NoError(t, err)
	require.Equal(t, StatusRunning, updated.Status)
	require.Equal(t, json.RawMessage(`{"q":"y"}`), updated.PendingToolCalls[0].Input)
}
