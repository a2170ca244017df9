package chat

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentkit/runtime/agent/ident"
	"github.com/agentkit/runtime/agent/storage"
)

func testID(t *testing.T) ident.ID {
	t.Helper()
	return ident.ID{Class: "worker", Name: "alice"}
}

func TestPersistInsertsNewMessage(t *testing.T) {
	ctx := context.Background()
	id := testID(t)
	back := storage.NewMemoryStore()
	s := New(back)

	msg := Message{ID: "m1", Role: RoleUser, Parts: []Part{{Type: PartTypeText, Text: "hi"}}}
	require.NoError(t, s.Persist(ctx, id, []Message{msg}))

	got, err := s.List(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "m1", got[0].ID)
}

func TestPersistUpsertsByID(t *testing.T) {
	ctx := context.Background()
	id := testID(t)
	back := storage.NewMemoryStore()
	s := New(back)

	require.NoError(t, s.Persist(ctx, id, []Message{{ID: "m1", Role: RoleUser, Parts: []Part{{Type: PartTypeText, Text: "v1"}}}}))
	require.NoError(t, s.Persist(ctx, id, []Message{{ID: "m1", Role: RoleUser, Parts: []Part{{Type: PartTypeText, Text: "v2"}}}}))

	got, err := s.List(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "v2", got[0].Parts[0].Text)
}

func TestPersistMergesSoleOutputToolPartIntoExistingMessage(t *testing.T) {
	ctx := context.Background()
	id := testID(t)
	back := storage.NewMemoryStore()
	s := New(back)

	stored := Message{
		ID:   "assistant-1",
		Role: RoleAssistant,
		Parts: []Part{
			{Type: PartTypeText, Text: "calling tool"},
			{Type: PartTypeToolInvocation, ToolCallID: "call_1", ToolName: "search", State: StateInputAvailable},
		},
	}
	require.NoError(t, s.Persist(ctx, id, []Message{stored}))

	incoming := Message{
		ID:   "client-generated-id",
		Role: RoleAssistant,
		Parts: []Part{
			{Type: PartTypeToolInvocation, ToolCallID: "call_1", ToolName: "search", State: StateOutputAvailable, Output: json.RawMessage(`{"hits":3}`)},
		},
	}
	require.NoError(t, s.Persist(ctx, id, []Message{incoming}))

	got, err := s.List(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 1, "merge must not create a second message")
	require.Equal(t, "assistant-1", got[0].ID)
	require.Equal(t, StateOutputAvailable, got[0].Parts[1].State)
	require.JSONEq(t, `{"hits":3}`, string(got[0].Parts[1].Output))
}

func TestPersistStripsProviderMetadata(t *testing.T) {
	ctx := context.Background()
	id := testID(t)
	back := storage.NewMemoryStore()
	s := New(back)

	msg := Message{
		ID:               "m1",
		Role:             RoleAssistant,
		ProviderMetadata: map[string]any{"itemId": "resp_123", "model": "gpt"},
		Parts: []Part{
			{Type: PartTypeText, Text: "hi", CallProviderMetadata: map[string]any{"itemId": "item_456"}},
		},
	}
	require.NoError(t, s.Persist(ctx, id, []Message{msg}))

	got, err := s.List(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 1)
	_, hasItemID := got[0].ProviderMetadata["itemId"]
	require.False(t, hasItemID)
	require.Equal(t, "gpt", got[0].ProviderMetadata["model"])
	_, partHasItemID := got[0].Parts[0].CallProviderMetadata["itemId"]
	require.False(t, partHasItemID)
}

func TestApplyToolResultFlipsMatchingPartAndNeverInserts(t *testing.T) {
	ctx := context.Background()
	id := testID(t)
	back := storage.NewMemoryStore()
	s := New(back)

	stored := Message{
		ID:   "assistant-1",
		Role: RoleAssistant,
		Parts: []Part{
			{Type: PartTypeToolInvocation, ToolCallID: "call_1", ToolName: "search", State: StateInputAvailable},
		},
	}
	require.NoError(t, s.Persist(ctx, id, []Message{stored}))

	updated, ok, err := s.ApplyToolResult(ctx, id, "call_1", "search", json.RawMessage(`{"hits":1}`))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StateOutputAvailable, updated.Parts[0].State)

	got, err := s.List(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestApplyToolResultNotFoundWhenNoMatchingPart(t *testing.T) {
	ctx := context.Background()
	id := testID(t)
	back := storage.NewMemoryStore()
	s := New(back)

	_, ok, err := s.ApplyToolResult(ctx, id, "missing", "search", json.RawMessage(`{}`))
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.False(t, ok)
}

func TestClearHistoryDeletesMessagesAndStreams(t *testing.T) {
	ctx := context.Background()
	id := testID(t)
	back := storage.NewMemoryStore()
	s := New(back)

	require.NoError(t, s.Persist(ctx, id, []Message{{ID: "m1", Role: RoleUser, Parts: []Part{{Type: PartTypeText, Text: "hi"}}}}))
	require.NoError(t, back.CreateStream(ctx, id, "s1"))

	require.NoError(t, s.ClearHistory(ctx, id))

	got, err := s.List(ctx, id)
	require.NoError(t, err)
	require.Empty(t, got)

	_, ok, err := back.GetStream(ctx, id, "s1")
	require.NoError(t, err)
	require.False(t, ok)
}
