package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentkit/runtime/agent/ident"
)

func TestMemoryStoreMessagesPreserveInsertionOrder(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	s := NewMemoryStore()

	require.NoError(t, s.UpsertMessage(ctx, id, Message{ID: "m2", Payload: []byte(`{}`)}))
	require.NoError(t, s.UpsertMessage(ctx, id, Message{ID: "m1", Payload: []byte(`{}`)}))
	require.NoError(t, s.UpsertMessage(ctx, id, Message{ID: "m2", Payload: []byte(`{"v":2}`)}))

	msgs, err := s.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "m2", msgs[0].ID, "first insertion position is preserved across re-upsert")
	require.Equal(t, "m1", msgs[1].ID)
	require.JSONEq(t, `{"v":2}`, string(msgs[0].Payload))
}

func TestMemoryStoreClearMessagesRemovesAll(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	s := NewMemoryStore()

	require.NoError(t, s.UpsertMessage(ctx, id, Message{ID: "m1", Payload: []byte(`{}`)}))
	require.NoError(t, s.ClearMessages(ctx, id))

	msgs, err := s.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Empty(t, msgs)

	_, ok, err := s.GetMessage(ctx, id, "m1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreAppendChunkAccumulatesAndTracksPosition(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	s := NewMemoryStore()

	require.NoError(t, s.CreateStream(ctx, id, "s1"))
	require.NoError(t, s.AppendChunk(ctx, id, "s1", Chunk{Seq: 0, Bytes: []byte("abc")}))
	require.NoError(t, s.AppendChunk(ctx, id, "s1", Chunk{Seq: 1, Bytes: []byte("de")}))

	rec, ok, err := s.GetStream(ctx, id, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 5, rec.Position())
	require.False(t, rec.Completed)
}

func TestMemoryStoreAppendChunkOnMissingStreamFails(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	s := NewMemoryStore()

	err := s.AppendChunk(ctx, id, "missing", Chunk{Seq: 0, Bytes: []byte("x")})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreMarkStreamTerminalSetsCanceledFlag(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	s := NewMemoryStore()

	require.NoError(t, s.CreateStream(ctx, id, "s1"))
	require.NoError(t, s.MarkStreamTerminal(ctx, id, "s1", true))

	rec, ok, err := s.GetStream(ctx, id, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rec.Completed)
	require.True(t, rec.Canceled)
}

func TestMemoryStoreScheduleUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	s := NewMemoryStore()

	require.NoError(t, s.UpsertSchedule(ctx, id, Schedule{ID: "sc1", Callback: "ping"}))
	list, err := s.ListSchedules(ctx, id)
	require.NoError(t, err)
	require.Len(t, list, 1)

	existed, err := s.DeleteSchedule(ctx, id, "sc1")
	require.NoError(t, err)
	require.True(t, existed)

	existed, err = s.DeleteSchedule(ctx, id, "sc1")
	require.NoError(t, err)
	require.False(t, existed)
}

func TestMemoryStoreAttachmentRoundTrip(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	s := NewMemoryStore()

	require.NoError(t, s.PutAttachment(ctx, id, "conn1", Attachment{Readonly: true}))
	a, ok, err := s.GetAttachment(ctx, id, "conn1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, a.Readonly)

	require.NoError(t, s.DeleteAttachment(ctx, id, "conn1"))
	_, ok, err = s.GetAttachment(ctx, id, "conn1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreLoadPersistReportsMissing(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	s := NewMemoryStore()

	_, ok, err := s.LoadPersist(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SavePersist(ctx, id, Persisted{State: []byte(`{"x":1}`), EventsSeq: 3}))
	p, ok, err := s.LoadPersist(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(3), p.EventsSeq)
}
