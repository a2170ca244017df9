package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/agentkit/runtime/agent/ident"
)

func newTestRedisStore(t *testing.T) Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb)
}

func TestRedisStorePersistRoundTrip(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	s := newTestRedisStore(t)

	_, ok, err := s.LoadPersist(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SavePersist(ctx, id, Persisted{State: []byte(`{"x":1}`), EventsSeq: 7, ThreadID: "t1"}))
	p, ok, err := s.LoadPersist(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), p.EventsSeq)
	require.Equal(t, "t1", p.ThreadID)
}

func TestRedisStoreMessagesPreserveInsertionOrderAndUpsert(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	s := newTestRedisStore(t)

	require.NoError(t, s.UpsertMessage(ctx, id, Message{ID: "m2", Payload: []byte(`{"v":1}`)}))
	require.NoError(t, s.UpsertMessage(ctx, id, Message{ID: "m1", Payload: []byte(`{}`)}))
	require.NoError(t, s.UpsertMessage(ctx, id, Message{ID: "m2", Payload: []byte(`{"v":2}`)}))

	msgs, err := s.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "m2", msgs[0].ID)
	require.Equal(t, "m1", msgs[1].ID)
	require.JSONEq(t, `{"v":2}`, string(msgs[0].Payload))

	require.NoError(t, s.ClearMessages(ctx, id))
	msgs, err = s.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestRedisStoreStreamLifecycle(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	s := newTestRedisStore(t)

	require.NoError(t, s.CreateStream(ctx, id, "s1"))
	require.NoError(t, s.AppendChunk(ctx, id, "s1", Chunk{Seq: 0, Bytes: []byte("abc")}))
	require.NoError(t, s.AppendChunk(ctx, id, "s1", Chunk{Seq: 1, Bytes: []byte("de")}))

	rec, ok, err := s.GetStream(ctx, id, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 5, rec.Position())
	require.False(t, rec.Completed)

	require.NoError(t, s.MarkStreamTerminal(ctx, id, "s1", false))
	rec, _, err = s.GetStream(ctx, id, "s1")
	require.NoError(t, err)
	require.True(t, rec.Completed)
	require.False(t, rec.Canceled)

	require.NoError(t, s.ClearStreams(ctx, id))
	_, ok, err = s.GetStream(ctx, id, "s1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStoreAppendChunkOnMissingStreamFails(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	s := newTestRedisStore(t)

	err := s.AppendChunk(ctx, id, "missing", Chunk{Seq: 0, Bytes: []byte("x")})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreScheduleUpsertListDelete(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	s := newTestRedisStore(t)

	require.NoError(t, s.UpsertSchedule(ctx, id, Schedule{ID: "sc1", Callback: "ping", NextRun: 100}))
	require.NoError(t, s.UpsertSchedule(ctx, id, Schedule{ID: "sc2", Callback: "pong", NextRun: 200}))

	list, err := s.ListSchedules(ctx, id)
	require.NoError(t, err)
	require.Len(t, list, 2)

	existed, err := s.DeleteSchedule(ctx, id, "sc1")
	require.NoError(t, err)
	require.True(t, existed)

	list, err = s.ListSchedules(ctx, id)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestRedisStoreAttachmentRoundTrip(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	s := newTestRedisStore(t)

	require.NoError(t, s.PutAttachment(ctx, id, "conn1", Attachment{Readonly: true, Tags: []string{"ui"}}))
	a, ok, err := s.GetAttachment(ctx, id, "conn1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, a.Readonly)
	require.Equal(t, []string{"ui"}, a.Tags)

	require.NoError(t, s.DeleteAttachment(ctx, id, "conn1"))
	_, ok, err = s.GetAttachment(ctx, id, "conn1")
	require.NoError(t, err)
	require.False(t, ok)
}
