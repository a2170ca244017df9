package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentkit/runtime/agent/ident"
	"github.com/agentkit/runtime/agent/storage"
)

func TestAppendIsRejectedAfterCompletion(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	back := storage.NewMemoryStore()
	s := New(back)

	require.NoError(t, s.Create(ctx, id, "s1"))
	require.NoError(t, s.Append(ctx, id, "s1", []byte("hello")))
	require.NoError(t, s.Complete(ctx, id, "s1"))

	err := s.Append(ctx, id, "s1", []byte("world"))
	require.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestAppendOnUnknownStreamIsNotFound(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	back := storage.NewMemoryStore()
	s := New(back)

	err := s.Append(ctx, id, "missing", []byte("x"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReplayReturnsByteExactPrefixAcrossResumes(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	back := storage.NewMemoryStore()
	s := New(back)

	require.NoError(t, s.Create(ctx, id, "s1"))
	require.NoError(t, s.Append(ctx, id, "s1", []byte("Hello, ")))

	first, terminal, err := s.Replay(ctx, id, "s1")
	require.NoError(t, err)
	require.False(t, terminal)
	require.Len(t, first, 1)

	require.NoError(t, s.Append(ctx, id, "s1", []byte("world!")))
	second, _, err := s.Replay(ctx, id, "s1")
	require.NoError(t, err)
	require.Len(t, second, 2)

	for i := range first {
		require.Equal(t, first[i], second[i], "earlier resume must be a prefix of later resume")
	}
}

func TestStatusReflectsPositionAndCompletion(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	back := storage.NewMemoryStore()
	s := New(back)

	require.NoError(t, s.Create(ctx, id, "s1"))
	require.NoError(t, s.Append(ctx, id, "s1", []byte("abc")))

	pos, completed, err := s.Status(ctx, id, "s1")
	require.NoError(t, err)
	require.Equal(t, 3, pos)
	require.False(t, completed)

	require.NoError(t, s.Cancel(ctx, id, "s1"))
	pos, completed, err = s.Status(ctx, id, "s1")
	require.NoError(t, err)
	require.Equal(t, 3, pos)
	require.True(t, completed)
}

func TestStatusNotFoundAfterClear(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	back := storage.NewMemoryStore()
	s := New(back)

	require.NoError(t, s.Create(ctx, id, "s1"))
	require.NoError(t, back.ClearStreams(ctx, id))

	_, _, err := s.Status(ctx, id, "s1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSubscribeReceivesChunksAppendedAfterRegistration(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	back := storage.NewMemoryStore()
	s := New(back)

	require.NoError(t, s.Create(ctx, id, "s1"))
	ch, unsubscribe := s.Subscribe(id, "s1")
	defer unsubscribe()

	require.NoError(t, s.Append(ctx, id, "s1", []byte("chunk-0")))
	received := <-ch
	require.Equal(t, []byte("chunk-0"), received.Bytes)
	require.Equal(t, 0, received.Seq)
}

func TestCompleteClosesLiveSubscriptions(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	back := storage.NewMemoryStore()
	s := New(back)

	require.NoError(t, s.Create(ctx, id, "s1"))
	ch, _ := s.Subscribe(id, "s1")

	require.NoError(t, s.Complete(ctx, id, "s1"))
	_, ok := <-ch
	require.False(t, ok, "subscription channel must be closed on completion")
}

func TestCreateIsIdempotentForExistingStream(t *testing.T) {
	ctx := context.Background()
	id := ident.New("worker", "alice")
	back := storage.NewMemoryStore()
	s := New(back)

	require.NoError(t, s.Create(ctx, id, "s1"))
	require.NoError(t, s.Append(ctx, id, "s1", []byte("x")))
	require.NoError(t, s.Create(ctx, id, "s1"))

	_, terminal, err := s.Replay(ctx, id, "s1")
	require.NoError(t, err)
	require.False(t, terminal)
	pos, _, err := s.Status(ctx, id, "s1")
	require.NoError(t, err)
	require.Equal(t, 1, pos, "re-creating an existing stream must not reset its chunks")
}
