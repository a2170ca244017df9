package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentkit/runtime/agent/ident"
	"github.com/agentkit/runtime/agent/storage"
)

// ErrNotFound is returned when the named stream does not exist, mapped by
// callers to the protocol's 404 {error:"Stream not found"} shape.
var ErrNotFound = storage.ErrNotFound

// ErrAlreadyTerminal is returned by Append when the stream has already been
// completed or canceled.
var ErrAlreadyTerminal = fmt.Errorf("stream: already terminal")

// Store layers resumable stream semantics — append, replay-from-zero,
// completion, cancellation — atop a storage.Store, and fans out newly
// durable chunks to any readers currently live on the same stream.
//
// Fan-out is grounded on runtime/mcp/broadcast.go's channelBroadcaster,
// adapted to never drop: the byte-exact prefix invariant means a slow
// reader must apply back-pressure to the writer rather than lose chunks.
type Store struct {
	backend storage.Store

	mu   sync.Mutex
	subs map[string]map[chan storage.Chunk]struct{}
}

// New constructs a Store over the given durable storage backend.
func New(backend storage.Store) *Store {
	return &Store{backend: backend, subs: make(map[string]map[chan storage.Chunk]struct{})}
}

// Create starts a new, empty, non-terminal stream. Calling Create again
// with an already-existing streamID is idempotent: it returns nil without
// modifying the existing stream.
func (s *Store) Create(ctx context.Context, id ident.ID, streamID string) error {
	if _, ok, err := s.backend.GetStream(ctx, id, streamID); err != nil {
		return err
	} else if ok {
		return nil
	}
	return s.backend.CreateStream(ctx, id, streamID)
}

// Append durably persists the next chunk and fans it out to any live
// readers. It returns ErrAlreadyTerminal if the stream was already marked
// completed or canceled, and ErrNotFound if the stream does not exist.
func (s *Store) Append(ctx context.Context, id ident.ID, streamID string, data []byte) error {
	rec, ok, err := s.backend.GetStream(ctx, id, streamID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if rec.Completed || rec.Canceled {
		return ErrAlreadyTerminal
	}
	chunk := storage.Chunk{Seq: len(rec.Chunks), Bytes: data}
	if err := s.backend.AppendChunk(ctx, id, streamID, chunk); err != nil {
		return err
	}
	s.publish(streamKey(id, streamID), chunk)
	return nil
}

// Complete marks the stream completed, preventing further appends, and
// closes out any live subscriptions.
func (s *Store) Complete(ctx context.Context, id ident.ID, streamID string) error {
	if err := s.backend.MarkStreamTerminal(ctx, id, streamID, false); err != nil {
		return err
	}
	s.closeSubs(streamKey(id, streamID))
	return nil
}

// Cancel marks the stream canceled without appending further chunks.
func (s *Store) Cancel(ctx context.Context, id ident.ID, streamID string) error {
	if err := s.backend.MarkStreamTerminal(ctx, id, streamID, true); err != nil {
		return err
	}
	s.closeSubs(streamKey(id, streamID))
	return nil
}

// Status reports a stream's current position (sum of durable chunk
// lengths) and completion state.
func (s *Store) Status(ctx context.Context, id ident.ID, streamID string) (position int, completed bool, err error) {
	rec, ok, err := s.backend.GetStream(ctx, id, streamID)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, ErrNotFound
	}
	return rec.Position(), rec.Completed || rec.Canceled, nil
}

// Replay returns every chunk durably persisted so far, in order, plus
// whether the stream is already terminal. Two calls to Replay on a growing
// stream always return one result as a byte-exact prefix of the other, by
// construction: chunks are only ever appended, never rewritten.
func (s *Store) Replay(ctx context.Context, id ident.ID, streamID string) (chunks []storage.Chunk, terminal bool, err error) {
	rec, ok, err := s.backend.GetStream(ctx, id, streamID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, ErrNotFound
	}
	return rec.Chunks, rec.Completed || rec.Canceled, nil
}

// Subscribe registers a live reader for streamID and returns a channel that
// receives each chunk appended after registration, plus an unsubscribe
// func. It does not replay past chunks — callers combine Replay (for the
// durable prefix) with Subscribe (for what comes next) to avoid a gap,
// holding backend state steady between the two calls via their own locking
// if an atomic snapshot-then-subscribe is required.
func (s *Store) Subscribe(id ident.ID, streamID string) (ch <-chan storage.Chunk, unsubscribe func()) {
	key := streamKey(id, streamID)
	c := make(chan storage.Chunk, 1)

	s.mu.Lock()
	if s.subs[key] == nil {
		s.subs[key] = make(map[chan storage.Chunk]struct{})
	}
	s.subs[key][c] = struct{}{}
	s.mu.Unlock()

	return c, func() { s.unsubscribe(key, c) }
}

func (s *Store) publish(key string, chunk storage.Chunk) {
	s.mu.Lock()
	chans := make([]chan storage.Chunk, 0, len(s.subs[key]))
	for c := range s.subs[key] {
		chans = append(chans, c)
	}
	s.mu.Unlock()

	for _, c := range chans {
		c <- chunk // back-pressure: never drop, the prefix invariant must hold
	}
}

func (s *Store) closeSubs(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.subs[key] {
		close(c)
	}
	delete(s.subs, key)
}

func (s *Store) unsubscribe(key string, c chan storage.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.subs[key]; ok {
		if _, present := set[c]; present {
			delete(set, c)
			close(c)
		}
		if len(set) == 0 {
			delete(s.subs, key)
		}
	}
}

func streamKey(id ident.ID, streamID string) string {
	return id.String() + "/" + streamID
}
