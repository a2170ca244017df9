// Package storage defines the durable Store port consumed by every other
// runtime component, plus the persisted record shapes named in the external
// interfaces table ("Persisted state layout").
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/agentkit/runtime/agent/ident"
)

// ErrNotFound is returned by Store lookups when the requested record does
// not exist.
var ErrNotFound = errors.New("storage: not found")

type (
	// Store persists everything an AgentInstance exclusively owns: the
	// instance-wide blob (state/run/events), messages, streams, schedules,
	// and connection attachments. A Store implementation must survive
	// process restarts ("hibernation") — see agent/storage/memory.go for a
	// non-durable test double and agent/storage/redis.go for the durable
	// backend.
	Store interface {
		// LoadPersist reads the instance-wide persisted blob. ok is false if
		// the instance has never been persisted.
		LoadPersist(ctx context.Context, id ident.ID) (p Persisted, ok bool, err error)
		// SavePersist writes the instance-wide persisted blob.
		SavePersist(ctx context.Context, id ident.ID, p Persisted) error

		// UpsertMessage inserts or overwrites a message row by id.
		UpsertMessage(ctx context.Context, id ident.ID, msg Message) error
		// GetMessage reads a single message by id.
		GetMessage(ctx context.Context, id ident.ID, msgID string) (Message, bool, error)
		// ListMessages returns all messages for the instance in insertion order.
		ListMessages(ctx context.Context, id ident.ID) ([]Message, error)
		// ClearMessages deletes every message for the instance.
		ClearMessages(ctx context.Context, id ident.ID) error

		// CreateStream creates an empty, non-terminal stream record.
		CreateStream(ctx context.Context, id ident.ID, streamID string) error
		// AppendChunk durably appends the next chunk to a stream. The caller
		// must ensure chunk.Seq equals the current chunk count.
		AppendChunk(ctx context.Context, id ident.ID, streamID string, chunk Chunk) error
		// GetStream reads a stream's full record.
		GetStream(ctx context.Context, id ident.ID, streamID string) (StreamRecord, bool, error)
		// MarkStreamTerminal marks a stream completed or canceled. AppendChunk
		// does not check these flags; stream.Store.Append refuses appends to a
		// terminal stream.
		MarkStreamTerminal(ctx context.Context, id ident.ID, streamID string, canceled bool) error
		// ClearStreams deletes every stream for the instance.
		ClearStreams(ctx context.Context, id ident.ID) error

		// UpsertSchedule inserts or overwrites a schedule row by id.
		UpsertSchedule(ctx context.Context, id ident.ID, sched Schedule) error
		// DeleteSchedule removes a schedule by id, reporting whether it existed.
		DeleteSchedule(ctx context.Context, id ident.ID, scheduleID string) (bool, error)
		// ListSchedules returns every schedule for the instance.
		ListSchedules(ctx context.Context, id ident.ID) ([]Schedule, error)

		// PutAttachment durably stores a connection's attachment before the
		// connection is considered open.
		PutAttachment(ctx context.Context, id ident.ID, connID string, attach Attachment) error
		// GetAttachment reads a connection's attachment without consulting
		// any in-memory cache.
		GetAttachment(ctx context.Context, id ident.ID, connID string) (Attachment, bool, error)
		// DeleteAttachment removes a connection's attachment on disconnect.
		DeleteAttachment(ctx context.Context, id ident.ID, connID string) error
	}

	// Persisted is the single instance-wide blob named in the spec's
	// "Persisted state layout": {state, run, events, events_seq, thread_id}.
	Persisted struct {
		State      json.RawMessage `json:"state"`
		Run        json.RawMessage `json:"run,omitempty"`
		Events     json.RawMessage `json:"events,omitempty"`
		EventsSeq  uint64          `json:"events_seq"`
		ThreadID   string          `json:"thread_id,omitempty"`
		UpdatedAt  time.Time       `json:"updated_at"`
	}

	// Message is the durable row shape for the `messages` table.
	Message struct {
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}

	// Chunk is one durable delta in a stream's append-only log.
	Chunk struct {
		Seq   int    `json:"seq"`
		Bytes []byte `json:"bytes"`
	}

	// StreamRecord is the durable row shape for the `streams` table.
	StreamRecord struct {
		ID        string  `json:"id"`
		Completed bool    `json:"completed"`
		Canceled  bool    `json:"canceled"`
		Chunks    []Chunk `json:"chunks"`
	}

	// Schedule is the durable row shape for the `schedules` table.
	Schedule struct {
		ID       string          `json:"id"`
		Callback string          `json:"callback"`
		Type     string          `json:"type"`
		When     string          `json:"when"`
		NextRun  int64           `json:"next_run"`
		Payload  json.RawMessage `json:"payload"`
	}

	// Attachment is the durable row shape for the `connections_attach`
	// table: the per-connection capability flags that must be readable
	// after hibernation wake without any in-memory cache.
	Attachment struct {
		Readonly   bool     `json:"readonly,omitempty"`
		NoProtocol bool     `json:"noProtocol,omitempty"`
		Tags       []string `json:"tags,omitempty"`
	}
)

// Position returns the durable byte position of a StreamRecord: the sum of
// the lengths of all chunks currently stored.
func (s StreamRecord) Position() int {
	n := 0
	for _, c := range s.Chunks {
		n += len(c.Bytes)
	}
	return n
}
