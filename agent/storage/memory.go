package storage

import (
	"context"
	"sync"

	"github.com/agentkit/runtime/agent/ident"
)

// memoryStore is an in-process Store implementation used by tests and
// single-process deployments. It is not durable across restarts; production
// deployments needing hibernation-safe durability should use the
// Redis-backed Store (see redis.go).
type memoryStore struct {
	mu        sync.Mutex
	persist   map[ident.ID]Persisted
	messages  map[ident.ID]map[string]Message
	msgOrder  map[ident.ID][]string
	streams   map[ident.ID]map[string]StreamRecord
	schedules map[ident.ID]map[string]Schedule
	attach    map[ident.ID]map[string]Attachment
}

// NewMemoryStore constructs an in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		persist:   make(map[ident.ID]Persisted),
		messages:  make(map[ident.ID]map[string]Message),
		msgOrder:  make(map[ident.ID][]string),
		streams:   make(map[ident.ID]map[string]StreamRecord),
		schedules: make(map[ident.ID]map[string]Schedule),
		attach:    make(map[ident.ID]map[string]Attachment),
	}
}

func (m *memoryStore) LoadPersist(_ context.Context, id ident.ID) (Persisted, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.persist[id]
	return p, ok, nil
}

func (m *memoryStore) SavePersist(_ context.Context, id ident.ID, p Persisted) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persist[id] = p
	return nil
}

func (m *memoryStore) UpsertMessage(_ context.Context, id ident.ID, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl := m.messages[id]
	if tbl == nil {
		tbl = make(map[string]Message)
		m.messages[id] = tbl
	}
	if _, exists := tbl[msg.ID]; !exists {
		m.msgOrder[id] = append(m.msgOrder[id], msg.ID)
	}
	tbl[msg.ID] = msg
	return nil
}

func (m *memoryStore) GetMessage(_ context.Context, id ident.ID, msgID string) (Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl := m.messages[id]
	if tbl == nil {
		return Message{}, false, nil
	}
	msg, ok := tbl[msgID]
	return msg, ok, nil
}

func (m *memoryStore) ListMessages(_ context.Context, id ident.ID) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl := m.messages[id]
	order := m.msgOrder[id]
	out := make([]Message, 0, len(order))
	for _, msgID := range order {
		if msg, ok := tbl[msgID]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memoryStore) ClearMessages(_ context.Context, id ident.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, id)
	delete(m.msgOrder, id)
	return nil
}

func (m *memoryStore) CreateStream(_ context.Context, id ident.ID, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl := m.streams[id]
	if tbl == nil {
		tbl = make(map[string]StreamRecord)
		m.streams[id] = tbl
	}
	if _, exists := tbl[streamID]; !exists {
		tbl[streamID] = StreamRecord{ID: streamID}
	}
	return nil
}

func (m *memoryStore) AppendChunk(_ context.Context, id ident.ID, streamID string, chunk Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl := m.streams[id]
	if tbl == nil {
		return ErrNotFound
	}
	rec, ok := tbl[streamID]
	if !ok {
		return ErrNotFound
	}
	rec.Chunks = append(rec.Chunks, chunk)
	tbl[streamID] = rec
	return nil
}

func (m *memoryStore) GetStream(_ context.Context, id ident.ID, streamID string) (StreamRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl := m.streams[id]
	if tbl == nil {
		return StreamRecord{}, false, nil
	}
	rec, ok := tbl[streamID]
	return rec, ok, nil
}

func (m *memoryStore) MarkStreamTerminal(_ context.Context, id ident.ID, streamID string, canceled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl := m.streams[id]
	if tbl == nil {
		return ErrNotFound
	}
	rec, ok := tbl[streamID]
	if !ok {
		return ErrNotFound
	}
	rec.Completed = true
	rec.Canceled = canceled
	tbl[streamID] = rec
	return nil
}

func (m *memoryStore) ClearStreams(_ context.Context, id ident.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, id)
	return nil
}

func (m *memoryStore) UpsertSchedule(_ context.Context, id ident.ID, sched Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl := m.schedules[id]
	if tbl == nil {
		tbl = make(map[string]Schedule)
		m.schedules[id] = tbl
	}
	tbl[sched.ID] = sched
	return nil
}

func (m *memoryStore) DeleteSchedule(_ context.Context, id ident.ID, scheduleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl := m.schedules[id]
	if tbl == nil {
		return false, nil
	}
	_, existed := tbl[scheduleID]
	delete(tbl, scheduleID)
	return existed, nil
}

func (m *memoryStore) ListSchedules(_ context.Context, id ident.ID) ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl := m.schedules[id]
	out := make([]Schedule, 0, len(tbl))
	for _, s := range tbl {
		out = append(out, s)
	}
	return out, nil
}

func (m *memoryStore) PutAttachment(_ context.Context, id ident.ID, connID string, attach Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl := m.attach[id]
	if tbl == nil {
		tbl = make(map[string]Attachment)
		m.attach[id] = tbl
	}
	tbl[connID] = attach
	return nil
}

func (m *memoryStore) GetAttachment(_ context.Context, id ident.ID, connID string) (Attachment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl := m.attach[id]
	if tbl == nil {
		return Attachment{}, false, nil
	}
	a, ok := tbl[connID]
	return a, ok, nil
}

func (m *memoryStore) DeleteAttachment(_ context.Context, id ident.ID, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tbl := m.attach[id]; tbl != nil {
		delete(tbl, connID)
	}
	return nil
}
