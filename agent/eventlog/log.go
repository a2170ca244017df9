package eventlog

import (
	"context"
	"errors"
	"sync"
	"time"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

type (
	// Subscriber receives every event appended to a Log, in append order,
	// until its Subscription is closed. Mirrors hooks.Subscriber.
	Subscriber interface {
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a plain function to Subscriber.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription represents an active registration on a Log.
	Subscription interface {
		Close()
	}

	subscription struct {
		log  *Log
		id   uint64
		once sync.Once
	}
)

// HandleEvent implements Subscriber.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return f(ctx, event) }

// Close removes the subscriber from its Log. Idempotent.
func (s *subscription) Close() {
	s.once.Do(func() {
		s.log.mu.Lock()
		delete(s.log.subs, s.id)
		s.log.mu.Unlock()
	})
}

// Log is a bounded, append-only ring of Events for a single instance, with
// synchronous fan-out to registered subscribers on every Append. Unlike
// hooks.Bus, a subscriber error does not halt delivery to the remaining
// subscribers — event distribution must not let one broken connection starve
// the others (per the spec's WS error-handling rule: protocol errors never
// close the connection).
type Log struct {
	mu       sync.Mutex
	capacity int
	seq      uint64
	ring     []Event
	subs     map[uint64]Subscriber
	nextSub  uint64
}

// New constructs a Log bounded to capacity entries.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = 500
	}
	return &Log{capacity: capacity, subs: make(map[uint64]Subscriber)}
}

// Append records an event, assigning it the next sequence number, retains it
// in the ring (evicting the oldest entry once capacity is exceeded), and
// fans it out to every registered subscriber.
func (l *Log) Append(ctx context.Context, typ Type, threadID string, data []byte) Event {
	l.mu.Lock()
	l.seq++
	ev := Event{Seq: l.seq, Type: typ, Timestamp: nowMillis(), ThreadID: threadID, Data: data}
	l.ring = append(l.ring, ev)
	if len(l.ring) > l.capacity {
		l.ring = l.ring[len(l.ring)-l.capacity:]
	}
	subs := make([]Subscriber, 0, len(l.subs))
	for _, s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()

	for _, s := range subs {
		_ = s.HandleEvent(ctx, ev)
	}
	return ev
}

// Subscribe registers a subscriber and returns a Subscription that can be
// closed to unregister. Returns an error if sub is nil.
func (l *Log) Subscribe(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("eventlog: subscriber is required")
	}
	l.mu.Lock()
	l.nextSub++
	id := l.nextSub
	l.subs[id] = sub
	l.mu.Unlock()
	return &subscription{log: l, id: id}, nil
}

// Snapshot returns a copy of the currently retained events, oldest first.
func (l *Log) Snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.ring))
	copy(out, l.ring)
	return out
}

// Restore seeds the ring and sequence counter from a previously persisted
// snapshot, used when an instance actor wakes from hibernation.
func (l *Log) Restore(events []Event, seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring = append([]Event(nil), events...)
	if len(l.ring) > l.capacity {
		l.ring = l.ring[len(l.ring)-l.capacity:]
	}
	l.seq = seq
}

// Seq returns the current sequence counter, for persisting events_seq.
func (l *Log) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}
