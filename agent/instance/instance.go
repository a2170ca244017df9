// Package instance implements the per-(class,name) actor that ties storage,
// the agent loop, chat persistence, resumable streams, the scheduler, the
// connection registry, and the event log into one cooperatively
// single-writer object. Grounded on goa-ai's runtime/agent/runtime/runtime.go
// Runtime (one process-wide registry serializing workflow starts/signals per
// agent), generalized here from "one Runtime for every agent" to "one
// mailbox goroutine per instance" — the literal rendering of the spec's
// single-writer discipline.
//
// An Instance is created lazily on first reference and is never torn down:
// only its mailbox goroutine idles after a quiescence period, restarting on
// the next external call. This is the concrete rendering of "hibernation" in
// a plain Go process rather than a platform-managed Durable Object.
package instance

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/agentkit/runtime/agent/chat"
	"github.com/agentkit/runtime/agent/connreg"
	"github.com/agentkit/runtime/agent/eventlog"
	"github.com/agentkit/runtime/agent/ident"
	"github.com/agentkit/runtime/agent/loop"
	"github.com/agentkit/runtime/agent/scheduler"
	"github.com/agentkit/runtime/agent/storage"
	"github.com/agentkit/runtime/agent/stream"
)

// parentLink records the waiter a spawned child instance must report back to
// once its run reaches a terminal status.
type parentLink struct {
	ParentID ident.ID
	Token    string
}

// mailboxItem is one unit of work submitted to an instance's actor
// goroutine. It always runs with exclusive access to the instance's
// persisted state — this is the single-writer discipline in its entirety.
type mailboxItem func(ctx context.Context)

// Instance is the addressable actor for one (class, name) pair.
type Instance struct {
	ID       ident.ID
	registry *Registry

	backend storage.Store
	chat    *chat.Store
	streams *stream.Store
	loop    *loop.Loop
	sched   *scheduler.Scheduler
	events  *eventlog.Log
	conns   *connreg.Registry

	mu             sync.Mutex
	alive          bool
	mailbox        chan mailboxItem
	idleAfter      time.Duration
	alarm          *time.Timer
	parent         *parentLink
	notifiedParent bool
}

func newInstance(r *Registry, id ident.ID) *Instance {
	events := eventlog.New(r.eventCapacity)
	chatStore := chat.New(r.backend)
	inst := &Instance{
		ID:        id,
		registry:  r,
		backend:   r.backend,
		chat:      chatStore,
		streams:   stream.New(r.backend),
		sched:     scheduler.New(),
		events:    events,
		conns:     r.conns,
		mailbox:   make(chan mailboxItem, 32),
		idleAfter: r.idleAfter,
	}
	inst.loop = loop.New(r.backend, chatStore, r.toolRegistry, r.modelClient, events, r.loopOpts...)
	return inst
}

// ensureAlive starts the actor goroutine if it is not already running,
// restoring in-memory caches from persisted state (onStart, §4.1).
func (i *Instance) ensureAlive() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.startLocked()
}

func (i *Instance) startLocked() {
	if i.alive {
		return
	}
	i.alive = true
	i.restoreOnStart()
	go i.run()
}

// restoreOnStart rehydrates the event ring from the persisted blob and arms
// the single next-fire alarm from persisted schedules. Called with i.mu
// held, before the actor goroutine starts.
func (i *Instance) restoreOnStart() {
	ctx := context.Background()
	persisted, ok, err := i.backend.LoadPersist(ctx, i.ID)
	if err == nil && ok && len(persisted.Events) > 0 {
		var events []eventlog.Event
		if json.Unmarshal(persisted.Events, &events) == nil {
			i.events.Restore(events, persisted.EventsSeq)
		}
	}
	i.armAlarmLocked(ctx)
}

// run is the actor's mailbox loop. It exits (idles) after idleAfter passes
// with no submitted work; the next submit/submitAsync call restarts it via
// ensureAlive.
func (i *Instance) run() {
	timer := time.NewTimer(i.idleAfter)
	defer timer.Stop()
	for {
		select {
		case item, ok := <-i.mailbox:
			if !ok {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			item(context.Background())
			timer.Reset(i.idleAfter)
		case <-timer.C:
			i.goIdle()
			return
		}
	}
}

// goIdle marks the actor stopped and snapshots the event ring so a future
// wake can restore it. The mailbox channel itself is never closed or
// recreated — ensureAlive simply spins a fresh consumer goroutine over it.
func (i *Instance) goIdle() {
	i.mu.Lock()
	i.alive = false
	i.mu.Unlock()
	i.persistEventSnapshot(context.Background())
}

// submit enqueues fn and blocks until it has run with exclusive access to
// this instance. Used by the external entry points that touch persisted
// state (HTTP handlers such as Invoke/Approve/Cancel, the WebSocket read
// pump, schedule creation and cancellation). fn itself
// must never call submit or submitAsync again — it already holds the
// single-writer slot.
func (i *Instance) submit(fn func(ctx context.Context)) {
	i.ensureAlive()
	done := make(chan struct{})
	i.mailbox <- func(ctx context.Context) {
		fn(ctx)
		close(done)
	}
	<-done
}

// submitAsync enqueues fn without waiting for it to run, for continuations
// that must not block the caller (tick rescheduling, parent notification).
func (i *Instance) submitAsync(fn func(ctx context.Context)) {
	i.ensureAlive()
	go func() { i.mailbox <- fn }()
}

// persistEventSnapshot writes the retained event ring into the instance's
// persisted blob, independent of the Agent Loop's own checkpoint (which only
// tracks EventsSeq) — this is the layer responsible for event-ring
// hibernation-safety named in the "Persisted state layout" table.
func (i *Instance) persistEventSnapshot(ctx context.Context) {
	persisted, ok, err := i.backend.LoadPersist(ctx, i.ID)
	if err != nil {
		return
	}
	if !ok {
		persisted = storage.Persisted{State: json.RawMessage(`{}`)}
	}
	raw, err := json.Marshal(i.events.Snapshot())
	if err != nil {
		return
	}
	persisted.Events = raw
	persisted.EventsSeq = i.events.Seq()
	_ = i.backend.SavePersist(ctx, i.ID, persisted)
}
