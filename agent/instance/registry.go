package instance

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentkit/runtime/agent/chat"
	"github.com/agentkit/runtime/agent/connreg"
	"github.com/agentkit/runtime/agent/ident"
	"github.com/agentkit/runtime/agent/loop"
	"github.com/agentkit/runtime/agent/model"
	"github.com/agentkit/runtime/agent/storage"
	"github.com/agentkit/runtime/agent/tools"
)

// DefaultIdleAfter is how long an instance's actor goroutine stays resident
// with no submitted work before it idles.
const DefaultIdleAfter = 5 * time.Minute

// DefaultEventCapacity is the retained event ring size per instance.
const DefaultEventCapacity = 500

// ScheduleHandler is invoked when a named schedule fires, under the owning
// instance's single-writer lock.
type ScheduleHandler func(ctx context.Context, id ident.ID, payload json.RawMessage) error

// Registry resolves (class, name) pairs to their Instance, creating actors
// lazily and sharing the process-wide dependencies (storage, tool registry,
// model client, connection registry) across all of them.
type Registry struct {
	backend       storage.Store
	toolRegistry  *tools.Registry
	modelClient   model.Client
	conns         *connreg.Registry
	idleAfter     time.Duration
	eventCapacity int
	loopOpts      []loop.Option

	mu        sync.Mutex
	instances map[ident.ID]*Instance
	callbacks map[string]ScheduleHandler
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithIdleAfter overrides DefaultIdleAfter.
func WithIdleAfter(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleAfter = d
		}
	}
}

// WithEventCapacity overrides DefaultEventCapacity.
func WithEventCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.eventCapacity = n
		}
	}
}

// WithLoopOptions passes options through to every instance's agent/loop.Loop
// (system prompt, tools-per-tick, middleware).
func WithLoopOptions(opts ...loop.Option) Option {
	return func(r *Registry) { r.loopOpts = append(r.loopOpts, opts...) }
}

// NewRegistry constructs a Registry. conns is shared across every instance;
// its internal map is already keyed by ident.ID so one Registry suffices for
// the whole process.
func NewRegistry(backend storage.Store, toolRegistry *tools.Registry, modelClient model.Client, conns *connreg.Registry, opts ...Option) *Registry {
	r := &Registry{
		backend:       backend,
		toolRegistry:  toolRegistry,
		modelClient:   modelClient,
		conns:         conns,
		idleAfter:     DefaultIdleAfter,
		eventCapacity: DefaultEventCapacity,
		instances:     make(map[ident.ID]*Instance),
		callbacks:     make(map[string]ScheduleHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterScheduleCallback installs a named handler invoked when a schedule
// with that callback name fires, for any instance in this registry.
func (r *Registry) RegisterScheduleCallback(name string, handler ScheduleHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[name] = handler
}

func (r *Registry) callback(name string) (ScheduleHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.callbacks[name]
	return h, ok
}

// Get resolves id to its Instance, creating it on first reference and
// waking its actor if idle. The returned Instance is a stable identity: two
// calls with an equal id always return the same pointer.
func (r *Registry) Get(id ident.ID) *Instance {
	r.mu.Lock()
	inst, ok := r.instances[id]
	if !ok {
		inst = newInstance(r, id)
		r.instances[id] = inst
	}
	r.mu.Unlock()
	inst.ensureAlive()
	return inst
}

// NewThread allocates a fresh instance id under class, implementing
// POST /threads.
func (r *Registry) NewThread(class string) ident.ID {
	return ident.New(class, uuid.NewString())
}

// dispatchSpawn starts the child instance named by intent with the spawn
// description as its initial user message, linking it back to the parent so
// its completion is reported via /child_result semantics (ApplyChildResult).
func (r *Registry) dispatchSpawn(ctx context.Context, parentID ident.ID, intent loop.SpawnIntent) {
	childID := ident.New(intent.SubagentType, intent.ChildThreadID)
	child := r.Get(childID)
	child.setParentLink(&parentLink{ParentID: parentID, Token: intent.Token})
	_, _ = child.Invoke(ctx, []chat.Message{{
		ID:   "spawn-" + intent.Token,
		Role: chat.RoleUser,
		Parts: []chat.Part{{
			Type: chat.PartTypeText,
			Text: intent.Description,
		}},
	}})
}

// NotifyChild implements POST /{class}/{name}/child_result: parentID names
// the instance whose waiter should clear, token/childThreadID identify which
// one, and report is the completed child's summarized output.
func (r *Registry) NotifyChild(ctx context.Context, parentID ident.ID, token, childThreadID string, report json.RawMessage) {
	r.notifyParent(parentID, token, childThreadID, report)
}

// notifyParent reports a finished child run back to its parent, resolved by
// ParentID, asynchronously — the child's own actor must not block on the
// parent's mailbox.
func (r *Registry) notifyParent(parentID ident.ID, token, childThreadID string, report json.RawMessage) {
	parent := r.Get(parentID)
	parent.submitAsync(func(ctx context.Context) {
		_, resumed, err := parent.loop.ApplyChildResult(ctx, parentID, token, childThreadID, report)
		if err != nil {
			return
		}
		if resumed {
			parent.driveTickLoop(ctx)
		}
	})
}
