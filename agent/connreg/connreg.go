package connreg

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/agentkit/runtime/agent/ident"
	"github.com/agentkit/runtime/agent/storage"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn represents one connected WebSocket peer scoped to a single agent
// instance. Each Conn runs two goroutines: readPump (dispatches inbound
// frames to the registry's Handler and detects disconnection) and writePump
// (the only goroutine permitted to write to conn, per gorilla/websocket's
// concurrency contract).
type Conn struct {
	ID         string
	InstanceID ident.ID
	Attachment storage.Attachment

	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	closed  chan struct{}
	once    sync.Once
}

// Handler processes one inbound frame for a connection. Parse errors and
// unknown message types are swallowed by the caller (readPump), not
// surfaced here — the spec requires malformed frames to never close the
// connection.
type Handler func(ctx context.Context, c *Conn, env Envelope) error

// Registry tracks live connections per instance and persists each
// connection's capability attachment before the handshake completes, so a
// read of the attachment never depends on an in-memory lookup.
type Registry struct {
	store storage.Store

	mu    sync.Mutex
	conns map[ident.ID]map[string]*Conn
}

// NewRegistry constructs a Registry backed by store.
func NewRegistry(store storage.Store) *Registry {
	return &Registry{store: store, conns: make(map[ident.ID]map[string]*Conn)}
}

// Upgrade negotiates capability flags from query parameters (readonly=true,
// protocol=false), persists the resulting Attachment to storage, performs the
// WebSocket handshake, and starts the connection's pumps. initialFrames are
// queued in slice order before any inbound message is dispatched to handle
// (and not at all for a no-protocol connection), matching the ordering
// guarantee in the external interfaces table.
func (r *Registry) Upgrade(
	ctx context.Context,
	w http.ResponseWriter,
	req *http.Request,
	id ident.ID,
	handle Handler,
	initialFrames [][]byte,
) (*Conn, error) {
	readonly, _ := strconv.ParseBool(req.URL.Query().Get("readonly"))
	noProtocol := false
	if protocol, err := strconv.ParseBool(req.URL.Query().Get("protocol")); err == nil {
		noProtocol = !protocol
	}
	attach := storage.Attachment{Readonly: readonly, NoProtocol: noProtocol}

	connID := uuid.NewString()
	if err := r.store.PutAttachment(ctx, id, connID, attach); err != nil {
		return nil, err
	}

	wsConn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		_ = r.store.DeleteAttachment(ctx, id, connID)
		return nil, err
	}

	c := &Conn{
		ID:         connID,
		InstanceID: id,
		Attachment: attach,
		conn:       wsConn,
		send:       make(chan []byte, sendBufferSize),
		limiter:    rate.NewLimiter(rate.Limit(20), 40),
		closed:     make(chan struct{}),
	}

	r.mu.Lock()
	if r.conns[id] == nil {
		r.conns[id] = make(map[string]*Conn)
	}
	r.conns[id][connID] = c
	r.mu.Unlock()

	if !noProtocol {
		for _, frame := range initialFrames {
			c.enqueue(frame)
		}
	}

	go c.writePump()
	go r.readPump(ctx, c, handle)

	return c, nil
}

// Broadcast sends frame to every currently registered connection for id that
// is neither readonly nor no-protocol.
func (r *Registry) Broadcast(id ident.ID, frame []byte) {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns[id]))
	for _, c := range r.conns[id] {
		if !c.Attachment.NoProtocol && !c.Attachment.Readonly {
			conns = append(conns, c)
		}
	}
	r.mu.Unlock()
	for _, c := range conns {
		if c.limiter.Allow() {
			c.enqueue(frame)
		}
	}
}

// Connections returns the currently live connections for an instance.
func (r *Registry) Connections(id ident.ID) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.conns[id]))
	for _, c := range r.conns[id] {
		out = append(out, c)
	}
	return out
}

func (r *Registry) remove(ctx context.Context, c *Conn) {
	r.mu.Lock()
	if tbl := r.conns[c.InstanceID]; tbl != nil {
		delete(tbl, c.ID)
		if len(tbl) == 0 {
			delete(r.conns, c.InstanceID)
		}
	}
	r.mu.Unlock()
	_ = r.store.DeleteAttachment(ctx, c.InstanceID, c.ID)
}

// Send enqueues a pre-encoded frame for delivery, respecting the readonly
// flag: a readonly connection may still receive frames, only client→server
// writes are policed (at the handler layer, via RejectIfReadonly).
func (c *Conn) Send(frame []byte) { c.enqueue(frame) }

// RejectIfReadonly replies with cf_agent_state_error and returns true when
// the connection is readonly, so callers can short-circuit a state update.
func (c *Conn) RejectIfReadonly() bool {
	if !c.Attachment.Readonly {
		return false
	}
	frame, err := Encode(TypeStateError, StateErrorPayload{Error: "Connection is readonly"})
	if err == nil {
		c.enqueue(frame)
	}
	return true
}

func (c *Conn) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		// Slow consumer: drop rather than block the registry. Streaming's
		// byte-exact prefix guarantee lives in agent/stream, not here.
	}
}

func (c *Conn) close() {
	c.once.Do(func() {
		close(c.closed)
		close(c.send)
	})
}

func (r *Registry) readPump(ctx context.Context, c *Conn, handle Handler) {
	defer func() {
		r.remove(ctx, c)
		c.close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if unmarshalErr := json.Unmarshal(raw, &env); unmarshalErr != nil {
			continue // malformed frames are silently dropped per the protocol spec
		}
		if handle == nil {
			continue
		}
		_ = handle(ctx, c, env)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
