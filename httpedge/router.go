// Package httpedge exposes the agent runtime's external HTTP/WebSocket
// surface over a single agent/instance.Registry, grounded on the teacher's
// chi-based route tree (plugins/rest and the generated goa HTTP mounts use
// go-chi/chi/v5 as their router) and generalized from goa-generated handlers
// into hand-written ones addressing agent/instance.Instance directly.
package httpedge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/agentkit/runtime/agent/chat"
	"github.com/agentkit/runtime/agent/ident"
	"github.com/agentkit/runtime/agent/instance"
	"github.com/agentkit/runtime/agent/loop"
	"github.com/agentkit/runtime/agent/scheduler"
	"github.com/agentkit/runtime/agent/stream"
	"github.com/agentkit/runtime/internal/agenterr"
	"github.com/agentkit/runtime/internal/telemetry"
)

// Server mounts every agent instance route over a Registry.
type Server struct {
	registry *instance.Registry
	logger   telemetry.Logger
}

// New constructs a Server. logger defaults to a no-op implementation when nil.
func New(registry *instance.Registry, logger telemetry.Logger) *Server {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Server{registry: registry, logger: logger}
}

// Router builds the chi.Router exposing every route named in the external
// interfaces table: thread allocation, invoke/approve/cancel, state,
// messages, events, schedules, streams, and the WebSocket connect endpoint.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.logMiddleware)

	r.Post("/threads/{class}", s.handleNewThread)

	r.Route("/{class}/{name}", func(r chi.Router) {
		r.Get("/", s.handleConnect)
		r.Post("/invoke", s.handleInvoke)
		r.Post("/approve", s.handleApprove)
		r.Post("/cancel", s.handleCancel)
		r.Get("/state", s.handleGetState)
		r.Put("/state", s.handlePutState)
		r.Get("/messages", s.handleListMessages)
		r.Delete("/messages", s.handleClearHistory)
		r.Get("/events", s.handleEvents)
		r.Get("/schedule", s.handleListSchedules)
		r.Post("/schedule", s.handleCreateSchedule)
		r.Delete("/schedule/{scheduleId}", s.handleCancelSchedule)
		r.Post("/child_result", s.handleChildResult)
		r.Post("/chat", s.handleChat)
		r.Get("/stream/{sid}", s.handleStreamReplay)
		r.Get("/stream/{sid}/status", s.handleStreamStatus)
		r.Post("/stream/{sid}/cancel", s.handleStreamCancel)
	})

	return r
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Info(r.Context(), "http.request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func idFromRequest(r *http.Request) ident.ID {
	return ident.New(chi.URLParam(r, "class"), chi.URLParam(r, "name"))
}

func (s *Server) handleNewThread(w http.ResponseWriter, r *http.Request) {
	class := chi.URLParam(r, "class")
	id := s.registry.NewThread(class)
	writeJSON(w, http.StatusCreated, map[string]string{"class": id.Class, "name": id.Name})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	inst := s.registry.Get(idFromRequest(r))
	if _, err := inst.Connect(r.Context(), w, r); err != nil {
		s.logger.Error(r.Context(), "connect failed", "error", err.Error())
	}
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Messages []chat.Message `json:"messages"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	inst := s.registry.Get(idFromRequest(r))
	run, err := inst.Invoke(r.Context(), body.Messages)
	if !writeErr(w, err) {
		writeJSON(w, http.StatusAccepted, run)
	}
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Approved          bool            `json:"approved"`
		ModifiedToolCalls []loop.ToolCall `json:"modifiedToolCalls"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	inst := s.registry.Get(idFromRequest(r))
	run, err := inst.Approve(r.Context(), body.Approved, body.ModifiedToolCalls)
	if !writeErr(w, err) {
		writeJSON(w, http.StatusOK, run)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	inst := s.registry.Get(idFromRequest(r))
	run, err := inst.Cancel(r.Context())
	if !writeErr(w, err) {
		writeJSON(w, http.StatusOK, run)
	}
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	inst := s.registry.Get(idFromRequest(r))
	state, err := inst.State(r.Context())
	if !writeErr(w, err) {
		writeJSON(w, http.StatusOK, json.RawMessage(state))
	}
}

func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !decodeBody(w, r, &raw) {
		return
	}
	inst := s.registry.Get(idFromRequest(r))
	err := inst.UpdateState(r.Context(), raw)
	if !writeErr(w, err) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	inst := s.registry.Get(idFromRequest(r))
	msgs, err := inst.ListMessages(r.Context())
	if !writeErr(w, err) {
		writeJSON(w, http.StatusOK, msgs)
	}
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	inst := s.registry.Get(idFromRequest(r))
	err := inst.ClearHistory(r.Context())
	if !writeErr(w, err) {
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	inst := s.registry.Get(idFromRequest(r))
	writeJSON(w, http.StatusOK, inst.Events())
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	inst := s.registry.Get(idFromRequest(r))
	scheds, err := inst.ListSchedules(r.Context())
	if !writeErr(w, err) {
		writeJSON(w, http.StatusOK, scheds)
	}
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Callback string          `json:"callback"`
		Type     scheduler.Kind  `json:"type"`
		When     string          `json:"when"`
		Payload  json.RawMessage `json:"payload"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	inst := s.registry.Get(idFromRequest(r))
	sched, err := inst.ScheduleCallback(r.Context(), body.Callback, body.Type, body.When, body.Payload)
	if !writeErr(w, err) {
		writeJSON(w, http.StatusCreated, sched)
	}
}

func (s *Server) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleId")
	inst := s.registry.Get(idFromRequest(r))
	existed, err := inst.CancelSchedule(r.Context(), scheduleID)
	if writeErr(w, err) {
		return
	}
	if !existed {
		writeErr(w, agenterr.New(agenterr.NotFound, "schedule not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleChildResult implements /child_result: the parent instance is
// addressed directly (its class/name are in the URL), the token and child
// thread id identify which waiter cleared.
func (s *Server) handleChildResult(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token         string          `json:"token"`
		ChildThreadID string          `json:"childThreadId"`
		Report        json.RawMessage `json:"report"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	parentID := idFromRequest(r)
	s.registry.NotifyChild(r.Context(), parentID, body.Token, body.ChildThreadID, body.Report)
	w.WriteHeader(http.StatusAccepted)
}

// handleChat implements POST /{class}/{name}/chat: a plain-HTTP alternative
// to the WebSocket cf_agent_use_chat_request/response pair, delivering the
// reply as SSE. A missing streamId is generated so the caller can always
// resume with the X-Stream-Id it gets back.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Messages []chat.Message `json:"messages"`
		StreamID string         `json:"streamId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.StreamID == "" {
		body.StreamID = uuid.NewString()
	}
	inst := s.registry.Get(idFromRequest(r))
	if err := inst.ChatHTTP(r.Context(), w, body.Messages, body.StreamID); err != nil {
		s.logger.Error(r.Context(), "chat turn failed", "error", err.Error())
	}
}

// handleStreamReplay implements GET /{class}/{name}/stream/{sid}.
func (s *Server) handleStreamReplay(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	inst := s.registry.Get(idFromRequest(r))
	chunks, complete, err := inst.ReplayStream(r.Context(), sid)
	if writeErr(w, streamErr(err)) {
		return
	}
	stream.SetHeaders(w, sid, complete)
	for _, c := range chunks {
		if err := stream.WriteFrame(w, c); err != nil {
			s.logger.Error(r.Context(), "stream replay write failed", "error", err.Error())
			return
		}
	}
}

// handleStreamStatus implements GET /{class}/{name}/stream/{sid}/status.
func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	inst := s.registry.Get(idFromRequest(r))
	position, completed, err := inst.StreamStatus(r.Context(), sid)
	if !writeErr(w, streamErr(err)) {
		writeJSON(w, http.StatusOK, map[string]any{"position": position, "completed": completed})
	}
}

// handleStreamCancel implements POST /{class}/{name}/stream/{sid}/cancel.
func (s *Server) handleStreamCancel(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	inst := s.registry.Get(idFromRequest(r))
	err := inst.CancelStream(r.Context(), sid)
	if !writeErr(w, streamErr(err)) {
		w.WriteHeader(http.StatusOK)
	}
}

// streamErr maps the stream package's not-found sentinel to the
// {error:"Stream not found"} 404 shape the external interface requires.
func streamErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, stream.ErrNotFound) {
		return agenterr.New(agenterr.NotFound, "Stream not found")
	}
	return err
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, context.Canceled) {
		writeErr(w, agenterr.Wrap(agenterr.InvalidRequest, err, "decode request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	status := http.StatusInternalServerError
	switch agenterr.KindOf(err) {
	case agenterr.NotFound:
		status = http.StatusNotFound
	case agenterr.InvalidRequest, agenterr.InvalidApproval:
		status = http.StatusBadRequest
	case agenterr.Conflict:
		status = http.StatusConflict
	case agenterr.ReadonlyViolation:
		status = http.StatusForbidden
	case agenterr.Timeout:
		status = http.StatusGatewayTimeout
	case agenterr.Overloaded:
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
	return true
}
