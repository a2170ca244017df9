// Package loop implements the Agent Loop: the bounded-tick state machine
// that drives one Run per instance through pending-tool drain, middleware
// chains, model invocation, and checkpointing, with HITL pause/resume and
// sub-agent spawn/join. Grounded on the teacher's workflowLoop.run() state
// machine (runtime/agent/runtime/workflow_loop.go) and its childTracker
// (runtime/agent/runtime/child_tracker.go), collapsed from a durable
// workflow-engine execution model into a single-writer in-process tick.
package loop

import "encoding/json"

// Status is the Run's current lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCanceled  Status = "canceled"
)

// PauseReason distinguishes why a paused Run is waiting for external input.
type PauseReason string

const (
	PauseReasonHITL     PauseReason = "hitl"
	PauseReasonSubagent PauseReason = "subagent"
)

// ToolCall is a model-proposed or pending tool invocation, assigned a stable
// id (call_0..n) so it matches across pause/resume.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Waiter tracks one outstanding sub-agent spawn: the parent resumes only
// once every waiter has been cleared by a matching child result.
type Waiter struct {
	Token         string `json:"token"`
	ChildThreadID string `json:"childThreadId"`
	ToolCallID    string `json:"toolCallId"`
}

// Run is the per-instance run state persisted in storage.Persisted.Run.
type Run struct {
	Status           Status      `json:"status"`
	Step             int         `json:"step"`
	PauseReason      PauseReason `json:"pauseReason,omitempty"`
	PendingToolCalls []ToolCall  `json:"pendingToolCalls,omitempty"`
	Waiters          []Waiter    `json:"waiters,omitempty"`
	Error            string      `json:"error,omitempty"`
}

// NewRun constructs a fresh, running Run at step 0.
func NewRun() Run {
	return Run{Status: StatusRunning}
}

// DecodeRun decodes a Run from its persisted JSON form. A nil or empty raw
// value yields a fresh Run.
func DecodeRun(raw json.RawMessage) (Run, error) {
	if len(raw) == 0 {
		return NewRun(), nil
	}
	var r Run
	if err := json.Unmarshal(raw, &r); err != nil {
		return Run{}, err
	}
	return r, nil
}

// Encode marshals the Run for persistence.
func (r Run) Encode() (json.RawMessage, error) {
	return json.Marshal(r)
}

// waiterIndex returns the index of the waiter with the given token, or -1.
func (r Run) waiterIndex(token string) int {
	for i, w := range r.Waiters {
		if w.Token == token {
			return i
		}
	}
	return -1
}
