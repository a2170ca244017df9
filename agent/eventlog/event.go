// Package eventlog implements the per-instance bounded event ring and its
// synchronous fan-out to protocol-enabled connections. Grounded on the
// teacher's hooks.Event/baseEvent shape (agents/runtime/hooks/events.go) and
// hooks.Bus's synchronous fan-out (runtime/agent/hooks/bus.go), adapted so
// the log retains a bounded history in addition to distributing live.
package eventlog

import "encoding/json"

// Type enumerates the event taxonomy broadcast and retained per instance.
type Type string

const (
	TypeRunStarted        Type = "run.started"
	TypeRunTick           Type = "run.tick"
	TypeRunPaused         Type = "run.paused"
	TypeRunResumed        Type = "run.resumed"
	TypeRunCanceled       Type = "run.canceled"
	TypeAgentCompleted    Type = "agent.completed"
	TypeAgentError        Type = "agent.error"
	TypeCheckpointSaved   Type = "checkpoint.saved"
	TypeModelStarted      Type = "model.started"
	TypeModelDelta        Type = "model.delta"
	TypeModelCompleted    Type = "model.completed"
	TypeToolStarted       Type = "tool.started"
	TypeToolOutput        Type = "tool.output"
	TypeToolError         Type = "tool.error"
	TypeHITLInterrupt     Type = "hitl.interrupt"
	TypeHITLResume        Type = "hitl.resume"
	TypeSubagentSpawned   Type = "subagent.spawned"
	TypeSubagentCompleted Type = "subagent.completed"
)

// Event is one entry in an instance's event log. Seq is assigned by the Log
// on append and is monotonically increasing within an instance's lifetime.
type Event struct {
	Seq       uint64          `json:"seq"`
	Type      Type            `json:"type"`
	Timestamp int64           `json:"timestamp"`
	ThreadID  string          `json:"threadId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}
