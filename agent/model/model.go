// Package model defines the provider-agnostic message and invocation types
// consumed by the Agent Loop. It models messages as typed parts (text,
// thinking, tool use/results) rather than flattened strings, and exposes a
// narrow Client port; concrete provider adapters are deliberately out of
// scope and left to the embedding application. Grounded on the teacher's
// agent/model package, trimmed to the parts the loop actually exercises.
package model

import (
	"context"
	"encoding/json"
	"errors"
)

// ConversationRole identifies the speaker for a Message.
type ConversationRole string

const (
	ConversationRoleSystem    ConversationRole = "system"
	ConversationRoleUser      ConversationRole = "user"
	ConversationRoleAssistant ConversationRole = "assistant"
)

type (
	// Part is implemented by every message content block.
	Part interface {
		isPart()
	}

	// TextPart is plain assistant- or user-visible text.
	TextPart struct {
		Text string
	}

	// ThinkingPart carries provider-issued reasoning content, treated as
	// opaque metadata by everything except UI policy.
	ThinkingPart struct {
		Text      string
		Signature string
		Index     int
		Final     bool
	}

	// ToolUsePart declares a tool invocation requested by the assistant.
	ToolUsePart struct {
		ID    string
		Name  string
		Input json.RawMessage
	}

	// ToolResultPart carries a tool result attached to a user message so the
	// model can read it on the next turn.
	ToolResultPart struct {
		ToolUseID string
		Content   json.RawMessage
		IsError   bool
	}

	// Message is a single ordered chat message.
	Message struct {
		Role  ConversationRole
		Parts []Part
		Meta  map[string]any
	}

	// ToolDefinition describes a tool exposed to the model for a request.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema json.RawMessage
	}

	// ToolCall is a tool invocation requested by the model in a Response.
	ToolCall struct {
		ID      string
		Name    string
		Payload json.RawMessage
	}

	// TokenUsage reports token consumption for a model call.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// Request captures the inputs to a single model invocation.
	Request struct {
		RunID       string
		Model       string
		Messages    []*Message
		Temperature float32
		Tools       []*ToolDefinition
		MaxTokens   int
		Stream      bool
	}

	// Response is the result of a non-streaming invocation.
	Response struct {
		Content    []Message
		ToolCalls  []ToolCall
		Usage      TokenUsage
		StopReason string
	}

	// Chunk is one streaming event from the model.
	Chunk struct {
		Type       string
		Message    *Message
		ToolCall   *ToolCall
		UsageDelta *TokenUsage
		StopReason string
	}

	// Client is the provider-agnostic model port. Embedding applications
	// supply a concrete implementation; this module wires none.
	Client interface {
		Complete(ctx context.Context, req *Request) (*Response, error)
		Stream(ctx context.Context, req *Request) (Streamer, error)
	}

	// Streamer delivers incremental model output. Callers drain Recv until
	// it returns io.EOF or another terminal error, then call Close.
	Streamer interface {
		Recv() (Chunk, error)
		Close() error
	}
)

const (
	ChunkTypeText     = "text"
	ChunkTypeToolCall = "tool_call"
	ChunkTypeThinking = "thinking"
	ChunkTypeUsage    = "usage"
	ChunkTypeStop     = "stop"
)

// ErrStreamingUnsupported indicates the configured Client does not support
// streaming invocations.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

func (TextPart) isPart()       {}
func (ThinkingPart) isPart()   {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}
