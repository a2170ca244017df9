package instance

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/agentkit/runtime/agent/chat"
	"github.com/agentkit/runtime/agent/connreg"
	"github.com/agentkit/runtime/agent/eventlog"
	"github.com/agentkit/runtime/agent/storage"
	"github.com/agentkit/runtime/agent/stream"
)

// chatResponseChunkSize bounds how much assistant text is packed into a
// single cf_agent_use_chat_response frame. The Agent Loop only exposes
// atomic model completions (no token-level streaming is wired, per the
// model port's provider-agnostic Non-goal), so a chat turn's reply is
// chunked after the fact purely to exercise the resumable-stream framing
// the wire protocol expects.
const chatResponseChunkSize = 64

// runChatTurn implements cf_agent_use_chat_request: it appends the request's
// text as a user message, drives the tick loop to completion synchronously,
// and replays the resulting assistant text back over the same connection as
// one or more cf_agent_use_chat_response frames, recorded in a resumable
// stream keyed by the request id.
func (i *Instance) runChatTurn(ctx context.Context, c *connreg.Conn, payload connreg.UseChatRequestPayload) error {
	var init struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(payload.Init, &init)

	msg := chat.Message{
		ID:   "user-" + payload.ID,
		Role: chat.RoleUser,
		Parts: []chat.Part{{
			Type: chat.PartTypeText,
			Text: init.Text,
		}},
	}
	text, err := i.driveChatTurn(ctx, []chat.Message{msg})
	if err != nil {
		return err
	}
	return i.streamChatResponse(ctx, c, payload.ID, text)
}

// ChatHTTP implements POST /{class}/{name}/chat: persists messages, drives
// the tick loop to completion, and delivers the resulting assistant text as
// an SSE response recorded in a resumable stream keyed by streamID, so a
// disconnected client can GET /stream/{id} to recover it.
func (i *Instance) ChatHTTP(ctx context.Context, w http.ResponseWriter, messages []chat.Message, streamID string) error {
	text, err := i.driveChatTurn(ctx, messages)
	if err != nil {
		return err
	}
	return i.streamChatResponseSSE(ctx, w, streamID, text)
}

// driveChatTurn persists messages, ensures the run is active, and drives the
// tick loop synchronously to completion (or a pause), returning the text of
// the resulting assistant message.
func (i *Instance) driveChatTurn(ctx context.Context, messages []chat.Message) (string, error) {
	var outErr error
	i.submit(func(ctx context.Context) {
		if len(messages) > 0 {
			if err := i.chat.Persist(ctx, i.ID, messages); err != nil {
				outErr = err
				return
			}
		}
		if _, err := i.ensureRunning(ctx); err != nil {
			outErr = err
			return
		}
		i.driveTickLoop(ctx)
	})
	if outErr != nil {
		return "", outErr
	}
	return i.lastAssistantText(ctx)
}

// ReplayStream implements GET /{class}/{name}/stream/{sid}.
func (i *Instance) ReplayStream(ctx context.Context, streamID string) ([]storage.Chunk, bool, error) {
	return i.streams.Replay(ctx, i.ID, streamID)
}

// StreamStatus implements GET /{class}/{name}/stream/{sid}/status.
func (i *Instance) StreamStatus(ctx context.Context, streamID string) (position int, completed bool, err error) {
	return i.streams.Status(ctx, i.ID, streamID)
}

// CancelStream implements POST /{class}/{name}/stream/{sid}/cancel.
func (i *Instance) CancelStream(ctx context.Context, streamID string) error {
	return i.streams.Cancel(ctx, i.ID, streamID)
}

func (i *Instance) lastAssistantText(ctx context.Context) (string, error) {
	msgs, err := i.chat.List(ctx, i.ID)
	if err != nil {
		return "", err
	}
	for j := len(msgs) - 1; j >= 0; j-- {
		if msgs[j].Role != chat.RoleAssistant {
			continue
		}
		var text string
		for _, p := range msgs[j].Parts {
			if p.Type == chat.PartTypeText {
				text += p.Text
			}
		}
		return text, nil
	}
	return "", nil
}

// streamChatResponse records text as a resumable stream (so a disconnected
// client can GET /stream/{id} to recover it) and replays it to c as
// fixed-size cf_agent_use_chat_response frames terminated by one Done frame.
func (i *Instance) streamChatResponse(ctx context.Context, c *connreg.Conn, requestID, text string) error {
	if err := i.streams.Create(ctx, i.ID, requestID); err != nil {
		return err
	}

	for start := 0; start < len(text); start += chatResponseChunkSize {
		end := start + chatResponseChunkSize
		if end > len(text) {
			end = len(text)
		}
		piece := text[start:end]
		if err := i.streams.Append(ctx, i.ID, requestID, []byte(piece)); err != nil {
			return err
		}
		i.events.Append(ctx, eventlog.TypeModelDelta, i.ID.String(), mustJSON(map[string]any{"streamId": requestID, "bytes": len(piece)}))
		data, err := json.Marshal(piece)
		if err != nil {
			return err
		}
		frame, err := connreg.Encode(connreg.TypeUseChatResponse, connreg.UseChatResponsePayload{
			ID: requestID, Done: false, Data: json.RawMessage(data),
		})
		if err != nil {
			return err
		}
		c.Send(frame)
	}

	if err := i.streams.Complete(ctx, i.ID, requestID); err != nil {
		return err
	}
	frame, err := connreg.Encode(connreg.TypeUseChatResponse, connreg.UseChatResponsePayload{ID: requestID, Done: true})
	if err != nil {
		return err
	}
	c.Send(frame)
	return nil
}

// streamChatResponseSSE records text as a resumable stream and writes it to
// w as SSE frames, each written only once its chunk is durably persisted.
func (i *Instance) streamChatResponseSSE(ctx context.Context, w http.ResponseWriter, streamID, text string) error {
	if err := i.streams.Create(ctx, i.ID, streamID); err != nil {
		return err
	}
	stream.SetHeaders(w, streamID, false)

	for start := 0; start < len(text); start += chatResponseChunkSize {
		end := start + chatResponseChunkSize
		if end > len(text) {
			end = len(text)
		}
		piece := []byte(text[start:end])
		if err := i.streams.Append(ctx, i.ID, streamID, piece); err != nil {
			return err
		}
		i.events.Append(ctx, eventlog.TypeModelDelta, i.ID.String(), mustJSON(map[string]any{"streamId": streamID, "bytes": len(piece)}))
		if err := stream.WriteFrame(w, storage.Chunk{Bytes: piece}); err != nil {
			return err
		}
	}

	return i.streams.Complete(ctx, i.ID, streamID)
}
