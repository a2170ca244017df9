package instance

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/agentkit/runtime/agent/chat"
	"github.com/agentkit/runtime/agent/connreg"
)

// Connect implements the WebSocket upgrade route: it builds the fixed-order
// identity/state/mcp_servers initial frames (sent before any inbound message
// is dispatched, unless noProtocol is set) and wires inbound dispatch to
// handleEnvelope.
func (i *Instance) Connect(ctx context.Context, w http.ResponseWriter, r *http.Request) (*connreg.Conn, error) {
	identityFrame, err := connreg.Encode(connreg.TypeIdentity, connreg.IdentityPayload{Class: i.ID.Class, Name: i.ID.Name})
	if err != nil {
		return nil, err
	}
	state, err := i.State(ctx)
	if err != nil {
		return nil, err
	}
	stateFrame, err := connreg.Encode(connreg.TypeState, connreg.StatePayload{State: state})
	if err != nil {
		return nil, err
	}
	mcpFrame, err := connreg.Encode(connreg.TypeMCPServers, connreg.MCPServersPayload{})
	if err != nil {
		return nil, err
	}

	return i.conns.Upgrade(ctx, w, r, i.ID, i.handleEnvelope, [][]byte{identityFrame, stateFrame, mcpFrame})
}

// handleEnvelope dispatches one inbound protocol frame. It runs outside the
// actor (called directly from the registry's readPump goroutine) and
// delegates to submit-guarded Instance methods for anything that touches
// persisted state, so concurrent connections on the same instance never race.
func (i *Instance) handleEnvelope(ctx context.Context, c *connreg.Conn, env connreg.Envelope) error {
	switch env.Type {
	case connreg.TypeState:
		if c.RejectIfReadonly() {
			return nil
		}
		var payload connreg.StatePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil
		}
		return i.UpdateState(ctx, payload.State)

	case connreg.TypeChatMessages:
		var payload connreg.ChatMessagesPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil
		}
		var msgs []chat.Message
		if err := json.Unmarshal(payload.Messages, &msgs); err != nil {
			return nil
		}
		if !payload.Extend {
			if err := i.ClearHistory(ctx); err != nil {
				return err
			}
		}
		var outErr error
		i.submit(func(ctx context.Context) {
			outErr = i.chat.Persist(ctx, i.ID, msgs)
		})
		return outErr

	case connreg.TypeToolResult:
		var payload connreg.ToolResultPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil
		}
		var updated chat.Message
		var outErr error
		i.submit(func(ctx context.Context) {
			updated, _, outErr = i.chat.ApplyToolResult(ctx, i.ID, payload.ToolCallID, payload.ToolName, payload.Output)
		})
		if outErr != nil {
			return outErr
		}
		raw, err := json.Marshal(updated)
		if err != nil {
			return err
		}
		frame, err := connreg.Encode(connreg.TypeMessageUpdated, connreg.MessageUpdatedPayload{Message: raw})
		if err != nil {
			return err
		}
		i.conns.Broadcast(i.ID, frame)
		i.submitAsync(func(ctx context.Context) { i.driveTickLoop(ctx) })
		return nil

	case connreg.TypeUseChatRequest:
		var payload connreg.UseChatRequestPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil
		}
		return i.runChatTurn(ctx, c, payload)

	case connreg.TypeRPC:
		var payload connreg.RPCRequestPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil
		}
		reply := connreg.RPCReplyPayload{ID: payload.ID, Success: false, Error: "unknown method " + payload.Method}
		frame, err := connreg.Encode(connreg.TypeRPC, reply)
		if err != nil {
			return err
		}
		c.Send(frame)
		return nil

	default:
		return nil
	}
}
