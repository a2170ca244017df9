// Package connreg implements the WebSocket connection registry: upgrading
// connections, persisting their capability attachment before the handshake
// completes, and framing the wire protocol's typed JSON messages. Grounded
// on arkeep-io-arkeep's internal/websocket Client (readPump/writePump over
// gorilla/websocket, ping/pong keepalive) generalized from a server-push-only
// notification hub into a bidirectional protocol connection.
package connreg

import "encoding/json"

// MessageType tags every frame on the wire protocol.
type MessageType string

const (
	TypeIdentity        MessageType = "cf_agent_identity"
	TypeState           MessageType = "cf_agent_state"
	TypeStateError      MessageType = "cf_agent_state_error"
	TypeMCPServers      MessageType = "cf_agent_mcp_servers"
	TypeChatMessages    MessageType = "cf_agent_chat_messages"
	TypeMessageUpdated  MessageType = "cf_agent_message_updated"
	TypeUseChatRequest  MessageType = "cf_agent_use_chat_request"
	TypeUseChatResponse MessageType = "cf_agent_use_chat_response"
	TypeToolResult      MessageType = "cf_agent_tool_result"
	TypeRPC             MessageType = "rpc"
)

// Envelope is the outer shape of every protocol frame: a type tag plus a
// type-specific payload, decoded in two passes (tag first, then payload).
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IdentityPayload is sent once, immediately after connect, before state or
// mcp_servers.
type IdentityPayload struct {
	Class string `json:"class"`
	Name  string `json:"name"`
}

// StatePayload carries the instance's current durable state blob.
type StatePayload struct {
	State json.RawMessage `json:"state"`
}

// StateErrorPayload is sent when a readonly connection attempts to update
// state.
type StateErrorPayload struct {
	Error string `json:"error"`
}

// MCPServersPayload lists known external tool servers.
type MCPServersPayload struct {
	Servers []MCPServer `json:"servers"`
}

// MCPServer describes one external tool server known to the instance.
type MCPServer struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ChatMessagesPayload is sent client→server to replace or extend the
// persisted message list.
type ChatMessagesPayload struct {
	Messages json.RawMessage `json:"messages"`
	Extend   bool            `json:"extend"`
}

// MessageUpdatedPayload announces that a previously sent message (usually an
// assistant message with a tool part) was updated in place.
type MessageUpdatedPayload struct {
	Message json.RawMessage `json:"message"`
}

// UseChatRequestPayload starts or continues a chat turn.
type UseChatRequestPayload struct {
	ID   string          `json:"id"`
	Init json.RawMessage `json:"init"`
}

// UseChatResponsePayload streams the reply to a chat turn.
type UseChatResponsePayload struct {
	ID   string          `json:"id"`
	Done bool            `json:"done"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ToolResultPayload supplies a client-executed tool's output, to be merged
// into the existing assistant message rather than appended as a new one.
type ToolResultPayload struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Output     json.RawMessage `json:"output"`
}

// RPCRequestPayload is a generic method call.
type RPCRequestPayload struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// RPCReplyPayload is the reply to an RPCRequestPayload.
type RPCReplyPayload struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Encode wraps a typed payload in an Envelope and marshals it.
func Encode(typ MessageType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Payload: raw})
}
