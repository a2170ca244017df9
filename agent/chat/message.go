// Package chat implements message persistence: upsert-by-id semantics with
// the tool-part merge rule that prevents a client-supplied tool result from
// creating a duplicate assistant message, plus provider-metadata stripping
// on persist. Grounded on runtime/agent/run/run.go's Status/Phase
// vocabulary for the surrounding run lifecycle, and on the transcript-
// shaping pattern in the teacher's workflow_transcript.go (transform at the
// persistence boundary, not the wire boundary) for metadata stripping.
package chat

import "encoding/json"

// Message is the wire/durable shape of a single chat message: an ordered
// list of typed parts, mirroring the AI-SDK-style UIMessage envelope the
// wire protocol exchanges.
type Message struct {
	ID               string         `json:"id"`
	Role             string         `json:"role"`
	Parts            []Part         `json:"parts"`
	ProviderMetadata map[string]any `json:"providerMetadata,omitempty"`
}

// Part is one content block of a Message. Only tool-invocation parts carry
// ToolCallID/State/Output; text parts only carry Text.
type Part struct {
	Type                 string         `json:"type"`
	Text                 string         `json:"text,omitempty"`
	ToolCallID           string         `json:"toolCallId,omitempty"`
	ToolName             string         `json:"toolName,omitempty"`
	State                string         `json:"state,omitempty"`
	Input                json.RawMessage `json:"input,omitempty"`
	Output               json.RawMessage `json:"output,omitempty"`
	CallProviderMetadata map[string]any `json:"callProviderMetadata,omitempty"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"

	PartTypeText           = "text"
	PartTypeToolInvocation = "tool-invocation"

	StateInputAvailable  = "input-available"
	StateOutputAvailable = "output-available"
)

// providerItemIDKeys are the provider-specific identifiers stripped from
// metadata before persist; re-sending them to a provider on replay triggers
// "duplicate item" errors because the id is derivable only from a live
// response.
var providerItemIDKeys = []string{"itemId"}

// stripProviderMetadata removes provider item identifiers from a message's
// top-level ProviderMetadata and from every part's CallProviderMetadata,
// preserving all other entries. The message is mutated in place.
func stripProviderMetadata(msg *Message) {
	stripKeys(msg.ProviderMetadata)
	for i := range msg.Parts {
		stripKeys(msg.Parts[i].CallProviderMetadata)
	}
}

func stripKeys(m map[string]any) {
	for _, k := range providerItemIDKeys {
		delete(m, k)
	}
}

// toolPartByCallID returns the index of the part in msg.Parts with the given
// ToolCallID and type tool-invocation, or -1 if none.
func toolPartByCallID(msg Message, toolCallID string) int {
	for i, p := range msg.Parts {
		if p.Type == PartTypeToolInvocation && p.ToolCallID == toolCallID {
			return i
		}
	}
	return -1
}

// soleOutputToolCallID returns the ToolCallID of msg's single tool part when
// msg has exactly one part, that part is a tool-invocation in
// output-available state, and ok is true; otherwise ok is false.
func soleOutputToolCallID(msg Message) (toolCallID string, ok bool) {
	if len(msg.Parts) != 1 {
		return "", false
	}
	p := msg.Parts[0]
	if p.Type != PartTypeToolInvocation || p.State != StateOutputAvailable {
		return "", false
	}
	return p.ToolCallID, true
}
