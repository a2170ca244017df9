package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentkit/runtime/agent/ident"
	"github.com/agentkit/runtime/agent/storage"
)

// Store persists chat messages for a single agent instance atop a
// storage.Store, applying the upsert/merge rule set on every write.
type Store struct {
	backend storage.Store
}

// New constructs a chat Store over the given durable storage backend.
func New(backend storage.Store) *Store {
	return &Store{backend: backend}
}

// List returns every persisted message for the instance, in insertion
// order, decoded from their stored JSON payload.
func (s *Store) List(ctx context.Context, id ident.ID) ([]Message, error) {
	rows, err := s.backend.ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(rows))
	for _, row := range rows {
		var msg Message
		if err := json.Unmarshal(row.Payload, &msg); err != nil {
			return nil, fmt.Errorf("chat: decode message %s: %w", row.ID, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Persist applies the three-branch upsert/merge rule set to each incoming
// message, in order, stripping provider metadata before every write:
//
//  1. A stored message sharing Id with msg: upsert (overwrite the row).
//  2. Else, msg is role=assistant with exactly one output-available
//     tool-invocation part whose ToolCallID matches a tool part already
//     present in some stored assistant message: merge that part into the
//     stored message, leaving the stored message's Id unchanged.
//  3. Else: insert msg as a new message.
func (s *Store) Persist(ctx context.Context, id ident.ID, msgs []Message) error {
	for _, msg := range msgs {
		if err := s.persistOne(ctx, id, msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) persistOne(ctx context.Context, id ident.ID, msg Message) error {
	if _, ok, err := s.backend.GetMessage(ctx, id, msg.ID); err != nil {
		return err
	} else if ok {
		stripProviderMetadata(&msg)
		return s.write(ctx, id, msg)
	}

	if msg.Role == RoleAssistant {
		if toolCallID, ok := soleOutputToolCallID(msg); ok {
			if merged, stored, err := s.mergeIntoExisting(ctx, id, toolCallID, msg.Parts[0]); err != nil {
				return err
			} else if merged {
				return s.write(ctx, id, stored)
			}
		}
	}

	stripProviderMetadata(&msg)
	return s.write(ctx, id, msg)
}

// mergeIntoExisting scans every stored message for an assistant message
// containing a tool part with toolCallID and, if found, copies newPart into
// it (replacing the stale part), returning the updated message.
func (s *Store) mergeIntoExisting(ctx context.Context, id ident.ID, toolCallID string, newPart Part) (merged bool, updated Message, err error) {
	rows, err := s.backend.ListMessages(ctx, id)
	if err != nil {
		return false, Message{}, err
	}
	for _, row := range rows {
		var stored Message
		if err := json.Unmarshal(row.Payload, &stored); err != nil {
			return false, Message{}, fmt.Errorf("chat: decode message %s: %w", row.ID, err)
		}
		if stored.Role != RoleAssistant {
			continue
		}
		idx := toolPartByCallID(stored, toolCallID)
		if idx < 0 {
			continue
		}
		stored.Parts[idx] = newPart
		stripProviderMetadata(&stored)
		return true, stored, nil
	}
	return false, Message{}, nil
}

func (s *Store) write(ctx context.Context, id ident.ID, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("chat: encode message %s: %w", msg.ID, err)
	}
	return s.backend.UpsertMessage(ctx, id, storage.Message{ID: msg.ID, Payload: raw})
}

// ApplyToolResult implements cf_agent_tool_result handling: it finds the
// stored assistant message with a tool-invocation part whose ToolCallID
// matches, flips that part's State to output-available with the supplied
// output, and persists the merged message. It never creates a new message.
// ok is false if no matching tool part was found (ErrNotFound in that case).
func (s *Store) ApplyToolResult(ctx context.Context, id ident.ID, toolCallID, toolName string, output json.RawMessage) (Message, bool, error) {
	rows, err := s.backend.ListMessages(ctx, id)
	if err != nil {
		return Message{}, false, err
	}
	for _, row := range rows {
		var stored Message
		if err := json.Unmarshal(row.Payload, &stored); err != nil {
			return Message{}, false, fmt.Errorf("chat: decode message %s: %w", row.ID, err)
		}
		if stored.Role != RoleAssistant {
			continue
		}
		idx := toolPartByCallID(stored, toolCallID)
		if idx < 0 {
			continue
		}
		stored.Parts[idx].State = StateOutputAvailable
		stored.Parts[idx].Output = output
		if toolName != "" {
			stored.Parts[idx].ToolName = toolName
		}
		if err := s.write(ctx, id, stored); err != nil {
			return Message{}, false, err
		}
		return stored, true, nil
	}
	return Message{}, false, storage.ErrNotFound
}

// ClearHistory deletes every message and every stream for the instance, per
// the clearHistory() contract.
func (s *Store) ClearHistory(ctx context.Context, id ident.ID) error {
	if err := s.backend.ClearMessages(ctx, id); err != nil {
		return err
	}
	return s.backend.ClearStreams(ctx, id)
}
