package chat

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/agentkit/runtime/agent/ident"
	"github.com/agentkit/runtime/agent/storage"
)

// TestPersistIsIdempotentProperty verifies upsert idempotence: persisting a
// message list twice in a row results in the same stored set.
func TestPersistIsIdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("persisting twice yields the same stored messages", prop.ForAll(
		func(msgs []Message) bool {
			ctx := context.Background()
			id := ident.New("worker", "w1")
			store := New(storage.NewMemoryStore())

			if err := store.Persist(ctx, id, msgs); err != nil {
				return false
			}
			first, err := store.List(ctx, id)
			if err != nil {
				return false
			}

			if err := store.Persist(ctx, id, msgs); err != nil {
				return false
			}
			second, err := store.List(ctx, id)
			if err != nil {
				return false
			}

			return sameMessages(first, second)
		},
		genUserMessages(),
	))

	properties.TestingRun(t)
}

// TestToolCallUniquenessProperty verifies that after any sequence of
// persists, no two assistant messages share a tool part with the same
// toolCallId.
func TestToolCallUniquenessProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("no two assistant messages share a toolCallId", prop.ForAll(
		func(batches [][]Message) bool {
			ctx := context.Background()
			id := ident.New("worker", "w1")
			store := New(storage.NewMemoryStore())

			for _, batch := range batches {
				if err := store.Persist(ctx, id, batch); err != nil {
					return false
				}
			}

			msgs, err := store.List(ctx, id)
			if err != nil {
				return false
			}

			seen := map[string]bool{}
			for _, m := range msgs {
				if m.Role != RoleAssistant {
					continue
				}
				for _, p := range m.Parts {
					if p.Type != PartTypeToolInvocation || p.ToolCallID == "" {
						continue
					}
					if seen[p.ToolCallID] {
						return false
					}
					seen[p.ToolCallID] = true
				}
			}
			return true
		},
		genToolCallBatches(),
	))

	properties.TestingRun(t)
}

// TestMetadataStrippingProperty verifies that persisting a message with a
// provider item id in its metadata yields that id stripped on read, with all
// sibling metadata entries intact.
func TestMetadataStrippingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("provider item id is stripped, sibling metadata survives", prop.ForAll(
		func(sibling string) bool {
			ctx := context.Background()
			id := ident.New("worker", "w1")
			store := New(storage.NewMemoryStore())

			msg := Message{
				ID:   "m1",
				Role: RoleAssistant,
				Parts: []Part{{
					Type:                 PartTypeText,
					Text:                 "hi",
					CallProviderMetadata: map[string]any{"itemId": "abc", "keep": sibling},
				}},
			}
			if err := store.Persist(ctx, id, []Message{msg}); err != nil {
				return false
			}
			out, err := store.List(ctx, id)
			if err != nil || len(out) != 1 {
				return false
			}
			meta := out[0].Parts[0].CallProviderMetadata
			if _, present := meta["itemId"]; present {
				return false
			}
			return meta["keep"] == sibling
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func sameMessages(a, b []Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ja, _ := json.Marshal(a[i])
		jb, _ := json.Marshal(b[i])
		if string(ja) != string(jb) {
			return false
		}
	}
	return true
}

func genUserMessages() gopter.Gen {
	return gen.SliceOfN(5, genUserMessage())
}

func genUserMessage() gopter.Gen {
	return gopter.CombineGens(
		gen.Identifier(),
		gen.AlphaString(),
	).Map(func(vals []any) Message {
		return Message{
			ID:   vals[0].(string),
			Role: RoleUser,
			Parts: []Part{{
				Type: PartTypeText,
				Text: vals[1].(string),
			}},
		}
	})
}

// genToolCallBatches produces a sequence of persist batches, each containing
// one assistant message with a single output-available tool part, so the
// merge-vs-insert branch in Persist gets exercised across many shapes.
func genToolCallBatches() gopter.Gen {
	return gen.SliceOfN(4, genToolCallID()).Map(func(ids []string) [][]Message {
		var batches [][]Message
		for _, tc := range ids {
			batches = append(batches, []Message{{
				ID:   "a" + tc,
				Role: RoleAssistant,
				Parts: []Part{{
					Type:       PartTypeToolInvocation,
					ToolCallID: tc,
					State:      StateOutputAvailable,
					Output:     json.RawMessage(`{"ok":true}`),
				}},
			}})
		}
		return batches
	})
}

func genToolCallID() gopter.Gen {
	return gen.Identifier().SuchThat(func(s string) bool { return s != "" })
}
