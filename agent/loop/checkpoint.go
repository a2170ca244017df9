package loop

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/agentkit/runtime/agent/eventlog"
	"github.com/agentkit/runtime/agent/ident"
	"github.com/agentkit/runtime/agent/storage"
)

// checkpoint encodes run into persisted.Run, computes a SHA-256 digest of
// the serialized state and run for observability, persists the record, and emits
// checkpoint.saved. Every tick path ends by calling this exactly once.
func (l *Loop) checkpoint(ctx context.Context, id ident.ID, persisted *storage.Persisted, run Run) error {
	encodedRun, err := run.Encode()
	if err != nil {
		return err
	}
	persisted.Run = encodedRun
	persisted.EventsSeq = l.events.Seq()

	sum := sha256.Sum256(append(append([]byte{}, persisted.State...), encodedRun...))
	digest := hex.EncodeToString(sum[:])

	if err := l.backend.SavePersist(ctx, id, *persisted); err != nil {
		return err
	}
	l.events.Append(ctx, eventlog.TypeCheckpointSaved, id.String(), mustJSON(map[string]any{
		"step":   run.Step,
		"digest": digest,
		"status": run.Status,
	}))
	return nil
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
