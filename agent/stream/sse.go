package stream

import (
	"fmt"
	"net/http"

	"github.com/agentkit/runtime/agent/storage"
)

// SetHeaders writes the standard SSE response headers for a chat/stream
// response, including the X-Stream-Id correlating header.
func SetHeaders(w http.ResponseWriter, streamID string, complete bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Stream-Id", streamID)
	if complete {
		w.Header().Set("X-Stream-Complete", "true")
	}
}

// WriteFrame writes one SSE data frame terminated by a blank line, and
// flushes it immediately. The caller must only call WriteFrame for a chunk
// once it is already durably persisted — partial, not-yet-durable data must
// never reach the wire.
func WriteFrame(w http.ResponseWriter, chunk storage.Chunk) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", chunk.Bytes); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
