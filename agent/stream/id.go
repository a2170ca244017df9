// Package stream implements resumable per-stream delta logs atop
// agent/storage: append-only chunk persistence, byte-exact prefix replay,
// and fan-out to concurrent readers while a stream is still live.
package stream

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID generates a fresh stream identifier in the
// runtime/toolregistry/streams.go naming convention
// (fmt.Sprintf("stream:%s:...")), generalized here to chat streams.
func NewID() string {
	return fmt.Sprintf("stream:%s:chat", uuid.NewString())
}
