// grouping.go generates stable hashes for grouping similar events in sinks.

package aisen

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// groupingFrames is the number of innermost frames that take part in the
// grouping hash.
const groupingFrames = 3

// GroupingHash returns a short stable key for displaying and indexing
// similar events. It is based on:
//   - the caller fingerprint, when present (and nothing else)
//   - otherwise exception type, mechanism type and the innermost 3 frame
//     functions; the message is used only for events without an exception
//
// Event IDs, timestamps, line numbers and exception values are ignored.
// GroupingHash plays no part in deduplication.
func GroupingHash(event Event) string {
	var parts []string
	if len(event.Fingerprint) > 0 {
		parts = append(parts, "fp")
		parts = append(parts, event.Fingerprint...)
	} else if ex := event.PrimaryException(); ex != nil {
		parts = append(parts, ex.Type)
		if ex.Mechanism != nil {
			parts = append(parts, ex.Mechanism.Type)
		}
	} else {
		parts = append(parts, event.Message)
	}

	if len(event.Fingerprint) == 0 {
		frames, _ := event.Frames()
		for i := len(frames) - 1; i >= 0 && len(frames)-i <= groupingFrames; i-- {
			parts = append(parts, frames[i].Function)
		}
	}

	input := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(input))

	// Return hex-encoded first 16 bytes (32 hex chars)
	return hex.EncodeToString(hash[:16])
}
