package switchboard

import "github.com/google/uuid"

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
// The binaries use it for session identifiers so per-session logs and
// spans sort chronologically.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
