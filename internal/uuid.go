package internal

import "github.com/google/uuid"

// NewUUID returns a time-ordered version 7 UUID for event and snapshot IDs,
// panicking if generation fails.
func NewUUID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
